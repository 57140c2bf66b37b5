package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/voicelab/internal/utils"
)

// maxAudioBytes bounds a single uploaded audio file.
const maxAudioBytes = 100 << 20

type APIError struct {
	Code   utils.Code `json:"code"`
	Detail string     `json:"detail"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	_ = c.Error(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:   ae.Code,
			Detail: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:   utils.CodeInternal,
		Detail: http.StatusText(status),
	})
}

// readUpload returns the bytes and client filename of a multipart file field.
func readUpload(c *gin.Context, op, field string) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, "", utils.E(utils.CodeInvalidArgument, op, "missing "+field+" upload", err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", utils.E(utils.CodeInvalidArgument, op, "unreadable "+field+" upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxAudioBytes+1))
	if err != nil {
		return nil, "", utils.E(utils.CodeInvalidArgument, op, "unreadable "+field+" upload", err)
	}
	if len(data) > maxAudioBytes {
		return nil, "", utils.E(utils.CodeInvalidArgument, op, field+" upload is too large", nil)
	}
	return data, fh.Filename, nil
}

// formBool accepts the usual true/false spellings; empty means false.
func formBool(op, name, raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, utils.E(utils.CodeInvalidArgument, op, name+" must be a boolean", err)
	}
	return v, nil
}

func recordIDHeader(c *gin.Context, id uint) {
	c.Header("X-Record-Id", strconv.FormatUint(uint64(id), 10))
}
