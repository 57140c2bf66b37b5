package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/voicelab/internal/services"
	"github.com/yoockh/voicelab/internal/utils"
)

type TTSHandler struct {
	svc services.SynthesisService
}

func NewTTSHandler(svc services.SynthesisService) *TTSHandler {
	return &TTSHandler{svc: svc}
}

// GenerateVoice takes form fields prompt, description, tags and
// original_record_id and answers with the generated WAV as an attachment.
func (h *TTSHandler) GenerateVoice(c *gin.Context) {
	const op = "TTSHandler.GenerateVoice"

	in := services.SynthesisInput{
		Prompt:      c.PostForm("prompt"),
		Description: c.PostForm("description"),
		Tags:        c.PostForm("tags"),
	}
	if raw := strings.TrimSpace(c.PostForm("original_record_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "original_record_id must be a positive integer", err))
			return
		}
		parent := uint(id)
		in.ParentID = &parent
	}

	out, err := h.svc.Generate(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}

	recordIDHeader(c, out.RecordID)
	c.Header("Content-Type", "audio/wav")
	c.FileAttachment(out.Path, out.Filename)
}
