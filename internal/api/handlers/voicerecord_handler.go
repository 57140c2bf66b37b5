package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/voicelab/internal/services"
	"github.com/yoockh/voicelab/internal/utils"
)

type VoiceRecordHandler struct {
	svc services.VoiceRecordService
}

func NewVoiceRecordHandler(svc services.VoiceRecordService) *VoiceRecordHandler {
	return &VoiceRecordHandler{svc: svc}
}

// List supports optional ?status= and ?tag= filters.
func (h *VoiceRecordHandler) List(c *gin.Context) {
	recs, err := h.svc.List(c.Request.Context(), c.Query("status"), c.Query("tag"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *VoiceRecordHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "VoiceRecordHandler.Get", "id must be an integer", err))
		return
	}

	rec, err := h.svc.Get(c.Request.Context(), uint(id))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
