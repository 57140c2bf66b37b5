package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/voicelab/internal/services"
)

type SystemHandler struct {
	svc services.SystemService
}

func NewSystemHandler(svc services.SystemService) *SystemHandler {
	return &SystemHandler{svc: svc}
}

func (h *SystemHandler) Resources(c *gin.Context) {
	res, err := h.svc.Resources(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
