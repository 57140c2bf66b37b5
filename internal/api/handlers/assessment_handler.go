package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/voicelab/internal/models"
	"github.com/yoockh/voicelab/internal/services"
	"github.com/yoockh/voicelab/internal/utils"
)

type AssessmentHandler struct {
	svc services.AssessmentService
}

func NewAssessmentHandler(svc services.AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{svc: svc}
}

// Analysis scores a WAV file already stored under the assessment base dir.
func (h *AssessmentHandler) Analysis(c *gin.Context) {
	var req models.AssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AssessmentHandler.Analysis", "invalid request body", err))
		return
	}

	res, err := h.svc.Analyze(c.Request.Context(), req.ReferencePath, req.ReferenceText)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Upload scores a WAV sent as multipart field "file".
func (h *AssessmentHandler) Upload(c *gin.Context) {
	const op = "AssessmentHandler.Upload"

	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing file upload", err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unreadable file upload", err))
		return
	}
	defer f.Close()

	res, err := h.svc.AnalyzeUpload(c.Request.Context(), fh.Filename, f, c.PostForm("reference_text"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
