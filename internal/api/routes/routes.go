package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/internal/api/handlers"
	"github.com/yoockh/voicelab/internal/api/middleware"
	"github.com/yoockh/voicelab/internal/metrics"
)

type Deps struct {
	Transcription *handlers.TranscriptionHandler
	WS            *handlers.WSHandler
	TTS           *handlers.TTSHandler
	VoiceRecords  *handlers.VoiceRecordHandler
	System        *handlers.SystemHandler
	Assessment    *handlers.AssessmentHandler

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// NewRouter builds the engine with recovery, request logging and metrics
// middleware and every route registered.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if d.Logger != nil {
		r.Use(middleware.RequestLogger(d.Logger))
	}
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
	}
	RegisterRoutes(r, d)
	return r
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	tr := r.Group("/transcription")
	tr.POST("/transcribe", d.Transcription.Transcribe)
	tr.POST("/transcribe-stream", d.Transcription.TranscribeStream)
	tr.GET("/ws", d.WS.TranscribeWS)

	r.POST("/tts/generate-voice", d.TTS.GenerateVoice)

	vr := r.Group("/voice-records")
	vr.GET("/all", d.VoiceRecords.List)
	vr.GET("/:id", d.VoiceRecords.Get)

	r.GET("/system/resources", d.System.Resources)

	va := r.Group("/voice-assignment")
	va.POST("/analysis", d.Assessment.Analysis)
	va.POST("/", d.Assessment.Upload)
}
