package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/config"
	"github.com/yoockh/voicelab/internal/api/handlers"
	"github.com/yoockh/voicelab/internal/api/routes"
	"github.com/yoockh/voicelab/internal/cache"
	"github.com/yoockh/voicelab/internal/logger"
	"github.com/yoockh/voicelab/internal/metrics"
	"github.com/yoockh/voicelab/internal/providers/assessment"
	"github.com/yoockh/voicelab/internal/providers/stt"
	"github.com/yoockh/voicelab/internal/providers/tts"
	"github.com/yoockh/voicelab/internal/repositories/sqldb"
	"github.com/yoockh/voicelab/internal/services"
	"github.com/yoockh/voicelab/internal/storage"
	"github.com/yoockh/voicelab/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}

	log := logger.New(cfg.Log)
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Record store
	db, err := config.OpenDatabase(cfg)
	if err != nil {
		log.Fatalf("database init error: %v", err)
	}
	if err := config.EnsureSchema(db); err != nil {
		log.Fatalf("database schema error: %v", err)
	}
	log.WithField("driver", cfg.DBDriver).Info("database ready")
	records := sqldb.NewVoiceRecordRepo(db)

	// Redis is optional; without it the probe cache stays in process.
	rdb, err := config.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
		log.Info("redis connected")
	}

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	transcriber, err := newTranscriber(ctx, cfg)
	if err != nil {
		log.Fatalf("speech-to-text init error: %v", err)
	}
	if c, ok := transcriber.(io.Closer); ok {
		closers = append(closers, c)
	}
	synthesizer := newSynthesizer(cfg)

	var uploader storage.Uploader
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSUploader(ctx, cfg.GCSBucket, cfg.GoogleCredentialsFile)
		if err != nil {
			log.Fatalf("gcs init error: %v", err)
		}
		closers = append(closers, gcs)
		uploader = gcs
	}

	m := metrics.New()

	pool := &workers.InferencePool{
		NumWorkers: cfg.InferenceWorkers,
		Timeout:    cfg.InferenceTimeout,
		Logger:     log,
		Metrics:    m,
	}
	// Workers outlive the signal context so in-flight requests can drain.
	if err := pool.Start(context.Background()); err != nil {
		log.Fatalf("inference pool error: %v", err)
	}
	defer pool.Stop()

	sweeper := &workers.StaleSweeper{
		Records:  records,
		Schedule: cfg.SweepSchedule,
		After:    cfg.StaleRecordAfter,
		Logger:   log,
		Metrics:  m,
	}
	if err := sweeper.Start(); err != nil {
		log.Fatalf("stale sweeper error: %v", err)
	}
	defer sweeper.Stop()

	transcription := services.NewTranscriptionService(records, transcriber, pool, services.TranscriptionConfig{
		OutputDir:     cfg.TranscriptionDir,
		Language:      cfg.TranscriptionLanguage,
		FragmentDelay: cfg.StreamFragmentDelay,
	}, log, m)
	synthesis := services.NewSynthesisService(records, synthesizer, pool, uploader, services.SynthesisConfig{
		OutputDir:  cfg.VoiceOutputDir,
		SpeakerWav: cfg.SpeakerWav,
		Language:   cfg.TTSLanguage,
	}, log, m)
	system := services.NewSystemService(services.GopsutilProbe{}, cache.New(rdb), services.SystemConfig{
		TTL: cfg.SystemProbeTTL,
	}, log)
	assessor := assessment.NewAzure(cfg.AzureSpeechKey, cfg.AzureSpeechRegion, cfg.TranscriptionLanguage, 2*time.Minute)

	router := routes.NewRouter(routes.Deps{
		Transcription: handlers.NewTranscriptionHandler(transcription, log),
		WS:            handlers.NewWSHandler(transcription, log),
		TTS:           handlers.NewTTSHandler(synthesis),
		VoiceRecords:  handlers.NewVoiceRecordHandler(services.NewVoiceRecordService(records)),
		System:        handlers.NewSystemHandler(system),
		Assessment:    handlers.NewAssessmentHandler(services.NewAssessmentService(assessor, cfg.AssessmentBaseDir, log)),
		Logger:        log,
		Metrics:       m,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

func newTranscriber(ctx context.Context, cfg *config.Config) (stt.Transcriber, error) {
	switch cfg.STTBackend {
	case config.BackendGoogle:
		return stt.NewGoogleSpeech(ctx, cfg.GoogleCredentialsFile, cfg.TranscriptionLanguage)
	default:
		return stt.NewOpenAIWhisper(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.TranscriptionLanguage), nil
	}
}

func newSynthesizer(cfg *config.Config) tts.Synthesizer {
	switch cfg.TTSBackend {
	case config.BackendOpenAI:
		return tts.NewOpenAISpeech(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	default:
		return tts.NewXTTS(cfg.XTTSURL, cfg.TTSLanguage, 5*time.Minute)
	}
}
