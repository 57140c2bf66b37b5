package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/internal/audio"
	"github.com/yoockh/voicelab/internal/metrics"
	"github.com/yoockh/voicelab/internal/models"
	"github.com/yoockh/voicelab/internal/providers/tts"
	"github.com/yoockh/voicelab/internal/repositories/sqldb"
	"github.com/yoockh/voicelab/internal/storage"
	"github.com/yoockh/voicelab/internal/utils"
	"github.com/yoockh/voicelab/internal/workers"
)

const (
	voicePrefix = "tts"
	voiceExt    = ".wav"
	voiceType   = "audio/wav"

	kindSynthesis = "synthesis"
)

type SynthesisConfig struct {
	OutputDir  string
	SpeakerWav string
	Language   string
	// ArchivePrefix is the object prefix used when an uploader is set.
	ArchivePrefix string
}

type SynthesisInput struct {
	Prompt      string
	Description string
	Tags        string
	ParentID    *uint
}

type SynthesisOutput struct {
	RecordID uint
	Filename string
	Path     string
	Size     int64
	Duration float64
}

type SynthesisService interface {
	Generate(ctx context.Context, in SynthesisInput) (*SynthesisOutput, error)
}

type synthesisService struct {
	records  sqldb.VoiceRecordRepository
	synth    tts.Synthesizer
	pool     *workers.InferencePool
	uploader storage.Uploader
	cfg      SynthesisConfig
	log      *logrus.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewSynthesisService wires the synthesis flow. uploader may be nil.
func NewSynthesisService(
	records sqldb.VoiceRecordRepository,
	synth tts.Synthesizer,
	pool *workers.InferencePool,
	uploader storage.Uploader,
	cfg SynthesisConfig,
	log *logrus.Logger,
	m *metrics.Metrics,
) SynthesisService {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "outVoiceFile"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "voices"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &synthesisService{
		records:  records,
		synth:    synth,
		pool:     pool,
		uploader: uploader,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

func (s *synthesisService) Generate(ctx context.Context, in SynthesisInput) (*SynthesisOutput, error) {
	const op = "SynthesisService.Generate"

	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "prompt is required", nil)
	}
	if in.ParentID != nil {
		if _, err := s.records.GetByID(ctx, *in.ParentID); err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return nil, utils.E(utils.CodeInvalidArgument, op,
					fmt.Sprintf("original_record_id %d does not exist", *in.ParentID), err)
			}
			return nil, storeError(op, err)
		}
	}

	now := s.now()
	art, err := newArtifact(s.cfg.OutputDir, voicePrefix, voiceExt, now, false)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to prepare voice file", err)
	}
	log := s.log.WithFields(logrus.Fields{"op": op, "filename": art.Name, "description": in.Description})

	wav, err := workers.Run(ctx, s.pool, "tts.synthesize", func(ctx context.Context) ([]byte, error) {
		return s.synth.Synthesize(ctx, prompt, s.cfg.SpeakerWav)
	})
	if err != nil {
		log.WithError(err).Error("synthesis failed")
		s.metrics.RecordOutcome(kindSynthesis, string(models.StatusError))
		return nil, utils.CapabilityError(op, err)
	}

	// Every failure past this point goes through fail.
	inserted := false
	fail := func(msg string, cause error) error {
		log.WithError(cause).Error(msg)
		if inserted {
			if err := s.records.MarkErrorByFilename(context.WithoutCancel(ctx), art.Name, msg+": "+cause.Error()); err != nil {
				log.WithError(err).Error("failed to mark voice record as error")
			}
		}
		if err := art.discard(); err != nil {
			log.WithError(err).Error("failed to remove voice file")
		}
		s.metrics.RecordOutcome(kindSynthesis, string(models.StatusError))
		return utils.E(utils.CodeInternal, op, "Internal Server Error", fmt.Errorf("%s: %w", msg, cause))
	}

	if err := os.WriteFile(art.Tmp, wav, 0o644); err != nil {
		return nil, fail("failed to write voice file", err)
	}
	// Duration comes from the written file; backends do not report it.
	duration, err := audio.WAVDuration(art.Tmp)
	if err != nil {
		return nil, fail("failed to read generated audio", err)
	}
	fi, err := os.Stat(art.Tmp)
	if err != nil {
		return nil, fail("failed to stat voice file", err)
	}

	lang := s.cfg.Language
	rec := &models.VoiceRecord{
		Filename:   art.Name,
		FileType:   voiceType,
		Duration:   duration,
		Size:       fi.Size(),
		FilePath:   art.Path,
		Transcript: &prompt,
		Language:   &lang,
		Status:     models.StatusPending,
		ParentID:   in.ParentID,
	}
	if err := s.records.CreateWithTags(ctx, rec, utils.ParseTags(in.Tags)); err != nil {
		if errors.Is(err, utils.ErrDuplicate) {
			_ = art.discard()
			return nil, storeError(op, err)
		}
		return nil, fail("failed to store voice record", err)
	}
	inserted = true
	log = log.WithField("record_id", rec.ID)

	if err := art.commit(); err != nil {
		return nil, fail("failed to finalize voice file", err)
	}
	completed := models.StatusCompleted
	if err := s.records.Update(ctx, rec.ID, sqldb.RecordUpdate{Status: &completed}); err != nil {
		return nil, fail("failed to complete voice record", err)
	}

	s.archive(ctx, log, art, now)
	s.metrics.RecordOutcome(kindSynthesis, string(completed))
	log.WithFields(logrus.Fields{"size": rec.Size, "duration": duration}).Info("voice generated")

	return &SynthesisOutput{
		RecordID: rec.ID,
		Filename: art.Name,
		Path:     art.Path,
		Size:     rec.Size,
		Duration: duration,
	}, nil
}

// archive copies the finished file to object storage. Failures are logged
// only; the local file stays authoritative.
func (s *synthesisService) archive(ctx context.Context, log *logrus.Entry, art artifact, now time.Time) {
	if s.uploader == nil {
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		log.WithError(err).Warn("archive skipped")
		return
	}
	defer f.Close()

	where, err := s.uploader.Upload(ctx, storage.ObjectName(s.cfg.ArchivePrefix, art.Name, now), voiceType, f)
	if err != nil {
		log.WithError(err).Warn("archive upload failed")
		return
	}
	log.WithField("archive", where).Debug("voice archived")
}
