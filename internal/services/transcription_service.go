package services

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/internal/audio"
	"github.com/yoockh/voicelab/internal/metrics"
	"github.com/yoockh/voicelab/internal/models"
	"github.com/yoockh/voicelab/internal/providers/stt"
	"github.com/yoockh/voicelab/internal/repositories/sqldb"
	"github.com/yoockh/voicelab/internal/utils"
	"github.com/yoockh/voicelab/internal/workers"
)

const (
	transcriptPrefix = "transcription"
	transcriptExt    = ".txt"
	transcriptType   = "text/plain"

	kindTranscription = "transcription"
)

type TranscriptionConfig struct {
	OutputDir     string
	Language      string
	FragmentDelay time.Duration
}

type TranscribeInput struct {
	Audio            []byte
	SourceName       string
	ReturnTimestamps bool
	// Tags is the raw comma separated form value.
	Tags string
}

type TranscribeOutput struct {
	RecordID uint
	Result   *stt.Result
}

type TranscriptionService interface {
	Transcribe(ctx context.Context, in TranscribeInput) (*TranscribeOutput, error)
	StartStream(ctx context.Context, in TranscribeInput) (*TranscriptionStream, error)
}

type transcriptionService struct {
	records sqldb.VoiceRecordRepository
	stt     stt.Transcriber
	pool    *workers.InferencePool
	cfg     TranscriptionConfig
	log     *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewTranscriptionService(
	records sqldb.VoiceRecordRepository,
	transcriber stt.Transcriber,
	pool *workers.InferencePool,
	cfg TranscriptionConfig,
	log *logrus.Logger,
	m *metrics.Metrics,
) TranscriptionService {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "transcriptions"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &transcriptionService{
		records: records,
		stt:     transcriber,
		pool:    pool,
		cfg:     cfg,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

func (s *transcriptionService) decode(ctx context.Context, op string, in TranscribeInput) (audio.Buffer, error) {
	buf, err := audio.Decode(ctx, in.Audio)
	if errors.Is(err, audio.ErrEmpty) {
		return buf, utils.E(utils.CodeInvalidArgument, op, "audio file is empty", err)
	}
	if err != nil {
		return buf, utils.E(utils.CodeInvalidArgument, op, "could not decode audio file", err)
	}
	return buf, nil
}

func (s *transcriptionService) Transcribe(ctx context.Context, in TranscribeInput) (*TranscribeOutput, error) {
	const op = "TranscriptionService.Transcribe"

	buf, err := s.decode(ctx, op, in)
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"op": op, "source": in.SourceName, "duration": buf.Duration()})

	opts := stt.Options{ReturnTimestamps: in.ReturnTimestamps, Language: s.cfg.Language}
	res, err := workers.Run(ctx, s.pool, "stt.transcribe", func(ctx context.Context) (*stt.Result, error) {
		return s.stt.Transcribe(ctx, buf, opts)
	})
	if err != nil {
		log.WithError(err).Error("transcription failed")
		s.metrics.RecordOutcome(kindTranscription, string(models.StatusError))
		return nil, utils.CapabilityError(op, err)
	}

	text := res.Transcript()
	art, err := newArtifact(s.cfg.OutputDir, transcriptPrefix, transcriptExt, s.now(), true)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to prepare transcript file", err)
	}
	log = log.WithField("filename", art.Name)

	if err := os.WriteFile(art.Tmp, []byte(text), 0o644); err != nil {
		s.cleanup(log, art)
		return nil, utils.E(utils.CodeInternal, op, "failed to write transcript file", err)
	}
	size := int64(len(text))
	if fi, err := os.Stat(art.Tmp); err == nil {
		size = fi.Size()
	}

	lang := s.cfg.Language
	rec := &models.VoiceRecord{
		Filename:   art.Name,
		FileType:   transcriptType,
		Duration:   buf.Duration(),
		Size:       size,
		FilePath:   art.Path,
		Transcript: &text,
		Language:   &lang,
		Status:     models.StatusPending,
	}
	if err := s.records.CreateWithTags(ctx, rec, utils.ParseTags(in.Tags)); err != nil {
		s.cleanup(log, art)
		return nil, storeError(op, err)
	}
	log = log.WithField("record_id", rec.ID)

	if err := art.commit(); err != nil {
		s.markError(log, rec.ID, "failed to finalize transcript file: "+err.Error())
		s.cleanup(log, art)
		return nil, utils.E(utils.CodeInternal, op, "failed to finalize transcript file", err)
	}

	completed := models.StatusCompleted
	if err := s.records.Update(ctx, rec.ID, sqldb.RecordUpdate{Status: &completed}); err != nil {
		// By filename: the id based update path is what just failed.
		if merr := s.records.MarkErrorByFilename(context.WithoutCancel(ctx), art.Name,
			"failed to complete transcript record: "+err.Error()); merr != nil {
			log.WithError(merr).Error("failed to mark record as error")
		}
		s.cleanup(log, art)
		s.metrics.RecordOutcome(kindTranscription, string(models.StatusError))
		return nil, storeError(op, err)
	}

	s.metrics.RecordOutcome(kindTranscription, string(completed))
	log.Info("transcription stored")
	return &TranscribeOutput{RecordID: rec.ID, Result: res}, nil
}

// StartStream creates the transcribing record and starts the capability.
// Nothing has reached the client yet, so every error here can still become
// a regular error response.
func (s *transcriptionService) StartStream(ctx context.Context, in TranscribeInput) (*TranscriptionStream, error) {
	const op = "TranscriptionService.StartStream"

	buf, err := s.decode(ctx, op, in)
	if err != nil {
		return nil, err
	}

	art, err := newArtifact(s.cfg.OutputDir, transcriptPrefix, transcriptExt, s.now(), true)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to prepare transcript file", err)
	}
	log := s.log.WithFields(logrus.Fields{"op": op, "source": in.SourceName, "filename": art.Name})

	f, err := os.OpenFile(art.Tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to open transcript file", err)
	}

	lang := s.cfg.Language
	rec := &models.VoiceRecord{
		Filename:   art.Name,
		FileType:   transcriptType,
		Duration:   buf.Duration(),
		Size:       0,
		FilePath:   art.Path,
		Transcript: models.StrPtr(""),
		Language:   &lang,
		Status:     models.StatusTranscribing,
	}
	if err := s.records.CreateWithTags(ctx, rec, utils.ParseTags(in.Tags)); err != nil {
		_ = f.Close()
		s.cleanup(log, art)
		return nil, storeError(op, err)
	}

	capCtx, cancel := context.WithCancel(ctx)
	opts := stt.Options{ReturnTimestamps: in.ReturnTimestamps, Language: s.cfg.Language}
	frags, errs := s.stt.TranscribeStream(capCtx, buf, opts)

	log.WithField("record_id", rec.ID).Info("transcription stream started")
	return &TranscriptionStream{
		RecordID: rec.ID,
		svc:      s,
		art:      art,
		file:     f,
		frags:    frags,
		errs:     errs,
		cancel:   cancel,
		log:      log.WithField("record_id", rec.ID),
	}, nil
}

// TranscriptionStream owns one streaming record for its lifetime.
type TranscriptionStream struct {
	RecordID uint

	svc    *transcriptionService
	art    artifact
	file   *os.File
	frags  <-chan stt.Fragment
	errs   <-chan error
	cancel context.CancelFunc
	log    *logrus.Entry

	closeOnce sync.Once
	size      int64
}

// Run persists and forwards fragments in emission order. For every fragment
// the file and the record are updated before emit is called.
//
// When the capability fails the record becomes error and the partial file is
// removed. When emit fails or ctx ends (the client went away) the stream
// stops, the partial file is moved into place and the record keeps whatever
// was persisted last.
func (st *TranscriptionStream) Run(ctx context.Context, emit func(stt.Fragment) error) error {
	const op = "TranscriptionStream.Run"
	defer st.cancel()

	var delay <-chan time.Time
	for {
		if delay != nil {
			select {
			case <-ctx.Done():
				return st.abandon(ctx.Err())
			case <-delay:
				delay = nil
			}
		}

		select {
		case <-ctx.Done():
			return st.abandon(ctx.Err())
		case f, ok := <-st.frags:
			if !ok {
				if err := <-st.errs; err != nil {
					if ctx.Err() != nil {
						return st.abandon(ctx.Err())
					}
					return st.fail(op, err)
				}
				return st.complete(op)
			}
			if err := st.persist(ctx, f); err != nil {
				if ctx.Err() != nil {
					return st.abandon(ctx.Err())
				}
				return st.fail(op, err)
			}
			if err := emit(f); err != nil {
				return st.abandon(err)
			}
			st.svc.metrics.StreamFragment()
			if st.svc.cfg.FragmentDelay > 0 {
				delay = time.After(st.svc.cfg.FragmentDelay)
			}
		}
	}
}

func (st *TranscriptionStream) persist(ctx context.Context, f stt.Fragment) error {
	n, err := st.file.WriteString(f.Text)
	if err != nil {
		return err
	}
	st.size += int64(n)
	if fi, err := st.file.Stat(); err == nil {
		st.size = fi.Size()
	}

	size := st.size
	return st.svc.records.Update(ctx, st.RecordID, sqldb.RecordUpdate{AppendTranscript: f.Text, Size: &size})
}

func (st *TranscriptionStream) closeFile() error {
	var err error
	st.closeOnce.Do(func() { err = st.file.Close() })
	return err
}

func (st *TranscriptionStream) complete(op string) error {
	if err := st.closeFile(); err != nil {
		return st.fail(op, err)
	}
	if err := st.art.commit(); err != nil {
		return st.fail(op, err)
	}

	completed := models.StatusCompleted
	// Detached so a client leaving right at the end cannot strand the record.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.svc.records.Update(ctx, st.RecordID, sqldb.RecordUpdate{Status: &completed}); err != nil {
		st.log.WithError(err).Error("failed to mark stream completed")
		if merr := st.svc.records.MarkErrorByFilename(ctx, st.art.Name,
			"failed to complete transcript record: "+err.Error()); merr != nil {
			st.log.WithError(merr).Error("failed to mark record as error")
		}
		st.svc.cleanup(st.log, st.art)
		st.svc.metrics.RecordOutcome(kindTranscription, string(models.StatusError))
		return storeError(op, err)
	}

	st.svc.metrics.RecordOutcome(kindTranscription, string(completed))
	st.log.WithField("size", st.size).Info("transcription stream completed")
	return nil
}

func (st *TranscriptionStream) fail(op string, cause error) error {
	st.log.WithError(cause).Error("transcription stream failed")
	_ = st.closeFile()
	st.svc.markError(st.log, st.RecordID, cause.Error())
	st.svc.cleanup(st.log, st.art)
	st.svc.metrics.RecordOutcome(kindTranscription, string(models.StatusError))
	return utils.CapabilityError(op, cause)
}

// abandon keeps the partial file under the record's path so a polled record
// never points at a missing artifact; the stale sweeper marks it error later.
func (st *TranscriptionStream) abandon(cause error) error {
	st.log.WithError(cause).Warn("client left the stream, record kept as last written")
	_ = st.closeFile()
	if err := st.art.commit(); err != nil {
		st.log.WithError(err).Error("failed to keep partial transcript file")
		st.svc.cleanup(st.log, st.art)
	}
	return cause
}

func (s *transcriptionService) markError(log *logrus.Entry, id uint, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := models.StatusError
	if err := s.records.Update(ctx, id, sqldb.RecordUpdate{Status: &failed, ErrorMessage: &msg}); err != nil {
		log.WithError(err).Error("failed to mark record as error")
	}
}

func (s *transcriptionService) cleanup(log *logrus.Entry, art artifact) {
	if err := art.discard(); err != nil {
		log.WithError(err).Error("failed to remove transcript file")
	}
}

func storeError(op string, err error) error {
	switch {
	case errors.Is(err, utils.ErrDuplicate):
		return utils.E(utils.CodeConflict, op, "voice record already exists", err)
	case errors.Is(err, utils.ErrNotFound):
		return utils.E(utils.CodeNotFound, op, "voice record not found", err)
	default:
		return utils.E(utils.CodeInternal, op, "failed to store voice record", err)
	}
}
