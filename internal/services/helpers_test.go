package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yoockh/voicelab/config"
	"github.com/yoockh/voicelab/internal/audio"
	"github.com/yoockh/voicelab/internal/logger"
	"github.com/yoockh/voicelab/internal/models"
	"github.com/yoockh/voicelab/internal/providers/stt"
	"github.com/yoockh/voicelab/internal/repositories/sqldb"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := config.OpenDatabase(&config.Config{
		DBDriver: config.DriverSQLite,
		DBPath:   filepath.Join(t.TempDir(), "voiceRecord.sqlite"),
	})
	require.NoError(t, err)
	require.NoError(t, config.EnsureSchema(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// wavBytes returns a silent mono 16 kHz WAV of the given length.
func wavBytes(t *testing.T, seconds float64) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	buf := audio.Buffer{
		Samples:    make([]float32, int(seconds*audio.TargetSampleRate)),
		SampleRate: audio.TargetSampleRate,
	}
	require.NoError(t, buf.WriteWAVFile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}

// fakeTranscriber replays canned output. Stream emits Fragments and then
// StreamErr, if any.
type fakeTranscriber struct {
	Result    *stt.Result
	Err       error
	Fragments []string
	StreamErr error

	gotOpts stt.Options
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ audio.Buffer, opts stt.Options) (*stt.Result, error) {
	f.gotOpts = opts
	return f.Result, f.Err
}

func (f *fakeTranscriber) TranscribeStream(ctx context.Context, _ audio.Buffer, opts stt.Options) (<-chan stt.Fragment, <-chan error) {
	f.gotOpts = opts
	out := make(chan stt.Fragment)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(out)
		for _, text := range f.Fragments {
			select {
			case out <- stt.Fragment{Text: text}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if f.StreamErr != nil {
			errs <- f.StreamErr
		}
	}()
	return out, errs
}

type fakeSynthesizer struct {
	Audio []byte
	Err   error

	gotText, gotVoice string
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text, voiceRef string) ([]byte, error) {
	f.gotText, f.gotVoice = text, voiceRef
	return f.Audio, f.Err
}

// failingUpdates lets inserts through and fails every Update.
type failingUpdates struct {
	sqldb.VoiceRecordRepository
}

func (failingUpdates) Update(context.Context, uint, sqldb.RecordUpdate) error {
	return fmt.Errorf("disk I/O error")
}

// completionFails fails only the update that moves a record to completed.
type completionFails struct {
	sqldb.VoiceRecordRepository
}

func (r completionFails) Update(ctx context.Context, id uint, upd sqldb.RecordUpdate) error {
	if upd.Status != nil && *upd.Status == models.StatusCompleted {
		return fmt.Errorf("disk I/O error")
	}
	return r.VoiceRecordRepository.Update(ctx, id, upd)
}

func seedRecords(t *testing.T, repo sqldb.VoiceRecordRepository, n int) {
	t.Helper()

	for i := 1; i <= n; i++ {
		require.NoError(t, repo.Insert(context.Background(), &models.VoiceRecord{
			Filename: fmt.Sprintf("seed_%d.txt", i),
			FileType: "text/plain",
			FilePath: fmt.Sprintf("transcriptions/seed_%d.txt", i),
			Status:   models.StatusCompleted,
		}))
	}
}

var testLog = logger.Discard()

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
