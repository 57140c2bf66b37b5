package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/voicelab/internal/models"
	"github.com/yoockh/voicelab/internal/providers/stt"
	"github.com/yoockh/voicelab/internal/repositories/sqldb"
	"github.com/yoockh/voicelab/internal/utils"
	"github.com/yoockh/voicelab/internal/workers"
)

func newTranscription(t *testing.T, fake *fakeTranscriber) (*transcriptionService, sqldb.VoiceRecordRepository, string) {
	t.Helper()

	repo := sqldb.NewVoiceRecordRepo(openTestDB(t))
	dir := filepath.Join(t.TempDir(), "transcriptions")
	svc := NewTranscriptionService(repo, fake, nil, TranscriptionConfig{OutputDir: dir, Language: "en"}, testLog, nil)
	return svc.(*transcriptionService), repo, dir
}

func TestTranscribeWithTimestampsJoinsSegments(t *testing.T) {
	fake := &fakeTranscriber{Result: &stt.Result{Segments: []stt.Segment{
		{Text: "hello", Start: 0, End: 1},
		{Text: "world", Start: 1, End: 2},
	}}}
	svc, repo, _ := newTranscription(t, fake)

	out, err := svc.Transcribe(context.Background(), TranscribeInput{
		Audio:            wavBytes(t, 2),
		ReturnTimestamps: true,
		Tags:             "lesson, en",
	})
	require.NoError(t, err)
	assert.True(t, fake.gotOpts.ReturnTimestamps)
	assert.Len(t, out.Result.Segments, 2)

	rec, err := repo.GetByID(context.Background(), out.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", *rec.Transcript)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, "text/plain", rec.FileType)
	assert.EqualValues(t, len("hello\nworld"), rec.Size)
	assert.InDelta(t, 2.0, rec.Duration, 0.01)
	assert.Len(t, rec.Tags, 2)

	data, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", string(data))
	assert.False(t, fileExists(rec.FilePath+partSuffix))
}

func TestTranscribeThroughPool(t *testing.T) {
	fake := &fakeTranscriber{Result: &stt.Result{Text: "plain text"}}
	repo := sqldb.NewVoiceRecordRepo(openTestDB(t))

	pool := &workers.InferencePool{NumWorkers: 1, Timeout: time.Second, Logger: testLog}
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	svc := NewTranscriptionService(repo, fake, pool, TranscriptionConfig{OutputDir: t.TempDir()}, testLog, nil)
	out, err := svc.Transcribe(context.Background(), TranscribeInput{Audio: wavBytes(t, 0.5)})
	require.NoError(t, err)

	rec, err := repo.GetByID(context.Background(), out.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "plain text", *rec.Transcript)
}

func TestTranscribeClassifiesCapabilityFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code utils.Code
	}{
		{"memory", utils.ErrResourceExhausted, utils.CodeResourceExhausted},
		{"timeout", context.DeadlineExceeded, utils.CodeTimeout},
		{"other", errors.New("model crashed"), utils.CodeInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, dir := newTranscription(t, &fakeTranscriber{Err: tc.err})

			_, err := svc.Transcribe(context.Background(), TranscribeInput{Audio: wavBytes(t, 0.2)})
			require.Error(t, err)
			assert.True(t, utils.IsCode(err, tc.code))
			assert.Equal(t, 500, utils.HTTPStatus(err))

			rows, err := repo.List(context.Background(), sqldb.ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, rows)
			assert.NoDirExists(t, dir)
		})
	}
}

func TestTranscribeRejectsUndecodableAudio(t *testing.T) {
	svc, _, _ := newTranscription(t, &fakeTranscriber{})

	_, err := svc.Transcribe(context.Background(), TranscribeInput{})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func runStream(t *testing.T, svc *transcriptionService, ctx context.Context, emit func(stt.Fragment) error) (*TranscriptionStream, error) {
	t.Helper()

	st, err := svc.StartStream(ctx, TranscribeInput{Audio: wavBytes(t, 1), Tags: "stream"})
	require.NoError(t, err)
	return st, st.Run(ctx, emit)
}

func TestStreamPersistsAndForwardsInOrder(t *testing.T) {
	svc, repo, _ := newTranscription(t, &fakeTranscriber{Fragments: []string{"a", "b", "c"}})

	var seen []string
	st, err := runStream(t, svc, context.Background(), func(f stt.Fragment) error {
		// every fragment is persisted before it is forwarded
		rec, err := repo.GetByID(context.Background(), 1)
		require.NoError(t, err)
		seen = append(seen, f.Text)
		assert.Equal(t, joinTexts(seen), *rec.Transcript)
		assert.Equal(t, models.StatusTranscribing, rec.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)

	rec, err := repo.GetByID(context.Background(), st.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "abc", *rec.Transcript)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.EqualValues(t, 3, rec.Size)
	assert.Nil(t, rec.ErrorMessage)
	require.Len(t, rec.Tags, 1)

	data, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func joinTexts(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}

func TestStreamFailureMarksErrorAndRemovesFile(t *testing.T) {
	svc, repo, _ := newTranscription(t, &fakeTranscriber{
		Fragments: []string{"a"},
		StreamErr: errors.New("decoder blew up"),
	})

	var seen []string
	st, err := runStream(t, svc, context.Background(), func(f stt.Fragment) error {
		seen = append(seen, f.Text)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, seen)

	rec, err := repo.GetByID(context.Background(), st.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "a", *rec.Transcript)
	assert.Equal(t, models.StatusError, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "decoder blew up")
	assert.False(t, fileExists(rec.FilePath))
	assert.False(t, fileExists(rec.FilePath+partSuffix))
}

func TestStreamClientDisconnectKeepsPartialRecord(t *testing.T) {
	svc, repo, _ := newTranscription(t, &fakeTranscriber{Fragments: []string{"a", "b", "c"}})

	gone := errors.New("client disconnected")
	st, err := runStream(t, svc, context.Background(), func(f stt.Fragment) error {
		if f.Text == "b" {
			return gone
		}
		return nil
	})
	assert.ErrorIs(t, err, gone)

	rec, err := repo.GetByID(context.Background(), st.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTranscribing, rec.Status)
	assert.Equal(t, "ab", *rec.Transcript)
	assert.Nil(t, rec.ErrorMessage)

	data, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
	assert.False(t, fileExists(rec.FilePath+partSuffix))

	sweeper := &workers.StaleSweeper{
		Records: repo,
		After:   time.Minute,
		Logger:  testLog,
		Now:     func() time.Time { return time.Now().Add(time.Hour) },
	}
	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rec, err = repo.GetByID(context.Background(), st.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, rec.Status)
	assert.NotNil(t, rec.ErrorMessage)
}

func TestStreamStopsWhenContextEnds(t *testing.T) {
	svc, repo, _ := newTranscription(t, &fakeTranscriber{Fragments: []string{"a", "b", "c"}})
	svc.cfg.FragmentDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	st, err := runStream(t, svc, ctx, func(f stt.Fragment) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	rec, err := repo.GetByID(context.Background(), st.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "a", *rec.Transcript)
	assert.Equal(t, models.StatusTranscribing, rec.Status)
}

func TestTranscribeMarksRecordErrorWhenCompletionFails(t *testing.T) {
	repo := sqldb.NewVoiceRecordRepo(openTestDB(t))
	dir := t.TempDir()
	svc := NewTranscriptionService(failingUpdates{repo}, &fakeTranscriber{Result: &stt.Result{Text: "hi"}}, nil,
		TranscriptionConfig{OutputDir: dir}, testLog, nil)

	_, err := svc.Transcribe(context.Background(), TranscribeInput{Audio: wavBytes(t, 0.5)})
	require.Error(t, err)

	rows, err := repo.List(context.Background(), sqldb.ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusError, rows[0].Status)
	assert.False(t, fileExists(rows[0].FilePath))
	assert.False(t, fileExists(rows[0].FilePath+partSuffix))
}

func TestStreamMarksRecordErrorWhenCompletionFails(t *testing.T) {
	repo := sqldb.NewVoiceRecordRepo(openTestDB(t))
	dir := t.TempDir()
	svc := NewTranscriptionService(completionFails{repo}, &fakeTranscriber{Fragments: []string{"a", "b"}}, nil,
		TranscriptionConfig{OutputDir: dir}, testLog, nil).(*transcriptionService)

	st, err := runStream(t, svc, context.Background(), func(stt.Fragment) error { return nil })
	require.Error(t, err)

	rec, err := repo.GetByID(context.Background(), st.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "disk I/O error")
	assert.Equal(t, "ab", *rec.Transcript)
	assert.False(t, fileExists(rec.FilePath))
	assert.False(t, fileExists(rec.FilePath+partSuffix))
}

func TestStreamWhisperSegmentsKeepWordSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "task": "transcribe",
  "duration": 2.0,
  "text": " hello world",
  "segments": [
    {"id": 0, "start": 0.0, "end": 1.0, "text": " hello"},
    {"id": 1, "start": 1.0, "end": 2.0, "text": " world"}
  ]
}`))
	}))
	t.Cleanup(srv.Close)

	whisper := stt.NewOpenAIWhisper("test-key", srv.URL+"/v1", "en")
	whisper.TempDir = t.TempDir()

	repo := sqldb.NewVoiceRecordRepo(openTestDB(t))
	svc := NewTranscriptionService(repo, whisper, nil,
		TranscriptionConfig{OutputDir: t.TempDir(), Language: "en"}, testLog, nil).(*transcriptionService)

	var seen []string
	st, err := runStream(t, svc, context.Background(), func(f stt.Fragment) error {
		seen = append(seen, f.Text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", " world"}, seen)

	rec, err := repo.GetByID(context.Background(), st.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, "hello world", *rec.Transcript)

	data, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}
