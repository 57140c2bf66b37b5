package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/voicelab/internal/providers/assessment"
	"github.com/yoockh/voicelab/internal/utils"
)

type fakeAssessor struct {
	Utts []assessment.Utterance
	Err  error

	calls   int
	gotPath string
	gotText string
	// existed records whether the file was on disk during the call.
	existed bool
}

func (f *fakeAssessor) Assess(_ context.Context, path, text string) ([]assessment.Utterance, error) {
	f.calls++
	f.gotPath, f.gotText = path, text
	f.existed = fileExists(path)
	return f.Utts, f.Err
}

func sampleUtterances() []assessment.Utterance {
	return []assessment.Utterance{
		{
			Words: []assessment.Word{
				{Text: "The", AccuracyScore: 90, ErrorType: assessment.ErrorNone, Duration: 0.5},
				{Text: "cat", AccuracyScore: 80, ErrorType: assessment.ErrorNone, Duration: 0.5},
			},
			FluencyScore: 100,
			ProsodyScore: 80,
		},
		{
			Words: []assessment.Word{
				{Text: "sat", AccuracyScore: 70, ErrorType: assessment.ErrorNone, Duration: 3},
			},
			FluencyScore: 60,
			ProsodyScore: 60,
		},
	}
}

func TestScorePronunciationFullMatch(t *testing.T) {
	res := ScorePronunciation(sampleUtterances(), "The cat, sat.")

	assert.InDelta(t, 80, res.AccuracyScore, 1e-9)
	assert.InDelta(t, 100, res.CompletenessScore, 1e-9)
	// duration weighted: (100*1 + 60*3) / 4
	assert.InDelta(t, 70, res.FluencyScore, 1e-9)
	assert.InDelta(t, 70, res.ProsodyScore, 1e-9)
	assert.InDelta(t, 80, res.PronunciationScore, 1e-9)
	require.Len(t, res.Words, 3)
	for _, w := range res.Words {
		assert.Equal(t, assessment.ErrorNone, w.ErrorType)
	}
}

func TestScorePronunciationOmission(t *testing.T) {
	utts := []assessment.Utterance{{
		Words: []assessment.Word{
			{Text: "the", AccuracyScore: 90, ErrorType: assessment.ErrorNone, Duration: 1},
			{Text: "sat", AccuracyScore: 60, ErrorType: assessment.ErrorNone, Duration: 1},
		},
		FluencyScore: 50,
		ProsodyScore: 50,
	}}

	res := ScorePronunciation(utts, "the cat sat")
	require.Len(t, res.Words, 3)
	assert.Equal(t, "cat", res.Words[1].Word)
	assert.Equal(t, assessment.ErrorOmission, res.Words[1].ErrorType)
	assert.Zero(t, res.Words[1].AccuracyScore)
	assert.InDelta(t, 50, res.AccuracyScore, 1e-9)
	assert.InDelta(t, 200.0/3, res.CompletenessScore, 1e-9)
}

func TestScorePronunciationInsertion(t *testing.T) {
	utts := []assessment.Utterance{{
		Words: []assessment.Word{
			{Text: "the", AccuracyScore: 80, ErrorType: assessment.ErrorNone, Duration: 1},
			{Text: "big", AccuracyScore: 10, ErrorType: assessment.ErrorNone, Duration: 1},
			{Text: "cat", AccuracyScore: 60, ErrorType: assessment.ErrorNone, Duration: 1},
		},
	}}

	res := ScorePronunciation(utts, "the cat")
	require.Len(t, res.Words, 3)
	assert.Equal(t, assessment.ErrorInsertion, res.Words[1].ErrorType)
	// insertions do not count towards accuracy
	assert.InDelta(t, 70, res.AccuracyScore, 1e-9)
	assert.InDelta(t, 100, res.CompletenessScore, 1e-9)
}

func TestScorePronunciationNothingRecognized(t *testing.T) {
	res := ScorePronunciation(nil, "hello world")

	assert.Zero(t, res.AccuracyScore)
	assert.Zero(t, res.CompletenessScore)
	assert.Zero(t, res.FluencyScore)
	require.Len(t, res.Words, 2)
	assert.Equal(t, assessment.ErrorOmission, res.Words[0].ErrorType)
}

func TestAnalyzeRejectsBadPathsBeforeAssessing(t *testing.T) {
	base := t.TempDir()
	fake := &fakeAssessor{Utts: sampleUtterances()}
	svc := NewAssessmentService(fake, base, testLog)

	cases := []struct {
		name, path, text string
		status           int
	}{
		{"traversal", "../../etc/passwd", "the cat sat", 400},
		{"not wav", "notes.txt", "the cat sat", 400},
		{"empty path", "", "the cat sat", 400},
		{"empty text", "clip.wav", "  ", 400},
		{"missing", "missing.wav", "the cat sat", 404},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Analyze(context.Background(), tc.path, tc.text)
			require.Error(t, err)
			assert.Equal(t, tc.status, utils.HTTPStatus(err))
		})
	}
	assert.Zero(t, fake.calls)
}

func TestAnalyzeScoresFileInsideBase(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "lessons"), 0o755))
	clip := filepath.Join(base, "lessons", "clip.wav")
	require.NoError(t, os.WriteFile(clip, wavBytes(t, 1), 0o644))

	fake := &fakeAssessor{Utts: sampleUtterances()}
	svc := NewAssessmentService(fake, base, testLog)

	res, err := svc.Analyze(context.Background(), "lessons/clip.wav", "The cat sat")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, clip, fake.gotPath)
	assert.Equal(t, "The cat sat", fake.gotText)
	assert.InDelta(t, 80, res.PronunciationScore, 1e-9)
}

func TestAnalyzeRejectsSymlinkOutOfBase(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "secret.wav")
	require.NoError(t, os.WriteFile(outside, wavBytes(t, 1), 0o644))

	base := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(base, "link.wav")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	fake := &fakeAssessor{Utts: sampleUtterances()}
	svc := NewAssessmentService(fake, base, testLog)

	_, err := svc.Analyze(context.Background(), "link.wav", "the cat sat")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	assert.Zero(t, fake.calls)
}

func TestAnalyzeClassifiesAssessorFailure(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "clip.wav"), wavBytes(t, 1), 0o644))

	svc := NewAssessmentService(&fakeAssessor{Err: context.DeadlineExceeded}, base, testLog)
	_, err := svc.Analyze(context.Background(), "clip.wav", "hello")
	assert.True(t, utils.IsCode(err, utils.CodeTimeout))
}

func TestAnalyzeUploadRemovesTemporaryFile(t *testing.T) {
	base := t.TempDir()
	fake := &fakeAssessor{Utts: sampleUtterances()}
	svc := NewAssessmentService(fake, base, testLog)

	_, err := svc.AnalyzeUpload(context.Background(), "notes.mp3", strings.NewReader("x"), "the cat sat")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	assert.Zero(t, fake.calls)

	res, err := svc.AnalyzeUpload(context.Background(), "Clip.WAV", strings.NewReader(string(wavBytes(t, 1))), "the cat sat")
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.True(t, fake.existed)
	assert.False(t, fileExists(fake.gotPath))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
