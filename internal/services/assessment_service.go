package services

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/internal/models"
	"github.com/yoockh/voicelab/internal/providers/assessment"
	"github.com/yoockh/voicelab/internal/utils"
)

const maxUploadBytes = 50 << 20

type AssessmentService interface {
	// Analyze scores a WAV file that already sits under the base directory.
	Analyze(ctx context.Context, referencePath, referenceText string) (*models.AssessmentResult, error)
	// AnalyzeUpload stores an uploaded WAV temporarily and scores it.
	AnalyzeUpload(ctx context.Context, filename string, r io.Reader, referenceText string) (*models.AssessmentResult, error)
}

type assessmentService struct {
	assessor assessment.Assessor
	baseDir  string
	log      *logrus.Logger
}

func NewAssessmentService(a assessment.Assessor, baseDir string, log *logrus.Logger) AssessmentService {
	if baseDir == "" {
		baseDir = "outVoiceFile"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &assessmentService{assessor: a, baseDir: baseDir, log: log}
}

func (s *assessmentService) Analyze(ctx context.Context, referencePath, referenceText string) (*models.AssessmentResult, error) {
	const op = "AssessmentService.Analyze"

	if strings.TrimSpace(referenceText) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "reference_text is required", nil)
	}
	// Path checks run before anything touches the filesystem.
	path, err := utils.ResolveWithin(s.baseDir, referencePath)
	if err != nil {
		return nil, err
	}
	if !utils.HasExt(path, ".wav") {
		return nil, utils.E(utils.CodeInvalidArgument, op, "Only WAV files are supported.", nil)
	}

	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, utils.E(utils.CodeNotFound, op, "reference audio not found", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read reference audio", err)
	}
	if fi.IsDir() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "reference path is a directory", nil)
	}
	if err := utils.EnsureWithin(s.baseDir, path); err != nil {
		return nil, err
	}

	return s.assess(ctx, op, path, referenceText)
}

func (s *assessmentService) AnalyzeUpload(ctx context.Context, filename string, r io.Reader, referenceText string) (*models.AssessmentResult, error) {
	const op = "AssessmentService.AnalyzeUpload"

	if !utils.HasExt(filename, ".wav") {
		return nil, utils.E(utils.CodeInvalidArgument, op, "Only WAV files are supported.", nil)
	}
	if strings.TrimSpace(referenceText) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "reference_text is required", nil)
	}

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save uploaded file", err)
	}
	tmp, err := os.CreateTemp(s.baseDir, "assessment-*.wav")
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save uploaded file", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.WithError(err).WithField("path", tmp.Name()).Warn("failed to remove uploaded audio")
		}
	}()

	if _, err := io.Copy(tmp, io.LimitReader(r, maxUploadBytes)); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save uploaded file", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save uploaded file", err)
	}

	return s.assess(ctx, op, tmp.Name(), referenceText)
}

func (s *assessmentService) assess(ctx context.Context, op, path, referenceText string) (*models.AssessmentResult, error) {
	utts, err := s.assessor.Assess(ctx, path, referenceText)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"op": op, "path": path}).Error("pronunciation assessment failed")
		return nil, utils.CapabilityError(op, err)
	}
	return ScorePronunciation(utts, referenceText), nil
}

// ScorePronunciation aligns the recognized words against the reference text
// and folds the per word and per utterance scores into one breakdown.
//
// Recognized words with no reference counterpart become Insertion, reference
// words that were never said become Omission with accuracy 0.
func ScorePronunciation(utts []assessment.Utterance, referenceText string) *models.AssessmentResult {
	ref := referenceWords(referenceText)

	var recognized []assessment.Word
	for _, u := range utts {
		recognized = append(recognized, u.Words...)
	}
	said := make([]string, len(recognized))
	for i, w := range recognized {
		said[i] = strings.ToLower(w.Text)
	}

	final := make([]assessment.Word, 0, len(recognized))
	m := difflib.NewMatcher(ref, said)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			final = append(final, recognized[op.J1:op.J2]...)
		case 'i', 'r':
			for j := op.J1; j < op.J2; j++ {
				if recognized[j].ErrorType == assessment.ErrorNone {
					recognized[j].ErrorType = assessment.ErrorInsertion
				}
				final = append(final, recognized[j])
			}
		}
		if op.Tag == 'd' || op.Tag == 'r' {
			for _, w := range ref[op.I1:op.I2] {
				final = append(final, assessment.Word{Text: w, ErrorType: assessment.ErrorOmission})
			}
		}
	}

	var accSum float64
	var accN int
	for _, w := range final {
		if w.ErrorType == assessment.ErrorInsertion {
			continue
		}
		accSum += w.AccuracyScore
		accN++
	}
	accuracy := 0.0
	if accN > 0 {
		accuracy = accSum / float64(accN)
	}

	var fluSum, durSum, prosSum float64
	for _, u := range utts {
		d := u.Duration()
		fluSum += u.FluencyScore * d
		durSum += d
		prosSum += u.ProsodyScore
	}
	fluency := 0.0
	if durSum > 0 {
		fluency = fluSum / durSum
	}
	prosody := 0.0
	if len(utts) > 0 {
		prosody = prosSum / float64(len(utts))
	}

	completeness := 0.0
	if len(ref) > 0 {
		var good int
		for _, w := range recognized {
			if w.ErrorType == assessment.ErrorNone {
				good++
			}
		}
		completeness = min(float64(good)/float64(len(ref))*100, 100)
	}

	words := make([]models.WordScore, len(final))
	for i, w := range final {
		words[i] = models.WordScore{Word: w.Text, AccuracyScore: w.AccuracyScore, ErrorType: w.ErrorType}
	}

	return &models.AssessmentResult{
		PronunciationScore: accuracy*0.4 + prosody*0.2 + fluency*0.2 + completeness*0.2,
		AccuracyScore:      accuracy,
		CompletenessScore:  completeness,
		FluencyScore:       fluency,
		ProsodyScore:       prosody,
		Words:              words,
	}
}

// referenceWords splits on whitespace, trims surrounding punctuation and
// lowercases.
func referenceWords(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(strings.TrimFunc(f, unicode.IsPunct))
		out = append(out, w)
	}
	return out
}
