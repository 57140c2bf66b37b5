package assessment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/yoockh/voicelab/internal/utils"
)

// ticksPerSecond converts the service's 100ns offsets and durations.
const ticksPerSecond = 10_000_000

var ErrNotConfigured = errors.New("assessment: azure speech key or region not set")

// Azure calls the Speech service short-audio REST endpoint with the
// Pronunciation-Assessment header.
type Azure struct {
	httpClient *http.Client
	key        string
	endpoint   string
	language   string
}

func NewAzure(key, region, language string, timeout time.Duration) *Azure {
	if language == "" {
		language = "en-US"
	}
	return &Azure{
		httpClient: &http.Client{Timeout: timeout},
		key:        key,
		endpoint: fmt.Sprintf(
			"https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1", region),
		language: language,
	}
}

// WithEndpoint overrides the regional endpoint.
func (a *Azure) WithEndpoint(endpoint string) *Azure {
	a.endpoint = endpoint
	return a
}

type assessmentParams struct {
	ReferenceText           string `json:"ReferenceText"`
	GradingSystem           string `json:"GradingSystem"`
	Granularity             string `json:"Granularity"`
	Dimension               string `json:"Dimension"`
	EnableMiscue            bool   `json:"EnableMiscue"`
	EnableProsodyAssessment bool   `json:"EnableProsodyAssessment"`
}

type scores struct {
	AccuracyScore float64 `json:"AccuracyScore"`
	FluencyScore  float64 `json:"FluencyScore"`
	ProsodyScore  float64 `json:"ProsodyScore"`
	ErrorType     string  `json:"ErrorType"`
}

type azureWord struct {
	Word     string `json:"Word"`
	Duration int64  `json:"Duration"`
	scores
	PronunciationAssessment *scores `json:"PronunciationAssessment"`
}

type azureNBest struct {
	scores
	PronunciationAssessment *scores     `json:"PronunciationAssessment"`
	Words                   []azureWord `json:"Words"`
}

type azureResponse struct {
	RecognitionStatus string       `json:"RecognitionStatus"`
	NBest             []azureNBest `json:"NBest"`
}

func pick(flat scores, nested *scores) scores {
	if nested != nil {
		return *nested
	}
	return flat
}

func (a *Azure) Assess(ctx context.Context, wavPath, referenceText string) ([]Utterance, error) {
	if a.key == "" || a.endpoint == "" {
		return nil, ErrNotConfigured
	}

	f, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	params, err := json.Marshal(assessmentParams{
		ReferenceText:           referenceText,
		GradingSystem:           "HundredMark",
		Granularity:             "Phoneme",
		Dimension:               "Comprehensive",
		EnableMiscue:            true,
		EnableProsodyAssessment: true,
	})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("language", a.language)
	q.Set("format", "detailed")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"?"+q.Encode(), f)
	if err != nil {
		return nil, fmt.Errorf("create assessment request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)
	req.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(params))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		err := fmt.Errorf("azure speech returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", utils.ErrResourceExhausted, err)
		}
		return nil, err
	}

	var out azureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode azure response: %w", err)
	}
	if out.RecognitionStatus != "Success" {
		if out.RecognitionStatus == "NoMatch" || out.RecognitionStatus == "InitialSilenceTimeout" {
			return nil, nil
		}
		return nil, fmt.Errorf("azure speech recognition status %q", out.RecognitionStatus)
	}
	if len(out.NBest) == 0 {
		return nil, nil
	}

	best := out.NBest[0]
	top := pick(best.scores, best.PronunciationAssessment)
	u := Utterance{FluencyScore: top.FluencyScore, ProsodyScore: top.ProsodyScore}
	for _, w := range best.Words {
		s := pick(w.scores, w.PronunciationAssessment)
		errType := s.ErrorType
		if errType == "" {
			errType = ErrorNone
		}
		u.Words = append(u.Words, Word{
			Text:          w.Word,
			AccuracyScore: s.AccuracyScore,
			ErrorType:     errType,
			Duration:      float64(w.Duration) / ticksPerSecond,
		})
	}
	return []Utterance{u}, nil
}
