package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yoockh/voicelab/internal/audio"
	"github.com/yoockh/voicelab/internal/utils"
)

// OpenAIWhisper transcribes through the /audio/transcriptions endpoint of
// OpenAI or any compatible server (faster-whisper, LocalAI, ...).
type OpenAIWhisper struct {
	client *openai.Client

	Model           string
	DefaultLanguage string
	TempDir         string
}

func NewOpenAIWhisper(apiKey, baseURL, language string) *OpenAIWhisper {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIWhisper{
		client:          openai.NewClientWithConfig(cfg),
		Model:           openai.Whisper1,
		DefaultLanguage: language,
	}
}

func (w *OpenAIWhisper) Transcribe(ctx context.Context, buf audio.Buffer, opts Options) (*Result, error) {
	resp, err := w.request(ctx, buf, opts)
	if err != nil {
		return nil, err
	}

	if !opts.ReturnTimestamps {
		return &Result{Text: strings.TrimSpace(resp.Text)}, nil
	}

	res := &Result{}
	for _, s := range resp.Segments {
		res.Segments = append(res.Segments, Segment{
			Text:  strings.TrimSpace(s.Text),
			Start: s.Start,
			End:   s.End,
		})
	}
	if len(res.Segments) == 0 && resp.Text != "" {
		res.Segments = []Segment{{Text: strings.TrimSpace(resp.Text), End: resp.Duration}}
	}
	return res, nil
}

// TranscribeStream has no server-side streaming to lean on, so it emits the
// verbose_json segments one by one. Segment text keeps the separating
// whitespace Whisper puts at its start, since fragments are concatenated
// as-is; only the first fragment is trimmed.
func (w *OpenAIWhisper) TranscribeStream(ctx context.Context, buf audio.Buffer, opts Options) (<-chan Fragment, <-chan error) {
	return SegmentFragments(ctx, func() (*Result, error) {
		resp, err := w.request(ctx, buf, opts)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		for _, s := range resp.Segments {
			text := s.Text
			if len(res.Segments) == 0 {
				text = strings.TrimLeftFunc(text, unicode.IsSpace)
			}
			res.Segments = append(res.Segments, Segment{Text: text, Start: s.Start, End: s.End})
		}
		if len(res.Segments) == 0 {
			res.Text = strings.TrimSpace(resp.Text)
		}
		return res, nil
	}, opts)
}

func (w *OpenAIWhisper) request(ctx context.Context, buf audio.Buffer, opts Options) (openai.AudioResponse, error) {
	f, err := os.CreateTemp(w.TempDir, "whisper-*.wav")
	if err != nil {
		return openai.AudioResponse{}, err
	}
	path := f.Name()
	_ = f.Close()
	defer os.Remove(path)

	if err := buf.WriteWAVFile(path); err != nil {
		return openai.AudioResponse{}, err
	}

	lang := opts.Language
	if lang == "" {
		lang = w.DefaultLanguage
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.Model,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: shortLanguage(lang),
	})
	if err != nil {
		return openai.AudioResponse{}, classifyOpenAI(err)
	}
	return resp, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", utils.ErrResourceExhausted, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", utils.ErrResourceExhausted, err)
	}
	return err
}

// shortLanguage maps "en-US" style tags to the ISO-639-1 code Whisper wants.
func shortLanguage(v string) string {
	if i := strings.IndexByte(v, '-'); i > 0 {
		return v[:i]
	}
	return v
}
