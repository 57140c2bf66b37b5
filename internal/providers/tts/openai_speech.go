package tts

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAISpeech uses the /audio/speech endpoint. It cannot clone voices, so
// voiceRef is ignored and Voice is used instead.
type OpenAISpeech struct {
	client *openai.Client

	Model openai.SpeechModel
	Voice openai.SpeechVoice
}

func NewOpenAISpeech(apiKey, baseURL string) *OpenAISpeech {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAISpeech{
		client: openai.NewClientWithConfig(cfg),
		Model:  openai.TTSModel1,
		Voice:  openai.VoiceAlloy,
	}
}

func (o *OpenAISpeech) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.Model,
		Input:          text,
		Voice:          o.Voice,
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	return data, nil
}
