package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yoockh/voicelab/internal/utils"
)

const (
	apiTTSToAudio  = "/tts_to_audio/"
	contentTypeWAV = "audio/wav"
	maxErrorBody   = 4 << 10
)

var ErrEmptyText = errors.New("tts: text cannot be empty")

// XTTS talks to an xtts-api-server style HTTP service that returns WAV bytes
// for {text, speaker_wav, language}.
type XTTS struct {
	httpClient *http.Client
	baseURL    string
	language   string
}

type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

type xttsError struct {
	Detail string `json:"detail"`
}

func NewXTTS(baseURL, language string, timeout time.Duration) *XTTS {
	if language == "" {
		language = "en"
	}
	return &XTTS{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
	}
}

func (x *XTTS) Synthesize(ctx context.Context, text, voiceRef string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(xttsRequest{Text: text, SpeakerWav: voiceRef, Language: x.language})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+apiTTSToAudio, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", contentTypeWAV)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send tts request to %s: %w", x.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseXTTSError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("tts: received empty audio")
	}
	return data, nil
}

func parseXTTSError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := strings.TrimSpace(string(raw))
	var e xttsError
	if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
		detail = e.Detail
	}

	err := fmt.Errorf("tts service returned %s: %s", resp.Status, detail)
	if resp.StatusCode == http.StatusInsufficientStorage || strings.Contains(strings.ToLower(detail), "out of memory") {
		return fmt.Errorf("%w: %v", utils.ErrResourceExhausted, err)
	}
	return err
}
