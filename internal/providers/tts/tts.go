package tts

import "context"

// Synthesizer renders text as WAV audio, cloning the voice in voiceRef when
// the backend supports it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceRef string) ([]byte, error)
}
