package stt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/yoockh/voicelab/internal/audio"
)

type Options struct {
	// ReturnTimestamps selects segment output over plain text.
	ReturnTimestamps bool
	Language         string
}

type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Result of a batch transcription. Text is set when timestamps were not
// requested, Segments when they were.
type Result struct {
	Text     string
	Segments []Segment
}

// Transcript is the text stored for this result; segments are joined with
// newlines.
func (r *Result) Transcript() string {
	if r == nil {
		return ""
	}
	if len(r.Segments) == 0 {
		return r.Text
	}
	parts := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, "\n")
}

// Fragment is one incremental piece of a streamed transcription.
type Fragment struct {
	Text      string
	Timestamp *[2]float64
}

// MarshalJSON renders a bare string without timestamps and
// {"text": ..., "timestamp": [start, end]} with them.
func (f Fragment) MarshalJSON() ([]byte, error) {
	if f.Timestamp == nil {
		return json.Marshal(f.Text)
	}
	return json.Marshal(struct {
		Text      string     `json:"text"`
		Timestamp [2]float64 `json:"timestamp"`
	}{f.Text, *f.Timestamp})
}

// Transcriber turns decoded audio into text.
//
// TranscribeStream emits fragments in order and closes the fragment channel
// when done; at most one error is sent on the error channel, which is closed
// after the fragment channel. Cancelling ctx stops the stream.
type Transcriber interface {
	Transcribe(ctx context.Context, buf audio.Buffer, opts Options) (*Result, error)
	TranscribeStream(ctx context.Context, buf audio.Buffer, opts Options) (<-chan Fragment, <-chan error)
}

// SegmentFragments streams already computed segments, for backends that can
// only answer in one piece.
func SegmentFragments(ctx context.Context, res func() (*Result, error), opts Options) (<-chan Fragment, <-chan error) {
	out := make(chan Fragment)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(out)

		r, err := res()
		if err != nil {
			errs <- err
			return
		}

		frags := make([]Fragment, 0, len(r.Segments)+1)
		if len(r.Segments) == 0 && r.Text != "" {
			frags = append(frags, Fragment{Text: r.Text})
		}
		for _, s := range r.Segments {
			f := Fragment{Text: s.Text}
			if opts.ReturnTimestamps {
				f.Timestamp = &[2]float64{s.Start, s.End}
			}
			frags = append(frags, f)
		}

		for _, f := range frags {
			if err := ctx.Err(); err != nil {
				errs <- err
				return
			}
			select {
			case out <- f:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return out, errs
}
