package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yoockh/voicelab/internal/audio"
	"github.com/yoockh/voicelab/internal/utils"
)

// streamChunkBytes keeps each streaming request well under the 25 KB the
// API recommends per message.
const streamChunkBytes = 16 * 1024

type GoogleSpeech struct {
	c *speech.Client

	DefaultLanguage string
}

// NewGoogleSpeech builds the client from credentialsFile, or from application
// default credentials when it is empty.
func NewGoogleSpeech(ctx context.Context, credentialsFile, language string) (*GoogleSpeech, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{c: c, DefaultLanguage: language}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func (g *GoogleSpeech) config(opts Options) *speechpb.RecognitionConfig {
	lang := opts.Language
	if lang == "" {
		lang = g.DefaultLanguage
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            audio.TargetSampleRate,
		AudioChannelCount:          1,
		LanguageCode:               normalizeLanguage(lang),
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      opts.ReturnTimestamps,
	}
}

func (g *GoogleSpeech) Transcribe(ctx context.Context, buf audio.Buffer, opts Options) (*Result, error) {
	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: g.config(opts),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: buf.PCM16()},
		},
	})
	if err != nil {
		return nil, classifyGRPC(err)
	}

	var (
		res   Result
		texts []string
		start float64
	)
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		text := strings.TrimSpace(r.Alternatives[0].Transcript)
		end := r.ResultEndTime.AsDuration().Seconds()
		if text != "" {
			texts = append(texts, text)
			res.Segments = append(res.Segments, Segment{Text: text, Start: start, End: end})
		}
		start = end
	}

	if !opts.ReturnTimestamps {
		res.Segments = nil
		res.Text = strings.Join(texts, " ")
	}
	return &res, nil
}

// TranscribeStream feeds the buffer through StreamingRecognize and emits
// every final result as one fragment.
func (g *GoogleSpeech) TranscribeStream(ctx context.Context, buf audio.Buffer, opts Options) (<-chan Fragment, <-chan error) {
	out := make(chan Fragment)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(out)

		stream, err := g.c.StreamingRecognize(ctx)
		if err != nil {
			errs <- classifyGRPC(err)
			return
		}

		err = stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
				StreamingConfig: &speechpb.StreamingRecognitionConfig{Config: g.config(opts)},
			},
		})
		if err != nil {
			errs <- classifyGRPC(err)
			return
		}

		sendErr := make(chan error, 1)
		go func() {
			pcm := buf.PCM16()
			for len(pcm) > 0 {
				n := min(streamChunkBytes, len(pcm))
				req := &speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: pcm[:n]},
				}
				if err := stream.Send(req); err != nil {
					sendErr <- err
					return
				}
				pcm = pcm[n:]
			}
			sendErr <- stream.CloseSend()
		}()

		var start float64
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errs <- classifyGRPC(err)
				return
			}
			if st := resp.GetError(); st != nil && st.GetCode() != 0 {
				errs <- fmt.Errorf("google speech: %s", st.GetMessage())
				return
			}

			for _, r := range resp.Results {
				if !r.IsFinal || len(r.Alternatives) == 0 {
					continue
				}
				end := r.ResultEndTime.AsDuration().Seconds()
				f := Fragment{Text: r.Alternatives[0].Transcript}
				if opts.ReturnTimestamps {
					f.Timestamp = &[2]float64{start, end}
				}
				start = end

				select {
				case out <- f:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}

		if err := <-sendErr; err != nil && !errors.Is(err, io.EOF) {
			errs <- classifyGRPC(err)
		}
	}()

	return out, errs
}

func classifyGRPC(err error) error {
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", utils.ErrResourceExhausted, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func normalizeLanguage(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "", "en", "en-US":
		return "en-US"
	case "id", "id-ID":
		return "id-ID"
	case "ja", "ja-JP":
		return "ja-JP"
	default:
		return v
	}
}
