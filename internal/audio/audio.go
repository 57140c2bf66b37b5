// Package audio turns uploaded audio into the mono 16 kHz float buffers the
// transcription backends consume, and reads/writes the WAV files produced by
// synthesis.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// TargetSampleRate is the rate every decoded Buffer is resampled to.
const TargetSampleRate = 16000

var ErrEmpty = errors.New("audio: empty input")

// Buffer is decoded mono audio with samples in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// PCM16 returns the samples as little-endian signed 16-bit PCM.
func (b Buffer) PCM16() []byte {
	out := make([]byte, 2*len(b.Samples))
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(toInt16(s)))
	}
	return out
}

// Decode reads WAV natively and hands every other container to ffmpeg.
// The result is always mono at TargetSampleRate.
func Decode(ctx context.Context, data []byte) (Buffer, error) {
	if len(data) == 0 {
		return Buffer{}, ErrEmpty
	}

	d := wav.NewDecoder(bytes.NewReader(data))
	if d.IsValidFile() {
		return decodeWAV(d)
	}
	return decodeFFmpeg(ctx, data)
}

func decodeWAV(d *wav.Decoder) (Buffer, error) {
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return Buffer{}, errors.New("decode wav: missing format")
	}

	channels := buf.Format.NumChannels
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}

	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += intToFloat(buf.Data[i*channels+c], depth)
		}
		mono[i] = float32(sum / float64(channels))
	}

	return Buffer{
		Samples:    resample(mono, buf.Format.SampleRate, TargetSampleRate),
		SampleRate: TargetSampleRate,
	}, nil
}

func decodeFFmpeg(ctx context.Context, data []byte) (Buffer, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return Buffer{}, fmt.Errorf("decode audio: unsupported format and ffmpeg not available: %w", err)
	}

	var stdout, stderr bytes.Buffer
	// ffmpeg -i pipe:0 -f s16le -ac 1 -ar 16000 pipe:1
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-nostdin", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", "-ac", "1", "-ar", fmt.Sprint(TargetSampleRate),
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Buffer{}, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	raw := stdout.Bytes()
	if len(raw) < 2 {
		return Buffer{}, ErrEmpty
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return Buffer{Samples: samples, SampleRate: TargetSampleRate}, nil
}

// WriteWAV encodes b as 16-bit mono PCM.
func (b Buffer) WriteWAV(w io.WriteSeeker) error {
	ints := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		ints[i] = int(toInt16(s))
	}

	enc := wav.NewEncoder(w, b.SampleRate, 16, 1, 1)
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: b.SampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	})
	if err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// WriteWAVFile writes b to path, replacing any existing file.
func (b Buffer) WriteWAVFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := b.WriteWAV(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WAVDuration returns the length in seconds of the PCM data chunk of the WAV
// file at path.
func WAVDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("%s: not a wav file", path)
	}
	if err := d.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}
	bytesPerSec := int(d.SampleRate) * int(d.NumChans) * int(d.BitDepth) / 8
	if bytesPerSec == 0 {
		return 0, fmt.Errorf("%s: invalid wav format", path)
	}
	return float64(d.PCMSize) / float64(bytesPerSec), nil
}

func intToFloat(v, depth int) float64 {
	switch depth {
	case 8:
		// 8-bit wav is unsigned
		return float64(v-128) / 128
	case 24:
		return float64(v) / float64(1<<23)
	case 32:
		return float64(v) / float64(1<<31)
	default:
		return float64(v) / 32768
	}
}

func toInt16(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

// resample converts between rates with linear interpolation.
func resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	n := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
