package audio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStereoTone writes a 16-bit stereo sine tone and returns its bytes.
func writeStereoTone(t *testing.T, rate int, seconds float64) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	frames := int(float64(rate) * seconds)
	data := make([]int, 0, frames*2)
	for i := 0; i < frames; i++ {
		v := int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		data = append(data, v, v)
	}

	enc := wav.NewEncoder(f, rate, 16, 2, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}

func TestDecodeWAVDownmixesAndResamples(t *testing.T) {
	raw := writeStereoTone(t, 8000, 0.5)

	buf, err := Decode(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, TargetSampleRate, buf.SampleRate)
	assert.InDelta(t, 0.5, buf.Duration(), 0.01)
	for _, s := range buf.Samples {
		require.LessOrEqual(t, math.Abs(float64(s)), 1.0)
	}
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	_, err := Decode(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(context.Background(), []byte("definitely not audio"))
	assert.Error(t, err)
}

func TestWriteWAVFileRoundTripsDuration(t *testing.T) {
	buf := Buffer{Samples: make([]float32, 3*TargetSampleRate/2), SampleRate: TargetSampleRate}
	path := filepath.Join(t.TempDir(), "out.wav")

	require.NoError(t, buf.WriteWAVFile(path))

	dur, err := WAVDuration(path)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, dur, 1e-9)

	short := Buffer{Samples: make([]float32, TargetSampleRate/4), SampleRate: TargetSampleRate}
	require.NoError(t, short.WriteWAVFile(path))
	dur, err = WAVDuration(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, dur, 1e-9)
}

func TestWAVDurationRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.wav")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))

	_, err := WAVDuration(path)
	assert.Error(t, err)
}

func TestPCM16ClampsAndEncodesLittleEndian(t *testing.T) {
	pcm := Buffer{Samples: []float32{0, 2, -2}, SampleRate: TargetSampleRate}.PCM16()

	require.Len(t, pcm, 6)
	assert.Equal(t, []byte{0, 0}, pcm[0:2])
	assert.Equal(t, []byte{0xff, 0x7f}, pcm[2:4])
	assert.Equal(t, []byte{0x00, 0x80}, pcm[4:6])
}

func TestResampleKeepsLengthRatio(t *testing.T) {
	in := make([]float32, 441)
	out := resample(in, 44100, 16000)
	assert.Len(t, out, 160)
	assert.Equal(t, in, resample(in, 16000, 16000))
}
