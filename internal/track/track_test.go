package track

import (
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

// encodeWav renders samples into a WAV payload via a temp file (the encoder
// needs a WriteSeeker).
func encodeWav(t *testing.T, rate, channels, bitDepth int, samples []int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, bitDepth, channels, 1)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	})
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestLoadSigned16(t *testing.T) {
	want := []int{0, 100, -100, 32767, -32768}
	data := encodeWav(t, 44100, 1, 16, want)

	tr, err := Load(data)
	require.NoError(t, err)
	require.Equal(t, Spec{SampleRate: 44100, Channels: 1}, tr.Spec)
	require.Len(t, tr.Samples, len(want))
	for i, v := range want {
		require.Equal(t, int16(v), tr.Samples[i])
	}
}

func TestLoadScalesBitDepths(t *testing.T) {
	cases := []struct {
		name     string
		bitDepth int
		in       int
		want     int16
	}{
		{"8-bit midpoint", 8, 128, 0},
		{"8-bit max", 8, 255, 127 << 8},
		{"24-bit", 24, 1 << 16, 1 << 8},
		{"32-bit", 32, 1 << 24, 1 << 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := encodeWav(t, 22050, 1, tc.bitDepth, []int{tc.in})
			tr, err := Load(data)
			require.NoError(t, err)
			require.Equal(t, tc.want, tr.Samples[0])
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load([]byte("definitely not a riff chunk"))
	require.ErrorIs(t, err, ErrNotWav)

	_, err = Load(nil)
	require.ErrorIs(t, err, ErrNotWav)
}

func TestDuration(t *testing.T) {
	tr := Track{
		Spec:    Spec{SampleRate: 44100, Channels: 2},
		Samples: make([]int16, 44100*2),
	}
	require.Equal(t, "1s", tr.Duration().String())
}
