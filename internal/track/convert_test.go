package track

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertIdentity(t *testing.T) {
	tr := Track{Spec: Spec{SampleRate: 44100, Channels: 1}, Samples: []int16{1, 2, 3}}

	out, err := Convert(tr, tr.Spec)
	require.NoError(t, err)
	require.Equal(t, tr, out)
}

func TestConvertResampleHalvesLength(t *testing.T) {
	in := make([]int16, 1000)
	for i := range in {
		in[i] = int16(i)
	}
	tr := Track{Spec: Spec{SampleRate: 44100, Channels: 1}, Samples: in}

	out, err := Convert(tr, Spec{SampleRate: 22050, Channels: 1})
	require.NoError(t, err)
	require.Equal(t, 500, len(out.Samples))
	// Linear interpolation keeps a monotone ramp monotone.
	for i := 1; i < len(out.Samples); i++ {
		require.GreaterOrEqual(t, out.Samples[i], out.Samples[i-1])
	}
}

func TestConvertResamplePreservesDuration(t *testing.T) {
	tr := Track{Spec: Spec{SampleRate: 8000, Channels: 1}, Samples: make([]int16, 8000)}

	out, err := Convert(tr, Spec{SampleRate: 44100, Channels: 1})
	require.NoError(t, err)
	require.Equal(t, tr.Duration(), out.Duration())
}

func TestConvertStereoToMonoAverages(t *testing.T) {
	tr := Track{
		Spec:    Spec{SampleRate: 44100, Channels: 2},
		Samples: []int16{100, 200, -32768, -32768, 32767, 32767},
	}

	out, err := Convert(tr, Spec{SampleRate: 44100, Channels: 1})
	require.NoError(t, err)
	require.Equal(t, []int16{150, -32768, 32767}, out.Samples)
}

func TestConvertMonoToStereoDuplicates(t *testing.T) {
	tr := Track{Spec: Spec{SampleRate: 44100, Channels: 1}, Samples: []int16{7, -7}}

	out, err := Convert(tr, Spec{SampleRate: 44100, Channels: 2})
	require.NoError(t, err)
	require.Equal(t, []int16{7, 7, -7, -7}, out.Samples)
}

func TestConvertRejectsUnsupportedSpecs(t *testing.T) {
	target := Spec{SampleRate: 44100, Channels: 1}

	_, err := Convert(Track{Spec: Spec{SampleRate: 4000, Channels: 1}}, target)
	require.ErrorIs(t, err, ErrIncompatible)

	_, err = Convert(Track{Spec: Spec{SampleRate: 400000, Channels: 1}}, target)
	require.ErrorIs(t, err, ErrIncompatible)

	_, err = Convert(Track{Spec: Spec{SampleRate: 44100, Channels: 6}}, target)
	require.ErrorIs(t, err, ErrIncompatible)
}
