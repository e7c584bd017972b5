// Package track loads WAV payloads into signed 16-bit PCM tracks and
// converts them between sample specs.
package track

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

var (
	// ErrNotWav is returned when the payload is not a parseable WAV file.
	ErrNotWav = errors.New("track is not a wav file")
	// ErrIncompatible is returned when a track cannot be converted to the
	// requested spec.
	ErrIncompatible = errors.New("track is incompatible with the sink spec")
)

// Spec describes the shape of a PCM stream. Samples are always interleaved
// little-endian signed 16-bit.
type Spec struct {
	SampleRate int
	Channels   int
}

// Track is a fully decoded PCM clip.
type Track struct {
	Spec    Spec
	Samples []int16
}

// Duration returns the playback time of the track at its own spec.
func (t Track) Duration() time.Duration {
	return SamplesDuration(len(t.Samples), t.Spec)
}

// SamplesDuration converts an interleaved sample count to playback time.
func SamplesDuration(samples int, spec Spec) time.Duration {
	if spec.SampleRate <= 0 || spec.Channels <= 0 {
		return 0
	}
	frames := samples / spec.Channels
	return time.Duration(frames) * time.Second / time.Duration(spec.SampleRate)
}

// Load decodes a WAV payload. Bit depths of 8, 16, 24 and 32 are scaled to
// 16-bit; anything else fails with ErrIncompatible.
func Load(data []byte) (Track, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Track{}, ErrNotWav
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Track{}, fmt.Errorf("%w: %s", ErrNotWav, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return Track{}, ErrNotWav
	}

	var shift func(int) int16
	switch d.BitDepth {
	case 8:
		// 8-bit WAV is unsigned.
		shift = func(v int) int16 { return int16((v - 128) << 8) }
	case 16:
		shift = func(v int) int16 { return int16(v) }
	case 24:
		shift = func(v int) int16 { return int16(v >> 8) }
	case 32:
		shift = func(v int) int16 { return int16(v >> 16) }
	default:
		return Track{}, fmt.Errorf("%w: %d-bit samples", ErrIncompatible, d.BitDepth)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = shift(v)
	}

	return Track{
		Spec: Spec{
			SampleRate: buf.Format.SampleRate,
			Channels:   buf.Format.NumChannels,
		},
		Samples: samples,
	}, nil
}
