package track

import "fmt"

// Conversion limits. Rates outside this window or channel layouts other than
// mono/stereo have no resampling path and are rejected.
const (
	minSampleRate = 8000
	maxSampleRate = 192000
	maxChannels   = 2
)

// Convert returns a copy of t converted to the target spec: resampled first,
// then channel-converted. A track already matching the target is returned
// unchanged. Fails with ErrIncompatible when no conversion path exists.
func Convert(t Track, target Spec) (Track, error) {
	if err := checkSpec(t.Spec); err != nil {
		return Track{}, err
	}
	if err := checkSpec(target); err != nil {
		return Track{}, err
	}
	if t.Spec == target {
		return t, nil
	}

	samples := t.Samples
	if t.Spec.SampleRate != target.SampleRate {
		samples = resample(samples, t.Spec.Channels, t.Spec.SampleRate, target.SampleRate)
	}
	if t.Spec.Channels != target.Channels {
		if t.Spec.Channels == 1 {
			samples = monoToStereo(samples)
		} else {
			samples = stereoToMono(samples)
		}
	}

	return Track{Spec: target, Samples: samples}, nil
}

func checkSpec(s Spec) error {
	if s.SampleRate < minSampleRate || s.SampleRate > maxSampleRate {
		return fmt.Errorf("%w: sample rate %d", ErrIncompatible, s.SampleRate)
	}
	if s.Channels < 1 || s.Channels > maxChannels {
		return fmt.Errorf("%w: %d channels", ErrIncompatible, s.Channels)
	}
	return nil
}

// resample converts interleaved PCM between rates using linear interpolation,
// independently per channel.
func resample(in []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(in) < channels {
		return in
	}
	srcFrames := len(in) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for c := range channels {
			s0 := in[srcIdx*channels+c]
			s1 := s0
			if srcIdx+1 < srcFrames {
				s1 = in[(srcIdx+1)*channels+c]
			}
			out[i*channels+c] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
		}
	}
	return out
}

// monoToStereo duplicates each sample into an L+R pair.
func monoToStereo(in []int16) []int16 {
	out := make([]int16, len(in)*2)
	for i, s := range in {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// stereoToMono averages each L+R pair with int32 arithmetic so the sum
// cannot overflow.
func stereoToMono(in []int16) []int16 {
	frames := len(in) / 2
	out := make([]int16, frames)
	for i := range frames {
		out[i] = int16((int32(in[i*2]) + int32(in[i*2+1])) / 2)
	}
	return out
}
