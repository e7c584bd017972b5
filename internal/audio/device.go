// Package audio implements the per-channel PCM players and the priority
// mixer feeding the output device.
package audio

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"speakerd/internal/track"
)

// framesPerBuffer is the pull-callback granularity of the output streams.
const framesPerBuffer = 4096

// Device is a started/stopped output stream. Implementations pull PCM from
// the callback they were opened with. Abstracted so tests run without a
// sound card.
type Device interface {
	Start() error
	Stop() error
	Close() error
}

// Callback fills out with interleaved S16 samples. It runs on the audio
// backend's own goroutine.
type Callback func(out []int16)

// Opener opens an output device at the given spec, wired to cb.
type Opener func(spec track.Spec, cb Callback) (Device, error)

// PortAudioOpener returns an Opener backed by PortAudio. name selects the
// output device; empty means the system default. portaudio.Initialize must
// have been called.
func PortAudioOpener(name string) Opener {
	return func(spec track.Spec, cb Callback) (Device, error) {
		dev, err := resolveOutputDevice(name)
		if err != nil {
			return nil, err
		}

		params := portaudio.HighLatencyParameters(nil, dev)
		params.Output.Channels = spec.Channels
		params.SampleRate = float64(spec.SampleRate)
		params.FramesPerBuffer = framesPerBuffer

		stream, err := portaudio.OpenStream(params, func(out []int16) { cb(out) })
		if err != nil {
			return nil, fmt.Errorf("open audio stream on %q: %w", dev.Name, err)
		}
		return stream, nil
	}
}

// resolveOutputDevice finds an output device by name, falling back to the
// default output device when name is empty.
func resolveOutputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("default output device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	for _, d := range devices {
		if d.MaxOutputChannels > 0 && strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("audio device %q not found", name)
}
