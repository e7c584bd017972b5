// speakerd is an HTTP-controlled public-address controller for a tube
// amplifier: named priority channels, WAV playback, and a serial-port
// power relay with warm-up/cool-down handling.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gordonklaus/portaudio"

	"speakerd/internal/amp"
	"speakerd/internal/audio"
	"speakerd/internal/config"
	"speakerd/internal/httpapi"
	"speakerd/internal/relay"
	"speakerd/internal/speaker"
	"speakerd/internal/track"
)

// sinkSpec is the fixed output format every track is converted to.
var sinkSpec = track.Spec{SampleRate: 44100, Channels: 1}

func main() {
	flag.Parse()

	cfgPath := config.DefaultPath
	if flag.NArg() > 0 {
		cfgPath = flag.Arg(0)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("[audio] initialize: %v", err)
	}
	defer portaudio.Terminate()

	rel, err := relay.Open(cfg.PowerPort)
	if err != nil {
		log.Fatalf("[relay] %v", err)
	}
	defer rel.Shutdown()
	log.Printf("[relay] connected to %s", rel.Path())

	mixer, err := audio.NewMixer(len(cfg.Channels), sinkSpec, audio.PortAudioOpener(cfg.AudioDevice))
	if err != nil {
		log.Fatalf("[audio] %v", err)
	}
	defer mixer.Close()

	device := cfg.AudioDevice
	if device == "" {
		device = "default"
	}
	log.Printf("[audio] connected to the audio device: %s", device)

	controller := amp.New(amp.Config{
		Warming:  cfg.Warming,
		Cooling:  cfg.Cooling,
		Channels: len(cfg.Channels),
	}, rel, mixer)
	defer controller.Stop()

	spk := speaker.New(controller, cfg.Channels)
	defer spk.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	api := httpapi.New(spk, cfg.Token)

	// Optional HTTP/3 listener over a self-signed certificate.
	if cfg.HTTPSPort > 0 {
		go runHTTP3(ctx, api, cfg.HTTPSPort)
	}

	log.Printf("[server] listening on :%d (channels: %d)", cfg.Port, len(cfg.Channels))
	if err := api.Run(ctx, fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatalf("[server] %v", err)
	}
}
