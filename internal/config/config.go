// Package config loads the speakerd INI configuration.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// DefaultPath is used when no config path is given on the command line.
const DefaultPath = "./speaker.cfg"

// Config is the parsed INI file.
type Config struct {
	// Port is the plain-HTTP listen port.
	Port int
	// HTTPSPort enables the HTTP/3 listener when non-zero.
	HTTPSPort int
	// Token is compared verbatim against the Authorization header.
	Token string
	// PowerPort is the serial device driving the amplifier relay.
	PowerPort string
	// AudioDevice selects the output device by name; empty means the
	// system default.
	AudioDevice string
	// Warming and Cooling are the amplifier warm-up and cool-down windows.
	Warming time.Duration
	Cooling time.Duration
	// Channels are the named channels in ascending priority order; the
	// position in this slice is the channel index.
	Channels []string
}

const channelPrefix = "channel."

// Load reads and parses the config file at path.
func Load(path string) (Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return parse(file)
}

// Parse parses raw INI data. Exposed for tests.
func Parse(data []byte) (Config, error) {
	file, err := ini.Load(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return parse(file)
}

func parse(file *ini.File) (Config, error) {
	general := file.Section("general")

	cfg := Config{
		Port:        general.Key("port").MustInt(8080),
		HTTPSPort:   general.Key("https-port").MustInt(0),
		Token:       general.Key("token").String(),
		PowerPort:   general.Key("power-port").String(),
		AudioDevice: general.Key("audio-device").String(),
		Warming:     time.Duration(general.Key("warming-duration").MustInt(0)) * time.Millisecond,
		Cooling:     time.Duration(general.Key("cooling-duration").MustInt(0)) * time.Millisecond,
	}

	type channel struct {
		name     string
		priority int
	}
	var channels []channel
	for _, sec := range file.Sections() {
		name, ok := strings.CutPrefix(sec.Name(), channelPrefix)
		if !ok || name == "" {
			continue
		}
		channels = append(channels, channel{
			name:     name,
			priority: sec.Key("priority").MustInt(0),
		})
	}

	// Ascending priority defines the index assignment: the highest
	// priority ends up with the highest index.
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].priority < channels[j].priority
	})

	for _, ch := range channels {
		cfg.Channels = append(cfg.Channels, ch.name)
	}

	if cfg.PowerPort == "" {
		return Config{}, fmt.Errorf("parse config: power-port is required")
	}
	if len(cfg.Channels) == 0 {
		return Config{}, fmt.Errorf("parse config: at least one [channel.<name>] section is required")
	}

	return cfg, nil
}
