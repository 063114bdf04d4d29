package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/framecast/internal/markup"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates. An
// empty document is a valid config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout must not be negative")
	}

	// Playback
	if cfg.Playback.TickRate < 0 || cfg.Playback.TickRate > 1000 {
		add("playback.tick_rate %d is out of range [1, 1000]", cfg.Playback.TickRate)
	}
	if cfg.Playback.CatchupMaxTicks < 0 {
		add("playback.catchup_max_ticks must not be negative")
	}
	if cfg.Playback.DisconnectQueue < 0 {
		add("playback.disconnect_queue must not be negative")
	}
	if cfg.Playback.AsyncBacklog < 0 {
		add("playback.async_backlog must not be negative")
	}

	// Catalog
	if t := cfg.Catalog.SuggestThreshold; t < 0 || t > 1 {
		add("catalog.suggest_threshold %.2f is out of range (0, 1]", t)
	}
	for i, f := range cfg.Catalog.Files {
		if strings.TrimSpace(f) == "" {
			add("catalog.files[%d] is empty", i)
		}
	}

	// Viewer
	if cfg.Viewer.Path != "" && !strings.HasPrefix(cfg.Viewer.Path, "/") {
		add("viewer.path %q must start with /", cfg.Viewer.Path)
	}
	if cfg.Viewer.SendBuffer < 0 {
		add("viewer.send_buffer must not be negative")
	}
	if u := cfg.Viewer.PublicURL; u != "" {
		if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			add("viewer.public_url %q must be an absolute URL", u)
		}
	}
	for id, caps := range cfg.Viewer.Grants {
		if id == "" {
			add("viewer.grants has an empty viewer id")
		}
		for _, c := range caps {
			if strings.TrimSpace(c) == "" {
				add("viewer.grants[%s] has an empty capability", id)
			}
		}
	}

	// Markup
	if _, err := markup.ParseProfile(cfg.Markup.ColorProfile); err != nil {
		add("markup.color_profile: %w", err)
	}

	// Discord
	if cfg.Discord.Token == "" && (cfg.Discord.GuildID != "" || cfg.Discord.AnnounceChannelID != "") {
		add("discord.token is required when other discord settings are set")
	}

	// MQTT
	if b := cfg.MQTT.Broker; b != "" {
		parsed, err := url.Parse(b)
		if err != nil || parsed.Host == "" {
			add("mqtt.broker %q must be a URL such as tcp://host:1883", b)
		} else {
			switch parsed.Scheme {
			case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
			default:
				add("mqtt.broker scheme %q is not supported", parsed.Scheme)
			}
		}
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		add("mqtt.qos %d is invalid; valid values: 0, 1, 2", cfg.MQTT.QoS)
	}
	if strings.ContainsAny(cfg.MQTT.TopicPrefix, "+#") {
		add("mqtt.topic_prefix %q must not contain wildcards", cfg.MQTT.TopicPrefix)
	}

	// History
	if cfg.History.Buffer < 0 {
		add("history.buffer must not be negative")
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		add("telemetry.trace_sample_ratio %.2f is out of range (0, 1]", r)
	}

	return errors.Join(errs...)
}
