package oscsim

import (
	"math"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig is the startup configuration, read once from viper under the
// "scope" key. Nothing is ever written back: all runtime state is in-memory
// and rebuilt from these defaults on restart.
type ServerConfig struct {
	BindAddr    string
	PortBase    int
	SampleCount int
	TimeRange   float64
	TickPeriod  time.Duration
	Codec       string
	TLSCert     string
	TLSKey      string
	UseDB       bool
	Seed        int64
	Channels    []ChannelConfig
}

// DefaultChannels is the four-channel reference scenario: sine 1 Hz,
// square 2 Hz, triangle 0.5 Hz, and a pure noise trace.
func DefaultChannels() []ChannelConfig {
	return []ChannelConfig{
		{Name: "A", Kind: Sine, Frequency: 1, Amplitude: 1},
		{Name: "B", Kind: Square, Frequency: 2, Amplitude: 0.5},
		{Name: "C", Kind: Triangle, Frequency: 0.5, Amplitude: 2},
		{Name: "D", Kind: Noise, NoiseAmplitude: 0.1},
	}
}

// DefaultConfig returns the configuration used when no file overrides it:
// the reference scenario at 1000 samples over 1 second, 1 s ticks, JSON
// codec.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		PortBase:    5600,
		SampleCount: 1000,
		TimeRange:   1.0,
		TickPeriod:  time.Second,
		Codec:       "json",
		Channels:    DefaultChannels(),
	}
}

// LoadConfig merges the viper "scope" section over the defaults and
// validates the result. Errors are Configuration kind and fatal to startup.
func LoadConfig() (ServerConfig, error) {
	cfg := DefaultConfig()
	if sub := viper.Sub("scope"); sub != nil {
		cfg.BindAddr = sub.GetString("bindaddr")
		if sub.IsSet("portbase") {
			cfg.PortBase = sub.GetInt("portbase")
		}
		if sub.IsSet("nsamp") {
			cfg.SampleCount = sub.GetInt("nsamp")
		}
		if sub.IsSet("timerange") {
			cfg.TimeRange = sub.GetFloat64("timerange")
		}
		if sub.IsSet("tickperiod") {
			cfg.TickPeriod = sub.GetDuration("tickperiod")
		}
		if sub.IsSet("codec") {
			cfg.Codec = sub.GetString("codec")
		}
		cfg.TLSCert = sub.GetString("tlscert")
		cfg.TLSKey = sub.GetString("tlskey")
		cfg.UseDB = sub.GetBool("clickhouse")
		cfg.Seed = sub.GetInt64("seed")
		if sub.IsSet("channels") {
			var channels []ChannelConfig
			if err := sub.UnmarshalKey("channels", &channels); err != nil {
				return ServerConfig{}, Configf("channel defaults: %v", err)
			}
			cfg.Channels = channels
		}
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Validate checks the configuration, returning a Configuration error on the
// first problem found.
func (cfg *ServerConfig) Validate() error {
	if cfg.PortBase < 1024 || cfg.PortBase > 65533 {
		return Configf("port base %d outside [1024, 65533]", cfg.PortBase)
	}
	if cfg.SampleCount < 0 {
		return Configf("sample count %d is negative", cfg.SampleCount)
	}
	if cfg.TimeRange <= 0 || math.IsNaN(cfg.TimeRange) || math.IsInf(cfg.TimeRange, 0) {
		return Configf("time range %v must be positive and finite", cfg.TimeRange)
	}
	if cfg.TickPeriod <= 0 {
		return Configf("tick period %v must be positive", cfg.TickPeriod)
	}
	switch cfg.Codec {
	case "json", "raw":
	default:
		return Configf("unknown codec %q (want json or raw)", cfg.Codec)
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return Configf("TLS requires both certificate and key")
	}
	if cfg.TLSCert != "" {
		for _, f := range []string{cfg.TLSCert, cfg.TLSKey} {
			if _, err := os.Stat(f); err != nil {
				return Configf("TLS file %s: %v", f, err)
			}
		}
	}
	if len(cfg.Channels) == 0 {
		return Configf("at least one channel must be configured")
	}
	for _, ch := range cfg.Channels {
		if err := ch.Validate(); err != nil {
			return Configf("channel defaults: %v", err)
		}
	}
	return nil
}

// ChannelNames returns the configured channel names in order.
func (cfg *ServerConfig) ChannelNames() []string {
	names := make([]string, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		names[i] = ch.Name
	}
	return names
}
