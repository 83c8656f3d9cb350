package oscsim

import (
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"
)

// WaveKind names one of the supported waveform shapes.
type WaveKind string

// The supported waveform kinds. Any kind becomes a composite when the
// channel's NoiseAmplitude is positive: uniform noise is added on top.
const (
	Sine     WaveKind = "sine"
	Square   WaveKind = "square"
	Triangle WaveKind = "triangle"
	Noise    WaveKind = "noise"
)

// ValidKind reports whether k names a supported waveform kind.
func ValidKind(k WaveKind) bool {
	switch k {
	case Sine, Square, Triangle, Noise:
		return true
	}
	return false
}

// ChannelConfig holds the complete parameter set of one simulated channel.
// Amplitude and Offset are in volts, Frequency in Hz, Phase in radians.
type ChannelConfig struct {
	Name           string
	Kind           WaveKind
	Frequency      float64
	Amplitude      float64
	Phase          float64
	Offset         float64
	NoiseAmplitude float64
	NoiseSeed      int64
}

// Validate checks that cfg describes a generatable waveform. Frequency zero
// is legal (it yields a constant trace); negative frequency is not.
func (cfg *ChannelConfig) Validate() error {
	if !ValidKind(cfg.Kind) {
		return Invalidf("channel %q: unknown waveform kind %q", cfg.Name, cfg.Kind)
	}
	if cfg.Frequency < 0 {
		return Invalidf("channel %q: frequency %v is negative", cfg.Name, cfg.Frequency)
	}
	for _, v := range []float64{cfg.Frequency, cfg.Amplitude, cfg.Phase, cfg.Offset, cfg.NoiseAmplitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Invalidf("channel %q: parameter is NaN or Inf", cfg.Name)
		}
	}
	if cfg.Phase < 0 || cfg.Phase >= 2*math.Pi {
		return Invalidf("channel %q: phase %v outside [0, 2π)", cfg.Name, cfg.Phase)
	}
	if cfg.NoiseAmplitude < 0 {
		return Invalidf("channel %q: noise amplitude %v is negative", cfg.Name, cfg.NoiseAmplitude)
	}
	return nil
}

// MakeTimeAxis returns n timestamps spanning [0, timeRange] seconds,
// endpoints included, the axis shared by all channels of one frame.
func MakeTimeAxis(n int, timeRange float64) []float64 {
	switch {
	case n <= 0:
		return []float64{}
	case n == 1:
		return []float64{0}
	}
	return floats.Span(make([]float64, n), 0, timeRange)
}

// Generate synthesizes one channel's samples over the given time axis. It is
// a pure function of its inputs: identical axis, config, and rng state yield
// identical output. The rng is consumed only when cfg calls for noise; a nil
// rng with an unseeded noise request falls back to a time-seeded source.
// Each frame is computed afresh from absolute axis times, never by
// accumulating a running phase, so variable tick timing causes no drift.
func Generate(timeAxis []float64, cfg ChannelConfig, rng *rand.Rand) ([]float64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := make([]float64, len(timeAxis))

	omega := 2 * math.Pi * cfg.Frequency
	switch cfg.Kind {
	case Sine:
		for i, t := range timeAxis {
			out[i] = cfg.Amplitude*math.Sin(omega*t+cfg.Phase) + cfg.Offset
		}
	case Square:
		for i, t := range timeAxis {
			s := math.Sin(omega*t + cfg.Phase)
			if s < 0 {
				out[i] = -cfg.Amplitude + cfg.Offset
			} else {
				out[i] = cfg.Amplitude + cfg.Offset
			}
		}
	case Triangle:
		scale := 2 * cfg.Amplitude / math.Pi
		for i, t := range timeAxis {
			out[i] = scale*math.Asin(math.Sin(omega*t+cfg.Phase)) + cfg.Offset
		}
	case Noise:
		for i := range timeAxis {
			out[i] = cfg.Offset
		}
	}

	if cfg.NoiseAmplitude > 0 {
		switch {
		case cfg.NoiseSeed != 0:
			rng = rand.New(rand.NewSource(cfg.NoiseSeed))
		case rng == nil:
			// A noise request must never silently yield a clean trace.
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		for i := range out {
			out[i] += (rng.Float64()*2 - 1) * cfg.NoiseAmplitude
		}
	}
	return out, nil
}
