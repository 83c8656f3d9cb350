package oscsim

import (
	"sync"
)

// ChannelUpdate is a partial parameter change for one channel. Nil fields
// keep their current value. It is the RPC-usable shape of a property write.
type ChannelUpdate struct {
	Kind           *WaveKind
	Frequency      *float64
	Amplitude      *float64
	Phase          *float64
	Offset         *float64
	NoiseAmplitude *float64
	NoiseSeed      *int64
}

type channelSlot struct {
	sync.Mutex
	config   ChannelConfig
	defaults ChannelConfig
	version  uint64
}

// Registry holds the parameter state of a fixed set of channels. Updates are
// applied atomically per channel under that channel's lock, so the
// acquisition loop never snapshots a torn parameter set. Channels cannot be
// added or removed after construction.
type Registry struct {
	slots []*channelSlot
}

// NewRegistry creates a registry with the given channels as both current
// state and the defaults that Reset restores.
func NewRegistry(defaults []ChannelConfig) (*Registry, error) {
	if len(defaults) == 0 {
		return nil, Configf("registry needs at least one channel")
	}
	r := &Registry{slots: make([]*channelSlot, len(defaults))}
	for i, cfg := range defaults {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		r.slots[i] = &channelSlot{config: cfg, defaults: cfg, version: 1}
	}
	return r, nil
}

// NChan returns the fixed number of channels.
func (r *Registry) NChan() int { return len(r.slots) }

func (r *Registry) slot(i int) (*channelSlot, error) {
	if i < 0 || i >= len(r.slots) {
		return nil, Invalidf("channel index %d out of range [0,%d)", i, len(r.slots))
	}
	return r.slots[i], nil
}

// Channel returns a copy of channel i's parameters and the channel's
// version, which increases on every successful update.
func (r *Registry) Channel(i int) (ChannelConfig, uint64, error) {
	s, err := r.slot(i)
	if err != nil {
		return ChannelConfig{}, 0, err
	}
	s.Lock()
	defer s.Unlock()
	return s.config, s.version, nil
}

// ChannelList returns ordered copies of every channel's parameters.
func (r *Registry) ChannelList() []ChannelConfig {
	list := make([]ChannelConfig, len(r.slots))
	for i, s := range r.slots {
		s.Lock()
		list[i] = s.config
		s.Unlock()
	}
	return list
}

// Update applies a partial parameter change to channel i. The merged
// candidate is validated before anything is stored: on InvalidParameter the
// channel keeps its prior state in full. Returns the new state and version.
func (r *Registry) Update(i int, upd ChannelUpdate) (ChannelConfig, uint64, error) {
	s, err := r.slot(i)
	if err != nil {
		return ChannelConfig{}, 0, err
	}
	s.Lock()
	defer s.Unlock()

	candidate := s.config
	if upd.Kind != nil {
		candidate.Kind = *upd.Kind
	}
	if upd.Frequency != nil {
		candidate.Frequency = *upd.Frequency
	}
	if upd.Amplitude != nil {
		candidate.Amplitude = *upd.Amplitude
	}
	if upd.Phase != nil {
		candidate.Phase = *upd.Phase
	}
	if upd.Offset != nil {
		candidate.Offset = *upd.Offset
	}
	if upd.NoiseAmplitude != nil {
		candidate.NoiseAmplitude = *upd.NoiseAmplitude
	}
	if upd.NoiseSeed != nil {
		candidate.NoiseSeed = *upd.NoiseSeed
	}
	if err := candidate.Validate(); err != nil {
		return ChannelConfig{}, 0, err
	}
	s.config = candidate
	s.version++
	return s.config, s.version, nil
}

// Reset restores channel i to its startup defaults.
func (r *Registry) Reset(i int) (ChannelConfig, uint64, error) {
	s, err := r.slot(i)
	if err != nil {
		return ChannelConfig{}, 0, err
	}
	s.Lock()
	defer s.Unlock()
	s.config = s.defaults
	s.version++
	return s.config, s.version, nil
}
