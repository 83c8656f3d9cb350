package oscsim

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testChannels() []ChannelConfig {
	return DefaultChannels()
}

func TestRegistryBasics(t *testing.T) {
	reg, err := NewRegistry(testChannels())
	assert.NoError(t, err)
	assert.Equal(t, 4, reg.NChan())

	cfg, version, err := reg.Channel(0)
	assert.NoError(t, err)
	assert.Equal(t, Sine, cfg.Kind)
	assert.Equal(t, 1.0, cfg.Frequency)
	assert.Equal(t, uint64(1), version)

	list := reg.ChannelList()
	assert.Len(t, list, 4)
	assert.Equal(t, "A", list[0].Name)
	assert.Equal(t, "D", list[3].Name)

	_, _, err = reg.Channel(4)
	assert.Equal(t, InvalidParameter, KindOf(err))
	_, _, err = reg.Channel(-1)
	assert.Equal(t, InvalidParameter, KindOf(err))
}

func TestRegistryRejectsBadDefaults(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.Equal(t, Configuration, KindOf(err))

	bad := testChannels()
	bad[2].Frequency = -1
	_, err = NewRegistry(bad)
	assert.Equal(t, InvalidParameter, KindOf(err))
}

func TestRegistryPartialUpdate(t *testing.T) {
	reg, _ := NewRegistry(testChannels())
	freq := 5.0
	got, version, err := reg.Update(0, ChannelUpdate{Frequency: &freq})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, got.Frequency)
	assert.Equal(t, 1.0, got.Amplitude, "untouched fields keep their values")
	assert.Equal(t, Sine, got.Kind)
	assert.Equal(t, uint64(2), version, "version increases on every accepted update")

	kind := Square
	amp := 2.5
	got, version, err = reg.Update(0, ChannelUpdate{Kind: &kind, Amplitude: &amp})
	assert.NoError(t, err)
	assert.Equal(t, Square, got.Kind)
	assert.Equal(t, 2.5, got.Amplitude)
	assert.Equal(t, 5.0, got.Frequency, "frequency from the earlier update survives")
	assert.Equal(t, uint64(3), version)
}

// TestRegistryRejectedUpdateLeavesStateUnchanged checks the all-or-nothing
// contract: an invalid write changes neither parameters nor version.
func TestRegistryRejectedUpdateLeavesStateUnchanged(t *testing.T) {
	reg, _ := NewRegistry(testChannels())
	before, vbefore, _ := reg.Channel(1)

	badFreq := -3.0
	goodAmp := 9.0
	_, _, err := reg.Update(1, ChannelUpdate{Frequency: &badFreq, Amplitude: &goodAmp})
	assert.Equal(t, InvalidParameter, KindOf(err))

	after, vafter, _ := reg.Channel(1)
	assert.Equal(t, before, after, "rejected update must not partially apply")
	assert.Equal(t, vbefore, vafter)
}

func TestRegistryReset(t *testing.T) {
	reg, _ := NewRegistry(testChannels())
	freq := 42.0
	_, _, err := reg.Update(2, ChannelUpdate{Frequency: &freq})
	assert.NoError(t, err)

	got, version, err := reg.Reset(2)
	assert.NoError(t, err)
	assert.Equal(t, 0.5, got.Frequency, "reset restores startup defaults")
	assert.Equal(t, uint64(3), version)
}

// TestRegistryConcurrentAccess runs writers against readers; under -race
// this verifies the per-channel locking, and the paired fields verify that
// no reader ever observes a torn parameter set.
func TestRegistryConcurrentAccess(t *testing.T) {
	reg, _ := NewRegistry(testChannels())
	const iterations = 500
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 1; i <= iterations; i++ {
			// Write frequency and amplitude in lockstep: amp == freq always.
			v := float64(i)
			if _, _, err := reg.Update(0, ChannelUpdate{Frequency: &v, Amplitude: &v}); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			cfg, _, err := reg.Channel(0)
			if err != nil {
				t.Error(err)
				return
			}
			if cfg.Frequency != cfg.Amplitude {
				t.Errorf("torn read: frequency %v, amplitude %v", cfg.Frequency, cfg.Amplitude)
				return
			}
		}
	}()
	wg.Wait()
}
