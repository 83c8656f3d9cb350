package oscsim

import (
	"time"
)

// FrameIndex is used for counting published frames.
type FrameIndex uint64

// Frame is the immutable snapshot produced by one acquisition tick: a time
// axis shared by all channels plus one sample slice per channel. Once the
// acquisition loop publishes a Frame it is never mutated again, so it can be
// handed to any number of subscribers without copying.
type Frame struct {
	Seq       FrameIndex
	Timestamp time.Time
	TimeRange float64
	TimeAxis  []float64
	Names     []string
	Samples   [][]float64
}

// Consistent reports whether the frame satisfies its shape invariant: one
// name per channel, and every channel's sample count equal to the time axis
// length.
func (f *Frame) Consistent() bool {
	if len(f.Names) != len(f.Samples) {
		return false
	}
	for _, s := range f.Samples {
		if len(s) != len(f.TimeAxis) {
			return false
		}
	}
	return true
}

// NSamples returns the per-channel sample count.
func (f *Frame) NSamples() int { return len(f.TimeAxis) }

// NChan returns the channel count.
func (f *Frame) NChan() int { return len(f.Samples) }
