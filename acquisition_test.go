package oscsim

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// collectorSink gathers published frames for inspection.
type collectorSink struct {
	sync.Mutex
	frames []*Frame
}

func (c *collectorSink) PublishFrame(f *Frame) {
	c.Lock()
	c.frames = append(c.frames, f)
	c.Unlock()
}

func (c *collectorSink) collected() []*Frame {
	c.Lock()
	defer c.Unlock()
	out := make([]*Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func newTestLoop(t *testing.T, sink FrameSink, nsamp int, period time.Duration) (*AcquisitionLoop, *Registry) {
	t.Helper()
	reg, err := NewRegistry(DefaultChannels())
	if err != nil {
		t.Fatal(err)
	}
	loop, err := NewAcquisitionLoop(reg, sink, nil, nsamp, 1.0, period, 12345)
	if err != nil {
		t.Fatal(err)
	}
	return loop, reg
}

func TestLoopConfigValidation(t *testing.T) {
	reg, _ := NewRegistry(DefaultChannels())
	_, err := NewAcquisitionLoop(reg, nil, nil, -1, 1.0, time.Second, 0)
	assert.Equal(t, Configuration, KindOf(err))
	_, err = NewAcquisitionLoop(reg, nil, nil, 10, 0, time.Second, 0)
	assert.Equal(t, Configuration, KindOf(err))
	_, err = NewAcquisitionLoop(reg, nil, nil, 10, 1.0, 0, 0)
	assert.Equal(t, Configuration, KindOf(err))
}

func TestLoopStateMachine(t *testing.T) {
	loop, _ := newTestLoop(t, nil, 10, time.Hour)
	assert.Equal(t, Idle, loop.State())

	assert.NoError(t, loop.Start())
	assert.Equal(t, Running, loop.State())
	assert.NoError(t, loop.Start(), "starting a running loop is a no-op")
	assert.Equal(t, Running, loop.State())

	assert.NoError(t, loop.Stop())
	assert.Equal(t, Stopped, loop.State())
	assert.NoError(t, loop.Stop(), "stopping a stopped loop is a no-op")

	// A stopped loop can run again.
	assert.NoError(t, loop.Start())
	assert.Equal(t, Running, loop.State())
	assert.NoError(t, loop.Stop())
}

// TestReferenceScenario configures the 4 standard channels with 1000
// samples over 1 second and checks that one tick yields 5 internally
// consistent arrays of length 1000.
func TestReferenceScenario(t *testing.T) {
	sink := &collectorSink{}
	loop, _ := newTestLoop(t, sink, 1000, time.Second)

	frame, err := loop.Tick()
	assert.NoError(t, err)
	assert.True(t, frame.Consistent())
	assert.Equal(t, FrameIndex(1), frame.Seq)
	assert.Equal(t, 4, frame.NChan())
	assert.Equal(t, 1000, frame.NSamples())
	assert.Equal(t, []string{"A", "B", "C", "D"}, frame.Names)
	for i := 0; i < 4; i++ {
		assert.Len(t, frame.Samples[i], 1000)
	}
	assert.Len(t, frame.TimeAxis, 1000)

	// Sine channel: first sample ≈ sin(phase) with phase 0.
	assert.InDelta(t, math.Sin(0), frame.Samples[0][0], 1e-12)
	// Square channel: everywhere ±0.5.
	for _, v := range frame.Samples[1] {
		if v != 0.5 && v != -0.5 {
			t.Fatalf("square sample %v, want ±0.5", v)
		}
	}
	// Noise channel: within ±0.1 of offset 0.
	for _, v := range frame.Samples[3] {
		if v < -0.1 || v > 0.1 {
			t.Fatalf("noise sample %v outside ±0.1", v)
		}
	}

	assert.Len(t, sink.collected(), 1)
	assert.Same(t, frame, loop.LatestFrame())
}

// TestParameterChangeTakesEffectNextFrame checks that an update alters only
// frames generated after it, never one already produced.
func TestParameterChangeTakesEffectNextFrame(t *testing.T) {
	loop, reg := newTestLoop(t, nil, 100, time.Second)

	before, err := loop.Tick()
	assert.NoError(t, err)
	firstBefore := before.Samples[0][10]

	offset := 10.0
	_, _, err = reg.Update(0, ChannelUpdate{Offset: &offset})
	assert.NoError(t, err)

	after, err := loop.Tick()
	assert.NoError(t, err)
	assert.Equal(t, FrameIndex(2), after.Seq)
	assert.InDelta(t, firstBefore+10, after.Samples[0][10], 1e-12, "update must appear in the next frame")
	assert.Equal(t, firstBefore, before.Samples[0][10], "published frame must never change retroactively")
}

// TestFailedTickPublishesNothing forces one channel into an invalid state
// and checks whole-frame failure: no frame, error counted, loop usable.
func TestFailedTickPublishesNothing(t *testing.T) {
	sink := &collectorSink{}
	loop, reg := newTestLoop(t, sink, 50, time.Second)

	good, err := loop.Tick()
	assert.NoError(t, err)

	// Corrupt a channel behind the registry's validation, as if a bad
	// parameter had slipped through.
	reg.slots[2].Lock()
	saved := reg.slots[2].config.Frequency
	reg.slots[2].config.Frequency = -2
	reg.slots[2].Unlock()

	_, err = loop.Tick()
	assert.Equal(t, InvalidParameter, KindOf(err))
	assert.Len(t, sink.collected(), 1, "failed tick must not publish a frame")
	assert.Same(t, good, loop.LatestFrame(), "latest frame unchanged by a failed tick")
	failures, _ := loop.Counters()
	assert.Equal(t, 1, failures)

	// Restore and confirm the loop continues.
	reg.slots[2].Lock()
	reg.slots[2].config.Frequency = saved
	reg.slots[2].Unlock()
	next, err := loop.Tick()
	assert.NoError(t, err)
	assert.Equal(t, FrameIndex(2), next.Seq)
}

func TestEmptyFrameIsValid(t *testing.T) {
	loop, _ := newTestLoop(t, nil, 0, time.Second)
	frame, err := loop.Tick()
	assert.NoError(t, err)
	assert.True(t, frame.Consistent())
	assert.Equal(t, 0, frame.NSamples())
	assert.Equal(t, 4, frame.NChan())
}

func TestSettersValidate(t *testing.T) {
	loop, _ := newTestLoop(t, nil, 10, time.Second)
	assert.Equal(t, InvalidParameter, KindOf(loop.SetSampleCount(-5)))
	assert.Equal(t, InvalidParameter, KindOf(loop.SetPeriod(-time.Second)))
	assert.Equal(t, InvalidParameter, KindOf(loop.SetTimeRange(0)))

	assert.NoError(t, loop.SetSampleCount(64))
	assert.NoError(t, loop.SetTimeRange(0.25))
	frame, err := loop.Tick()
	assert.NoError(t, err)
	assert.Equal(t, 64, frame.NSamples())
	assert.Equal(t, 0.25, frame.TimeAxis[63])
}

// sleepySink simulates a slow consumer by sleeping inside PublishFrame,
// which runs on the tick goroutine.
type sleepySink struct {
	collectorSink
	delay time.Duration
}

func (s *sleepySink) PublishFrame(f *Frame) {
	s.collectorSink.PublishFrame(f)
	time.Sleep(s.delay)
}

func averageInterval(t *testing.T, frames []*Frame) time.Duration {
	t.Helper()
	if len(frames) < 2 {
		t.Fatalf("need at least 2 frames to measure cadence, have %d", len(frames))
	}
	span := frames[len(frames)-1].Timestamp.Sub(frames[0].Timestamp)
	return span / time.Duration(len(frames)-1)
}

func waitForFrames(t *testing.T, sink *sleepySink, n int, deadline time.Duration) []*Frame {
	t.Helper()
	limit := time.Now().Add(deadline)
	for len(sink.collected()) < n && time.Now().Before(limit) {
		time.Sleep(time.Millisecond)
	}
	frames := sink.collected()
	if len(frames) < n {
		t.Fatalf("received %d frames, want >= %d", len(frames), n)
	}
	return frames
}

// TestFixedCadenceUnderLoad checks that tick work does not stretch the
// period: with 30ms of work per 50ms tick, frames must still arrive about
// every 50ms, not every 80ms.
func TestFixedCadenceUnderLoad(t *testing.T) {
	sink := &sleepySink{delay: 30 * time.Millisecond}
	loop, _ := newTestLoop(t, sink, 16, 50*time.Millisecond)
	assert.NoError(t, loop.Start())
	frames := waitForFrames(t, sink, 6, 3*time.Second)
	assert.NoError(t, loop.Stop())

	avg := averageInterval(t, frames)
	if avg > 70*time.Millisecond {
		t.Fatalf("average tick interval %v drifts toward period+work; want about the 50ms period", avg)
	}
}

// TestOverrunFiresNextTickImmediately checks the overrun policy: when the
// work exceeds the period, the next tick fires at once instead of waiting
// out another full period, and the overrun is counted.
func TestOverrunFiresNextTickImmediately(t *testing.T) {
	sink := &sleepySink{delay: 40 * time.Millisecond}
	loop, _ := newTestLoop(t, sink, 16, 10*time.Millisecond)
	assert.NoError(t, loop.Start())
	frames := waitForFrames(t, sink, 5, 3*time.Second)
	assert.NoError(t, loop.Stop())

	_, overruns := loop.Counters()
	if overruns < 1 {
		t.Error("overrunning ticks were not counted")
	}
	// Back-to-back ticks run at the pace of the work (40ms), while waiting
	// out a fresh period after each overrun would take 50ms.
	avg := averageInterval(t, frames)
	if avg > 47*time.Millisecond {
		t.Fatalf("average tick interval %v; overruns must not wait out another period", avg)
	}
}

// TestTickRefusedWhileRunning pins the single-producer rule: on-demand
// frames are only available while the periodic goroutine is not running.
func TestTickRefusedWhileRunning(t *testing.T) {
	loop, _ := newTestLoop(t, nil, 10, time.Hour)
	assert.NoError(t, loop.Start())
	_, err := loop.Tick()
	assert.Equal(t, InvalidParameter, KindOf(err))
	assert.NoError(t, loop.Stop())

	frame, err := loop.Tick()
	assert.NoError(t, err, "a stopped loop accepts on-demand ticks again")
	assert.Equal(t, FrameIndex(1), frame.Seq)
}

// TestPeriodicTicking runs the real goroutine briefly and checks frames
// arrive with strictly increasing sequence numbers.
func TestPeriodicTicking(t *testing.T) {
	sink := &collectorSink{}
	loop, _ := newTestLoop(t, sink, 16, 5*time.Millisecond)

	assert.NoError(t, loop.Start())
	deadline := time.Now().Add(2 * time.Second)
	for len(sink.collected()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.NoError(t, loop.Stop())

	frames := sink.collected()
	if len(frames) < 3 {
		t.Fatalf("received %d frames in 2s at 5ms period, want >= 3", len(frames))
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Seq <= frames[i-1].Seq {
			t.Fatalf("sequence numbers not strictly increasing: %d then %d", frames[i-1].Seq, frames[i].Seq)
		}
	}
}
