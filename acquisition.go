package oscsim

import (
	"math/rand"
	"sync"
	"time"
)

// LoopState is the acquisition loop's position in its Idle -> Running ->
// Stopped state machine. A Stopped loop may be started again.
type LoopState int

// Names for the possible values of LoopState.
const (
	Idle LoopState = iota
	Running
	Stopped
)

func (s LoopState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	}
	return "unknown"
}

// FrameSink receives each newly published frame. The ZMQ publisher is the
// production implementation; tests collect frames directly.
type FrameSink interface {
	PublishFrame(*Frame)
}

// AcquisitionLoop periodically snapshots the registry, synthesizes one
// sample slice per channel over a fresh time axis, and publishes the result
// as an immutable Frame. It is the sole producer of frames.
type AcquisitionLoop struct {
	registry *Registry
	sink     FrameSink
	updates  chan<- ClientUpdate
	rng      *rand.Rand

	stateLock   sync.Mutex
	state       LoopState
	abort       chan struct{}
	runDone     sync.WaitGroup
	period      time.Duration
	sampleCount int
	timeRange   float64
	seq         FrameIndex
	latest      *Frame

	// Counters reported in ServerStatus.
	tickFailures int
	overruns     int
}

// NewAcquisitionLoop creates an idle loop. sink may be nil (frames are then
// only retained as the latest snapshot); updates may be nil.
func NewAcquisitionLoop(reg *Registry, sink FrameSink, updates chan<- ClientUpdate,
	sampleCount int, timeRange float64, period time.Duration, seed int64) (*AcquisitionLoop, error) {
	if sampleCount < 0 {
		return nil, Configf("sample count %d is negative", sampleCount)
	}
	if timeRange <= 0 {
		return nil, Configf("time range %v must be positive", timeRange)
	}
	if period <= 0 {
		return nil, Configf("tick period %v must be positive", period)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &AcquisitionLoop{
		registry:    reg,
		sink:        sink,
		updates:     updates,
		rng:         rand.New(rand.NewSource(seed)),
		period:      period,
		sampleCount: sampleCount,
		timeRange:   timeRange,
	}, nil
}

// State returns the loop's current state.
func (lp *AcquisitionLoop) State() LoopState {
	lp.stateLock.Lock()
	defer lp.stateLock.Unlock()
	return lp.state
}

// Start launches the tick goroutine. Starting a Running loop is a no-op.
func (lp *AcquisitionLoop) Start() error {
	lp.stateLock.Lock()
	defer lp.stateLock.Unlock()
	if lp.state == Running {
		return nil
	}
	lp.abort = make(chan struct{})
	lp.state = Running
	lp.runDone.Add(1)
	go lp.run(lp.abort)
	return nil
}

// Stop halts the tick goroutine and waits for it to exit. Stopping a loop
// that is not Running is a no-op.
func (lp *AcquisitionLoop) Stop() error {
	lp.stateLock.Lock()
	if lp.state != Running {
		lp.stateLock.Unlock()
		return nil
	}
	close(lp.abort)
	lp.state = Stopped
	lp.stateLock.Unlock()
	lp.runDone.Wait()
	return nil
}

// run is the tick goroutine. Ticks are scheduled against absolute
// deadlines spaced one period apart, so the cadence never drifts by the
// work time of a tick. A failed tick publishes nothing and the loop
// carries on. If a tick overruns its deadline the next fires immediately;
// work is skipped, never queued.
func (lp *AcquisitionLoop) run(abort chan struct{}) {
	defer lp.runDone.Done()
	deadline := time.Now().Add(lp.Period())
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		select {
		case <-abort:
			return
		case <-timer.C:
			frame, err := lp.acquire()
			if err != nil {
				lp.countFailure()
				ProblemLogger.Printf("tick failed, no frame published: %v", err)
			} else {
				lp.setLatest(frame)
				if lp.sink != nil {
					lp.sink.PublishFrame(frame)
				}
				lp.notifyFrame(frame)
			}
			period := lp.Period()
			deadline = deadline.Add(period)
			wait := time.Until(deadline)
			if wait < 0 {
				lp.countOverrun()
				ProblemLogger.Printf("tick overran period %v by %v (seq %d)", period, -wait, lp.Seq())
				deadline = time.Now()
				wait = 0
			}
			timer.Reset(wait)
		}
	}
}

// acquire performs one tick's work and returns the assembled frame. Any
// channel failing fails the whole tick.
func (lp *AcquisitionLoop) acquire() (*Frame, error) {
	lp.stateLock.Lock()
	nsamp := lp.sampleCount
	trange := lp.timeRange
	lp.stateLock.Unlock()

	axis := MakeTimeAxis(nsamp, trange)
	configs := lp.registry.ChannelList()
	frame := &Frame{
		Timestamp: time.Now().Round(0),
		TimeRange: trange,
		TimeAxis:  axis,
		Names:     make([]string, len(configs)),
		Samples:   make([][]float64, len(configs)),
	}
	for i, cfg := range configs {
		samples, err := Generate(axis, cfg, lp.rng)
		if err != nil {
			return nil, err
		}
		frame.Names[i] = cfg.Name
		frame.Samples[i] = samples
	}

	lp.stateLock.Lock()
	lp.seq++
	frame.Seq = lp.seq
	lp.stateLock.Unlock()
	return frame, nil
}

// Tick runs one acquisition cycle synchronously, for tests and clients
// that want a frame on demand while the loop is idle. It refuses while the
// loop is Running: the periodic goroutine is the sole frame producer then,
// and a second concurrent producer could deliver frames out of order.
func (lp *AcquisitionLoop) Tick() (*Frame, error) {
	if lp.State() == Running {
		return nil, Invalidf("loop is running; stop it before requesting on-demand frames")
	}
	frame, err := lp.acquire()
	if err != nil {
		lp.countFailure()
		return nil, err
	}
	lp.setLatest(frame)
	if lp.sink != nil {
		lp.sink.PublishFrame(frame)
	}
	lp.notifyFrame(frame)
	return frame, nil
}

func (lp *AcquisitionLoop) setLatest(f *Frame) {
	lp.stateLock.Lock()
	lp.latest = f
	lp.stateLock.Unlock()
}

// LatestFrame returns the most recently published frame without blocking, or
// nil if no frame has been published yet.
func (lp *AcquisitionLoop) LatestFrame() *Frame {
	lp.stateLock.Lock()
	defer lp.stateLock.Unlock()
	return lp.latest
}

// Seq returns the sequence number of the most recent frame.
func (lp *AcquisitionLoop) Seq() FrameIndex {
	lp.stateLock.Lock()
	defer lp.stateLock.Unlock()
	return lp.seq
}

// Period returns the current tick period.
func (lp *AcquisitionLoop) Period() time.Duration {
	lp.stateLock.Lock()
	defer lp.stateLock.Unlock()
	return lp.period
}

// SetPeriod changes the tick period, taking effect after the current tick.
func (lp *AcquisitionLoop) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return Invalidf("tick period %v must be positive", d)
	}
	lp.stateLock.Lock()
	lp.period = d
	lp.stateLock.Unlock()
	return nil
}

// SampleCount returns the per-channel sample count.
func (lp *AcquisitionLoop) SampleCount() int {
	lp.stateLock.Lock()
	defer lp.stateLock.Unlock()
	return lp.sampleCount
}

// SetSampleCount changes the per-channel sample count for subsequent frames.
// Zero is legal and yields empty but valid frames.
func (lp *AcquisitionLoop) SetSampleCount(n int) error {
	if n < 0 {
		return Invalidf("sample count %d is negative", n)
	}
	lp.stateLock.Lock()
	lp.sampleCount = n
	lp.stateLock.Unlock()
	return nil
}

// TimeRange returns the time axis span in seconds.
func (lp *AcquisitionLoop) TimeRange() float64 {
	lp.stateLock.Lock()
	defer lp.stateLock.Unlock()
	return lp.timeRange
}

// SetTimeRange changes the time axis span for subsequent frames.
func (lp *AcquisitionLoop) SetTimeRange(tr float64) error {
	if tr <= 0 {
		return Invalidf("time range %v must be positive", tr)
	}
	lp.stateLock.Lock()
	lp.timeRange = tr
	lp.stateLock.Unlock()
	return nil
}

// Counters returns the failed-tick and overrun counts.
func (lp *AcquisitionLoop) Counters() (tickFailures, overruns int) {
	lp.stateLock.Lock()
	defer lp.stateLock.Unlock()
	return lp.tickFailures, lp.overruns
}

func (lp *AcquisitionLoop) countFailure() {
	lp.stateLock.Lock()
	lp.tickFailures++
	lp.stateLock.Unlock()
}

func (lp *AcquisitionLoop) countOverrun() {
	lp.stateLock.Lock()
	lp.overruns++
	lp.stateLock.Unlock()
}

// notifyFrame broadcasts a frame-published notice (sequence and timestamp,
// not the payload) on the status socket. Never blocks the loop: if the
// updater cannot keep up the notice is dropped.
func (lp *AcquisitionLoop) notifyFrame(f *Frame) {
	if lp.updates == nil {
		return
	}
	notice := FrameNotice{Seq: f.Seq, Timestamp: f.Timestamp, NSamples: f.NSamples()}
	select {
	case lp.updates <- ClientUpdate{tag: "FRAME", state: notice}:
	default:
	}
}

// FrameNotice is the frame-published event payload on the status socket.
type FrameNotice struct {
	Seq       FrameIndex
	Timestamp time.Time
	NSamples  int
}
