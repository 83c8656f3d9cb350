package oscsim

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/VigneshVSV/oscilloscope-simulator/internal/scopedb"
)

// ScopeControl is the sub-server that handles the remote property, action,
// and event surface of the simulated oscilloscope.
type ScopeControl struct {
	registry  *Registry
	loop      *AcquisitionLoop
	publisher *Publisher
	config    ServerConfig

	clientUpdates chan<- ClientUpdate
	db            *scopedb.Connection

	// Run metadata, touched from concurrent RPC handler goroutines.
	runLock  sync.Mutex
	runID    string
	runStart time.Time
}

// NewScopeControl wires the control surface to its collaborators. updates
// and db may be nil.
func NewScopeControl(cfg ServerConfig, reg *Registry, loop *AcquisitionLoop,
	pub *Publisher, updates chan<- ClientUpdate, db *scopedb.Connection) *ScopeControl {
	return &ScopeControl{
		registry:      reg,
		loop:          loop,
		publisher:     pub,
		config:        cfg,
		clientUpdates: updates,
		db:            db,
	}
}

// ServerStatus is the status that ScopeControl reports to clients. Seq
// doubles as the staleness marker for the latest-frame property.
type ServerStatus struct {
	Running        bool
	State          string
	Nchannels      int
	Nsamples       int
	TimeRange      float64
	TickPeriod     time.Duration
	Codec          string
	Seq            FrameIndex
	Nsubscriptions int
	TickFailures   int
	Overruns       int
}

func (s *ScopeControl) computeStatus() ServerStatus {
	failures, overruns := s.loop.Counters()
	return ServerStatus{
		Running:        s.loop.State() == Running,
		State:          s.loop.State().String(),
		Nchannels:      s.registry.NChan(),
		Nsamples:       s.loop.SampleCount(),
		TimeRange:      s.loop.TimeRange(),
		TickPeriod:     s.loop.Period(),
		Codec:          s.config.Codec,
		Seq:            s.loop.Seq(),
		Nsubscriptions: s.publisher.NSubscribers(),
		TickFailures:   failures,
		Overruns:       overruns,
	}
}

// broadcast queues a client update without ever blocking an RPC handler or
// the acquisition loop. If the updater is saturated the update is dropped;
// the periodic status tick repairs client state.
func (s *ScopeControl) broadcast(tag string, state interface{}) {
	if s.clientUpdates == nil {
		return
	}
	select {
	case s.clientUpdates <- ClientUpdate{tag: tag, state: state}:
	default:
		ProblemLogger.Printf("dropped %s update: updater not keeping up", tag)
	}
}

func (s *ScopeControl) broadcastStatus() {
	s.broadcast("STATUS", s.computeStatus())
}

// ChannelReply is a property read of one channel: the full parameter set
// plus its version, which increases with every accepted write.
type ChannelReply struct {
	Channel ChannelConfig
	Version uint64
}

// Channel reads the parameters of one channel by index.
func (s *ScopeControl) Channel(index *int, reply *ChannelReply) error {
	cfg, version, err := s.registry.Channel(*index)
	if err != nil {
		return err
	}
	reply.Channel = cfg
	reply.Version = version
	return nil
}

// ChannelListReply is a property read of all channels in order.
type ChannelListReply struct {
	Channels []ChannelConfig
	Versions []uint64
}

// ChannelList reads every channel's parameters.
func (s *ScopeControl) ChannelList(dummy *string, reply *ChannelListReply) error {
	n := s.registry.NChan()
	reply.Channels = make([]ChannelConfig, n)
	reply.Versions = make([]uint64, n)
	for i := 0; i < n; i++ {
		cfg, version, err := s.registry.Channel(i)
		if err != nil {
			return err
		}
		reply.Channels[i] = cfg
		reply.Versions[i] = version
	}
	return nil
}

// ChannelUpdateObject is the RPC-usable structure for a channel property
// write.
type ChannelUpdateObject struct {
	Channel int
	Update  ChannelUpdate
}

// ConfigureChannel applies a validated partial parameter update to one
// channel. On InvalidParameter nothing is applied and the prior parameters
// remain in force for subsequent frames. An accepted write is acknowledged
// here before it can appear in any frame, and broadcast as a CHANNEL event.
func (s *ScopeControl) ConfigureChannel(args *ChannelUpdateObject, reply *ChannelReply) error {
	cfg, version, err := s.registry.Update(args.Channel, args.Update)
	if err != nil {
		return err
	}
	reply.Channel = cfg
	reply.Version = version
	s.broadcast("CHANNEL", *reply)
	return nil
}

// ResetChannel restores one channel to its startup defaults.
func (s *ScopeControl) ResetChannel(index *int, reply *ChannelReply) error {
	cfg, version, err := s.registry.Reset(*index)
	if err != nil {
		return err
	}
	reply.Channel = cfg
	reply.Version = version
	s.broadcast("CHANNEL", *reply)
	return nil
}

// FrameReply is a property read of the most recent frame. Ready is false
// before the first tick. The frame's own Seq is the staleness marker.
type FrameReply struct {
	Ready bool
	Frame *Frame
}

// LatestFrame reads the most recently published frame. It never blocks on
// the acquisition loop: the reply is whatever was last published.
func (s *ScopeControl) LatestFrame(dummy *string, reply *FrameReply) error {
	f := s.loop.LatestFrame()
	reply.Ready = f != nil
	reply.Frame = f
	return nil
}

// TimeAxisReply is a property read of the latest frame's time axis.
type TimeAxisReply struct {
	Seq      FrameIndex
	TimeAxis []float64
}

// TimeAxis reads the time axis of the most recent frame, so a client can
// pair it with the channel properties of the same snapshot.
func (s *ScopeControl) TimeAxis(dummy *string, reply *TimeAxisReply) error {
	f := s.loop.LatestFrame()
	if f == nil {
		reply.TimeAxis = []float64{}
		return nil
	}
	reply.Seq = f.Seq
	reply.TimeAxis = f.TimeAxis
	return nil
}

// Status reads the server status property.
func (s *ScopeControl) Status(dummy *string, reply *ServerStatus) error {
	*reply = s.computeStatus()
	return nil
}

// Start begins periodic acquisition. Starting a running loop is a no-op,
// not an error.
func (s *ScopeControl) Start(dummy *string, reply *bool) error {
	alreadyRunning := s.loop.State() == Running
	if err := s.loop.Start(); err != nil {
		return err
	}
	if !alreadyRunning {
		s.runLock.Lock()
		s.runID = ulid.Make().String()
		s.runStart = time.Now()
		runID := s.runID
		s.runLock.Unlock()
		UpdateLogger.Printf("acquisition started, run %s", runID)
	}
	s.broadcastStatus()
	*reply = true
	return nil
}

// Stop halts periodic acquisition. Stopping an idle loop is a no-op.
func (s *ScopeControl) Stop(dummy *string, reply *bool) error {
	wasRunning := s.loop.State() == Running
	if err := s.loop.Stop(); err != nil {
		return err
	}
	if wasRunning {
		s.runLock.Lock()
		runID, runStart := s.runID, s.runStart
		s.runLock.Unlock()
		UpdateLogger.Printf("acquisition stopped, run %s", runID)
		s.recordRun(runID, runStart)
	}
	s.broadcastStatus()
	*reply = true
	return nil
}

// recordRun logs the completed acquisition run's metadata (never sample
// data) to ClickHouse, when a connection is configured.
func (s *ScopeControl) recordRun(runID string, runStart time.Time) {
	if s.db == nil || !s.db.IsConnected() {
		return
	}
	s.db.RecordRun(&scopedb.RunMessage{
		ID:         runID,
		ServerID:   Build.Summary,
		Nchannels:  s.registry.NChan(),
		NSamples:   s.loop.SampleCount(),
		TimeRange:  s.loop.TimeRange(),
		TickPeriod: s.loop.Period(),
		Codec:      s.config.Codec,
		Start:      runStart,
		End:        time.Now(),
	})
}

// SetSampleCount changes the per-channel sample count, effective from the
// next generated frame.
func (s *ScopeControl) SetSampleCount(n *int, reply *bool) error {
	if err := s.loop.SetSampleCount(*n); err != nil {
		return err
	}
	s.broadcastStatus()
	*reply = true
	return nil
}

// SetTickPeriod changes the acquisition period. The argument is a duration
// string such as "100ms".
func (s *ScopeControl) SetTickPeriod(period *string, reply *bool) error {
	d, err := time.ParseDuration(*period)
	if err != nil {
		return Invalidf("tick period %q: %v", *period, err)
	}
	if err := s.loop.SetPeriod(d); err != nil {
		return err
	}
	s.broadcastStatus()
	*reply = true
	return nil
}

// SubscribeObject is the RPC-usable structure for an event subscription
// request. Every=1 delivers each frame; Every=N delivers frames whose
// sequence number is a multiple of N.
type SubscribeObject struct {
	Every int
}

// Subscribe registers a frame subscription and returns the topic to set on
// a SUB socket connected to the frames port.
func (s *ScopeControl) Subscribe(args *SubscribeObject, reply *SubscriptionInfo) error {
	info, err := s.publisher.Subscribe(args.Every)
	if err != nil {
		return err
	}
	*reply = info
	s.broadcastStatus()
	return nil
}

// Unsubscribe removes a frame subscription by ID.
func (s *ScopeControl) Unsubscribe(id *string, reply *bool) error {
	s.publisher.Unsubscribe(*id)
	s.broadcastStatus()
	*reply = true
	return nil
}

// SendAllStatus causes a broadcast to clients containing all broadcastable
// status info.
func (s *ScopeControl) SendAllStatus(dummy *string, reply *bool) error {
	s.broadcastStatus()
	chans := ChannelListReply{}
	if err := s.ChannelList(dummy, &chans); err != nil {
		return err
	}
	for i := range chans.Channels {
		s.broadcast("CHANNEL", ChannelReply{Channel: chans.Channels[i], Version: chans.Versions[i]})
	}
	*reply = true
	return nil
}

// RunRPCServer sets up and runs a permanent JSON-RPC server on the given
// port, optionally wrapped in TLS. It also ticks a periodic status
// broadcast. Returns only on listener failure or when abort closes.
func RunRPCServer(sc *ScopeControl, portrpc int, tlsConfig *tls.Config, abort <-chan struct{}) error {
	server := rpc.NewServer()
	if err := server.Register(sc); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-abort:
				return
			case <-ticker.C:
				sc.broadcastStatus()
			}
		}
	}()

	// Now launch the connection handler and accept connections.
	addr := fmt.Sprintf("%s:%d", BindAddr, portrpc)
	var listener net.Listener
	var err error
	if tlsConfig != nil {
		listener, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return Configf("listen on %s: %v", addr, err)
	}
	go func() {
		<-abort
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-abort:
				return nil
			default:
				return err
			}
		}
		UpdateLogger.Printf("new connection established")
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// The capability manifest: a machine-readable description of the remote
// surface, enough for a generic client to enumerate what it can read,
// write, invoke, and subscribe to.

// PropertyDescriptor describes one readable (and possibly writable) value.
type PropertyDescriptor struct {
	Name       string
	Type       string
	Access     string // "read" or "readwrite"
	ReadMethod string
}

// ActionDescriptor describes one invokable action.
type ActionDescriptor struct {
	Name   string
	Method string
	Args   string
}

// EventDescriptor describes one subscribable event stream.
type EventDescriptor struct {
	Name      string
	Transport string
	Port      int
	Topic     string
}

// DescribeReply is the capability manifest.
type DescribeReply struct {
	Name       string
	Version    string
	Properties []PropertyDescriptor
	Actions    []ActionDescriptor
	Events     []EventDescriptor
}

// Describe returns the capability manifest enumerating the server's
// properties, actions, and events.
func (s *ScopeControl) Describe(dummy *string, reply *DescribeReply) error {
	reply.Name = "oscilloscope-simulator"
	reply.Version = Build.Version
	reply.Properties = []PropertyDescriptor{
		{Name: "channel", Type: "ChannelConfig", Access: "readwrite", ReadMethod: "ScopeControl.Channel"},
		{Name: "channel-list", Type: "[]ChannelConfig", Access: "read", ReadMethod: "ScopeControl.ChannelList"},
		{Name: "latest-frame", Type: "Frame", Access: "read", ReadMethod: "ScopeControl.LatestFrame"},
		{Name: "time-axis", Type: "[]float64", Access: "read", ReadMethod: "ScopeControl.TimeAxis"},
		{Name: "status", Type: "ServerStatus", Access: "read", ReadMethod: "ScopeControl.Status"},
	}
	reply.Actions = []ActionDescriptor{
		{Name: "start", Method: "ScopeControl.Start", Args: "none"},
		{Name: "stop", Method: "ScopeControl.Stop", Args: "none"},
		{Name: "configure-channel", Method: "ScopeControl.ConfigureChannel", Args: "ChannelUpdateObject"},
		{Name: "reset-channel", Method: "ScopeControl.ResetChannel", Args: "channel index"},
		{Name: "set-sample-count", Method: "ScopeControl.SetSampleCount", Args: "int"},
		{Name: "set-tick-period", Method: "ScopeControl.SetTickPeriod", Args: "duration string"},
		{Name: "subscribe", Method: "ScopeControl.Subscribe", Args: "SubscribeObject"},
		{Name: "unsubscribe", Method: "ScopeControl.Unsubscribe", Args: "subscription ID"},
	}
	reply.Events = []EventDescriptor{
		{Name: "frame-published", Transport: "zmq-pub", Port: Ports.Frames, Topic: "per-subscription ID"},
		{Name: "frame-notice", Transport: "zmq-pub", Port: Ports.Status, Topic: "FRAME"},
		{Name: "channel-changed", Transport: "zmq-pub", Port: Ports.Status, Topic: "CHANNEL"},
		{Name: "status", Transport: "zmq-pub", Port: Ports.Status, Topic: "STATUS"},
	}
	return nil
}
