package oscsim

// Contains the frame publisher: the fan-out from the acquisition loop to
// remote subscribers over a ZMQ PUB socket on the frames port.

import (
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	zmq "github.com/pebbe/zmq4"

	"github.com/VigneshVSV/oscilloscope-simulator/internal/coalesce"
)

// SubscriptionInfo is the RPC-usable description of one subscription: the
// topic to set on a SUB socket connected to the frames port.
type SubscriptionInfo struct {
	ID    string
	Every int
	Port  int
}

type pubEnvelope struct {
	subID   string
	payload []byte
}

// subscriber is one client's delivery path. Its outbox coalesces to the
// latest undelivered frame, and its drain goroutine serializes
// independently of all other subscribers, so one slow client costs the
// others nothing.
type subscriber struct {
	id        string
	every     FrameIndex
	outbox    *coalesce.Latest[*Frame]
	closeOnce sync.Once
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() { close(sub.outbox.In()) })
}

// Publisher delivers frames to subscribers. The PUB socket is owned by the
// single goroutine running in Run, fed through sendQ, because zmq4 sockets
// must not be shared between goroutines. Publishing never blocks the
// acquisition loop: per-subscriber outboxes coalesce, and the socket itself
// drops on a full high-water mark rather than queue without bound.
type Publisher struct {
	codec FrameCodec
	port  int

	lock  sync.Mutex
	subs  map[string]*subscriber
	sendQ chan pubEnvelope

	encodeFailures int
}

// NewPublisher creates a publisher that encodes frames with the given codec
// and sends them on the given port once Run is started.
func NewPublisher(codec FrameCodec, port int) *Publisher {
	return &Publisher{
		codec: codec,
		port:  port,
		subs:  make(map[string]*subscriber),
		sendQ: make(chan pubEnvelope, 16),
	}
}

// Run binds the PUB socket and forwards envelopes until abort closes. A
// failed send drops that subscription silently; other subscribers are
// unaffected.
func (p *Publisher) Run(abort <-chan struct{}) error {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(fmt.Sprintf("tcp://%s:%d", zmqBindHost(), p.port)); err != nil {
		return err
	}

	for {
		select {
		case <-abort:
			return nil
		case env := <-p.sendQ:
			if _, err := pubSocket.SendMessage(env.subID, env.payload); err != nil {
				terr := Transientf("send to subscriber %s: %v", env.subID, err)
				ProblemLogger.Printf("dropping subscription: %v", terr)
				p.Unsubscribe(env.subID)
			}
		}
	}
}

// Subscribe registers a delivery path receiving every Nth frame (every=1
// means all frames) and returns the topic the client should subscribe to.
func (p *Publisher) Subscribe(every int) (SubscriptionInfo, error) {
	if every < 1 {
		return SubscriptionInfo{}, Invalidf("subscription cadence %d, want >= 1", every)
	}
	sub := &subscriber{
		id:     ulid.Make().String(),
		every:  FrameIndex(every),
		outbox: coalesce.NewLatest[*Frame](),
	}
	p.lock.Lock()
	p.subs[sub.id] = sub
	p.lock.Unlock()
	go p.drain(sub)
	return SubscriptionInfo{ID: sub.id, Every: every, Port: p.port}, nil
}

// Unsubscribe removes a subscription. Unknown IDs are a no-op, matching the
// silent-drop policy for lost connections.
func (p *Publisher) Unsubscribe(id string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if sub, ok := p.subs[id]; ok {
		delete(p.subs, id)
		sub.close()
	}
}

// NSubscribers returns the number of live subscriptions.
func (p *Publisher) NSubscribers() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.subs)
}

// PublishFrame offers the frame to every subscriber whose cadence selects
// it. Offering to an outbox only hands the value to the coalescing
// goroutine, which is always ready to receive, so holding the lock across
// the sends cannot stall the acquisition loop on a slow consumer. The lock
// also orders the sends against Unsubscribe closing an outbox.
func (p *Publisher) PublishFrame(f *Frame) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, sub := range p.subs {
		if f.Seq%sub.every == 0 {
			sub.outbox.In() <- f
		}
	}
}

// drain is one subscriber's send loop: take the latest frame, encode it,
// and queue the result for the socket goroutine. Frames arrive here in
// publication order and the outbox only ever skips forward, so delivered
// sequence numbers are strictly increasing. An encoding failure discards
// that frame and the loop continues.
func (p *Publisher) drain(sub *subscriber) {
	for frame := range sub.outbox.Out() {
		payload, err := p.codec.EncodeFrame(frame)
		if err != nil {
			p.lock.Lock()
			p.encodeFailures++
			p.lock.Unlock()
			ProblemLogger.Printf("discarding frame %d for subscriber %s: %v", frame.Seq, sub.id, err)
			continue
		}
		p.sendQ <- pubEnvelope{subID: sub.id, payload: payload}
	}
}
