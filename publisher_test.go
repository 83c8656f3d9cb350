package oscsim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// readEnvelope pulls one encoded frame off the publisher's send queue.
func readEnvelope(t *testing.T, p *Publisher) (string, *Frame) {
	t.Helper()
	select {
	case env := <-p.sendQ:
		frame, err := (&JSONCodec{}).DecodeFrame(env.payload)
		if err != nil {
			t.Fatalf("could not decode published payload: %v", err)
		}
		return env.subID, frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a published frame")
		return "", nil
	}
}

func TestSubscribeValidatesCadence(t *testing.T) {
	p := NewPublisher(&JSONCodec{}, Ports.Frames)
	_, err := p.Subscribe(0)
	assert.Equal(t, InvalidParameter, KindOf(err))
	_, err = p.Subscribe(-3)
	assert.Equal(t, InvalidParameter, KindOf(err))

	info, err := p.Subscribe(5)
	assert.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, 5, info.Every)
	assert.Equal(t, 1, p.NSubscribers())
}

// TestSubscriptionCadence is the two-subscriber scenario: one taking every
// frame, one every 5th. After 10 frames the first has 10 deliveries and the
// second has 2.
func TestSubscriptionCadence(t *testing.T) {
	p := NewPublisher(&JSONCodec{}, Ports.Frames)
	subAll, err := p.Subscribe(1)
	assert.NoError(t, err)
	subFifth, err := p.Subscribe(5)
	assert.NoError(t, err)

	received := make(map[string][]FrameIndex)
	for i := 1; i <= 10; i++ {
		f := makeTestFrame(4, 4)
		f.Seq = FrameIndex(i)
		p.PublishFrame(f)
		// Wait for the every-frame subscriber to see this sequence number,
		// so the next publish cannot be coalesced away.
		for {
			id, frame := readEnvelope(t, p)
			received[id] = append(received[id], frame.Seq)
			if id == subAll.ID && frame.Seq == FrameIndex(i) {
				break
			}
		}
	}
	// The every-5th subscriber's last delivery may still be in flight.
	deadline := time.Now().Add(time.Second)
	for len(received[subFifth.ID]) < 2 && time.Now().Before(deadline) {
		select {
		case env := <-p.sendQ:
			frame, err := (&JSONCodec{}).DecodeFrame(env.payload)
			assert.NoError(t, err)
			received[env.subID] = append(received[env.subID], frame.Seq)
		case <-time.After(50 * time.Millisecond):
		}
	}

	assert.Equal(t, []FrameIndex{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, received[subAll.ID])
	assert.Equal(t, []FrameIndex{5, 10}, received[subFifth.ID])
}

// TestSlowSubscriberCoalesces publishes a burst far faster than delivery
// and checks at-most-latest semantics: the final frame arrives, order is
// strictly increasing, and no frame is delivered twice.
func TestSlowSubscriberCoalesces(t *testing.T) {
	p := NewPublisher(&JSONCodec{}, Ports.Frames)
	sub, err := p.Subscribe(1)
	assert.NoError(t, err)

	const nframes = 100
	var seqs []FrameIndex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case env := <-p.sendQ:
				frame, err := (&JSONCodec{}).DecodeFrame(env.payload)
				if err != nil {
					t.Error(err)
					return
				}
				seqs = append(seqs, frame.Seq)
				if frame.Seq == nframes {
					return
				}
			case <-time.After(2 * time.Second):
				t.Error("never received the final frame")
				return
			}
		}
	}()

	for i := 1; i <= nframes; i++ {
		f := makeTestFrame(2, 4)
		f.Seq = FrameIndex(i)
		p.PublishFrame(f)
	}
	<-done

	assert.Equal(t, FrameIndex(nframes), seqs[len(seqs)-1])
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("delivery not strictly increasing: %d then %d (no reordering, no duplicates)",
				seqs[i-1], seqs[i])
		}
	}
	_ = sub
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher(&JSONCodec{}, Ports.Frames)
	subA, _ := p.Subscribe(1)
	subB, _ := p.Subscribe(1)
	assert.Equal(t, 2, p.NSubscribers())

	p.Unsubscribe(subA.ID)
	assert.Equal(t, 1, p.NSubscribers())
	p.Unsubscribe(subA.ID) // unknown IDs are a silent no-op
	assert.Equal(t, 1, p.NSubscribers())

	f := makeTestFrame(2, 4)
	f.Seq = 1
	p.PublishFrame(f)
	id, frame := readEnvelope(t, p)
	assert.Equal(t, subB.ID, id, "only the remaining subscriber is served")
	assert.Equal(t, FrameIndex(1), frame.Seq)

	select {
	case env := <-p.sendQ:
		t.Errorf("unexpected extra delivery for %s", env.subID)
	case <-time.After(100 * time.Millisecond):
	}
}
