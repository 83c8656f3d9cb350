// Package coalesce provides a single-slot channel that always holds the most
// recently offered value. A subscriber outbox built on it delivers the
// latest frame to a slow consumer and silently drops the intermediate ones,
// so the producer is never blocked and memory use is bounded.
package coalesce

// Latest represents a depth-one queue with overwrite-on-full semantics,
// entered and drained via channels.
type Latest[T any] struct {
	in  chan T
	out chan T
}

// NewLatest creates and starts a Latest channel.
func NewLatest[T any]() *Latest[T] {
	lc := &Latest[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go lc.run()
	return lc
}

func (lc *Latest[T]) run() {
	var pending T
	havePending := false
	for {
		if !havePending {
			// Empty slot: only listen for new incoming data.
			val, ok := <-lc.in
			if !ok {
				close(lc.out)
				return
			}
			pending, havePending = val, true
		} else {
			// Occupied slot: try to deliver it, but let a newer value
			// overwrite it first.
			select {
			case lc.out <- pending:
				havePending = false
			case val, ok := <-lc.in:
				if !ok {
					// Input closed: deliver the held value, then close.
					lc.out <- pending
					close(lc.out)
					return
				}
				pending = val
			}
		}
	}
}

// In returns the input channel for offering values.
func (lc *Latest[T]) In() chan<- T {
	return lc.in
}

// Out returns the output channel for receiving the latest value.
func (lc *Latest[T]) Out() <-chan T {
	return lc.out
}
