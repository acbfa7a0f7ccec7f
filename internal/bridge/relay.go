// Package bridge is the orchestration core of Inquest. It drives the
// synchronous, callback-driven agent runtime on a dedicated goroutine per
// investigation, translates its callbacks into a strictly ordered envelope
// stream, retries failed runs on the same conversation with an injected
// recovery message, and hands the stream to the HTTP layer without blocking
// it.
package bridge

import (
	"context"
	"sync"

	"github.com/opsgrid/inquest/internal/model"
)

// Relay is the single hand-off point between one producer goroutine (a run
// driver, or the supervisor forwarding attempt output) and one consumer (the
// stream publisher). It preserves FIFO order and never blocks the producer:
// a live run cannot be paused to wait for a slow client.
//
// A distinguished sentinel marks the end of the stream. Exactly one sentinel
// is pushed per producer by construction; a duplicate is tolerated and reads
// as immediate end.
type Relay struct {
	mu     sync.Mutex
	queue  []model.Envelope
	closed bool

	// ready carries a wake-up token to a blocked Drain. Buffered so a
	// producer never blocks signalling; coalesced signals are fine because
	// Drain re-checks state in a loop.
	ready chan struct{}
}

// NewRelay creates an empty open relay.
func NewRelay() *Relay {
	return &Relay{ready: make(chan struct{}, 1)}
}

// Push enqueues an envelope. Non-blocking; envelopes pushed after the
// sentinel are dropped (cannot happen from a correct producer, which pushes
// its sentinel last).
func (r *Relay) Push(env model.Envelope) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, env)
	r.mu.Unlock()
	r.wake()
}

// PushSentinel marks the stream finished. Idempotent.
func (r *Relay) PushSentinel() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wake()
}

// Drain pops the next envelope, suspending cooperatively until one is
// available. ok is false once the sentinel has been reached and all queued
// envelopes have been consumed. A ctx error aborts the wait without
// disturbing relay state.
func (r *Relay) Drain(ctx context.Context) (env model.Envelope, ok bool, err error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			env = r.queue[0]
			r.queue = r.queue[1:]
			remaining := len(r.queue) > 0
			r.mu.Unlock()
			if remaining {
				// Keep a wake token pending for the next Drain in case the
				// producer's signal was coalesced while we held the item.
				r.wake()
			}
			return env, true, nil
		}
		if r.closed {
			r.mu.Unlock()
			return model.Envelope{}, false, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.Envelope{}, false, ctx.Err()
		case <-r.ready:
		}
	}
}

func (r *Relay) wake() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}
