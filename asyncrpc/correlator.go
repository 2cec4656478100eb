// Package asyncrpc implements the async RPC correlation layer: matching
// an outbound Ask to the Answer that eventually arrives on a separate
// inbound channel, with a per-call deadline and silent drop of late or
// unmatched answers.
//
// This generalizes the reference implementation's broadcast-channel-plus-
// filter-loop (every waiter receives every answer and discards the ones
// that don't match its ask id) into a single-shot reply slot per ask,
// addressed directly by ask id — the idiomatic Go shape for "exactly one
// of these should eventually receive exactly one value."
package asyncrpc

import (
	"context"
	"sync"
	"time"
)

// Answer is the payload (or error) delivered in response to an Ask.
type Answer struct {
	Payload []byte
	Err     error
}

// ask is the in-flight entry: a single-shot reply slot plus enough
// identity to let Deliver route an inbound answer to it.
type ask struct {
	id      string
	origin  string
	replyCh chan Answer
}

// Correlator tracks in-flight asks and matches inbound answers to them by
// ask id. The zero value is not usable; construct with NewCorrelator.
type Correlator struct {
	mu       sync.Mutex
	inflight map[string]*ask
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{inflight: make(map[string]*ask)}
}

// Open registers a new in-flight ask under id, scoped to origin (the
// identifier of the graph-level call awaiting the answer, used only for
// diagnostics). It returns a wait function that blocks until an Answer is
// delivered, ctx is done, or deadline elapses — whichever comes first.
// Calling the returned function evicts the in-flight entry regardless of
// outcome, so any answer delivered afterward is dropped by Deliver.
func (c *Correlator) Open(id, origin string) (wait func(ctx context.Context, deadline time.Duration) (Answer, error)) {
	a := &ask{id: id, origin: origin, replyCh: make(chan Answer, 1)}

	c.mu.Lock()
	c.inflight[id] = a
	c.mu.Unlock()

	return func(ctx context.Context, deadline time.Duration) (Answer, error) {
		defer c.evict(id)

		timer := time.NewTimer(deadline)
		defer timer.Stop()

		select {
		case answer := <-a.replyCh:
			return answer, answer.Err
		case <-ctx.Done():
			return Answer{}, ErrCancelled
		case <-timer.C:
			return Answer{}, ErrTimeout
		}
	}
}

// Deliver routes an inbound Answer to the in-flight ask with the given
// id. It returns ErrUnknownAsk — and silently drops the answer — if no
// such ask is currently in flight (already answered, timed out, or
// cancelled). Deliver never blocks: the reply channel is always buffered
// by one and only ever written once.
func (c *Correlator) Deliver(id string, answer Answer) error {
	c.mu.Lock()
	a, ok := c.inflight[id]
	if ok {
		delete(c.inflight, id)
	}
	c.mu.Unlock()

	if !ok {
		return ErrUnknownAsk
	}
	a.replyCh <- answer
	return nil
}

// Cancel evicts the in-flight ask for id without delivering an answer, as
// if its waiter had abandoned the call. Any answer that arrives afterward
// is dropped by Deliver. It is a no-op if the ask is not in flight.
func (c *Correlator) Cancel(id string) {
	c.evict(id)
}

// Pending reports how many asks are currently in flight, for diagnostics
// and tests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Correlator) evict(id string) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}
