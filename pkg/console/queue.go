// Package console implements the per-virtual-console byte queues (§4.4):
// bounded, non-blocking, single-producer/single-consumer rings connecting
// the host front end to the guest XIOS CONST/CONIN/CONOUT entries.
package console

// ring is a bounded FIFO byte queue whose push never blocks: when full, it
// reports the byte as dropped rather than waiting for a consumer. It is a
// buffered Go channel driven through non-blocking selects; the file bridge
// (pkg/bridge) does not use it and has its own mutex-guarded mailbox.
type ring struct {
	ch chan byte
}

func newRing(capacity int) *ring {
	return &ring{ch: make(chan byte, capacity)}
}

// TryPush enqueues b, returning false (dropped) if the ring is full.
func (r *ring) TryPush(b byte) bool {
	select {
	case r.ch <- b:
		return true
	default:
		return false
	}
}

// TryPop dequeues the oldest byte, returning ok=false if the ring is empty.
func (r *ring) TryPop() (b byte, ok bool) {
	select {
	case b = <-r.ch:
		return b, true
	default:
		return 0, false
	}
}

// Len reports the number of bytes currently queued.
func (r *ring) Len() int { return len(r.ch) }

// Cap reports the ring's capacity.
func (r *ring) Cap() int { return cap(r.ch) }

// HasSpace reports whether at least one more byte can be pushed.
func (r *ring) HasSpace() bool { return len(r.ch) < cap(r.ch) }
