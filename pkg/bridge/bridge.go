package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout is the default host wait for a bridge reply (§4.8).
const DefaultTimeout = 5000 * time.Millisecond

// ErrTimeout is returned when a host waiter's context expires before the
// guest replies. The guest retains its in-flight slot; a later WaitReply
// call for the same request id coalesces onto the same pending reply.
var ErrTimeout = errors.New("bridge: timeout waiting for guest reply")

// Bridge is the two-mailbox, at-most-one-in-flight request/reply channel
// between host file servers (SFTP/HTTP) and the guest RSP (§4.8, §3).
type Bridge struct {
	mu       sync.Mutex
	nextID   uint32
	inflight bool
	pending  *Request
	waiters  map[uint32]chan *Reply
}

// New creates an empty bridge.
func New() *Bridge {
	return &Bridge{waiters: make(map[uint32]chan *Reply)}
}

// Submit enqueues req, blocking until any prior request has been drained
// and replied to (or the bridge is otherwise free), then waits for the
// guest's reply or ctx's deadline. On timeout the request remains
// in-flight; call WaitReply with the returned id to retry the wait.
func (b *Bridge) Submit(ctx context.Context, req *Request) (id uint32, reply *Reply, err error) {
	for {
		b.mu.Lock()
		if !b.inflight {
			break
		}
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}

	id = atomic.AddUint32(&b.nextID, 1)
	req.ID = id
	b.inflight = true
	b.pending = req
	waiter := make(chan *Reply, 1)
	b.waiters[id] = waiter
	b.mu.Unlock()

	reply, err = b.awaitReply(ctx, id, waiter)
	return id, reply, err
}

// WaitReply re-waits for the reply to a request previously submitted, used
// after a prior wait timed out (§4.8 "subsequent host waits coalesce").
func (b *Bridge) WaitReply(ctx context.Context, id uint32) (*Reply, error) {
	b.mu.Lock()
	waiter, ok := b.waiters[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("bridge: no in-flight request with id %d", id)
	}
	return b.awaitReply(ctx, id, waiter)
}

func (b *Bridge) awaitReply(ctx context.Context, id uint32, waiter chan *Reply) (*Reply, error) {
	select {
	case reply := <-waiter:
		b.mu.Lock()
		delete(b.waiters, id)
		b.inflight = false
		b.mu.Unlock()
		return reply, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// PollPending is called periodically from the guest side (via XIOS) to
// check for, and drain, a pending request. A request is returned to the
// guest exactly once.
func (b *Bridge) PollPending() (*Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req := b.pending
	b.pending = nil
	return req, req != nil
}

// Reply is called from the guest side once it has produced a reply for a
// previously drained request. Delivering a reply for an id with no waiter
// is reported but not fatal — the host side may have given up already.
func (b *Bridge) Reply(reply *Reply) error {
	b.mu.Lock()
	waiter, ok := b.waiters[reply.ID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("bridge: reply for unknown or already-delivered request id %d", reply.ID)
	}
	select {
	case waiter <- reply:
	default:
		// A reply was already delivered for this id; drop the duplicate.
	}
	return nil
}
