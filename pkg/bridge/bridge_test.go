package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireRoundTrip(t *testing.T) {
	req := &Request{
		Type:   ReqRead,
		Drive:  0,
		User:   1,
		Name:   NameFromPath("FOO", "TXT"),
		Offset: 128,
		Length: 4,
		Data:   []byte{1, 2, 3, 4},
	}
	req.ID = 42
	buf := req.Encode()
	decoded, err := DecodeRequest(buf[:])
	require.NoError(t, err)
	assert.Equal(t, req.ID, decoded.ID)
	assert.Equal(t, req.Type, decoded.Type)
	assert.Equal(t, req.Offset, decoded.Offset)
	assert.Equal(t, req.Data, decoded.Data)

	reply := &Reply{ID: 42, Status: 0, Length: 2, Data: []byte{9, 8}}
	rbuf := reply.Encode()
	decodedReply, err := DecodeReply(rbuf[:])
	require.NoError(t, err)
	assert.Equal(t, reply.ID, decodedReply.ID)
	assert.Equal(t, reply.Data, decodedReply.Data)
}

func TestBridgeMatchesReplyToRequestID(t *testing.T) {
	b := New()

	type result struct {
		id    uint32
		reply *Reply
		err   error
	}
	results := make(chan result, 3)

	for i := 0; i < 3; i++ {
		go func(n int) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			req := &Request{Type: ReqStat, Name: NameFromPath("F", "TXT")}
			id, reply, err := b.Submit(ctx, req)
			results <- result{id, reply, err}
		}(i)

		// Serve exactly one request at a time, matching the "at most one
		// in-flight" guarantee, and reply with a payload tagging the id.
		var req *Request
		for {
			var ok bool
			req, ok = b.PollPending()
			if ok {
				break
			}
			time.Sleep(time.Millisecond)
		}
		require.NoError(t, b.Reply(&Reply{ID: req.ID, Status: 0, Length: 1, Data: []byte{byte(req.ID)}}))
	}

	for i := 0; i < 3; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.Equal(t, r.id, r.reply.ID, "reply must carry the same id as its request")
		assert.Equal(t, byte(r.id), r.reply.Data[0])
	}
}

func TestBridgeTimeoutThenCoalescedWait(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	req := &Request{Type: ReqRead, Name: NameFromPath("SLOW", "TXT")}
	id, _, err := b.Submit(ctx, req)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotZero(t, id)

	pending, ok := b.PollPending()
	require.True(t, ok)
	require.Equal(t, id, pending.ID)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = b.Reply(&Reply{ID: id, Status: 0})
	}()

	reply, err := b.WaitReply(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, reply.ID)
}
