package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueNeverBlocksAndReportsDropped(t *testing.T) {
	c := New(0)
	for i := 0; i < InputCapacity; i++ {
		assert.True(t, c.PushInput(byte(i)))
	}
	assert.False(t, c.PushInput(0xFF), "push into a full ring must report dropped, not block")
}

func TestConsoleFIFOOrdering(t *testing.T) {
	c := New(0)
	sent := []byte("stat\r")
	for _, b := range sent {
		assert.True(t, c.PushInput(b))
	}

	var got []byte
	for {
		b, ok := c.PopInput()
		if !ok {
			break
		}
		got = append(got, b)
	}
	assert.Equal(t, sent, got, "CONIN reads must be a prefix of the pushed sequence, in order")
}

func TestOutputReadyReflectsSpace(t *testing.T) {
	c := New(0)
	assert.True(t, c.OutputReady())
	for i := 0; i < OutputCapacity; i++ {
		c.PushOutput(byte(i))
	}
	assert.False(t, c.OutputReady())
	c.PopOutput()
	assert.True(t, c.OutputReady())
}

func TestRegistryFirstFree(t *testing.T) {
	r := NewRegistry(4)
	c0, ok := r.FirstFree()
	assert.True(t, ok)
	assert.Equal(t, 0, c0.Index)

	c0.SetConnected(true)
	c1, ok := r.FirstFree()
	assert.True(t, ok)
	assert.Equal(t, 1, c1.Index)
}
