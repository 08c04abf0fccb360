package frontend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpm2emu/pkg/console"
)

func TestLocalMirrorStopsOnSignal(t *testing.T) {
	con := console.New(0)
	m := NewLocalMirror(con)
	stop := make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- m.Run(stop) }()

	close(stop)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stop was closed")
	}
}

func TestConsoleOutputReadyAfterPush(t *testing.T) {
	con := console.New(0)
	con.PushOutput('X')
	assert.True(t, con.OutputReady())
}
