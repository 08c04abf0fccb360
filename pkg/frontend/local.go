package frontend

import (
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"mpm2emu/pkg/console"
)

// LocalMirror mirrors console 0 to the host's stdio, putting the terminal
// into raw mode for the duration of Run (§4.9 Local mirror).
type LocalMirror struct {
	con *console.Console
}

// NewLocalMirror binds a mirror to con (conventionally console 0).
func NewLocalMirror(con *console.Console) *LocalMirror {
	return &LocalMirror{con: con}
}

// Run pumps bytes between the host terminal and the console until stop is
// closed or stdin hits EOF. The host terminal is restored on return.
func (m *LocalMirror) Run(stop <-chan struct{}) error {
	fd := int(os.Stdin.Fd())
	var restore *term.State
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		restore = state
		defer term.Restore(fd, restore)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				m.con.PushInput(buf[0])
			}
			if err != nil {
				if err != io.EOF {
					return
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-done:
			return nil
		case <-ticker.C:
			for {
				b, ok := m.con.PopOutput()
				if !ok {
					break
				}
				os.Stdout.Write([]byte{b})
			}
		}
	}
}
