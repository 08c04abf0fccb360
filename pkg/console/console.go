package console

import "sync/atomic"

// Default queue capacities (§3 Console).
const (
	InputCapacity  = 256
	OutputCapacity = 4096
)

// Console is one virtual terminal exposed to the guest as a numbered pair
// of I/O devices (input odd, output even — see pkg/xios POLLDEVICE).
type Console struct {
	Index int

	input  *ring
	output *ring

	connected atomic.Bool
	localEcho atomic.Bool
}

// New creates console number idx with default queue sizes.
func New(idx int) *Console {
	return &Console{
		Index:  idx,
		input:  newRing(InputCapacity),
		output: newRing(OutputCapacity),
	}
}

// PushInput is called by the host front end with a byte typed by the
// remote client. Returns false if the input queue was full (dropped).
func (c *Console) PushInput(b byte) bool { return c.input.TryPush(b) }

// PopInput is called by the XIOS CONIN entry. Returns ok=false if nothing
// is queued.
func (c *Console) PopInput() (byte, bool) { return c.input.TryPop() }

// HasInput is called by the XIOS CONST entry.
func (c *Console) HasInput() bool { return c.input.Len() > 0 }

// PushOutput is called by the XIOS CONOUT entry with a byte the guest
// wants printed. Returns false if the output queue was full (dropped).
func (c *Console) PushOutput(b byte) bool { return c.output.TryPush(b) }

// PopOutput is called by the host front end to drain bytes destined for
// the remote client.
func (c *Console) PopOutput() (byte, bool) { return c.output.TryPop() }

// OutputReady reports whether the output queue has room for another byte,
// i.e. whether POLLDEVICE should report the output device ready.
func (c *Console) OutputReady() bool { return c.output.HasSpace() }

// Connected reports whether a host session currently owns this console.
func (c *Console) Connected() bool { return c.connected.Load() }

// SetConnected marks the console as attached to, or detached from, a host
// session.
func (c *Console) SetConnected(v bool) { c.connected.Store(v) }

// LocalEcho reports whether the host side should echo typed characters
// itself (used when the guest does not echo).
func (c *Console) LocalEcho() bool { return c.localEcho.Load() }

// SetLocalEcho toggles local echo.
func (c *Console) SetLocalEcho(v bool) { c.localEcho.Store(v) }
