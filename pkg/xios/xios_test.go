package xios

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpm2emu/pkg/bridge"
	"mpm2emu/pkg/console"
	"mpm2emu/pkg/cpu"
	"mpm2emu/pkg/disk"
	"mpm2emu/pkg/membank"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *cpu.CPU) {
	t.Helper()
	space := membank.New(membank.DefaultBankCount, membank.DefaultHighBase)
	c := cpu.New(space)
	consoles := console.NewRegistry(2)
	fs := afero.NewMemMapFs()
	disks := disk.NewSubsystem(fs, space)
	d := New(consoles, disks, bridge.New())
	c.SetDispatcher(d)
	return d, c
}

func TestConsoleEntriesRoundTrip(t *testing.T) {
	d, c := newTestDispatcher(t)

	assert.Equal(t, byte(0), d.Dispatch(c, CONST))

	con, err := d.Consoles.Get(0)
	require.NoError(t, err)
	con.PushInput('x')

	assert.Equal(t, byte(0xFF), d.Dispatch(c, CONST))
	assert.Equal(t, byte('x'), d.Dispatch(c, CONIN))
	assert.Equal(t, byte(0), d.Dispatch(c, CONST))
}

func TestMaxConsoleReportsCountMinusOne(t *testing.T) {
	d, c := newTestDispatcher(t)
	assert.Equal(t, byte(1), d.Dispatch(c, MAXCONSOLE))
}

func TestPollDeviceNumbering(t *testing.T) {
	d, c := newTestDispatcher(t)
	con, err := d.Consoles.Get(0)
	require.NoError(t, err)

	c.SetBC(1) // device 1 = console 0 input
	assert.Equal(t, byte(0x00), d.Dispatch(c, POLLDEVICE))
	con.PushInput('y')
	assert.Equal(t, byte(0xFF), d.Dispatch(c, POLLDEVICE))

	c.SetBC(0) // device 0 = console 0 output
	assert.Equal(t, byte(0xFF), d.Dispatch(c, POLLDEVICE))
}

func TestSeldskUnmountedFails(t *testing.T) {
	d, c := newTestDispatcher(t)
	c.SetBC(0)
	assert.Equal(t, byte(0xFF), d.Dispatch(c, SELDSK))
}

func TestUnknownOffsetReturnsZeroNotFatal(t *testing.T) {
	d, c := newTestDispatcher(t)
	assert.Equal(t, byte(0), d.Dispatch(c, 0x99))
}

func TestStartStopClockTogglesCPU(t *testing.T) {
	d, c := newTestDispatcher(t)
	require.False(t, c.ClockEnabled())
	d.Dispatch(c, STARTCLOCK)
	require.True(t, c.ClockEnabled())
	d.Dispatch(c, STOPCLOCK)
	require.False(t, c.ClockEnabled())
}

func TestSystemInitInstallsVectorInEveryBank(t *testing.T) {
	d, c := newTestDispatcher(t)
	d.Dispatch(c, SYSTEMINIT)

	space := c.Memory()
	for b := 0; b < space.BankCount(); b++ {
		assert.Equal(t, byte(jpOpcode), space.ReadInBank(b, interruptVector))
	}
	assert.True(t, c.ClockEnabled())
}

func TestBridgePollCopiesPendingRequestIntoMailbox(t *testing.T) {
	consoles := console.NewRegistry(1)
	fs := afero.NewMemMapFs()
	space := membank.New(membank.DefaultBankCount, membank.DefaultHighBase)
	disks := disk.NewSubsystem(fs, space)
	br := bridge.New()
	d := New(consoles, disks, br)
	c := cpu.New(space)
	c.SetDispatcher(d)

	assert.Equal(t, byte(0x00), d.Dispatch(c, BRIDGEPOLL))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _, _ = br.Submit(ctx, &bridge.Request{
			Type: bridge.ReqStat,
			Name: bridge.NameFromPath("F", "TXT"),
		})
	}()

	deadline := time.Now().Add(time.Second)
	for d.Dispatch(c, BRIDGEPOLL) == 0x00 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for bridge request to appear")
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, d.bridgeReady)
}

func TestBridgeReplyCompletesHostWaiter(t *testing.T) {
	d, c := newTestDispatcher(t)

	type submitResult struct {
		reply *bridge.Reply
		err   error
	}
	results := make(chan submitResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, reply, err := d.Bridge.Submit(ctx, &bridge.Request{
			Type: bridge.ReqStat,
			Name: bridge.NameFromPath("F", "TXT"),
		})
		results <- submitResult{reply, err}
	}()

	deadline := time.Now().Add(time.Second)
	for d.Dispatch(c, BRIDGEPOLL) == 0x00 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for bridge request to appear")
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, d.bridgeReady)

	// The mailbox bytes BRIDGEPOLL wrote must be readable from guest
	// high-common memory, not just the host-side struct.
	addr := bridgeMailboxAddr(c)
	req, err := bridge.DecodeRequest(readMailbox(c, addr))
	require.NoError(t, err)
	assert.Equal(t, bridge.ReqStat, req.Type)
	assert.Equal(t, d.bridgeReplyID, req.ID)

	// Simulate the guest RSP: overwrite the mailbox with its reply, then
	// signal completion via BRIDGEREPLY.
	reply := bridge.Reply{ID: req.ID, Status: 0, Length: 2, Data: []byte("OK")}
	writeMailbox(c, addr, reply.Encode())
	assert.Equal(t, byte(0), d.Dispatch(c, BRIDGEREPLY))
	assert.False(t, d.bridgeReady)

	select {
	case res := <-results:
		require.NoError(t, res.err)
		require.NotNil(t, res.reply)
		assert.Equal(t, req.ID, res.reply.ID)
		assert.Equal(t, []byte("OK"), res.reply.Data)
	case <-time.After(time.Second):
		t.Fatal("Submit never returned after BRIDGEREPLY delivered the reply")
	}
}

func readMailbox(c *cpu.CPU, addr uint16) []byte {
	buf := make([]byte, bridge.MailboxSize)
	for i := range buf {
		buf[i] = c.Memory().Read(addr + uint16(i))
	}
	return buf
}

func writeMailbox(c *cpu.CPU, addr uint16, buf [bridge.MailboxSize]byte) {
	for i, b := range buf {
		c.Memory().Write(addr+uint16(i), b)
	}
}
