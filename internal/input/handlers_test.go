package input

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/axiom-compositor/axiomd/internal/bufreg"
	"github.com/axiom-compositor/axiomd/internal/clock"
	"github.com/axiom-compositor/axiomd/internal/protocol"
	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

func newHarness(t *testing.T) (*protocol.Dispatcher, *Seat) {
	t.Helper()
	d := protocol.New(scene.New(), bufreg.New(), clock.New(), zerolog.Nop())
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })
	seat := NewSeat(d, int(r.Fd()), 42)
	Register(d, seat)
	return d, seat
}

func bindGlobal(t *testing.T, d *protocol.Dispatcher, c *protocol.Client, iface protocol.Interface, objID wire.ObjectID) {
	t.Helper()
	var name uint32
	for _, g := range d.Globals() {
		if g.Interface == iface {
			name = g.Name
		}
	}
	require.NotZero(t, name, "no global advertised for %s", iface)
	_, err := d.Bind(c, name, objID)
	require.NoError(t, err)
}

func mapToplevel(t *testing.T, d *protocol.Dispatcher, c *protocol.Client) scene.SurfaceID {
	t.Helper()
	bindGlobal(t, d, c, protocol.IfaceCompositor, 10)
	bindGlobal(t, d, c, protocol.IfaceXdgWmBase, 11)
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(20).Build(10, 0)))
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(21).PutObject(20).Build(11, 2)))
	c.Outbox()
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(22).Build(21, 1)))
	c.Outbox()
	surfObj, _ := c.Lookup(20)
	return surfObj.Data.(scene.SurfaceID)
}

func TestBindSeatSendsCapabilitiesImmediately(t *testing.T) {
	d, _ := newHarness(t)
	c := d.NewClient()

	bindGlobal(t, d, c, protocol.IfaceSeat, 5)

	msgs := c.Outbox()
	require.Len(t, msgs, 1)
	require.Equal(t, evSeatCapabilities, msgs[0].Opcode)
	dec := wire.NewDecoder(msgs[0])
	caps, err := dec.Uint32()
	require.NoError(t, err)
	require.Equal(t, seatCapPointer|seatCapKeyboard|seatCapTouch, caps)
}

func TestGetKeyboardSendsKeymapImmediately(t *testing.T) {
	d, _ := newHarness(t)
	c := d.NewClient()
	bindGlobal(t, d, c, protocol.IfaceSeat, 5)
	c.Outbox()

	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(6).Build(5, reqSeatGetKeyboard)))

	msgs := c.Outbox()
	require.Len(t, msgs, 1)
	require.Equal(t, evKeyboardKeymap, msgs[0].Opcode)
	dec := wire.NewDecoder(msgs[0])
	format, err := dec.Uint32()
	require.NoError(t, err)
	require.Equal(t, keymapFormatXKBv1, format)
	require.Len(t, msgs[0].FDs, 1)
}

func TestPointerEnterLeaveEmitsToBoundPointer(t *testing.T) {
	d, seat := newHarness(t)
	c := d.NewClient()
	sid := mapToplevel(t, d, c)

	bindGlobal(t, d, c, protocol.IfaceSeat, 5)
	c.Outbox()
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(6).Build(5, reqSeatGetPointer)))
	c.Outbox()

	seat.PointerEnter(PointerEnterEvent{Surface: SurfaceRef(sid), Serial: 100, LocalX: 5, LocalY: 7})
	msgs := c.Outbox()
	require.Len(t, msgs, 2, "enter then frame")
	require.Equal(t, evPointerEnter, msgs[0].Opcode)
	require.Equal(t, evPointerFrame, msgs[1].Opcode)

	seat.PointerLeave(LeaveEvent{Surface: SurfaceRef(sid), Serial: 101})
	msgs = c.Outbox()
	require.Len(t, msgs, 2, "leave then frame")
	require.Equal(t, evPointerLeave, msgs[0].Opcode)
}

func TestPointerButtonSkipsEmitWithNoFocus(t *testing.T) {
	d, seat := newHarness(t)
	c := d.NewClient()
	bindGlobal(t, d, c, protocol.IfaceSeat, 5)
	c.Outbox()
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(6).Build(5, reqSeatGetPointer)))
	c.Outbox()

	seat.PointerButton(ButtonUpdate{HasSurface: false})
	require.Empty(t, c.Outbox())
}

func TestKeyForwardsKeycodeToFocusedKeyboard(t *testing.T) {
	d, seat := newHarness(t)
	c := d.NewClient()
	sid := mapToplevel(t, d, c)
	bindGlobal(t, d, c, protocol.IfaceSeat, 5)
	c.Outbox()
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(6).Build(5, reqSeatGetKeyboard)))
	c.Outbox()

	seat.Key(SurfaceRef(sid), true, KeyEvent{Keycode: 30, Pressed: true, TimeMs: 1000})

	msgs := c.Outbox()
	require.Len(t, msgs, 1)
	require.Equal(t, evKeyboardKey, msgs[0].Opcode)
}

func TestTouchDownEmitsDownThenFrame(t *testing.T) {
	d, seat := newHarness(t)
	c := d.NewClient()
	sid := mapToplevel(t, d, c)
	bindGlobal(t, d, c, protocol.IfaceSeat, 5)
	c.Outbox()
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(6).Build(5, reqSeatGetTouch)))
	c.Outbox()

	seat.Touch(1, TouchUpdate{Surface: SurfaceRef(sid), HasSurface: true}, TouchDown, 10, 20, 500)

	msgs := c.Outbox()
	require.Len(t, msgs, 2)
	require.Equal(t, evTouchDown, msgs[0].Opcode)
	require.Equal(t, evTouchFrame, msgs[1].Opcode)
}
