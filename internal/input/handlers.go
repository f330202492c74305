package input

import (
	"github.com/axiom-compositor/axiomd/internal/protocol"
	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

// Wire opcodes, numbered per this module's own declaration-order convention
// (see the opcode-numbering note in DESIGN.md's internal/protocol entry).
const (
	reqSeatGetPointer  wire.Opcode = 0
	reqSeatGetKeyboard wire.Opcode = 1
	reqSeatGetTouch    wire.Opcode = 2
	reqSeatRelease     wire.Opcode = 3
	evSeatCapabilities wire.Opcode = 0

	reqPointerSetCursor wire.Opcode = 0
	reqPointerRelease   wire.Opcode = 1
	evPointerEnter      wire.Opcode = 0
	evPointerLeave      wire.Opcode = 1
	evPointerMotion     wire.Opcode = 2
	evPointerButton     wire.Opcode = 3
	evPointerAxis       wire.Opcode = 4
	evPointerFrame      wire.Opcode = 5

	reqKeyboardRelease  wire.Opcode = 0
	evKeyboardKeymap    wire.Opcode = 0
	evKeyboardEnter     wire.Opcode = 1
	evKeyboardLeave     wire.Opcode = 2
	evKeyboardKey       wire.Opcode = 3
	evKeyboardModifiers wire.Opcode = 4

	reqTouchRelease wire.Opcode = 0
	evTouchDown     wire.Opcode = 0
	evTouchUp       wire.Opcode = 1
	evTouchMotion   wire.Opcode = 2
	evTouchFrame    wire.Opcode = 3
	evTouchCancel   wire.Opcode = 4
)

const (
	seatCapPointer  uint32 = 1
	seatCapKeyboard uint32 = 2
	seatCapTouch    uint32 = 4

	keymapFormatXKBv1 uint32 = 1
)

// Seat is the wire-protocol counterpart to Router (§4.6): it owns every
// client's bound wl_pointer/wl_keyboard/wl_touch object ids and turns
// Router's Handle*/Update results into wl_seat family wire events. Router
// itself stays free of wire.Opcode/protocol.Client, the same decoupling
// internal/selection and internal/decoration keep between normalized state
// and wire encoding.
type Seat struct {
	disp *protocol.Dispatcher

	keymapFD   int
	keymapSize uint32

	pointers  map[protocol.ClientID][]wire.ObjectID
	keyboards map[protocol.ClientID][]wire.ObjectID
	touches   map[protocol.ClientID][]wire.ObjectID
}

// NewSeat builds a Seat. keymapFD/keymapSize identify the shared-memory
// keymap string handed to every client that binds a keyboard (§4.6: "the
// server compiles an xkbcommon keymap at startup and sends it ... over a
// shared memory fd"); the caller (internal/compositor) owns that fd's
// lifetime.
func NewSeat(disp *protocol.Dispatcher, keymapFD int, keymapSize uint32) *Seat {
	return &Seat{
		disp:       disp,
		keymapFD:   keymapFD,
		keymapSize: keymapSize,
		pointers:   make(map[protocol.ClientID][]wire.ObjectID),
		keyboards:  make(map[protocol.ClientID][]wire.ObjectID),
		touches:    make(map[protocol.ClientID][]wire.ObjectID),
	}
}

// Register wires wl_seat/wl_pointer/wl_keyboard/wl_touch request handlers
// into the dispatcher.
func Register(d *protocol.Dispatcher, seat *Seat) {
	d.RegisterBindHook(protocol.IfaceSeat, seat.BindSeat)

	d.RegisterHandler(protocol.IfaceSeat, reqSeatGetPointer, getPointerHandler(seat))
	d.RegisterHandler(protocol.IfaceSeat, reqSeatGetKeyboard, getKeyboardHandler(seat))
	d.RegisterHandler(protocol.IfaceSeat, reqSeatGetTouch, getTouchHandler(seat))
	d.RegisterHandler(protocol.IfaceSeat, reqSeatRelease, noop)

	d.RegisterHandler(protocol.IfacePointer, reqPointerSetCursor, noop)
	d.RegisterHandler(protocol.IfacePointer, reqPointerRelease, releasePointerHandler(seat))

	d.RegisterHandler(protocol.IfaceKeyboard, reqKeyboardRelease, releaseKeyboardHandler(seat))

	d.RegisterHandler(protocol.IfaceTouch, reqTouchRelease, releaseTouchHandler(seat))
}

func noop(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
	return nil
}

// capabilities reports keyboard+pointer+touch support (§6's seat global
// advertises all three).
func capabilities() uint32 { return seatCapPointer | seatCapKeyboard | seatCapTouch }

// BindSeat sends the initial capabilities event right after a client binds
// the wl_seat global; Register installs it as the dispatcher's bind hook
// for IfaceSeat.
func (seat *Seat) BindSeat(c *protocol.Client, seatObjID wire.ObjectID) {
	c.Emit(wire.NewEncoder().PutUint32(capabilities()).Build(seatObjID, evSeatCapabilities))
}

func getPointerHandler(seat *Seat) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		newID, err := dec.Object()
		if err != nil {
			return err
		}
		c.Register(newID, protocol.IfacePointer, obj.Version, nil)
		seat.pointers[c.ID] = append(seat.pointers[c.ID], newID)
		return nil
	}
}

func getKeyboardHandler(seat *Seat) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		newID, err := dec.Object()
		if err != nil {
			return err
		}
		c.Register(newID, protocol.IfaceKeyboard, obj.Version, nil)
		seat.keyboards[c.ID] = append(seat.keyboards[c.ID], newID)
		c.Emit(wire.NewEncoder().
			PutUint32(keymapFormatXKBv1).
			PutFD(seat.keymapFD).
			PutUint32(seat.keymapSize).
			Build(newID, evKeyboardKeymap))
		return nil
	}
}

func getTouchHandler(seat *Seat) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		newID, err := dec.Object()
		if err != nil {
			return err
		}
		c.Register(newID, protocol.IfaceTouch, obj.Version, nil)
		seat.touches[c.ID] = append(seat.touches[c.ID], newID)
		return nil
	}
}

func releasePointerHandler(seat *Seat) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		seat.pointers[c.ID] = removeObjID(seat.pointers[c.ID], obj.ID)
		c.Unregister(obj.ID)
		return nil
	}
}

func releaseKeyboardHandler(seat *Seat) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		seat.keyboards[c.ID] = removeObjID(seat.keyboards[c.ID], obj.ID)
		c.Unregister(obj.ID)
		return nil
	}
}

func releaseTouchHandler(seat *Seat) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		seat.touches[c.ID] = removeObjID(seat.touches[c.ID], obj.ID)
		c.Unregister(obj.ID)
		return nil
	}
}

func removeObjID(ids []wire.ObjectID, target wire.ObjectID) []wire.ObjectID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// clientFor resolves a SurfaceRef (reinterpreted scene.SurfaceID) to its
// owning client, if the surface is still alive and owned.
func (seat *Seat) clientFor(surf SurfaceRef) (*protocol.Client, bool) {
	owner, ok := seat.disp.OwnerOf(scene.SurfaceID(surf))
	if !ok {
		return nil, false
	}
	return seat.disp.ClientByID(owner)
}

// PointerEnter/PointerLeave/PointerMotion/PointerButton/PointerAxis turn one
// Router update into wl_pointer wire events for every pointer object the
// target surface's owning client has bound (§4.6's enter/leave/motion
// sequence, serial-paired per §3).
func (seat *Seat) PointerEnter(ev PointerEnterEvent) {
	c, ok := seat.clientFor(ev.Surface)
	if !ok {
		return
	}
	for _, objID := range seat.pointers[c.ID] {
		c.Emit(wire.NewEncoder().PutUint32(ev.Serial).PutObject(surfaceObjID(seat, c, ev.Surface)).
			PutFixed(ev.LocalX, 0).PutFixed(ev.LocalY, 0).Build(objID, evPointerEnter))
		c.Emit(wire.NewEncoder().Build(objID, evPointerFrame))
	}
}

func (seat *Seat) PointerLeave(ev LeaveEvent) {
	c, ok := seat.clientFor(ev.Surface)
	if !ok {
		return
	}
	for _, objID := range seat.pointers[c.ID] {
		c.Emit(wire.NewEncoder().PutUint32(ev.Serial).PutObject(surfaceObjID(seat, c, ev.Surface)).Build(objID, evPointerLeave))
		c.Emit(wire.NewEncoder().Build(objID, evPointerFrame))
	}
}

func (seat *Seat) PointerMotion(ev PointerMotionResult) {
	c, ok := seat.clientFor(ev.Surface)
	if !ok {
		return
	}
	for _, objID := range seat.pointers[c.ID] {
		c.Emit(wire.NewEncoder().PutUint32(ev.TimeMs).PutFixed(ev.LocalX, 0).PutFixed(ev.LocalY, 0).Build(objID, evPointerMotion))
		c.Emit(wire.NewEncoder().Build(objID, evPointerFrame))
	}
}

func (seat *Seat) PointerButton(ev ButtonUpdate) {
	if !ev.HasSurface {
		return
	}
	c, ok := seat.clientFor(ev.Surface)
	if !ok {
		return
	}
	state := uint32(0)
	if ev.Pressed {
		state = 1
	}
	for _, objID := range seat.pointers[c.ID] {
		c.Emit(wire.NewEncoder().PutUint32(0 /* serial */).PutUint32(ev.TimeMs).PutUint32(ev.Button).PutUint32(state).Build(objID, evPointerButton))
		c.Emit(wire.NewEncoder().Build(objID, evPointerFrame))
	}
}

func (seat *Seat) PointerAxis(surf SurfaceRef, hasSurface bool, ev PointerAxisEvent) {
	if !hasSurface {
		return
	}
	c, ok := seat.clientFor(surf)
	if !ok {
		return
	}
	for _, objID := range seat.pointers[c.ID] {
		if ev.Vertical != 0 {
			c.Emit(wire.NewEncoder().PutUint32(ev.TimeMs).PutUint32(0 /* vertical_scroll */).PutInt32(int32(ev.Vertical*256)).Build(objID, evPointerAxis))
		}
		if ev.Horizontal != 0 {
			c.Emit(wire.NewEncoder().PutUint32(ev.TimeMs).PutUint32(1 /* horizontal_scroll */).PutInt32(int32(ev.Horizontal*256)).Build(objID, evPointerAxis))
		}
		c.Emit(wire.NewEncoder().Build(objID, evPointerFrame))
	}
}

// KeyboardEnter/KeyboardLeave/Key/Modifiers are wl_keyboard's counterpart.
func (seat *Seat) KeyboardEnter(ev KeyboardEnterEvent) {
	c, ok := seat.clientFor(ev.Surface)
	if !ok {
		return
	}
	for _, objID := range seat.keyboards[c.ID] {
		c.Emit(wire.NewEncoder().PutUint32(ev.Serial).PutObject(surfaceObjID(seat, c, ev.Surface)).PutArray(nil).Build(objID, evKeyboardEnter))
	}
}

func (seat *Seat) KeyboardLeave(ev LeaveEvent) {
	c, ok := seat.clientFor(ev.Surface)
	if !ok {
		return
	}
	for _, objID := range seat.keyboards[c.ID] {
		c.Emit(wire.NewEncoder().PutUint32(ev.Serial).PutObject(surfaceObjID(seat, c, ev.Surface)).Build(objID, evKeyboardLeave))
	}
}

func (seat *Seat) Key(surf SurfaceRef, hasSurface bool, ev KeyEvent) {
	if !hasSurface {
		return
	}
	c, ok := seat.clientFor(surf)
	if !ok {
		return
	}
	state := uint32(0)
	if ev.Pressed {
		state = 1
	}
	for _, objID := range seat.keyboards[c.ID] {
		c.Emit(wire.NewEncoder().PutUint32(0 /* serial */).PutUint32(ev.TimeMs).PutUint32(ev.Keycode).PutUint32(state).Build(objID, evKeyboardKey))
	}
}

func (seat *Seat) Modifiers(surf SurfaceRef, hasSurface bool, ev ModifiersUpdate) {
	if !hasSurface {
		return
	}
	c, ok := seat.clientFor(surf)
	if !ok {
		return
	}
	for _, objID := range seat.keyboards[c.ID] {
		c.Emit(wire.NewEncoder().PutUint32(ev.Serial).PutUint32(uint32(ev.Mods)).PutUint32(0).PutUint32(0).PutUint32(0).Build(objID, evKeyboardModifiers))
	}
}

// Touch turns one Router touch update into wl_touch down/motion/up/cancel
// plus a trailing frame event.
func (seat *Seat) Touch(id int32, upd TouchUpdate, phase TouchPhase, x, y float64, timeMs uint32) {
	if !upd.HasSurface {
		return
	}
	c, ok := seat.clientFor(upd.Surface)
	if !ok {
		return
	}
	for _, objID := range seat.touches[c.ID] {
		switch phase {
		case TouchDown:
			c.Emit(wire.NewEncoder().PutUint32(0 /* serial */).PutUint32(timeMs).PutObject(surfaceObjID(seat, c, upd.Surface)).
				PutInt32(id).PutFixed(int32(x), 0).PutFixed(int32(y), 0).Build(objID, evTouchDown))
		case TouchMotion:
			c.Emit(wire.NewEncoder().PutUint32(timeMs).PutInt32(id).PutFixed(int32(x), 0).PutFixed(int32(y), 0).Build(objID, evTouchMotion))
		case TouchUp:
			c.Emit(wire.NewEncoder().PutUint32(0 /* serial */).PutUint32(timeMs).PutInt32(id).Build(objID, evTouchUp))
		case TouchCancel:
			c.Emit(wire.NewEncoder().Build(objID, evTouchCancel))
		}
		c.Emit(wire.NewEncoder().Build(objID, evTouchFrame))
	}
}

// surfaceObjID resolves the wl_surface object id the target client bound
// for this surface, needed by enter events which carry the surface as a
// wire object reference rather than a server-internal id.
func surfaceObjID(seat *Seat, c *protocol.Client, surf SurfaceRef) wire.ObjectID {
	sid := scene.SurfaceID(surf)
	for _, obj := range c.ObjectsByInterface(protocol.IfaceSurface) {
		if ref, ok := obj.Data.(scene.SurfaceID); ok && ref == sid {
			return obj.ID
		}
	}
	return 0
}
