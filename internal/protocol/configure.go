package protocol

import (
	"encoding/binary"

	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

// xdgToplevelStateActivated is xdg_toplevel's "activated" state enum value
// (4 in the upstream xdg-shell XML), the only state this compositor
// currently reports through a follow-up configure (§4.4's Activated flag).
const xdgToplevelStateActivated uint32 = 4

// ConfigureState is one state of the per-surface state machine from spec
// §4.5's table, tracked alongside (not instead of) scene.Scene's own
// pending-serial bookkeeping: scene enforces the invariants
// (buffer-before-ack, invalid-serial), this tracks which side effect the
// dispatcher owes next (send an initial configure, or none).
type ConfigureState int

const (
	StateCreated ConfigureState = iota
	StateWaitingForAck
	StateConfigured
	StateMapped
	StateUnmapped
	StateTerminal
)

// surfaceTracker is the dispatcher's per-surface configure bookkeeping.
type surfaceTracker struct {
	state      ConfigureState
	lastWidth  int32
	lastHeight int32
	lastActive bool
	needsAck   bool // true for toplevel/popup roles

	// client/xdgSurfaceObjID/toplevelObjID are the wire-level addresses a
	// follow-up configure (RequestConfigure, triggered by the scheduler's
	// layout pass rather than a client request) must target. toplevelObjID
	// is 0 for a popup, which receives only the xdg_surface.configure half.
	client          *Client
	xdgSurfaceObjID wire.ObjectID
	toplevelObjID   wire.ObjectID
	isLayer         bool
}

// ConfigureEvent is what the dispatcher must send to the client after a
// state transition that owes one (§4.5 "Side effect" column).
type ConfigureEvent struct {
	SurfaceID scene.SurfaceID
	Serial    uint32
	Width     int32
	Height    int32
	Activated bool
}

// OnRoleAssigned transitions Created->WaitingForAck and returns the initial
// configure the dispatcher must emit. Called right after scene.AssignRole
// succeeds for a size-negotiating role (toplevel or popup). c,
// xdgSurfaceObjID, and toplevelObjID (0 for a popup) are retained so a later
// RequestConfigure can address the same wire objects without the caller
// re-supplying them.
func (d *Dispatcher) OnRoleAssigned(id scene.SurfaceID, c *Client, xdgSurfaceObjID, toplevelObjID wire.ObjectID, defaultW, defaultH int32) ConfigureEvent {
	t := &surfaceTracker{
		state:           StateWaitingForAck,
		needsAck:        true,
		lastWidth:       defaultW,
		lastHeight:      defaultH,
		client:          c,
		xdgSurfaceObjID: xdgSurfaceObjID,
		toplevelObjID:   toplevelObjID,
	}
	d.trackers[id] = t
	serial := d.clock.NextSerial()
	d.scene.AddConfigureSerial(id, serial)
	return ConfigureEvent{SurfaceID: id, Serial: serial, Width: defaultW, Height: defaultH}
}

// OnAck processes an ack_configure request, delegating invariant
// enforcement to scene.Ack and advancing WaitingForAck->Configured on
// success.
func (d *Dispatcher) OnAck(id scene.SurfaceID, serial uint32) error {
	if err := d.scene.Ack(id, serial); err != nil {
		return err
	}
	if t, ok := d.trackers[id]; ok && t.state == StateWaitingForAck {
		t.state = StateConfigured
	}
	return nil
}

// OnCommit runs scene.Commit and advances the tracker on map/unmap
// transitions (Configured->Mapped, Mapped->Unmapped).
func (d *Dispatcher) OnCommit(id scene.SurfaceID) (*scene.CommitResult, error) {
	res, err := d.scene.Commit(id)
	if err != nil {
		return nil, err
	}
	if res.HasCurrentBuf || len(res.Damage) > 0 {
		d.events.PublishSurfaceCommitted(id, *res)
	}
	t, ok := d.trackers[id]
	if !ok {
		return res, nil
	}
	switch {
	case res.Mapped:
		t.state = StateMapped
		d.events.PublishWindowMapped(id)
	case res.Unmapped:
		t.state = StateUnmapped
		d.events.PublishWindowUnmapped(id)
	}
	return res, nil
}

// OnLayerRoleAssigned is OnRoleAssigned's zwlr_layer_surface_v1 counterpart:
// layer surfaces use a one-event (serial+width+height) configure shape with
// no activated flag and no xdg_surface/xdg_toplevel split, so they are
// tracked without the client/object-id fields RequestConfigure needs for
// toplevels (layer-surface resize on anchor/margin change is not yet wired
// through that path).
func (d *Dispatcher) OnLayerRoleAssigned(id scene.SurfaceID) ConfigureEvent {
	t := &surfaceTracker{state: StateWaitingForAck, needsAck: true, isLayer: true}
	d.trackers[id] = t
	serial := d.clock.NextSerial()
	d.scene.AddConfigureSerial(id, serial)
	return ConfigureEvent{SurfaceID: id, Serial: serial}
}

// RequestConfigure is called by the scheduler (§4.8 step 4) when the layout
// engine reports a new rectangle, or by focus changes needing an
// `Activated` flip. It only emits a configure (and transitions
// Mapped->WaitingForAck) when the size or activated state actually changed,
// per the state table's "size change from C4" trigger.
func (d *Dispatcher) RequestConfigure(id scene.SurfaceID, width, height int32, activated bool) (ConfigureEvent, bool) {
	t, ok := d.trackers[id]
	if !ok {
		return ConfigureEvent{}, false
	}
	if t.isLayer {
		return ConfigureEvent{}, false
	}
	if t.state != StateMapped && t.state != StateConfigured && t.state != StateWaitingForAck {
		return ConfigureEvent{}, false
	}
	if t.lastWidth == width && t.lastHeight == height && t.lastActive == activated {
		return ConfigureEvent{}, false
	}
	t.lastWidth, t.lastHeight, t.lastActive = width, height, activated
	t.state = StateWaitingForAck
	serial := d.clock.NextSerial()
	d.scene.AddConfigureSerial(id, serial)
	ev := ConfigureEvent{SurfaceID: id, Serial: serial, Width: width, Height: height, Activated: activated}

	if t.client != nil {
		if t.toplevelObjID != 0 {
			var states []byte
			if activated {
				states = make([]byte, 4)
				binary.LittleEndian.PutUint32(states, xdgToplevelStateActivated)
			}
			t.client.Emit(wire.NewEncoder().PutInt32(width).PutInt32(height).PutArray(states).
				Build(t.toplevelObjID, evToplevelConfigure))
		}
		t.client.Emit(wire.NewEncoder().PutUint32(serial).Build(t.xdgSurfaceObjID, evXdgSurfaceConfigure))
	}

	return ev, true
}

// OnSurfaceDestroyed severs the tracker (§4.5 "Any -> surface destroyed ->
// Terminal").
func (d *Dispatcher) OnSurfaceDestroyed(id scene.SurfaceID) {
	if t, ok := d.trackers[id]; ok {
		if t.state == StateMapped {
			d.events.PublishWindowUnmapped(id)
		}
		t.state = StateTerminal
	}
	delete(d.trackers, id)
	d.scene.Destroy(id)
}

// ConfigureStateOf reports a surface's current tracked state, for tests and
// for the scheduler's "is this surface still waiting" checks.
func (d *Dispatcher) ConfigureStateOf(id scene.SurfaceID) (ConfigureState, bool) {
	t, ok := d.trackers[id]
	if !ok {
		return StateCreated, false
	}
	return t.state, true
}
