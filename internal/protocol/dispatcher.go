package protocol

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/axiom-compositor/axiomd/internal/bufreg"
	"github.com/axiom-compositor/axiomd/internal/clock"
	"github.com/axiom-compositor/axiomd/internal/events"
	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

// RequestHandler processes one decoded client request. Interfaces outside
// this package (internal/selection for data-device requests, internal/input
// for seat-capability requests) register their own handlers via
// Dispatcher.RegisterHandler instead of this package importing them,
// avoiding an import cycle while keeping "one handler per interface+opcode"
// uniform across the whole protocol surface.
type RequestHandler func(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error

// Dispatcher is the Protocol Dispatcher (C5): object maps, global
// advertisement, request routing, and the configure/ack state machine.
type Dispatcher struct {
	scene  *scene.Scene
	bufreg *bufreg.Registry
	clock  *clock.Clock
	log    zerolog.Logger
	events *events.Bus

	globals []Global

	clients map[ClientID]*Client
	nextID  ClientID

	trackers map[scene.SurfaceID]*surfaceTracker

	handlers map[Interface]map[wire.Opcode]RequestHandler

	// onBind lets another package (internal/input) react the moment a
	// client binds a particular global, e.g. wl_seat's immediate
	// capabilities event (§4.6) which isn't triggered by any request.
	onBind map[Interface]func(c *Client, objID wire.ObjectID)

	// surfaceOwner maps a surface back to the client that created it, so a
	// protocol error can be attributed to exactly one client (§7).
	surfaceOwner map[scene.SurfaceID]ClientID

	titles            map[scene.SurfaceID]string
	appIDs            map[scene.SurfaceID]string
	attachedBufferObj map[scene.SurfaceID]wire.ObjectID
	layerSurfaces     map[scene.SurfaceID]*LayerSurfaceState
}

// New builds a Dispatcher with the fixed startup global list (§4.2 "fixed at
// startup").
func New(sc *scene.Scene, br *bufreg.Registry, clk *clock.Clock, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		scene:        sc,
		bufreg:       br,
		clock:        clk,
		log:          log,
		events:       events.New(),
		clients:      make(map[ClientID]*Client),
		trackers:     make(map[scene.SurfaceID]*surfaceTracker),
		handlers:     make(map[Interface]map[wire.Opcode]RequestHandler),
		surfaceOwner: make(map[scene.SurfaceID]ClientID),

		titles:            make(map[scene.SurfaceID]string),
		appIDs:            make(map[scene.SurfaceID]string),
		attachedBufferObj: make(map[scene.SurfaceID]wire.ObjectID),
		layerSurfaces:     make(map[scene.SurfaceID]*LayerSurfaceState),
	}
	d.globals = []Global{
		{Name: 1, Interface: IfaceCompositor, Version: 5},
		{Name: 2, Interface: IfaceShm, Version: 1},
		{Name: 3, Interface: IfaceXdgWmBase, Version: 4},
		{Name: 4, Interface: IfaceSeat, Version: 8},
		{Name: 5, Interface: IfaceDmabuf, Version: 4},
		{Name: 6, Interface: IfaceLayerShell, Version: 4},
		{Name: 7, Interface: IfaceDataDeviceManager, Version: 3},
		{Name: 8, Interface: IfaceDecorationManager, Version: 1},
		{Name: 9, Interface: IfaceOutput, Version: 4},
		{Name: 10, Interface: IfacePrimarySelectionDeviceManager, Version: 1},
	}
	d.registerCoreHandlers()
	d.registerDisplayHandlers()
	return d
}

// RegisterHandler lets another package (internal/selection, internal/input)
// wire its own interface's requests into the same dispatch table.
func (d *Dispatcher) RegisterHandler(iface Interface, op wire.Opcode, h RequestHandler) {
	if d.handlers[iface] == nil {
		d.handlers[iface] = make(map[wire.Opcode]RequestHandler)
	}
	d.handlers[iface][op] = h
}

// Globals returns the fixed advertised global list.
func (d *Dispatcher) Globals() []Global { return d.globals }

// NewClient registers a newly connected client and returns its state.
func (d *Dispatcher) NewClient() *Client {
	d.nextID++
	c := newClient(d.nextID)
	c.Register(displayObjectID, IfaceDisplay, 1, nil)
	d.clients[c.ID] = c
	return c
}

// Disconnect tears down a client: every surface it owns is destroyed and its
// focus, per §7 user-visible failure behavior, is the caller's (scheduler's)
// responsibility to hand off to an adjacent window.
func (d *Dispatcher) Disconnect(c *Client) []scene.SurfaceID {
	c.closed = true
	var owned []scene.SurfaceID
	for sid, owner := range d.surfaceOwner {
		if owner == c.ID {
			owned = append(owned, sid)
		}
	}
	for _, sid := range owned {
		d.OnSurfaceDestroyed(sid)
		delete(d.surfaceOwner, sid)
	}
	delete(d.clients, c.ID)
	return owned
}

// Bind handles a wl_registry.bind request: looks up the named global and
// registers the new client-allocated object id against its interface.
func (d *Dispatcher) Bind(c *Client, name uint32, newID wire.ObjectID) (*Object, error) {
	for _, g := range d.globals {
		if g.Name == name {
			obj := c.Register(newID, g.Interface, g.Version, nil)
			if hook, ok := d.onBind[g.Interface]; ok {
				hook(c, newID)
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("protocol: bind of unknown global name %d", name)
}

// RegisterBindHook lets another package (internal/input for wl_seat's
// immediate capabilities event) observe the moment a client binds a given
// global, independent of any subsequent request on that object.
func (d *Dispatcher) RegisterBindHook(iface Interface, hook func(c *Client, objID wire.ObjectID)) {
	if d.onBind == nil {
		d.onBind = make(map[Interface]func(c *Client, objID wire.ObjectID))
	}
	d.onBind[iface] = hook
}

// Dispatch routes one decoded request to its interface+opcode handler. A
// returned *scene.ProtocolError (or any error) is attributed to exactly
// this client by the caller (§7): only this client's socket is closed.
func (d *Dispatcher) Dispatch(c *Client, msg *wire.Message) error {
	obj, ok := c.Lookup(msg.Sender)
	if !ok {
		return &unknownObjectError{id: msg.Sender}
	}
	table, ok := d.handlers[obj.Interface]
	if !ok {
		return fmt.Errorf("protocol: no handlers registered for interface %s", obj.Interface)
	}
	h, ok := table[msg.Opcode]
	if !ok {
		return fmt.Errorf("protocol: interface %s has no handler for opcode %d", obj.Interface, msg.Opcode)
	}
	dec := wire.NewDecoder(msg)
	return h(d, c, obj, dec)
}

// Ping emits a fresh-serial ping to every client's bound xdg_wm_base
// resource (§4.5 "periodic ping", every 5s). Call from the scheduler's
// timer; this package has no timer of its own (§5 single-threaded model).
func (d *Dispatcher) Ping() {
	for _, c := range d.clients {
		for _, obj := range c.ObjectsByInterface(IfaceXdgWmBase) {
			serial := d.clock.NextSerial()
			c.lastPingSerial = serial
			c.Emit(wire.NewEncoder().PutUint32(serial).Build(obj.ID, evXdgWmBasePing))
		}
	}
}

// Pong records a client's response to the liveness ping (§9 supplemented
// SlowClients feature — pongs are otherwise informational per §4.5).
func (d *Dispatcher) Pong(c *Client, serial uint32) {
	c.lastPongSerial = serial
}

// EmitFrameDone signals a wl_callback created by wl_surface.frame, then
// unregisters it: callbacks are one-shot (§4.8 step 1, "deliver all
// surfaces' pending frame callbacks with the current millisecond
// timestamp").
func (d *Dispatcher) EmitFrameDone(c *Client, callbackObjID wire.ObjectID, timestampMs uint32) {
	c.Emit(wire.NewEncoder().PutUint32(timestampMs).Build(callbackObjID, evCallbackDone))
	c.Unregister(callbackObjID)
}

// EmitPresented delivers a wp_presentation_feedback.presented event
// (§4.8 step 2).
func (d *Dispatcher) EmitPresented(c *Client, feedbackObjID wire.ObjectID, tvSecHi, tvSecLo, tvNsec uint32, refreshNs uint32, seqHi, seqLo uint32, flags uint32) {
	enc := wire.NewEncoder().
		PutUint32(tvSecHi).PutUint32(tvSecLo).PutUint32(tvNsec).
		PutUint32(refreshNs).PutUint32(seqHi).PutUint32(seqLo).PutUint32(flags)
	c.Emit(enc.Build(feedbackObjID, evFeedbackPresented))
	c.Unregister(feedbackObjID)
}

// EmitDiscarded delivers a wp_presentation_feedback.discarded event, used
// when the surface backing it is destroyed before presentation (§4.8
// "Cancellation semantics").
func (d *Dispatcher) EmitDiscarded(c *Client, feedbackObjID wire.ObjectID) {
	c.Emit(wire.NewEncoder().Build(feedbackObjID, evFeedbackDiscarded))
	c.Unregister(feedbackObjID)
}

// Title returns a toplevel's last-set title, if any.
func (d *Dispatcher) Title(id scene.SurfaceID) string { return d.titles[id] }

// AppID returns a toplevel's last-set application id, if any.
func (d *Dispatcher) AppID(id scene.SurfaceID) string { return d.appIDs[id] }

// LayerSurfaces returns every bound layer surface's accumulated state, for
// the orchestrator to feed into internal/layout each tick.
func (d *Dispatcher) LayerSurfaces() map[scene.SurfaceID]*LayerSurfaceState {
	return d.layerSurfaces
}

// DrainEvents returns every map/unmap/surface-committed event queued since
// the last drain (§4.8 step 1, "drain deferred internal events produced during
// dispatch"). Title and app-id changes are not queued as events; they are
// read through Title and AppID instead.
func (d *Dispatcher) DrainEvents() []events.Event {
	return d.events.Drain()
}

// SurfaceAlive reports whether a surface still exists in the scene graph,
// for the scheduler to decide between delivering or discarding a pending
// frame callback / presentation feedback (§4.8 "Cancellation semantics").
func (d *Dispatcher) SurfaceAlive(id scene.SurfaceID) bool {
	_, ok := d.scene.Get(id)
	return ok
}

// AllSurfaceIDs exposes the scene graph's live surface ids for the
// scheduler's per-frame-timer frame-callback sweep.
func (d *Dispatcher) AllSurfaceIDs() []scene.SurfaceID {
	return d.scene.AllSurfaceIDs()
}

// DrainFrameCallbacks exposes the scene graph's per-surface pending
// wl_callback ids for the frame timer.
func (d *Dispatcher) DrainFrameCallbacks(id scene.SurfaceID) []uint32 {
	return d.scene.DrainFrameCallbacks(id)
}

// ClientByID looks up a connected client by id, for the scheduler to
// resolve which socket owns a surface before emitting an event to it.
func (d *Dispatcher) ClientByID(id ClientID) (*Client, bool) {
	c, ok := d.clients[id]
	return c, ok
}

// Clients returns every currently connected client, for the orchestrator's
// per-tick outbox flush (§4.8 step 5, "flush every client's outbox to its
// socket" — the one part of the tick this package never does itself since
// it holds no net.Conn).
func (d *Dispatcher) Clients() []*Client {
	out := make([]*Client, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, c)
	}
	return out
}

// OwnerOf returns the client id that owns a surface (§7 error attribution).
func (d *Dispatcher) OwnerOf(id scene.SurfaceID) (ClientID, bool) {
	owner, ok := d.surfaceOwner[id]
	return owner, ok
}

// SlowClients returns every connected client whose last ping has not been
// answered, for the supplemented liveness-visibility feature (§9,
// grounded on original_source's ping/pong tracking, not acted upon beyond
// visibility per spec §4.5).
func (d *Dispatcher) SlowClients() []ClientID {
	var out []ClientID
	for id, c := range d.clients {
		if c.lastPingSerial != 0 && c.lastPongSerial != c.lastPingSerial {
			out = append(out, id)
		}
	}
	return out
}
