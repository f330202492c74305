// Package protocol is the Protocol Dispatcher (spec §4.5, C5): the per-client
// object map, global advertisement on bind, the per-interface request
// routing table, and the configure/ack state machine.
//
// The routing shape — a table of named handlers invoked by interface+opcode,
// rather than one giant switch — generalizes the `XxxHandlers{OnYyy ...}`
// event-callback structs `ctxmenu/wayland/window.go` registers for
// layer-surface/seat/xdg-shell events; here the callbacks run the other
// direction (server handling client requests) but the "named slot per
// message" shape is the same.
package protocol

import (
	"fmt"

	"github.com/axiom-compositor/axiomd/internal/wire"
)

// Interface names the set of protocol interfaces the dispatcher understands.
type Interface string

const (
	IfaceDisplay            Interface = "wl_display"
	IfaceRegistry            Interface = "wl_registry"
	IfaceCallback           Interface = "wl_callback"
	IfaceCompositor         Interface = "wl_compositor"
	IfaceSurface            Interface = "wl_surface"
	IfaceShm                Interface = "wl_shm"
	IfaceShmPool            Interface = "wl_shm_pool"
	IfaceBuffer             Interface = "wl_buffer"
	IfaceDmabuf             Interface = "zwp_linux_dmabuf_v1"
	IfaceDmabufParams       Interface = "zwp_linux_buffer_params_v1"
	IfaceXdgWmBase          Interface = "xdg_wm_base"
	IfaceXdgSurface         Interface = "xdg_surface"
	IfaceXdgToplevel        Interface = "xdg_toplevel"
	IfaceXdgPopup           Interface = "xdg_popup"
	IfaceXdgPositioner      Interface = "xdg_positioner"
	IfaceLayerShell         Interface = "zwlr_layer_shell_v1"
	IfaceLayerSurface       Interface = "zwlr_layer_surface_v1"
	IfaceSeat               Interface = "wl_seat"
	IfacePointer            Interface = "wl_pointer"
	IfaceKeyboard           Interface = "wl_keyboard"
	IfaceTouch              Interface = "wl_touch"
	IfaceDataDeviceManager  Interface = "wl_data_device_manager"
	IfaceDataDevice         Interface = "wl_data_device"
	IfaceDataSource         Interface = "wl_data_source"
	IfaceDataOffer          Interface = "wl_data_offer"
	IfaceDecorationManager  Interface = "zxdg_decoration_manager_v1"
	IfaceToplevelDecoration Interface = "zxdg_toplevel_decoration_v1"
	IfaceOutput             Interface = "wl_output"
	IfacePresentationFeedback Interface = "wp_presentation_feedback"

	IfacePrimarySelectionDeviceManager Interface = "zwp_primary_selection_device_manager_v1"
	IfacePrimarySelectionDevice        Interface = "zwp_primary_selection_device_v1"
	IfacePrimarySelectionSource        Interface = "zwp_primary_selection_source_v1"
	IfacePrimarySelectionOffer         Interface = "zwp_primary_selection_offer_v1"
)

// Object is a single bound resource in a client's id space.
type Object struct {
	ID        wire.ObjectID
	Interface Interface
	Version   uint32
	// Data carries the interface-specific handle this object wraps, e.g. a
	// scene.SurfaceID for wl_surface, a bufreg.PoolID for wl_shm_pool. It is
	// opaque to the dispatcher itself and interpreted by that interface's
	// handlers.
	Data any
}

// ClientID identifies one connected client for the lifetime of its socket.
type ClientID uint32

// Client is one connected client's protocol-level state: its object
// namespace and a queue of outbound events awaiting flush (§4.8 step 5,
// "flush outbound protocol buffers" — kept as an in-memory queue so the
// dispatcher's routing logic is testable without a live socket).
type Client struct {
	ID ClientID

	objects      map[wire.ObjectID]*Object
	nextServerID wire.ObjectID

	outbox []*wire.Message

	// lastPing/lastPong track the 5s liveness ping (§4.5, §9 supplemented
	// SlowClients feature).
	lastPingSerial uint32
	lastPongSerial uint32
	closed         bool
}

func newClient(id ClientID) *Client {
	return &Client{
		ID:           id,
		objects:      make(map[wire.ObjectID]*Object),
		nextServerID: wire.ServerIDBase,
	}
}

// Register binds an object id to an interface within this client's
// namespace. Re-registering an id that is already bound replaces it, since
// clients reuse freed ids.
func (c *Client) Register(id wire.ObjectID, iface Interface, version uint32, data any) *Object {
	obj := &Object{ID: id, Interface: iface, Version: version, Data: data}
	c.objects[id] = obj
	return obj
}

// Unregister removes an object from the namespace (on a `destroy` request or
// resource teardown).
func (c *Client) Unregister(id wire.ObjectID) {
	delete(c.objects, id)
}

// Lookup finds a bound object by id.
func (c *Client) Lookup(id wire.ObjectID) (*Object, bool) {
	obj, ok := c.objects[id]
	return obj, ok
}

// AllocServerID returns the next server-allocated object id (e.g. the
// wl_callback created by wl_surface.frame, or a wl_data_offer).
func (c *Client) AllocServerID() wire.ObjectID {
	id := c.nextServerID
	c.nextServerID++
	return id
}

// Emit queues an outbound event for this client. The scheduler's flush step
// drains Outbox and writes each message to the live wire.Conn.
func (c *Client) Emit(msg *wire.Message) {
	c.outbox = append(c.outbox, msg)
}

// Outbox returns and clears this client's queued outbound events.
func (c *Client) Outbox() []*wire.Message {
	msgs := c.outbox
	c.outbox = nil
	return msgs
}

// ObjectsByInterface returns every bound object of the given interface, used
// by the ping sweep and by global broadcast (e.g. a new selection offer must
// reach every bound wl_data_device).
func (c *Client) ObjectsByInterface(iface Interface) []*Object {
	var out []*Object
	for _, obj := range c.objects {
		if obj.Interface == iface {
			out = append(out, obj)
		}
	}
	return out
}

// Global is one advertised name in the registry (spec §4.5 "advertise
// globals on client connect").
type Global struct {
	Name      uint32
	Interface Interface
	Version   uint32
}

// unknownObjectError reports a request against an id the client never bound
// or already destroyed — the dispatcher treats this the same as any other
// protocol error (§7): close the offending client only.
type unknownObjectError struct {
	id wire.ObjectID
}

func (e *unknownObjectError) Error() string {
	return fmt.Sprintf("protocol: unknown object id %d", e.id)
}
