package decoration

import (
	"fmt"

	"github.com/axiom-compositor/axiomd/internal/protocol"
	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

// Request/event opcodes, numbered per this module's own declaration-order
// convention (DESIGN.md's "§9/§4.5 wire opcode numbering" entry), except
// Mode itself which carries the real protocol's enum values (see policy.go).
const (
	reqDecorationManagerGetToplevelDecoration wire.Opcode = 0
	reqDecorationManagerDestroy               wire.Opcode = 1

	reqToplevelDecorationSetMode   wire.Opcode = 0
	reqToplevelDecorationUnsetMode wire.Opcode = 1
	reqToplevelDecorationDestroy   wire.Opcode = 2
	evToplevelDecorationConfigure  wire.Opcode = 0
)

// Register wires every zxdg_decoration_manager_v1/zxdg_toplevel_decoration_v1
// request handler into the dispatcher (§4.10).
func Register(d *protocol.Dispatcher, m *Manager) {
	d.RegisterHandler(protocol.IfaceDecorationManager, reqDecorationManagerGetToplevelDecoration, getToplevelDecorationHandler(m))
	d.RegisterHandler(protocol.IfaceDecorationManager, reqDecorationManagerDestroy, noop)

	d.RegisterHandler(protocol.IfaceToplevelDecoration, reqToplevelDecorationSetMode, setModeHandler(m))
	d.RegisterHandler(protocol.IfaceToplevelDecoration, reqToplevelDecorationUnsetMode, unsetModeHandler(m))
	d.RegisterHandler(protocol.IfaceToplevelDecoration, reqToplevelDecorationDestroy, destroyHandler(m))
}

func noop(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
	return nil
}

func getToplevelDecorationHandler(m *Manager) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		newID, err := dec.Object()
		if err != nil {
			return err
		}
		toplevelObjID, err := dec.Object()
		if err != nil {
			return err
		}
		toplevelObj, ok := c.Lookup(toplevelObjID)
		if !ok {
			return &unknownObjectError{id: toplevelObjID}
		}
		sid := toplevelObj.Data.(scene.SurfaceID)
		c.Register(newID, protocol.IfaceToplevelDecoration, obj.Version, sid)
		mode := m.assign(sid)
		c.Emit(wire.NewEncoder().PutUint32(uint32(mode)).Build(newID, evToplevelDecorationConfigure))
		return nil
	}
}

func setModeHandler(m *Manager) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		raw, err := dec.Uint32()
		if err != nil {
			return err
		}
		sid := obj.Data.(scene.SurfaceID)
		mode := m.SetRequested(sid, Mode(raw))
		c.Emit(wire.NewEncoder().PutUint32(uint32(mode)).Build(obj.ID, evToplevelDecorationConfigure))
		return nil
	}
}

func unsetModeHandler(m *Manager) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		sid := obj.Data.(scene.SurfaceID)
		mode := m.Unset(sid)
		c.Emit(wire.NewEncoder().PutUint32(uint32(mode)).Build(obj.ID, evToplevelDecorationConfigure))
		return nil
	}
}

func destroyHandler(m *Manager) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		c.Unregister(obj.ID)
		return nil
	}
}

// unknownObjectError reports a get_toplevel_decoration against an id the
// client never bound, attributed to the offending client (§7).
type unknownObjectError struct {
	id wire.ObjectID
}

func (e *unknownObjectError) Error() string {
	return fmt.Sprintf("decoration: unknown object id %d", e.id)
}
