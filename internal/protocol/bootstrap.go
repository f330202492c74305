package protocol

import "github.com/axiom-compositor/axiomd/internal/wire"

// Every Wayland client assumes object id 1 names the display before sending
// a single byte — there is no bind for it. get_registry and the global
// advertisement it triggers are the one handshake this package performs
// outside the usual bind/request-handler table, since nothing names a
// wl_registry global to bind against: it's the thing bind itself is
// reached through.
const (
	reqDisplaySync        wire.Opcode = 0
	reqDisplayGetRegistry wire.Opcode = 1

	evRegistryGlobal       wire.Opcode = 0
	evRegistryGlobalRemove wire.Opcode = 1
)

// displayObjectID is the fixed, bind-free object id every client assumes
// names the display.
const displayObjectID wire.ObjectID = 1

func (d *Dispatcher) registerDisplayHandlers() {
	d.RegisterHandler(IfaceDisplay, reqDisplaySync, handleDisplaySync)
	d.RegisterHandler(IfaceDisplay, reqDisplayGetRegistry, handleDisplayGetRegistry)
}

// handleDisplaySync acts as a synchronous round-trip barrier: since every
// request queued ahead of this one in the same Tick's dispatch pass has
// already run by the time this handler executes (§5 single-threaded
// model), the done callback can fire immediately instead of waiting for a
// real round trip.
func handleDisplaySync(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	c.Register(newID, IfaceCallback, 1, nil)
	d.EmitFrameDone(c, newID, d.clock.WallNow())
	return nil
}

// handleDisplayGetRegistry registers the client's wl_registry object and
// immediately advertises every fixed startup global against it (§4.2
// "fixed at startup" — there is no later wl_registry.global_remove in this
// implementation).
func handleDisplayGetRegistry(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	c.Register(newID, IfaceRegistry, 1, nil)
	for _, g := range d.globals {
		enc := wire.NewEncoder().
			PutUint32(g.Name).
			PutString(string(g.Interface)).
			PutUint32(g.Version)
		c.Emit(enc.Build(newID, evRegistryGlobal))
	}
	return nil
}
