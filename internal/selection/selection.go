// Package selection is the Selection & DnD component (C9): two independent
// selection rings (clipboard and primary/middle-click), cross-client offer
// plumbing, and the `receive` forwarding that lets one client's source
// stream bytes directly into another client's fd.
//
// Grounded on internal/input's split between normalized state (this
// package's Manager) and wire encoding (handlers.go): Manager never touches
// wire.Opcode or wire.Decoder directly, so its broadcast/cancel/receive
// logic is testable without a dispatcher or a live socket, the same
// decoupling internal/input keeps from internal/protocol.
package selection

import (
	"github.com/google/uuid"

	"github.com/axiom-compositor/axiomd/internal/protocol"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

// Ring selects which of the two independent selection rings (§4.9) an
// operation targets.
type Ring int

const (
	RingClipboard Ring = iota
	RingPrimary
	ringCount
)

// entry is one ring's current content: either a client-offered data source
// or a server-held byte fallback, never both (spec §4.9's `Client{source_id,
// mime_types[]}` / `Server{bytes, mime_types[]}` variants).
type entry struct {
	hasSource   bool
	client      *protocol.Client
	sourceObjID wire.ObjectID

	serverBytes []byte

	mimeTypes []string

	// id distinguishes concurrent generations of a ring's selection — two
	// offers created moments apart from the same client could otherwise be
	// indistinguishable to a log line or a test assertion.
	id uuid.UUID
}

// device is one client's bound data device for one ring, tracked so a fresh
// selection can be broadcast to every bound device (§4.9 "broadcasts the new
// offer to all devices").
type device struct {
	client *protocol.Client
	objID  wire.ObjectID
}

// offerData is the Object.Data payload registered against a server-allocated
// wl_data_offer / zwp_primary_selection_offer_v1 object: a frozen reference
// to the selection it was created from, so a later `receive` call still
// forwards to the right source even if the ring has since been replaced.
type offerData struct {
	ring Ring
	e    *entry
}

// Manager owns both selection rings. It holds no wire-level state and is
// driven entirely through handlers.go's RequestHandler funcs, which
// translate wl_data_device_manager/wl_data_device/wl_data_source/
// wl_data_offer (and their zwp_primary_selection_v1 counterparts) requests
// into calls against this API.
type Manager struct {
	current [ringCount]*entry
	devices [ringCount][]device
}

func New() *Manager { return &Manager{} }

func (e *entry) isSet() bool { return e != nil && (e.hasSource || e.serverBytes != nil) }

// RegisterDevice records a client's bound data device for future broadcasts
// and immediately offers the ring's current selection, if any (§4.9 "On a
// client binding a data device, the current selection... is translated into
// an offer resource for that client").
func (m *Manager) RegisterDevice(ring Ring, c *protocol.Client, deviceObjID wire.ObjectID) {
	m.devices[ring] = append(m.devices[ring], device{client: c, objID: deviceObjID})
	if e := m.current[ring]; e.isSet() {
		m.sendOffer(ring, c, deviceObjID, e)
	}
}

// UnregisterDevice drops a client's device, e.g. on wl_data_device.release
// or client disconnect.
func (m *Manager) UnregisterDevice(ring Ring, c *protocol.Client, deviceObjID wire.ObjectID) {
	devs := m.devices[ring]
	for i, d := range devs {
		if d.client == c && d.objID == deviceObjID {
			m.devices[ring] = append(devs[:i], devs[i+1:]...)
			return
		}
	}
}

// SetSource installs a new client-offered selection, cancelling whatever
// source previously held the ring and broadcasting the new offer to every
// bound device (§4.9 "Setting a new selection cancels the previous source
// ... and broadcasts the new offer to all devices").
func (m *Manager) SetSource(ring Ring, c *protocol.Client, sourceObjID wire.ObjectID, mimeTypes []string) {
	m.cancelCurrent(ring)
	e := &entry{hasSource: true, client: c, sourceObjID: sourceObjID, mimeTypes: mimeTypes, id: uuid.New()}
	m.current[ring] = e
	m.broadcast(ring, e)
}

// SetServerSource installs a server-held byte fallback (§4.9's `Server{bytes,
// mime_types[]}` variant) with no owning client, e.g. to seed a default
// clipboard at startup.
func (m *Manager) SetServerSource(ring Ring, data []byte, mimeTypes []string) {
	m.cancelCurrent(ring)
	b := make([]byte, len(data))
	copy(b, data)
	e := &entry{serverBytes: b, mimeTypes: mimeTypes, id: uuid.New()}
	m.current[ring] = e
	m.broadcast(ring, e)
}

// Clear drops the ring's current selection (cancelling its source, if any)
// without installing a replacement, and tells every bound device there is no
// selection.
func (m *Manager) Clear(ring Ring) {
	m.cancelCurrent(ring)
	m.current[ring] = nil
	for _, d := range m.devices[ring] {
		d.client.Emit(wire.NewEncoder().PutObject(0).Build(d.objID, evSelectionOpcode(ring)))
	}
}

// Current reports the ring's mime types and whether anything is currently
// set, for tests and for a status surface.
func (m *Manager) Current(ring Ring) (mimeTypes []string, set bool) {
	e := m.current[ring]
	if !e.isSet() {
		return nil, false
	}
	return e.mimeTypes, true
}

func (m *Manager) cancelCurrent(ring Ring) {
	e := m.current[ring]
	if e == nil || !e.hasSource {
		return
	}
	e.client.Emit(wire.NewEncoder().Build(e.sourceObjID, evSourceCancelledOpcode(ring)))
}

// OnClientDisconnect severs any ring currently sourced by a disconnecting
// client (§3's "on destroy, all references... must be severed" applied to
// selection sources) and drops its bound devices from both rings'
// broadcast lists. It does not attempt to capture the source's bytes into a
// server-held fallback first — see DESIGN.md's Open Question decision on
// why that capture is not implemented.
func (m *Manager) OnClientDisconnect(c *protocol.Client) {
	for ring := Ring(0); ring < ringCount; ring++ {
		if e := m.current[ring]; e != nil && e.hasSource && e.client == c {
			m.current[ring] = nil
		}
		devs := m.devices[ring][:0]
		for _, d := range m.devices[ring] {
			if d.client != c {
				devs = append(devs, d)
			}
		}
		m.devices[ring] = devs
	}
}

func (m *Manager) sendOffer(ring Ring, c *protocol.Client, deviceObjID wire.ObjectID, e *entry) {
	offerObjID := c.AllocServerID()
	c.Register(offerObjID, offerInterface(ring), 1, &offerData{ring: ring, e: e})
	c.Emit(wire.NewEncoder().PutNewID(offerObjID).Build(deviceObjID, evDataOfferOpcode(ring)))
	for _, mt := range e.mimeTypes {
		c.Emit(wire.NewEncoder().PutString(mt).Build(offerObjID, evOfferMimeOpcode(ring)))
	}
	c.Emit(wire.NewEncoder().PutObject(offerObjID).Build(deviceObjID, evSelectionOpcode(ring)))
}

func (m *Manager) broadcast(ring Ring, e *entry) {
	for _, d := range m.devices[ring] {
		m.sendOffer(ring, d.client, d.objID, e)
	}
}

// Receive implements wl_data_offer.receive / zwp_primary_selection_offer_v1.
// receive (§4.9): a Client-sourced selection is forwarded to its owning
// client as a `send` event carrying the requesting fd (the source writes
// directly to it); a Server-sourced selection is written by the compositor
// itself and the fd is closed once the write completes.
func (m *Manager) Receive(od *offerData, mimeType string, fd int) error {
	e := od.e
	if e.hasSource {
		e.client.Emit(wire.NewEncoder().PutString(mimeType).PutFD(fd).Build(e.sourceObjID, evSourceSendOpcode(od.ring)))
		return nil
	}
	return writeAndClose(fd, e.serverBytes)
}
