package selection

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/axiom-compositor/axiomd/internal/protocol"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

// Request/event opcodes, one block per interface, numbered in declaration
// order per this module's own wire-numbering convention (DESIGN.md's
// "§9/§4.5 wire opcode numbering" entry) rather than copied from the real
// wayland.xml/wp-primary-selection-unstable-v1.xml registries.
const (
	reqDDMgrCreateSource wire.Opcode = 0
	reqDDMgrGetDevice    wire.Opcode = 1

	reqSourceOffer   wire.Opcode = 0
	reqSourceDestroy wire.Opcode = 1
	evSourceCancelled wire.Opcode = 0
	evSourceSend      wire.Opcode = 1

	reqDeviceStartDrag    wire.Opcode = 0
	reqDeviceSetSelection wire.Opcode = 1
	reqDeviceRelease      wire.Opcode = 2
	evDeviceDataOffer     wire.Opcode = 0
	evDeviceSelection     wire.Opcode = 1

	reqOfferAccept      wire.Opcode = 0
	reqOfferReceive     wire.Opcode = 1
	reqOfferDestroy     wire.Opcode = 2
	reqOfferFinish      wire.Opcode = 3
	reqOfferSetActions  wire.Opcode = 4
	evOfferOffer        wire.Opcode = 0

	reqPSMgrCreateSource wire.Opcode = 0
	reqPSMgrGetDevice    wire.Opcode = 1
	reqPSMgrDestroy      wire.Opcode = 2

	reqPSSourceOffer   wire.Opcode = 0
	reqPSSourceDestroy wire.Opcode = 1
	evPSSourceCancelled wire.Opcode = 0
	evPSSourceSend      wire.Opcode = 1

	reqPSDeviceSetSelection wire.Opcode = 0
	reqPSDeviceDestroy      wire.Opcode = 1
	evPSDeviceDataOffer     wire.Opcode = 0
	evPSDeviceSelection     wire.Opcode = 1

	reqPSOfferReceive wire.Opcode = 0
	reqPSOfferDestroy wire.Opcode = 1
	evPSOfferOffer    wire.Opcode = 0
)

func offerInterface(ring Ring) protocol.Interface {
	if ring == RingPrimary {
		return protocol.IfacePrimarySelectionOffer
	}
	return protocol.IfaceDataOffer
}

func sourceInterface(ring Ring) protocol.Interface {
	if ring == RingPrimary {
		return protocol.IfacePrimarySelectionSource
	}
	return protocol.IfaceDataSource
}

func evDataOfferOpcode(ring Ring) wire.Opcode {
	if ring == RingPrimary {
		return evPSDeviceDataOffer
	}
	return evDeviceDataOffer
}

func evOfferMimeOpcode(ring Ring) wire.Opcode {
	if ring == RingPrimary {
		return evPSOfferOffer
	}
	return evOfferOffer
}

func evSelectionOpcode(ring Ring) wire.Opcode {
	if ring == RingPrimary {
		return evPSDeviceSelection
	}
	return evDeviceSelection
}

func evSourceCancelledOpcode(ring Ring) wire.Opcode {
	if ring == RingPrimary {
		return evPSSourceCancelled
	}
	return evSourceCancelled
}

func evSourceSendOpcode(ring Ring) wire.Opcode {
	if ring == RingPrimary {
		return evPSSourceSend
	}
	return evSourceSend
}

func writeAndClose(fd int, data []byte) error {
	defer unix.Close(fd)
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// sourceData is the Object.Data payload for a bound wl_data_source /
// zwp_primary_selection_source_v1: the mime types it has offered so far,
// accumulated across one or more `offer` requests before `set_selection`.
type sourceData struct {
	ring      Ring
	mimeTypes []string
}

// Register wires every data-device and primary-selection request handler
// into the dispatcher (§4.9), the same `RegisterHandler`-per-interface
// pattern internal/input and internal/decoration use to extend
// internal/protocol without it importing them.
func Register(d *protocol.Dispatcher, m *Manager) {
	d.RegisterHandler(protocol.IfaceDataDeviceManager, reqDDMgrCreateSource, createSourceHandler(RingClipboard))
	d.RegisterHandler(protocol.IfaceDataDeviceManager, reqDDMgrGetDevice, getDeviceHandler(m, RingClipboard))

	d.RegisterHandler(protocol.IfaceDataSource, reqSourceOffer, sourceOfferHandler)
	d.RegisterHandler(protocol.IfaceDataSource, reqSourceDestroy, sourceDestroyHandler(m))

	d.RegisterHandler(protocol.IfaceDataDevice, reqDeviceStartDrag, func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		return nil // full drag-and-drop cursor tracking is out of scope; selection flow (§4.9) only.
	})
	d.RegisterHandler(protocol.IfaceDataDevice, reqDeviceSetSelection, setSelectionHandler(m, RingClipboard))
	d.RegisterHandler(protocol.IfaceDataDevice, reqDeviceRelease, releaseDeviceHandler(m, RingClipboard))

	d.RegisterHandler(protocol.IfaceDataOffer, reqOfferAccept, noop)
	d.RegisterHandler(protocol.IfaceDataOffer, reqOfferReceive, receiveHandler(m))
	d.RegisterHandler(protocol.IfaceDataOffer, reqOfferDestroy, noop)
	d.RegisterHandler(protocol.IfaceDataOffer, reqOfferFinish, noop)
	d.RegisterHandler(protocol.IfaceDataOffer, reqOfferSetActions, noop)

	d.RegisterHandler(protocol.IfacePrimarySelectionDeviceManager, reqPSMgrCreateSource, createSourceHandler(RingPrimary))
	d.RegisterHandler(protocol.IfacePrimarySelectionDeviceManager, reqPSMgrGetDevice, getDeviceHandler(m, RingPrimary))
	d.RegisterHandler(protocol.IfacePrimarySelectionDeviceManager, reqPSMgrDestroy, noop)

	d.RegisterHandler(protocol.IfacePrimarySelectionSource, reqPSSourceOffer, sourceOfferHandler)
	d.RegisterHandler(protocol.IfacePrimarySelectionSource, reqPSSourceDestroy, sourceDestroyHandler(m))

	d.RegisterHandler(protocol.IfacePrimarySelectionDevice, reqPSDeviceSetSelection, setSelectionHandler(m, RingPrimary))
	d.RegisterHandler(protocol.IfacePrimarySelectionDevice, reqPSDeviceDestroy, releaseDeviceHandler(m, RingPrimary))

	d.RegisterHandler(protocol.IfacePrimarySelectionOffer, reqPSOfferReceive, receiveHandler(m))
	d.RegisterHandler(protocol.IfacePrimarySelectionOffer, reqPSOfferDestroy, noop)
}

func noop(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
	return nil
}

func createSourceHandler(ring Ring) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		newID, err := dec.Object()
		if err != nil {
			return err
		}
		c.Register(newID, sourceInterface(ring), obj.Version, &sourceData{ring: ring})
		return nil
	}
}

func getDeviceHandler(m *Manager, ring Ring) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		newID, err := dec.Object()
		if err != nil {
			return err
		}
		if ring == RingClipboard {
			if _, err := dec.Object(); err != nil { // wl_seat, unused: single-seat model
				return err
			}
		}
		iface := protocol.IfaceDataDevice
		if ring == RingPrimary {
			iface = protocol.IfacePrimarySelectionDevice
		}
		c.Register(newID, iface, obj.Version, ring)
		m.RegisterDevice(ring, c, newID)
		return nil
	}
}

func sourceOfferHandler(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
	mt, err := dec.String()
	if err != nil {
		return err
	}
	sd := obj.Data.(*sourceData)
	sd.mimeTypes = append(sd.mimeTypes, mt)
	return nil
}

func sourceDestroyHandler(m *Manager) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		c.Unregister(obj.ID)
		return nil
	}
}

func setSelectionHandler(m *Manager, ring Ring) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		sourceObjID, err := dec.Object()
		if err != nil {
			return err
		}
		if _, err := dec.Uint32(); err != nil { // serial, unused: single-seat model has no competing grabs
			return err
		}
		if sourceObjID == 0 {
			m.Clear(ring)
			return nil
		}
		srcObj, ok := c.Lookup(sourceObjID)
		if !ok {
			return &unknownSourceError{id: sourceObjID}
		}
		sd := srcObj.Data.(*sourceData)
		m.SetSource(ring, c, sourceObjID, sd.mimeTypes)
		return nil
	}
}

func releaseDeviceHandler(m *Manager, ring Ring) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		m.UnregisterDevice(ring, c, obj.ID)
		c.Unregister(obj.ID)
		return nil
	}
}

func receiveHandler(m *Manager) protocol.RequestHandler {
	return func(d *protocol.Dispatcher, c *protocol.Client, obj *protocol.Object, dec *wire.Decoder) error {
		mimeType, err := dec.String()
		if err != nil {
			return err
		}
		fd, err := dec.FD()
		if err != nil {
			return err
		}
		od := obj.Data.(*offerData)
		return m.Receive(od, mimeType, fd)
	}
}

// unknownSourceError reports set_selection against an object id that was
// never a bound data source, attributed to the offending client like any
// other protocol error (§7).
type unknownSourceError struct {
	id wire.ObjectID
}

func (e *unknownSourceError) Error() string {
	return fmt.Sprintf("selection: unknown data source object %d", e.id)
}
