package selection

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

func newHarness(t *testing.T) (*protocol.Dispatcher, *Manager) {
	t.Helper()
	d := protocol.New(scene.New(), bufreg.New(), clock.New(), zerolog.Nop())
	m := New()
	Register(d, m)
	return d, m
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
	obj, err := d.Bind(c, name, objID)
	require.NoError(t, err)
	require.Equal(t, iface, obj.Interface)
}

// setClipboardSource drives a client through create_data_source, one
// offer(mime), and get_data_device + set_selection.
func setClipboardSource(t *testing.T, d *protocol.Dispatcher, c *protocol.Client, sourceObjID, deviceObjID wire.ObjectID, mime string) {
	t.Helper()
	bindGlobal(t, d, c, protocol.IfaceDataDeviceManager, 1)
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(sourceObjID).Build(1, reqDDMgrCreateSource)))
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutString(mime).Build(sourceObjID, reqSourceOffer)))
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(deviceObjID).PutObject(100 /* seat */).Build(1, reqDDMgrGetDevice)))
	c.Outbox() // drain the device's own immediate (empty) offer, if any
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(sourceObjID).PutUint32(1 /* serial */).Build(deviceObjID, reqDeviceSetSelection)))
}

func TestGetDataDeviceOffersCurrentSelectionImmediately(t *testing.T) {
	d, _ := newHarness(t)
	a := d.NewClient()
	b := d.NewClient()

	setClipboardSource(t, d, a, 10, 11, "text/plain;charset=utf-8")
	a.Outbox() // drain A's own broadcast copy

	bindGlobal(t, d, b, protocol.IfaceDataDeviceManager, 1)
	require.NoError(t, d.Dispatch(b, wire.NewEncoder().PutObject(20).PutObject(100).Build(1, reqDDMgrGetDevice)))

	msgs := b.Outbox()
	require.Len(t, msgs, 3, "data_offer, one offer(mime), and selection(offer)")
	require.Equal(t, wire.ObjectID(20), msgs[0].Sender)
	require.Equal(t, evDeviceDataOffer, msgs[0].Opcode)
	require.Equal(t, evOfferOffer, msgs[1].Opcode)
	require.Equal(t, evDeviceSelection, msgs[2].Opcode)
}

func TestSetSelectionBroadcastsToEveryBoundDevice(t *testing.T) {
	d, _ := newHarness(t)
	a := d.NewClient()
	b := d.NewClient()

	bindGlobal(t, d, a, protocol.IfaceDataDeviceManager, 1)
	bindGlobal(t, d, b, protocol.IfaceDataDeviceManager, 1)
	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutObject(11).PutObject(100).Build(1, reqDDMgrGetDevice)))
	require.NoError(t, d.Dispatch(b, wire.NewEncoder().PutObject(21).PutObject(100).Build(1, reqDDMgrGetDevice)))
	a.Outbox()
	b.Outbox()

	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutObject(10).Build(1, reqDDMgrCreateSource)))
	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutString("text/plain").Build(10, reqSourceOffer)))
	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutObject(10).PutUint32(1).Build(11, reqDeviceSetSelection)))

	require.Len(t, a.Outbox(), 3, "setter also gets an offer for its own selection")
	require.Len(t, b.Outbox(), 3, "the other bound device gets the new offer too")
}

func TestSetSelectionCancelsPreviousSource(t *testing.T) {
	d, _ := newHarness(t)
	a := d.NewClient()

	setClipboardSource(t, d, a, 10, 11, "text/plain")
	a.Outbox()

	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutObject(12).Build(1, reqDDMgrCreateSource)))
	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutString("text/html").Build(12, reqSourceOffer)))
	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutObject(12).PutUint32(2).Build(11, reqDeviceSetSelection)))

	msgs := a.Outbox()
	require.Equal(t, wire.ObjectID(10), msgs[0].Sender, "first message is the old source's cancelled event")
	require.Equal(t, evSourceCancelled, msgs[0].Opcode)
}

func TestSetSelectionWithZeroSourceClearsRing(t *testing.T) {
	d, m := newHarness(t)
	a := d.NewClient()

	setClipboardSource(t, d, a, 10, 11, "text/plain")
	a.Outbox()

	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutObject(0).PutUint32(2).Build(11, reqDeviceSetSelection)))

	_, set := m.Current(RingClipboard)
	require.False(t, set)
	msgs := a.Outbox()
	require.Len(t, msgs, 2, "cancelled to the old source, then selection(0) to the device")
	require.Equal(t, evSourceCancelled, msgs[0].Opcode)
	require.Equal(t, evDeviceSelection, msgs[1].Opcode)
}

func TestReceiveForwardsToClientSource(t *testing.T) {
	d, _ := newHarness(t)
	a := d.NewClient()
	b := d.NewClient()

	setClipboardSource(t, d, a, 10, 11, "text/plain")
	a.Outbox()

	bindGlobal(t, d, b, protocol.IfaceDataDeviceManager, 1)
	require.NoError(t, d.Dispatch(b, wire.NewEncoder().PutObject(20).PutObject(100).Build(1, reqDDMgrGetDevice)))
	msgs := b.Outbox()
	require.Len(t, msgs, 3)
	offerObjID := mustDecodeObject(t, msgs[0])

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	recvMsg := wire.NewEncoder().PutString("text/plain").PutFD(int(w.Fd())).Build(offerObjID, reqOfferReceive)
	require.NoError(t, d.Dispatch(b, recvMsg))

	fwd := a.Outbox()
	require.Len(t, fwd, 1)
	require.Equal(t, wire.ObjectID(10), fwd[0].Sender)
	require.Equal(t, evSourceSend, fwd[0].Opcode)
	require.Equal(t, []int{int(w.Fd())}, fwd[0].FDs)
}

func TestReceiveWritesServerBytesDirectly(t *testing.T) {
	d, m := newHarness(t)
	b := d.NewClient()

	m.SetServerSource(RingClipboard, []byte("hello"), []string{"text/plain"})

	bindGlobal(t, d, b, protocol.IfaceDataDeviceManager, 1)
	require.NoError(t, d.Dispatch(b, wire.NewEncoder().PutObject(20).PutObject(100).Build(1, reqDDMgrGetDevice)))
	msgs := b.Outbox()
	require.Len(t, msgs, 3)
	offerObjID := mustDecodeObject(t, msgs[0])

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	recvMsg := wire.NewEncoder().PutString("text/plain").PutFD(int(w.Fd())).Build(offerObjID, reqOfferReceive)
	require.NoError(t, d.Dispatch(b, recvMsg))

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestOnClientDisconnectSeversOwnedSource(t *testing.T) {
	d, m := newHarness(t)
	a := d.NewClient()

	setClipboardSource(t, d, a, 10, 11, "text/plain")

	m.OnClientDisconnect(a)

	_, set := m.Current(RingClipboard)
	require.False(t, set)
}

func TestPrimarySelectionRingIsIndependentOfClipboard(t *testing.T) {
	d, m := newHarness(t)
	a := d.NewClient()

	setClipboardSource(t, d, a, 10, 11, "text/plain")

	bindGlobal(t, d, a, protocol.IfacePrimarySelectionDeviceManager, 2)
	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutObject(30).Build(2, reqPSMgrCreateSource)))
	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutString("text/plain").Build(30, reqPSSourceOffer)))
	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutObject(31).Build(2, reqPSMgrGetDevice)))
	a.Outbox()
	require.NoError(t, d.Dispatch(a, wire.NewEncoder().PutObject(30).PutUint32(1).Build(31, reqPSDeviceSetSelection)))

	_, clipSet := m.Current(RingClipboard)
	_, primSet := m.Current(RingPrimary)
	require.True(t, clipSet)
	require.True(t, primSet)

	m.Clear(RingPrimary)
	_, clipSet = m.Current(RingClipboard)
	_, primSet = m.Current(RingPrimary)
	require.True(t, clipSet, "clearing primary must not disturb clipboard")
	require.False(t, primSet)
}

func mustDecodeObject(t *testing.T, msg *wire.Message) wire.ObjectID {
	t.Helper()
	dec := wire.NewDecoder(msg)
	id, err := dec.Object()
	require.NoError(t, err)
	return id
}
