package protocol

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/axiom-compositor/axiomd/internal/bufreg"
	"github.com/axiom-compositor/axiomd/internal/clock"
	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Client) {
	t.Helper()
	d := New(scene.New(), bufreg.New(), clock.New(), zerolog.Nop())
	c := d.NewClient()
	return d, c
}

func bindGlobal(t *testing.T, d *Dispatcher, c *Client, iface Interface, objID wire.ObjectID) *Object {
	t.Helper()
	var name uint32
	for _, g := range d.Globals() {
		if g.Interface == iface {
			name = g.Name
		}
	}
	require.NotZero(t, name, "no global advertised for %s", iface)
	msg := wire.NewEncoder().PutUint32(name).PutString(string(iface)).PutUint32(1).PutObject(objID).
		Build(0 /* wl_registry id */, reqRegistryBind)
	c.Register(0, IfaceRegistry, 1, nil)
	require.NoError(t, d.Dispatch(c, msg))
	obj, ok := c.Lookup(objID)
	require.True(t, ok)
	return obj
}

func TestBindAdvertisesEveryStartupGlobal(t *testing.T) {
	d, _ := newTestDispatcher(t)
	globals := d.Globals()
	require.NotEmpty(t, globals)
	var ifaces []Interface
	for _, g := range globals {
		ifaces = append(ifaces, g.Interface)
	}
	require.Contains(t, ifaces, IfaceCompositor)
	require.Contains(t, ifaces, IfaceXdgWmBase)
	require.Contains(t, ifaces, IfaceShm)
	require.Contains(t, ifaces, IfaceLayerShell)
}

func TestCreateSurfaceRegistersObjectAndOwner(t *testing.T) {
	d, c := newTestDispatcher(t)
	bindGlobal(t, d, c, IfaceCompositor, 10)

	msg := wire.NewEncoder().PutObject(20).Build(10, reqCompositorCreateSurface)
	require.NoError(t, d.Dispatch(c, msg))

	obj, ok := c.Lookup(20)
	require.True(t, ok)
	require.Equal(t, IfaceSurface, obj.Interface)
	sid := obj.Data.(scene.SurfaceID)
	require.Equal(t, c.ID, d.surfaceOwner[sid])
}

// mapToplevel drives a client through wl_compositor.create_surface,
// xdg_wm_base.get_xdg_surface, and xdg_surface.get_toplevel, returning the
// surface id and its xdg_surface object id, mirroring §8 scenario S1's setup.
func mapToplevel(t *testing.T, d *Dispatcher, c *Client) (scene.SurfaceID, wire.ObjectID) {
	t.Helper()
	bindGlobal(t, d, c, IfaceCompositor, 10)
	bindGlobal(t, d, c, IfaceXdgWmBase, 11)

	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(20).Build(10, reqCompositorCreateSurface)))

	getXdgSurf := wire.NewEncoder().PutObject(21).PutObject(20).Build(11, reqWmBaseGetXdgSurface)
	require.NoError(t, d.Dispatch(c, getXdgSurf))

	c.Outbox() // drain bind/create noise, if any
	getToplevel := wire.NewEncoder().PutObject(22).Build(21, reqXdgSurfaceGetToplevel)
	require.NoError(t, d.Dispatch(c, getToplevel))

	surfObj, _ := c.Lookup(20)
	return surfObj.Data.(scene.SurfaceID), 21
}

func TestGetToplevelEmitsInitialConfigure(t *testing.T) {
	d, c := newTestDispatcher(t)
	_, xdgSurfID := mapToplevel(t, d, c)

	msgs := c.Outbox()
	require.Len(t, msgs, 2) // xdg_toplevel.configure + xdg_surface.configure
	require.Equal(t, xdgSurfID, msgs[1].Sender)
	require.Equal(t, evXdgSurfaceConfigure, msgs[1].Opcode)
}

func TestAckUnknownSerialIsProtocolError(t *testing.T) {
	d, c := newTestDispatcher(t)
	_, xdgSurfID := mapToplevel(t, d, c)

	ack := wire.NewEncoder().PutUint32(999).Build(xdgSurfID, reqXdgSurfaceAckConfigure)
	err := d.Dispatch(c, ack)
	require.Error(t, err)
}

func TestFullMapSequenceAcksCommitsAndMaps(t *testing.T) {
	d, c := newTestDispatcher(t)
	sid, xdgSurfID := mapToplevel(t, d, c)
	msgs := c.Outbox()
	require.Len(t, msgs, 2)
	dec := wire.NewDecoder(msgs[1])
	serial, err := dec.Uint32()
	require.NoError(t, err)

	ack := wire.NewEncoder().PutUint32(serial).Build(xdgSurfID, reqXdgSurfaceAckConfigure)
	require.NoError(t, d.Dispatch(c, ack))

	state, ok := d.ConfigureStateOf(sid)
	require.True(t, ok)
	require.Equal(t, StateConfigured, state)

	// attach an 800x600 ARGB8888 buffer through wl_shm, then commit.
	bindGlobal(t, d, c, IfaceShm, 30)
	f, err := os.CreateTemp(t.TempDir(), "shm")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(800*600*4))

	createPool := wire.NewEncoder().PutObject(31).PutInt32(800 * 600 * 4).Build(30, reqShmCreatePool)
	createPool.FDs = []int{int(f.Fd())}
	require.NoError(t, d.Dispatch(c, createPool))

	createBuf := wire.NewEncoder().PutObject(32).PutInt32(0).PutInt32(800).PutInt32(600).PutInt32(800 * 4).
		PutUint32(uint32(bufreg.FormatARGB8888)).Build(31, reqShmPoolCreateBuffer)
	require.NoError(t, d.Dispatch(c, createBuf))

	attach := wire.NewEncoder().PutObject(32).PutInt32(0).PutInt32(0).Build(20, reqSurfaceAttach)
	require.NoError(t, d.Dispatch(c, attach))

	commit := wire.NewEncoder().Build(20, reqSurfaceCommit)
	require.NoError(t, d.Dispatch(c, commit))

	state, ok = d.ConfigureStateOf(sid)
	require.True(t, ok)
	require.Equal(t, StateMapped, state)
}

func TestSurfaceDestroyRemovesTrackerAndOwner(t *testing.T) {
	d, c := newTestDispatcher(t)
	sid, _ := mapToplevel(t, d, c)

	destroy := wire.NewEncoder().Build(20, reqSurfaceDestroy)
	require.NoError(t, d.Dispatch(c, destroy))

	_, ok := d.ConfigureStateOf(sid)
	require.False(t, ok)
	_, owned := d.surfaceOwner[sid]
	require.False(t, owned)
}

func TestLayerSurfaceAccumulatesAnchorAndExclusiveZone(t *testing.T) {
	d, c := newTestDispatcher(t)
	bindGlobal(t, d, c, IfaceCompositor, 10)
	bindGlobal(t, d, c, IfaceLayerShell, 12)
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(20).Build(10, reqCompositorCreateSurface)))

	getLayerSurf := wire.NewEncoder().PutObject(23).PutObject(20).PutObject(0).PutUint32(2).PutString("panel").
		Build(12, reqLayerShellGetLayerSurface)
	require.NoError(t, d.Dispatch(c, getLayerSurf))

	setAnchor := wire.NewEncoder().PutUint32(uint32(1)).Build(23, reqLayerSurfaceSetAnchor)
	require.NoError(t, d.Dispatch(c, setAnchor))
	setZone := wire.NewEncoder().PutInt32(30).Build(23, reqLayerSurfaceSetExclusiveZone)
	require.NoError(t, d.Dispatch(c, setZone))

	surfObj, _ := c.Lookup(20)
	sid := surfObj.Data.(scene.SurfaceID)
	lss := d.LayerSurfaces()[sid]
	require.Equal(t, uint32(1), lss.Anchor)
	require.Equal(t, int32(30), lss.ExclusiveZone)
}

func TestDisconnectDestroysOwnedSurfacesOnly(t *testing.T) {
	d, c1 := newTestDispatcher(t)
	sid1, _ := mapToplevel(t, d, c1)

	c2 := d.NewClient()
	bindGlobal(t, d, c2, IfaceCompositor, 10)
	require.NoError(t, d.Dispatch(c2, wire.NewEncoder().PutObject(20).Build(10, reqCompositorCreateSurface)))
	surf2, _ := c2.Lookup(20)
	sid2 := surf2.Data.(scene.SurfaceID)

	d.Disconnect(c1)

	_, ok := d.ConfigureStateOf(sid1)
	require.False(t, ok)
	_, stillThere := d.scene.Get(sid2)
	require.True(t, stillThere)
}

func TestPingThenSlowClientUntilPong(t *testing.T) {
	d, c := newTestDispatcher(t)
	bindGlobal(t, d, c, IfaceXdgWmBase, 11)

	d.Ping()
	require.Contains(t, d.SlowClients(), c.ID)

	msgs := c.Outbox()
	require.Len(t, msgs, 1)
	dec := wire.NewDecoder(msgs[0])
	serial, err := dec.Uint32()
	require.NoError(t, err)

	pong := wire.NewEncoder().PutUint32(serial).Build(11, reqWmBasePong)
	require.NoError(t, d.Dispatch(c, pong))
	require.NotContains(t, d.SlowClients(), c.ID)
}
