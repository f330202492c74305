package protocol

import (
	"github.com/axiom-compositor/axiomd/internal/bufreg"
	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

// Request opcodes, one block per interface, numbered in declaration order
// (request and event opcode spaces are independent per Wayland convention,
// so reqXxx/evXxx never collide even when numerically equal).
const (
	reqRegistryBind wire.Opcode = 0

	reqCompositorCreateSurface wire.Opcode = 0

	reqSurfaceDestroy      wire.Opcode = 0
	reqSurfaceAttach       wire.Opcode = 1
	reqSurfaceDamage       wire.Opcode = 2
	reqSurfaceFrame        wire.Opcode = 3
	reqSurfaceCommit       wire.Opcode = 4
	reqSurfaceDamageBuffer wire.Opcode = 9

	reqWmBaseDestroy           wire.Opcode = 0
	reqWmBaseCreatePositioner  wire.Opcode = 1
	reqWmBaseGetXdgSurface     wire.Opcode = 2
	reqWmBasePong              wire.Opcode = 3
	evXdgWmBasePing            wire.Opcode = 0

	reqPositionerSetSize       wire.Opcode = 0
	reqPositionerSetAnchorRect wire.Opcode = 1
	reqPositionerSetOffset     wire.Opcode = 2

	reqXdgSurfaceDestroy           wire.Opcode = 0
	reqXdgSurfaceGetToplevel       wire.Opcode = 1
	reqXdgSurfaceGetPopup          wire.Opcode = 2
	reqXdgSurfaceAckConfigure      wire.Opcode = 3
	reqXdgSurfaceSetWindowGeometry wire.Opcode = 4
	evXdgSurfaceConfigure          wire.Opcode = 0

	reqToplevelDestroy        wire.Opcode = 0
	reqToplevelSetTitle       wire.Opcode = 2
	reqToplevelSetAppID       wire.Opcode = 3
	reqToplevelSetFullscreen  wire.Opcode = 11
	reqToplevelUnsetFullscreen wire.Opcode = 12
	evToplevelConfigure       wire.Opcode = 0

	reqShmCreatePool wire.Opcode = 0

	reqShmPoolCreateBuffer wire.Opcode = 0
	reqShmPoolDestroy      wire.Opcode = 1
	reqShmPoolResize       wire.Opcode = 2

	reqLayerShellGetLayerSurface wire.Opcode = 0

	reqLayerSurfaceSetSize               wire.Opcode = 0
	reqLayerSurfaceSetAnchor             wire.Opcode = 1
	reqLayerSurfaceSetExclusiveZone      wire.Opcode = 2
	reqLayerSurfaceSetMargin             wire.Opcode = 3
	reqLayerSurfaceSetKeyboardInteractivity wire.Opcode = 4
	reqLayerSurfaceAckConfigure          wire.Opcode = 6
	reqLayerSurfaceDestroy               wire.Opcode = 7
	evLayerSurfaceConfigure              wire.Opcode = 0

	evCallbackDone wire.Opcode = 0

	evBufferRelease wire.Opcode = 0

	evFeedbackPresented wire.Opcode = 0
	evFeedbackDiscarded wire.Opcode = 1
)

// shmPoolData is the Object.Data payload for a bound wl_shm_pool: resize
// needs the original fd alongside the pool id (bufreg.ResizePool's
// signature), which bufreg itself does not retain.
type shmPoolData struct {
	pool bufreg.PoolID
	fd   int
}

// LayerSurfaceState accumulates one zwlr_layer_surface_v1's configured
// attributes across its set_* requests, for the orchestrator to read out
// into internal/layout.LayerInput each tick.
type LayerSurfaceState struct {
	SurfaceID     scene.SurfaceID
	Anchor        uint32
	ExclusiveZone int32
	MarginTop     int32
	MarginRight   int32
	MarginBottom  int32
	MarginLeft    int32
	DesiredW      int32
	DesiredH      int32
	Namespace     string
}

// positionerData is the Object.Data payload for a bound xdg_positioner.
type positionerData struct {
	p scene.Positioner
}

func (d *Dispatcher) registerCoreHandlers() {
	d.RegisterHandler(IfaceRegistry, reqRegistryBind, handleRegistryBind)

	d.RegisterHandler(IfaceCompositor, reqCompositorCreateSurface, handleCompositorCreateSurface)

	d.RegisterHandler(IfaceSurface, reqSurfaceDestroy, handleSurfaceDestroy)
	d.RegisterHandler(IfaceSurface, reqSurfaceAttach, handleSurfaceAttach)
	d.RegisterHandler(IfaceSurface, reqSurfaceDamage, handleSurfaceDamage)
	d.RegisterHandler(IfaceSurface, reqSurfaceDamageBuffer, handleSurfaceDamage)
	d.RegisterHandler(IfaceSurface, reqSurfaceFrame, handleSurfaceFrame)
	d.RegisterHandler(IfaceSurface, reqSurfaceCommit, handleSurfaceCommit)

	d.RegisterHandler(IfaceXdgWmBase, reqWmBaseDestroy, handleNoop)
	d.RegisterHandler(IfaceXdgWmBase, reqWmBaseCreatePositioner, handleWmBaseCreatePositioner)
	d.RegisterHandler(IfaceXdgWmBase, reqWmBaseGetXdgSurface, handleWmBaseGetXdgSurface)
	d.RegisterHandler(IfaceXdgWmBase, reqWmBasePong, handleWmBasePong)

	d.RegisterHandler(IfaceXdgPositioner, reqPositionerSetSize, handlePositionerSetSize)
	d.RegisterHandler(IfaceXdgPositioner, reqPositionerSetAnchorRect, handlePositionerSetAnchorRect)
	d.RegisterHandler(IfaceXdgPositioner, reqPositionerSetOffset, handlePositionerSetOffset)

	d.RegisterHandler(IfaceXdgSurface, reqXdgSurfaceDestroy, handleNoop)
	d.RegisterHandler(IfaceXdgSurface, reqXdgSurfaceGetToplevel, handleXdgSurfaceGetToplevel)
	d.RegisterHandler(IfaceXdgSurface, reqXdgSurfaceGetPopup, handleXdgSurfaceGetPopup)
	d.RegisterHandler(IfaceXdgSurface, reqXdgSurfaceAckConfigure, handleXdgSurfaceAckConfigure)
	d.RegisterHandler(IfaceXdgSurface, reqXdgSurfaceSetWindowGeometry, handleNoop)

	d.RegisterHandler(IfaceXdgToplevel, reqToplevelDestroy, handleNoop)
	d.RegisterHandler(IfaceXdgToplevel, reqToplevelSetTitle, handleToplevelSetTitle)
	d.RegisterHandler(IfaceXdgToplevel, reqToplevelSetAppID, handleToplevelSetAppID)
	d.RegisterHandler(IfaceXdgToplevel, reqToplevelSetFullscreen, handleNoop)
	d.RegisterHandler(IfaceXdgToplevel, reqToplevelUnsetFullscreen, handleNoop)

	d.RegisterHandler(IfaceShm, reqShmCreatePool, handleShmCreatePool)

	d.RegisterHandler(IfaceShmPool, reqShmPoolCreateBuffer, handleShmPoolCreateBuffer)
	d.RegisterHandler(IfaceShmPool, reqShmPoolDestroy, handleNoop)
	d.RegisterHandler(IfaceShmPool, reqShmPoolResize, handleShmPoolResize)

	d.RegisterHandler(IfaceLayerShell, reqLayerShellGetLayerSurface, handleLayerShellGetLayerSurface)

	d.RegisterHandler(IfaceLayerSurface, reqLayerSurfaceSetSize, handleLayerSurfaceSetSize)
	d.RegisterHandler(IfaceLayerSurface, reqLayerSurfaceSetAnchor, handleLayerSurfaceSetAnchor)
	d.RegisterHandler(IfaceLayerSurface, reqLayerSurfaceSetExclusiveZone, handleLayerSurfaceSetExclusiveZone)
	d.RegisterHandler(IfaceLayerSurface, reqLayerSurfaceSetMargin, handleLayerSurfaceSetMargin)
	d.RegisterHandler(IfaceLayerSurface, reqLayerSurfaceSetKeyboardInteractivity, handleNoop)
	d.RegisterHandler(IfaceLayerSurface, reqLayerSurfaceAckConfigure, handleLayerSurfaceAckConfigure)
	d.RegisterHandler(IfaceLayerSurface, reqLayerSurfaceDestroy, handleNoop)
}

func handleNoop(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error { return nil }

func handleRegistryBind(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	name, err := dec.Uint32()
	if err != nil {
		return err
	}
	if _, err := dec.String(); err != nil { // interface name string, unused: name already identifies it
		return err
	}
	if _, err := dec.Uint32(); err != nil { // version, unused: server version wins
		return err
	}
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	_, err = d.Bind(c, name, newID)
	return err
}

func handleCompositorCreateSurface(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	surf := d.scene.CreateSurface()
	c.Register(newID, IfaceSurface, obj.Version, surf.ID)
	d.surfaceOwner[surf.ID] = c.ID
	return nil
}

func surfaceIDOf(obj *Object) scene.SurfaceID { return obj.Data.(scene.SurfaceID) }

func handleSurfaceDestroy(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	sid := surfaceIDOf(obj)
	d.OnSurfaceDestroyed(sid)
	delete(d.surfaceOwner, sid)
	delete(d.titles, sid)
	delete(d.appIDs, sid)
	delete(d.attachedBufferObj, sid)
	delete(d.layerSurfaces, sid)
	c.Unregister(obj.ID)
	return nil
}

func handleSurfaceAttach(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	sid := surfaceIDOf(obj)
	bufObjID, err := dec.Object()
	if err != nil {
		return err
	}
	dx, err := dec.Int32()
	if err != nil {
		return err
	}
	dy, err := dec.Int32()
	if err != nil {
		return err
	}
	if bufObjID == 0 {
		delete(d.attachedBufferObj, sid)
		return d.scene.Attach(sid, 0, false, dx, dy)
	}
	bufObj, ok := c.Lookup(bufObjID)
	if !ok {
		return &unknownObjectError{id: bufObjID}
	}
	d.attachedBufferObj[sid] = bufObjID
	return d.scene.Attach(sid, bufObj.Data.(bufreg.BufferID), true, dx, dy)
}

func handleSurfaceDamage(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	sid := surfaceIDOf(obj)
	x, err := dec.Int32()
	if err != nil {
		return err
	}
	y, err := dec.Int32()
	if err != nil {
		return err
	}
	w, err := dec.Int32()
	if err != nil {
		return err
	}
	h, err := dec.Int32()
	if err != nil {
		return err
	}
	return d.scene.Damage(sid, scene.Rect{X: x, Y: y, W: w, H: h})
}

func handleSurfaceFrame(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	sid := surfaceIDOf(obj)
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	c.Register(newID, IfaceCallback, 1, sid)
	return d.scene.Frame(sid, uint32(newID))
}

func handleSurfaceCommit(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	sid := surfaceIDOf(obj)
	res, err := d.OnCommit(sid)
	if err != nil {
		return err
	}
	if res.HasReleased {
		if bufObjID, ok := d.attachedBufferObj[sid]; ok {
			c.Emit(wire.NewEncoder().Build(bufObjID, evBufferRelease))
		}
		d.bufreg.MarkPendingRelease(res.ReleasedBuffer)
		d.bufreg.Release(res.ReleasedBuffer)
	}
	return nil
}

func handleWmBaseCreatePositioner(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	c.Register(newID, IfaceXdgPositioner, obj.Version, &positionerData{})
	return nil
}

func handleWmBaseGetXdgSurface(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	surfObjID, err := dec.Object()
	if err != nil {
		return err
	}
	surfObj, ok := c.Lookup(surfObjID)
	if !ok {
		return &unknownObjectError{id: surfObjID}
	}
	c.Register(newID, IfaceXdgSurface, obj.Version, surfObj.Data.(scene.SurfaceID))
	return nil
}

func handleWmBasePong(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	serial, err := dec.Uint32()
	if err != nil {
		return err
	}
	d.Pong(c, serial)
	return nil
}

func positionerDataOf(obj *Object) *positionerData { return obj.Data.(*positionerData) }

func handlePositionerSetSize(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	w, err := dec.Int32()
	if err != nil {
		return err
	}
	h, err := dec.Int32()
	if err != nil {
		return err
	}
	pd := positionerDataOf(obj)
	pd.p.Width, pd.p.Height = w, h
	return nil
}

func handlePositionerSetAnchorRect(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	x, err := dec.Int32()
	if err != nil {
		return err
	}
	y, err := dec.Int32()
	if err != nil {
		return err
	}
	w, err := dec.Int32()
	if err != nil {
		return err
	}
	h, err := dec.Int32()
	if err != nil {
		return err
	}
	pd := positionerDataOf(obj)
	pd.p.AnchorRect = scene.Rect{X: x, Y: y, W: w, H: h}
	return nil
}

func handlePositionerSetOffset(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	x, err := dec.Int32()
	if err != nil {
		return err
	}
	y, err := dec.Int32()
	if err != nil {
		return err
	}
	pd := positionerDataOf(obj)
	pd.p.OffsetX, pd.p.OffsetY = x, y
	return nil
}

const defaultToplevelWidth, defaultToplevelHeight int32 = 800, 600

func handleXdgSurfaceGetToplevel(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	sid := obj.Data.(scene.SurfaceID)
	if err := d.scene.AssignRole(sid, scene.RoleToplevel, 0); err != nil {
		return err
	}
	c.Register(newID, IfaceXdgToplevel, obj.Version, sid)
	d.surfaceOwner[sid] = c.ID

	ev := d.OnRoleAssigned(sid, c, obj.ID, newID, defaultToplevelWidth, defaultToplevelHeight)
	c.Emit(wire.NewEncoder().PutInt32(ev.Width).PutInt32(ev.Height).PutArray(nil).Build(newID, evToplevelConfigure))
	c.Emit(wire.NewEncoder().PutUint32(ev.Serial).Build(obj.ID, evXdgSurfaceConfigure))
	return nil
}

func handleXdgSurfaceGetPopup(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	parentObjID, err := dec.Object()
	if err != nil {
		return err
	}
	positionerObjID, err := dec.Object()
	if err != nil {
		return err
	}
	sid := obj.Data.(scene.SurfaceID)
	var parentSID scene.SurfaceID
	if parentObj, ok := c.Lookup(parentObjID); ok {
		parentSID = parentObj.Data.(scene.SurfaceID)
	}
	if err := d.scene.AssignRole(sid, scene.RolePopup, parentSID); err != nil {
		return err
	}
	posObj, ok := c.Lookup(positionerObjID)
	if !ok {
		return &unknownObjectError{id: positionerObjID}
	}
	pd := positionerDataOf(posObj)
	if err := d.scene.SetPositioner(sid, pd.p); err != nil {
		return err
	}
	c.Register(newID, IfaceXdgPopup, obj.Version, sid)
	d.surfaceOwner[sid] = c.ID

	ev := d.OnRoleAssigned(sid, c, obj.ID, 0, pd.p.Width, pd.p.Height)
	c.Emit(wire.NewEncoder().PutUint32(ev.Serial).Build(obj.ID, evXdgSurfaceConfigure))
	return nil
}

func handleXdgSurfaceAckConfigure(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	serial, err := dec.Uint32()
	if err != nil {
		return err
	}
	return d.OnAck(obj.Data.(scene.SurfaceID), serial)
}

func handleToplevelSetTitle(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	s, err := dec.String()
	if err != nil {
		return err
	}
	d.titles[obj.Data.(scene.SurfaceID)] = s
	return nil
}

func handleToplevelSetAppID(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	s, err := dec.String()
	if err != nil {
		return err
	}
	d.appIDs[obj.Data.(scene.SurfaceID)] = s
	return nil
}

func handleShmCreatePool(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	fd, err := dec.FD()
	if err != nil {
		return err
	}
	size, err := dec.Int32()
	if err != nil {
		return err
	}
	// RegisterShmPool always returns a usable pool id, substituting a
	// zero-sized mapping on mmap failure (§4.2) rather than desyncing the
	// protocol; ErrOutOfMemory here is a ResourceExhaustion warning, not a
	// client-attributable protocol error, so it is logged, not returned.
	poolID, err := d.bufreg.RegisterShmPool(fd, int64(size))
	if err != nil {
		d.log.Warn().Err(err).Uint32("pool_fd", uint32(fd)).Msg("shm pool mapping failed, substituting empty pool")
	}
	c.Register(newID, IfaceShmPool, obj.Version, &shmPoolData{pool: poolID, fd: fd})
	return nil
}

func handleShmPoolCreateBuffer(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	offset, err := dec.Int32()
	if err != nil {
		return err
	}
	width, err := dec.Int32()
	if err != nil {
		return err
	}
	height, err := dec.Int32()
	if err != nil {
		return err
	}
	stride, err := dec.Int32()
	if err != nil {
		return err
	}
	format, err := dec.Uint32()
	if err != nil {
		return err
	}
	pd := obj.Data.(*shmPoolData)
	bufID, err := d.bufreg.CreateShmBuffer(pd.pool, offset, width, height, stride, bufreg.Format(format), nil)
	if err != nil {
		return err
	}
	c.Register(newID, IfaceBuffer, 1, bufID)
	return nil
}

func handleShmPoolResize(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	size, err := dec.Int32()
	if err != nil {
		return err
	}
	pd := obj.Data.(*shmPoolData)
	return d.bufreg.ResizePool(pd.fd, pd.pool, int64(size))
}

func handleLayerShellGetLayerSurface(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	newID, err := dec.Object()
	if err != nil {
		return err
	}
	surfObjID, err := dec.Object()
	if err != nil {
		return err
	}
	_, err = dec.Object() // output, optional: nil means "compositor chooses"
	if err != nil {
		return err
	}
	layerNum, err := dec.Uint32()
	if err != nil {
		return err
	}
	namespace, err := dec.String()
	if err != nil {
		return err
	}
	surfObj, ok := c.Lookup(surfObjID)
	if !ok {
		return &unknownObjectError{id: surfObjID}
	}
	sid := surfObj.Data.(scene.SurfaceID)
	if err := d.scene.AssignRole(sid, scene.RoleLayer, 0); err != nil {
		return err
	}
	if surf, ok := d.scene.Get(sid); ok {
		surf.Layer = scene.LayerClass(layerNum)
	}
	lss := &LayerSurfaceState{SurfaceID: sid, Namespace: namespace}
	d.layerSurfaces[sid] = lss
	c.Register(newID, IfaceLayerSurface, obj.Version, lss)
	d.surfaceOwner[sid] = c.ID

	ev := d.OnLayerRoleAssigned(sid)
	c.Emit(wire.NewEncoder().PutUint32(ev.Serial).PutUint32(0).PutUint32(0).Build(newID, evLayerSurfaceConfigure))
	return nil
}

func layerStateOf(obj *Object) *LayerSurfaceState { return obj.Data.(*LayerSurfaceState) }

func handleLayerSurfaceSetSize(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	w, err := dec.Uint32()
	if err != nil {
		return err
	}
	h, err := dec.Uint32()
	if err != nil {
		return err
	}
	lss := layerStateOf(obj)
	lss.DesiredW, lss.DesiredH = int32(w), int32(h)
	return nil
}

func handleLayerSurfaceSetAnchor(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	anchor, err := dec.Uint32()
	if err != nil {
		return err
	}
	layerStateOf(obj).Anchor = anchor
	return nil
}

func handleLayerSurfaceSetExclusiveZone(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	zone, err := dec.Int32()
	if err != nil {
		return err
	}
	layerStateOf(obj).ExclusiveZone = zone
	return nil
}

func handleLayerSurfaceSetMargin(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	top, err := dec.Int32()
	if err != nil {
		return err
	}
	right, err := dec.Int32()
	if err != nil {
		return err
	}
	bottom, err := dec.Int32()
	if err != nil {
		return err
	}
	left, err := dec.Int32()
	if err != nil {
		return err
	}
	lss := layerStateOf(obj)
	lss.MarginTop, lss.MarginRight, lss.MarginBottom, lss.MarginLeft = top, right, bottom, left
	return nil
}

func handleLayerSurfaceAckConfigure(d *Dispatcher, c *Client, obj *Object, dec *wire.Decoder) error {
	serial, err := dec.Uint32()
	if err != nil {
		return err
	}
	return d.OnAck(layerStateOf(obj).SurfaceID, serial)
}
