package scheduler

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/axiom-compositor/axiomd/internal/bufreg"
	"github.com/axiom-compositor/axiomd/internal/clock"
	"github.com/axiom-compositor/axiomd/internal/input"
	"github.com/axiom-compositor/axiomd/internal/layout"
	"github.com/axiom-compositor/axiomd/internal/protocol"
	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

// The opcode numbers below repeat internal/protocol's own request opcodes
// (this module's per-interface numbering, which does not follow the upstream
// Wayland/xdg-shell XML for every request) -- internal/protocol's opcode
// constants are unexported, so an external test plays client by encoding
// the same values itself.
const (
	opRegistryBind       wire.Opcode = 0
	opCompositorCreate   wire.Opcode = 0
	opSurfaceFrame       wire.Opcode = 3
	opSurfaceCommit      wire.Opcode = 4
	opSurfaceAttach      wire.Opcode = 1
	opWmBaseGetXdgSurface wire.Opcode = 2
	opXdgSurfaceGetToplevel  wire.Opcode = 1
	opXdgSurfaceAckConfigure wire.Opcode = 3
	opShmCreatePool      wire.Opcode = 0
	opShmPoolCreateBuffer wire.Opcode = 0
)

func newHarness(t *testing.T) (*protocol.Dispatcher, *protocol.Client, *layout.Engine, *clock.Clock) {
	t.Helper()
	clk := clock.New()
	disp := protocol.New(scene.New(), bufreg.New(), clk, zerolog.Nop())
	c := disp.NewClient()
	lay := layout.New(layout.DefaultConfig())
	lay.SetViewportSize(1920, 1080)
	return disp, c, lay, clk
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
	c.Register(0, protocol.IfaceRegistry, 1, nil)
	msg := wire.NewEncoder().PutUint32(name).PutString(string(iface)).PutUint32(1).PutObject(objID).
		Build(0, opRegistryBind)
	require.NoError(t, d.Dispatch(c, msg))
}

// mapToplevel drives create_surface -> get_xdg_surface -> get_toplevel,
// leaving the surface in StateWaitingForAck with an initial 800x600
// configure already queued in c's outbox.
func mapToplevel(t *testing.T, d *protocol.Dispatcher, c *protocol.Client, surfID, xdgSurfID, toplevelID wire.ObjectID) scene.SurfaceID {
	t.Helper()
	bindGlobal(t, d, c, protocol.IfaceCompositor, 10)
	bindGlobal(t, d, c, protocol.IfaceXdgWmBase, 11)

	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(surfID).Build(10, opCompositorCreate)))
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(xdgSurfID).PutObject(surfID).Build(11, opWmBaseGetXdgSurface)))
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(toplevelID).Build(xdgSurfID, opXdgSurfaceGetToplevel)))

	surfObj, ok := c.Lookup(surfID)
	require.True(t, ok)
	return surfObj.Data.(scene.SurfaceID)
}

// ackAndCommitWithBuffer drains the pending ack_configure serial from c's
// outbox, acks it, attaches an 800x600 ARGB8888 shm buffer, and commits --
// driving the surface through StateConfigured into StateMapped.
func ackAndCommitWithBuffer(t *testing.T, d *protocol.Dispatcher, c *protocol.Client, surfID, xdgSurfID wire.ObjectID) {
	t.Helper()
	msgs := c.Outbox()
	require.Len(t, msgs, 2) // xdg_toplevel.configure + xdg_surface.configure
	dec := wire.NewDecoder(msgs[1])
	serial, err := dec.Uint32()
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutUint32(serial).Build(xdgSurfID, opXdgSurfaceAckConfigure)))

	bindGlobal(t, d, c, protocol.IfaceShm, 30)
	f, err := os.CreateTemp(t.TempDir(), "shm")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(800*600*4))

	createPool := wire.NewEncoder().PutObject(31).PutInt32(800*600*4).Build(30, opShmCreatePool)
	createPool.FDs = []int{int(f.Fd())}
	require.NoError(t, d.Dispatch(c, createPool))
	createBuf := wire.NewEncoder().PutObject(32).PutInt32(0).PutInt32(800).PutInt32(600).PutInt32(800*4).
		PutUint32(uint32(bufreg.FormatARGB8888)).Build(31, opShmPoolCreateBuffer)
	require.NoError(t, d.Dispatch(c, createBuf))

	require.NoError(t, d.Dispatch(c, wire.NewEncoder().PutObject(32).PutInt32(0).PutInt32(0).Build(surfID, opSurfaceAttach)))
	require.NoError(t, d.Dispatch(c, wire.NewEncoder().Build(surfID, opSurfaceCommit)))
}

func TestRegisterWindowIsIdempotent(t *testing.T) {
	disp, _, lay, clk := newHarness(t)
	router := input.New(clk, nil)
	s := New(disp, lay, router, clk, DeliveryHooks{})

	wid1 := s.RegisterWindow(protocol.ClientID(1), scene.SurfaceID(7), 800, 600)
	wid2 := s.RegisterWindow(protocol.ClientID(1), scene.SurfaceID(7), 800, 600)
	require.Equal(t, wid1, wid2)

	got, ok := s.WindowOf(scene.SurfaceID(7))
	require.True(t, ok)
	require.Equal(t, wid1, got)

	sid, ok := s.SurfaceOf(wid1)
	require.True(t, ok)
	require.Equal(t, scene.SurfaceID(7), sid)
}

func TestUnregisterWindowClearsMapping(t *testing.T) {
	disp, _, lay, clk := newHarness(t)
	router := input.New(clk, nil)
	s := New(disp, lay, router, clk, DeliveryHooks{})

	s.RegisterWindow(protocol.ClientID(1), scene.SurfaceID(7), 800, 600)
	s.UnregisterWindow(scene.SurfaceID(7))

	_, ok := s.WindowOf(scene.SurfaceID(7))
	require.False(t, ok)
}

func TestUnregisterWindowUnknownSurfaceIsNoop(t *testing.T) {
	disp, _, lay, clk := newHarness(t)
	router := input.New(clk, nil)
	s := New(disp, lay, router, clk, DeliveryHooks{})

	require.NotPanics(t, func() { s.UnregisterWindow(scene.SurfaceID(999)) })
}

// TestTickMapsSurfaceAndRequestsConfigureOnLayoutChange drives a client
// through the full wire protocol flow to map a toplevel, then verifies one
// Tick both registers the resulting window with the layout engine (via the
// drained WindowMapped event) and emits a follow-up configure once the
// layout engine's column rectangle (960x1080, the full single-column
// viewport) differs from the 800x600 initial configure.
func TestTickMapsSurfaceAndRequestsConfigureOnLayoutChange(t *testing.T) {
	disp, c, lay, clk := newHarness(t)
	router := input.New(clk, nil)
	s := New(disp, lay, router, clk, DeliveryHooks{})

	sid := mapToplevel(t, disp, c, 20, 21, 22)
	ackAndCommitWithBuffer(t, disp, c, 20, 21)

	state, ok := disp.ConfigureStateOf(sid)
	require.True(t, ok)
	require.Equal(t, protocol.StateMapped, state)

	require.NoError(t, s.Tick(0))

	wid, ok := s.WindowOf(sid)
	require.True(t, ok)
	gotSid, ok := s.SurfaceOf(wid)
	require.True(t, ok)
	require.Equal(t, sid, gotSid)

	msgs := c.Outbox()
	require.NotEmpty(t, msgs, "layout engine's 960x1080 column rect differs from the 800x600 initial configure, so RequestConfigure should fire")
}

// TestTickIsIdempotentOnceRectStabilizes verifies a second Tick with no new
// input/messages does not re-emit a configure once the window's rectangle
// matches the last one requested (layout idempotence, mirrored at the
// scheduler level).
func TestTickIsIdempotentOnceRectStabilizes(t *testing.T) {
	disp, c, lay, clk := newHarness(t)
	router := input.New(clk, nil)
	s := New(disp, lay, router, clk, DeliveryHooks{})

	sid := mapToplevel(t, disp, c, 20, 21, 22)
	ackAndCommitWithBuffer(t, disp, c, 20, 21)

	require.NoError(t, s.Tick(0))
	c.Outbox() // drain the first post-map configure

	require.NoError(t, s.Tick(0))
	require.Empty(t, c.Outbox(), "expected no further configure once the rect stabilizes")
	_ = sid
}

// TestFrameTickDeliversFrameCallback exercises the owner-resolution path:
// a client requests wl_surface.frame before committing, and FrameTick must
// resolve the surface's owning client through the dispatcher to deliver the
// wl_callback.done event.
func TestFrameTickDeliversFrameCallback(t *testing.T) {
	disp, c, lay, clk := newHarness(t)
	router := input.New(clk, nil)
	s := New(disp, lay, router, clk, DeliveryHooks{})

	sid := mapToplevel(t, disp, c, 20, 21, 22)
	ackAndCommitWithBuffer(t, disp, c, 20, 21)
	require.NoError(t, s.Tick(0))
	c.Outbox()

	const callbackID wire.ObjectID = 40
	require.NoError(t, disp.Dispatch(c, wire.NewEncoder().PutObject(callbackID).Build(20, opSurfaceFrame)))
	require.NoError(t, disp.Dispatch(c, wire.NewEncoder().Build(20, opSurfaceCommit)))

	s.FrameTick()

	msgs := c.Outbox()
	require.Len(t, msgs, 1)
	require.Equal(t, callbackID, msgs[0].Sender)
	_ = sid
}

// TestFrameTickDiscardsFeedbackForDestroyedSurface verifies the
// presentation-feedback cancellation semantics (§4.8): a feedback object
// queued against a surface that is destroyed before the next frame timer
// fires receives `discarded`, not `presented`.
func TestFrameTickDiscardsFeedbackForDestroyedSurface(t *testing.T) {
	disp, c, lay, clk := newHarness(t)
	router := input.New(clk, nil)
	s := New(disp, lay, router, clk, DeliveryHooks{})

	sid := mapToplevel(t, disp, c, 20, 21, 22)
	ackAndCommitWithBuffer(t, disp, c, 20, 21)
	require.NoError(t, s.Tick(0))
	c.Outbox()

	const feedbackID wire.ObjectID = 50
	s.QueueFeedback(c, sid, feedbackID)

	disp.OnSurfaceDestroyed(sid)

	s.FrameTick()

	msgs := c.Outbox()
	require.Len(t, msgs, 1)
	require.Equal(t, feedbackID, msgs[0].Sender)
	// discarded carries no payload; presented carries seven uint32 fields.
	require.Empty(t, msgs[0].Args)
}

// TestFrameTickDeliversPresentedForLiveSurface is the mirror case: a
// feedback object queued against a surface still alive at the next frame
// timer receives `presented` with a monotonically increasing sequence.
func TestFrameTickDeliversPresentedForLiveSurface(t *testing.T) {
	disp, c, lay, clk := newHarness(t)
	router := input.New(clk, nil)
	s := New(disp, lay, router, clk, DeliveryHooks{})

	sid := mapToplevel(t, disp, c, 20, 21, 22)
	ackAndCommitWithBuffer(t, disp, c, 20, 21)
	require.NoError(t, s.Tick(0))
	c.Outbox()

	const feedbackID wire.ObjectID = 50
	s.QueueFeedback(c, sid, feedbackID)
	s.FrameTick()

	msgs := c.Outbox()
	require.Len(t, msgs, 1)
	require.Equal(t, feedbackID, msgs[0].Sender)
	require.NotEmpty(t, msgs[0].Args)
}

// TestQueuedKeyMatchingBindingInvokesOnActionHook verifies a matched
// keybinding both mutates the layout engine and fires DeliveryHooks.OnAction
// instead of being forwarded (§4.6 "a match is consumed, not forwarded").
func TestQueuedKeyMatchingBindingInvokesOnActionHook(t *testing.T) {
	disp, c, lay, clk := newHarness(t)
	bindings := map[string]input.Action{
		input.BindingKey(input.ModSuper, "l"): {Kind: input.ActionScrollRight},
	}
	router := input.New(clk, bindings)

	sid := mapToplevel(t, disp, c, 20, 21, 22)
	ackAndCommitWithBuffer(t, disp, c, 20, 21)
	_ = sid

	var gotActions []input.Action
	var unmatchedCalls int
	s := New(disp, lay, router, clk, DeliveryHooks{
		OnAction:       func(a input.Action) { gotActions = append(gotActions, a) },
		OnUnmatchedKey: func(input.SurfaceRef, bool, input.KeyEvent) { unmatchedCalls++ },
	})
	require.NoError(t, s.Tick(0)) // register the mapped window first

	s.QueueKey(input.KeyEvent{Name: "l", Modifiers: input.ModSuper, Pressed: true})
	require.NoError(t, s.Tick(0))

	require.Len(t, gotActions, 1)
	require.Equal(t, input.ActionScrollRight, gotActions[0].Kind)
	require.Zero(t, unmatchedCalls)
}

// TestQueuedNonMatchingKeyInvokesOnUnmatchedKeyHook is the mirror case: a
// key with no binding match is forwarded via OnUnmatchedKey, not applied to
// the layout engine.
func TestQueuedNonMatchingKeyInvokesOnUnmatchedKeyHook(t *testing.T) {
	disp, c, lay, clk := newHarness(t)
	router := input.New(clk, nil)

	sid := mapToplevel(t, disp, c, 20, 21, 22)
	ackAndCommitWithBuffer(t, disp, c, 20, 21)

	var unmatched []input.KeyEvent
	s := New(disp, lay, router, clk, DeliveryHooks{
		OnUnmatchedKey: func(_ input.SurfaceRef, _ bool, ev input.KeyEvent) { unmatched = append(unmatched, ev) },
	})
	require.NoError(t, s.Tick(0))

	s.QueueKey(input.KeyEvent{Name: "a", Pressed: true})
	require.NoError(t, s.Tick(0))

	require.Len(t, unmatched, 1)
	require.Equal(t, "a", unmatched[0].Name)
	_ = sid
}

// TestSyncLayerSurfacesFeedsExclusiveZoneIntoLayoutInsets exercises the
// layer-surface half of drainDispatcherEvents/syncLayerSurfaces: a panel
// anchored to the top with an exclusive zone should show up as a top inset
// in the layout engine's next computed result.
func TestSyncLayerSurfacesFeedsExclusiveZoneIntoLayoutInsets(t *testing.T) {
	disp, c, lay, clk := newHarness(t)
	router := input.New(clk, nil)
	s := New(disp, lay, router, clk, DeliveryHooks{})

	bindGlobal(t, disp, c, protocol.IfaceCompositor, 10)
	bindGlobal(t, disp, c, protocol.IfaceLayerShell, 12)
	require.NoError(t, disp.Dispatch(c, wire.NewEncoder().PutObject(20).Build(10, opCompositorCreate)))

	const opLayerShellGetLayerSurface wire.Opcode = 0
	const opLayerSurfaceSetAnchor wire.Opcode = 1
	const opLayerSurfaceSetExclusiveZone wire.Opcode = 2
	getLayerSurf := wire.NewEncoder().PutObject(23).PutObject(20).PutObject(0).PutUint32(2).PutString("panel").
		Build(12, opLayerShellGetLayerSurface)
	require.NoError(t, disp.Dispatch(c, getLayerSurf))
	require.NoError(t, disp.Dispatch(c, wire.NewEncoder().PutUint32(uint32(layout.AnchorTop)).Build(23, opLayerSurfaceSetAnchor)))
	require.NoError(t, disp.Dispatch(c, wire.NewEncoder().PutInt32(40).Build(23, opLayerSurfaceSetExclusiveZone)))

	require.NoError(t, s.Tick(0))

	result := lay.Compute()
	require.Equal(t, int32(40), result.Insets.Top)
}
