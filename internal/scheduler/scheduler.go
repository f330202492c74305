// Package scheduler is the Frame Scheduler (C8): the single-threaded main
// loop driving a ~4ms tick and a ~16ms frame timer (§4.8).
//
// Grounded on ctxmenu.go's Run method: a for{} loop that drains one event
// source per iteration (sdl.WaitEventTimeout) and folds the result into an
// Action bitmask before redrawing. Here the loop is tick-driven rather than
// blocking-wait-driven (the compositor must service many clients, not one
// window), but the same "drain, fold into decisions, then act" shape
// applies: Tick drains protocol messages, deferred events, and input, folds
// them into layout engine mutations, then asks the layout engine to
// recompute and pushes any changed rectangle out as a configure.
package scheduler

import (
	"github.com/axiom-compositor/axiomd/internal/clock"
	"github.com/axiom-compositor/axiomd/internal/events"
	"github.com/axiom-compositor/axiomd/internal/input"
	"github.com/axiom-compositor/axiomd/internal/layout"
	"github.com/axiom-compositor/axiomd/internal/protocol"
	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

// pendingMessage is one client request queued for the next tick's dispatch
// pass (§4.8 step 1, "dispatch pending protocol messages").
type pendingMessage struct {
	client *protocol.Client
	msg    *wire.Message
}

// queuedInput is a tagged union of the one normalized event types the
// input router accepts, queued for the next tick's drain (§4.8 step 2).
type queuedInput struct {
	key       *input.KeyEvent
	motion    *input.PointerMotionEvent
	button    *input.PointerButtonEvent
	axis      *input.PointerAxisEvent
	touch     *input.TouchEvent
	modifiers *input.Modifiers
}

// feedbackEntry is one outstanding wp_presentation_feedback awaiting
// delivery at the next frame-timer firing.
type feedbackEntry struct {
	client   *protocol.Client
	feedback wire.ObjectID
}

// DeliveryHooks lets the surrounding orchestrator (internal/compositor)
// observe keybinding matches and unmatched input without the scheduler
// needing to know the wire shape of wl_pointer/wl_keyboard events — those
// interfaces' request/event handlers are registered into the dispatcher by
// whatever package owns the seat (out of this package's scope per the
// "generalizes the teacher's shape, doesn't own every interface" split
// used across C5/C6/C9/C10). Every hook defaults to a no-op.
type DeliveryHooks struct {
	OnAction       func(action input.Action)
	OnUnmatchedKey func(surface input.SurfaceRef, hasSurface bool, ev input.KeyEvent)

	// Pointer/keyboard/touch hooks mirror internal/input.Router's own
	// Handle*/Update vocabulary verbatim: the scheduler only folds Router's
	// output into these callbacks, leaving wire encoding (wl_pointer/
	// wl_keyboard/wl_touch enter/leave/motion/key/modifiers events) to
	// whatever package owns the seat's bound objects (internal/compositor).
	OnPointerEnter  func(ev input.PointerEnterEvent)
	OnPointerLeave  func(ev input.LeaveEvent)
	OnPointerMotion func(ev input.PointerMotionResult)
	OnPointerButton func(ev input.ButtonUpdate)
	OnPointerAxis   func(surface input.SurfaceRef, hasSurface bool, ev input.PointerAxisEvent)
	OnKeyboardEnter func(ev input.KeyboardEnterEvent)
	OnKeyboardLeave func(ev input.LeaveEvent)
	OnModifiers     func(ev input.ModifiersUpdate)
	OnTouch         func(id int32, ev input.TouchUpdate, phase input.TouchPhase, x, y float64, timeMs uint32)

	// OnSurfaceCommitted fires once per wl_surface.commit that leaves the
	// surface with a current buffer or carries fresh damage, so the
	// orchestrator can push pixels into
	// internal/render without this package importing internal/bufreg's
	// ToRGBA conversion itself (§4.7's upload step is render's job, not
	// the scheduler's).
	OnSurfaceCommitted func(ev events.SurfaceCommitted)

	// OnWindowMapped/OnWindowUnmapped mirror this package's own
	// RegisterWindow/UnregisterWindow calls, letting the orchestrator keep
	// internal/render's per-window texture bookkeeping (and internal/input's
	// pointer/keyboard focus teardown) in lockstep with the layout engine's
	// own window lifecycle instead of re-deriving it from the raw event bus.
	OnWindowMapped   func(wid layout.WindowID, sid scene.SurfaceID)
	OnWindowUnmapped func(wid layout.WindowID, sid scene.SurfaceID)

	// OnClientError fires when Dispatch rejects one client's request (§7:
	// a protocol error or any other per-message failure is attributed to
	// exactly that client). The orchestrator owns the client's net.Conn,
	// so it alone can close the socket; this package only reports which
	// client misbehaved and why, then discards the rest of that client's
	// already-queued messages for the tick without touching anyone else's.
	OnClientError func(c *protocol.Client, err error)
}

// Scheduler owns the main loop's per-tick bookkeeping: the window<->surface
// id mapping (the orchestrator-level ownership the layout engine
// deliberately does not hold, §3), queued input/messages, and the
// monotonically increasing presentation-feedback sequence counter.
type Scheduler struct {
	disp   *protocol.Dispatcher
	lay    *layout.Engine
	router *input.Router
	clk    *clock.Clock
	hooks  DeliveryHooks

	nextWindowID  layout.WindowID
	surfaceWindow map[scene.SurfaceID]layout.WindowID
	windowSurface map[layout.WindowID]scene.SurfaceID
	windowOwner   map[layout.WindowID]protocol.ClientID

	nextLayerID  layout.LayerSurfaceID
	surfaceLayer map[scene.SurfaceID]layout.LayerSurfaceID
	layerSurface map[layout.LayerSurfaceID]scene.SurfaceID

	pendingMsgs []pendingMessage
	pendingIn   []queuedInput

	pendingFeedback map[scene.SurfaceID][]feedbackEntry

	frameSeq    uint64
	ticksSinceP int
	pingEveryN  int // number of ~4ms ticks between pings (5s / 4ms = 1250)
}

const tickPeriodMs = 4
const pingIntervalMs = 5000

// New builds a Scheduler wiring a dispatcher, layout engine, and input
// router together. hooks may be the zero value; every field defaults to a
// no-op.
func New(disp *protocol.Dispatcher, lay *layout.Engine, router *input.Router, clk *clock.Clock, hooks DeliveryHooks) *Scheduler {
	return &Scheduler{
		disp:            disp,
		lay:             lay,
		router:          router,
		clk:             clk,
		hooks:           hooks,
		surfaceWindow:   make(map[scene.SurfaceID]layout.WindowID),
		windowSurface:   make(map[layout.WindowID]scene.SurfaceID),
		windowOwner:     make(map[layout.WindowID]protocol.ClientID),
		surfaceLayer:    make(map[scene.SurfaceID]layout.LayerSurfaceID),
		layerSurface:    make(map[layout.LayerSurfaceID]scene.SurfaceID),
		pendingFeedback: make(map[scene.SurfaceID][]feedbackEntry),
		pingEveryN:      pingIntervalMs / tickPeriodMs,
	}
}

// QueueMessage enqueues one decoded client request for the next Tick's
// dispatch pass.
func (s *Scheduler) QueueMessage(c *protocol.Client, msg *wire.Message) {
	s.pendingMsgs = append(s.pendingMsgs, pendingMessage{client: c, msg: msg})
}

// QueueKey, QueueMotion, QueueButton, QueueAxis, QueueTouch, and
// QueueModifiers enqueue one normalized input event for the next Tick's
// input drain.
func (s *Scheduler) QueueKey(ev input.KeyEvent)             { s.pendingIn = append(s.pendingIn, queuedInput{key: &ev}) }
func (s *Scheduler) QueueMotion(ev input.PointerMotionEvent) {
	s.pendingIn = append(s.pendingIn, queuedInput{motion: &ev})
}
func (s *Scheduler) QueueButton(ev input.PointerButtonEvent) {
	s.pendingIn = append(s.pendingIn, queuedInput{button: &ev})
}
func (s *Scheduler) QueueAxis(ev input.PointerAxisEvent) { s.pendingIn = append(s.pendingIn, queuedInput{axis: &ev}) }
func (s *Scheduler) QueueTouch(ev input.TouchEvent)      { s.pendingIn = append(s.pendingIn, queuedInput{touch: &ev}) }
func (s *Scheduler) QueueModifiers(m input.Modifiers)    { s.pendingIn = append(s.pendingIn, queuedInput{modifiers: &m}) }

// QueueFeedback registers a wp_presentation_feedback object awaiting
// delivery at the next frame timer (§4.8 step 2). Surfaces destroyed before
// delivery receive `discarded` instead of `presented` automatically.
func (s *Scheduler) QueueFeedback(c *protocol.Client, sid scene.SurfaceID, feedbackObjID wire.ObjectID) {
	s.pendingFeedback[sid] = append(s.pendingFeedback[sid], feedbackEntry{client: c, feedback: feedbackObjID})
}

// RegisterWindow assigns a fresh layout.WindowID to a newly mapped surface
// and tells the layout engine about it. Call this when draining a
// events.KindWindowMapped notification.
func (s *Scheduler) RegisterWindow(owner protocol.ClientID, sid scene.SurfaceID, requestedW, requestedH int32) layout.WindowID {
	if wid, ok := s.surfaceWindow[sid]; ok {
		return wid
	}
	s.nextWindowID++
	wid := s.nextWindowID
	s.surfaceWindow[sid] = wid
	s.windowSurface[wid] = sid
	s.windowOwner[wid] = owner
	s.lay.MapWindow(wid, requestedW, requestedH)
	return wid
}

// UnregisterWindow removes a surface's layout presence on unmap/destroy.
func (s *Scheduler) UnregisterWindow(sid scene.SurfaceID) {
	wid, ok := s.surfaceWindow[sid]
	if !ok {
		return
	}
	s.lay.UnmapWindow(wid)
	delete(s.surfaceWindow, sid)
	delete(s.windowSurface, wid)
	delete(s.windowOwner, wid)
}

// drainDispatcherEvents folds map/unmap notifications from the protocol
// layer into the window<->surface mapping (§4.8 step 1's deferred-event
// drain). The whole drained slice, including surface-committed events, is
// returned so a caller wanting them doesn't need a second drain call; the
// bus carries no title, app-id or decoration-mode events.
func (s *Scheduler) drainDispatcherEvents() []events.Event {
	evs := s.disp.DrainEvents()
	for _, e := range evs {
		switch e.Kind {
		case events.KindWindowMapped:
			owner, _ := s.disp.OwnerOf(e.Mapped.Surface)
			wid := s.RegisterWindow(owner, e.Mapped.Surface, 0, 0)
			if s.hooks.OnWindowMapped != nil {
				s.hooks.OnWindowMapped(wid, e.Mapped.Surface)
			}
		case events.KindWindowUnmapped:
			if wid, ok := s.surfaceWindow[e.Unmapped.Surface]; ok && s.hooks.OnWindowUnmapped != nil {
				s.hooks.OnWindowUnmapped(wid, e.Unmapped.Surface)
			}
			s.UnregisterWindow(e.Unmapped.Surface)
		case events.KindSurfaceCommitted:
			if s.hooks.OnSurfaceCommitted != nil {
				s.hooks.OnSurfaceCommitted(e.Committed)
			}
		}
	}
	return evs
}

// drainInput folds queued normalized input into keybinding-driven layout
// mutations, invoking hooks.OnAction for matched bindings and
// hooks.OnUnmatchedKey for keys that should be forwarded to the focused
// surface (§4.8 step 2).
func (s *Scheduler) drainInput() {
	in := s.pendingIn
	s.pendingIn = nil
	for _, q := range in {
		switch {
		case q.key != nil:
			res := s.router.HandleKey(*q.key)
			if res.Matched {
				s.applyAction(res.Action)
				if s.hooks.OnAction != nil {
					s.hooks.OnAction(res.Action)
				}
			} else if s.hooks.OnUnmatchedKey != nil {
				s.hooks.OnUnmatchedKey(res.Surface, res.HasSurface, *q.key)
			}
		case q.motion != nil:
			upd := s.router.HandleMotion(*q.motion)
			if upd.Leave != nil && s.hooks.OnPointerLeave != nil {
				s.hooks.OnPointerLeave(*upd.Leave)
			}
			if upd.Enter != nil && s.hooks.OnPointerEnter != nil {
				s.hooks.OnPointerEnter(*upd.Enter)
			}
			if upd.Motion != nil && s.hooks.OnPointerMotion != nil {
				s.hooks.OnPointerMotion(*upd.Motion)
			}
		case q.button != nil:
			upd := s.router.HandleButton(*q.button)
			if s.hooks.OnPointerButton != nil {
				s.hooks.OnPointerButton(upd)
			}
			if upd.KeyboardLeave != nil && s.hooks.OnKeyboardLeave != nil {
				s.hooks.OnKeyboardLeave(*upd.KeyboardLeave)
			}
			if upd.KeyboardEnter != nil && s.hooks.OnKeyboardEnter != nil {
				s.hooks.OnKeyboardEnter(*upd.KeyboardEnter)
			}
		case q.axis != nil:
			surf, ok := s.router.HandleAxis(*q.axis)
			if s.hooks.OnPointerAxis != nil {
				s.hooks.OnPointerAxis(surf, ok, *q.axis)
			}
		case q.touch != nil:
			upd := s.router.HandleTouch(*q.touch)
			if s.hooks.OnTouch != nil {
				s.hooks.OnTouch(q.touch.ID, upd, q.touch.Phase, q.touch.X, q.touch.Y, q.touch.TimeMs)
			}
		case q.modifiers != nil:
			upd := s.router.HandleModifiers(*q.modifiers)
			if upd.Changed && s.hooks.OnModifiers != nil {
				s.hooks.OnModifiers(upd)
			}
		}
	}
}

// applyAction maps a matched keybinding action onto the layout engine
// (§4.4's scroll/move/fullscreen operations). ActionCustom and ActionQuit
// carry no layout-engine meaning and are left entirely to hooks.OnAction.
func (s *Scheduler) applyAction(a input.Action) {
	focused, hasFocus := s.lay.FocusedWindow()
	switch a.Kind {
	case input.ActionScrollLeft:
		s.lay.ScrollLeft()
	case input.ActionScrollRight:
		s.lay.ScrollRight()
	case input.ActionMoveWindowLeft:
		if hasFocus {
			s.lay.MoveWindowLeft(focused)
		}
	case input.ActionMoveWindowRight:
		if hasFocus {
			s.lay.MoveWindowRight(focused)
		}
	case input.ActionToggleFullscreen:
		if hasFocus {
			s.lay.ToggleFullscreen(focused)
		}
	}
}

// syncLayerSurfaces mirrors the dispatcher's accumulated
// zwlr_layer_surface_v1 state into the layout engine's LayerInput records,
// assigning each surface a stable layout.LayerSurfaceID on first sight.
func (s *Scheduler) syncLayerSurfaces() {
	for sid, lss := range s.disp.LayerSurfaces() {
		lid, ok := s.surfaceLayer[sid]
		if !ok {
			s.nextLayerID++
			lid = s.nextLayerID
			s.surfaceLayer[sid] = lid
			s.layerSurface[lid] = sid
		}
		s.lay.SetLayerSurface(lid, layout.LayerInput{
			Anchor:        layout.Anchor(lss.Anchor),
			MarginTop:     lss.MarginTop,
			MarginRight:   lss.MarginRight,
			MarginBottom:  lss.MarginBottom,
			MarginLeft:    lss.MarginLeft,
			ExclusiveZone: lss.ExclusiveZone,
			DesiredW:      lss.DesiredW,
			DesiredH:      lss.DesiredH,
		})
	}
}

// buildHitAreas converts the layout engine's last computed geometry into
// the input router's topmost-first hit-test list (§4.6: "C6 queries C4's
// last computed geometry" every tick; layer surfaces take priority over
// the tiled stack). Windows are listed in reverse stacking order since
// Result.StackOrder is bottom-to-top and HitArea wants topmost-first.
func (s *Scheduler) buildHitAreas(result layout.Result) []input.HitArea {
	areas := make([]input.HitArea, 0, len(result.LayerRects)+len(result.StackOrder))
	for lid, rect := range result.LayerRects {
		sid, ok := s.layerSurface[lid]
		if !ok {
			continue
		}
		areas = append(areas, input.HitArea{
			Surface: input.SurfaceRef(sid),
			Rect:    input.Rect{X: rect.X, Y: rect.Y, W: rect.W, H: rect.H},
		})
	}
	for i := len(result.StackOrder) - 1; i >= 0; i-- {
		wid := result.StackOrder[i]
		sid, ok := s.windowSurface[wid]
		if !ok {
			continue
		}
		rect, ok := result.WindowRects[wid]
		if !ok {
			continue
		}
		areas = append(areas, input.HitArea{
			Surface: input.SurfaceRef(sid),
			Rect:    input.Rect{X: rect.X, Y: rect.Y, W: rect.W, H: rect.H},
		})
	}
	return areas
}

// Tick runs one ~4ms main-loop iteration (§4.8 steps 1-5, minus the socket
// flush which is the caller's responsibility once it owns a real
// net.UnixConn per client).
func (s *Scheduler) Tick(dtSeconds float64) error {
	msgs := s.pendingMsgs
	s.pendingMsgs = nil
	var badClients map[protocol.ClientID]bool
	for _, m := range msgs {
		if badClients[m.client.ID] {
			continue
		}
		if err := s.disp.Dispatch(m.client, m.msg); err != nil {
			// Only this client is at fault (§7) — the remaining queued
			// messages belong to other clients in this same batch and must
			// still be dispatched, not discarded (spec's S6: "other clients
			// remain connected").
			if badClients == nil {
				badClients = make(map[protocol.ClientID]bool)
			}
			badClients[m.client.ID] = true
			if s.hooks.OnClientError != nil {
				s.hooks.OnClientError(m.client, err)
			}
			continue
		}
	}

	s.drainDispatcherEvents()
	s.drainInput()

	s.lay.Advance(dtSeconds)

	s.syncLayerSurfaces()

	result := s.lay.Compute()
	s.router.SetHitAreas(s.buildHitAreas(result))
	focused, _ := s.lay.FocusedWindow()
	for wid, rect := range result.WindowRects {
		sid, ok := s.windowSurface[wid]
		if !ok {
			continue
		}
		// RequestConfigure diffs against its own last-sent width/height/
		// activated, so calling it every tick for every mapped window costs
		// nothing extra when nothing changed and also catches an
		// activation-only flip that the rectangle alone wouldn't show.
		s.disp.RequestConfigure(sid, rect.W, rect.H, wid == focused)
	}

	s.ticksSinceP++
	if s.ticksSinceP >= s.pingEveryN {
		s.ticksSinceP = 0
		s.disp.Ping()
	}
	return nil
}

// FrameTick runs the ~16ms frame timer (§4.8 "Every ~16ms"): deliver
// pending frame callbacks, then deliver presentation feedback with a
// monotonically increasing sequence counter.
func (s *Scheduler) FrameTick() {
	now := s.clk.WallNow()
	for _, sid := range s.disp.AllSurfaceIDs() {
		cbs := s.disp.DrainFrameCallbacks(sid)
		if len(cbs) == 0 {
			continue
		}
		owner, ok := s.disp.OwnerOf(sid)
		if !ok {
			continue
		}
		c, ok := s.disp.ClientByID(owner)
		if !ok {
			continue
		}
		for _, cbID := range cbs {
			s.disp.EmitFrameDone(c, wire.ObjectID(cbID), now)
		}
	}

	// wp_presentation_feedback's sequence and tv_sec are split into two
	// 32-bit halves on the wire; seq is a plain frame counter starting at 0
	// (§4.8 Scenario S1: "...seq=0" on the first delivered feedback),
	// tv_sec/nsec come from the synthetic 60Hz presentation clock (§4.8:
	// "or synthetic 60 Hz if no external presenter is wired").
	seqHi := uint32(s.frameSeq >> 32)
	seqLo := uint32(s.frameSeq)
	s.frameSeq++
	wallNs := s.clk.Now().UnixNano()
	secHi := uint32(uint64(wallNs/1e9) >> 32)
	secLo := uint32(wallNs / 1e9)
	nsec := uint32(wallNs % 1e9)
	const refreshNs = 16_666_666
	for sid, entries := range s.pendingFeedback {
		delete(s.pendingFeedback, sid)
		alive := s.disp.SurfaceAlive(sid)
		for _, e := range entries {
			if alive {
				s.disp.EmitPresented(e.client, e.feedback, secHi, secLo, nsec, refreshNs, seqHi, seqLo, 0)
			} else {
				s.disp.EmitDiscarded(e.client, e.feedback)
			}
		}
	}
}

// WindowOf returns the layout window id assigned to a mapped surface.
func (s *Scheduler) WindowOf(sid scene.SurfaceID) (layout.WindowID, bool) {
	wid, ok := s.surfaceWindow[sid]
	return wid, ok
}

// SurfaceOf returns the surface backing a layout window id.
func (s *Scheduler) SurfaceOf(wid layout.WindowID) (scene.SurfaceID, bool) {
	sid, ok := s.windowSurface[wid]
	return sid, ok
}

// LayerOf returns the layout layer-surface id assigned to a bound layer
// surface, mirroring WindowOf for the toplevel case (§4.4 layer surfaces).
func (s *Scheduler) LayerOf(sid scene.SurfaceID) (layout.LayerSurfaceID, bool) {
	lid, ok := s.surfaceLayer[sid]
	return lid, ok
}

// SurfaceOfLayer returns the surface backing a layout layer-surface id.
func (s *Scheduler) SurfaceOfLayer(lid layout.LayerSurfaceID) (scene.SurfaceID, bool) {
	sid, ok := s.layerSurface[lid]
	return sid, ok
}
