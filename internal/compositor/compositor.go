// Package compositor is the top-level orchestrator: it owns the Wayland
// listening socket, wires every other internal package together, and
// drives the tick/frame timers that the rest of the tree only describes
// the shape of (§4.8 and §5's single-threaded model).
//
// Grounded on original_source's compositor.rs AxiomCompositor: a struct
// assembling the workspace/effects/window/input/ipc/backend subsystems in
// New(), then a run() loop using tokio::select! to race SIGTERM/SIGINT
// against a combined tick. Axiomd's equivalent loop uses two
// time.Ticker-driven cases instead of one combined tick (the tick and
// frame timers have different, independent periods per §4.8), and
// signal.Notify instead of tokio::signal, but keeps the same "select over
// signals and timers, mutate everything from this one goroutine" shape —
// which is also exactly ctxmenu.go's own Run loop structure, so the two
// teacher sources agree on the idiom.
package compositor

import (
	"context"
	"fmt"
	"image"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/axiom-compositor/axiomd/internal/bufreg"
	"github.com/axiom-compositor/axiomd/internal/clock"
	"github.com/axiom-compositor/axiomd/internal/decoration"
	"github.com/axiom-compositor/axiomd/internal/events"
	"github.com/axiom-compositor/axiomd/internal/input"
	"github.com/axiom-compositor/axiomd/internal/keymap"
	"github.com/axiom-compositor/axiomd/internal/layout"
	"github.com/axiom-compositor/axiomd/internal/protocol"
	"github.com/axiom-compositor/axiomd/internal/render"
	"github.com/axiom-compositor/axiomd/internal/scene"
	"github.com/axiom-compositor/axiomd/internal/scheduler"
	"github.com/axiom-compositor/axiomd/internal/selection"
	"github.com/axiom-compositor/axiomd/internal/wire"
)

const (
	tickPeriod  = 4 * time.Millisecond
	framePeriod = 16 * time.Millisecond
)

// Config assembles everything the orchestrator needs that the surrounding
// binary (cmd/axiomd) is responsible for deciding: socket placement,
// layout/decoration policy, keybindings, and an already-created render
// target. Renderer may be nil, producing a headless compositor (protocol
// and layout only, no pixels) — useful for tests and for the supplemented
// SlowClients-only deployments mentioned in §9.
type Config struct {
	SocketPath  string
	Layout      layout.Config
	Decoration  decoration.Policy
	Keybindings map[string]input.Action
	Keymap      string // XKB keymap text; keymap.DefaultKeymap if empty
	Log         zerolog.Logger

	Renderer      *render.Renderer
	Titlebar      *decoration.TitlebarRenderer
	ViewportW     int32
	ViewportH     int32
	FrameBudgetMs float64
}

// Compositor is the assembled AxiomCompositor-equivalent: every subsystem
// plus the client connection table the core packages deliberately don't
// own (§3: "holds no socket references").
type Compositor struct {
	cfg Config
	log zerolog.Logger

	scene  *scene.Scene
	bufreg *bufreg.Registry
	clk    *clock.Clock
	disp   *protocol.Dispatcher
	lay    *layout.Engine
	router *input.Router
	sched  *scheduler.Scheduler
	selMgr *selection.Manager
	decMgr *decoration.Manager
	seat   *input.Seat

	renderer *render.Renderer
	titlebar *decoration.TitlebarRenderer

	keymapFile *os.File

	listener *net.UnixListener

	mu      sync.Mutex
	clients map[protocol.ClientID]*clientConn

	disconnected chan protocol.ClientID
}

type clientConn struct {
	client *protocol.Client
	conn   *wire.Conn
}

// New assembles every subsystem and wires the scheduler's DeliveryHooks to
// the seat's wire-emission layer and the renderer's upload path, but does
// not yet open the listening socket (ListenAndServe does that).
func New(cfg Config) (*Compositor, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("compositor: SocketPath is required")
	}
	if cfg.Layout == (layout.Config{}) {
		cfg.Layout = layout.DefaultConfig()
	}
	if cfg.Keymap == "" {
		cfg.Keymap = keymap.DefaultKeymap
	}

	kmFile, kmSize, err := keymap.Write(cfg.Keymap)
	if err != nil {
		return nil, fmt.Errorf("compositor: allocating keymap fd: %w", err)
	}

	sc := scene.New()
	br := bufreg.New()
	clk := clock.New()
	disp := protocol.New(sc, br, clk, cfg.Log)
	lay := layout.New(cfg.Layout)
	router := input.New(clk, cfg.Keybindings)
	selMgr := selection.New()
	decMgr := decoration.New(cfg.Decoration)
	seat := input.NewSeat(disp, int(kmFile.Fd()), kmSize)

	selection.Register(disp, selMgr)
	decoration.Register(disp, decMgr)
	input.Register(disp, seat)

	comp := &Compositor{
		cfg:          cfg,
		log:          cfg.Log,
		scene:        sc,
		bufreg:       br,
		clk:          clk,
		disp:         disp,
		lay:          lay,
		router:       router,
		selMgr:       selMgr,
		decMgr:       decMgr,
		seat:         seat,
		renderer:     cfg.Renderer,
		titlebar:     cfg.Titlebar,
		keymapFile:   kmFile,
		clients:      make(map[protocol.ClientID]*clientConn),
		disconnected: make(chan protocol.ClientID, 16),
	}

	comp.sched = scheduler.New(disp, lay, router, clk, scheduler.DeliveryHooks{
		OnAction:           comp.handleAction,
		OnUnmatchedKey:     comp.handleUnmatchedKey,
		OnPointerEnter:     seat.PointerEnter,
		OnPointerLeave:     seat.PointerLeave,
		OnPointerMotion:    seat.PointerMotion,
		OnPointerButton:    seat.PointerButton,
		OnPointerAxis:      seat.PointerAxis,
		OnKeyboardEnter:    seat.KeyboardEnter,
		OnKeyboardLeave:    seat.KeyboardLeave,
		OnModifiers:        comp.handleModifiers,
		OnTouch:            seat.Touch,
		OnSurfaceCommitted: comp.handleSurfaceCommitted,
		OnWindowMapped:     comp.handleWindowMapped,
		OnWindowUnmapped:   comp.handleWindowUnmapped,
		OnClientError:      comp.handleClientError,
	})

	if cfg.ViewportW > 0 && cfg.ViewportH > 0 {
		lay.SetViewportSize(cfg.ViewportW, cfg.ViewportH)
	}

	return comp, nil
}

func (c *Compositor) handleAction(a input.Action) {
	if a.Kind == input.ActionQuit {
		c.log.Info().Msg("quit keybinding matched")
	}
}

// handleUnmatchedKey forwards a non-keybinding key to whichever client owns
// the currently keyboard-focused surface (§4.6 "keys not matching a
// binding are forwarded to the focused surface").
func (c *Compositor) handleUnmatchedKey(surf input.SurfaceRef, hasSurface bool, ev input.KeyEvent) {
	if !hasSurface {
		return
	}
	c.seat.Key(surf, hasSurface, ev)
}

func (c *Compositor) handleModifiers(upd input.ModifiersUpdate) {
	surf, hasSurface := c.router.KeyboardFocus()
	c.seat.Modifiers(surf, hasSurface, upd)
}

// handleWindowMapped registers a fresh texture slot the first time the
// renderer hears about a window (Upload would lazily create one anyway,
// but RegisterWindow keeps the renderer's window set in sync with the
// layout engine's even for windows that never attach a buffer).
func (c *Compositor) handleWindowMapped(wid layout.WindowID, sid scene.SurfaceID) {
	if c.renderer != nil {
		c.renderer.RegisterWindow(wid)
	}
}

func (c *Compositor) handleWindowUnmapped(wid layout.WindowID, sid scene.SurfaceID) {
	if c.renderer != nil {
		c.renderer.UnregisterWindow(wid)
	}
	c.decMgr.Forget(sid)
}

// handleClientError disconnects exactly the client the scheduler attributed
// a protocol error to (§7 "only this client's socket is closed"); it runs
// on the same ListenAndServe goroutine that calls sched.Tick, so it can
// call handleDisconnect directly instead of going through the
// disconnected channel.
func (c *Compositor) handleClientError(client *protocol.Client, err error) {
	c.log.Warn().Err(err).Uint32("client", uint32(client.ID)).Msg("client protocol error, disconnecting")
	c.handleDisconnect(client.ID)
}

// handleSurfaceCommitted converts a committed buffer to RGBA and uploads it
// into the renderer's per-window or per-layer-surface texture (§4.7 "on
// commit, damage is converted to pixels"). A surface resolves to at most one
// of the two (toplevel role vs. layer-shell role are mutually exclusive —
// internal/scene.AssignRole rejects a second role). Surfaces with no renderer
// wired (headless mode), or not yet mapped to either a layout window or a
// layer surface, are skipped.
func (c *Compositor) handleSurfaceCommitted(ev events.SurfaceCommitted) {
	if c.renderer == nil || !ev.Buffer.HasCurrentBuf {
		return
	}
	pixels, w, h, err := c.bufreg.ToRGBA(ev.Buffer.NewCurrentBuf, nil)
	if err != nil {
		c.log.Warn().Err(err).Uint32("surface", uint32(ev.Surface)).Msg("buffer conversion failed")
		return
	}

	if wid, ok := c.sched.WindowOf(ev.Surface); ok {
		damage := make([]image.Rectangle, 0, len(ev.Buffer.Damage))
		for _, d := range ev.Buffer.Damage {
			damage = append(damage, image.Rect(int(d.X), int(d.Y), int(d.X+d.W), int(d.Y+d.H)))
		}
		if err := c.renderer.Upload(wid, pixels, int32(w), int32(h), int32(w)*4, damage); err != nil {
			c.log.Warn().Err(err).Msg("texture upload failed")
		}
		return
	}

	if lid, ok := c.sched.LayerOf(ev.Surface); ok {
		if err := c.renderer.UploadLayer(lid, pixels, int32(w), int32(h), int32(w)*4); err != nil {
			c.log.Warn().Err(err).Msg("layer texture upload failed")
		}
	}
}

// ListenAndServe opens the Unix socket, accepts clients, and runs the
// tick/frame loop until ctx is cancelled or SIGTERM/SIGINT is received
// (mirroring compositor.rs's run()'s tokio::select! over signals and
// ticks).
func (c *Compositor) ListenAndServe(ctx context.Context) error {
	if err := os.RemoveAll(c.cfg.SocketPath); err != nil {
		return fmt.Errorf("compositor: clearing stale socket: %w", err)
	}
	addr, err := net.ResolveUnixAddr("unix", c.cfg.SocketPath)
	if err != nil {
		return err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return err
	}
	c.listener = ln
	defer c.shutdown()

	go c.acceptLoop()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	tickTicker := time.NewTicker(tickPeriod)
	defer tickTicker.Stop()
	frameTicker := time.NewTicker(framePeriod)
	defer frameTicker.Stop()

	c.log.Info().Str("socket", c.cfg.SocketPath).Msg("compositor listening")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("context cancelled, shutting down")
			return nil
		case sig := <-sigCh:
			c.log.Info().Str("signal", sig.String()).Msg("received signal, shutting down gracefully")
			return nil
		case id := <-c.disconnected:
			c.handleDisconnect(id)
		case <-tickTicker.C:
			if err := c.sched.Tick(float64(tickPeriod) / float64(time.Second)); err != nil {
				c.log.Warn().Err(err).Msg("tick error")
			}
			c.flushOutboxes()
		case <-frameTicker.C:
			c.sched.FrameTick()
			c.drawFrame()
			c.flushOutboxes()
		}
	}
}

// acceptLoop is the one goroutine allowed to touch the listener; every
// accepted connection's own read loop only parses wire messages and hands
// them to the scheduler's queue, never mutating shared state directly, so
// every other piece of compositor state is touched from the single
// ListenAndServe goroutine (§5).
func (c *Compositor) acceptLoop() {
	for {
		uc, err := c.listener.AcceptUnix()
		if err != nil {
			return
		}
		client := c.disp.NewClient()
		cc := &clientConn{client: client, conn: wire.NewConn(uc)}
		c.mu.Lock()
		c.clients[client.ID] = cc
		c.mu.Unlock()
		c.log.Debug().Uint32("client", uint32(client.ID)).Msg("client connected")
		go c.readLoop(cc)
	}
}

func (c *Compositor) readLoop(cc *clientConn) {
	for {
		msg, err := cc.conn.ReadMessage()
		if err != nil {
			c.disconnected <- cc.client.ID
			return
		}
		c.sched.QueueMessage(cc.client, msg)
	}
}

func (c *Compositor) handleDisconnect(id protocol.ClientID) {
	c.mu.Lock()
	cc, ok := c.clients[id]
	delete(c.clients, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	for _, sid := range c.disp.Disconnect(cc.client) {
		if wid, ok := c.sched.WindowOf(sid); ok {
			c.handleWindowUnmapped(wid, sid)
			c.sched.UnregisterWindow(sid)
		}
	}
	cc.conn.Close()
	c.log.Debug().Uint32("client", uint32(id)).Msg("client disconnected")
}

// flushOutboxes writes every client's queued events to its socket — the
// one part of a tick the scheduler explicitly leaves to the orchestrator
// (scheduler.go: "minus the socket flush").
func (c *Compositor) flushOutboxes() {
	c.mu.Lock()
	conns := make([]*clientConn, 0, len(c.clients))
	for _, cc := range c.clients {
		conns = append(conns, cc)
	}
	c.mu.Unlock()

	for _, cc := range conns {
		for _, msg := range cc.client.Outbox() {
			if err := cc.conn.WriteMessage(msg); err != nil {
				c.disconnected <- cc.client.ID
				break
			}
		}
	}
}

// drawFrame rebuilds the renderer's per-frame input from the layout
// engine's current (idempotent, per §8 property 6) geometry and draws one
// frame. A nil renderer (headless mode) makes this a no-op.
func (c *Compositor) drawFrame() {
	if c.renderer == nil {
		return
	}
	result := c.lay.Compute()
	effects := make(map[layout.WindowID]render.WindowEffects, len(result.WindowRects))
	titlebars := make(map[layout.WindowID]*image.RGBA)
	focused, hasFocus := c.lay.FocusedWindow()
	for wid, rect := range result.WindowRects {
		eff := render.WindowEffects{Opacity: 1, Scale: 1}
		sid, ok := c.sched.SurfaceOf(wid)
		if !ok {
			effects[wid] = eff
			continue
		}
		if mode, ok := c.decMgr.Mode(sid); ok && mode == decoration.ModeServerSide {
			eff.CornerRadius = 6
			if c.titlebar != nil {
				bar := c.titlebar.Render(c.disp.Title(sid), rect.W)
				titlebars[wid] = bar
			}
		}
		if hasFocus && wid == focused {
			eff.Shadow = true
		}
		effects[wid] = eff
	}

	frame := render.Frame{
		Rects:      result.WindowRects,
		StackOrder: result.StackOrder,
		Insets:     result.Insets,
		Effects:    effects,
		Titlebars:  titlebars,
		LayerRects: result.LayerRects,
		ViewportW:  c.cfg.ViewportW,
		ViewportH:  c.cfg.ViewportH,
	}
	if err := c.renderer.Draw(frame); err != nil {
		c.log.Warn().Err(err).Msg("draw failed")
	}
}

// shutdown tears down the listener and every connected client's socket
// (compositor.rs's shutdown(): "clean up subsystems" in teardown order).
func (c *Compositor) shutdown() {
	c.listener.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cc := range c.clients {
		cc.conn.Close()
	}
	c.clients = make(map[protocol.ClientID]*clientConn)
	if c.keymapFile != nil {
		c.keymapFile.Close()
	}
	os.RemoveAll(c.cfg.SocketPath)
}

// SlowClients exposes the dispatcher's liveness-tracking supplemented
// feature (§9) for a surrounding monitoring binary.
func (c *Compositor) SlowClients() []protocol.ClientID { return c.disp.SlowClients() }
