// Package events is the supplemented internal event bus (§ SUPPLEMENTED
// FEATURES): a typed, in-process queue of state-change notifications
// produced while the dispatcher processes client requests and drained by
// the scheduler once per tick ("drain deferred internal events produced
// during dispatch (map/unmap/title/app-id/decoration-mode changes)", §4.8
// step 1).
//
// original_source/src/ipc/mod.rs exposes the same information to an
// external optimizer process over a socket; that transport is out of
// scope per spec §1's Non-goals, but the shape of typed state-change
// events is kept so a future IPC layer outside this core could subscribe
// without the core packages changing. Grounded on the teacher's own
// callback-struct convention (ctxmenu's `XxxHandlers{OnYyy}`), inverted
// here into a single ordered queue rather than per-type callback slots,
// since the scheduler needs to drain events in arrival order.
package events

import "github.com/axiom-compositor/axiomd/internal/scene"

// Kind identifies the type of a queued event.
type Kind int

const (
	KindWindowMapped Kind = iota
	KindWindowUnmapped
	KindWorkspaceChanged
	KindFocusChanged
	KindSurfaceCommitted
)

// WindowMapped fires when a surface transitions from never-mapped to
// mapped (§4.3 "the surface becomes mapped").
type WindowMapped struct {
	Surface scene.SurfaceID
}

// WindowUnmapped fires when a mapped surface loses its buffer or is
// destroyed.
type WindowUnmapped struct {
	Surface scene.SurfaceID
}

// WorkspaceChanged fires when the active column/scroll target changes
// (keybinding-driven scroll, window move, focus-driven follow).
type WorkspaceChanged struct {
	ScrollTarget float64
}

// FocusChanged fires when keyboard focus moves to a different surface (or
// to none).
type FocusChanged struct {
	Surface    scene.SurfaceID
	HasSurface bool
}

// SurfaceCommitted fires on every wl_surface.commit that leaves the surface
// with a current buffer or carries fresh damage, carrying just enough of scene.CommitResult for the
// renderer-upload step (§4.7 "on commit, damage is converted to pixels")
// without internal/scheduler or internal/compositor reaching into
// internal/scene's commit machinery directly.
type SurfaceCommitted struct {
	Surface   scene.SurfaceID
	Buffer    scene.CommitResult
}

// Event is one queued notification: exactly one of the embedded payload
// fields is meaningful, selected by Kind.
type Event struct {
	Kind      Kind
	Mapped    WindowMapped
	Unmapped  WindowUnmapped
	Workspace WorkspaceChanged
	Focus     FocusChanged
	Committed SurfaceCommitted
}

// Bus is an ordered, single-threaded queue of events. It has no
// subscriber/callback model: the scheduler (single consumer, §5) drains it
// once per tick with Drain.
type Bus struct {
	pending []Event
}

// New returns an empty Bus.
func New() *Bus { return &Bus{} }

// PublishWindowMapped enqueues a WindowMapped event.
func (b *Bus) PublishWindowMapped(id scene.SurfaceID) {
	b.pending = append(b.pending, Event{Kind: KindWindowMapped, Mapped: WindowMapped{Surface: id}})
}

// PublishWindowUnmapped enqueues a WindowUnmapped event.
func (b *Bus) PublishWindowUnmapped(id scene.SurfaceID) {
	b.pending = append(b.pending, Event{Kind: KindWindowUnmapped, Unmapped: WindowUnmapped{Surface: id}})
}

// PublishWorkspaceChanged enqueues a WorkspaceChanged event.
func (b *Bus) PublishWorkspaceChanged(scrollTarget float64) {
	b.pending = append(b.pending, Event{Kind: KindWorkspaceChanged, Workspace: WorkspaceChanged{ScrollTarget: scrollTarget}})
}

// PublishFocusChanged enqueues a FocusChanged event.
func (b *Bus) PublishFocusChanged(id scene.SurfaceID, has bool) {
	b.pending = append(b.pending, Event{Kind: KindFocusChanged, Focus: FocusChanged{Surface: id, HasSurface: has}})
}

// PublishSurfaceCommitted enqueues a SurfaceCommitted event.
func (b *Bus) PublishSurfaceCommitted(id scene.SurfaceID, res scene.CommitResult) {
	b.pending = append(b.pending, Event{Kind: KindSurfaceCommitted, Committed: SurfaceCommitted{Surface: id, Buffer: res}})
}

// Drain removes and returns every event queued since the last Drain, in
// arrival order.
func (b *Bus) Drain() []Event {
	out := b.pending
	b.pending = nil
	return out
}

// Len reports how many events are currently queued, without draining them.
func (b *Bus) Len() int { return len(b.pending) }
