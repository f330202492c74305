// Package scene is the Scene Graph (spec §4.3, §3 Surface/Buffer/Configure
// sequence): it owns surface state and current/pending buffer references,
// the pending->current commit transition, and role assignment.
//
// Resource<->surface linkage follows the §9 re-architecture guidance: a
// pair of integer-keyed maps, never pointer identity.
package scene

import (
	"errors"
	"fmt"

	"github.com/axiom-compositor/axiomd/internal/bufreg"
	"github.com/axiom-compositor/axiomd/internal/clock"
)

// Sentinel errors behind ProtocolError.Kind, so callers that only care about
// the error class (not which surface) can use errors.Is (§7 taxonomy).
var (
	ErrBufferBeforeAck  = errors.New("scene: commit with buffer before any ack")
	ErrInvalidSerial    = errors.New("scene: ack of a serial never sent")
	ErrDoubleRole       = errors.New("scene: role already assigned")
	ErrDestroyedResource = errors.New("scene: operation on destroyed surface")
	ErrInvalidPositioner = errors.New("scene: malformed positioner")
)

var kindSentinels = map[string]error{
	"buffer-before-ack":  ErrBufferBeforeAck,
	"invalid-serial":     ErrInvalidSerial,
	"double-role":        ErrDoubleRole,
	"destroyed-resource":  ErrDestroyedResource,
	"invalid-positioner": ErrInvalidPositioner,
}

// SurfaceID identifies a surface for the lifetime of its client connection.
type SurfaceID uint32

// Role is the closed set of roles a surface may be assigned (§9: tagged
// variant instead of polymorphism).
type Role int

const (
	RoleNone Role = iota
	RoleToplevel
	RolePopup
	RoleLayer
	RoleSubsurface
)

// LayerClass is the zwlr_layer_shell_v1 layer a layer-surface belongs to.
type LayerClass int

const (
	LayerBackground LayerClass = iota
	LayerBottom
	LayerTop
	LayerOverlay
)

// Rect is an integer pixel rectangle, used both for damage and geometry.
type Rect struct{ X, Y, W, H int32 }

// Size is a width/height pair.
type Size struct{ W, H int32 }

// Positioner describes a popup's placement request (xdg_positioner).
type Positioner struct {
	AnchorRect Rect
	Width      int32
	Height     int32
	OffsetX    int32
	OffsetY    int32
}

// Valid reports whether the positioner names a sane geometry: positive
// size and a non-empty anchor rect (§4.3 "malformed positioner").
func (p Positioner) Valid() bool {
	return p.Width > 0 && p.Height > 0 && p.AnchorRect.W > 0 && p.AnchorRect.H > 0
}

// state is one half (pending or current) of a surface's double-buffered
// protocol state.
type state struct {
	buffer      bufreg.BufferID
	hasBuffer   bool
	attachX     int32
	attachY     int32
	damage      []Rect
	viewportSrc *Rect
	viewportDst *Size
}

// Surface is the fundamental drawable (spec §3).
type Surface struct {
	ID     SurfaceID
	Role   Role
	Parent SurfaceID
	Layer  LayerClass

	pending state
	current state

	destroyed  bool
	mapped     bool
	positioner Positioner
	frameQueue []uint32

	// configure/ack bookkeeping (§4.5)
	pendingSerials []uint32
	ackedAny       bool
	lastAcked      uint32
	version        uint32
}

// CommitResult reports what a Commit call observed, for the post-dispatch
// event-bus pass (§9) to react to: newly released buffers, map/unmap
// transitions, and the damage rectangles now ready for the renderer.
type CommitResult struct {
	Mapped         bool
	Unmapped       bool
	ReleasedBuffer bufreg.BufferID
	HasReleased    bool
	Damage         []Rect
	NewCurrentBuf  bufreg.BufferID
	HasCurrentBuf  bool
}

// ProtocolError mirrors §7's ProtocolError taxonomy; Scene never logs or
// closes sockets itself — it returns this for the dispatcher to act on.
type ProtocolError struct {
	Kind      string
	SurfaceID SurfaceID
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on surface %d: %s", e.SurfaceID, e.Kind)
}

// Unwrap exposes the sentinel behind this error's Kind, so callers that only
// care about the error class can use errors.Is(err, scene.ErrDoubleRole)
// instead of type-asserting and comparing Kind strings.
func (e *ProtocolError) Unwrap() error {
	return kindSentinels[e.Kind]
}

// Scene owns every live surface.
type Scene struct {
	surfaces map[SurfaceID]*Surface
	nextID   uint32
}

func New() *Scene {
	return &Scene{surfaces: make(map[SurfaceID]*Surface)}
}

// CreateSurface allocates a new role-less surface.
func (s *Scene) CreateSurface() *Surface {
	s.nextID++
	surf := &Surface{ID: SurfaceID(s.nextID)}
	s.surfaces[surf.ID] = surf
	return surf
}

func (s *Scene) Get(id SurfaceID) (*Surface, bool) {
	surf, ok := s.surfaces[id]
	return surf, ok && !surf.destroyed
}

// AssignRole assigns a role exactly once (§3 invariant); a second call is a
// protocol error.
func (s *Scene) AssignRole(id SurfaceID, role Role, parent SurfaceID) error {
	surf, ok := s.Get(id)
	if !ok {
		return &ProtocolError{Kind: "destroyed-resource", SurfaceID: id}
	}
	if surf.Role != RoleNone {
		return &ProtocolError{Kind: "double-role", SurfaceID: id}
	}
	surf.Role = role
	surf.Parent = parent
	return nil
}

// SetPositioner records a popup's placement request, validating geometry.
func (s *Scene) SetPositioner(id SurfaceID, p Positioner) error {
	if !p.Valid() {
		return &ProtocolError{Kind: "invalid-positioner", SurfaceID: id}
	}
	surf, ok := s.Get(id)
	if !ok {
		return &ProtocolError{Kind: "destroyed-resource", SurfaceID: id}
	}
	surf.positioner = p
	return nil
}

// Attach records the pending buffer and attach offset. A zero BufferID with
// hasBuffer=false means "unmap on next commit".
func (s *Scene) Attach(id SurfaceID, buf bufreg.BufferID, hasBuffer bool, dx, dy int32) error {
	surf, ok := s.Get(id)
	if !ok {
		return &ProtocolError{Kind: "destroyed-resource", SurfaceID: id}
	}
	surf.pending.buffer = buf
	surf.pending.hasBuffer = hasBuffer
	surf.pending.attachX = dx
	surf.pending.attachY = dy
	return nil
}

// Damage accumulates a surface-local damage rectangle into the pending list.
func (s *Scene) Damage(id SurfaceID, r Rect) error {
	surf, ok := s.Get(id)
	if !ok {
		return &ProtocolError{Kind: "destroyed-resource", SurfaceID: id}
	}
	surf.pending.damage = append(surf.pending.damage, r)
	return nil
}

// Frame records a one-shot frame-callback id to be signaled at the next
// frame tick that presents this commit. Frame callbacks are not part of the
// pending/current double-buffer: they accumulate on the surface directly so
// that a commit before the next frame tick cannot silently drop an
// already-queued callback.
func (s *Scene) Frame(id SurfaceID, callbackID uint32) error {
	surf, ok := s.Get(id)
	if !ok {
		return &ProtocolError{Kind: "destroyed-resource", SurfaceID: id}
	}
	surf.frameQueue = append(surf.frameQueue, callbackID)
	return nil
}

// DrainFrameCallbacks removes and returns every queued frame-callback id for
// a surface, for the frame scheduler to signal at the next frame tick
// (§4.8). Called once per surface per frame timer firing.
func (s *Scene) DrainFrameCallbacks(id SurfaceID) []uint32 {
	surf, ok := s.surfaces[id]
	if !ok || len(surf.frameQueue) == 0 {
		return nil
	}
	cbs := surf.frameQueue
	surf.frameQueue = nil
	return cbs
}

// AllSurfaceIDs returns every live surface id, for the scheduler to iterate
// when draining frame callbacks each tick.
func (s *Scene) AllSurfaceIDs() []SurfaceID {
	ids := make([]SurfaceID, 0, len(s.surfaces))
	for id := range s.surfaces {
		ids = append(ids, id)
	}
	return ids
}

// SetViewport updates the pending crop/scale transform.
func (s *Scene) SetViewport(id SurfaceID, src *Rect, dst *Size) error {
	surf, ok := s.Get(id)
	if !ok {
		return &ProtocolError{Kind: "destroyed-resource", SurfaceID: id}
	}
	surf.pending.viewportSrc = src
	surf.pending.viewportDst = dst
	return nil
}

// AddConfigureSerial records a serial the dispatcher just sent, so Ack can
// later validate against it.
func (s *Scene) AddConfigureSerial(id SurfaceID, serial uint32) {
	if surf, ok := s.Get(id); ok {
		surf.pendingSerials = append(surf.pendingSerials, serial)
	}
}

// Ack processes an ack_configure request: retiring every pending serial up
// to and including the acked one. Acking a serial this surface never saw
// is a protocol error (§4.5); acking one that's already been superseded by
// a later ack is not — it was sent, just already retired from
// pendingSerials — matching original_source's xdg_shell_validation.rs,
// which only warns and returns Ok(()) for an already-acknowledged serial.
func (s *Scene) Ack(id SurfaceID, serial uint32) error {
	surf, ok := s.Get(id)
	if !ok {
		return &ProtocolError{Kind: "destroyed-resource", SurfaceID: id}
	}
	idx := -1
	for i, p := range surf.pendingSerials {
		if p == serial {
			idx = i
			break
		}
	}
	if idx == -1 {
		if surf.ackedAny && clock.SerialGE(surf.lastAcked, serial) {
			return nil
		}
		return &ProtocolError{Kind: "invalid-serial", SurfaceID: id}
	}
	surf.pendingSerials = surf.pendingSerials[idx+1:]
	surf.ackedAny = true
	surf.lastAcked = serial
	return nil
}

// Commit atomically promotes pending state to current (§4.3).
func (s *Scene) Commit(id SurfaceID) (*CommitResult, error) {
	surf, ok := s.Get(id)
	if !ok {
		return nil, &ProtocolError{Kind: "destroyed-resource", SurfaceID: id}
	}

	needsAck := surf.Role == RoleToplevel || surf.Role == RolePopup
	if needsAck && surf.pending.hasBuffer && !surf.current.hasBuffer && !surf.ackedAny {
		return nil, &ProtocolError{Kind: "buffer-before-ack", SurfaceID: id}
	}

	res := &CommitResult{}

	bufferChanged := surf.pending.hasBuffer != surf.current.hasBuffer ||
		(surf.pending.hasBuffer && surf.current.hasBuffer && surf.pending.buffer != surf.current.buffer)
	if bufferChanged && surf.current.hasBuffer {
		res.ReleasedBuffer = surf.current.buffer
		res.HasReleased = true
	}

	res.Damage = surf.pending.damage
	surf.current = surf.pending
	surf.pending = state{buffer: surf.current.buffer, hasBuffer: surf.current.hasBuffer}

	res.NewCurrentBuf = surf.current.buffer
	res.HasCurrentBuf = surf.current.hasBuffer

	if surf.Role == RoleToplevel {
		if !surf.mapped && surf.current.hasBuffer && surf.ackedAny {
			surf.mapped = true
			res.Mapped = true
		} else if surf.mapped && !surf.current.hasBuffer {
			surf.mapped = false
			res.Unmapped = true
		}
	}

	return res, nil
}

// Destroy marks a surface terminal; all references must be severed by the
// caller (focus, selection targets, pending frame callbacks discarded).
func (s *Scene) Destroy(id SurfaceID) {
	if surf, ok := s.surfaces[id]; ok {
		surf.destroyed = true
		delete(s.surfaces, id)
	}
}

// PopupGeometry derives a popup's on-screen rectangle from its positioner
// and its parent's current rectangle (§4.3 "Popup placement at commit").
func PopupGeometry(positioner Positioner, parentRect Rect) Rect {
	anchorX := parentRect.X + positioner.AnchorRect.X + positioner.AnchorRect.W/2
	anchorY := parentRect.Y + positioner.AnchorRect.Y + positioner.AnchorRect.H/2
	return Rect{
		X: anchorX + positioner.OffsetX,
		Y: anchorY + positioner.OffsetY,
		W: positioner.Width,
		H: positioner.Height,
	}
}

// CurrentBuffer returns the surface's current buffer, if any.
func (surf *Surface) CurrentBuffer() (bufreg.BufferID, bool) {
	return surf.current.buffer, surf.current.hasBuffer
}

// Mapped reports whether the surface currently has a mapped Window pairing.
func (surf *Surface) Mapped() bool { return surf.mapped }

// PositionerValue returns the surface's last-set positioner (popups only).
func (surf *Surface) PositionerValue() Positioner { return surf.positioner }

// ViewportDst returns the pending-turned-current destination size, if set.
func (surf *Surface) ViewportDst() (Size, bool) {
	if surf.current.viewportDst == nil {
		return Size{}, false
	}
	return *surf.current.viewportDst, true
}

// ViewportSrc returns the current source rect, if set.
func (surf *Surface) ViewportSrc() (Rect, bool) {
	if surf.current.viewportSrc == nil {
		return Rect{}, false
	}
	return *surf.current.viewportSrc, true
}
