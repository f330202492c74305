// Package input is the Input Router (spec §4.6, C6): normalized-event
// ingestion, keybinding resolution, and pointer/keyboard/touch focus
// arbitration. It holds no surface or window references of its own — only
// the opaque SurfaceRef ids the caller hands it alongside each tick's hit
// areas — mirroring the Layout Engine's "holds no surface references, only
// ids" ownership rule from §3.
//
// The keybinding-driven action dispatch generalizes `ctxmenu.go`'s `Run`
// event loop, which switches on an SDL keysym to drive menu navigation
// (up/down/select/cancel); here the switch is data-driven (a
// modifiers+key -> action table) instead of hardcoded, and the actions are
// layout commands instead of menu-cursor moves. Seat capability handling
// (pointer/keyboard/touch presence) is grounded on
// `ctxmenu/wayland/window.go`'s `HandleSeatCapabilities`.
package input

import "github.com/axiom-compositor/axiomd/internal/clock"

// Modifiers is a bitmask of held modifier keys.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModCtrl
	ModAlt
	ModSuper
	ModCapsLock
	ModNumLock
)

// Rect is an integer pixel rectangle, matching layout.Rect's shape but kept
// local so this package has no dependency on internal/layout.
type Rect struct{ X, Y, W, H int32 }

func (r Rect) contains(x, y int32) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// SurfaceRef is an opaque numeric surface identity — the caller's
// scene.SurfaceID reinterpreted, so this package need not import scene.
type SurfaceRef uint32

// HitArea is one entry in the per-tick hit-test list, ordered topmost-first
// by the caller (layer surfaces take priority per §4.6, so the caller
// places anchored layer surfaces ahead of the tiled stacking order).
type HitArea struct {
	Surface SurfaceRef
	Rect    Rect
}

// ActionKind is one abstract layout/lifecycle action a keybinding may name.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionScrollLeft
	ActionScrollRight
	ActionMoveWindowLeft
	ActionMoveWindowRight
	ActionToggleFullscreen
	ActionCloseWindow
	ActionQuit
	ActionCustom
)

// Action is the resolved effect of a matched keybinding.
type Action struct {
	Kind   ActionKind
	Custom string // populated when Kind == ActionCustom
}

// BindingKey canonicalizes a modifiers+key-name pair into the keybinding
// table's lookup key, e.g. BindingKey(ModSuper, "l") == "super+l".
func BindingKey(mods Modifiers, keyName string) string {
	s := ""
	if mods&ModSuper != 0 {
		s += "super+"
	}
	if mods&ModCtrl != 0 {
		s += "ctrl+"
	}
	if mods&ModAlt != 0 {
		s += "alt+"
	}
	if mods&ModShift != 0 {
		s += "shift+"
	}
	return s + keyName
}

// Evdev pointer button codes (§4.6).
const (
	BtnLeft   uint32 = 0x110
	BtnRight  uint32 = 0x111
	BtnMiddle uint32 = 0x112
)

// KeyEvent is a normalized keyboard event. Name is used for keybinding
// resolution; Keycode is the hardware key code forwarded to clients
// verbatim (§4.6 "key events carry ... the hardware key code, not the
// name").
type KeyEvent struct {
	Name      string
	Keycode   uint32
	Modifiers Modifiers
	Pressed   bool
	TimeMs    uint32
}

type PointerMotionEvent struct {
	DX, DY float64
	TimeMs uint32
}

type PointerButtonEvent struct {
	Button  uint32
	Pressed bool
	TimeMs  uint32
}

type PointerAxisEvent struct {
	Horizontal, Vertical float64
	TimeMs               uint32
}

type TouchPhase int

const (
	TouchDown TouchPhase = iota
	TouchMotion
	TouchUp
	TouchCancel
)

type TouchEvent struct {
	ID     int32
	Phase  TouchPhase
	X, Y   float64
	TimeMs uint32
}

type GestureEvent struct {
	Kind           string
	Fingers        int
	DX, DY         float64
	Scale, Rotation float64
	TimeMs         uint32
}

// Router is the Input Router (C6).
type Router struct {
	clock       *clock.Clock
	keybindings map[string]Action

	hitAreas []HitArea

	pointerX, pointerY int32
	hasPointerFocus    bool
	pointerFocus       SurfaceRef

	hasKeyboardFocus bool
	keyboardFocus    SurfaceRef

	lastModifiers Modifiers

	touchFocus map[int32]SurfaceRef
}

func New(clk *clock.Clock, keybindings map[string]Action) *Router {
	return &Router{
		clock:       clk,
		keybindings: keybindings,
		touchFocus:  make(map[int32]SurfaceRef),
	}
}

// SetHitAreas replaces the per-tick hit-test list (§4.6: "C6 queries C4's
// last computed geometry"). Call once per tick after the layout engine
// recomputes.
func (r *Router) SetHitAreas(areas []HitArea) { r.hitAreas = areas }

func (r *Router) hitTest(x, y int32) (SurfaceRef, int32, int32, bool) {
	for _, a := range r.hitAreas {
		if a.Rect.contains(x, y) {
			return a.Surface, x - a.Rect.X, y - a.Rect.Y, true
		}
	}
	return 0, 0, 0, false
}

// LeaveEvent/EnterEvent carry a fresh serial per §3's focus-pairing
// invariant: a leave always precedes the corresponding enter.
type LeaveEvent struct {
	Surface SurfaceRef
	Serial  uint32
}

type PointerEnterEvent struct {
	Surface        SurfaceRef
	Serial         uint32
	LocalX, LocalY int32
}

type KeyboardEnterEvent struct {
	Surface SurfaceRef
	Serial  uint32
}

// PointerUpdate is what one motion event produces: at most a leave, at most
// an enter, and a motion if focus is unchanged and a target exists.
type PointerUpdate struct {
	Leave  *LeaveEvent
	Enter  *PointerEnterEvent
	Motion *PointerMotionResult
}

type PointerMotionResult struct {
	Surface        SurfaceRef
	TimeMs         uint32
	LocalX, LocalY int32
}

// HandleMotion updates the accumulated pointer position and arbitrates
// pointer focus (§4.6 "on every motion, query C4's last computed geometry
// ... on focus change, emit leave then enter ... motion on unchanged focus
// emits motion").
func (r *Router) HandleMotion(ev PointerMotionEvent) PointerUpdate {
	r.pointerX += int32(ev.DX)
	r.pointerY += int32(ev.DY)

	target, lx, ly, ok := r.hitTest(r.pointerX, r.pointerY)

	var out PointerUpdate
	switch {
	case ok && (!r.hasPointerFocus || target != r.pointerFocus):
		if r.hasPointerFocus {
			out.Leave = &LeaveEvent{Surface: r.pointerFocus, Serial: r.clock.NextSerial()}
		}
		r.pointerFocus = target
		r.hasPointerFocus = true
		out.Enter = &PointerEnterEvent{Surface: target, Serial: r.clock.NextSerial(), LocalX: lx, LocalY: ly}
	case !ok && r.hasPointerFocus:
		out.Leave = &LeaveEvent{Surface: r.pointerFocus, Serial: r.clock.NextSerial()}
		r.hasPointerFocus = false
	case ok && target == r.pointerFocus:
		out.Motion = &PointerMotionResult{Surface: target, TimeMs: ev.TimeMs, LocalX: lx, LocalY: ly}
	}
	return out
}

// ButtonUpdate reports a button press/release plus any click-to-focus
// keyboard-focus transition it triggered (§4.6 "a press while the pointer
// focus differs from the keyboard focus additionally triggers a keyboard
// focus change").
type ButtonUpdate struct {
	Surface      SurfaceRef
	HasSurface   bool
	Button       uint32
	Pressed      bool
	TimeMs       uint32
	KeyboardLeave *LeaveEvent
	KeyboardEnter *KeyboardEnterEvent
}

func (r *Router) HandleButton(ev PointerButtonEvent) ButtonUpdate {
	out := ButtonUpdate{Surface: r.pointerFocus, HasSurface: r.hasPointerFocus, Button: ev.Button, Pressed: ev.Pressed, TimeMs: ev.TimeMs}

	if ev.Pressed && r.hasPointerFocus && (!r.hasKeyboardFocus || r.keyboardFocus != r.pointerFocus) {
		leave, enter := r.setKeyboardFocus(r.pointerFocus, true)
		out.KeyboardLeave, out.KeyboardEnter = leave, enter
	}
	return out
}

// HandleAxis reports the current pointer-focused surface, if any, to
// receive a scroll axis event; no sub-pixel quantization is applied
// (§4.6).
func (r *Router) HandleAxis(ev PointerAxisEvent) (SurfaceRef, bool) {
	return r.pointerFocus, r.hasPointerFocus
}

// KeyResult is the outcome of resolving one key event against the
// keybinding table.
type KeyResult struct {
	Action     Action
	Matched    bool
	Surface    SurfaceRef
	HasSurface bool
}

// HandleKey resolves a key press against the keybinding table first; a
// match is consumed (not forwarded). A non-matching key (or any key
// release) propagates to keyboard focus (§4.6).
func (r *Router) HandleKey(ev KeyEvent) KeyResult {
	if ev.Pressed {
		if action, ok := r.keybindings[BindingKey(ev.Modifiers, ev.Name)]; ok {
			return KeyResult{Action: action, Matched: true}
		}
	}
	return KeyResult{Surface: r.keyboardFocus, HasSurface: r.hasKeyboardFocus}
}

// ModifiersUpdate reports whether the modifier mask changed and, if so, the
// fresh serial to send with it (§4.6 "modifier masks are re-sent as
// modifiers change, with a serial").
type ModifiersUpdate struct {
	Changed bool
	Serial  uint32
	Mods    Modifiers
}

func (r *Router) HandleModifiers(mods Modifiers) ModifiersUpdate {
	if mods == r.lastModifiers {
		return ModifiersUpdate{}
	}
	r.lastModifiers = mods
	return ModifiersUpdate{Changed: true, Serial: r.clock.NextSerial(), Mods: mods}
}

// SetKeyboardFocus programmatically changes keyboard focus (e.g. the
// scheduler transferring focus away from a just-destroyed window, §7
// "right-then-left" adjacent-window handoff).
func (r *Router) SetKeyboardFocus(target SurfaceRef, has bool) (*LeaveEvent, *KeyboardEnterEvent) {
	return r.setKeyboardFocus(target, has)
}

func (r *Router) setKeyboardFocus(target SurfaceRef, has bool) (*LeaveEvent, *KeyboardEnterEvent) {
	var leave *LeaveEvent
	var enter *KeyboardEnterEvent
	if r.hasKeyboardFocus {
		leave = &LeaveEvent{Surface: r.keyboardFocus, Serial: r.clock.NextSerial()}
	}
	r.hasKeyboardFocus = has
	if has {
		r.keyboardFocus = target
		enter = &KeyboardEnterEvent{Surface: target, Serial: r.clock.NextSerial()}
	}
	return leave, enter
}

// KeyboardFocus returns the current keyboard-focused surface, if any.
func (r *Router) KeyboardFocus() (SurfaceRef, bool) { return r.keyboardFocus, r.hasKeyboardFocus }

// PointerFocus returns the current pointer-focused surface, if any.
func (r *Router) PointerFocus() (SurfaceRef, bool) { return r.pointerFocus, r.hasPointerFocus }

// TouchUpdate reports one touch point's focus lifecycle: Down establishes
// focus for that touch id, Motion/Up target the same surface regardless of
// where the point has since moved (per-touch-point focus, §3), Cancel
// clears it.
type TouchUpdate struct {
	Surface    SurfaceRef
	HasSurface bool
}

func (r *Router) HandleTouch(ev TouchEvent) TouchUpdate {
	switch ev.Phase {
	case TouchDown:
		target, _, _, ok := r.hitTest(int32(ev.X), int32(ev.Y))
		if !ok {
			return TouchUpdate{}
		}
		r.touchFocus[ev.ID] = target
		return TouchUpdate{Surface: target, HasSurface: true}
	case TouchCancel, TouchUp:
		target, ok := r.touchFocus[ev.ID]
		delete(r.touchFocus, ev.ID)
		return TouchUpdate{Surface: target, HasSurface: ok}
	default: // TouchMotion
		target, ok := r.touchFocus[ev.ID]
		return TouchUpdate{Surface: target, HasSurface: ok}
	}
}
