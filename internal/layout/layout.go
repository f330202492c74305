// Package layout is the scrollable-workspace Layout Engine (spec §4.4): an
// ordered strip of columns holding tiled windows, anchored layer surfaces
// reserving insets, and an animated viewport scroll position.
//
// Naming (Window/Workspace/column-index, tile-position vocabulary) is
// grounded on niri's own public IPC types (other_examples'
// calico32-waybar-niri-windows niri_types.go: Window.Layout,
// PosInScrollingLayout, Vec2[T]); the overall per-tick orchestration shape
// follows original_source's ScrollableWorkspaces owner in compositor.rs.
package layout

import "math"

// WindowID identifies a mapped toplevel window, paired with a scene surface
// id by the caller (the layout engine holds no surface references).
type WindowID uint32

// LayerSurfaceID identifies an anchored layer surface.
type LayerSurfaceID uint32

// Anchor is a bitmask of output edges a layer surface is anchored to.
type Anchor uint8

const (
	AnchorTop Anchor = 1 << iota
	AnchorBottom
	AnchorLeft
	AnchorRight
)

// singleEdge reports whether exactly one bit is set (§4.4 step 1: only
// single-edge anchors contribute an exclusive zone).
func (a Anchor) singleEdge() bool {
	return a == AnchorTop || a == AnchorBottom || a == AnchorLeft || a == AnchorRight
}

// StackLayer is the z-ordering band a window or layer surface occupies
// (§4.4 step 5).
type StackLayer int

const (
	ZBackground StackLayer = iota
	ZBottom
	ZNormal
	ZTop
	ZOverlay
	ZPopup
)

// VerticalPolicy controls how a column's windows share its height.
type VerticalPolicy int

const (
	VerticalEven VerticalPolicy = iota
	VerticalWeighted
)

// ColumnWidthMode is the open policy knob from §9: fixed default width, or
// the sum of the column's windows' requested widths.
type ColumnWidthMode int

const (
	ColumnWidthFixed ColumnWidthMode = iota
	ColumnWidthRequested
)

// ExclusiveZonePolicy resolves the §9 open question on aggregating
// multiple same-edge panels' exclusive zones. Default is Max, following
// the original implementation's per-tick maximum.
type ExclusiveZonePolicy int

const (
	ExclusiveZoneMax ExclusiveZonePolicy = iota
	ExclusiveZoneSum
)

// Rect is an integer pixel rectangle.
type Rect struct{ X, Y, W, H int32 }

// Window is the layout engine's projection of a mapped toplevel (§3).
type Window struct {
	ID             WindowID
	RequestedW     int32
	RequestedH     int32
	Fullscreen     bool
	Weight         float64 // used by VerticalWeighted
	column         int
}

type column struct {
	index   int
	windows []WindowID
	width   int32
	policy  VerticalPolicy
}

// LayerInput is what the caller supplies about one anchored layer surface.
type LayerInput struct {
	Anchor        Anchor
	MarginTop     int32
	MarginRight   int32
	MarginBottom  int32
	MarginLeft    int32
	ExclusiveZone int32
	DesiredW      int32
	DesiredH      int32
}

// Insets are the reserved pixels at each viewport edge (§3 Workspace viewport).
type Insets struct{ Top, Right, Bottom, Left int32 }

// Config holds the open-question policy knobs (§9).
type Config struct {
	ColumnWidthMode     ColumnWidthMode
	DefaultColumnWidth  int32
	MinColumnWidth      int32
	MaxColumnWidth      int32
	ExclusiveZonePolicy ExclusiveZonePolicy
	SpringStiffness     float64 // angular frequency, rad/s
	SpringEpsilon       float64
	MaxScrollVelocity   float64
}

// DefaultConfig returns sane defaults matching a 1920x1080 output.
func DefaultConfig() Config {
	return Config{
		ColumnWidthMode:     ColumnWidthFixed,
		DefaultColumnWidth:  960,
		MinColumnWidth:      320,
		MaxColumnWidth:      1920,
		ExclusiveZonePolicy: ExclusiveZoneMax,
		SpringStiffness:      14.0,
		SpringEpsilon:        0.002,
		MaxScrollVelocity:    40.0,
	}
}

// Engine is the Layout Engine (C4).
type Engine struct {
	cfg Config

	windows map[WindowID]*Window
	columns map[int]*column

	layers map[LayerSurfaceID]LayerInput

	viewportW, viewportH int32

	scrollPos      float64 // in column-index units
	scrollVelocity float64
	scrollTarget   float64

	focusedWindow WindowID
	hasFocus      bool
}

func New(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		windows: make(map[WindowID]*Window),
		columns: make(map[int]*column),
		layers:  make(map[LayerSurfaceID]LayerInput),
	}
}

func (e *Engine) SetViewportSize(w, h int32) {
	e.viewportW, e.viewportH = w, h
}

// MapWindow creates a new column to the right of the existing strip holding
// a single window, per §8 scenario S1/S2 ("server emits configures ... two
// windows ... new column to the right").
func (e *Engine) MapWindow(id WindowID, requestedW, requestedH int32) {
	idx := e.nextColumnIndex()
	col := &column{index: idx, windows: []WindowID{id}, policy: VerticalEven}
	e.columns[idx] = col
	e.windows[id] = &Window{ID: id, RequestedW: requestedW, RequestedH: requestedH, column: idx}
	if !e.hasFocus {
		e.focusedWindow = id
		e.hasFocus = true
		e.scrollTarget = float64(idx)
	}
}

func (e *Engine) nextColumnIndex() int {
	if len(e.columns) == 0 {
		return 0
	}
	maxIdx := math.MinInt32
	for idx := range e.columns {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	return maxIdx + 1
}

// UnmapWindow removes a window from its column (§3 Window lifecycle, §4.4
// "column deletion" edge case). If its column becomes empty, the column is
// deleted and the focused index renumbers to the nearest surviving column.
func (e *Engine) UnmapWindow(id WindowID) {
	w, ok := e.windows[id]
	if !ok {
		return
	}
	col, ok := e.columns[w.column]
	if ok {
		col.windows = removeID(col.windows, id)
		if len(col.windows) == 0 {
			delete(e.columns, w.column)
		}
	}
	delete(e.windows, id)

	if e.hasFocus && e.focusedWindow == id {
		e.hasFocus = false
		if next, ok := e.nearestColumn(w.column); ok {
			if len(next.windows) > 0 {
				e.focusedWindow = next.windows[len(next.windows)-1]
				e.hasFocus = true
				e.scrollTarget = float64(next.index)
			}
		}
	}
}

func removeID(ids []WindowID, target WindowID) []WindowID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// nearestColumn finds the surviving column closest to removedIdx, per §4.4
// "renumbers the focused index to the nearest surviving column".
func (e *Engine) nearestColumn(removedIdx int) (*column, bool) {
	var best *column
	bestDist := math.MaxInt32
	for idx, col := range e.columns {
		d := idx - removedIdx
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			bestDist = d
			best = col
		}
	}
	return best, best != nil
}

// FocusWindow sets the keyboard-focused window and retargets the scroll
// spring to its column.
func (e *Engine) FocusWindow(id WindowID) {
	w, ok := e.windows[id]
	if !ok {
		return
	}
	e.focusedWindow = id
	e.hasFocus = true
	e.scrollTarget = float64(w.column)
}

func (e *Engine) FocusedWindow() (WindowID, bool) { return e.focusedWindow, e.hasFocus }

// ToggleFullscreen flips a window's fullscreen flag; a fullscreen window's
// column suspends tiling (§4.4 step 4).
func (e *Engine) ToggleFullscreen(id WindowID) {
	if w, ok := e.windows[id]; ok {
		w.Fullscreen = !w.Fullscreen
	}
}

// MoveWindowLeft/Right migrate the focused window to an adjacent existing
// column, or create a new column at index-1/index+1 if none exists (§4.4
// edge cases).
func (e *Engine) MoveWindowLeft(id WindowID) { e.moveWindow(id, -1) }
func (e *Engine) MoveWindowRight(id WindowID) { e.moveWindow(id, 1) }

func (e *Engine) moveWindow(id WindowID, dir int) {
	w, ok := e.windows[id]
	if !ok {
		return
	}
	oldIdx := w.column
	newIdx := oldIdx + dir

	oldCol := e.columns[oldIdx]
	oldCol.windows = removeID(oldCol.windows, id)
	emptiedOld := len(oldCol.windows) == 0
	if emptiedOld {
		delete(e.columns, oldIdx)
	}

	if emptiedOld {
		// the vacated index is left empty; no column is renumbered, and the
		// moved window is placed at newIdx below.
	}

	dest, exists := e.columns[newIdx]
	if !exists {
		dest = &column{index: newIdx, policy: VerticalEven}
		e.columns[newIdx] = dest
	}
	dest.windows = append(dest.windows, id)
	w.column = newIdx
	e.scrollTarget = float64(newIdx)
}

// ScrollLeft/Right retarget the spring to the adjacent column in the strip.
func (e *Engine) ScrollLeft()  { e.scrollBy(-1) }
func (e *Engine) ScrollRight() { e.scrollBy(1) }

func (e *Engine) scrollBy(delta int) {
	minIdx, maxIdx, ok := e.columnIndexRange()
	if !ok {
		return
	}
	target := int(math.Round(e.scrollTarget)) + delta
	if target < minIdx {
		target = minIdx
	}
	if target > maxIdx {
		target = maxIdx
	}
	e.scrollTarget = float64(target)
}

func (e *Engine) columnIndexRange() (min, max int, ok bool) {
	if len(e.columns) == 0 {
		return 0, 0, false
	}
	min, max = math.MaxInt32, math.MinInt32
	for idx := range e.columns {
		if idx < min {
			min = idx
		}
		if idx > max {
			max = idx
		}
	}
	return min, max, true
}

// SetLayerSurface registers or updates an anchored layer surface.
func (e *Engine) SetLayerSurface(id LayerSurfaceID, in LayerInput) {
	e.layers[id] = in
}

func (e *Engine) RemoveLayerSurface(id LayerSurfaceID) {
	delete(e.layers, id)
}

// Advance steps the critically damped scroll spring by dt seconds, using
// the exact closed-form update for a critically damped harmonic oscillator
// (stiffness sets the angular frequency; velocity is clamped and the
// position snaps to target within SpringEpsilon).
func (e *Engine) Advance(dt float64) {
	if dt <= 0 {
		return
	}
	x := e.scrollPos - e.scrollTarget
	v := e.scrollVelocity
	omega := e.cfg.SpringStiffness

	expTerm := math.Exp(-omega * dt)
	temp := (v + omega*x) * dt
	newV := (v - temp*omega) * expTerm
	newX := (x + temp) * expTerm

	if newV > e.cfg.MaxScrollVelocity {
		newV = e.cfg.MaxScrollVelocity
	} else if newV < -e.cfg.MaxScrollVelocity {
		newV = -e.cfg.MaxScrollVelocity
	}

	e.scrollPos = newX + e.scrollTarget
	e.scrollVelocity = newV

	if math.Abs(e.scrollPos-e.scrollTarget) < e.cfg.SpringEpsilon && math.Abs(e.scrollVelocity) < e.cfg.SpringEpsilon {
		e.scrollPos = e.scrollTarget
		e.scrollVelocity = 0
	}
}

// ScrollPosition returns the current (possibly mid-animation) scroll
// position in column-index units.
func (e *Engine) ScrollPosition() float64 { return e.scrollPos }

// Result is the layout engine's per-tick output (§4.4 "Outputs").
type Result struct {
	WindowRects  map[WindowID]Rect
	StackOrder   []WindowID
	LayerRects   map[LayerSurfaceID]Rect
	Insets       Insets
}

// Compute derives every window's on-screen rectangle, the stacking order,
// and the reserved insets, following §4.4 steps 1-5 in order. Calling
// Compute twice without changing any input yields an identical result
// (§8 property 6, layout idempotence): the function is pure over the
// engine's current field values.
func (e *Engine) Compute() Result {
	insets := e.computeInsets()
	layerRects := e.computeLayerRects(insets)

	workspaceX := insets.Left
	workspaceY := insets.Top
	workspaceW := e.viewportW - insets.Left - insets.Right
	workspaceH := e.viewportH - insets.Top - insets.Bottom

	colOrder := e.sortedColumnIndices()
	colOffsets := make(map[int]int32, len(colOrder))
	colWidths := make(map[int]int32, len(colOrder))
	var cursor int32
	for _, idx := range colOrder {
		col := e.columns[idx]
		w := e.columnWidth(col)
		colWidths[idx] = w
		colOffsets[idx] = cursor
		cursor += w
	}

	rects := make(map[WindowID]Rect, len(e.windows))
	for _, idx := range colOrder {
		col := e.columns[idx]
		colX := workspaceX + colOffsets[idx] - int32(e.scrollPos*float64(e.unitWidth()))
		colW := colWidths[idx]
		e.placeColumnWindows(col, colX, workspaceY, colW, workspaceH, rects)
	}

	stack := e.stackingOrder(colOrder)

	return Result{WindowRects: rects, StackOrder: stack, LayerRects: layerRects, Insets: insets}
}

// unitWidth is the pixel width one column-index unit of scroll represents;
// we use the configured default column width so the spring's velocity has a
// stable pixel-space meaning regardless of per-column width variance.
func (e *Engine) unitWidth() int32 {
	if e.cfg.DefaultColumnWidth > 0 {
		return e.cfg.DefaultColumnWidth
	}
	return 1
}

func (e *Engine) columnWidth(col *column) int32 {
	if e.cfg.ColumnWidthMode == ColumnWidthFixed {
		return e.cfg.DefaultColumnWidth
	}
	var sum int32
	for _, id := range col.windows {
		if w, ok := e.windows[id]; ok {
			sum += w.RequestedW
		}
	}
	if sum < e.cfg.MinColumnWidth {
		sum = e.cfg.MinColumnWidth
	}
	if sum > e.cfg.MaxColumnWidth {
		sum = e.cfg.MaxColumnWidth
	}
	return sum
}

func (e *Engine) placeColumnWindows(col *column, x, y, w, h int32, out map[WindowID]Rect) {
	for _, id := range col.windows {
		win, ok := e.windows[id]
		if !ok {
			continue
		}
		if win.Fullscreen {
			out[id] = Rect{X: 0, Y: 0, W: e.viewportW, H: e.viewportH}
			return // fullscreen suspends tiling for the rest of this column
		}
	}
	n := int32(len(col.windows))
	if n == 0 {
		return
	}
	switch col.policy {
	case VerticalWeighted:
		var totalWeight float64
		for _, id := range col.windows {
			if win, ok := e.windows[id]; ok {
				ww := win.Weight
				if ww <= 0 {
					ww = 1
				}
				totalWeight += ww
			}
		}
		if totalWeight <= 0 {
			totalWeight = float64(n)
		}
		var cursor int32
		for _, id := range col.windows {
			win, ok := e.windows[id]
			if !ok {
				continue
			}
			weight := win.Weight
			if weight <= 0 {
				weight = 1
			}
			rowH := int32(float64(h) * weight / totalWeight)
			out[id] = Rect{X: x, Y: y + cursor, W: w, H: rowH}
			cursor += rowH
		}
	default: // VerticalEven
		rowH := h / n
		for i, id := range col.windows {
			out[id] = Rect{X: x, Y: y + int32(i)*rowH, W: w, H: rowH}
		}
	}
}

func (e *Engine) sortedColumnIndices() []int {
	idxs := make([]int, 0, len(e.columns))
	for idx := range e.columns {
		idxs = append(idxs, idx)
	}
	// simple insertion sort: column counts per compositor are small (tens,
	// not thousands)
	for i := 1; i < len(idxs); i++ {
		for j := i; j > 0 && idxs[j-1] > idxs[j]; j-- {
			idxs[j-1], idxs[j] = idxs[j], idxs[j-1]
		}
	}
	return idxs
}

// stackingOrder implements §4.4 step 5: normal windows in column order with
// the focused window drawn last among same-column siblings; this function
// only orders normal-layer windows. Layer surfaces are not z-ordered by
// layer class: the renderer draws every LayerRect before the windows, in
// ascending LayerSurfaceID order.
func (e *Engine) stackingOrder(colOrder []int) []WindowID {
	var out []WindowID
	for _, idx := range colOrder {
		col := e.columns[idx]
		focusedPos := -1
		for i, id := range col.windows {
			if e.hasFocus && id == e.focusedWindow {
				focusedPos = i
			}
		}
		for i, id := range col.windows {
			if i != focusedPos {
				out = append(out, id)
			}
		}
		if focusedPos != -1 {
			out = append(out, col.windows[focusedPos])
		}
	}
	return out
}

// computeInsets sums or maxes exclusive zones per edge across all
// single-edge-anchored layer surfaces (§4.4 step 1, §9 open question).
// The result is always monotonically non-negative per edge.
func (e *Engine) computeInsets() Insets {
	var insets Insets
	accumulate := func(current *int32, zone int32) {
		if zone < 0 {
			zone = 0
		}
		switch e.cfg.ExclusiveZonePolicy {
		case ExclusiveZoneSum:
			*current += zone
		default: // Max
			if zone > *current {
				*current = zone
			}
		}
	}
	for _, in := range e.layers {
		if !in.Anchor.singleEdge() || in.ExclusiveZone <= 0 {
			continue
		}
		switch in.Anchor {
		case AnchorTop:
			accumulate(&insets.Top, in.ExclusiveZone)
		case AnchorBottom:
			accumulate(&insets.Bottom, in.ExclusiveZone)
		case AnchorLeft:
			accumulate(&insets.Left, in.ExclusiveZone)
		case AnchorRight:
			accumulate(&insets.Right, in.ExclusiveZone)
		}
	}
	return insets
}

// computeLayerRects places every layer surface's rectangle from its anchor
// mask, margins, desired size, and viewport size, clamped to the viewport
// (§4.4 step 1).
func (e *Engine) computeLayerRects(insets Insets) map[LayerSurfaceID]Rect {
	out := make(map[LayerSurfaceID]Rect, len(e.layers))
	for id, in := range e.layers {
		w, h := in.DesiredW, in.DesiredH
		if w <= 0 {
			w = e.viewportW
		}
		if h <= 0 {
			h = e.viewportH
		}
		var x, y int32

		switch {
		case in.Anchor&AnchorLeft != 0 && in.Anchor&AnchorRight != 0:
			x = (e.viewportW - w) / 2
		case in.Anchor&AnchorLeft != 0:
			x = in.MarginLeft
		case in.Anchor&AnchorRight != 0:
			x = e.viewportW - w - in.MarginRight
		default:
			x = (e.viewportW - w) / 2
		}

		switch {
		case in.Anchor&AnchorTop != 0 && in.Anchor&AnchorBottom != 0:
			y = (e.viewportH - h) / 2
		case in.Anchor&AnchorTop != 0:
			y = in.MarginTop
		case in.Anchor&AnchorBottom != 0:
			y = e.viewportH - h - in.MarginBottom
		default:
			y = (e.viewportH - h) / 2
		}

		r := Rect{X: x, Y: y, W: w, H: h}
		out[id] = clampRect(r, Rect{X: 0, Y: 0, W: e.viewportW, H: e.viewportH})
	}
	return out
}

func clampRect(r, bounds Rect) Rect {
	if r.W > bounds.W {
		r.W = bounds.W
	}
	if r.H > bounds.H {
		r.H = bounds.H
	}
	if r.X < bounds.X {
		r.X = bounds.X
	}
	if r.Y < bounds.Y {
		r.Y = bounds.Y
	}
	if r.X+r.W > bounds.X+bounds.W {
		r.X = bounds.X + bounds.W - r.W
	}
	if r.Y+r.H > bounds.Y+bounds.H {
		r.Y = bounds.Y + bounds.H - r.H
	}
	return r
}
