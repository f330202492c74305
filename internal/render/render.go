// Package render is the Renderer (spec §4.7): a textured-quad pipeline over
// an SDL2 target, one texture per window keyed by window id, with a
// generation-gated damage-aware upload path and a blur/shadow/rounded-corner
// effect pipeline that degrades quality under frame-budget pressure.
//
// Grounded on ctxmenu's SDL2 path (main.go's updateWindow/drawItem:
// sdl.CreateRenderer, Renderer.CreateTextureFromSurface, Renderer.Copy,
// Renderer.FillRect/DrawRect) for the texture-per-surface, Copy-per-item
// drawing shape, generalized from "one texture per menu item" to "one
// texture per compositor window". CPU-side RGBA manipulation (the background
// blur's working copy) reuses golang.org/x/image/draw the way ctxmenu
// uses it for its offscreen image.RGBA menu surface.
package render

import (
	"image"
	"image/color"
	"sort"

	"golang.org/x/image/draw"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/axiom-compositor/axiomd/internal/layout"
)

// Texture wraps one window's GPU texture plus the damage-aware upload
// bookkeeping of §4.7 ("maintain per-window (w, h, generation)").
type Texture struct {
	tex        *sdl.Texture
	w, h       int32
	generation uint64
	hasBuffer  bool
}

// WindowEffects are the per-window effect parameters the scheduler derives
// from window state (focus, fullscreen, decoration mode) each frame.
type WindowEffects struct {
	Opacity      float64
	Scale        float64
	CornerRadius int32
	Blur         bool
	Shadow       bool
}

// Frame is everything C8 hands the renderer once per draw cycle (§4.7 step
// 1: "window_id -> rectangle map, stacking order, viewport reserved insets,
// current effect parameters, and the target framebuffer").
type Frame struct {
	Rects      map[layout.WindowID]layout.Rect
	StackOrder []layout.WindowID
	Insets     layout.Insets
	Effects    map[layout.WindowID]WindowEffects
	ViewportW  int32
	ViewportH  int32

	// Titlebars holds a pre-rasterized SSD titlebar strip (internal/decoration's
	// TitlebarRenderer.Render output) for every window currently resolved to
	// server-side decoration (§4.10: "the renderer draws a titlebar frame
	// around SSD windows"). Windows absent from this map draw no titlebar.
	Titlebars map[layout.WindowID]*image.RGBA

	// LayerRects is layout.Result.LayerRects passed straight through: the
	// placement the layout engine computed for each bound zwlr_layer_surface_v1
	// (panels, backgrounds, notifications — §4.4/Scenario S4). Drawn as plain
	// textured quads, no effects, in ascending LayerSurfaceID order.
	LayerRects map[layout.LayerSurfaceID]layout.Rect
}

// Stats is the read-only frame-pacing counterpart to the supplemented
// SlowClients() observability feature (§ SUPPLEMENTED FEATURES, grounded on
// original_source/src/renderer/frame_pacing.rs), exposing the moving
// average and current quality scalar.
type Stats struct {
	AverageFrameMs float64
	Quality        float64
	DroppedFrames  uint64
}

const (
	qualityFloor = 0.35
	qualityStep  = 0.05
	emaAlpha     = 0.2
)

// Renderer drives the textured-quad pipeline described in §4.7.
type Renderer struct {
	sdlRenderer *sdl.Renderer

	textures      map[layout.WindowID]*Texture
	layerTextures map[layout.LayerSurfaceID]*Texture

	budgetMs    float64
	avgFrameMs  float64
	quality     float64
	dropped     uint64
	initialized bool
}

// New builds a Renderer that draws into an already-created sdl.Renderer
// (the target framebuffer abstraction of §1/§4.7's "render to target"
// boundary — window/context creation is the surrounding binary's job, not
// the core's, mirroring how ctxmenu's updateWindow creates the sdl.Window
// once and reuses it thereafter).
func New(target *sdl.Renderer, frameBudgetMs float64) *Renderer {
	return &Renderer{
		sdlRenderer:   target,
		textures:      make(map[layout.WindowID]*Texture),
		layerTextures: make(map[layout.LayerSurfaceID]*Texture),
		budgetMs:      frameBudgetMs,
		quality:       1.0,
	}
}

// RegisterWindow allocates texture bookkeeping for a newly mapped window
// (§4.7 "on map, the window-id is registered").
func (r *Renderer) RegisterWindow(id layout.WindowID) {
	if _, ok := r.textures[id]; ok {
		return
	}
	r.textures[id] = &Texture{}
}

// UnregisterWindow drops a window's texture on unmap/destroy.
func (r *Renderer) UnregisterWindow(id layout.WindowID) {
	if t, ok := r.textures[id]; ok {
		if t.tex != nil {
			t.tex.Destroy()
		}
		delete(r.textures, id)
	}
}

// Upload applies a new RGBA frame to a window's texture. If the dimensions
// match the previous upload, only the given damage regions are updated
// (region subtexture upload); otherwise the texture is reallocated and a
// full upload occurs (§4.7 "Damage-aware upload").
func (r *Renderer) Upload(id layout.WindowID, pixels []byte, w, h int32, stride int32, damage []image.Rectangle) error {
	t, ok := r.textures[id]
	if !ok {
		t = &Texture{}
		r.textures[id] = t
	}

	fullUpload := t.tex == nil || t.w != w || t.h != h
	if fullUpload {
		if t.tex != nil {
			t.tex.Destroy()
		}
		tex, err := r.sdlRenderer.CreateTexture(uint32(sdl.PIXELFORMAT_ABGR8888), sdl.TEXTUREACCESS_STREAMING, w, h)
		if err != nil {
			return err
		}
		if err := tex.SetBlendMode(sdl.BLENDMODE_BLEND); err != nil {
			return err
		}
		t.tex = tex
		t.w, t.h = w, h
	}
	t.generation++
	t.hasBuffer = true

	if fullUpload || len(damage) == 0 {
		return t.tex.Update(nil, pixels, int(stride))
	}
	for _, d := range damage {
		rect := &sdl.Rect{X: int32(d.Min.X), Y: int32(d.Min.Y), W: int32(d.Dx()), H: int32(d.Dy())}
		region := extractRegion(pixels, int(stride), d)
		if err := t.tex.Update(rect, region, d.Dx()*4); err != nil {
			return err
		}
	}
	return nil
}

func extractRegion(pixels []byte, stride int, r image.Rectangle) []byte {
	out := make([]byte, r.Dy()*r.Dx()*4)
	for row := 0; row < r.Dy(); row++ {
		srcOff := (r.Min.Y+row)*stride + r.Min.X*4
		dstOff := row * r.Dx() * 4
		copy(out[dstOff:dstOff+r.Dx()*4], pixels[srcOff:srcOff+r.Dx()*4])
	}
	return out
}

// RegisterLayerSurface allocates texture bookkeeping for a newly bound
// zwlr_layer_surface_v1, mirroring RegisterWindow for the toplevel case.
func (r *Renderer) RegisterLayerSurface(id layout.LayerSurfaceID) {
	if _, ok := r.layerTextures[id]; ok {
		return
	}
	r.layerTextures[id] = &Texture{}
}

// UnregisterLayerSurface drops a layer surface's texture on destroy.
func (r *Renderer) UnregisterLayerSurface(id layout.LayerSurfaceID) {
	if t, ok := r.layerTextures[id]; ok {
		if t.tex != nil {
			t.tex.Destroy()
		}
		delete(r.layerTextures, id)
	}
}

// UploadLayer applies a new RGBA frame to a layer surface's texture. Layer
// surfaces don't carry effect parameters or titlebars, so unlike Upload this
// always fully reallocates on a dimension change and otherwise does a single
// full-texture update — layer-shell clients (panels, bars) repaint
// infrequently enough that the region-subtexture path isn't worth mirroring.
func (r *Renderer) UploadLayer(id layout.LayerSurfaceID, pixels []byte, w, h int32, stride int32) error {
	t, ok := r.layerTextures[id]
	if !ok {
		t = &Texture{}
		r.layerTextures[id] = t
	}

	if t.tex == nil || t.w != w || t.h != h {
		if t.tex != nil {
			t.tex.Destroy()
		}
		tex, err := r.sdlRenderer.CreateTexture(uint32(sdl.PIXELFORMAT_ABGR8888), sdl.TEXTUREACCESS_STREAMING, w, h)
		if err != nil {
			return err
		}
		if err := tex.SetBlendMode(sdl.BLENDMODE_BLEND); err != nil {
			return err
		}
		t.tex = tex
		t.w, t.h = w, h
	}
	t.generation++
	t.hasBuffer = true
	return t.tex.Update(nil, pixels, int(stride))
}

// Draw runs one full draw cycle per §4.7 steps 1-4: placeholder quads for
// textureless windows, then per-window effect passes (blur, composite,
// shadow, rounded-corner mask) in stacking order.
func (r *Renderer) Draw(f Frame) error {
	if err := r.drawLayerSurfaces(f.LayerRects); err != nil {
		return err
	}
	for _, id := range f.StackOrder {
		rect, ok := f.Rects[id]
		if !ok {
			continue
		}
		eff := f.Effects[id]
		if eff.Scale == 0 {
			eff.Scale = 1
		}
		if eff.Opacity == 0 {
			eff.Opacity = 1
		}
		eff.Blur = eff.Blur && r.quality > qualityFloor

		dst := &sdl.Rect{X: rect.X, Y: rect.Y, W: int32(float64(rect.W) * eff.Scale), H: int32(float64(rect.H) * eff.Scale)}

		if eff.Shadow {
			r.drawShadow(dst, eff)
		}
		if eff.Blur {
			r.drawBackgroundBlur(dst)
		}

		t := r.textures[id]
		if t == nil || !t.hasBuffer || t.tex == nil {
			r.drawPlaceholder(dst)
			continue
		}
		t.tex.SetAlphaMod(uint8(eff.Opacity * 255))
		if err := r.sdlRenderer.Copy(t.tex, nil, dst); err != nil {
			return err
		}
		if eff.CornerRadius > 0 {
			r.maskCorners(dst, eff.CornerRadius)
		}
		if bar, ok := f.Titlebars[id]; ok {
			r.drawTitlebar(dst, bar)
		}
	}
	return nil
}

// drawLayerSurfaces draws every bound layer surface as a plain textured quad
// (no blur/shadow/corner-mask/titlebar — those are toplevel-only effects),
// in ascending id order so draw order is deterministic frame to frame.
// Layer surfaces with no uploaded buffer yet are skipped rather than drawn
// as placeholders: an un-painted panel shouldn't flash a gray box over the
// desktop before its client's first commit.
func (r *Renderer) drawLayerSurfaces(rects map[layout.LayerSurfaceID]layout.Rect) error {
	if len(rects) == 0 {
		return nil
	}
	ids := make([]layout.LayerSurfaceID, 0, len(rects))
	for id := range rects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		t := r.layerTextures[id]
		if t == nil || !t.hasBuffer || t.tex == nil {
			continue
		}
		rect := rects[id]
		dst := &sdl.Rect{X: rect.X, Y: rect.Y, W: rect.W, H: rect.H}
		if err := r.sdlRenderer.Copy(t.tex, nil, dst); err != nil {
			return err
		}
	}
	return nil
}

// drawTitlebar blits a pre-rasterized titlebar strip along the top edge of a
// window's quad, overlapping the window's own content rect rather than a
// dedicated layout-level reserved inset (a deliberate simplification: see
// DESIGN.md's internal/decoration entry). Reuses the one-shot-texture upload
// path drawBackgroundBlur already established for CPU-rasterized overlays.
func (r *Renderer) drawTitlebar(dst *sdl.Rect, bar *image.RGBA) {
	tex, err := textureFromImage(r.sdlRenderer, bar)
	if err != nil {
		return
	}
	defer tex.Destroy()
	barDst := &sdl.Rect{X: dst.X, Y: dst.Y, W: dst.W, H: int32(bar.Bounds().Dy())}
	r.sdlRenderer.Copy(tex, nil, barDst)
}

// drawPlaceholder issues a flat quad for a window whose texture has not yet
// received a buffer, per §4.7 step 4 ("layout animations are coherent with
// client readiness").
func (r *Renderer) drawPlaceholder(dst *sdl.Rect) {
	r.sdlRenderer.SetDrawColor(20, 20, 20, 160)
	r.sdlRenderer.FillRect(dst)
}

// drawShadow renders a drop shadow below a window quad, sample count scaled
// by the current quality floor (§4.7 "reduces ... shadow kernel radius ...
// toward a floor").
func (r *Renderer) drawShadow(dst *sdl.Rect, eff WindowEffects) {
	radius := int32(12 * r.quality)
	if radius < 2 {
		radius = 2
	}
	shadowRect := &sdl.Rect{X: dst.X - radius/2, Y: dst.Y - radius/4, W: dst.W + radius, H: dst.H + radius}
	r.sdlRenderer.SetDrawColor(0, 0, 0, uint8(80*r.quality))
	r.sdlRenderer.FillRect(shadowRect)
}

// drawBackgroundBlur applies a dual-pass separable Gaussian blur over the
// region behind a translucent window (§4.7 step 3). Sample count (and thus
// blur radius) scales with the quality scalar.
func (r *Renderer) drawBackgroundBlur(dst *sdl.Rect) {
	radius := int(6 * r.quality)
	if radius < 1 {
		return
	}
	// The CPU-side blur operates on a snapshot of the render target read
	// back into an image.RGBA, copied with golang.org/x/image/draw's
	// draw.Draw and box-blurred horizontally then vertically (boxBlur) as a
	// cheap approximation of separable Gaussian passes, then re-uploaded as
	// a one-shot texture behind the window.
	snap, err := r.readRegion(dst)
	if err != nil {
		return
	}
	blurred := boxBlur(snap, radius)
	tex, err := textureFromImage(r.sdlRenderer, blurred)
	if err != nil {
		return
	}
	defer tex.Destroy()
	r.sdlRenderer.Copy(tex, nil, dst)
}

func (r *Renderer) readRegion(rect *sdl.Rect) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, int(rect.W), int(rect.H)))
	if err := r.sdlRenderer.ReadPixels(rect, uint32(sdl.PIXELFORMAT_ABGR8888), img.Pix, int(rect.W)*4); err != nil {
		return nil, err
	}
	return img, nil
}

// boxBlur is a horizontal-then-vertical box blur, the cheap separable
// approximation of the dual-pass Gaussian §4.7 calls for: two linear passes
// instead of a 2D kernel.
func boxBlur(src *image.RGBA, radius int) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Src)
	boxBlurPass(dst, radius, true)
	boxBlurPass(dst, radius, false)
	return dst
}

func boxBlurPass(img *image.RGBA, radius int, horizontal bool) {
	b := img.Bounds()
	if horizontal {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := make([]color.RGBA, b.Dx())
			for x := b.Min.X; x < b.Max.X; x++ {
				row[x-b.Min.X] = averageWindow(img, x, y, radius, true)
			}
			for x := b.Min.X; x < b.Max.X; x++ {
				img.SetRGBA(x, y, row[x-b.Min.X])
			}
		}
		return
	}
	for x := b.Min.X; x < b.Max.X; x++ {
		col := make([]color.RGBA, b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			col[y-b.Min.Y] = averageWindow(img, x, y, radius, false)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			img.SetRGBA(x, y, col[y-b.Min.Y])
		}
	}
}

func averageWindow(img *image.RGBA, x, y, radius int, horizontal bool) color.RGBA {
	b := img.Bounds()
	var rs, gs, bs, as, n uint32
	for o := -radius; o <= radius; o++ {
		sx, sy := x, y
		if horizontal {
			sx += o
		} else {
			sy += o
		}
		if sx < b.Min.X || sx >= b.Max.X || sy < b.Min.Y || sy >= b.Max.Y {
			continue
		}
		c := img.RGBAAt(sx, sy)
		rs += uint32(c.R)
		gs += uint32(c.G)
		bs += uint32(c.B)
		as += uint32(c.A)
		n++
	}
	if n == 0 {
		return color.RGBA{}
	}
	return color.RGBA{R: uint8(rs / n), G: uint8(gs / n), B: uint8(bs / n), A: uint8(as / n)}
}

func textureFromImage(r *sdl.Renderer, img *image.RGBA) (*sdl.Texture, error) {
	surf, err := sdl.CreateRGBSurfaceWithFormatFrom(img.Pix, int32(img.Bounds().Dx()), int32(img.Bounds().Dy()),
		32, img.Stride, uint32(sdl.PIXELFORMAT_ABGR8888))
	if err != nil {
		return nil, err
	}
	defer surf.Free()
	return r.CreateTextureFromSurface(surf)
}

// maskCorners rounds a window quad's corners by punching out the pixels
// outside the corner radius with a transparent DrawPoint per pixel
// (grounded on ctxmenu main.go's rightArrow glyph stamping, which also
// walks a bounding box and calls Renderer.DrawPoint per set pixel),
// applied as the final fragment stage of §4.7 step 3.
func (r *Renderer) maskCorners(dst *sdl.Rect, radius int32) {
	if radius <= 0 {
		return
	}
	r.sdlRenderer.SetDrawBlendMode(sdl.BLENDMODE_NONE)
	r.sdlRenderer.SetDrawColor(0, 0, 0, 0)
	corners := []struct{ cx, cy, ox, oy int32 }{
		{dst.X + radius, dst.Y + radius, -1, -1},
		{dst.X + dst.W - radius - 1, dst.Y + radius, 1, -1},
		{dst.X + radius, dst.Y + dst.H - radius - 1, -1, 1},
		{dst.X + dst.W - radius - 1, dst.Y + dst.H - radius - 1, 1, 1},
	}
	for _, c := range corners {
		for dy := int32(0); dy < radius; dy++ {
			for dx := int32(0); dx < radius; dx++ {
				if dx*dx+dy*dy <= radius*radius {
					continue
				}
				r.sdlRenderer.DrawPoint(c.cx+c.ox*dx, c.cy+c.oy*dy)
			}
		}
	}
	r.sdlRenderer.SetDrawBlendMode(sdl.BLENDMODE_BLEND)
}

// ObserveFrameTime feeds one tick's measured render duration into the
// quality-degradation moving average (§4.7 "Effect-quality degradation").
// Quality steps toward 1.0 under budget and toward qualityFloor over
// budget, in small increments to avoid visible popping.
func (r *Renderer) ObserveFrameTime(ms float64) {
	if !r.initialized {
		r.avgFrameMs = ms
		r.initialized = true
	} else {
		r.avgFrameMs = emaAlpha*ms + (1-emaAlpha)*r.avgFrameMs
	}
	if r.avgFrameMs > r.budgetMs {
		r.quality -= qualityStep
		r.dropped++
	} else {
		r.quality += qualityStep
	}
	if r.quality < qualityFloor {
		r.quality = qualityFloor
	}
	if r.quality > 1.0 {
		r.quality = 1.0
	}
}

// Stats exposes the frame-pacing moving average and quality scalar
// (§ SUPPLEMENTED FEATURES: original_source's frame_pacing.rs counterpart).
func (r *Renderer) Stats() Stats {
	return Stats{AverageFrameMs: r.avgFrameMs, Quality: r.quality, DroppedFrames: r.dropped}
}

// Quality returns the current effect-quality scalar in [qualityFloor, 1.0].
func (r *Renderer) Quality() float64 { return r.quality }
