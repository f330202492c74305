// Package bufreg is the Buffer Registry (spec §4.2): it owns client-provided
// pixel buffers — shm pools and dma-buf imports — and converts them to a
// canonical RGBA view.
//
// The shm pool mmap/tmpfile handling is grounded on the teacher's own
// createTmpfile/syscall.Mmap pair (wayland/window.go); pixel-format
// conversion reuses the teacher's own dependencies: github.com/daaku/swizzle
// for BGRA<->RGBA channel swaps and github.com/KononK/resize for
// nearest-neighbor viewport scaling.
package bufreg

import (
	"fmt"
	"image"

	"github.com/KononK/resize"
	"github.com/daaku/swizzle"
	"golang.org/x/sys/unix"
)

// Format enumerates the shm pixel formats the registry understands.
type Format uint32

const (
	FormatARGB8888 Format = 0
	FormatXRGB8888 Format = 1
	FormatXBGR8888 Format = 0x34324258
	FormatABGR8888 Format = 0x34324241
	FormatNV12     Format = 0x3231564e
)

// Fourcc is the dma-buf plane format, using the same DRM fourcc codes as
// the linux-dmabuf protocol (§6: XR24, AR24, XB24, AB24, NV12).
type Fourcc = Format

// PoolID identifies a registered shm pool.
type PoolID uint32

// BufferID identifies a registered buffer, shm- or dmabuf-backed.
type BufferID uint32

// ErrOutOfMemory is returned by RegisterShmPool when the mapping fails; per
// §4.2 the caller still gets a usable (zero-sized) pool id so the protocol
// stream does not desynchronize.
var ErrOutOfMemory = fmt.Errorf("bufreg: out of memory mapping shm pool")

// ErrUnsupportedFormat is returned by ToRGBA for a format this registry does
// not know how to convert (§7 UnsupportedFormat).
var ErrUnsupportedFormat = fmt.Errorf("bufreg: unsupported buffer format")

// ErrFailed is returned by CreateDmabuf for an inconsistent plane layout or
// unknown fourcc (§4.2 "Failed").
var ErrFailed = fmt.Errorf("bufreg: dma-buf import failed")

type shmPool struct {
	data     []byte
	refcount int
}

// Plane describes one dma-buf plane: its backing fd, byte offset, row
// stride, and modifier (split into hi/lo 32-bit halves per the protocol).
type Plane struct {
	FD          int
	Offset      int32
	Stride      int32
	ModifierHi  uint32
	ModifierLo  uint32
}

type shmBuffer struct {
	pool                   PoolID
	offset                 int32
	width, height, stride  int32
	format                 Format
}

type dmabufBuffer struct {
	planes        []Plane
	width, height int32
	fourcc        Fourcc
}

type buffer struct {
	shm        *shmBuffer
	dmabuf     *dmabufBuffer
	onRelease  func()
	// pendingRelease is set by MarkPendingRelease and cleared when the
	// release event fires, so Release is idempotent per cycle (§4.2).
	pendingRelease bool
}

// Viewport describes the per-surface crop (source rect, in buffer pixels)
// and scale (destination size, in surface-local pixels) applied by ToRGBA.
type Viewport struct {
	HasSource bool
	SrcX      float64
	SrcY      float64
	SrcW      float64
	SrcH      float64

	HasDest bool
	DestW   int
	DestH   int
}

// Registry owns every registered pool and buffer.
type Registry struct {
	pools   map[PoolID]*shmPool
	buffers map[BufferID]*buffer
	nextID  uint32
}

func New() *Registry {
	return &Registry{
		pools:   make(map[PoolID]*shmPool),
		buffers: make(map[BufferID]*buffer),
	}
}

func (r *Registry) allocID() uint32 {
	r.nextID++
	return r.nextID
}

// RegisterShmPool memory-maps fd read-only at size bytes. On mmap failure
// it substitutes a zero-sized anonymous mapping so that subsequent buffer
// creation calls referencing this pool id do not desynchronize the
// protocol stream; the caller should still observe ErrOutOfMemory.
func (r *Registry) RegisterShmPool(fd int, size int64) (PoolID, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	id := PoolID(r.allocID())
	if err != nil {
		anon, anonErr := unix.Mmap(-1, 0, 0, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if anonErr != nil {
			anon = nil
		}
		r.pools[id] = &shmPool{data: anon}
		return id, ErrOutOfMemory
	}
	r.pools[id] = &shmPool{data: data}
	return id, nil
}

// ResizePool grows or shrinks a pool's backing mapping (wl_shm_pool.resize).
func (r *Registry) ResizePool(fd int, id PoolID, newSize int64) error {
	pool, ok := r.pools[id]
	if !ok {
		return fmt.Errorf("bufreg: resize of unknown pool %d", id)
	}
	if err := unix.Munmap(pool.data); err != nil {
		return err
	}
	data, err := unix.Mmap(fd, 0, int(newSize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		pool.data = nil
		return ErrOutOfMemory
	}
	pool.data = data
	return nil
}

// CreateShmBuffer records a buffer descriptor; no pixel work happens here.
func (r *Registry) CreateShmBuffer(pool PoolID, offset, width, height, stride int32, format Format, onRelease func()) (BufferID, error) {
	p, ok := r.pools[pool]
	if !ok {
		return 0, fmt.Errorf("bufreg: unknown pool %d", pool)
	}
	p.refcount++
	id := BufferID(r.allocID())
	r.buffers[id] = &buffer{
		shm: &shmBuffer{pool: pool, offset: offset, width: width, height: height, stride: stride, format: format},
		onRelease: onRelease,
	}
	return id, nil
}

// CreateDmabuf validates the plane layout against fourcc (single-plane for
// RGBA variants, two-plane for NV12) and records the buffer.
func (r *Registry) CreateDmabuf(planes []Plane, width, height int32, fourcc Fourcc, flags uint32, onRelease func()) (BufferID, error) {
	switch fourcc {
	case FormatARGB8888, FormatXRGB8888, FormatXBGR8888, FormatABGR8888:
		if len(planes) != 1 {
			return 0, ErrFailed
		}
	case FormatNV12:
		if len(planes) != 2 {
			return 0, ErrFailed
		}
	default:
		return 0, ErrFailed
	}
	id := BufferID(r.allocID())
	r.buffers[id] = &buffer{
		dmabuf: &dmabufBuffer{planes: append([]Plane(nil), planes...), width: width, height: height, fourcc: fourcc},
		onRelease: onRelease,
	}
	return id, nil
}

// DestroyBuffer releases the registry's reference to a buffer, decrementing
// its backing pool's refcount.
func (r *Registry) DestroyBuffer(id BufferID) {
	b, ok := r.buffers[id]
	if !ok {
		return
	}
	if b.shm != nil {
		if p, ok := r.pools[b.shm.pool]; ok {
			p.refcount--
			if p.refcount <= 0 {
				// the pool's mmap lifetime must outlive every buffer derived
				// from it; once the last buffer is gone we may unmap.
				unix.Munmap(p.data)
				delete(r.pools, b.shm.pool)
			}
		}
	}
	delete(r.buffers, id)
}

// Release emits the protocol release event for id exactly once per
// attach-and-commit cycle. MarkPendingRelease must be called by the scene graph
// when the buffer stops being current, before Release is invoked.
func (r *Registry) Release(id BufferID) {
	b, ok := r.buffers[id]
	if !ok || !b.pendingRelease {
		return
	}
	b.pendingRelease = false
	if b.onRelease != nil {
		b.onRelease()
	}
}

// MarkPendingRelease arms the buffer for its next Release call, invoked by
// the scene graph when a buffer is displaced from a surface's current state.
func (r *Registry) MarkPendingRelease(id BufferID) {
	if b, ok := r.buffers[id]; ok {
		b.pendingRelease = true
	}
}

// Dimensions returns the pixel width/height of a registered buffer.
func (r *Registry) Dimensions(id BufferID) (w, h int32, ok bool) {
	b, exists := r.buffers[id]
	if !exists {
		return 0, 0, false
	}
	if b.shm != nil {
		return b.shm.width, b.shm.height, true
	}
	if b.dmabuf != nil {
		return b.dmabuf.width, b.dmabuf.height, true
	}
	return 0, 0, false
}

// ToRGBA converts a registered buffer to 8-bit RGBA, applying an optional
// viewport crop/scale. Alpha bytes are copied as the client supplied them
// (premultiplied for ARGB8888/ABGR8888); they are not un-premultiplied. It returns ErrUnsupportedFormat
// for formats outside the supported set (§4.2).
func (r *Registry) ToRGBA(id BufferID, vp *Viewport) ([]byte, int, int, error) {
	b, ok := r.buffers[id]
	if !ok {
		return nil, 0, 0, fmt.Errorf("bufreg: unknown buffer %d", id)
	}

	var rgba []byte
	var w, h int
	var err error
	switch {
	case b.shm != nil:
		rgba, w, h, err = r.shmToRGBA(b.shm)
	case b.dmabuf != nil:
		rgba, w, h, err = dmabufToRGBA(b.dmabuf)
	default:
		return nil, 0, 0, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, 0, 0, err
	}

	if vp == nil {
		return rgba, w, h, nil
	}
	return applyViewport(rgba, w, h, vp)
}

func (r *Registry) shmToRGBA(b *shmBuffer) ([]byte, int, int, error) {
	pool, ok := r.pools[b.pool]
	if !ok || pool.data == nil {
		return nil, 0, 0, fmt.Errorf("bufreg: pool %d unavailable", b.pool)
	}
	w, h, stride := int(b.width), int(b.height), int(b.stride)
	start := int(b.offset)
	need := start + stride*h
	if need > len(pool.data) {
		return nil, 0, 0, fmt.Errorf("bufreg: buffer exceeds pool bounds")
	}
	src := pool.data[start : start+stride*h]

	out := make([]byte, w*h*4)
	switch b.format {
	case FormatXRGB8888, FormatARGB8888:
		copyRows(out, src, w, h, stride)
		if b.format == FormatXRGB8888 {
			forceOpaque(out)
		}
	case FormatXBGR8888, FormatABGR8888:
		copyRows(out, src, w, h, stride)
		swizzle.BGRA(out) // swap R/B to go from X/ABGR to X/ARGB byte order
		if b.format == FormatXBGR8888 {
			forceOpaque(out)
		}
	default:
		return nil, 0, 0, ErrUnsupportedFormat
	}
	return out, w, h, nil
}

// copyRows copies a possibly-strided source into a tightly packed w*h*4
// destination, row by row.
func copyRows(dst, src []byte, w, h, stride int) {
	rowBytes := w * 4
	for y := 0; y < h; y++ {
		srcOff := y * stride
		dstOff := y * rowBytes
		copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])
	}
}

func forceOpaque(rgba []byte) {
	for i := 3; i < len(rgba); i += 4 {
		rgba[i] = 0xff
	}
}

// yuvToRGB applies the BT.601 limited-range integer coefficients (ITU-R
// BT.601-7 §2.5.4), matching the original implementation's conversion path.
func yuvToRGB(y, u, v int) (r, g, b uint8) {
	c := y - 16
	d := u - 128
	e := v - 128
	rr := (298*c + 409*e + 128) >> 8
	gg := (298*c - 100*d - 208*e + 128) >> 8
	bb := (298*c + 516*d + 128) >> 8
	return clamp8(rr), clamp8(gg), clamp8(bb)
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// modDRMFormatModLinear is DRM_FORMAT_MOD_LINEAR: an uncompressed, untiled
// row-major layout addressable the same way an shm pool is (§6). It's the
// only modifier this registry can decode without a GPU-side GBM/DRM import,
// so every other modifier (tiled, compressed) is rejected rather than
// silently producing wrong-looking pixels.
const modDRMFormatModLinear = 0

func planeModifier(p Plane) uint64 {
	return uint64(p.ModifierHi)<<32 | uint64(p.ModifierLo)
}

// mmapPlane maps a dma-buf plane's fd read-only and returns the bytes
// backing it from the plane's declared offset onward, mirroring how
// shmToRGBA indexes into an already-mapped shm pool.
func mmapPlane(p Plane, rows int) ([]byte, func(), error) {
	length := int(p.Offset) + int(p.Stride)*rows
	data, err := unix.Mmap(p.FD, 0, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("bufreg: mmap dma-buf plane: %w", err)
	}
	return data[p.Offset:], func() { unix.Munmap(data) }, nil
}

// dmabufToRGBA decodes a dma-buf import to RGBA by mmap'ing its LINEAR-
// modifier planes directly, the same row-major access pattern shmToRGBA
// uses for an shm pool (§4.2). Any other modifier means the plane is tiled
// or compressed in a GPU-vendor-specific layout this registry cannot
// decode on the CPU, so it fails closed with ErrUnsupportedFormat instead
// of fabricating pixels (see DESIGN.md).
func dmabufToRGBA(b *dmabufBuffer) ([]byte, int, int, error) {
	w, h := int(b.width), int(b.height)

	for _, p := range b.planes {
		if planeModifier(p) != modDRMFormatModLinear {
			return nil, 0, 0, ErrUnsupportedFormat
		}
	}

	switch b.fourcc {
	case FormatARGB8888, FormatXRGB8888, FormatXBGR8888, FormatABGR8888:
		if len(b.planes) != 1 {
			return nil, 0, 0, ErrUnsupportedFormat
		}
		src, unmap, err := mmapPlane(b.planes[0], h)
		if err != nil {
			return nil, 0, 0, err
		}
		defer unmap()

		out := make([]byte, w*h*4)
		copyRows(out, src, w, h, int(b.planes[0].Stride))
		switch b.fourcc {
		case FormatXRGB8888:
			forceOpaque(out)
		case FormatXBGR8888, FormatABGR8888:
			swizzle.BGRA(out)
			if b.fourcc == FormatXBGR8888 {
				forceOpaque(out)
			}
		}
		return out, w, h, nil

	case FormatNV12:
		if len(b.planes) != 2 {
			return nil, 0, 0, ErrUnsupportedFormat
		}
		yPlane, unmapY, err := mmapPlane(b.planes[0], h)
		if err != nil {
			return nil, 0, 0, err
		}
		defer unmapY()
		cPlane, unmapC, err := mmapPlane(b.planes[1], (h+1)/2)
		if err != nil {
			return nil, 0, 0, err
		}
		defer unmapC()

		yStride := int(b.planes[0].Stride)
		cStride := int(b.planes[1].Stride)
		out := make([]byte, w*h*4)
		for py := 0; py < h; py++ {
			cRow := (py / 2) * cStride
			yRow := py * yStride
			for px := 0; px < w; px++ {
				y := int(yPlane[yRow+px])
				cOff := cRow + (px/2)*2
				u := int(cPlane[cOff])
				v := int(cPlane[cOff+1])
				r, g, bch := yuvToRGB(y, u, v)
				o := (py*w + px) * 4
				out[o], out[o+1], out[o+2], out[o+3] = r, g, bch, 0xff
			}
		}
		return out, w, h, nil
	}
	return nil, 0, 0, ErrUnsupportedFormat
}

// applyViewport clamps the source rect into the buffer and nearest-
// neighbor-scales to the destination size.
func applyViewport(rgba []byte, w, h int, vp *Viewport) ([]byte, int, int, error) {
	srcRect := image.Rect(0, 0, w, h)
	if vp.HasSource {
		r := image.Rect(int(vp.SrcX), int(vp.SrcY), int(vp.SrcX+vp.SrcW), int(vp.SrcY+vp.SrcH))
		srcRect = r.Intersect(image.Rect(0, 0, w, h))
		if srcRect.Empty() {
			return nil, 0, 0, fmt.Errorf("bufreg: viewport source rect outside buffer")
		}
	}

	img := &image.RGBA{Pix: rgba, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	cropped := img.SubImage(srcRect).(*image.RGBA)

	destW, destH := srcRect.Dx(), srcRect.Dy()
	if vp.HasDest {
		destW, destH = vp.DestW, vp.DestH
	}
	if destW == srcRect.Dx() && destH == srcRect.Dy() {
		return flatten(cropped), destW, destH, nil
	}

	scaled := resize.Resize(uint(destW), uint(destH), cropped, resize.NearestNeighbor)
	return flatten(toRGBA(scaled)), destW, destH, nil
}

func flatten(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, b.Dx()*b.Dy()*4)
	for y := 0; y < b.Dy(); y++ {
		srcOff := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*b.Dx()*4:(y+1)*b.Dx()*4], img.Pix[srcOff:srcOff+b.Dx()*4])
	}
	return out
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}
