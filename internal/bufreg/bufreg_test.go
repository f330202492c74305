package bufreg

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeShmFile(t *testing.T, pix []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "shm")
	require.NoError(t, err)
	_, err = f.Write(pix)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestShmXRGBRoundTrip(t *testing.T) {
	w, h := 2, 1
	pix := []byte{
		0x10, 0x20, 0x30, 0xff, // B G R X (little-endian XRGB8888 word 0xff302010)
		0x40, 0x50, 0x60, 0xff,
	}
	f := makeShmFile(t, pix)

	r := New()
	pool, err := r.RegisterShmPool(int(f.Fd()), int64(len(pix)))
	require.NoError(t, err)

	buf, err := r.CreateShmBuffer(pool, 0, int32(w), int32(h), int32(w*4), FormatXRGB8888, nil)
	require.NoError(t, err)

	rgba, gotW, gotH, err := r.ToRGBA(buf, nil)
	require.NoError(t, err)
	require.Equal(t, w, gotW)
	require.Equal(t, h, gotH)
	require.Equal(t, pix, rgba) // XRGB is already in RGBA byte order with alpha forced opaque
}

func TestShmXBGRSwizzled(t *testing.T) {
	w, h := 1, 1
	pix := []byte{0x10, 0x20, 0x30, 0x00} // B-position holds R in XBGR layout
	f := makeShmFile(t, pix)

	r := New()
	pool, err := r.RegisterShmPool(int(f.Fd()), int64(len(pix)))
	require.NoError(t, err)
	buf, err := r.CreateShmBuffer(pool, 0, int32(w), int32(h), int32(w*4), FormatXBGR8888, nil)
	require.NoError(t, err)

	rgba, _, _, err := r.ToRGBA(buf, nil)
	require.NoError(t, err)
	require.Equal(t, byte(0x30), rgba[0]) // R and B swapped
	require.Equal(t, byte(0x20), rgba[1])
	require.Equal(t, byte(0x10), rgba[2])
	require.Equal(t, byte(0xff), rgba[3]) // alpha forced opaque
}

func TestUnknownFourccFails(t *testing.T) {
	r := New()
	_, err := r.CreateDmabuf([]Plane{{FD: 0}}, 4, 4, Format(0xdeadbeef), 0, nil)
	require.ErrorIs(t, err, ErrFailed)
}

func TestNV12RequiresTwoPlanes(t *testing.T) {
	r := New()
	_, err := r.CreateDmabuf([]Plane{{FD: 0}}, 4, 4, FormatNV12, 0, nil)
	require.ErrorIs(t, err, ErrFailed)
}

func TestDmabufLinearXRGBReadsRealPixels(t *testing.T) {
	w, h := 2, 1
	pix := []byte{
		0x10, 0x20, 0x30, 0xff,
		0x40, 0x50, 0x60, 0xff,
	}
	f := makeShmFile(t, pix)

	r := New()
	buf, err := r.CreateDmabuf([]Plane{{FD: int(f.Fd()), Stride: int32(w * 4)}}, int32(w), int32(h), FormatXRGB8888, 0, nil)
	require.NoError(t, err)

	rgba, gotW, gotH, err := r.ToRGBA(buf, nil)
	require.NoError(t, err)
	require.Equal(t, w, gotW)
	require.Equal(t, h, gotH)
	require.Equal(t, pix, rgba)
}

func TestDmabufNonLinearModifierRejected(t *testing.T) {
	f := makeShmFile(t, make([]byte, 16))
	r := New()
	buf, err := r.CreateDmabuf([]Plane{{FD: int(f.Fd()), Stride: 4, ModifierLo: 1}}, 2, 2, FormatXRGB8888, 0, nil)
	require.NoError(t, err)

	_, _, _, err = r.ToRGBA(buf, nil)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReleaseFiresExactlyOncePerCycle(t *testing.T) {
	pix := []byte{1, 2, 3, 4}
	f := makeShmFile(t, pix)
	r := New()
	pool, err := r.RegisterShmPool(int(f.Fd()), int64(len(pix)))
	require.NoError(t, err)

	fired := 0
	buf, err := r.CreateShmBuffer(pool, 0, 1, 1, 4, FormatARGB8888, func() { fired++ })
	require.NoError(t, err)

	r.Release(buf) // no-op: not armed yet
	require.Equal(t, 0, fired)

	r.MarkPendingRelease(buf)
	r.Release(buf)
	require.Equal(t, 1, fired)

	r.Release(buf) // idempotent until re-armed
	require.Equal(t, 1, fired)
}

func TestViewportScaleNearestNeighbor(t *testing.T) {
	pix := make([]byte, 4*4*4)
	for i := range pix {
		pix[i] = byte(i)
	}
	f := makeShmFile(t, pix)
	r := New()
	pool, err := r.RegisterShmPool(int(f.Fd()), int64(len(pix)))
	require.NoError(t, err)
	buf, err := r.CreateShmBuffer(pool, 0, 4, 4, 16, FormatARGB8888, nil)
	require.NoError(t, err)

	rgba, w, h, err := r.ToRGBA(buf, &Viewport{HasDest: true, DestW: 2, DestH: 2})
	require.NoError(t, err)
	require.Equal(t, 2, w)
	require.Equal(t, 2, h)
	require.Len(t, rgba, 2*2*4)
}
