package layout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newEngine() *Engine {
	e := New(DefaultConfig())
	e.SetViewportSize(1920, 1080)
	return e
}

func TestMapWindowCreatesNewColumnToTheRight(t *testing.T) {
	e := newEngine()
	e.MapWindow(1, 800, 600)
	e.MapWindow(2, 800, 600)

	e.scrollPos = float64(1) // settle spring instantly for the assertion
	res := e.Compute()

	r1, ok := res.WindowRects[1]
	require.True(t, ok)
	r2, ok := res.WindowRects[2]
	require.True(t, ok)
	require.Less(t, r1.X, r2.X)
}

func TestUnmapEmptyColumnIsDeletedAndFocusRenumbers(t *testing.T) {
	e := newEngine()
	e.MapWindow(1, 800, 600)
	e.MapWindow(2, 800, 600)
	e.FocusWindow(2)

	e.UnmapWindow(2)

	focused, ok := e.FocusedWindow()
	require.True(t, ok)
	require.Equal(t, WindowID(1), focused)

	res := e.Compute()
	require.Len(t, res.WindowRects, 1)
	_, stillThere := res.WindowRects[2]
	require.False(t, stillThere)
}

func TestFullscreenWindowSuspendsTiling(t *testing.T) {
	e := newEngine()
	e.MapWindow(1, 800, 600)
	e.ToggleFullscreen(1)

	res := e.Compute()
	r := res.WindowRects[1]
	require.Equal(t, Rect{X: 0, Y: 0, W: 1920, H: 1080}, r)
}

func TestMoveWindowRightCreatesColumnWhenNoneExists(t *testing.T) {
	e := newEngine()
	e.MapWindow(1, 800, 600)
	e.MoveWindowRight(1)

	res := e.Compute()
	require.Contains(t, res.WindowRects, WindowID(1))
	require.Len(t, e.columns, 1) // moved window's old column was emptied and deleted
}

func TestExclusiveZoneMaxPolicyDefault(t *testing.T) {
	e := newEngine()
	e.SetLayerSurface(1, LayerInput{Anchor: AnchorTop, ExclusiveZone: 40, DesiredW: 1920, DesiredH: 40})
	e.SetLayerSurface(2, LayerInput{Anchor: AnchorTop, ExclusiveZone: 24, DesiredW: 1920, DesiredH: 24})

	res := e.Compute()
	require.Equal(t, int32(40), res.Insets.Top) // max(40,24), not sum
}

func TestExclusiveZoneSumPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExclusiveZonePolicy = ExclusiveZoneSum
	e := New(cfg)
	e.SetViewportSize(1920, 1080)
	e.SetLayerSurface(1, LayerInput{Anchor: AnchorTop, ExclusiveZone: 40})
	e.SetLayerSurface(2, LayerInput{Anchor: AnchorTop, ExclusiveZone: 24})

	res := e.Compute()
	require.Equal(t, int32(64), res.Insets.Top)
}

func TestMultiEdgeAnchorDoesNotContributeExclusiveZone(t *testing.T) {
	e := newEngine()
	e.SetLayerSurface(1, LayerInput{Anchor: AnchorTop | AnchorBottom, ExclusiveZone: 999})

	res := e.Compute()
	require.Equal(t, Insets{}, res.Insets)
}

func TestLayerRectClampedToViewport(t *testing.T) {
	e := newEngine()
	e.SetLayerSurface(1, LayerInput{Anchor: AnchorRight, DesiredW: 3000, DesiredH: 100})

	res := e.Compute()
	r := res.LayerRects[1]
	require.LessOrEqual(t, r.X+r.W, e.viewportW)
	require.GreaterOrEqual(t, r.X, int32(0))
}

func TestFocusedWindowDrawnLastInStackOrder(t *testing.T) {
	e := newEngine()
	e.MapWindow(1, 800, 600)
	// second window joins the same column explicitly via MoveWindowLeft trick:
	e.MapWindow(2, 800, 600)
	e.MoveWindowLeft(2) // column 1 -> column 0, joining window 1's column
	e.FocusWindow(1)

	res := e.Compute()
	require.Equal(t, WindowID(1), res.StackOrder[len(res.StackOrder)-1])
}

func TestSpringConvergesToTargetAndSnaps(t *testing.T) {
	e := newEngine()
	e.MapWindow(1, 800, 600)
	e.MapWindow(2, 800, 600)
	e.ScrollRight()

	for i := 0; i < 500; i++ {
		e.Advance(1.0 / 240.0)
	}

	require.InDelta(t, e.scrollTarget, e.ScrollPosition(), 1e-6)
}

func TestComputeIsIdempotent(t *testing.T) {
	e := newEngine()
	e.MapWindow(1, 800, 600)
	e.MapWindow(2, 800, 600)
	e.SetLayerSurface(1, LayerInput{Anchor: AnchorTop, ExclusiveZone: 30, DesiredW: 1920, DesiredH: 30})

	a := e.Compute()
	b := e.Compute()
	require.Equal(t, a, b)
}
