package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axiom-compositor/axiomd/internal/scene"
)

func TestDrainReturnsEventsInArrivalOrderAndClears(t *testing.T) {
	b := New()
	b.PublishWindowMapped(scene.SurfaceID(1))
	b.PublishFocusChanged(scene.SurfaceID(1), true)
	b.PublishWindowUnmapped(scene.SurfaceID(2))

	require.Equal(t, 3, b.Len())
	evs := b.Drain()
	require.Len(t, evs, 3)
	require.Equal(t, KindWindowMapped, evs[0].Kind)
	require.Equal(t, scene.SurfaceID(1), evs[0].Mapped.Surface)
	require.Equal(t, KindFocusChanged, evs[1].Kind)
	require.True(t, evs[1].Focus.HasSurface)
	require.Equal(t, KindWindowUnmapped, evs[2].Kind)
	require.Equal(t, scene.SurfaceID(2), evs[2].Unmapped.Surface)

	require.Zero(t, b.Len())
	require.Empty(t, b.Drain())
}

func TestWorkspaceChangedCarriesScrollTarget(t *testing.T) {
	b := New()
	b.PublishWorkspaceChanged(2.5)
	evs := b.Drain()
	require.Len(t, evs, 1)
	require.Equal(t, 2.5, evs[0].Workspace.ScrollTarget)
}
