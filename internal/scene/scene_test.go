package scene

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoleAssignedOnce(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	require.NoError(t, s.AssignRole(surf.ID, RoleToplevel, 0))
	err := s.AssignRole(surf.ID, RoleToplevel, 0)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "double-role", perr.Kind)
}

func TestCommitBeforeAckIsProtocolError(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	require.NoError(t, s.AssignRole(surf.ID, RoleToplevel, 0))
	require.NoError(t, s.Attach(surf.ID, 1, true, 0, 0))
	_, err := s.Commit(surf.ID)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "buffer-before-ack", perr.Kind)
}

func TestAckUnknownSerialIsProtocolError(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	require.NoError(t, s.AssignRole(surf.ID, RoleToplevel, 0))
	s.AddConfigureSerial(surf.ID, 7)
	err := s.Ack(surf.ID, 42)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "invalid-serial", perr.Kind)
}

func TestAckImpliesMapOnCommit(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	require.NoError(t, s.AssignRole(surf.ID, RoleToplevel, 0))
	s.AddConfigureSerial(surf.ID, 1)
	require.NoError(t, s.Ack(surf.ID, 1))
	require.NoError(t, s.Attach(surf.ID, 99, true, 0, 0))

	res, err := s.Commit(surf.ID)
	require.NoError(t, err)
	require.True(t, res.Mapped)
	require.True(t, surf.Mapped())
}

func TestNullBufferUnmaps(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	require.NoError(t, s.AssignRole(surf.ID, RoleToplevel, 0))
	s.AddConfigureSerial(surf.ID, 1)
	require.NoError(t, s.Ack(surf.ID, 1))
	require.NoError(t, s.Attach(surf.ID, 99, true, 0, 0))
	_, err := s.Commit(surf.ID)
	require.NoError(t, err)

	require.NoError(t, s.Attach(surf.ID, 0, false, 0, 0))
	res, err := s.Commit(surf.ID)
	require.NoError(t, err)
	require.True(t, res.Unmapped)
	require.True(t, res.HasReleased)
	require.Equal(t, uint32(99), uint32(res.ReleasedBuffer))
}

func TestAckRetiresOlderSerialsToo(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	require.NoError(t, s.AssignRole(surf.ID, RoleToplevel, 0))
	s.AddConfigureSerial(surf.ID, 1)
	s.AddConfigureSerial(surf.ID, 2)
	s.AddConfigureSerial(surf.ID, 3)
	require.NoError(t, s.Ack(surf.ID, 2))
	// serial 1 and 2 are retired; 3 is still pending so a fresh ack(3) works
	require.NoError(t, s.Ack(surf.ID, 3))
}

func TestReackingAlreadySupersededSerialIsNotAnError(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	require.NoError(t, s.AssignRole(surf.ID, RoleToplevel, 0))
	s.AddConfigureSerial(surf.ID, 1)
	s.AddConfigureSerial(surf.ID, 2)
	require.NoError(t, s.Ack(surf.ID, 2))

	// Serial 1 was genuinely sent but is long retired from pendingSerials;
	// a client re-acking it (e.g. a racing duplicate ack) must not be
	// treated as acking a serial the server never sent.
	require.NoError(t, s.Ack(surf.ID, 1))
	require.NoError(t, s.Ack(surf.ID, 2))
}

func TestFrameCallbacksSurviveIntermediateCommit(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	require.NoError(t, s.Frame(surf.ID, 10))
	require.NoError(t, s.Damage(surf.ID, Rect{0, 0, 1, 1}))
	_, err := s.Commit(surf.ID)
	require.NoError(t, err)
	require.NoError(t, s.Frame(surf.ID, 11))

	cbs := s.DrainFrameCallbacks(surf.ID)
	require.Equal(t, []uint32{10, 11}, cbs)
	require.Empty(t, s.DrainFrameCallbacks(surf.ID))
}

func TestInvalidPositionerRejected(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	err := s.SetPositioner(surf.ID, Positioner{Width: 0, Height: 10, AnchorRect: Rect{W: 1, H: 1}})
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "invalid-positioner", perr.Kind)
}

func TestProtocolErrorUnwrapsToSentinel(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	require.NoError(t, s.AssignRole(surf.ID, RoleToplevel, 0))
	err := s.AssignRole(surf.ID, RoleToplevel, 0)
	require.ErrorIs(t, err, ErrDoubleRole)
}

func TestDestroyedSurfaceOperationsError(t *testing.T) {
	s := New()
	surf := s.CreateSurface()
	s.Destroy(surf.ID)
	err := s.Damage(surf.ID, Rect{})
	require.Error(t, err)
}
