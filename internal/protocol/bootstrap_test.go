package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axiom-compositor/axiomd/internal/wire"
)

func TestNewClientRegistersFixedDisplayObject(t *testing.T) {
	_, c := newTestDispatcher(t)
	obj, ok := c.Lookup(displayObjectID)
	require.True(t, ok)
	require.Equal(t, IfaceDisplay, obj.Interface)
}

func TestGetRegistryAdvertisesEveryGlobal(t *testing.T) {
	d, c := newTestDispatcher(t)

	msg := wire.NewEncoder().PutObject(50).Build(displayObjectID, reqDisplayGetRegistry)
	require.NoError(t, d.Dispatch(c, msg))

	obj, ok := c.Lookup(50)
	require.True(t, ok)
	require.Equal(t, IfaceRegistry, obj.Interface)

	out := c.Outbox()
	require.Len(t, out, len(d.Globals()))
	for _, m := range out {
		require.Equal(t, wire.ObjectID(50), m.Sender)
		require.Equal(t, evRegistryGlobal, m.Opcode)
	}
}

func TestSyncEmitsImmediateDone(t *testing.T) {
	d, c := newTestDispatcher(t)

	msg := wire.NewEncoder().PutObject(51).Build(displayObjectID, reqDisplaySync)
	require.NoError(t, d.Dispatch(c, msg))

	// EmitFrameDone unregisters the callback object immediately after
	// sending done, matching every other wl_callback use in this package.
	_, ok := c.Lookup(51)
	require.False(t, ok)

	out := c.Outbox()
	require.Len(t, out, 1)
	require.Equal(t, wire.ObjectID(51), out[0].Sender)
}
