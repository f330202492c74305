package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	enc.PutUint32(42).PutInt32(-7).PutString("hello").PutArray([]byte{1, 2, 3})
	msg := enc.Build(ObjectID(3), Opcode(1))

	dec := NewDecoder(msg)
	u, err := dec.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(42), u)

	i, err := dec.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(-7), i)

	s, err := dec.String()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	arr, err := dec.Array()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, arr)
}

func TestDecoderTruncated(t *testing.T) {
	msg := &Message{Args: []byte{1, 2}}
	dec := NewDecoder(msg)
	_, err := dec.Uint32()
	require.Error(t, err)
}

func TestFixedPoint(t *testing.T) {
	enc := NewEncoder()
	enc.PutFixed(12, 128)
	msg := enc.Build(0, 0)
	dec := NewDecoder(msg)
	whole, frac, err := dec.Fixed()
	require.NoError(t, err)
	require.Equal(t, int32(12), whole)
	require.Equal(t, uint32(128), frac)
}

func TestFDQueueAndConsume(t *testing.T) {
	enc := NewEncoder()
	enc.PutFD(3).PutFD(4)
	msg := enc.Build(0, 0)
	require.Equal(t, []int{3, 4}, msg.FDs)

	dec := NewDecoder(msg)
	dec.fds = msg.FDs
	fd, err := dec.FD()
	require.NoError(t, err)
	require.Equal(t, 3, fd)
}
