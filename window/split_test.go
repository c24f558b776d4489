package window

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vortexnet/raknet/wire"
)

func TestSplitReassemblesInIndexOrder(t *testing.T) {
	s := NewSplit()

	_, ok, err := s.Add(1, 3, 0, []byte("foo"))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.Add(1, 3, 2, []byte("baz"))
	require.NoError(t, err)
	require.False(t, ok)

	reassembled, ok, err := s.Add(1, 3, 1, []byte("bar"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("foobarbaz"), reassembled)
	require.Equal(t, 0, s.Len())
}

func TestSplitIndexOutOfRange(t *testing.T) {
	s := NewSplit()
	_, _, err := s.Add(1, 3, 3, []byte("x"))
	require.Error(t, err)
	var wireErr *wire.Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, wire.KindSplitIndexOutOfRange, wireErr.Kind)
}

func TestSplitCountMismatch(t *testing.T) {
	s := NewSplit()
	_, ok, err := s.Add(5, 2, 0, []byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = s.Add(5, 3, 1, []byte("b"))
	require.Error(t, err)
	var wireErr *wire.Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, wire.KindSplitCountMismatch, wireErr.Kind)
}

func TestSplitLimitExceeded(t *testing.T) {
	s := NewSplit()
	_, _, err := s.Add(1, MaxSplitCount+1, 0, []byte("x"))
	require.Error(t, err)
	var wireErr *wire.Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, wire.KindSplitLimitExceeded, wireErr.Kind)
}

func TestSplitDuplicateFragmentIgnored(t *testing.T) {
	s := NewSplit()
	_, ok, err := s.Add(1, 2, 0, []byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	// Retransmitted duplicate of fragment 0 must not double-count toward
	// completion.
	_, ok, err = s.Add(1, 2, 0, []byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	reassembled, ok, err := s.Add(1, 2, 1, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("ab"), reassembled)
}
