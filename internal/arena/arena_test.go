package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateRoundsUpToCacheLine(t *testing.T) {
	a, err := New(4096)
	require.NoError(t, err)

	b, err := a.Allocate(1)
	require.NoError(t, err)
	require.Len(t, b, 1)

	used, cap := a.Stats()
	require.Equal(t, uint64(CacheLine), used)
	require.Equal(t, uint64(4096), cap)
}

func TestAllocateZeroSizeRejected(t *testing.T) {
	a, err := New(64)
	require.NoError(t, err)

	_, err = a.Allocate(0)
	require.ErrorIs(t, err, ErrZeroSize)
}

func TestAllocateExhaustion(t *testing.T) {
	a, err := New(CacheLine)
	require.NoError(t, err)

	_, err = a.Allocate(1)
	require.NoError(t, err)

	_, err = a.Allocate(1)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestResetAllowsReuse(t *testing.T) {
	a, err := New(CacheLine * 2)
	require.NoError(t, err)

	_, err = a.Allocate(CacheLine)
	require.NoError(t, err)
	_, err = a.Allocate(CacheLine)
	require.NoError(t, err)

	_, err = a.Allocate(1)
	require.ErrorIs(t, err, ErrExhausted)

	a.Reset()
	used, _ := a.Stats()
	require.Equal(t, uint64(0), used)

	_, err = a.Allocate(CacheLine)
	require.NoError(t, err)
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)

	_, err = New(-1)
	require.Error(t, err)
}
