package protocolid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for i := 0; i < 10000; i++ {
		id := New()
		ref := id.Reference()
		require.Len(t, ref, 32)

		got, err := ParseReference(ref)
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}

func TestReferenceIsLowercaseHexASCII(t *testing.T) {
	id := New()
	ref := id.Reference()
	for _, b := range ref {
		isDigit := b >= '0' && b <= '9'
		isLowerHex := b >= 'a' && b <= 'f'
		require.True(t, isDigit || isLowerHex, "byte %q is not lowercase hex ASCII", b)
	}
}

func TestParseReferenceSliceRejectsWrongLength(t *testing.T) {
	_, err := ParseReferenceSlice([]byte("too-short"))
	require.Error(t, err)
}

func TestParseReferenceRejectsNonHex(t *testing.T) {
	var ref [32]byte
	for i := range ref {
		ref[i] = 'z'
	}
	_, err := ParseReference(ref)
	require.Error(t, err)
}

func TestIsZero(t *testing.T) {
	var zero ID
	require.True(t, zero.IsZero())
	require.False(t, New().IsZero())
}
