package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockInt32RoundTrip(t *testing.T) {
	b := NewBlock(64)
	require.NoError(t, b.SetInt32(4, -17))

	v, err := b.GetInt32(4)
	require.NoError(t, err)
	require.EqualValues(t, -17, v)
}

func TestBlockBytesRoundTrip(t *testing.T) {
	b := NewBlock(64)
	payload := []byte("hello, block")
	require.NoError(t, b.SetBytes(10, payload))

	got, err := b.GetBytes(10, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestBlockFixedStringRoundTrip(t *testing.T) {
	b := NewBlock(64)
	require.NoError(t, b.SetFixedString(0, 20, "simpledb"))

	s, err := b.GetFixedString(0, 20)
	require.NoError(t, err)
	require.Equal(t, "simpledb", s)
}

func TestBlockFixedStringTruncates(t *testing.T) {
	b := NewBlock(64)
	require.NoError(t, b.SetFixedString(0, 5, "simpledb"))

	s, err := b.GetFixedString(0, 5)
	require.NoError(t, err)
	require.Equal(t, "simp", s)
}

func TestBlockOutOfBounds(t *testing.T) {
	b := NewBlock(8)
	_, err := b.GetInt32(6)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestWriteBytesAtFitsWhollyWithinBlock(t *testing.T) {
	b := NewBlock(16)
	n, err := b.WriteBytesAt(4, []byte("abcdef"), 0)
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestWriteBytesAtSignalsBlockFull(t *testing.T) {
	b := NewBlock(8)
	n, err := b.WriteBytesAt(4, []byte("abcdef"), 0)

	var full *ErrBlockFull
	require.ErrorAs(t, err, &full)
	require.Equal(t, 4, full.Consumed)
	require.Equal(t, 4, n)
}

func TestBlockIDEOF(t *testing.T) {
	id := EOFBlockID("data.tbl")
	require.True(t, id.IsEOF())
	require.False(t, NewBlockID("data.tbl", 0).IsEOF())
}
