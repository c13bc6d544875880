package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamingMatchesOf(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	s := NewStreaming()
	s.Update(data[:10])
	s.Update(data[10:])

	require.Equal(t, Of(data), s.Sum32())
}

func TestStreamingResetAllowsReuse(t *testing.T) {
	s := NewStreaming()
	s.Update([]byte("hello"))
	first := s.Sum32()

	s.Reset()
	s.Update([]byte("hello"))
	require.Equal(t, first, s.Sum32())
}

func TestOfEmptyIsZero(t *testing.T) {
	require.Equal(t, uint32(0), Of(nil))
}

func TestOfDiffersOnCorruption(t *testing.T) {
	data := []byte("barecat integrity check payload")
	want := Of(data)

	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xFF

	require.NotEqual(t, want, Of(corrupted))
}
