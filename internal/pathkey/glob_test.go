package pathkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileGlobStarDoesNotCrossSegments(t *testing.T) {
	g, err := CompileGlob("a/*.txt", false)
	require.NoError(t, err)
	require.True(t, g.Match("a/b.txt"))
	require.False(t, g.Match("a/b/c.txt"))
}

func TestCompileGlobDoubleStarCrossesSegmentsWhenRecursive(t *testing.T) {
	g, err := CompileGlob("a/**/z.txt", true)
	require.NoError(t, err)
	require.True(t, g.Match("a/z.txt"))
	require.True(t, g.Match("a/b/c/z.txt"))
	require.False(t, g.Match("b/z.txt"))
}

func TestCompileGlobDoubleStarIsLiteralWhenNotRecursive(t *testing.T) {
	g, err := CompileGlob("a/**/z.txt", false)
	require.NoError(t, err)
	require.False(t, g.Match("a/b/c/z.txt"))
}

func TestCompileGlobQuestionMarkMatchesOneChar(t *testing.T) {
	g, err := CompileGlob("a?.txt", false)
	require.NoError(t, err)
	require.True(t, g.Match("ab.txt"))
	require.False(t, g.Match("abc.txt"))
}

func TestCompileGlobCharacterClass(t *testing.T) {
	g, err := CompileGlob("file[0-2].bin", false)
	require.NoError(t, err)
	require.True(t, g.Match("file0.bin"))
	require.True(t, g.Match("file2.bin"))
	require.False(t, g.Match("file9.bin"))
}

func TestCompileGlobNegatedCharacterClass(t *testing.T) {
	g, err := CompileGlob("file[!0-2].bin", false)
	require.NoError(t, err)
	require.False(t, g.Match("file0.bin"))
	require.True(t, g.Match("file9.bin"))
}

func TestGlobPrefixStopsAtFirstWildcardSegment(t *testing.T) {
	g, err := CompileGlob("a/b/*.txt", false)
	require.NoError(t, err)
	require.Equal(t, "a/b", g.Prefix())
}

func TestGlobPrefixOfFullyLiteralPattern(t *testing.T) {
	g, err := CompileGlob("a/b/c.txt", false)
	require.NoError(t, err)
	require.Equal(t, "a/b/c.txt", g.Prefix())
}

func TestGlobPrefixEmptyWhenFirstSegmentIsWildcard(t *testing.T) {
	g, err := CompileGlob("*/b.txt", false)
	require.NoError(t, err)
	require.Equal(t, "", g.Prefix())
}
