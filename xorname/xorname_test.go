package xorname

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContentDeterministic(t *testing.T) {
	a := FromContent([]byte("hello"))
	b := FromContent([]byte("hello"))
	require.Equal(t, a, b)

	c := FromContent([]byte("hello"), []byte("world"))
	require.NotEqual(t, a, c)
}

func TestPrefixMatches(t *testing.T) {
	var n Name
	n[0] = 0b1000_0000

	p0 := NewPrefix(n, 1)
	require.True(t, p0.Matches(n))

	var other Name
	other[0] = 0b0000_0000
	require.False(t, p0.Matches(other))
	require.True(t, Default().Matches(other))
}

func TestPrefixExtensionAndSibling(t *testing.T) {
	p00, err := ParseBits("00")
	require.NoError(t, err)
	p0, err := ParseBits("0")
	require.NoError(t, err)
	p01, err := ParseBits("01")
	require.NoError(t, err)

	require.True(t, p00.IsExtensionOf(p0))
	require.False(t, p0.IsExtensionOf(p00))
	require.True(t, p00.IsSibling(p01))
	require.False(t, p00.IsSibling(p0))

	sib, ok := p00.Sibling()
	require.True(t, ok)
	require.True(t, sib.Equal(p01))

	parent, ok := p00.Popped()
	require.True(t, ok)
	require.True(t, parent.Equal(p0))
}

func TestPrefixPushBitRoundTrip(t *testing.T) {
	p, err := ParseBits("101")
	require.NoError(t, err)
	require.Equal(t, "101", p.Bits())

	child := p.PushBit(true)
	require.Equal(t, "1011", child.Bits())
	require.True(t, child.IsExtensionOf(p))
}

func TestNameDistanceCmp(t *testing.T) {
	var target, a, b Name
	target[0] = 0x0F
	a[0] = 0x0E // xor = 0x01
	b[0] = 0xFF // xor = 0xF0

	require.Equal(t, -1, a.DistanceCmp(b, target))
	require.Equal(t, 1, b.DistanceCmp(a, target))
	require.Equal(t, 0, a.DistanceCmp(a, target))
}

func TestCommonPrefixBitLength(t *testing.T) {
	var a, b Name
	a[0] = 0b1111_0000
	b[0] = 0b1111_1000
	require.Equal(t, uint(4), a.CommonPrefix(b))

	require.Equal(t, uint(Len*8), a.CommonPrefix(a))
}

func TestPrefixCoveredBy(t *testing.T) {
	p0, _ := ParseBits("0")
	p00, _ := ParseBits("00")
	p01, _ := ParseBits("01")
	p1, _ := ParseBits("1")

	require.True(t, Default().IsCoveredBy([]Prefix{p00, p01, p1}))
	require.False(t, Default().IsCoveredBy([]Prefix{p00, p1}))
	require.True(t, p0.IsCoveredBy([]Prefix{p00, p01}))
}
