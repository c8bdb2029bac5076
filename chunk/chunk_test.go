package chunk

import (
	"testing"

	"github.com/quorumnet/core/identity"
	"github.com/stretchr/testify/require"
)

func TestPublicAddressDeterministic(t *testing.T) {
	c1 := NewPublic([]byte("hello world"))
	c2 := NewPublic([]byte("hello world"))
	require.Equal(t, c1.Address(), c2.Address())
	require.Equal(t, Public, c1.Address().Kind)
}

func TestPrivateAddressBindsOwner(t *testing.T) {
	kpA, err := identity.Generate()
	require.NoError(t, err)
	kpB, err := identity.Generate()
	require.NoError(t, err)

	a := NewPrivate([]byte("secret"), kpA.Public())
	b := NewPrivate([]byte("secret"), kpB.Public())
	require.NotEqual(t, a.Address(), b.Address())

	pub := NewPublic([]byte("secret"))
	require.NotEqual(t, a.Address(), pub.Address())
}
