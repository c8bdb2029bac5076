package blskey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	share, err := NewSecretShare()
	require.NoError(t, err)

	pk := share.Public()
	msg := []byte("child-section-key-bytes")
	sig := share.Sign(msg)

	require.True(t, Verify(pk, sig, msg))
	require.False(t, Verify(pk, sig, []byte("different message")))
}

func TestSectionKeyByteRoundTrip(t *testing.T) {
	share, err := NewSecretShare()
	require.NoError(t, err)

	pk := share.Public()
	decoded, err := SectionKeyFromBytes(pk.Bytes())
	require.NoError(t, err)
	require.True(t, pk.Equal(decoded))
}

func TestSecretShareByteRoundTrip(t *testing.T) {
	share, err := NewSecretShare()
	require.NoError(t, err)

	decoded, err := SecretShareFromBytes(share.Bytes())
	require.NoError(t, err)
	require.True(t, share.Public().Equal(decoded.Public()))
}
