package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "latticed/core"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	address, err := AddressFromPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	payload := []byte(`{"type":"send","id":"1"}`)
	sig, err := Sign(priv, payload)
	require.NoError(t, err)

	require.True(t, Verify(address, payload, sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	address, err := AddressFromPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	sig, err := Sign(priv, []byte("original"))
	require.NoError(t, err)

	require.False(t, Verify(address, []byte("tampered"), sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv1, err := GenerateKeyPair()
	require.NoError(t, err)
	priv2, err := GenerateKeyPair()
	require.NoError(t, err)
	otherAddress, err := AddressFromPublicKey(&priv2.PublicKey)
	require.NoError(t, err)

	payload := []byte("payload")
	sig, err := Sign(priv1, payload)
	require.NoError(t, err)

	require.False(t, Verify(otherAddress, payload, sig))
}

func TestSignIsDeterministic(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := []byte("same payload every time")
	sig1, err := Sign(priv, payload)
	require.NoError(t, err)
	sig2, err := Sign(priv, payload)
	require.NoError(t, err)

	require.Equal(t, sig1, sig2, "RFC 6979 nonces must make repeated signatures identical")
}

func TestAddressRoundTripsThroughWireForm(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	address, err := AddressFromPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	require.NotContains(t, address, "\n")
	require.NotContains(t, address, "BEGIN")
}
