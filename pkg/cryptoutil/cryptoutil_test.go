package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("canonical payload")
	sig := Sign(kp.Private, msg)

	require.NoError(t, Verify(kp.Public, msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sig := Sign(kp.Private, []byte("original"))

	err = Verify(kp.Public, []byte("tampered"), sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	err = Verify(kp.Public, []byte("msg"), "not-hex")
	require.ErrorIs(t, err, ErrMalformedKey)
}

func TestDeriveDeviceSeedIsDeterministicAndIndexDependent(t *testing.T) {
	master := make([]byte, 32)
	for i := range master {
		master[i] = byte(i)
	}

	seedA1, err := DeriveDeviceSeed(master, 1)
	require.NoError(t, err)

	seedA2, err := DeriveDeviceSeed(master, 1)
	require.NoError(t, err)
	require.Equal(t, seedA1, seedA2)

	seedB, err := DeriveDeviceSeed(master, 2)
	require.NoError(t, err)
	require.NotEqual(t, seedA1, seedB)
}

func TestDecodePublicHexRejectsWrongSize(t *testing.T) {
	_, err := DecodePublicHex("abcd")
	require.ErrorIs(t, err, ErrMalformedKey)
}
