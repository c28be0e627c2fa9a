package snacl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	password = []byte("sikrit")
	message  = []byte("this is a secret message of sorts")
)

func TestCryptoKeyRoundTrip(t *testing.T) {
	key, err := GenerateCryptoKey()
	require.NoError(t, err)

	blob, err := key.Encrypt(message)
	require.NoError(t, err)
	require.NotEqual(t, message, blob)

	decrypted, err := key.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, message, decrypted)

	// Ciphertexts carry their nonce, so encrypting twice never repeats.
	blob2, err := key.Encrypt(message)
	require.NoError(t, err)
	require.NotEqual(t, blob, blob2)
}

func TestCryptoKeyDecryptMalformed(t *testing.T) {
	key, err := GenerateCryptoKey()
	require.NoError(t, err)

	_, err = key.Decrypt([]byte("short"))
	require.Equal(t, ErrMalformed, err)

	blob, err := key.Encrypt(message)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	_, err = key.Decrypt(blob)
	require.Equal(t, ErrDecryptFailed, err)
}

func TestSecretKeyDerivation(t *testing.T) {
	key, err := NewSecretKey(&password, DefaultN, DefaultR, DefaultP)
	require.NoError(t, err)

	blob, err := key.Encrypt(message)
	require.NoError(t, err)

	// Round trip the storage parameters through Marshal/Unmarshal and
	// re-derive with the correct and an incorrect passphrase.
	params := key.Marshal()

	restored := &SecretKey{Key: (*CryptoKey)(&[KeySize]byte{})}
	require.NoError(t, restored.Unmarshal(params))

	badPassword := []byte("not sikrit")
	require.Equal(t, ErrInvalidPassword, restored.DeriveKey(&badPassword))

	require.NoError(t, restored.DeriveKey(&password))
	decrypted, err := restored.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, message, decrypted)
}

func TestSecretKeyZero(t *testing.T) {
	key, err := NewSecretKey(&password, DefaultN, DefaultR, DefaultP)
	require.NoError(t, err)

	key.Zero()
	var zeroKey CryptoKey
	require.Equal(t, zeroKey, *key.Key)

	// The parameters survive zeroing, so the key can be derived again.
	require.NoError(t, key.DeriveKey(&password))
}
