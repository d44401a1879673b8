package cyxcrypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) Key {
	t.Helper()
	var k Key
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("the rebalancer runs at dawn")

	blob, err := Encrypt(plaintext, key)
	require.NoError(t, err)

	got, err := Decrypt(blob, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptFailsForWrongKey(t *testing.T) {
	key1 := randomKey(t)
	key2 := randomKey(t)

	blob, err := Encrypt([]byte("secret"), key1)
	require.NoError(t, err)

	_, err = Decrypt(blob, key2)
	require.Error(t, err)
}

func TestTamperDetection(t *testing.T) {
	key := randomKey(t)
	blob, err := Encrypt([]byte("secret payload"), key)
	require.NoError(t, err)

	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Decrypt(tampered, key)
	require.Error(t, err)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	key := randomKey(t)
	a, err := Encrypt([]byte("same plaintext"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same plaintext"), key)
	require.NoError(t, err)

	require.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("01234567")
	k1, err := DeriveKey([]byte("hunter2"), salt)
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("hunter2"), salt)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestDeriveKeyRejectsShortSalt(t *testing.T) {
	_, err := DeriveKey([]byte("hunter2"), []byte("short"))
	require.Error(t, err)
}

func TestZeroClearsKey(t *testing.T) {
	k := randomKey(t)
	k.Zero()
	require.Equal(t, Key{}, k)
}
