// Package cyxcrypto implements per-chunk AES-256-GCM encryption and
// Argon2id key derivation. Grounded on
// ZentaChain-zentalk-node/pkg/meshstorage/encryption.go's EncryptedData
// shape, with the KDF swapped from PBKDF2-SHA256 to Argon2id per spec.md
// §4.1.
package cyxcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"golang.org/x/crypto/argon2"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16

	// Argon2id defaults, chosen for an interactive-but-not-trivial KDF
	// cost profile; these are the "with defaults" the spec calls for.
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4

	minSaltSize = 8
)

// Key is a 32-byte symmetric key. Zero must be called once the key is no
// longer needed so it does not linger in memory, per spec.md §4.1
// ("keys must be zeroed on drop").
type Key [KeySize]byte

// Zero overwrites the key's backing bytes.
func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// DeriveKey derives a Key from password material using Argon2id. salt must
// be at least minSaltSize bytes.
func DeriveKey(password, salt []byte) (Key, error) {
	if len(salt) < minSaltSize {
		return Key{}, cyxerr.New(cyxerr.KindEncryption, "salt too short")
	}
	raw := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, KeySize)
	var key Key
	copy(key[:], raw)
	return key, nil
}

// Encrypt seals plaintext under key with a fresh random 96-bit nonce,
// returning nonce ∥ ciphertext ∥ tag as a single buffer, per spec.md §4.1's
// wire format.
func Encrypt(plaintext []byte, key Key) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindEncryption, "create cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindEncryption, "create gcm", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindEncryption, "generate nonce", err)
	}

	out := gcm.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt. Any tag mismatch, truncation
// below NonceSize+TagSize, or key mismatch fails with KindDecryption and
// reveals nothing more specific, per spec.md §4.1.
func Decrypt(blob []byte, key Key) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, cyxerr.New(cyxerr.KindDecryption, "auth failed")
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindDecryption, "auth failed", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindDecryption, "auth failed", err)
	}

	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, cyxerr.New(cyxerr.KindDecryption, "auth failed")
	}
	return plaintext, nil
}
