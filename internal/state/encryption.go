package state

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
)

// EncryptionKeyEnvVar names the environment variable holding the state
// encryption passphrase. When unset, state is stored in plaintext.
const EncryptionKeyEnvVar = "TERRAPIN_STATE_ENCRYPTION_KEY"

// encryptionMagic prefixes encrypted state files so reads can
// distinguish them from plaintext PKL.
var encryptionMagic = []byte("TERRAPINENC1")

// IsEncrypted reports whether raw state file contents are encrypted.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, encryptionMagic)
}

// EncryptState encrypts plaintext state with AES-256-GCM using the key
// from the environment. If no key is configured, the plaintext is
// returned unchanged.
func EncryptState(plaintext []byte) ([]byte, error) {
	key, ok := encryptionKey()
	if !ok {
		return plaintext, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(encryptionMagic)+len(nonce)+len(sealed))
	out = append(out, encryptionMagic...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptState decrypts state encrypted by EncryptState. The same key
// that produced the ciphertext must be configured.
func DecryptState(data []byte) ([]byte, error) {
	if !IsEncrypted(data) {
		return data, nil
	}

	key, ok := encryptionKey()
	if !ok {
		return nil, errors.New("state file is encrypted but " + EncryptionKeyEnvVar + " is not set")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	payload := data[len(encryptionMagic):]
	if len(payload) < gcm.NonceSize() {
		return nil, errors.New("encrypted state file is truncated")
	}
	nonce := payload[:gcm.NonceSize()]
	sealed := payload[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plaintext, nil
}

// encryptionKey derives a 32-byte AES key from the configured
// passphrase. Returns false when no passphrase is set.
func encryptionKey() ([]byte, bool) {
	passphrase := os.Getenv(EncryptionKeyEnvVar)
	if passphrase == "" {
		return nil, false
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:], true
}
