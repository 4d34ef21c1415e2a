package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"strings"
)

var ErrMissingEncryptionKey = errors.New("missing encryption key")

// Seal encrypts a stored credential (Twitter token secrets) with AES-GCM
// under a key derived from the configured passphrase.
func Seal(encryptionKey string, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(encryptionKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := gcm.Seal(nil, nonce, plaintext, nil)
	// DB blob format: nonce || ciphertext
	return append(nonce, out...), nil
}

func Open(encryptionKey string, blob []byte) ([]byte, error) {
	gcm, err := newGCM(encryptionKey)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	return gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
}

func newGCM(encryptionKey string) (cipher.AEAD, error) {
	encryptionKey = strings.TrimSpace(encryptionKey)
	if encryptionKey == "" {
		return nil, ErrMissingEncryptionKey
	}
	k := sha256.Sum256([]byte(encryptionKey))
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
