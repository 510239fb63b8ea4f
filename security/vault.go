package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
)

const (
	// KeySize is the required AES-256 key length in bytes.
	KeySize = 32
	ivSize  = 12
	tagSize = 16
)

// AESGCMVault seals token material with AES-256-GCM. Each call draws a fresh
// 96-bit IV and the 128-bit tag is stored apart from the ciphertext.
type AESGCMVault struct {
	random io.Reader
}

func NewAESGCMVault() *AESGCMVault {
	return &AESGCMVault{random: rand.Reader}
}

func (v *AESGCMVault) Encrypt(plaintext []byte, key []byte) (core.EncryptedValue, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return core.EncryptedValue{}, err
	}
	reader := rand.Reader
	if v != nil && v.random != nil {
		reader = v.random
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(reader, iv); err != nil {
		return core.EncryptedValue{}, fmt.Errorf("security: iv generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - tagSize
	return core.EncryptedValue{
		Ciphertext: append([]byte(nil), sealed[:split]...),
		IV:         iv,
		AuthTag:    append([]byte(nil), sealed[split:]...),
	}, nil
}

// Decrypt opens the value. A wrong key or any tampered field yields an
// integrity error; no partial plaintext is returned.
func (v *AESGCMVault) Decrypt(value core.EncryptedValue, key []byte) ([]byte, error) {
	if len(value.IV) != ivSize || len(value.AuthTag) != tagSize {
		return nil, core.NewIntegrityError()
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(value.Ciphertext)+tagSize)
	sealed = append(sealed, value.Ciphertext...)
	sealed = append(sealed, value.AuthTag...)
	plaintext, err := gcm.Open(nil, value.IV, sealed, nil)
	if err != nil {
		return nil, core.NewIntegrityError()
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, core.NewConfigurationError(fmt.Sprintf("vault key must be %d bytes, got %d", KeySize, len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

var _ core.TokenVault = (*AESGCMVault)(nil)
