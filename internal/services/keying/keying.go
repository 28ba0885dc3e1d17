// Package keying implements the authenticated encryption used for every
// message body: AES-256-GCM with a fresh random 96-bit IV per call and a
// 128-bit authentication tag. The package is stateless; callers supply
// the key on every call and may use it from any number of goroutines.
package keying

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	KeySize     = 32
	IVSize      = 12
	AuthTagSize = 16
)

// ErrAuthentication is returned when the GCM tag does not verify:
// tampered ciphertext, wrong key, or wrong IV. Callers must surface it,
// never treat it as an empty plaintext.
var ErrAuthentication = errors.New("keying: message authentication failed")

// Envelope is the output of Encrypt. All three parts plus the key id are
// stored together on a message record.
type Envelope struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// Encrypt seals plaintext under a 32-byte key. The IV is generated fresh
// from crypto/rand on every call; reusing an IV with the same key breaks
// both confidentiality and authentication, so no caller-supplied IVs.
func Encrypt(plaintext, key []byte) (Envelope, error) {
	if len(key) != KeySize {
		return Envelope{}, fmt.Errorf("keying: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("keying: iv generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)

	// gcm.Seal appends the tag to the ciphertext; store them separately.
	split := len(sealed) - AuthTagSize
	return Envelope{
		Ciphertext: sealed[:split],
		IV:         iv,
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt opens a sealed message. Any verification failure comes back as
// ErrAuthentication.
func Decrypt(ciphertext, iv, authTag, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("keying: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("keying: iv must be %d bytes, got %d", IVSize, len(iv))
	}
	if len(authTag) != AuthTagSize {
		return nil, ErrAuthentication
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(authTag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, authTag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// GenerateKey returns fresh 32-byte key material.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keying: key generation failed: %w", err)
	}
	return key, nil
}

// DeriveKey stretches a passphrase into a 32-byte key with scrypt.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), []byte(salt), 32768, 8, 1, KeySize)
}
