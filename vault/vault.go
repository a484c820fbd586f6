// Package vault provides the symmetric cipher used to protect ledger payloads.
//
// Ciphertexts carry their random nonce as a prefix, so encrypting the same
// plaintext twice yields different bytes. Tampering with any byte makes
// Decrypt fail with ErrDecrypt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned when a ciphertext is malformed or fails authentication.
var ErrDecrypt = errors.New("vault: decryption failed")

// KeySize is the length of keys accepted by the ciphers in this package.
const KeySize = 32

// Cipher encrypts and authenticates ledger payloads.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// DeriveKey stretches a passphrase into a KeySize key with Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, KeySize)
}

// AEAD is a Cipher over any cipher.AEAD, with the nonce prepended to the
// sealed output.
type AEAD struct {
	aead cipher.AEAD
}

// NewAESGCM returns an AES-256-GCM cipher keyed with a 32 byte key.
func NewAESGCM(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AEAD{aead: gcm}, nil
}

// NewChaCha20Poly1305 returns an XChaCha20-Poly1305 cipher keyed with a 32
// byte key.
func NewChaCha20Poly1305(key []byte) (*AEAD, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create chacha20poly1305: %w", err)
	}
	return &AEAD{aead: aead}, nil
}

// New builds the named cipher ("aes-gcm" or "chacha20poly1305") from a
// passphrase and salt.
func New(algorithm, passphrase string, salt []byte) (Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("vault: passphrase cannot be empty")
	}
	key := DeriveKey(passphrase, salt)
	switch algorithm {
	case "", "aes-gcm":
		return NewAESGCM(key)
	case "chacha20poly1305":
		return NewChaCha20Poly1305(key)
	default:
		return nil, fmt.Errorf("vault: unknown algorithm %q", algorithm)
	}
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *AEAD) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *AEAD) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
