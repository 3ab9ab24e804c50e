// Package crypto implements the key derivation and AEAD primitives of the
// bus: context-bound keys derived from the master secret, the master-keyed
// AEAD used by the record layer, session key expansion, ephemeral key
// management and key rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey    = errors.New("crypto: invalid key material")
	ErrInvalidToken  = errors.New("crypto: malformed token")
	ErrDecryptFailed = errors.New("crypto: decryption failed")
)

const (
	hkdfSaltLabel   = "hkdf_salt_v1"
	hkdfInfoPrefix  = "securebus/v1:"
	masterAEADLabel = "securebus-aead-v1"

	gcmNonceSize = 12
	gcmTagSize   = 16
)

// CryptoKey is an AES-256-GCM key derived from the master secret and a
// context label. Different contexts yield independent keys.
type CryptoKey struct {
	aead    cipher.AEAD
	context string
}

// NewCryptoKey derives a context-bound key via HKDF-SHA256. The salt is the
// first 16 bytes of SHA-256(context || "hkdf_salt_v1"), the info string is
// "securebus/v1:" followed by the context.
func NewCryptoKey(masterKey, context string) (*CryptoKey, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("%w: empty master key", ErrInvalidKey)
	}
	if len(context) == 0 {
		return nil, fmt.Errorf("%w: empty context", ErrInvalidKey)
	}

	saltFull := sha256.Sum256([]byte(context + hkdfSaltLabel))
	reader := hkdf.New(sha256.New, []byte(masterKey), saltFull[:16], []byte(hkdfInfoPrefix+context))

	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand: %w", err)
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &CryptoKey{aead: aead, context: context}, nil
}

// Context returns the label the key was derived for.
func (k *CryptoKey) Context() string {
	return k.context
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64url (no padding) of nonce || ciphertext || tag.
func (k *CryptoKey) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce generation: %w", err)
	}
	sealed := k.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformation or authentication failure
// yields ErrInvalidToken or ErrDecryptFailed.
func (k *CryptoKey) Decrypt(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(raw) < gcmNonceSize+gcmTagSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidToken, len(raw))
	}
	nonce, ct := raw[:gcmNonceSize], raw[gcmNonceSize:]
	plaintext, err := k.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptWithMaster seals plaintext under the record-layer AEAD. The key is
// HMAC-SHA256(masterKey, "securebus-aead-v1") and the wire form is raw
// nonce || ciphertext || tag bytes.
func EncryptWithMaster(masterKey string, plaintext []byte) ([]byte, error) {
	aead, err := masterAEAD(masterKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce generation: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptWithMaster reverses EncryptWithMaster.
func DecryptWithMaster(masterKey string, sealed []byte) ([]byte, error) {
	aead, err := masterAEAD(masterKey)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcmNonceSize+gcmTagSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidToken, len(sealed))
	}
	nonce, ct := sealed[:gcmNonceSize], sealed[gcmNonceSize:]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

func masterAEAD(masterKey string) (cipher.AEAD, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("%w: empty master key", ErrInvalidKey)
	}
	mac := hmac.New(sha256.New, []byte(masterKey))
	mac.Write([]byte(masterAEADLabel))
	return newGCM(mac.Sum(nil))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}
