package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const sessionKeysInfo = hkdfInfoPrefix + "session-keys"

// SessionKeys holds the directional key material for an established
// session. Both sides derive identical keys from identical inputs.
type SessionKeys struct {
	ClientWriteKey []byte
	ServerWriteKey []byte
	ClientWriteIV  []byte
	ServerWriteIV  []byte
	ClientMACKey   []byte
	ServerMACKey   []byte
}

// DeriveSessionKeys expands the master key over the two handshake randoms
// with HKDF-SHA256. The concatenated randoms act as the salt, so the
// derivation is deterministic per handshake and distinct across handshakes.
func DeriveSessionKeys(masterKey string, clientRandom, serverRandom [32]byte) (*SessionKeys, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("%w: empty master key", ErrInvalidKey)
	}

	salt := make([]byte, 0, 64)
	salt = append(salt, clientRandom[:]...)
	salt = append(salt, serverRandom[:]...)

	reader := hkdf.New(sha256.New, []byte(masterKey), salt, []byte(sessionKeysInfo))

	// 16+16 write keys, 32+32 MAC keys, 12+12 IVs.
	block := make([]byte, 120)
	if _, err := io.ReadFull(reader, block); err != nil {
		return nil, fmt.Errorf("crypto: session key expansion: %w", err)
	}

	return &SessionKeys{
		ClientWriteKey: block[0:16],
		ServerWriteKey: block[16:32],
		ClientMACKey:   block[32:64],
		ServerMACKey:   block[64:96],
		ClientWriteIV:  block[96:108],
		ServerWriteIV:  block[108:120],
	}, nil
}

// Zeroize overwrites the key material in place.
func (s *SessionKeys) Zeroize() {
	for _, b := range [][]byte{
		s.ClientWriteKey, s.ServerWriteKey,
		s.ClientMACKey, s.ServerMACKey,
		s.ClientWriteIV, s.ServerWriteIV,
	} {
		for i := range b {
			b[i] = 0
		}
	}
}
