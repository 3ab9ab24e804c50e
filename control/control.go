// Package control implements the ASCII key=value control wire format used
// for sign and bundle exchanges with the embedding environment. Messages
// are a tag followed by semicolon-separated k=v fields. Parsing is strict:
// unknown fields, duplicate keys, whitespace, non-ASCII bytes, and
// malformed numeric or hex values are all rejected.
package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformed        = errors.New("control: malformed message")
	ErrUnknownField     = errors.New("control: unknown field")
	ErrDuplicateField   = errors.New("control: duplicate field")
	ErrMissingField     = errors.New("control: missing field")
	ErrBadValue         = errors.New("control: bad field value")
	ErrUnknownComponent = errors.New("control: unknown component")
	ErrBadSignature     = errors.New("control: signature mismatch")
)

const (
	signRequestTag   = "BUILD_SIGN_REQ"
	signResponseTag  = "BUILD_SIGN_OK"
	bundleRequestTag = "BUNDLE_REQ"

	idHexLen    = 32 // 16 bytes
	nonceHexLen = 32 // 16 bytes
	sigHexLen   = 64 // 32 bytes
)

// Keyring resolves the signing secret for a component. Returns false when
// the component has no provisioned secret.
type Keyring interface {
	SecretFor(component string) ([]byte, bool)
}

// StaticKeyring is a fixed component-to-secret map.
type StaticKeyring map[string][]byte

func (k StaticKeyring) SecretFor(component string) ([]byte, bool) {
	secret, ok := k[component]
	return secret, ok
}

// idFieldFor maps a component name to the id field its messages carry.
func idFieldFor(component string) (string, error) {
	switch component {
	case "hardware":
		return "hardware_id", nil
	case "kernel":
		return "kernel_id", nil
	case "capture_module":
		return "capture_id", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownComponent, component)
	}
}

// splitFields validates framing and returns the raw k=v fields after the
// tag. The whole message must be ASCII with no whitespace bytes.
func splitFields(raw, tag string) ([][2]string, error) {
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b > 0x7f {
			return nil, fmt.Errorf("%w: non-ascii byte at offset %d", ErrMalformed, i)
		}
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			return nil, fmt.Errorf("%w: whitespace at offset %d", ErrMalformed, i)
		}
	}
	rest, ok := strings.CutPrefix(raw, tag+";")
	if !ok {
		return nil, fmt.Errorf("%w: expected %s tag", ErrMalformed, tag)
	}
	parts := strings.Split(rest, ";")
	fields := make([][2]string, 0, len(parts))
	for _, part := range parts {
		key, value, found := strings.Cut(part, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("%w: field %q", ErrMalformed, part)
		}
		if value == "" {
			return nil, fmt.Errorf("%w: empty %s", ErrBadValue, key)
		}
		fields = append(fields, [2]string{key, value})
	}
	return fields, nil
}

// collectFields indexes parsed fields against an allowed set, rejecting
// unknown and duplicate keys.
func collectFields(fields [][2]string, allowed []string) (map[string]string, error) {
	allowedSet := make(map[string]bool, len(allowed))
	for _, key := range allowed {
		allowedSet[key] = true
	}
	out := make(map[string]string, len(fields))
	for _, field := range fields {
		key, value := field[0], field[1]
		if !allowedSet[key] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateField, key)
		}
		out[key] = value
	}
	return out, nil
}

// normalizeHex checks an exact-length hex field and lowercases it.
func normalizeHex(key, value string, hexLen int) (string, error) {
	if len(value) != hexLen {
		return "", fmt.Errorf("%w: %s length %d, want %d", ErrBadValue, key, len(value), hexLen)
	}
	if _, err := hex.DecodeString(value); err != nil {
		return "", fmt.Errorf("%w: %s is not hex", ErrBadValue, key)
	}
	return strings.ToLower(value), nil
}

func parseUintField(key, value string) (uint64, error) {
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", ErrBadValue, key)
	}
	return n, nil
}

func hmacHex(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHex(secret []byte, message, sig string) bool {
	return hmac.Equal([]byte(hmacHex(secret, message)), []byte(strings.ToLower(sig)))
}
