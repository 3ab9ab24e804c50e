package control

import (
	"fmt"
	"strings"
)

// BundleRequest carries a signed routing bundle: a session ticket plus the
// routes it is valid for and its lifetime bookkeeping.
type BundleRequest struct {
	Ticket      string
	Routes      []string
	ExpiresAtMS uint64
	Generation  uint64
	EpochMS     uint64
	Sig         string // lowercase hex, 32 bytes
}

var bundleFields = []string{
	"ticket", "routes", "expires_at_ms", "generation", "epoch_ms", "sig",
}

// ParseBundleRequest parses and validates a BUNDLE_REQ message. All six
// fields are required. The signature is checked separately via Verify.
func ParseBundleRequest(raw string) (*BundleRequest, error) {
	fields, err := splitFields(raw, bundleRequestTag)
	if err != nil {
		return nil, err
	}
	m, err := collectFields(fields, bundleFields)
	if err != nil {
		return nil, err
	}
	for _, key := range bundleFields {
		if _, ok := m[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
		}
	}

	req := &BundleRequest{Ticket: m["ticket"]}
	if req.ExpiresAtMS, err = parseUintField("expires_at_ms", m["expires_at_ms"]); err != nil {
		return nil, err
	}
	if req.ExpiresAtMS == 0 {
		return nil, fmt.Errorf("%w: expires_at_ms is zero", ErrBadValue)
	}
	if req.Generation, err = parseUintField("generation", m["generation"]); err != nil {
		return nil, err
	}
	if req.EpochMS, err = parseUintField("epoch_ms", m["epoch_ms"]); err != nil {
		return nil, err
	}
	if req.Sig, err = normalizeHex("sig", m["sig"], sigHexLen); err != nil {
		return nil, err
	}

	for _, route := range strings.Split(m["routes"], ",") {
		if route == "" {
			return nil, fmt.Errorf("%w: empty route", ErrBadValue)
		}
		req.Routes = append(req.Routes, route)
	}
	return req, nil
}

// signingBase covers every field except sig, in wire order.
func (b *BundleRequest) signingBase(component string) string {
	return fmt.Sprintf("%s;component=%s;ticket=%s;routes=%s;expires_at_ms=%d;generation=%d;epoch_ms=%d",
		bundleRequestTag, component, b.Ticket, strings.Join(b.Routes, ","),
		b.ExpiresAtMS, b.Generation, b.EpochMS)
}

// Sign computes the bundle signature for the named component.
func (b *BundleRequest) Sign(keyring Keyring, component string) error {
	secret, ok := keyring.SecretFor(component)
	if !ok {
		return fmt.Errorf("%w: no secret for %s", ErrUnknownComponent, component)
	}
	b.Sig = hmacHex(secret, b.signingBase(component))
	return nil
}

// Verify checks the bundle signature for the named component.
func (b *BundleRequest) Verify(keyring Keyring, component string) error {
	secret, ok := keyring.SecretFor(component)
	if !ok {
		return fmt.Errorf("%w: no secret for %s", ErrUnknownComponent, component)
	}
	if !verifyHex(secret, b.signingBase(component), b.Sig) {
		return ErrBadSignature
	}
	return nil
}

// Encode renders the bundle in canonical wire form.
func (b *BundleRequest) Encode() string {
	return fmt.Sprintf("%s;ticket=%s;routes=%s;expires_at_ms=%d;generation=%d;epoch_ms=%d;sig=%s",
		bundleRequestTag, b.Ticket, strings.Join(b.Routes, ","),
		b.ExpiresAtMS, b.Generation, b.EpochMS, b.Sig)
}

// ExpiredAt reports whether the bundle is past its expiry at the given
// wall time in milliseconds.
func (b *BundleRequest) ExpiredAt(nowMS uint64) bool {
	return nowMS >= b.ExpiresAtMS
}
