package control

import (
	"fmt"
)

// SignRequest is a run-mode signing request from a component. The fixed
// protocol fields (v=1, op=SIGN, mode=run, first_run=1) are validated on
// parse and regenerated on encode.
type SignRequest struct {
	Component string
	ID        string // lowercase hex, 16 bytes
	Nonce     string // lowercase hex, 16 bytes
	Sig       string // lowercase hex, 32 bytes
}

var signRequestFields = []string{
	"v", "op", "mode", "first_run", "component",
	"hardware_id", "kernel_id", "capture_id",
	"nonce", "sig",
}

// ParseSignRequest parses and validates a BUILD_SIGN_REQ message. The
// signature is not checked here; call Verify with the component secret.
func ParseSignRequest(raw string) (*SignRequest, error) {
	fields, err := splitFields(raw, signRequestTag)
	if err != nil {
		return nil, err
	}
	m, err := collectFields(fields, signRequestFields)
	if err != nil {
		return nil, err
	}

	for key, want := range map[string]string{
		"v": "1", "op": "SIGN", "mode": "run", "first_run": "1",
	} {
		got, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
		}
		if got != want {
			return nil, fmt.Errorf("%w: %s=%s", ErrBadValue, key, got)
		}
	}

	component, ok := m["component"]
	if !ok {
		return nil, fmt.Errorf("%w: component", ErrMissingField)
	}
	idField, err := idFieldFor(component)
	if err != nil {
		return nil, err
	}
	id, ok := m[idField]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, idField)
	}
	// The id fields of other components must not appear.
	for _, other := range []string{"hardware_id", "kernel_id", "capture_id"} {
		if other == idField {
			continue
		}
		if _, present := m[other]; present {
			return nil, fmt.Errorf("%w: %s with component %s", ErrUnknownField, other, component)
		}
	}

	req := &SignRequest{Component: component}
	if req.ID, err = normalizeHex(idField, id, idHexLen); err != nil {
		return nil, err
	}
	nonce, ok := m["nonce"]
	if !ok {
		return nil, fmt.Errorf("%w: nonce", ErrMissingField)
	}
	if req.Nonce, err = normalizeHex("nonce", nonce, nonceHexLen); err != nil {
		return nil, err
	}
	sig, ok := m["sig"]
	if !ok {
		return nil, fmt.Errorf("%w: sig", ErrMissingField)
	}
	if req.Sig, err = normalizeHex("sig", sig, sigHexLen); err != nil {
		return nil, err
	}
	return req, nil
}

// signingBase is the canonical string the signature covers: every field
// except sig, in fixed order.
func (r *SignRequest) signingBase() (string, error) {
	idField, err := idFieldFor(r.Component)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s;v=1;op=SIGN;mode=run;first_run=1;%s=%s;nonce=%s",
		signRequestTag, idField, r.ID, r.Nonce), nil
}

// Sign computes the request signature with the component secret from the
// keyring and stores it in Sig.
func (r *SignRequest) Sign(keyring Keyring) error {
	secret, ok := keyring.SecretFor(r.Component)
	if !ok {
		return fmt.Errorf("%w: no secret for %s", ErrUnknownComponent, r.Component)
	}
	base, err := r.signingBase()
	if err != nil {
		return err
	}
	r.Sig = hmacHex(secret, base)
	return nil
}

// Verify checks the request signature against the component secret.
func (r *SignRequest) Verify(keyring Keyring) error {
	secret, ok := keyring.SecretFor(r.Component)
	if !ok {
		return fmt.Errorf("%w: no secret for %s", ErrUnknownComponent, r.Component)
	}
	base, err := r.signingBase()
	if err != nil {
		return err
	}
	if !verifyHex(secret, base, r.Sig) {
		return ErrBadSignature
	}
	return nil
}

// Encode renders the request in canonical wire form.
func (r *SignRequest) Encode() (string, error) {
	idField, err := idFieldFor(r.Component)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s;v=1;op=SIGN;mode=run;first_run=1;component=%s;%s=%s;nonce=%s;sig=%s",
		signRequestTag, r.Component, idField, r.ID, r.Nonce, r.Sig), nil
}

// EncodeAck renders the acknowledgement for a verified request.
func (r *SignRequest) EncodeAck() (string, error) {
	idField, err := idFieldFor(r.Component)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s;v=1;component=%s;%s=%s;nonce=%s;sig=%s",
		signResponseTag, r.Component, idField, r.ID, r.Nonce, r.Sig), nil
}
