package control

import (
	"errors"
	"strings"
	"testing"
)

var testKeyring = StaticKeyring{
	"hardware":       []byte("hardware-secret-0123456789abcdef"),
	"kernel":         []byte("kernel-secret-0123456789abcdefab"),
	"capture_module": []byte("capture-secret-0123456789abcdefa"),
}

const (
	testID    = "0011223344556677" + "8899aabbccddeeff"
	testNonce = "ffeeddccbbaa9988" + "7766554433221100"
)

func signedRequest(t *testing.T, component string) (*SignRequest, string) {
	t.Helper()
	req := &SignRequest{Component: component, ID: testID, Nonce: testNonce}
	if err := req.Sign(testKeyring); err != nil {
		t.Fatalf("sign: %v", err)
	}
	wire, err := req.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return req, wire
}

func TestSignRequestRoundTrip(t *testing.T) {
	want, wire := signedRequest(t, "hardware")

	got, err := ParseSignRequest(wire)
	if err != nil {
		t.Fatalf("parse %q: %v", wire, err)
	}
	if got.Component != want.Component || got.ID != want.ID || got.Nonce != want.Nonce || got.Sig != want.Sig {
		t.Fatalf("parsed %+v, want %+v", got, want)
	}
	if err := got.Verify(testKeyring); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSignRequestPerComponentIDField(t *testing.T) {
	for component, idField := range map[string]string{
		"hardware":       "hardware_id",
		"kernel":         "kernel_id",
		"capture_module": "capture_id",
	} {
		_, wire := signedRequest(t, component)
		if !strings.Contains(wire, ";"+idField+"="+testID) {
			t.Errorf("%s wire %q missing %s", component, wire, idField)
		}
	}
}

func TestSignRequestHexNormalizedToLower(t *testing.T) {
	_, wire := signedRequest(t, "kernel")
	upper := strings.Replace(wire, "nonce="+testNonce, "nonce="+strings.ToUpper(testNonce), 1)

	got, err := ParseSignRequest(upper)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Nonce != testNonce {
		t.Fatalf("nonce = %q, want lowercased %q", got.Nonce, testNonce)
	}
	if err := got.Verify(testKeyring); err != nil {
		t.Fatalf("verify after case normalization: %v", err)
	}
}

func TestSignRequestStrictFraming(t *testing.T) {
	_, wire := signedRequest(t, "hardware")

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"wrong tag", strings.Replace(wire, "BUILD_SIGN_REQ;", "SIGN_REQ;", 1), ErrMalformed},
		{"whitespace", strings.Replace(wire, ";op=", "; op=", 1), ErrMalformed},
		{"non-ascii", wire + "\xc3\xa9", ErrMalformed},
		{"unknown field", wire + ";extra=1", ErrUnknownField},
		{"duplicate field", wire + ";nonce=" + testNonce, ErrDuplicateField},
		{"foreign id field", wire + ";kernel_id=" + testID, ErrUnknownField},
		{"empty value", strings.Replace(wire, "mode=run", "mode=", 1), ErrBadValue},
		{"bad version", strings.Replace(wire, "v=1", "v=2", 1), ErrBadValue},
		{"bad op", strings.Replace(wire, "op=SIGN", "op=VERIFY", 1), ErrBadValue},
		{"short nonce", strings.Replace(wire, "nonce="+testNonce, "nonce=abcd", 1), ErrBadValue},
		{"non-hex id", strings.Replace(wire, "hardware_id="+testID, "hardware_id="+strings.Repeat("zz", 16), 1), ErrBadValue},
		{"bad component", strings.Replace(wire, "component=hardware", "component=intruder", 1), ErrUnknownComponent},
	}
	for _, tc := range cases {
		if _, err := ParseSignRequest(tc.raw); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestSignRequestMissingFields(t *testing.T) {
	for _, raw := range []string{
		"BUILD_SIGN_REQ;v=1;op=SIGN;mode=run;first_run=1;component=hardware;nonce=" + testNonce + ";sig=" + strings.Repeat("ab", 32),
		"BUILD_SIGN_REQ;v=1;op=SIGN;mode=run;first_run=1;hardware_id=" + testID + ";nonce=" + testNonce,
	} {
		if _, err := ParseSignRequest(raw); !errors.Is(err, ErrMissingField) {
			t.Errorf("parse %q: err = %v, want ErrMissingField", raw, err)
		}
	}
}

func TestSignRequestForgedSignature(t *testing.T) {
	req, _ := signedRequest(t, "capture_module")
	req.Sig = strings.Repeat("00", 32)
	if err := req.Verify(testKeyring); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("forged sig: err = %v, want ErrBadSignature", err)
	}

	req2, _ := signedRequest(t, "hardware")
	req2.Component = "kernel"
	if err := req2.Verify(testKeyring); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("cross-component sig: err = %v, want ErrBadSignature", err)
	}
}

func TestSignRequestAck(t *testing.T) {
	req, _ := signedRequest(t, "hardware")
	ack, err := req.EncodeAck()
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !strings.HasPrefix(ack, "BUILD_SIGN_OK;v=1;component=hardware;hardware_id="+testID) {
		t.Fatalf("ack = %q", ack)
	}
}

func TestBundleRoundTrip(t *testing.T) {
	want := &BundleRequest{
		Ticket:      "tkt-7f2a",
		Routes:      []string{"kernel", "device", "power"},
		ExpiresAtMS: 1_700_000_600_000,
		Generation:  3,
		EpochMS:     1_700_000_000_000,
	}
	if err := want.Sign(testKeyring, "kernel"); err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := ParseBundleRequest(want.Encode())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Ticket != want.Ticket || got.ExpiresAtMS != want.ExpiresAtMS ||
		got.Generation != want.Generation || got.EpochMS != want.EpochMS {
		t.Fatalf("parsed %+v, want %+v", got, want)
	}
	if len(got.Routes) != 3 || got.Routes[0] != "kernel" || got.Routes[2] != "power" {
		t.Fatalf("routes = %v", got.Routes)
	}
	if err := got.Verify(testKeyring, "kernel"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := got.Verify(testKeyring, "hardware"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong component verify: %v", err)
	}
}

func TestBundleValidation(t *testing.T) {
	valid := &BundleRequest{
		Ticket:      "tkt",
		Routes:      []string{"kernel"},
		ExpiresAtMS: 5000,
		Generation:  1,
		EpochMS:     1000,
	}
	if err := valid.Sign(testKeyring, "hardware"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	wire := valid.Encode()

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"missing field", "BUNDLE_REQ;ticket=tkt;routes=kernel;expires_at_ms=5000;generation=1;sig=" + valid.Sig, ErrMissingField},
		{"zero expiry", strings.Replace(wire, "expires_at_ms=5000", "expires_at_ms=0", 1), ErrBadValue},
		{"bad number", strings.Replace(wire, "generation=1", "generation=one", 1), ErrBadValue},
		{"negative number", strings.Replace(wire, "generation=1", "generation=-1", 1), ErrBadValue},
		{"empty route", strings.Replace(wire, "routes=kernel", "routes=kernel,", 1), ErrBadValue},
		{"odd sig", strings.Replace(wire, "sig="+valid.Sig, "sig="+valid.Sig[:63], 1), ErrBadValue},
	}
	for _, tc := range cases {
		if _, err := ParseBundleRequest(tc.raw); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestBundleExpiry(t *testing.T) {
	b := &BundleRequest{ExpiresAtMS: 5000}
	if b.ExpiredAt(4999) {
		t.Fatal("expired before expiry instant")
	}
	if !b.ExpiredAt(5000) {
		t.Fatal("not expired at expiry instant")
	}
}
