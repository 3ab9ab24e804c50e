package config

import (
	"testing"
)

func TestNormalizeHex(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"deadBEEF", "deadbeef", false},
		{"  AB12  ", "ab12", false},
		{"", "", true},
		{"abc", "", true},    // odd length
		{"zz11", "", true},   // non-hex
		{"12 34", "", true},  // inner whitespace
		{"0x1234", "", true}, // prefix not allowed
	}

	for _, tc := range cases {
		got, err := NormalizeHex(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeHex(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeHex(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeHex(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateRequiresMasterKey(t *testing.T) {
	cfg := &Config{MasterKey: ""}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate accepted empty master key")
	}

	cfg.MasterKey = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate accepted a 5-byte master key")
	}

	cfg.MasterKey = "a-sufficiently-long-master-key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate rejected a valid config: %v", err)
	}
}

func TestValidateBootTokenOnlyInEmbedded(t *testing.T) {
	cfg := &Config{MasterKey: "a-sufficiently-long-master-key", Embedded: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate accepted embedded mode without boot token")
	}
	cfg.BootToken = "boot-token"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate rejected embedded config with boot token: %v", err)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("SECUREBUS_TEST_KEY", "value")
	if got := GetEnvOrDefault("SECUREBUS_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("GetEnvOrDefault = %q, want %q", got, "value")
	}
	if got := GetEnvOrDefault("SECUREBUS_UNSET_KEY", "fallback"); got != "fallback" {
		t.Errorf("GetEnvOrDefault = %q, want %q", got, "fallback")
	}
}
