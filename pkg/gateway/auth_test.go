package gateway

import (
	"errors"
	"testing"

	"github.com/xiaozhi-go/gateway/pkg/config"
)

func TestAuthenticate_BearerConfigured(t *testing.T) {
	auth := config.AuthConfig{BearerToken: "secret-token"}

	if err := Authenticate(auth, "Bearer secret-token", "any-device"); err != nil {
		t.Fatalf("expected matching bearer to authenticate, got %v", err)
	}
	if err := Authenticate(auth, "bearer secret-token", "any-device"); err != nil {
		t.Fatalf("expected case-insensitive scheme to authenticate, got %v", err)
	}
	if err := Authenticate(auth, "Bearer wrong-token", "any-device"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong bearer, got %v", err)
	}
	if err := Authenticate(auth, "", "any-device"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for missing bearer, got %v", err)
	}
}

func TestAuthenticate_BearerPresentButWrongDoesNotFallThroughToWhitelist(t *testing.T) {
	// SPEC_FULL.md §9 Open Question decision: a configured bearer token that
	// is present but wrong fails closed rather than falling through to the
	// whitelist, even if the device-id would otherwise be allowed.
	auth := config.AuthConfig{
		BearerToken:     "secret-token",
		DeviceWhitelist: []string{"known-device"},
	}
	if err := Authenticate(auth, "Bearer wrong", "known-device"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized despite whitelisted device-id, got %v", err)
	}
}

func TestAuthenticate_WhitelistConfigured(t *testing.T) {
	auth := config.AuthConfig{DeviceWhitelist: []string{"device-a", "device-b"}}

	if err := Authenticate(auth, "", "device-a"); err != nil {
		t.Fatalf("expected whitelisted device to authenticate, got %v", err)
	}
	if err := Authenticate(auth, "", "device-z"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-whitelisted device, got %v", err)
	}
}

func TestAuthenticate_NeitherConfiguredFailsClosed(t *testing.T) {
	if err := Authenticate(config.AuthConfig{}, "", "any-device"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized when no auth mechanism is configured, got %v", err)
	}
}

func TestExtractBearer(t *testing.T) {
	cases := map[string]string{
		"Bearer abc123": "abc123",
		"bearer abc123": "abc123",
		"abc123":        "abc123",
		"":              "",
	}
	for header, want := range cases {
		if got := extractBearer(header); got != want {
			t.Errorf("extractBearer(%q) = %q, want %q", header, got, want)
		}
	}
}
