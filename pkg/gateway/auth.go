package gateway

import (
	"strings"

	"github.com/xiaozhi-go/gateway/pkg/config"
)

// Authenticate implements the AUTH→INIT transition (spec.md §4.8) and the
// recorded decision for spec.md §9's open question on bearer-vs-whitelist
// precedence: a configured bearer token is checked first; a presented token
// that matches grants access regardless of the whitelist, and a presented
// token that does not match fails without consulting the whitelist. When no
// token is presented, the device-id whitelist is checked; if neither
// configured mechanism is satisfied, AUTH fails closed.
func Authenticate(auth config.AuthConfig, bearerHeader, deviceID string) error {
	if auth.BearerToken != "" {
		if token := extractBearer(bearerHeader); token != "" {
			if token == auth.BearerToken {
				return nil
			}
			return ErrUnauthorized
		}
	}

	if len(auth.DeviceWhitelist) > 0 {
		for _, id := range auth.DeviceWhitelist {
			if id == deviceID {
				return nil
			}
		}
		return ErrUnauthorized
	}

	// Neither mechanism configured: fail closed rather than defaulting to
	// open access.
	return ErrUnauthorized
}

func extractBearer(header string) string {
	const prefix = "bearer "
	if len(header) >= len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return header
}
