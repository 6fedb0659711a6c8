package auth

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when neither JWKS nor a legacy secret is set.
var ErrNotConfigured = errors.New("authentication not configured")

// Authenticator resolves bearer tokens to principals, trying the Zitadel JWKS
// verifier first and the legacy HMAC secret second.
type Authenticator struct {
	verifier     TokenVerifier
	legacySecret string
}

// NewAuthenticator takes an optional verifier and an optional legacy secret.
func NewAuthenticator(verifier TokenVerifier, legacySecret string) *Authenticator {
	return &Authenticator{verifier: verifier, legacySecret: legacySecret}
}

// Configured reports whether any token source is available.
func (a *Authenticator) Configured() bool {
	return a.verifier != nil || a.legacySecret != ""
}

// LegacySecret is the HMAC secret used for legacy tokens.
func (a *Authenticator) LegacySecret() string {
	return a.legacySecret
}

func (a *Authenticator) Authenticate(token string) (Principal, error) {
	if !a.Configured() {
		return Principal{}, ErrNotConfigured
	}
	if a.verifier != nil {
		claims, err := a.verifier.Validate(token)
		if err == nil {
			return claims.Principal(), nil
		}
		if a.legacySecret == "" {
			return Principal{}, err
		}
	}
	claims, err := ValidateLegacyToken(token, a.legacySecret)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims.Principal(), nil
}
