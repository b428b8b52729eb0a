// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package adapters

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
)

// APIKeyHeader is the request header carrying the shared secret.
const APIKeyHeader = "X-API-Key"

// AuthKind classifies why authentication failed. The kind is retained for
// logs; only the human-readable message is surfaced to clients.
type AuthKind string

const (
	// AuthNotConfigured means the server has no secret configured.
	// The gate fails closed: all traffic is rejected.
	AuthNotConfigured AuthKind = "not_configured"

	// AuthMissing means the client omitted the key header.
	AuthMissing AuthKind = "missing"

	// AuthInvalid means the supplied key did not match.
	AuthInvalid AuthKind = "invalid"
)

// AuthError carries the failure kind alongside the client-facing message.
type AuthError struct {
	Kind    AuthKind
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

var (
	// ErrKeyNotConfigured is returned when the server has no API key set.
	ErrKeyNotConfigured = &AuthError{Kind: AuthNotConfigured, Message: "API Key is not configured on server"}

	// ErrKeyMissing is returned when the client omitted the key header.
	ErrKeyMissing = &AuthError{Kind: AuthMissing, Message: "API Key is missing"}

	// ErrKeyInvalid is returned when the supplied key does not match.
	ErrKeyInvalid = &AuthError{Kind: AuthInvalid, Message: "Invalid API Key"}
)

// Authenticator defines the interface for pluggable authentication.
type Authenticator interface {
	// AuthenticateHTTP authenticates an HTTP request.
	// Returns an *AuthError describing the failure kind on rejection.
	AuthenticateHTTP(ctx context.Context, req *http.Request) error
}

// KeyAuthenticator validates the X-API-Key header against a shared secret
// using a constant-time byte comparison.
type KeyAuthenticator struct {
	secret []byte
}

// NewKeyAuthenticator creates an authenticator for the given shared secret.
// An empty secret produces a gate that rejects all traffic.
func NewKeyAuthenticator(secret string) *KeyAuthenticator {
	return &KeyAuthenticator{secret: []byte(secret)}
}

// CheckKey validates a client-supplied key value.
func (a *KeyAuthenticator) CheckKey(provided string) error {
	if len(a.secret) == 0 {
		return ErrKeyNotConfigured
	}
	if provided == "" {
		return ErrKeyMissing
	}
	if subtle.ConstantTimeCompare([]byte(provided), a.secret) != 1 {
		return ErrKeyInvalid
	}
	return nil
}

// AuthenticateHTTP validates the X-API-Key header of the request.
func (a *KeyAuthenticator) AuthenticateHTTP(ctx context.Context, req *http.Request) error {
	return a.CheckKey(req.Header.Get(APIKeyHeader))
}

// AsAuthError extracts the *AuthError from err, if any.
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// NoOpAuthenticator allows all requests. Useful for tests.
type NoOpAuthenticator struct{}

// NewNoOpAuthenticator creates a new no-op authenticator.
func NewNoOpAuthenticator() *NoOpAuthenticator {
	return &NoOpAuthenticator{}
}

// AuthenticateHTTP allows all HTTP requests.
func (a *NoOpAuthenticator) AuthenticateHTTP(ctx context.Context, req *http.Request) error {
	return nil
}
