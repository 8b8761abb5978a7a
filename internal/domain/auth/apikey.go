package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to the backoffice endpoints.
const ScopeAdmin = "admin"

// ScopeCheckout grants access to the committing checkout endpoints.
const ScopeCheckout = "checkout"

// ErrNotFound is returned when no API key matches the given hash.
var ErrNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type keyInfoKey struct{}

// WithKey stores the authenticated key in ctx.
func WithKey(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyInfoKey{}, info)
}

// KeyFromContext returns the authenticated key, if any.
func KeyFromContext(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(keyInfoKey{}).(*APIKeyInfo)
	return info, ok
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, the form in which
// keys are stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
