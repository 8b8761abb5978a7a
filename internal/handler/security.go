package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/sos-pricing/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates committing and admin requests via
// HMAC-SHA256 hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Require wraps next so that it only runs for requests carrying a known key
// that grants scope. The key is stored in the request context.
func (s *SecurityHandler) Require(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		info, ok := s.authenticate(r, key)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !info.HasScope(scope) {
			zctx.From(r.Context()).Warn("API key lacks scope",
				zap.String("key_id", info.ID),
				zap.String("scope", scope),
			)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), info)))
	})
}

func (s *SecurityHandler) authenticate(r *http.Request, key string) (*auth.APIKeyInfo, bool) {
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		return nil, false
	}

	// The stored row may not be the one we asked for if the repository
	// misbehaves, so compare the hashes too.
	hash, err := hex.DecodeString(hexHash)
	if err != nil {
		return nil, false
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, false
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, false
	}
	return info, true
}

// apiKey reads the key from the api_key header, falling back to a bearer
// token.
func apiKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
