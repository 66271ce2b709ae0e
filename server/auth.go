package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/petal-labs/toolpilot/tool"
)

// APIKeyHeader carries api_key credentials.
const APIKeyHeader = "X-API-Key"

var errInvalidCredential = errors.New("invalid credentials")

// AuthConfig lists accepted credentials. An empty list accepts any
// non-empty credential of that kind.
type AuthConfig struct {
	APIKeys      []string
	BearerTokens []string
}

type authenticator struct {
	apiKeys      []string
	bearerTokens []string
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	return &authenticator{
		apiKeys:      nonEmpty(cfg.APIKeys),
		bearerTokens: nonEmpty(cfg.BearerTokens),
	}
}

// authenticate extracts credentials from r. ok is false when none were
// presented. A presented credential that is not accepted returns
// errInvalidCredential.
func (a *authenticator) authenticate(r *http.Request) (auth tool.AuthContext, ok bool, err error) {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		if !accepted(a.apiKeys, key) {
			return tool.AuthContext{}, false, errInvalidCredential
		}
		return tool.AuthContext{Kind: tool.AuthAPIKey, Principal: principal(key)}, true, nil
	}

	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		token = strings.TrimSpace(token)
		if token == "" || !accepted(a.bearerTokens, token) {
			return tool.AuthContext{}, false, errInvalidCredential
		}
		return tool.AuthContext{Kind: tool.AuthOAuth, Principal: principal(token)}, true, nil
	}
	return tool.AuthContext{}, false, nil
}

func (a *authenticator) enforced() bool {
	return len(a.apiKeys) > 0 || len(a.bearerTokens) > 0
}

// requireCredential guards management routes once credentials are configured.
func (s *Server) requireCredential(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth.enforced() {
			if _, ok, err := s.auth.authenticate(r); err != nil || !ok {
				writeError(w, http.StatusUnauthorized, tool.ErrorCodeUnauthorized, "valid credentials required")
				return
			}
		}
		next(w, r)
	}
}

func accepted(allowed []string, presented string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(presented)) == 1 {
			return true
		}
	}
	return false
}

// principal identifies a credential in logs without exposing it.
func principal(credential string) string {
	if len(credential) <= 4 {
		return "****"
	}
	return "****" + credential[len(credential)-4:]
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
