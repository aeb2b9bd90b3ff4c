package middleware

import (
	"net/http"
)

// AuthConfig holds write-protection configuration: a set of valid API keys
// checked via X-API-KEY on mutating requests.
type AuthConfig struct {
	keys    map[string]struct{}
	enabled bool
}

// NewAuthConfigWithKeys creates an AuthConfig from a key list. An empty or
// nil list disables write protection entirely.
func NewAuthConfigWithKeys(keys []string) AuthConfig {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return AuthConfig{keys: set, enabled: len(set) > 0}
}

// Enabled returns true if write protection is active.
func (c AuthConfig) Enabled() bool { return c.enabled }

func (c AuthConfig) valid(key string) bool {
	_, ok := c.keys[key]
	return ok
}

// WriteProtect returns middleware that requires a valid X-API-KEY header on
// mutating methods (POST, PUT, PATCH, DELETE). GET, HEAD, and OPTIONS
// always pass through, as do all methods when the config is disabled.
func WriteProtect(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.enabled || !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-KEY")
			if apiKey == "" || !config.valid(apiKey) {
				WriteError(w, r, NewAuthenticationError("missing or invalid X-API-KEY header"), nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
