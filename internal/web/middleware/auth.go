package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/JonMunkholm/membergen/internal/logging"
)

// APIKeyAuth checks the X-API-Key header against keys when required is set.
// Paths listed in open (health probes, metrics scrapes) and CORS preflights
// always pass.
//
// A missing key is 401, a wrong key 403. Both use the JSON error shape the
// API returns elsewhere.
func APIKeyAuth(required bool, keys []string, open ...string) func(http.Handler) http.Handler {
	exempt := make(map[string]bool, len(open))
	for _, p := range open {
		exempt[p] = true
	}

	return func(next http.Handler) http.Handler {
		if !required {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			logger := logging.WithFields(r.Context(),
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				logger.Warn("auth: missing API key")
				writeAuthError(w, http.StatusUnauthorized, "AUTH001", "missing API key",
					"Send an API key in the X-API-Key header.")
				return
			}
			if !isValidAPIKey(apiKey, keys) {
				logger.Warn("auth: invalid API key")
				writeAuthError(w, http.StatusForbidden, "AUTH002", "invalid API key",
					"Check that the API key is one of the configured keys.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, msg, action string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   msg,
		"message": msg,
		"action":  action,
		"code":    code,
	})
}

// isValidAPIKey compares against every key in constant time so the response
// time does not reveal which key (if any) matched.
func isValidAPIKey(key string, validKeys []string) bool {
	valid := 0
	for _, validKey := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
	}
	return valid == 1
}
