// Package authmw guards the triage API with static bearer tokens.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const scheme = "Bearer "

// BearerTokens returns middleware that admits requests carrying any of the
// given tokens. Several tokens may be active at once while one is being
// rotated out. Blank entries are dropped, and every candidate is compared
// in constant time whichever one matches.
func BearerTokens(tokens ...string) func(http.Handler) http.Handler {
	accepted := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			accepted = append(accepted, []byte(t))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), scheme)
			if !ok {
				deny(w, "missing or malformed authorization header")
				return
			}
			if !matchAny(accepted, []byte(presented)) {
				deny(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func matchAny(accepted [][]byte, presented []byte) bool {
	hit := 0
	for _, a := range accepted {
		hit |= subtle.ConstantTimeCompare(presented, a)
	}
	return hit == 1
}

func deny(w http.ResponseWriter, reason string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="arovia"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + reason + `"}`))
}
