package middleware

import (
	"net/http"
	"strings"
)

// Keys holds the configured API keys per tier. Empty tiers disable the
// corresponding check so local development needs no setup.
type Keys struct {
	Public []string
	Admin  []string
}

type keySet map[string]struct{}

func newKeySet(keys []string) keySet {
	s := make(keySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s keySet) contains(k string) bool {
	_, ok := s[k]
	return k != "" && ok
}

func presentedKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[len("bearer "):])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// RequireKey admits requests carrying any configured key, public or admin.
func RequireKey(keys Keys) func(http.Handler) http.Handler {
	public := newKeySet(keys.Public)
	admin := newKeySet(keys.Admin)
	open := len(public) == 0 && len(admin) == 0

	return func(next http.Handler) http.Handler {
		if open {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := presentedKey(r)
			if public.contains(k) || admin.contains(k) {
				next.ServeHTTP(w, r)
				return
			}
			deny(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

// RequireAdmin admits only requests carrying an admin key. Instance
// mutations and alert config writes sit behind this.
func RequireAdmin(keys Keys) func(http.Handler) http.Handler {
	admin := newKeySet(keys.Admin)

	return func(next http.Handler) http.Handler {
		if len(admin) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if admin.contains(presentedKey(r)) {
				next.ServeHTTP(w, r)
				return
			}
			deny(w, http.StatusForbidden, "forbidden")
		})
	}
}
