package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// CookieName is the session cookie issued by the login handler.
const CookieName = "authenticated"

// SessionToken derives the cookie value for password.
func SessionToken(password string) string {
	sum := sha256.Sum256([]byte("aimonitor:" + password))
	return hex.EncodeToString(sum[:])
}

// AuthMiddleware lets a request through only if it carries the session cookie.
// An empty password disables authentication.
func AuthMiddleware(password string) func(http.Handler) http.Handler {
	token := SessionToken(password)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" || r.URL.Path == "/auth/login" {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(CookieName)
			if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(token)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
