package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Auth returns a middleware enforcing JWT bearer authentication with the
// given HMAC secret. An empty secret disables authentication (dev mode);
// the router logs a warning in that case.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"message": "Token is missing!",
					"error":   "Missing Authorization header or Bearer token",
				})
				return
			}

			_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(secret), nil
			})
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					writeJSON(w, http.StatusUnauthorized, map[string]string{
						"message": "Token is expired!",
					})
					return
				}
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"message": "Token is invalid!",
					"error":   err.Error(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
