package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsKey contextKey = "apiClaims"

// BearerJWT requires an HS256 bearer token signed with secret. An empty
// secret disables the check: the voice agent listens on loopback by
// default and only needs auth when exposed.
func BearerJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		key := []byte(secret)
		parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, "missing bearer token")
				return
			}
			claims := jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				writeAuthError(w, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header, or the access_token query
// parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):]), true
		}
		return "", false
	}
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return tok, true
	}
	return "", false
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sara"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// ClaimsFromContext returns the verified token claims, if any.
func ClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
