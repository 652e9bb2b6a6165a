package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerKey contextKey = "caller"

// Caller identifies who made an authenticated request.
type Caller struct {
	// Subject is the JWT subject, or "api-key" for static key callers.
	Subject string
	Claims  *jwt.RegisteredClaims
}

// BearerAuth accepts either the static API key or an HMAC-signed JWT in the
// Authorization header. Requests are refused when neither is configured.
func BearerAuth(apiKey, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" && jwtSecret == "" {
				http.Error(w, "auth not configured", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			if apiKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1 {
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), Caller{Subject: "api-key"})))
				return
			}
			if jwtSecret != "" {
				if claims, ok := parseToken(token, jwtSecret); ok {
					next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), Caller{Subject: claims.Subject, Claims: claims})))
					return
				}
			}
			http.Error(w, "invalid token", http.StatusUnauthorized)
		})
	}
}

func parseToken(tokenString, secret string) (*jwt.RegisteredClaims, bool) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}
	return claims, true
}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the authenticated caller if present.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}
