package middleware

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cesarh1094/chotion/internal/access"
	"github.com/cesarh1094/chotion/pkg/logger"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity returns the caller resolved by OptionalAuth/Auth, or nil for an
// anonymous request.
func Identity(r *http.Request) *access.Identity {
	id, _ := r.Context().Value(identityKey).(*access.Identity)
	return id
}

// OptionalAuth resolves the caller's identity when a token is present and
// valid, and proceeds anonymously otherwise. Read paths use it so a
// not-yet-authenticated rendering pass still gets a (neutral) response.
func OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := resolveIdentity(r); id != nil {
			r = r.WithContext(context.WithValue(r.Context(), identityKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

// Auth requires a valid token; mutation paths use it.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := resolveIdentity(r)
		if id == nil {
			http.Error(w, "Unauthorized: No valid token provided", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func resolveIdentity(r *http.Request) *access.Identity {
	// For WebSockets, tokens are often passed in the query string
	// because the browser's WebSocket API doesn't support custom headers.
	tokenString := r.URL.Query().Get("token")

	// Fallback to Header if you're testing via Postman/CURL
	if tokenString == "" {
		authHeader := r.Header.Get("Authorization")
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if tokenString == "" {
		return nil
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		jwtSecret := os.Getenv("JWT_SECRET")
		if jwtSecret == "" {
			logger.Sugar.Error("JWT_SECRET environment variable not set")
			return nil, fmt.Errorf("server is not configured to validate JWTs")
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		logger.Sugar.Debugf("Invalid token: %v", err)
		return nil
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return nil
	}

	id := &access.Identity{UserID: userID}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	if image, ok := claims["picture"].(string); ok {
		id.Image = image
	}
	return id
}
