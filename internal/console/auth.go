package console

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
)

type ContextKey string

const ActorKey ContextKey = "actor"

// Tokens are short-lived on purpose. An operator session is a handful of
// requests, not a workday.
const tokenTTL = 5 * time.Minute

func (s *Server) makeJWT(username string) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    s.cfg.JWTIssuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	})

	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *Server) validateJWT(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(s.cfg.JWTSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("internal/console: failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", errors.New("internal/console: token is invalid")
	}

	if claims.Subject == "" {
		return "", errors.New("internal/console: subject claim is missing")
	}

	return claims.Subject, nil
}

// checkLogin verifies the operator credentials from config. The caller must
// answer every failure with the same message and status.
func (s *Server) checkLogin(username, password string) bool {
	if s.cfg.AdminPasswordHash == "" {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.AdminUser)) != 1 {
		// Compare against the stored hash even for an unknown username so
		// both failure paths take the same time.
		_, _ = argon2id.ComparePasswordAndHash(password, s.cfg.AdminPasswordHash)
		return false
	}

	match, err := argon2id.ComparePasswordAndHash(password, s.cfg.AdminPasswordHash)
	if err != nil {
		log.Printf("cannot verify password, hash may be corrupted: %v", err)
		return false
	}
	return match
}

// requireAuth validates the bearer token and puts the operator name on the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		actor, err := s.validateJWT(token)
		if err != nil {
			log.Printf("console: %v", err)
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), ActorKey, actor))
		next.ServeHTTP(w, r)
	})
}

// Actor returns the operator name requireAuth stored, or "console" when the
// request never went through it.
func Actor(ctx context.Context) string {
	if actor, ok := ctx.Value(ActorKey).(string); ok && actor != "" {
		return actor
	}
	return "console"
}
