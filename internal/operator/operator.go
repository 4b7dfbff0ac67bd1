// Package operator authenticates operator requests with a bearer token checked
// against an Argon2id hash and carries the acting operator through the context.
package operator

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/allisson/go-pwdhash"
	"github.com/gin-gonic/gin"

	apperrors "github.com/fieldops/resilience/internal/errors"
	"github.com/fieldops/resilience/internal/httputil"
)

// ActorHeader names the operator performing a change. Defaults to DefaultActor.
const (
	ActorHeader  = "X-Operator"
	DefaultActor = "operator"
)

type actorKey struct{}

// WithActor stores the acting operator in ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the operator stored by WithActor, or "".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// TokenService generates and verifies operator tokens.
type TokenService struct {
	hasher *pwdhash.PasswordHasher
}

// NewTokenService creates a TokenService using the moderate Argon2id policy.
func NewTokenService() *TokenService {
	hasher, err := pwdhash.New(pwdhash.WithPolicy(pwdhash.PolicyModerate))
	if err != nil {
		// only fails on an invalid policy
		panic(err)
	}
	return &TokenService{hasher: hasher}
}

// GenerateToken returns a random 32 byte token and its hash.
func (s *TokenService) GenerateToken() (plainToken, tokenHash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", apperrors.Wrap(err, "failed to generate operator token")
	}
	plainToken = base64.URLEncoding.EncodeToString(randomBytes)

	tokenHash, err = s.hasher.Hash([]byte(plainToken))
	if err != nil {
		return "", "", apperrors.Wrap(err, "failed to hash operator token")
	}
	return plainToken, tokenHash, nil
}

// Verify reports whether plainToken matches tokenHash.
func (s *TokenService) Verify(plainToken, tokenHash string) bool {
	ok, err := s.hasher.Verify([]byte(plainToken), tokenHash)
	if err != nil {
		return false
	}
	return ok
}

// AuthenticationMiddleware rejects requests without a valid "Bearer <token>" header
// and stores the actor from ActorHeader in the request context.
func AuthenticationMiddleware(tokens *TokenService, tokenHash string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		const bearerPrefix = "bearer "
		if tokenHash == "" ||
			len(authHeader) <= len(bearerPrefix) ||
			!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
			logger.Debug("operator authentication failed: missing or malformed authorization header")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		if !tokens.Verify(authHeader[len(bearerPrefix):], tokenHash) {
			logger.Debug("operator authentication failed: invalid token")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			actor = DefaultActor
		}
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))
		c.Next()
	}
}
