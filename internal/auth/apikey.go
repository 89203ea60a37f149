// Package auth authenticates API callers by bearer token.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wabdesk/wabdesk/internal/models"
)

const (
	// TokenPrefix is the prefix for all WABDesk API tokens.
	TokenPrefix = "wab_"
	// TokenLength is the expected length of the hex portion of a token.
	TokenLength = 64 // 32 bytes = 64 hex chars
)

// ErrInvalidToken is returned when a bearer token is malformed, unknown or revoked.
var ErrInvalidToken = errors.New("invalid api token")

// TokenStore defines the lookup operations the validator needs.
type TokenStore interface {
	GetAPITokenByHash(ctx context.Context, hash string) (*models.APIToken, error)
	TouchAPIToken(ctx context.Context, id uuid.UUID) error
}

// TokenValidator resolves bearer tokens to actors.
type TokenValidator struct {
	store  TokenStore
	logger zerolog.Logger
}

// NewTokenValidator creates a new token validator.
func NewTokenValidator(store TokenStore, logger zerolog.Logger) *TokenValidator {
	return &TokenValidator{
		store:  store,
		logger: logger.With().Str("component", "token_validator").Logger(),
	}
}

// Authenticate validates a token and returns the actor it represents.
func (v *TokenValidator) Authenticate(ctx context.Context, token string) (models.Actor, error) {
	if !IsValidTokenFormat(token) {
		v.logger.Debug().Msg("invalid API token format")
		return models.Actor{}, ErrInvalidToken
	}

	record, err := v.store.GetAPITokenByHash(ctx, HashToken(token))
	if err != nil {
		v.logger.Debug().Err(err).Msg("API token not found")
		return models.Actor{}, ErrInvalidToken
	}
	if record.IsRevoked() || !record.Role.IsValid() {
		v.logger.Debug().Str("token_id", record.ID.String()).Msg("API token rejected")
		return models.Actor{}, ErrInvalidToken
	}

	if err := v.store.TouchAPIToken(ctx, record.ID); err != nil {
		v.logger.Warn().Err(err).Str("token_id", record.ID.String()).Msg("failed to record token use")
	}

	return record.Actor(), nil
}

// GenerateToken returns a new random token and its storage hash.
func GenerateToken() (token, hash string, err error) {
	buf := make([]byte, TokenLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate api token: %w", err)
	}
	token = TokenPrefix + hex.EncodeToString(buf)
	return token, HashToken(token), nil
}

// IsValidTokenFormat checks if the token has the correct format.
func IsValidTokenFormat(token string) bool {
	if !strings.HasPrefix(token, TokenPrefix) {
		return false
	}
	hexPart := strings.TrimPrefix(token, TokenPrefix)
	if len(hexPart) != TokenLength {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// HashToken creates a SHA-256 hash of a token for storage/comparison.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// CompareTokenHash compares a token with a stored hash using constant-time comparison.
func CompareTokenHash(token, storedHash string) bool {
	computedHash := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computedHash), []byte(storedHash)) == 1
}

// ExtractBearerToken extracts the token from an Authorization header value.
// Returns empty string if the header is not a valid Bearer token.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
