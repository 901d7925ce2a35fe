package driven

import "github.com/custodia-labs/sercha-chat/internal/core/domain"

// AuthAdapter signs and verifies bearer tokens for the HTTP boundary.
type AuthAdapter interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}
