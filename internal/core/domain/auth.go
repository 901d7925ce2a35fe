package domain

import "time"

// TokenClaims represents the JWT token payload
type TokenClaims struct {
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// IsExpired checks if the token has expired
func (c *TokenClaims) IsExpired() bool {
	return c.ExpiresAt > 0 && time.Now().Unix() > c.ExpiresAt
}

// NewTokenClaims creates claims for subject valid for ttl
func NewTokenClaims(subject string, ttl time.Duration) *TokenClaims {
	now := time.Now()
	return &TokenClaims{
		Subject:   subject,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

// AuthContext contains the authenticated caller for request context
type AuthContext struct {
	Subject string `json:"sub"`
}
