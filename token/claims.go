// Package token inspects inbound bearer tokens for logging purposes. Nothing
// here authenticates a caller; downstream calls carry the token unchanged.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of token claims the service cares about.
type Claims struct {
	Subject   string
	Issuer    string
	ExpiresAt *time.Time
}

// ClaimsParser turns a raw bearer token into claims.
type ClaimsParser interface {
	Parse(ctx context.Context, raw string) (*Claims, error)
}

var ErrEmptyToken = errors.New("empty token")

// UnverifiedParser decodes the payload segment of a JWT without checking its
// signature.
type UnverifiedParser struct {
	parser *jwt.Parser
}

func NewUnverifiedParser() *UnverifiedParser {
	return &UnverifiedParser{parser: jwt.NewParser()}
}

func (p *UnverifiedParser) Parse(_ context.Context, raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrEmptyToken
	}
	registered := &jwt.RegisteredClaims{}
	if _, _, err := p.parser.ParseUnverified(raw, registered); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	c := &Claims{Subject: registered.Subject, Issuer: registered.Issuer}
	if registered.ExpiresAt != nil {
		exp := registered.ExpiresAt.Time
		c.ExpiresAt = &exp
	}
	return c, nil
}

// BearerToken returns the token from an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
