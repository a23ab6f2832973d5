// Package auth builds execution contexts from bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

type claimsKey struct{}

// Config selects how tokens are verified.
type Config struct {
	Secret []byte
	// Required rejects requests without a token.
	Required bool
	// Issuer, when set, must match the iss claim.
	Issuer string
}

// ContextFunc returns a context builder that verifies the HS256 token in
// the Authorization header and stores its claims on the request context.
func ContextFunc(cfg Config) options.ContextFn {
	parser := jwt.NewParser(parserOptions(cfg)...)

	return func(r *http.Request) (context.Context, error) {
		raw, ok := bearerToken(r)
		if !ok {
			if cfg.Required {
				return nil, ErrMissingToken
			}
			return r.Context(), nil
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return cfg.Secret, nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}

		return WithClaims(r.Context(), claims), nil
	}
}

func parserOptions(cfg Config) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return opts
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims stores verified claims on ctx.
func WithClaims(ctx context.Context, claims jwt.MapClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the claims stored by ContextFunc.
func ClaimsFrom(ctx context.Context) (jwt.MapClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsKey{}).(jwt.MapClaims)
	return claims, ok
}

// Subject returns the sub claim, empty for anonymous requests.
func Subject(ctx context.Context) string {
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// Sign issues an HS256 token accepted by ContextFunc.
func Sign(secret []byte, claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
