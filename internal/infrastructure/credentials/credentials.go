// Package credentials resolves the bearer token sent to the workflow API.
package credentials

import (
	"context"
	"os"
	"strings"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/ports"
)

// Static always returns the same token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Env reads the token from an environment variable, falling back to
// FLOWCARD_API_TOKEN when the configured variable is unset.
type Env struct {
	Var string
}

func (e Env) Token(context.Context) (string, error) {
	return strings.TrimSpace(getEnv(e.Var, domain.DefaultTokenEnvVar)), nil
}

// Chain returns the first non-empty token.
type Chain []ports.CredentialSource

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, src := range c {
		token, err := src.Token(ctx)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
	return "", nil
}

type tokenKey struct{}

// WithToken attaches a request-scoped token that takes precedence over any
// configured source.
func WithToken(ctx context.Context, token string) context.Context {
	if token = strings.TrimSpace(token); token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// FromContext returns the token attached by WithToken.
func FromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Describe names where a token would come from, for diagnostics.
func (e Env) Describe() string {
	if e.Var != "" && e.Var != domain.DefaultTokenEnvVar {
		return e.Var + " or " + domain.DefaultTokenEnvVar
	}
	return domain.DefaultTokenEnvVar
}

func getEnv(primary, fallback string) string {
	if primary != "" {
		if value := os.Getenv(primary); value != "" {
			return value
		}
	}
	if fallback != "" {
		return os.Getenv(fallback)
	}
	return ""
}

var (
	_ ports.CredentialSource = Static("")
	_ ports.CredentialSource = Env{}
	_ ports.CredentialSource = Chain(nil)
)
