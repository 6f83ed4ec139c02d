// Package credentials defines the narrow interfaces through which the core
// reaches credential and secret backends. Refresh and storage are the
// backend's responsibility; the engine only resolves.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// TokenBundle is what a connector action needs to authenticate.
type TokenBundle struct {
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	Extras       map[string]interface{} `json:"extras,omitempty"`
}

// Provider resolves (connector slug, user id) to a token bundle.
type Provider interface {
	Get(ctx context.Context, connectorSlug, userID string) (*TokenBundle, error)
}

// SecretStore fetches a named secret.
type SecretStore interface {
	Get(ctx context.Context, key, env, path string) (string, error)
}

// EnvSecretStore reads secrets from the process environment. Key lookup is
// "<ENV>_<PATH>_<KEY>" upper-cased with non-alphanumerics folded to
// underscores; empty env/path segments are dropped.
type EnvSecretStore struct{}

func (EnvSecretStore) Get(_ context.Context, key, env, path string) (string, error) {
	parts := make([]string, 0, 3)
	for _, p := range []string{env, path, key} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	name := strings.ToUpper(strings.Join(parts, "_"))
	name = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)

	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("secret not found: %s", name)
	}
	return value, nil
}

// StaticProvider serves token bundles from a fixed map keyed by
// "<slug>:<user>" with a "<slug>" fallback. Used for tests and single-tenant
// deployments where tokens are provisioned out of band.
type StaticProvider struct {
	Tokens map[string]*TokenBundle
}

func (p *StaticProvider) Get(_ context.Context, connectorSlug, userID string) (*TokenBundle, error) {
	if t, ok := p.Tokens[connectorSlug+":"+userID]; ok {
		return t, nil
	}
	if t, ok := p.Tokens[connectorSlug]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("no credentials for connector %s", connectorSlug)
}
