// Package gateway holds the provider routing table and the HTTP clients that talk
// to the external SMS gateways.
package gateway

import (
	"fmt"

	"github.com/agrocall/delivery/internal/platform/config"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
)

type credentialKey struct {
	provider string
	alias    string
}

// Registry maps (country, alias) to gateway credentials. It is built once from
// immutable configuration and passed into the batcher explicitly; nothing reads
// gateway settings from ambient global state.
type Registry struct {
	providers []config.Provider
	creds     map[credentialKey]domain.GatewayCredential
}

// NewRegistry validates and indexes the configured routing table.
func NewRegistry(cfg config.Gateways) (*Registry, error) {
	creds := make(map[credentialKey]domain.GatewayCredential, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		if c.Provider == "" {
			return nil, fmt.Errorf("gateway credential missing provider name")
		}
		alias := c.Alias
		if alias == "" {
			alias = domain.DefaultCredentialAlias
		}
		key := credentialKey{provider: c.Provider, alias: alias}
		if _, dup := creds[key]; dup {
			return nil, fmt.Errorf("duplicate gateway credential %s/%s", c.Provider, alias)
		}
		creds[key] = domain.GatewayCredential{
			Provider:     c.Provider,
			Alias:        alias,
			BaseURL:      c.BaseURL,
			Username:     c.Username,
			APIKey:       c.APIKey,
			Sender:       c.Sender,
			MonthlyPrice: c.MonthlyPrice,
		}
	}
	return &Registry{providers: cfg.Providers, creds: creds}, nil
}

// Select finds the first provider (in declared order) whose country table contains
// country, then looks up its credential set by alias, defaulting to "default".
// The returned credential carries the provider's sender identity for the country
// unless the credential set pins its own sender.
func (r *Registry) Select(country, requestedAlias string) (domain.GatewayCredential, error) {
	for _, p := range r.providers {
		for _, cs := range p.Senders {
			if cs.Country != country {
				continue
			}
			alias := requestedAlias
			if alias == "" {
				alias = domain.DefaultCredentialAlias
			}
			cred, ok := r.creds[credentialKey{provider: p.Name, alias: alias}]
			if !ok {
				return domain.GatewayCredential{}, fmt.Errorf("provider %s alias %s: %w", p.Name, alias, domain.ErrUnknownCredentialAlias)
			}
			if cred.Sender == "" {
				cred.Sender = cs.Sender
			}
			return cred, nil
		}
	}
	return domain.GatewayCredential{}, fmt.Errorf("country %s: %w", country, domain.ErrUnconfiguredCountry)
}

// Supports reports whether any provider carries a sender mapping for country.
// The resolver uses this to silently drop recipients no gateway can reach.
func (r *Registry) Supports(country string) bool {
	for _, p := range r.providers {
		for _, cs := range p.Senders {
			if cs.Country == country {
				return true
			}
		}
	}
	return false
}
