package auth

import (
	"fmt"

	"github.com/invigil-ai/invigil/internal/config"
)

// Caller is the runtime identity of an authenticated proctor client. Its
// ID keys the session scope: sessions started by one caller are invisible
// to every other caller.
type Caller struct {
	ID string
}

// Auth holds mappings from API keys to callers.
type Auth struct {
	apiKeyToCaller map[string]Caller
}

// NewFromConfig builds an Auth instance from the loaded config.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	m := make(map[string]Caller)

	for _, c := range cfg.Clients {
		if c.ID == "" {
			return nil, fmt.Errorf("client with empty id in config")
		}
		caller := Caller{ID: c.ID}
		for _, key := range c.APIKeys {
			if key == "" {
				continue
			}
			if _, exists := m[key]; exists {
				return nil, fmt.Errorf("api key %q is assigned to multiple clients", key)
			}
			m[key] = caller
		}
	}

	return &Auth{
		apiKeyToCaller: m,
	}, nil
}

// Lookup returns the caller for a given API key, if any.
func (a *Auth) Lookup(apiKey string) (Caller, bool) {
	if a == nil {
		return Caller{}, false
	}
	c, ok := a.apiKeyToCaller[apiKey]
	return c, ok
}
