// Package provider holds the mail provider adapters the sync loop pulls
// inbound mail through. Each adapter translates one provider's cursor model
// (Gmail history ids, Graph delta links) into the engine's opaque-cursor
// contract.
package provider

import (
	"fmt"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/services"
)

// Registry resolves provider adapters by name.
type Registry struct {
	providers map[string]services.MailProvider
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(providers ...services.MailProvider) *Registry {
	m := make(map[string]services.MailProvider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (services.MailProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, apperrors.ErrUnsupportedProvider)
	}
	return p, nil
}
