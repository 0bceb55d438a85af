// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts the generative model providers behind one
// capability interface.
//
// Concrete providers (anthropic, openai, ollama, mock) all implement the
// identical contract and are selected through a registry keyed by a
// configuration string. Provider failures are returned raw; classification
// into the error taxonomy happens at the pipeline boundary, not here.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// ErrUnknownProvider is returned for names missing from the registry.
var ErrUnknownProvider = errors.New("unknown model provider")

// Provider is the capability every model backend implements.
type Provider interface {
	// ProviderName returns the registry name of the provider.
	ProviderName() string

	// GenerateInsights sends the prepared activity digest to the model
	// and returns its raw text response. The response may be anything
	// from clean JSON to free prose; parsing is the caller's concern.
	GenerateInsights(ctx context.Context, prompt string, actx datatypes.AnalysisContext) (string, error)

	// ValidateConnection verifies credentials and reachability with a
	// minimal request.
	ValidateConnection(ctx context.Context) error
}

// Config configures one provider instance.
type Config struct {
	// Name selects the provider from the registry.
	Name string `yaml:"name" validate:"required"`

	// Model is the concrete model identifier. Empty uses the
	// provider's default.
	Model string `yaml:"model"`

	// APIKey authenticates hosted providers. Stored in a memguard
	// enclave by the concrete clients; never logged.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (self-hosted gateways,
	// local ollama).
	BaseURL string `yaml:"base_url"`

	// Timeout bounds one model call.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerMinute enables client-side rate limiting when > 0.
	RequestsPerMinute float64 `yaml:"requests_per_minute"`

	// CostPer1KTokens is the blended price estimate used for cache
	// cost-saved accounting.
	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens"`
}

// Factory builds a provider from its config.
type Factory func(cfg Config) (Provider, error)

// Registry maps provider names to factories.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in
// providers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("anthropic", NewAnthropic)
	r.Register("openai", NewOpenAI)
	r.Register("ollama", NewOllama)
	r.Register("mock", NewMock)
	return r
}

// Register adds or replaces a provider factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named provider, wrapped with client-side rate limiting
// when the config asks for it.
//
// Outputs:
//
//	Provider - The ready provider.
//	error - ErrUnknownProvider for unregistered names, or the factory's
//	error.
func (r *Registry) New(cfg Config) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		p = Throttled(p, cfg.RequestsPerMinute)
	}
	return p, nil
}

// =============================================================================
// Rate Limiting
// =============================================================================

type throttledProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// Throttled wraps a provider with a client-side rate limiter so bursts of
// concurrent analyses cannot trip provider-side quotas.
func Throttled(p Provider, requestsPerMinute float64) Provider {
	return &throttledProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1),
	}
}

func (t *throttledProvider) ProviderName() string { return t.inner.ProviderName() }

func (t *throttledProvider) GenerateInsights(ctx context.Context, prompt string, actx datatypes.AnalysisContext) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.inner.GenerateInsights(ctx, prompt, actx)
}

func (t *throttledProvider) ValidateConnection(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.inner.ValidateConnection(ctx)
}

// EstimateTokens approximates the token count of text. Four characters
// per token is close enough for cost accounting.
func EstimateTokens(text string) int {
	return len(text)/4 + 1
}

// EstimateCost converts prompt+response sizes (in characters) into
// dollars using the provider's configured blended rate.
func EstimateCost(cfg Config, promptLen, responseLen int) float64 {
	tokens := (promptLen + responseLen) / 4
	return float64(tokens) / 1000.0 * cfg.CostPer1KTokens
}
