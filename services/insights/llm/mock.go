// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"sync"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// MockProvider is a scriptable provider for tests and offline demos.
//
// Thread Safety: Safe for concurrent use.
type MockProvider struct {
	mu sync.Mutex

	// Response is returned by GenerateInsights when GenerateFunc is nil.
	Response string

	// Err is returned by GenerateInsights and ValidateConnection when
	// set and the corresponding func hook is nil.
	Err error

	// GenerateFunc, when set, handles GenerateInsights entirely.
	GenerateFunc func(ctx context.Context, prompt string, actx datatypes.AnalysisContext) (string, error)

	calls   int
	prompts []string
}

// NewMock builds a mock provider. The config's Model field, when set,
// seeds the canned response.
func NewMock(cfg Config) (Provider, error) {
	m := &MockProvider{}
	if cfg.Model != "" {
		m.Response = cfg.Model
	}
	return m, nil
}

func (m *MockProvider) ProviderName() string { return "mock" }

// GenerateInsights implements Provider.
func (m *MockProvider) GenerateInsights(ctx context.Context, prompt string, actx datatypes.AnalysisContext) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	hook := m.GenerateFunc
	resp, err := m.Response, m.Err
	m.mu.Unlock()

	if hook != nil {
		return hook(ctx, prompt, actx)
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}

// ValidateConnection implements Provider.
func (m *MockProvider) ValidateConnection(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

// Calls reports how many GenerateInsights calls were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns a copy of every prompt seen so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
