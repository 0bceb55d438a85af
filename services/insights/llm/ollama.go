// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

var ollamaTracer = otel.Tracer("retronet.llm.ollama")

const ollamaDefaultModel = "llama3.1"

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaClient talks to a local ollama daemon over its REST API. No
// credential is needed; the daemon is assumed to sit on a trusted host.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllama builds the ollama provider from cfg. BaseURL is required
// since there is no sensible hosted default.
func NewOllama(cfg Config) (Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama: base_url is required")
	}
	model := cfg.Model
	if model == "" {
		model = ollamaDefaultModel
		slog.Warn("ollama model not set, defaulting", slog.String("model", model))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      model,
	}, nil
}

func (o *OllamaClient) ProviderName() string { return "ollama" }

// GenerateInsights implements Provider.
func (o *OllamaClient) GenerateInsights(ctx context.Context, prompt string, actx datatypes.AnalysisContext) (string, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.GenerateInsights")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	payload := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		System: systemPrompt(actx),
		Stream: false,
		Options: map[string]any{
			"temperature": 0.2,
			"num_predict": 4096,
		},
	}
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/generate", bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Generating insights via Ollama", slog.String("model", o.model))

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp ollamaGenerateResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if apiResp.Response == "" {
		return "", fmt.Errorf("received empty response from ollama")
	}
	return apiResp.Response, nil
}

// ValidateConnection implements Provider by hitting the version endpoint.
func (o *OllamaClient) ValidateConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama version check returned status %d", resp.StatusCode)
	}
	return nil
}
