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
	"time"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

const (
	anthropicAPIVersion    = "2023-06-01"
	anthropicDefaultURL    = "https://api.anthropic.com/v1/messages"
	anthropicDefaultModel  = "claude-3-5-sonnet-20240620"
	anthropicMaxTokens     = 4096
	defaultRequestTimeout  = 60 * time.Second
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicAPIError `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicClient calls the Anthropic messages API directly over REST.
type AnthropicClient struct {
	httpClient *http.Client
	credential *Credential
	baseURL    string
	model      string
}

// NewAnthropic builds the Anthropic provider from cfg.
func NewAnthropic(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrNoCredential)
	}
	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
		slog.Info("anthropic model not set, using default", slog.String("model", model))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: timeout},
		credential: NewCredential(cfg.APIKey),
		baseURL:    baseURL,
		model:      model,
	}, nil
}

func (a *AnthropicClient) ProviderName() string { return "anthropic" }

// GenerateInsights implements Provider.
func (a *AnthropicClient) GenerateInsights(ctx context.Context, prompt string, actx datatypes.AnalysisContext) (string, error) {
	payload := anthropicRequest{
		Model:     a.model,
		System:    systemPrompt(actx),
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens: anthropicMaxTokens,
	}

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var finalText string
	err = a.credential.Use(func(key string) error {
		req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
		req.Header.Set("content-type", "application/json")

		slog.Debug("Sending REST request to Anthropic", slog.String("model", a.model))

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()

		bodyBytes, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
		}

		var apiResp anthropicResponse
		if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
			return fmt.Errorf("failed to parse response JSON: %w", err)
		}
		if apiResp.Error != nil {
			return fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
		}
		for _, block := range apiResp.Content {
			if block.Type == "text" {
				finalText += block.Text
			}
		}
		if finalText == "" {
			return fmt.Errorf("received empty content from Anthropic")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return finalText, nil
}

// ValidateConnection implements Provider with a one-token probe.
func (a *AnthropicClient) ValidateConnection(ctx context.Context) error {
	payload := anthropicRequest{
		Model:     a.model,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return a.credential.Use(func(key string) error {
		req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
		req.Header.Set("content-type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("anthropic API rejected credentials: status %d", resp.StatusCode)
		}
		return nil
	})
}
