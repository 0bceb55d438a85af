// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

const openaiDefaultModel = "gpt-4o-mini"

// OpenAIClient wraps the go-openai SDK.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds the OpenAI provider from cfg.
func NewOpenAI(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrNoCredential)
	}
	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
		slog.Warn("openai model not set, defaulting", slog.String("model", model))
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

func (o *OpenAIClient) ProviderName() string { return "openai" }

// GenerateInsights implements Provider.
func (o *OpenAIClient) GenerateInsights(ctx context.Context, prompt string, actx datatypes.AnalysisContext) (string, error) {
	slog.Debug("Generating insights via OpenAI", slog.String("model", o.model))

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(actx)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ValidateConnection implements Provider by listing models.
func (o *OpenAIClient) ValidateConnection(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("OpenAI connection check failed: %w", err)
	}
	return nil
}
