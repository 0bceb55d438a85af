// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/pariosur/retronet-sub001/pkg/ux"
	"github.com/pariosur/retronet-sub001/services/insights/llm"
)

var (
	providersCheck bool

	providersCmd = &cobra.Command{
		Use:   "providers",
		Short: "List model providers and their configuration",
		Long: `Lists every provider the registry knows. Configured providers show
their model; --check performs a connectivity probe against each one.`,
		RunE: runProviders,
	}
)

func init() {
	providersCmd.Flags().BoolVar(&providersCheck, "check", false, "probe connectivity of configured providers")
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	registry := llm.NewRegistry()
	configured := appConfig.Pipeline().Providers

	ux.Title("Model providers")
	for _, name := range registry.Names() {
		cfg, ok := configured[name]
		switch {
		case !ok:
			printf("%s %-12s %s\n", ux.IconPending.Render(), name, "not configured")
		case providersCheck:
			printProbe(cmd.Context(), registry, name, cfg)
		default:
			printf("%s %-12s model=%s\n", ux.IconSuccess.Render(), name, orDefault(cfg.Model))
		}
	}
	return nil
}

func printProbe(ctx context.Context, registry *llm.Registry, name string, cfg llm.Config) {
	provider, err := registry.New(cfg)
	if err != nil {
		printf("%s %-12s %v\n", ux.IconError.Render(), name, err)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := provider.ValidateConnection(pctx); err != nil {
		printf("%s %-12s %v\n", ux.IconError.Render(), name, err)
		return
	}
	printf("%s %-12s model=%s reachable in %s\n",
		ux.IconSuccess.Render(), name, orDefault(cfg.Model), time.Since(start).Round(time.Millisecond))
}

func orDefault(model string) string {
	if model == "" {
		return "(provider default)"
	}
	return model
}
