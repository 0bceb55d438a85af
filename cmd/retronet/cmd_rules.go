// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pariosur/retronet-sub001/pkg/ux"
	"github.com/pariosur/retronet-sub001/services/insights/categorizer"
	"github.com/pariosur/retronet-sub001/services/insights/config"
)

var (
	rulesWatch bool

	rulesCmd = &cobra.Command{
		Use:   "rules",
		Short: "Show the active categorizer rule sets",
		Long: `Prints the rule sets the categorizer uses: the configured rule-set
directory when set, the shipped defaults otherwise. --watch keeps
running and reports hot reloads as rule files change.`,
		RunE: runRules,
	}
)

func init() {
	rulesCmd.Flags().BoolVar(&rulesWatch, "watch", false, "watch the rule-set directory and report reloads")
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
	sets, fromDir, err := activeRuleSets()
	if err != nil {
		return err
	}

	for _, rs := range sets {
		printRuleSet(rs)
	}

	if !rulesWatch {
		return nil
	}
	if !fromDir {
		return fmt.Errorf("--watch needs a configured rule_sets.dir")
	}
	return watchRules(cmd)
}

func activeRuleSets() ([]*categorizer.RuleSet, bool, error) {
	if dir := appConfig.RuleSets.Dir; dir != "" {
		sets, err := config.LoadRuleSets(dir)
		if err != nil {
			return nil, false, err
		}
		return sets, true, nil
	}
	return []*categorizer.RuleSet{
		categorizer.MustCompile(categorizer.RetroRuleSetConfig()),
		categorizer.MustCompile(categorizer.ChangeRuleSetConfig()),
	}, false, nil
}

func printRuleSet(rs *categorizer.RuleSet) {
	cfg := rs.Config()
	ux.Title(cfg.Name)
	ux.Muted(fmt.Sprintf("default category: %s", cfg.DefaultCategory))
	for _, cat := range cfg.Categories {
		printf("  %s %-16s %d keywords, %d labels, %d patterns\n",
			ux.IconBullet.Render(), cat.Name,
			len(cat.Keywords), len(cat.Labels), len(cat.Patterns))
	}
	printf("\n")
}

func watchRules(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewRuleSetWatcher(
		appConfig.RuleSets.Dir,
		appConfig.RuleSets.ReloadDebounce.Std(),
		func(sets []*categorizer.RuleSet) {
			ux.Success(fmt.Sprintf("reloaded %d rule sets", len(sets)))
			for _, rs := range sets {
				printRuleSet(rs)
			}
		},
		appLogger.Slog(),
	)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	ux.Info("watching for rule changes, ctrl-c to stop")
	watcher.Start(ctx)
	return nil
}
