// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// retronet is the CLI for the insight generation pipeline: it loads
// team activity, runs rule and generative analysis, and renders a
// retrospective report.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pariosur/retronet-sub001/pkg/logging"
	"github.com/pariosur/retronet-sub001/pkg/ux"
	"github.com/pariosur/retronet-sub001/services/insights/config"
)

var (
	cfgPath     string
	plainOutput bool
	verbose     bool
	logDir      string

	appConfig *config.File
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "retronet",
		Short: "Generate retrospective insights from team activity",
		Long: `retronet analyzes a period of team activity (issues, messages,
commits) with a deterministic rule engine and an optional model
provider, merges the findings, and renders a retro report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to the retronet config file")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "disable colors and icons")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "also write JSON logs to this directory")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		ux.InitMode()
		if plainOutput {
			ux.SetMode(ux.ModePlain)
		}

		var err error
		appConfig, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		appLogger, err = logging.New(logging.Config{
			Level:   level,
			LogDir:  logDir,
			Service: "retronet",
			Quiet:   !verbose,
		})
		return err
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			appLogger.Close()
		}
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "retronet.yaml"
	}
	return filepath.Join(home, ".retronet", "retronet.yaml")
}

// styled reports whether report output should carry lipgloss styling.
func styled() bool {
	return ux.GetMode() == ux.ModeStyled
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}
