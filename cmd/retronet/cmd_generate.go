// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pariosur/retronet-sub001/services/insights/config"
	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
	"github.com/pariosur/retronet-sub001/services/insights/llm"
	"github.com/pariosur/retronet-sub001/services/insights/merger"
	"github.com/pariosur/retronet-sub001/services/insights/pipeline"
	"github.com/pariosur/retronet-sub001/services/insights/report"
	"github.com/pariosur/retronet-sub001/services/insights/telemetry"
)

var (
	genInput         string
	genFrom          string
	genTo            string
	genTeam          []string
	genProvider      string
	genSkipCache     bool
	genMinConfidence float64
	genSortBy        string
	genSortDesc      bool
	genStats         bool
	genTimings       bool
	genMetricsListen string

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Run the insight pipeline over an activity export",
		Long: `Reads a JSON array of activity records (issues, messages, commits),
runs rule-based and optionally generative analysis over the requested
period, and renders the merged retro report.`,
		RunE: runGenerate,
	}
)

func init() {
	generateCmd.Flags().StringVarP(&genInput, "input", "i", "-", "activity records JSON file (- for stdin)")
	generateCmd.Flags().StringVar(&genFrom, "from", "", "period start, YYYY-MM-DD (default: 7 days ago)")
	generateCmd.Flags().StringVar(&genTo, "to", "", "period end, YYYY-MM-DD (default: today)")
	generateCmd.Flags().StringSliceVar(&genTeam, "team", nil, "team member names")
	generateCmd.Flags().StringVarP(&genProvider, "provider", "p", "", "model provider (empty = rule analysis only)")
	generateCmd.Flags().BoolVar(&genSkipCache, "skip-cache", false, "bypass the analysis cache")
	generateCmd.Flags().Float64Var(&genMinConfidence, "min-confidence", 0, "drop insights below this confidence")
	generateCmd.Flags().StringVar(&genSortBy, "sort", "", "sort insights by confidence|priority|category|title")
	generateCmd.Flags().BoolVar(&genSortDesc, "desc", false, "sort descending")
	generateCmd.Flags().BoolVar(&genStats, "stats", false, "print set statistics after the report")
	generateCmd.Flags().BoolVar(&genTimings, "timings", false, "print per-stage timings")
	generateCmd.Flags().StringVar(&genMetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while running")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	window, err := parseWindow(genFrom, genTo)
	if err != nil {
		return err
	}

	records, err := loadRecords(genInput)
	if err != nil {
		return err
	}

	tcfg := appConfig.TelemetryConfig()
	tcfg.ServiceName = "retronet"
	tcfg.ServiceVersion = version
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			appLogger.Warn("telemetry shutdown", "error", err)
		}
	}()

	if genMetricsListen != "" {
		go serveMetrics(ctx, genMetricsListen)
	}

	mgr, err := buildManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	for _, c := range groupBySource(records) {
		mgr.RegisterCollector(c)
	}

	res, err := mgr.Generate(ctx, pipeline.GenerateRequest{
		DateRange:   window,
		TeamMembers: genTeam,
		Options: datatypes.AnalysisOptions{
			Provider:      genProvider,
			SkipCache:     genSkipCache,
			MinConfidence: genMinConfidence,
		},
	})
	if err != nil {
		return err
	}

	if genSortBy != "" {
		order := merger.OrderAsc
		if genSortDesc {
			order = merger.OrderDesc
		}
		res.Insights = merger.Sort(res.Insights, merger.SortOptions{
			By:    merger.SortBy(genSortBy),
			Order: order,
		})
	}

	r := report.NewRenderer(styled())
	printf("%s", r.Render(res))

	if genTimings {
		printf("\n%s", r.RenderTimings(res.Metadata.StageDurations))
	}
	if genStats {
		printStats(merger.Statistics(res.Insights))
	}
	return nil
}

// mockResponse is what dry runs get back from the mock provider.
const mockResponse = `{
  "wentWell": [{"title": "Steady completion rate across the period", "details": "Mock analysis for dry runs.", "confidence": 0.7}],
  "didntGoWell": [{"title": "Several items stayed blocked", "confidence": 0.6}],
  "actionItems": [{"title": "Review blocked items in the next planning session", "confidence": 0.65}]
}`

// buildManager assembles the pipeline Manager from the loaded config.
func buildManager() (*pipeline.Manager, error) {
	pcfg := appConfig.Pipeline()

	// The built-in mock provider needs no API key; make it selectable
	// for dry runs. Its Model field seeds the canned response.
	if genProvider == "mock" {
		if _, ok := pcfg.Providers["mock"]; !ok {
			pcfg.Providers["mock"] = llm.Config{Name: "mock", Model: mockResponse}
		}
	}

	opts := []pipeline.ManagerOption{
		pipeline.WithMetrics(telemetry.NewMetrics()),
		pipeline.WithSessionObserver(report.NewEventPrinter(os.Stderr, styled())),
	}

	tcfg := appConfig.TelemetryConfig()
	if tcfg.Influx != nil {
		opts = append(opts, pipeline.WithInfluxSink(telemetry.NewInfluxSink(tcfg.Influx, appLogger.Slog())))
	}

	if dir := appConfig.RuleSets.Dir; dir != "" {
		sets, err := config.LoadRuleSets(dir)
		if err != nil {
			return nil, err
		}
		if len(sets) > 0 {
			// First set by name; the retro set sorts ahead of most
			// custom names, and a single-file dir is unambiguous.
			opts = append(opts, pipeline.WithRuleSet(sets[0]))
		}
	}

	return pipeline.NewManager(pcfg, appLogger.Slog(), opts...), nil
}

// parseWindow resolves the analysis period. Defaults cover the last
// seven days ending today.
func parseWindow(from, to string) (datatypes.DateRange, error) {
	now := time.Now().UTC().Truncate(24 * time.Hour)

	end := now
	if to != "" {
		var err error
		end, err = time.Parse("2006-01-02", to)
		if err != nil {
			return datatypes.DateRange{}, fmt.Errorf("invalid --to date %q: %w", to, err)
		}
	}

	start := end.AddDate(0, 0, -7)
	if from != "" {
		var err error
		start, err = time.Parse("2006-01-02", from)
		if err != nil {
			return datatypes.DateRange{}, fmt.Errorf("invalid --from date %q: %w", from, err)
		}
	}

	// End is inclusive; extend to the end of the day.
	end = end.Add(24*time.Hour - time.Nanosecond)
	return datatypes.DateRange{Start: start, End: end}, nil
}

// loadRecords reads a JSON array of activity records from a file or stdin.
func loadRecords(path string) ([]datatypes.ActivityRecord, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input %s: %w", path, err)
		}
		defer f.Close()
		reader = f
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	var records []datatypes.ActivityRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse input: expected a JSON array of activity records: %w", err)
	}
	return records, nil
}

// groupBySource splits an export into one collector per source tag so
// a broken source degrades independently.
func groupBySource(records []datatypes.ActivityRecord) []*pipeline.StaticCollector {
	grouped := make(map[string][]datatypes.ActivityRecord)
	for _, r := range records {
		source := r.Source
		if source == "" {
			source = "import"
		}
		grouped[source] = append(grouped[source], r)
	}

	out := make([]*pipeline.StaticCollector, 0, len(grouped))
	for source, recs := range grouped {
		out = append(out, &pipeline.StaticCollector{SourceName: source, Records: recs})
	}
	return out
}

func printStats(stats merger.SetStatistics) {
	printf("\nStatistics\n")
	printf("  total %d (hybrid %d)\n", stats.Total, stats.HybridCount)
	printf("  avg confidence %.2f\n", stats.AvgConfidence)
	for _, b := range datatypes.Buckets {
		printf("  %-12s %d\n", b, stats.ByBucket[b])
	}
	for source, n := range stats.BySource {
		printf("  from %-8s %d\n", source, n)
	}
}

// serveMetrics exposes /metrics for the duration of the run.
func serveMetrics(ctx context.Context, addr string) {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		appLogger.Warn("metrics listener requested but the prometheus exporter is disabled")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		appLogger.Warn("metrics listener failed", "error", err)
	}
}
