package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"audiencesync/internal/config"
	"audiencesync/internal/datasource"
	"audiencesync/internal/datasource/httpds"
	"audiencesync/internal/graph"
	"audiencesync/internal/metrics"
	"audiencesync/internal/metrics/datadog"
	"audiencesync/internal/metrics/prompush"
	"audiencesync/internal/storage"
)

// Function variables used as test seams.
var (
	newLedgerFn = func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return storage.New(ctx, cfg)
	}

	newSourceFn = datasource.New
)

func newGraphClient(p config.Pipeline) *graph.Client {
	return graph.New(graph.Config{
		BaseURL:     p.Graph.BaseURL,
		AccessToken: p.Graph.AccessToken,
		HTTP: httpds.Config{
			Timeout:    p.Graph.Timeout,
			MaxRetries: p.Graph.MaxRetries,
		},
	})
}

// sourceConfig maps the free-form source options onto a datasource.Config.
func sourceConfig(s config.Source) datasource.Config {
	return datasource.Config{
		Kind:               s.Kind,
		Path:               s.Options.String("path", ""),
		URL:                s.Options.String("url", ""),
		Headers:            s.Options.StringMap("headers"),
		Timeout:            s.Options.Duration("timeout", 0),
		MaxRetries:         s.Options.Int("max_retries", 0),
		InsecureSkipVerify: s.Options.Bool("insecure_skip_verify", false),
	}
}

// openLedger opens the configured ledger and creates its table. It returns
// nil when storage.kind is empty.
func openLedger(ctx context.Context, p config.Pipeline) (storage.Repository, error) {
	if p.Storage.Kind == "" {
		return nil, nil
	}
	repo, err := newLedgerFn(ctx, storage.Config{
		Kind:  p.Storage.Kind,
		DSN:   p.Storage.DSN,
		Table: p.Storage.Table,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return repo, nil
}

// setupMetrics installs the configured backend and returns the flush to
// defer. An unusable backend is logged and metrics stay disabled.
func setupMetrics(p config.Pipeline) func() {
	log := zap.L()
	var (
		b   metrics.Backend
		err error
	)
	switch p.Metrics.Backend {
	case "", "none":
		log.Debug("metrics: disabled")
		return func() {}
	case "prompush":
		b, err = prompush.NewBackend(p.Job, p.Metrics.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       p.Metrics.DatadogAddr,
			GlobalTags: []string{"job:" + p.Job},
		})
	default:
		err = fmt.Errorf("unknown backend %q", p.Metrics.Backend)
	}
	if err != nil {
		log.Warn("metrics: backend unavailable, using nop", zap.Error(err))
		return func() {}
	}
	metrics.SetBackend(b)
	log.Info("metrics: enabled", zap.String("backend", p.Metrics.Backend))
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush failed", zap.Error(err))
		}
	}
}

// printIssues writes validation issues and reports whether any is an error.
func printIssues(w io.Writer, issues []config.Issue) bool {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	return config.HasErrors(issues)
}
