// This file adds a lightweight linter/validator for Pipeline values. It
// performs static checks over a decoded Pipeline and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"

	"audiencesync/internal/match"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that should be surfaced but does not
	// block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "upload.audience_id",
// "match.column_map[Contact]"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether issues contains at least one SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// maxBatchSize is the largest number of records the users edge accepts in
// one request.
const maxBatchSize = 10000

// ValidatePipeline performs static validation / linting of a Pipeline.
//
// It does not mutate the pipeline. Callers may decide whether to treat
// warnings as fatal or not.
//
// Example:
//
//	p, err := config.Load("jobs/crm.yaml")
//	if err != nil { ... }
//	for _, iss := range config.ValidatePipeline(p) {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and the upload ledger",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateMatch(p.Match)...)
	issues = append(issues, validateUpload(p.Upload)...)
	issues = append(issues, validateGraph(p.Graph)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateMetrics(p.Metrics)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	switch s.Kind {
	case "", "stdin":
	case "file":
		if strings.TrimSpace(s.Options.String("path", "")) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.options.path",
				Message:  "file source requires a non-empty path",
			})
		}
	case "http":
		u := strings.TrimSpace(s.Options.String("url", ""))
		if u == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.options.url",
				Message:  "http source requires a non-empty url",
			})
		} else if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.options.url",
				Message:  fmt.Sprintf("url %q must start with http:// or https://", u),
			})
		}
		if s.Options.Bool("insecure_skip_verify", false) {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "source.options.insecure_skip_verify",
				Message:  "TLS verification is disabled for the http source",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q; want file, stdin or http", s.Kind),
		})
	}

	return issues
}

func validateParser(p Parser) []Issue {
	if p.Kind == "" || p.Kind == "json" {
		return nil
	}
	return []Issue{{
		Severity: SeverityError,
		Path:     "parser.kind",
		Message:  fmt.Sprintf("unsupported parser kind %q; only json is supported", p.Kind),
	}}
}

func validateMatch(m Match) []Issue {
	var issues []Issue

	for label, name := range m.ColumnMap {
		path := fmt.Sprintf("match.column_map[%s]", label)
		if strings.TrimSpace(label) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "column label must not be empty",
			})
			continue
		}
		if _, err := match.ParseIdentifier(name); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  err.Error(),
			})
		}
	}

	switch m.OnEmptySchema {
	case "", "continue", "fail":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "match.on_empty_schema",
			Message:  fmt.Sprintf("on_empty_schema %q; want continue or fail", m.OnEmptySchema),
		})
	}

	if !m.Hash {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "match.hash",
			Message:  "hashing is disabled; identifiers must already be SHA-256 hashed",
		})
	}

	return issues
}

func validateUpload(u Upload) []Issue {
	var issues []Issue

	switch u.Mode {
	case ModeUpdate, ModeReplace, "":
		if strings.TrimSpace(u.AudienceID) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "upload.audience_id",
				Message:  fmt.Sprintf("mode %s requires an audience_id", orDefault(u.Mode, ModeUpdate)),
			})
		}
	case ModeCreate:
		if strings.TrimSpace(u.AdAccountID) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "upload.ad_account_id",
				Message:  "create_audience requires an ad_account_id",
			})
		}
		if strings.TrimSpace(u.AudienceName) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "upload.audience_name",
				Message:  "create_audience requires an audience_name",
			})
		}
		if u.AudienceID != "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "upload.audience_id",
				Message:  "audience_id is ignored by create_audience",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "upload.mode",
			Message:  fmt.Sprintf("unknown mode %q; want %s, %s or %s", u.Mode, ModeCreate, ModeUpdate, ModeReplace),
		})
	}

	switch {
	case u.BatchSize < 0 || u.BatchSize == 1:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "upload.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; must be 0 (default) or at least 2", u.BatchSize),
		})
	case u.BatchSize > maxBatchSize:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "upload.batch_size",
			Message:  fmt.Sprintf("batch_size=%d exceeds the API limit of %d records per request", u.BatchSize, maxBatchSize),
		})
	}
	if u.QueueDepth < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "upload.queue_depth",
			Message:  "queue_depth must not be negative",
		})
	}
	if u.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "upload.max_retries",
			Message:  "max_retries must not be negative",
		})
	}
	if u.RetryBackoff < 0 || u.RetryMaxBackoff < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "upload.retry_backoff",
			Message:  "retry backoff durations must not be negative",
		})
	}
	switch u.OnUploadError {
	case "", "continue", "abort":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "upload.on_upload_error",
			Message:  fmt.Sprintf("on_upload_error %q; want continue or abort", u.OnUploadError),
		})
	}

	return issues
}

func validateGraph(g Graph) []Issue {
	var issues []Issue

	if strings.TrimSpace(g.AccessToken) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "graph.access_token",
			Message:  "no access token configured; set AUDIENCESYNC_GRAPH_ACCESS_TOKEN or runs will stop before reading any row",
		})
	}
	if g.BaseURL != "" && !strings.HasPrefix(g.BaseURL, "https://") && !strings.HasPrefix(g.BaseURL, "http://") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "graph.base_url",
			Message:  fmt.Sprintf("base_url %q must start with http:// or https://", g.BaseURL),
		})
	}
	if g.Timeout < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "graph.timeout",
			Message:  "timeout must not be negative",
		})
	}
	if g.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "graph.max_retries",
			Message:  "max_retries must not be negative",
		})
	}

	return issues
}

// validateStorage checks the optional ledger. An empty kind disables it.
func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return nil
	}

	known := map[string]struct{}{
		"postgres": {},
		"mysql":    {},
		"mssql":    {},
		"sqlite":   {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; want postgres, mysql, mssql or sqlite", s.Kind),
		})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.dsn",
			Message:  "storage.dsn must not be empty when a ledger kind is set",
		})
	}
	if strings.TrimSpace(s.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.table",
			Message:  "storage.table is empty; the default ledger table will be used",
		})
	}

	return issues
}

func validateMetrics(m Metrics) []Issue {
	switch m.Backend {
	case "", "none":
	case "prompush":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			return []Issue{{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "prompush backend requires a pushgateway_url",
			}}
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			return []Issue{{
				Severity: SeverityWarning,
				Path:     "metrics.datadog_addr",
				Message:  "datadog_addr is empty; the DogStatsD default address will be used",
			}}
		}
	default:
		return []Issue{{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; want none, prompush or datadog", m.Backend),
		}}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
