package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

// validPipeline returns a pipeline that produces no issues.
func validPipeline() Pipeline {
	p := Default()
	p.Job = "crm-weekly"
	p.Source = Source{Kind: "file", Options: Options{"path": "users.json"}}
	p.Upload.AudienceID = "2384"
	p.Graph.AccessToken = "tok"
	return p
}

/*
TestValidatePipeline_ValidMinimal verifies that a well-formed pipeline produces
no issues (errors or warnings).
*/
func TestValidatePipeline_ValidMinimal(t *testing.T) {
	if issues := ValidatePipeline(validPipeline()); len(issues) != 0 {
		t.Fatalf("expected no issues; got %+v", issues)
	}
}

/*
TestValidatePipeline_MissingJob verifies that a missing or empty Job field
produces a SeverityError with path "job".
*/
func TestValidatePipeline_MissingJob(t *testing.T) {
	p := validPipeline()
	p.Job = "  "

	issues := ValidatePipeline(p)
	if !hasIssue(t, issues, SeverityError, "job", "job must not be empty") {
		t.Fatalf("expected SeverityError for job; got issues: %+v", issues)
	}
	if !HasErrors(issues) {
		t.Fatalf("HasErrors = false")
	}
}

func TestValidatePipeline_Source(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		sev  IssueSeverity
		path string
		msg  string
	}{
		{"file without path", Source{Kind: "file", Options: Options{}}, SeverityError, "source.options.path", "non-empty path"},
		{"http without url", Source{Kind: "http", Options: Options{}}, SeverityError, "source.options.url", "non-empty url"},
		{"http bad scheme", Source{Kind: "http", Options: Options{"url": "ftp://x"}}, SeverityError, "source.options.url", "must start with"},
		{"http insecure", Source{Kind: "http", Options: Options{"url": "https://x", "insecure_skip_verify": true}}, SeverityWarning, "source.options.insecure_skip_verify", "TLS"},
		{"unknown kind", Source{Kind: "s3"}, SeverityError, "source.kind", "unknown source kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPipeline()
			p.Source = tt.src
			issues := ValidatePipeline(p)
			if !hasIssue(t, issues, tt.sev, tt.path, tt.msg) {
				t.Fatalf("expected %s at %s (%q); got %+v", tt.sev, tt.path, tt.msg, issues)
			}
		})
	}
}

func TestValidatePipeline_StdinNeedsNoOptions(t *testing.T) {
	p := validPipeline()
	p.Source = Source{Kind: "stdin"}
	if issues := ValidatePipeline(p); len(issues) != 0 {
		t.Fatalf("expected no issues; got %+v", issues)
	}
}

func TestValidatePipeline_Parser(t *testing.T) {
	p := validPipeline()
	p.Parser.Kind = "csv"
	if !hasIssue(t, ValidatePipeline(p), SeverityError, "parser.kind", "only json") {
		t.Fatalf("expected parser.kind error")
	}
}

/*
TestValidatePipeline_Match covers column_map entries naming unknown
identifiers, the empty-schema policy, and the warning for disabled hashing.
*/
func TestValidatePipeline_Match(t *testing.T) {
	p := validPipeline()
	p.Match.ColumnMap = map[string]string{"Contact": "email", "Cell": "fax"}
	p.Match.OnEmptySchema = "panic"
	p.Match.Hash = false

	issues := ValidatePipeline(p)
	if !hasIssue(t, issues, SeverityError, "match.column_map[Cell]", "unknown identifier") {
		t.Fatalf("expected column_map error; got %+v", issues)
	}
	if hasIssue(t, issues, SeverityError, "match.column_map[Contact]", "") {
		t.Fatalf("valid column_map entry flagged: %+v", issues)
	}
	if !hasIssue(t, issues, SeverityError, "match.on_empty_schema", "want continue or fail") {
		t.Fatalf("expected on_empty_schema error; got %+v", issues)
	}
	if !hasIssue(t, issues, SeverityWarning, "match.hash", "hashing is disabled") {
		t.Fatalf("expected hash warning; got %+v", issues)
	}
}

func TestValidatePipeline_UploadModes(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Upload)
		sev  IssueSeverity
		path string
		msg  string
	}{
		{"update without audience", func(u *Upload) { u.AudienceID = "" }, SeverityError, "upload.audience_id", "update_audience requires"},
		{"replace without audience", func(u *Upload) { u.Mode = ModeReplace; u.AudienceID = "" }, SeverityError, "upload.audience_id", "replace_audience requires"},
		{"create without account", func(u *Upload) { u.Mode = ModeCreate; u.AudienceName = "x" }, SeverityError, "upload.ad_account_id", "requires an ad_account_id"},
		{"create without name", func(u *Upload) { u.Mode = ModeCreate; u.AdAccountID = "42" }, SeverityError, "upload.audience_name", "requires an audience_name"},
		{"create ignores audience", func(u *Upload) { u.Mode = ModeCreate; u.AdAccountID = "42"; u.AudienceName = "x" }, SeverityWarning, "upload.audience_id", "ignored"},
		{"unknown mode", func(u *Upload) { u.Mode = "merge" }, SeverityError, "upload.mode", "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPipeline()
			tt.edit(&p.Upload)
			issues := ValidatePipeline(p)
			if !hasIssue(t, issues, tt.sev, tt.path, tt.msg) {
				t.Fatalf("expected %s at %s (%q); got %+v", tt.sev, tt.path, tt.msg, issues)
			}
		})
	}
}

/*
TestValidatePipeline_UploadLimits verifies obvious misconfigurations of the
scheduler knobs (batch size of one, negative depths and retries, unknown
failure policy) and the warning above the per-request record limit.
*/
func TestValidatePipeline_UploadLimits(t *testing.T) {
	p := validPipeline()
	p.Upload.BatchSize = 1
	p.Upload.QueueDepth = -1
	p.Upload.MaxRetries = -2
	p.Upload.OnUploadError = "retry"

	issues := ValidatePipeline(p)
	for _, want := range []struct{ path, msg string }{
		{"upload.batch_size", "at least 2"},
		{"upload.queue_depth", "must not be negative"},
		{"upload.max_retries", "must not be negative"},
		{"upload.on_upload_error", "want continue or abort"},
	} {
		if !hasIssue(t, issues, SeverityError, want.path, want.msg) {
			t.Errorf("expected error at %s (%q); got %+v", want.path, want.msg, issues)
		}
	}

	p = validPipeline()
	p.Upload.BatchSize = 50000
	if !hasIssue(t, ValidatePipeline(p), SeverityWarning, "upload.batch_size", "exceeds the API limit") {
		t.Fatalf("expected batch_size warning")
	}

	p.Upload.BatchSize = 0
	if issues := ValidatePipeline(p); len(issues) != 0 {
		t.Fatalf("batch_size=0 selects the default; got %+v", issues)
	}
}

func TestValidatePipeline_Graph(t *testing.T) {
	p := validPipeline()
	p.Graph.AccessToken = ""
	p.Graph.BaseURL = "graph.facebook.com"

	issues := ValidatePipeline(p)
	if !hasIssue(t, issues, SeverityWarning, "graph.access_token", "no access token") {
		t.Fatalf("expected token warning; got %+v", issues)
	}
	if !hasIssue(t, issues, SeverityError, "graph.base_url", "must start with") {
		t.Fatalf("expected base_url error; got %+v", issues)
	}
}

func TestValidatePipeline_Storage(t *testing.T) {
	p := validPipeline()
	p.Storage = Storage{Kind: "oracle"}

	issues := ValidatePipeline(p)
	if !hasIssue(t, issues, SeverityError, "storage.kind", "unknown storage kind") {
		t.Fatalf("expected storage.kind error; got %+v", issues)
	}
	if !hasIssue(t, issues, SeverityError, "storage.dsn", "must not be empty") {
		t.Fatalf("expected storage.dsn error; got %+v", issues)
	}
	if !hasIssue(t, issues, SeverityWarning, "storage.table", "default ledger table") {
		t.Fatalf("expected storage.table warning; got %+v", issues)
	}

	p.Storage = Storage{}
	if issues := ValidatePipeline(p); len(issues) != 0 {
		t.Fatalf("an empty storage kind disables the ledger; got %+v", issues)
	}
}

func TestValidatePipeline_Metrics(t *testing.T) {
	tests := []struct {
		m    Metrics
		sev  IssueSeverity
		path string
	}{
		{Metrics{Backend: "prompush"}, SeverityError, "metrics.pushgateway_url"},
		{Metrics{Backend: "datadog"}, SeverityWarning, "metrics.datadog_addr"},
		{Metrics{Backend: "statsite"}, SeverityError, "metrics.backend"},
	}
	for _, tt := range tests {
		p := validPipeline()
		p.Metrics = tt.m
		if !hasIssue(t, ValidatePipeline(p), tt.sev, tt.path, "") {
			t.Errorf("backend %q: expected %s at %s", tt.m.Backend, tt.sev, tt.path)
		}
	}
}

func TestIssue_Error(t *testing.T) {
	iss := Issue{Severity: SeverityError, Path: "job", Message: "empty"}
	if got := iss.Error(); got != "error at job: empty" {
		t.Fatalf("Error() = %q", got)
	}
}
