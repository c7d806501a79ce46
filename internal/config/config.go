// Package config defines the configuration model of a sync job. A Pipeline
// is decoded from a JSON or YAML file (see Load), may be overridden from the
// environment, and is passed through the program without additional glue.
//
// Example (trimmed):
//
//	{
//	  "job":     "crm-weekly",
//	  "source":  { "kind": "file", "options": { "path": "exports/users.json" } },
//	  "match":   { "hash": true, "column_map": { "Contact": "email" } },
//	  "upload":  { "mode": "update_audience", "audience_id": "2384...", "batch_size": 10000 },
//	  "graph":   { "access_token": "..." },
//	  "storage": { "kind": "sqlite", "dsn": "file:ledger.db" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Pipeline describes one sync job.
type Pipeline struct {
	// Job names the job in logs, metrics and the ledger.
	Job string `json:"job" mapstructure:"job"`

	Source  Source  `json:"source" mapstructure:"source"`
	Parser  Parser  `json:"parser" mapstructure:"parser"`
	Match   Match   `json:"match" mapstructure:"match"`
	Upload  Upload  `json:"upload" mapstructure:"upload"`
	Graph   Graph   `json:"graph" mapstructure:"graph"`
	Storage Storage `json:"storage" mapstructure:"storage"`
	Metrics Metrics `json:"metrics" mapstructure:"metrics"`
	Logging Logging `json:"logging" mapstructure:"logging"`
}

// Source identifies where the row export comes from.
type Source struct {
	// Kind is "file", "stdin" or "http".
	Kind string `json:"kind" mapstructure:"kind"`

	// Options is interpreted by the source kind:
	//   file:  path (string)
	//   http:  url (string), headers (object), timeout (duration string),
	//          max_retries (int), insecure_skip_verify (bool)
	Options Options `json:"options" mapstructure:"options"`
}

// Parser selects the row format. Only "json" (an array of flat objects) is
// supported.
type Parser struct {
	Kind string `json:"kind" mapstructure:"kind"`
}

// Match configures column resolution and hashing.
type Match struct {
	// Hash enables SHA-256 hashing of identifier combinations that require
	// it. Turn it off only for exports that are already hashed.
	Hash bool `json:"hash" mapstructure:"hash"`

	// ColumnMap pins exact column labels to identifier names and takes
	// precedence over the built-in label rules.
	ColumnMap map[string]string `json:"column_map" mapstructure:"column_map"`

	// Dedupe drops records already sent in the same run.
	Dedupe bool `json:"dedupe" mapstructure:"dedupe"`

	// OnEmptySchema is "continue" (default) or "fail".
	OnEmptySchema string `json:"on_empty_schema" mapstructure:"on_empty_schema"`
}

// Upload modes.
const (
	ModeCreate  = "create_audience"
	ModeUpdate  = "update_audience"
	ModeReplace = "replace_audience"
)

// Upload configures the target audience and the batch scheduler.
type Upload struct {
	Mode        string `json:"mode" mapstructure:"mode"`
	BusinessID  string `json:"business_id" mapstructure:"business_id"`
	AdAccountID string `json:"ad_account_id" mapstructure:"ad_account_id"`
	AudienceID  string `json:"audience_id" mapstructure:"audience_id"`

	// AudienceName and AudienceDescription are used by create_audience.
	AudienceName        string `json:"audience_name" mapstructure:"audience_name"`
	AudienceDescription string `json:"audience_description" mapstructure:"audience_description"`

	BatchSize       int           `json:"batch_size" mapstructure:"batch_size"`
	QueueDepth      int           `json:"queue_depth" mapstructure:"queue_depth"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
	RetryBackoff    time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
	RetryMaxBackoff time.Duration `json:"retry_max_backoff" mapstructure:"retry_max_backoff"`

	// OnUploadError is "continue" (default) or "abort".
	OnUploadError string `json:"on_upload_error" mapstructure:"on_upload_error"`

	// EstimatedTotal, when positive, is sent as the session's
	// estimated_num_total.
	EstimatedTotal int64 `json:"estimated_total" mapstructure:"estimated_total"`
}

// Graph configures the API client.
type Graph struct {
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	AccessToken string        `json:"access_token" mapstructure:"access_token"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`

	// VerifyToken calls GET /me before the export is opened.
	VerifyToken bool `json:"verify_token" mapstructure:"verify_token"`
}

// Storage configures the optional upload ledger. An empty Kind disables it.
type Storage struct {
	Kind  string `json:"kind" mapstructure:"kind"`
	DSN   string `json:"dsn" mapstructure:"dsn"`
	Table string `json:"table" mapstructure:"table"`
}

// Metrics selects the metrics backend: "" / "none", "prompush" or "datadog".
type Metrics struct {
	Backend        string `json:"backend" mapstructure:"backend"`
	PushgatewayURL string `json:"pushgateway_url" mapstructure:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr" mapstructure:"datadog_addr"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Default returns a Pipeline with every default applied. Load starts from the
// same values.
func Default() Pipeline {
	return Pipeline{
		Source: Source{Kind: "stdin", Options: Options{}},
		Parser: Parser{Kind: "json"},
		Match: Match{
			Hash:          true,
			OnEmptySchema: "continue",
		},
		Upload: Upload{
			Mode:            ModeUpdate,
			BatchSize:       10000,
			QueueDepth:      2,
			RetryBackoff:    500 * time.Millisecond,
			RetryMaxBackoff: 30 * time.Second,
			OnUploadError:   "continue",
		},
		Graph: Graph{
			BaseURL: "https://graph.facebook.com/v11.0/",
			Timeout: 60 * time.Second,
		},
		Storage: Storage{Table: "audiencesync_batches"},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

// Options is a small helper to fetch typed values from free-form maps. It
// performs only minimal type coercion and returns the provided default when a
// key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64
// and YAML numbers as int, so both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return def
}

// Duration returns a duration for key. Strings are parsed with
// time.ParseDuration; numbers are taken as seconds.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch d := v.(type) {
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case float64:
		return time.Duration(d * float64(time.Second))
	case int:
		return time.Duration(d) * time.Second
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object.
// Non-string values are ignored.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		switch m := v.(type) {
		case map[string]any:
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		case map[string]string:
			for k, s := range m {
				res[k] = s
			}
		}
	}
	return res
}

// UnmarshalJSON decodes a missing or null "options" object to an empty,
// non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	*o = Options(tmp)
	return nil
}
