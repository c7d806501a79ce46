package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// AUDIENCESYNC_GRAPH_ACCESS_TOKEN overrides graph.access_token.
const EnvPrefix = "AUDIENCESYNC"

// Load reads a pipeline file (JSON or YAML, by extension) on top of Default()
// and applies environment overrides. An empty path loads defaults and
// environment only.
//
// envFiles are dotenv files loaded first; existing environment variables win.
// With no envFiles, ".env" is loaded when present.
func Load(path string, envFiles ...string) (Pipeline, error) {
	if err := loadDotenv(envFiles); err != nil {
		return Pipeline{}, err
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var p Pipeline
	if err := v.Unmarshal(&p); err != nil {
		return Pipeline{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if p.Source.Options == nil {
		p.Source.Options = Options{}
	}
	return p, nil
}

func loadDotenv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env files: %w", err)
	}
	return nil
}

// setDefaults registers every leaf of d so that AutomaticEnv can override
// keys that the file does not mention.
func setDefaults(v *viper.Viper, d Pipeline) {
	v.SetDefault("job", d.Job)

	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.options", map[string]any{})
	v.SetDefault("parser.kind", d.Parser.Kind)

	v.SetDefault("match.hash", d.Match.Hash)
	v.SetDefault("match.column_map", map[string]string{})
	v.SetDefault("match.dedupe", d.Match.Dedupe)
	v.SetDefault("match.on_empty_schema", d.Match.OnEmptySchema)

	v.SetDefault("upload.mode", d.Upload.Mode)
	v.SetDefault("upload.business_id", d.Upload.BusinessID)
	v.SetDefault("upload.ad_account_id", d.Upload.AdAccountID)
	v.SetDefault("upload.audience_id", d.Upload.AudienceID)
	v.SetDefault("upload.audience_name", d.Upload.AudienceName)
	v.SetDefault("upload.audience_description", d.Upload.AudienceDescription)
	v.SetDefault("upload.batch_size", d.Upload.BatchSize)
	v.SetDefault("upload.queue_depth", d.Upload.QueueDepth)
	v.SetDefault("upload.max_retries", d.Upload.MaxRetries)
	v.SetDefault("upload.retry_backoff", d.Upload.RetryBackoff)
	v.SetDefault("upload.retry_max_backoff", d.Upload.RetryMaxBackoff)
	v.SetDefault("upload.on_upload_error", d.Upload.OnUploadError)
	v.SetDefault("upload.estimated_total", d.Upload.EstimatedTotal)

	v.SetDefault("graph.base_url", d.Graph.BaseURL)
	v.SetDefault("graph.access_token", d.Graph.AccessToken)
	v.SetDefault("graph.timeout", d.Graph.Timeout)
	v.SetDefault("graph.max_retries", d.Graph.MaxRetries)
	v.SetDefault("graph.verify_token", d.Graph.VerifyToken)

	v.SetDefault("storage.kind", d.Storage.Kind)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.table", d.Storage.Table)

	v.SetDefault("metrics.backend", d.Metrics.Backend)
	v.SetDefault("metrics.pushgateway_url", d.Metrics.PushgatewayURL)
	v.SetDefault("metrics.datadog_addr", d.Metrics.DatadogAddr)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
