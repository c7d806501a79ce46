// Package datasource defines where a row export comes from.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"audiencesync/internal/datasource/file"
	"audiencesync/internal/datasource/httpds"
)

// Source supplies the byte stream of one export. It is opened once per run.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Supported source kinds.
const (
	KindFile  = "file"
	KindStdin = "stdin"
	KindHTTP  = "http"
)

// Config selects and configures a Source.
type Config struct {
	Kind string

	// Path is the file path for KindFile.
	Path string

	// URL and Headers are used by KindHTTP.
	URL     string
	Headers map[string]string

	Timeout            time.Duration
	MaxRetries         int
	InsecureSkipVerify bool
}

// New builds the Source described by cfg.
func New(cfg Config) (Source, error) {
	switch cfg.Kind {
	case KindFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("datasource: file source needs a path")
		}
		return file.NewLocal(cfg.Path), nil
	case KindStdin, "":
		return file.NewStdin(), nil
	case KindHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("datasource: http source needs a url")
		}
		h := http.Header{}
		for k, v := range cfg.Headers {
			h.Set(k, v)
		}
		client := httpds.NewClient(httpds.Config{
			Timeout:            cfg.Timeout,
			MaxRetries:         cfg.MaxRetries,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
		return httpds.NewSource(client, cfg.URL, h), nil
	default:
		return nil, fmt.Errorf("datasource: unsupported kind %q", cfg.Kind)
	}
}
