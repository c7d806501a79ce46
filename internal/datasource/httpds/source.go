package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Source streams the body of a GET request. It implements
// datasource.Source.
type Source struct {
	client  *Client
	url     string
	headers http.Header
}

// NewSource returns a Source that fetches rawURL with client.
func NewSource(client *Client, rawURL string, headers http.Header) *Source {
	return &Source{client: client, url: rawURL, headers: headers}
}

// Open issues the request and returns the response body. Any non-2xx status
// is an error.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	h := s.headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}

	resp, err := s.client.Get(ctx, s.url, h)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("httpds: open %s: status %d", redact(s.url), resp.StatusCode)
	}
	return resp.Body, nil
}
