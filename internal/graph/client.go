// Package graph is a small client for the Marketing API custom audience
// endpoints: discovery (me, businesses, ad accounts, audiences), audience
// creation, and the session-based users upload.
//
// Transport is the retrying httpds.Client; this package only builds requests
// and decodes responses. Error envelopes are decoded into *APIError, and token
// failures satisfy errors.Is(err, ErrMissingCredential).
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"audiencesync/internal/datasource/httpds"
)

// DefaultBaseURL is the versioned Graph API root.
const DefaultBaseURL = "https://graph.facebook.com/v11.0/"

const (
	tracerName = "audiencesync/internal/graph"

	// maxBody caps how much of a response body is read.
	maxBody = 4 << 20

	// maxPages bounds pagination on discovery listings.
	maxPages = 50
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	AccessToken string

	// HTTP configures the underlying transport (timeouts, retries on 429/5xx).
	HTTP httpds.Config
}

// Client calls the Graph API on behalf of one access token.
type Client struct {
	http  *httpds.Client
	base  string
	token string
}

// New returns a Client. An empty BaseURL uses DefaultBaseURL.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Client{
		http:  httpds.NewClient(cfg.HTTP),
		base:  base,
		token: strings.TrimSpace(cfg.AccessToken),
	}
}

// HasToken reports whether an access token is configured.
func (c *Client) HasToken() bool { return c.token != "" }

// CheckToken verifies the token by fetching the owner profile. It returns
// ErrMissingCredential when the token is absent or rejected.
func (c *Client) CheckToken(ctx context.Context) (User, error) {
	if !c.HasToken() {
		return User{}, ErrMissingCredential
	}
	return c.Me(ctx)
}

// Me returns the token owner.
func (c *Client) Me(ctx context.Context) (User, error) {
	body, err := c.call(ctx, "me", http.MethodGet, "me", nil)
	if err != nil {
		return User{}, err
	}
	return User{
		ID:   gjson.GetBytes(body, "id").String(),
		Name: gjson.GetBytes(body, "name").String(),
	}, nil
}

// Businesses lists the businesses the token owner belongs to.
func (c *Client) Businesses(ctx context.Context) ([]Named, error) {
	body, err := c.call(ctx, "businesses", http.MethodGet, "me?fields=businesses", nil)
	if err != nil {
		return nil, err
	}
	out := namedList(gjson.GetBytes(body, "businesses.data"))
	next := gjson.GetBytes(body, "businesses.paging.next").String()
	return c.follow(ctx, "businesses", out, next)
}

// AdAccounts lists the ad accounts owned by businessID. IDs are returned in
// their "act_" form.
func (c *Client) AdAccounts(ctx context.Context, businessID string) ([]Named, error) {
	path := url.PathEscape(businessID) + "/owned_ad_accounts?fields=name,account_id"
	return c.list(ctx, "owned_ad_accounts", path)
}

// CustomAudiences lists the custom audiences of an ad account.
func (c *Client) CustomAudiences(ctx context.Context, adAccountID string) ([]Named, error) {
	path := adAccountPath(adAccountID) + "/customaudiences?fields=name"
	return c.list(ctx, "customaudiences", path)
}

// CreateCustomAudience creates an empty customer-file audience and returns
// its id.
func (c *Client) CreateCustomAudience(ctx context.Context, adAccountID string, a NewAudience) (string, error) {
	if strings.TrimSpace(a.Name) == "" {
		return "", fmt.Errorf("graph: create audience: name must not be empty")
	}
	form := url.Values{}
	form.Set("name", a.Name)
	form.Set("description", a.Description)
	form.Set("subtype", "CUSTOM")
	form.Set("customer_file_source", "USER_PROVIDED_ONLY")

	body, err := c.call(ctx, "create_audience", http.MethodPost, adAccountPath(adAccountID)+"/customaudiences", form)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", fmt.Errorf("graph: create audience: response has no id")
	}
	return id, nil
}

// AppendUsers adds one batch of users to an audience.
func (c *Client) AppendUsers(ctx context.Context, audienceID string, s Session, p Payload) (UploadResult, error) {
	return c.upload(ctx, "users", audienceID, s, p)
}

// ReplaceUsers sends one batch of a replace session. The remote side removes
// all previous users once the last batch of the session is received.
func (c *Client) ReplaceUsers(ctx context.Context, audienceID string, s Session, p Payload) (UploadResult, error) {
	return c.upload(ctx, "usersreplace", audienceID, s, p)
}

func (c *Client) upload(ctx context.Context, edge, audienceID string, s Session, p Payload) (UploadResult, error) {
	if audienceID == "" {
		return UploadResult{}, fmt.Errorf("graph: %s: audience id must not be empty", edge)
	}
	sessionJSON, err := json.Marshal(s)
	if err != nil {
		return UploadResult{}, fmt.Errorf("graph: %s: encode session: %w", edge, err)
	}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return UploadResult{}, fmt.Errorf("graph: %s: encode payload: %w", edge, err)
	}

	form := url.Values{}
	form.Set("session", string(sessionJSON))
	form.Set("payload", string(payloadJSON))

	body, err := c.call(ctx, edge, http.MethodPost, url.PathEscape(audienceID)+"/"+edge, form,
		attribute.Int64("graph.session_id", s.ID),
		attribute.Int("graph.batch_seq", s.BatchSeq),
		attribute.Bool("graph.last_batch", s.LastBatch),
		attribute.Int("graph.records", len(p.Data)),
	)
	if err != nil {
		return UploadResult{}, err
	}

	res := UploadResult{
		AudienceID:  gjson.GetBytes(body, "audience_id").String(),
		SessionID:   gjson.GetBytes(body, "session_id").String(),
		NumReceived: gjson.GetBytes(body, "num_received").Int(),
		NumInvalid:  gjson.GetBytes(body, "num_invalid_entries").Int(),
	}
	if samples := gjson.GetBytes(body, "invalid_entry_samples"); samples.IsObject() {
		res.InvalidSample = make(map[string]string)
		samples.ForEach(func(k, v gjson.Result) bool {
			res.InvalidSample[k.String()] = v.String()
			return true
		})
	}
	return res, nil
}

// list fetches a {"data":[...],"paging":{...}} listing, following next links.
func (c *Client) list(ctx context.Context, op, path string) ([]Named, error) {
	body, err := c.call(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	out := namedList(gjson.GetBytes(body, "data"))
	return c.follow(ctx, op, out, gjson.GetBytes(body, "paging.next").String())
}

func (c *Client) follow(ctx context.Context, op string, out []Named, next string) ([]Named, error) {
	for page := 1; next != "" && page < maxPages; page++ {
		body, err := c.fetch(ctx, op, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, namedList(gjson.GetBytes(body, "data"))...)
		next = gjson.GetBytes(body, "paging.next").String()
	}
	return out, nil
}

// call resolves path against the base URL and adds the access token.
func (c *Client) call(ctx context.Context, op, method, path string, form url.Values, attrs ...attribute.KeyValue) ([]byte, error) {
	if !c.HasToken() {
		return nil, ErrMissingCredential
	}
	u, err := url.Parse(c.base + strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("graph: %s: build url: %w", op, err)
	}
	q := u.Query()
	q.Set("access_token", c.token)
	u.RawQuery = q.Encode()
	return c.fetch(ctx, op, method, u.String(), form, attrs...)
}

func (c *Client) fetch(ctx context.Context, op, method, rawURL string, form url.Values, attrs ...attribute.KeyValue) ([]byte, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "graph."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("http.method", method))...),
	)
	defer span.End()
	start := time.Now()

	var (
		payload []byte
		headers = http.Header{}
	)
	headers.Set("Accept", "application/json")
	if form != nil {
		payload = []byte(form.Encode())
		headers.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(ctx, method, rawURL, payload, headers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("graph: %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("graph: %s: read body: %w", op, err)
	}
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int64("graph.duration_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseError(resp.StatusCode, body)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, apiErr
	}
	// Some Graph errors arrive with status 200.
	if env := gjson.GetBytes(body, "error"); env.Exists() && env.IsObject() {
		apiErr := parseError(resp.StatusCode, body)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, apiErr
	}
	return body, nil
}

func namedList(r gjson.Result) []Named {
	out := make([]Named, 0, len(r.Array()))
	for _, item := range r.Array() {
		out = append(out, Named{
			ID:   item.Get("id").String(),
			Name: item.Get("name").String(),
		})
	}
	return out
}

// adAccountPath returns "act_<id>", accepting ids with or without the prefix.
func adAccountPath(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "act_") {
		return url.PathEscape(id)
	}
	return "act_" + url.PathEscape(id)
}
