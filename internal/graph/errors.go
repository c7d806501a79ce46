package graph

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrMissingCredential means the access token is absent, expired or revoked.
// The user has to log in again before any upload can run.
var ErrMissingCredential = errors.New("graph: missing or invalid credential")

// codeOAuthException is the Graph error code for invalid or expired tokens.
const codeOAuthException = 190

// APIError is a Graph API error envelope:
//
//	{"error":{"message":"...","type":"OAuthException","code":190,"error_subcode":463,"fbtrace_id":"..."}}
type APIError struct {
	Status    int
	Message   string
	Type      string
	Code      int64
	Subcode   int64
	UserTitle string
	TraceID   string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != 0 {
		return fmt.Sprintf("graph: %s (status=%d code=%d subcode=%d type=%s)", msg, e.Status, e.Code, e.Subcode, e.Type)
	}
	return fmt.Sprintf("graph: %s (status=%d)", msg, e.Status)
}

// Is reports ErrMissingCredential for token failures so callers can use
// errors.Is without unpacking the envelope.
func (e *APIError) Is(target error) bool {
	return target == ErrMissingCredential &&
		(e.Code == codeOAuthException || e.Status == http.StatusUnauthorized)
}

// parseError builds an *APIError from a non-2xx response body.
func parseError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if !gjson.ValidBytes(body) {
		e.Message = truncate(string(body), 200)
		return e
	}
	env := gjson.GetBytes(body, "error")
	if !env.Exists() {
		e.Message = truncate(string(body), 200)
		return e
	}
	e.Message = env.Get("message").String()
	e.Type = env.Get("type").String()
	e.Code = env.Get("code").Int()
	e.Subcode = env.Get("error_subcode").Int()
	e.UserTitle = env.Get("error_user_title").String()
	e.TraceID = env.Get("fbtrace_id").String()
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
