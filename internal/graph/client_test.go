package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeGraph records requests and answers from a path → handler table.
type fakeGraph struct {
	mu       sync.Mutex
	requests []*http.Request
	forms    []url.Values
	routes   map[string]http.HandlerFunc
}

func newFakeGraph(t *testing.T, routes map[string]http.HandlerFunc) (*fakeGraph, *Client) {
	t.Helper()
	f := &fakeGraph{routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		f.mu.Lock()
		f.requests = append(f.requests, r)
		f.forms = append(f.forms, form)
		f.mu.Unlock()

		if r.URL.Query().Get("access_token") != "tok" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190,"fbtrace_id":"abc"}}`)
			return
		}
		h, ok := f.routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"message":"Unknown path","type":"GraphMethodException","code":100}}`)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, New(Config{BaseURL: srv.URL + "/v11.0", AccessToken: "tok"})
}

func jsonReply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestPayload_MarshalSingleSchemaIsScalar(t *testing.T) {
	p := Payload{Schema: []string{"EMAIL_SHA256"}, Data: [][]string{{"h1"}, {"h2"}}}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `{"schema":"EMAIL_SHA256","data":["h1","h2"]}`, string(b))
}

func TestPayload_MarshalMultiSchema(t *testing.T) {
	p := Payload{
		Schema: []string{"EMAIL_SHA256", "LN_FN_ZIP"},
		Data:   [][]string{{"h1", "k1"}, {"", "k2"}},
	}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `{"schema":["EMAIL_SHA256","LN_FN_ZIP"],"data":[["h1","k1"],["","k2"]]}`, string(b))
}

func TestPayload_MarshalEmptyFinalBatch(t *testing.T) {
	b, err := json.Marshal(Payload{Schema: []string{"EMAIL_SHA256"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"schema":"EMAIL_SHA256","data":[]}`, string(b))
}

func TestPayload_MarshalShapeMismatch(t *testing.T) {
	_, err := json.Marshal(Payload{Schema: []string{"A", "B"}, Data: [][]string{{"x"}}})
	require.Error(t, err)
}

func TestSession_Marshal(t *testing.T) {
	b, err := json.Marshal(Session{ID: 1700000000000, BatchSeq: 2, LastBatch: true})
	require.NoError(t, err)
	require.JSONEq(t, `{"session_id":1700000000000,"batch_seq":2,"last_batch_flag":true}`, string(b))

	b, err = json.Marshal(Session{ID: 1, BatchSeq: 1, EstimatedNumTotal: 500})
	require.NoError(t, err)
	require.JSONEq(t, `{"session_id":1,"batch_seq":1,"last_batch_flag":false,"estimated_num_total":500}`, string(b))
}

/*
TestAppendUsers_FormEncoding checks the wire shape of one users upload: a
form POST to /{audience}/users whose session and payload fields are JSON
documents, with the token in the query string.
*/
func TestAppendUsers_FormEncoding(t *testing.T) {
	f, c := newFakeGraph(t, map[string]http.HandlerFunc{
		"POST /v11.0/123/users": jsonReply(`{"audience_id":"123","session_id":"99","num_received":2,"num_invalid_entries":0}`),
	})

	res, err := c.AppendUsers(context.Background(), "123",
		Session{ID: 99, BatchSeq: 1, LastBatch: true},
		Payload{Schema: []string{"EMAIL_SHA256"}, Data: [][]string{{"h1"}, {"h2"}}},
	)
	require.NoError(t, err)
	require.Equal(t, UploadResult{AudienceID: "123", SessionID: "99", NumReceived: 2}, res)

	require.Len(t, f.forms, 1)
	require.JSONEq(t, `{"session_id":99,"batch_seq":1,"last_batch_flag":true}`, f.forms[0].Get("session"))
	require.JSONEq(t, `{"schema":"EMAIL_SHA256","data":["h1","h2"]}`, f.forms[0].Get("payload"))
	require.Equal(t, "application/x-www-form-urlencoded", f.requests[0].Header.Get("Content-Type"))
}

func TestReplaceUsers_UsesReplaceEdge(t *testing.T) {
	f, c := newFakeGraph(t, map[string]http.HandlerFunc{
		"POST /v11.0/123/usersreplace": jsonReply(`{"audience_id":"123","session_id":"5","num_received":1,"num_invalid_entries":1,"invalid_entry_samples":{"x":"bad"}}`),
	})

	res, err := c.ReplaceUsers(context.Background(), "123",
		Session{ID: 5, BatchSeq: 1, LastBatch: true},
		Payload{Schema: []string{"EMAIL_SHA256"}, Data: [][]string{{"h1"}}},
	)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.NumInvalid)
	require.Equal(t, map[string]string{"x": "bad"}, res.InvalidSample)
	require.Equal(t, "/v11.0/123/usersreplace", f.requests[0].URL.Path)
}

func TestCreateCustomAudience(t *testing.T) {
	f, c := newFakeGraph(t, map[string]http.HandlerFunc{
		"POST /v11.0/act_42/customaudiences": jsonReply(`{"id":"777"}`),
	})

	for _, account := range []string{"42", "act_42"} {
		id, err := c.CreateCustomAudience(context.Background(), account, NewAudience{Name: "VIPs", Description: "top buyers"})
		require.NoError(t, err)
		require.Equal(t, "777", id)
	}

	form := f.forms[0]
	require.Equal(t, "VIPs", form.Get("name"))
	require.Equal(t, "top buyers", form.Get("description"))
	require.Equal(t, "CUSTOM", form.Get("subtype"))
	require.Equal(t, "USER_PROVIDED_ONLY", form.Get("customer_file_source"))

	_, err := c.CreateCustomAudience(context.Background(), "42", NewAudience{})
	require.Error(t, err)
}

func TestDiscovery(t *testing.T) {
	var srvURL string
	f, c := newFakeGraph(t, map[string]http.HandlerFunc{
		"GET /v11.0/me": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("fields") == "businesses" {
				jsonReply(`{"id":"1","businesses":{"data":[{"id":"b1","name":"Acme"},{"id":"b2","name":"Globex"}]}}`)(w, r)
				return
			}
			jsonReply(`{"id":"1","name":"Jo"}`)(w, r)
		},
		"GET /v11.0/b1/owned_ad_accounts": jsonReply(`{"data":[{"name":"Main","account_id":"42","id":"act_42"}]}`),
		"GET /v11.0/act_42/customaudiences": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("after") == "" {
				jsonReply(`{"data":[{"id":"a1","name":"First"}],"paging":{"next":"` + srvURL + `/v11.0/act_42/customaudiences?access_token=tok&after=x"}}`)(w, r)
				return
			}
			jsonReply(`{"data":[{"id":"a2","name":"Second"}],"paging":{}}`)(w, r)
		},
	})
	srvURL = strings.TrimSuffix(c.base, "/v11.0/")

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, User{ID: "1", Name: "Jo"}, me)

	biz, err := c.Businesses(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Named{{ID: "b1", Name: "Acme"}, {ID: "b2", Name: "Globex"}}, biz)

	accts, err := c.AdAccounts(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, []Named{{ID: "act_42", Name: "Main"}}, accts)

	auds, err := c.CustomAudiences(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, []Named{{ID: "a1", Name: "First"}, {ID: "a2", Name: "Second"}}, auds)

	require.Equal(t, "name", f.requests[len(f.requests)-2].URL.Query().Get("fields"))
}

func TestAPIError_InvalidToken(t *testing.T) {
	f, c := newFakeGraph(t, nil)
	c.token = "expired"

	_, err := c.Me(context.Background())
	require.ErrorIs(t, err, ErrMissingCredential)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.EqualValues(t, 190, apiErr.Code)
	require.Equal(t, "OAuthException", apiErr.Type)
	require.Equal(t, "abc", apiErr.TraceID)
	require.Len(t, f.requests, 1)
}

func TestAPIError_NotCredential(t *testing.T) {
	_, c := newFakeGraph(t, nil)

	_, err := c.AppendUsers(context.Background(), "404", Session{ID: 1, BatchSeq: 1}, Payload{Schema: []string{"EMAIL_SHA256"}})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrMissingCredential))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.EqualValues(t, 100, apiErr.Code)
}

func TestParseError_Unauthorized(t *testing.T) {
	err := parseError(http.StatusUnauthorized, []byte("denied"))
	require.ErrorIs(t, err, ErrMissingCredential)
	require.Equal(t, "denied", err.Message)
}

func TestMissingTokenShortCircuits(t *testing.T) {
	f, c := newFakeGraph(t, nil)
	c.token = ""

	_, err := c.CheckToken(context.Background())
	require.ErrorIs(t, err, ErrMissingCredential)
	_, err = c.AppendUsers(context.Background(), "1", Session{}, Payload{})
	require.ErrorIs(t, err, ErrMissingCredential)
	require.Empty(t, f.requests)
}

func TestAdAccountPath(t *testing.T) {
	require.Equal(t, "act_42", adAccountPath("42"))
	require.Equal(t, "act_42", adAccountPath(" act_42 "))
}
