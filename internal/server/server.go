// Package server exposes the action over HTTP so a scheduler or a BI tool can
// push an export and trigger a sync.
//
// Routes:
//
//	GET  /healthz  -> {"status":"ok"}
//	POST /execute  -> runs one sync; the request body is the JSON row export,
//	                  parameters come from the query string using the form
//	                  field names of action.Params
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"audiencesync/internal/action"
	"audiencesync/internal/datasource/file"
	"audiencesync/internal/logging"
	"audiencesync/internal/pipeline"
)

// Executor runs one request. *action.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, req action.Request) (action.Response, error)
}

// Server is the HTTP trigger.
type Server struct {
	exec   Executor
	router *chi.Mux
	server *http.Server

	// busy holds the audiences with a run in progress; the API rejects
	// overlapping sessions on one audience.
	mu   sync.Mutex
	busy map[string]bool
}

// New returns a Server with its routes installed.
func New(exec Executor) *Server {
	s := &Server{
		exec:   exec,
		router: chi.NewRouter(),
		busy:   map[string]bool{},
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/execute", s.handleExecute)
	return s
}

// Router returns the handler, for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logging.FromContext(context.Background()).Info("server: listening", zap.String("addr", addr))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for running syncs.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// executeResponse is the JSON body of POST /execute.
type executeResponse struct {
	State         action.State `json:"state"`
	Message       string       `json:"message,omitempty"`
	AudienceID    string       `json:"audience_id,omitempty"`
	RunID         string       `json:"run_id,omitempty"`
	SessionID     int64        `json:"session_id,omitempty"`
	Rows          int64        `json:"rows"`
	Records       int64        `json:"records"`
	Duplicates    int64        `json:"duplicates"`
	Batches       int64        `json:"batches"`
	FailedBatches int64        `json:"failed_batches"`
	NumReceived   int64        `json:"num_received"`
	NumInvalid    int64        `json:"num_invalid"`
	EmptySchema   bool         `json:"empty_schema,omitempty"`
	Tags          []string     `json:"schema,omitempty"`
	Errors        []string     `json:"errors,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := action.Params{
		BusinessID:          q.Get("choose_business"),
		AdAccountID:         q.Get("choose_ad_account"),
		Mode:                q.Get("choose_create_update_replace"),
		AudienceID:          q.Get("choose_custom_audience"),
		ShouldHash:          q.Get("should_hash"),
		AudienceName:        q.Get("create_audience_name"),
		AudienceDescription: q.Get("create_audience_description"),
	}

	if params.AudienceID != "" {
		if !s.acquire(params.AudienceID) {
			writeJSON(w, http.StatusConflict, executeResponse{
				State:      action.StateError,
				Message:    "a sync to this audience is already running",
				AudienceID: params.AudienceID,
			})
			return
		}
		defer s.release(params.AudienceID)
	}

	resp, err := s.exec.Execute(r.Context(), action.Request{
		Params: params,
		Source: file.NewReader(r.Body),
	})
	out := executeResponse{
		State:      resp.State,
		Message:    resp.Message,
		AudienceID: resp.AudienceID,
	}
	if res := resp.Result; res != nil {
		out.RunID = res.RunID
		out.SessionID = res.SessionID
		out.Rows = res.Rows
		out.Records = res.Records
		out.Duplicates = res.Duplicates
		out.Batches = res.Batches.Dispatched
		out.FailedBatches = res.Batches.Failed
		out.NumReceived = res.NumReceived
		out.NumInvalid = res.NumInvalid
		out.EmptySchema = res.EmptySchema
		out.Tags = res.Tags
		for _, e := range res.Errors {
			out.Errors = append(out.Errors, e.Error())
		}
	}
	writeJSON(w, statusFor(resp.State, err), out)
}

func (s *Server) acquire(audienceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[audienceID] {
		return false
	}
	s.busy[audienceID] = true
	return true
}

func (s *Server) release(audienceID string) {
	s.mu.Lock()
	delete(s.busy, audienceID)
	s.mu.Unlock()
}

// statusFor maps an execution outcome onto an HTTP status.
func statusFor(state action.State, err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case state == action.StateReauthRequired:
		return http.StatusUnauthorized
	case state == action.StatePartial:
		return http.StatusMultiStatus
	case errors.Is(err, action.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrParse), errors.Is(err, pipeline.ErrEmptySchema):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request through the context logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context()).Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
		)
	})
}
