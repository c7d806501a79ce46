// Package action is the entry point a host calls to run one sync: it checks
// the credential, creates the audience when asked to, opens the export and
// hands it to the pipeline with the upload endpoint the mode selects.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"audiencesync/internal/config"
	"audiencesync/internal/datasource"
	"audiencesync/internal/graph"
	"audiencesync/internal/logging"
	"audiencesync/internal/match"
	"audiencesync/internal/metrics"
	"audiencesync/internal/pipeline"
	"audiencesync/internal/scheduler"
	"audiencesync/internal/storage"
)

// Hashing toggles accepted in Params.ShouldHash.
const (
	DoHashing   = "do_hashing"
	DoNoHashing = "do_no_hashing"
)

// ErrInvalidParams is returned when the request parameters do not describe a
// runnable upload.
var ErrInvalidParams = errors.New("action: invalid parameters")

// State is the outcome a host shows to the user.
type State string

const (
	StateSuccess        State = "success"
	StateReauthRequired State = "reauth_required"
	// StatePartial means the run finished but some batches failed.
	StatePartial State = "partial"
	StateError   State = "error"
)

// Params is the parameter bag of one request. The JSON names are the form
// field names hosts send.
type Params struct {
	BusinessID          string `json:"choose_business"`
	AdAccountID         string `json:"choose_ad_account"`
	Mode                string `json:"choose_create_update_replace"`
	AudienceID          string `json:"choose_custom_audience"`
	ShouldHash          string `json:"should_hash"`
	AudienceName        string `json:"create_audience_name"`
	AudienceDescription string `json:"create_audience_description"`
}

// ParamsFromConfig fills Params from a pipeline file.
func ParamsFromConfig(p config.Pipeline) Params {
	hash := DoHashing
	if !p.Match.Hash {
		hash = DoNoHashing
	}
	return Params{
		BusinessID:          p.Upload.BusinessID,
		AdAccountID:         p.Upload.AdAccountID,
		Mode:                p.Upload.Mode,
		AudienceID:          p.Upload.AudienceID,
		ShouldHash:          hash,
		AudienceName:        p.Upload.AudienceName,
		AudienceDescription: p.Upload.AudienceDescription,
	}
}

// Validate checks that p names a mode and the ids that mode needs.
func (p Params) Validate() error {
	var missing []string
	switch p.Mode {
	case config.ModeCreate:
		if p.AdAccountID == "" {
			missing = append(missing, "choose_ad_account")
		}
		if strings.TrimSpace(p.AudienceName) == "" {
			missing = append(missing, "create_audience_name")
		}
	case config.ModeUpdate, config.ModeReplace:
		if p.AudienceID == "" {
			missing = append(missing, "choose_custom_audience")
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidParams, p.Mode)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: mode %s requires %s", ErrInvalidParams, p.Mode, strings.Join(missing, ", "))
	}
	switch p.ShouldHash {
	case "", DoHashing, DoNoHashing:
	default:
		return fmt.Errorf("%w: should_hash must be %s or %s", ErrInvalidParams, DoHashing, DoNoHashing)
	}
	return nil
}

// Request is one execution.
type Request struct {
	Params Params
	Source datasource.Source
}

// Response reports how a request ended. Result is set once the pipeline ran.
type Response struct {
	State      State
	Message    string
	AudienceID string
	Result     *pipeline.Result
}

// API is the part of *graph.Client an Executor uses.
type API interface {
	HasToken() bool
	CheckToken(ctx context.Context) (graph.User, error)
	CreateCustomAudience(ctx context.Context, adAccountID string, a graph.NewAudience) (string, error)
	AppendUsers(ctx context.Context, audienceID string, s graph.Session, p graph.Payload) (graph.UploadResult, error)
	ReplaceUsers(ctx context.Context, audienceID string, s graph.Session, p graph.Payload) (graph.UploadResult, error)
}

// Executor runs requests against one API with the settings of a pipeline
// file. It is safe for concurrent use; every Execute is its own run.
type Executor struct {
	api    API
	cfg    config.Pipeline
	ledger storage.Repository
}

// New returns an Executor. ledger may be nil.
func New(api API, cfg config.Pipeline, ledger storage.Repository) *Executor {
	return &Executor{api: api, cfg: cfg, ledger: ledger}
}

// Execute runs req. The returned error is nil only for StateSuccess; the
// Response is always filled in.
func (e *Executor) Execute(ctx context.Context, req Request) (Response, error) {
	p := req.Params
	if err := p.Validate(); err != nil {
		return Response{State: StateError, Message: err.Error()}, err
	}
	if req.Source == nil {
		err := fmt.Errorf("%w: no export source", ErrInvalidParams)
		return Response{State: StateError, Message: err.Error()}, err
	}

	job := e.cfg.Job
	ctx = logging.ContextWithFields(ctx, zap.String("mode", p.Mode))
	log := logging.FromContext(ctx)

	if err := e.checkCredential(ctx, job); err != nil {
		return failure(err), err
	}

	audienceID := p.AudienceID
	if p.Mode == config.ModeCreate {
		start := time.Now()
		id, err := e.api.CreateCustomAudience(ctx, p.AdAccountID, graph.NewAudience{
			Name:        p.AudienceName,
			Description: p.AudienceDescription,
		})
		metrics.RecordStep(job, "create_audience", err, time.Since(start))
		if err != nil {
			err = fmt.Errorf("action: create audience: %w", err)
			return failure(err), err
		}
		audienceID = id
		log.Info("action: audience created", zap.String("audience_id", id), zap.String("name", p.AudienceName))
	}

	upload := e.api.AppendUsers
	if p.Mode == config.ModeReplace {
		upload = e.api.ReplaceUsers
	}
	send := func(ctx context.Context, s graph.Session, pl graph.Payload) (graph.UploadResult, error) {
		return upload(ctx, audienceID, s, pl)
	}

	rc, err := req.Source.Open(ctx)
	if err != nil {
		err = fmt.Errorf("action: open export: %w", err)
		resp := failure(err)
		resp.AudienceID = audienceID
		return resp, err
	}
	defer rc.Close()

	start := time.Now()
	res, err := pipeline.Run(ctx, e.runConfig(p, audienceID), rc, send)
	metrics.RecordStep(job, "run", err, time.Since(start))

	resp := Response{AudienceID: audienceID, Result: &res}
	switch {
	case err != nil:
		r := failure(err)
		resp.State, resp.Message = r.State, r.Message
		if credentialLost(res.Errors) {
			resp.State = StateReauthRequired
		}
		return resp, err
	case credentialLost(res.Errors):
		err = fmt.Errorf("action: %d of %d batches failed: %w", res.Batches.Failed, res.Batches.Dispatched, graph.ErrMissingCredential)
		resp.State, resp.Message = StateReauthRequired, err.Error()
		return resp, err
	case res.Failed():
		err = fmt.Errorf("action: %d of %d batches failed: %w", res.Batches.Failed, res.Batches.Dispatched, errors.Join(res.Errors...))
		resp.State, resp.Message = StatePartial, err.Error()
		return resp, err
	}
	resp.State = StateSuccess
	resp.Message = fmt.Sprintf("uploaded %d records in %d batches", res.Records, res.Batches.Dispatched)
	return resp, nil
}

// checkCredential fails before any row is read when the token is missing or,
// with graph.verify_token set, rejected.
func (e *Executor) checkCredential(ctx context.Context, job string) error {
	if !e.api.HasToken() {
		return fmt.Errorf("action: %w", graph.ErrMissingCredential)
	}
	if !e.cfg.Graph.VerifyToken {
		return nil
	}
	start := time.Now()
	u, err := e.api.CheckToken(ctx)
	metrics.RecordStep(job, "verify_token", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("action: verify token: %w", err)
	}
	logging.FromContext(ctx).Debug("action: token verified", zap.String("user_id", u.ID))
	return nil
}

func (e *Executor) runConfig(p Params, audienceID string) pipeline.Config {
	u := e.cfg.Upload
	hashing := e.cfg.Match.Hash
	switch p.ShouldHash {
	case DoHashing:
		hashing = true
	case DoNoHashing:
		hashing = false
	}
	return pipeline.Config{
		Job:        e.cfg.Job,
		AudienceID: audienceID,
		Match: match.Config{
			ColumnMap: e.cfg.Match.ColumnMap,
		},
		Hashing:       hashing,
		Dedupe:        e.cfg.Match.Dedupe,
		OnEmptySchema: e.cfg.Match.OnEmptySchema,
		Scheduler: scheduler.Config{
			BatchSize:       u.BatchSize,
			QueueDepth:      u.QueueDepth,
			MaxRetries:      u.MaxRetries,
			RetryBackoff:    u.RetryBackoff,
			RetryMaxBackoff: u.RetryMaxBackoff,
			OnError:         scheduler.Policy(u.OnUploadError),
		},
		EstimatedTotal: u.EstimatedTotal,
		Ledger:         e.ledger,
	}
}

func failure(err error) Response {
	if errors.Is(err, graph.ErrMissingCredential) {
		return Response{State: StateReauthRequired, Message: err.Error()}
	}
	return Response{State: StateError, Message: err.Error()}
}

func credentialLost(errs []error) bool {
	for _, err := range errs {
		if errors.Is(err, graph.ErrMissingCredential) {
			return true
		}
	}
	return false
}
