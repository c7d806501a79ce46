// Package pipeline runs one sync: it streams rows out of an export, resolves
// the column schema from the first row, turns every row into a record and
// hands the records to the batch scheduler, which uploads them in sequence.
//
// Concurrency model:
//
//	producer goroutine: parser -> resolver (once) -> transformer -> scheduler.Add
//	uploader goroutine: scheduler.Run -> UploadFunc (one batch at a time)
//
// The two sides are decoupled by the scheduler's bounded batch channel; when
// it is full the producer blocks and the parser stops reading input.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"audiencesync/internal/graph"
	"audiencesync/internal/logging"
	"audiencesync/internal/match"
	"audiencesync/internal/metrics"
	jsonparser "audiencesync/internal/parser/json"
	"audiencesync/internal/scheduler"
	"audiencesync/internal/storage"
	"audiencesync/internal/transformer"
)

var (
	// ErrParse wraps a malformed export. Batches dispatched before the
	// failure were still uploaded; no final batch was sent.
	ErrParse = errors.New("pipeline: parse failure")

	// ErrEmptySchema is returned under OnEmptySchema "fail" when no column
	// of the first row maps to an identifier.
	ErrEmptySchema = errors.New("pipeline: no column maps to a user identifier")

	// ErrUploadAborted is returned when a batch failed under the abort policy.
	ErrUploadAborted = errors.New("pipeline: upload aborted")
)

// Empty-schema policies.
const (
	OnEmptyContinue = "continue"
	OnEmptyFail     = "fail"
)

// maxErrors caps the per-batch errors kept in a Result.
const maxErrors = 3

// UploadFunc sends one batch of a session to the audience.
type UploadFunc func(ctx context.Context, s graph.Session, p graph.Payload) (graph.UploadResult, error)

// Config describes one run.
type Config struct {
	Job        string
	AudienceID string

	Match   match.Config
	Hashing bool
	Dedupe  bool

	// OnEmptySchema is OnEmptyContinue (default) or OnEmptyFail.
	OnEmptySchema string

	Scheduler scheduler.Config

	// EstimatedTotal, when positive, is sent as estimated_num_total.
	EstimatedTotal int64

	// Ledger, when set, receives one row per settled batch.
	Ledger storage.Repository

	// SessionID defaults to the start time in Unix milliseconds; RunID to a
	// random UUID.
	SessionID int64
	RunID     string
}

// Result summarizes a run. It is filled in even when Run returns an error.
type Result struct {
	RunID     string
	SessionID int64

	Rows       int64
	Records    int64
	Duplicates int64

	Batches scheduler.Stats

	EmptySchema bool
	Schema      string
	Tags        []string

	// NumReceived and NumInvalid add up the API's per-batch counts.
	NumReceived int64
	NumInvalid  int64

	// Errors holds the first upload failures; Batches.Failed has the total.
	Errors []error
}

// Failed reports whether any batch failed to upload.
func (r Result) Failed() bool { return r.Batches.Failed > 0 }

// Run parses src and uploads its records with upload. It returns once the
// uploader has settled every dispatched batch.
func Run(ctx context.Context, cfg Config, src io.Reader, upload UploadFunc) (Result, error) {
	resolver, err := match.NewResolver(cfg.Match)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.SessionID == 0 {
		cfg.SessionID = time.Now().UnixMilli()
	}
	if cfg.OnEmptySchema == "" {
		cfg.OnEmptySchema = OnEmptyContinue
	}

	res := Result{RunID: cfg.RunID, SessionID: cfg.SessionID}

	ctx = logging.WithRunID(ctx, cfg.RunID)
	ctx = logging.ContextWithFields(ctx,
		zap.String("job", cfg.Job),
		zap.String("audience_id", cfg.AudienceID),
		zap.Int64("session_id", cfg.SessionID),
	)
	log := logging.FromContext(ctx)

	// Written by the producer before the first batch is dispatched; the
	// channel send orders it before any read on the uploader side.
	var tags []string

	send := func(ctx context.Context, b scheduler.Batch) error {
		data := make([][]string, len(b.Records))
		for i, r := range b.Records {
			data[i] = r
		}
		out, err := upload(ctx,
			graph.Session{
				ID:                cfg.SessionID,
				BatchSeq:          b.Seq,
				LastBatch:         b.Final,
				EstimatedNumTotal: cfg.EstimatedTotal,
			},
			graph.Payload{Schema: tags, Data: data},
		)
		if err != nil {
			return err
		}
		res.NumReceived += out.NumReceived
		res.NumInvalid += out.NumInvalid
		if out.NumInvalid > 0 {
			log.Warn("pipeline: API rejected entries",
				zap.Int("seq", b.Seq),
				zap.Int64("invalid", out.NumInvalid),
				zap.Any("samples", out.InvalidSample),
			)
		}
		return nil
	}

	schedCfg := cfg.Scheduler
	userHook := schedCfg.OnBatchDone
	schedCfg.OnBatchDone = func(o scheduler.Outcome) {
		settled(ctx, cfg, o)
		if userHook != nil {
			userHook(o)
		}
	}
	sched := scheduler.New(schedCfg, send)

	pctx, stop := context.WithCancel(ctx)
	defer stop()

	var tr *transformer.Transformer
	onRow := func(row *transformer.Row) error {
		if tr == nil {
			schema := resolver.Resolve(row.Columns)
			tags = schema.Tags()
			res.Schema = schema.String()
			res.Tags = tags
			if len(schema.Applicable) == 0 {
				res.EmptySchema = true
				log.Warn("pipeline: empty schema, rows will produce no records",
					zap.Strings("columns", row.Columns),
					zap.String("mapped", res.Schema),
				)
				if cfg.OnEmptySchema == OnEmptyFail {
					return ErrEmptySchema
				}
			} else {
				log.Info("pipeline: schema resolved",
					zap.String("schema", res.Schema),
					zap.Strings("tags", tags),
				)
			}
			tr = transformer.New(schema, transformer.Options{Hashing: cfg.Hashing, Dedupe: cfg.Dedupe})
		}

		rec, ok := tr.Transform(row)
		if !ok {
			return nil
		}
		return sched.Add(pctx, rec)
	}

	var (
		g          errgroup.Group
		produceErr error
		uploadErr  error
	)
	g.Go(func() error {
		uploadErr = sched.Run(ctx)
		if uploadErr != nil {
			// Unblock the producer; batches not yet dispatched are dropped.
			stop()
		}
		return nil
	})
	g.Go(func() error {
		n, err := jsonparser.StreamRows(pctx, src, onRow)
		res.Rows = int64(n)
		if err != nil {
			produceErr = err
			sched.Abandon()
			log.Warn("pipeline: ingestion stopped",
				zap.Int("rows", n),
				zap.Int("dispatched", sched.Seq()),
				zap.Error(err),
			)
			return nil
		}
		produceErr = sched.Close(pctx)
		return nil
	})
	_ = g.Wait()

	if tr != nil {
		st := tr.Stats()
		res.Records, res.Duplicates = st.Records, st.Duplicates
	}
	res.Batches = sched.Stats()
	if errs := sched.Errors(); len(errs) > maxErrors {
		res.Errors = errs[:maxErrors]
	} else {
		res.Errors = errs
	}

	metrics.RecordRecords(cfg.Job, "rows", res.Rows)
	metrics.RecordRecords(cfg.Job, "produced", res.Records)
	metrics.RecordRecords(cfg.Job, "duplicates", res.Duplicates)
	metrics.RecordRecords(cfg.Job, "uploaded", res.NumReceived)
	metrics.RecordRecords(cfg.Job, "invalid", res.NumInvalid)

	err = runError(ctx, produceErr, uploadErr)
	fields := []zap.Field{
		zap.Int64("rows", res.Rows),
		zap.Int64("records", res.Records),
		zap.Int64("duplicates", res.Duplicates),
		zap.Int64("batches", res.Batches.Dispatched),
		zap.Int64("failed_batches", res.Batches.Failed),
		zap.Int64("num_received", res.NumReceived),
		zap.Int64("num_invalid", res.NumInvalid),
	}
	if err != nil {
		log.Error("pipeline: run failed", append(fields, zap.Error(err))...)
		return res, err
	}
	log.Info("pipeline: run complete", fields...)
	return res, nil
}

// runError picks the error Run reports. An abort wins over the producer
// error it caused; a parse failure wins over cancellation.
func runError(ctx context.Context, produceErr, uploadErr error) error {
	var pe *jsonparser.ParseError
	switch {
	case errors.Is(uploadErr, scheduler.ErrAborted):
		return fmt.Errorf("%w: %w", ErrUploadAborted, uploadErr)
	case errors.As(produceErr, &pe):
		return fmt.Errorf("%w: %w", ErrParse, produceErr)
	case ctx.Err() != nil:
		return ctx.Err()
	case produceErr != nil:
		return produceErr
	case uploadErr != nil:
		return fmt.Errorf("pipeline: upload: %w", uploadErr)
	}
	return nil
}

// settled records one batch outcome in metrics and the ledger.
func settled(ctx context.Context, cfg Config, o scheduler.Outcome) {
	status := storage.StatusOK
	if o.Err != nil {
		status = storage.StatusFailed
	}
	metrics.RecordBatch(cfg.Job, status, o.Records, o.Attempts, o.Duration)

	if cfg.Ledger == nil {
		return
	}
	rec := storage.BatchRecord{
		RunID:      cfg.RunID,
		Job:        cfg.Job,
		SessionID:  cfg.SessionID,
		AudienceID: cfg.AudienceID,
		Seq:        o.Seq,
		Final:      o.Final,
		Records:    o.Records,
		Status:     status,
		Attempts:   o.Attempts,
		StartedAt:  o.Started,
		Duration:   o.Duration,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	// The outcome of a batch cut short by cancellation is still recorded.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := cfg.Ledger.RecordBatch(lctx, rec); err != nil {
		logging.FromContext(ctx).Warn("pipeline: ledger write failed", zap.Int("seq", o.Seq), zap.Error(err))
	}
}
