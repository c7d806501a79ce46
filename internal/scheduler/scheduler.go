// Package scheduler groups transformed records into sequenced batches and
// uploads them one at a time.
//
// The producer side (Add, Close, Abandon) runs on the parser goroutine. Run
// hosts the single uploader goroutine, which drains a bounded batch channel in
// FIFO order. Because there is exactly one uploader, at most one upload is in
// flight at any instant; a full channel blocks the producer, which in turn
// stops the parser from reading further input.
//
// Flush rule:
//
//   - When the row queue reaches BatchSize records, the first BatchSize-1 are
//     sliced off into a non-final batch.
//   - Close slices whatever is left (possibly nothing) into the final batch.
//
// Sequence numbers start at 1 and increase by one per dispatched batch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"audiencesync/internal/backoff"
	"audiencesync/internal/logging"
	"audiencesync/internal/transformer"
)

// ErrAborted is returned by Run when an upload failed under PolicyAbort.
var ErrAborted = errors.New("scheduler: upload aborted")

// ErrClosed is returned by Add after Close or Abandon.
var ErrClosed = errors.New("scheduler: closed")

// Policy selects what happens after a batch exhausted its retries.
type Policy string

const (
	// PolicyContinue logs the failure and keeps uploading later batches.
	PolicyContinue Policy = "continue"
	// PolicyAbort stops the run; batches not yet uploaded are dropped.
	PolicyAbort Policy = "abort"
)

// DefaultBatchSize is the largest request the users endpoint accepts.
const DefaultBatchSize = 10000

// Batch is one upload unit.
type Batch struct {
	Seq     int
	Final   bool
	Records []transformer.Record
}

// UploadFunc performs one upload attempt for b.
type UploadFunc func(ctx context.Context, b Batch) error

// Outcome describes a settled batch.
type Outcome struct {
	Seq      int
	Final    bool
	Records  int
	Attempts int
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Config configures a Scheduler. Zero values get defaults (see New).
type Config struct {
	BatchSize  int
	QueueDepth int

	MaxRetries      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	OnError         Policy

	// OnBatchDone, when set, is called from the uploader goroutine after each
	// batch settles.
	OnBatchDone func(Outcome)
}

// State is the observable uploader state.
type State int32

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Stats are the scheduler's counters.
type Stats struct {
	Dispatched int64
	Succeeded  int64
	Failed     int64
}

// Scheduler is the batch state machine of one run.
type Scheduler struct {
	cfg    Config
	upload UploadFunc

	// producer side, owned by the caller goroutine
	queue  []transformer.Record
	seq    int
	closed bool

	batches   chan Batch
	closeOnce sync.Once
	done      chan struct{}

	state      atomic.Int32
	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64

	mu   sync.Mutex
	errs []error
}

// New returns a Scheduler that uploads through upload.
//
// Defaults: BatchSize 10000 (minimum 2), QueueDepth 2, OnError continue,
// RetryBackoff 500ms, RetryMaxBackoff 30s.
func New(cfg Config, upload UploadFunc) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize < 2 {
		cfg.BatchSize = 2
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.RetryMaxBackoff <= 0 {
		cfg.RetryMaxBackoff = 30 * time.Second
	}
	if cfg.OnError == "" {
		cfg.OnError = PolicyContinue
	}
	return &Scheduler{
		cfg:     cfg,
		upload:  upload,
		queue:   make([]transformer.Record, 0, cfg.BatchSize),
		batches: make(chan Batch, cfg.QueueDepth),
		done:    make(chan struct{}),
	}
}

// Add queues rec and dispatches a batch when the flush rule triggers. It
// blocks while the batch channel is full.
func (s *Scheduler) Add(ctx context.Context, rec transformer.Record) error {
	if s.closed {
		return ErrClosed
	}
	s.queue = append(s.queue, rec)
	if len(s.queue) < s.cfg.BatchSize {
		return nil
	}
	return s.dispatch(ctx, s.cfg.BatchSize-1, false)
}

// Close dispatches the final batch with every queued record, even when
// there are none, and closes the batch channel.
func (s *Scheduler) Close(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	err := s.dispatch(ctx, len(s.queue), true)
	s.closed = true
	s.closeOnce.Do(func() { close(s.batches) })
	return err
}

// Abandon closes the batch channel without a final batch. Batches already
// dispatched are still uploaded.
func (s *Scheduler) Abandon() {
	s.closed = true
	s.queue = s.queue[:0]
	s.closeOnce.Do(func() { close(s.batches) })
}

func (s *Scheduler) dispatch(ctx context.Context, n int, final bool) error {
	b := Batch{
		Seq:     s.seq + 1,
		Final:   final,
		Records: append([]transformer.Record(nil), s.queue[:n]...),
	}
	s.queue = append(s.queue[:0], s.queue[n:]...)

	// A ready send could otherwise win the select below after an abort.
	select {
	case <-s.done:
		return ErrAborted
	default:
	}

	select {
	case s.batches <- b:
		s.seq = b.Seq
		s.dispatched.Add(1)
		return nil
	case <-s.done:
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the uploader loop. It returns nil once the channel is closed and
// drained, ErrAborted after a failure under PolicyAbort, or ctx's error.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)
	log := logging.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-s.batches:
			if !ok {
				log.Debug("scheduler: input closed",
					zap.Int64("dispatched", s.dispatched.Load()),
					zap.Int64("failed", s.failed.Load()),
				)
				return nil
			}
			out := s.send(ctx, b)
			if out.Err == nil {
				continue
			}
			if errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			if s.cfg.OnError == PolicyAbort {
				return fmt.Errorf("%w: batch %d: %v", ErrAborted, b.Seq, out.Err)
			}
		}
	}
}

// send uploads b with retries and reports the outcome.
func (s *Scheduler) send(ctx context.Context, b Batch) Outcome {
	s.state.Store(int32(Draining))
	defer s.state.Store(int32(Idle))

	log := logging.FromContext(ctx)
	out := Outcome{Seq: b.Seq, Final: b.Final, Records: len(b.Records), Started: time.Now()}

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			d := backoff.Duration(s.cfg.RetryBackoff, attempt-1, s.cfg.RetryMaxBackoff)
			log.Warn("scheduler: retrying batch",
				zap.Int("seq", b.Seq),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", d),
				zap.Error(out.Err),
			)
			if err := backoff.Sleep(ctx, d); err != nil {
				out.Err = err
				break
			}
		}
		out.Attempts++
		out.Err = s.upload(ctx, b)
		if out.Err == nil || ctx.Err() != nil {
			break
		}
	}
	out.Duration = time.Since(out.Started)

	if out.Err != nil {
		s.failed.Add(1)
		s.mu.Lock()
		s.errs = append(s.errs, fmt.Errorf("batch %d: %w", b.Seq, out.Err))
		s.mu.Unlock()
		log.Error("scheduler: batch failed",
			zap.Int("seq", b.Seq),
			zap.Bool("final", b.Final),
			zap.Int("records", out.Records),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err),
		)
	} else {
		s.succeeded.Add(1)
		log.Info("scheduler: batch uploaded",
			zap.Int("seq", b.Seq),
			zap.Bool("final", b.Final),
			zap.Int("records", out.Records),
			zap.Duration("took", out.Duration.Truncate(time.Millisecond)),
		)
	}

	if s.cfg.OnBatchDone != nil {
		s.cfg.OnBatchDone(out)
	}
	return out
}

// State reports whether an upload is in progress.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Seq returns the sequence number of the last dispatched batch.
func (s *Scheduler) Seq() int { return s.seq }

// Pending returns the number of queued records not yet in a batch.
func (s *Scheduler) Pending() int { return len(s.queue) }

// Stats returns the counters so far.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Dispatched: s.dispatched.Load(),
		Succeeded:  s.succeeded.Load(),
		Failed:     s.failed.Load(),
	}
}

// Errors returns the per-batch upload failures in upload order.
func (s *Scheduler) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}
