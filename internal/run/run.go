// Package run composes validation, fingerprinting, the cache, the remote
// execution client and the result fetcher into one query invocation.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/queryctl/queryctl/internal/cache"
	qerrors "github.com/queryctl/queryctl/internal/errors"
	"github.com/queryctl/queryctl/internal/exec"
	"github.com/queryctl/queryctl/internal/fetch"
	"github.com/queryctl/queryctl/internal/fingerprint"
	"github.com/queryctl/queryctl/internal/observability"
	"github.com/queryctl/queryctl/internal/poll"
	"github.com/queryctl/queryctl/internal/validate"
)

// Request is one immutable query invocation.
type Request struct {
	SQL            string
	Database       string
	Workgroup      string
	OutputLocation string
}

// Options tune a single invocation.
type Options struct {
	// UseCache enables the cache lookup before submission. Successful
	// executions are written to the cache regardless.
	UseCache bool
	// Freshness is the window within which a cached entry is served.
	Freshness time.Duration
	// Timeout bounds submission plus polling. Zero means no deadline.
	Timeout time.Duration
}

// OutcomeKind tags the variant of an Outcome.
type OutcomeKind string

const (
	OutcomeCacheHit           OutcomeKind = "cache_hit"
	OutcomeSuccess            OutcomeKind = "success"
	OutcomeFailed             OutcomeKind = "failed"
	OutcomeValidationRejected OutcomeKind = "validation_rejected"
)

// Outcome is the single result type of Run. Entry and Results are set for
// OutcomeCacheHit and OutcomeSuccess, Err for OutcomeFailed, Validation for
// OutcomeValidationRejected. The caller owns Results and must close it.
type Outcome struct {
	Kind       OutcomeKind
	Entry      cache.Entry
	Results    fetch.ResultSet
	Err        error
	Validation *validate.Error
}

// ResultFetcher resolves a result location into a row sequence.
type ResultFetcher interface {
	Fetch(ctx context.Context, location string, hint fetch.Schema) (fetch.ResultSet, error)
}

// Config wires the collaborators of a Runner.
type Config struct {
	Validator *validate.Validator
	Client    exec.Client
	Poller    *poll.Poller
	Cache     cache.Store
	Fetcher   ResultFetcher
	Logger    *slog.Logger
}

// Runner executes queries per invocation. Safe for sequential reuse; each
// CLI process typically holds exactly one.
type Runner struct {
	validator *validate.Validator
	client    exec.Client
	poller    *poll.Poller
	cache     cache.Store
	fetcher   ResultFetcher
	logger    *slog.Logger

	now      func() time.Time
	newToken func() string
}

func New(cfg Config) (*Runner, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("execution client is required")
	}
	if cfg.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("result fetcher is required")
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		validator: cfg.Validator,
		client:    cfg.Client,
		poller:    cfg.Poller,
		cache:     cfg.Cache,
		fetcher:   cfg.Fetcher,
		logger:    cfg.Logger,
		now:       time.Now,
		newToken:  uuid.NewString,
	}, nil
}

// Run takes a query through validation, cache lookup, submission, polling
// and result fetching, and returns the single outcome of the invocation.
func (r *Runner) Run(ctx context.Context, req Request, opts Options) Outcome {
	start := r.now()
	outcome := r.run(ctx, req, opts)
	observability.ObserveQueryDuration(r.now().Sub(start))
	observability.IncOutcome(string(outcome.Kind))
	return outcome
}

func (r *Runner) run(ctx context.Context, req Request, opts Options) Outcome {
	if err := r.validator.Validate(req.SQL); err != nil {
		var verr *validate.Error
		if !errors.As(err, &verr) {
			verr = &validate.Error{Category: validate.CategorySyntaxError, Detail: err.Error()}
		}
		r.logger.InfoContext(ctx, "query rejected locally",
			slog.String("category", string(verr.Category)),
			slog.String("detail", verr.Detail))
		return Outcome{Kind: OutcomeValidationRejected, Validation: verr}
	}

	fp := fingerprint.New(fingerprint.Request{
		SQL:            req.SQL,
		Database:       req.Database,
		Workgroup:      req.Workgroup,
		OutputLocation: req.OutputLocation,
	})

	if opts.UseCache {
		if outcome, ok := r.lookupCache(ctx, fp, opts); ok {
			return outcome
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	handle, err := r.submit(ctx, req)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	report, err := r.poller.Wait(ctx, handle)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	switch report.State {
	case exec.StateSucceeded:
		return r.succeed(ctx, fp, handle, report)
	case exec.StateCancelled:
		return Outcome{Kind: OutcomeFailed, Err: qerrors.New(qerrors.KindCancelled, cancelReason(report))}
	default:
		return Outcome{Kind: OutcomeFailed, Err: qerrors.ClassifyExecutionFailure(report.StateChangeReason)}
	}
}

// lookupCache serves a fresh entry whose result object is still readable.
// An unreadable result object demotes the entry to a miss so the query is
// re-executed and the entry overwritten.
func (r *Runner) lookupCache(ctx context.Context, fp fingerprint.Fingerprint, opts Options) (Outcome, bool) {
	entry, ok, err := r.cache.Lookup(ctx, fp, opts.Freshness)
	if err != nil {
		r.logger.WarnContext(ctx, "cache lookup failed, treating as miss",
			slog.String("fingerprint", fp.String()),
			slog.Any("error", err))
		observability.IncCacheMiss()
		return Outcome{}, false
	}
	if !ok {
		observability.IncCacheMiss()
		return Outcome{}, false
	}

	results, err := r.fetcher.Fetch(ctx, entry.ResultLocation, nil)
	if err != nil {
		r.logger.WarnContext(ctx, "cached result unreachable, re-executing",
			slog.String("fingerprint", fp.String()),
			slog.String("result_location", entry.ResultLocation),
			slog.Any("error", err))
		observability.IncCacheMiss()
		return Outcome{}, false
	}

	observability.IncCacheHit()
	r.logger.InfoContext(ctx, "cache hit",
		slog.String("fingerprint", fp.String()),
		slog.String("execution_id", entry.ExecutionID))
	return Outcome{Kind: OutcomeCacheHit, Entry: entry, Results: results}, true
}

func (r *Runner) submit(ctx context.Context, req Request) (exec.Handle, error) {
	sub := exec.Submission{
		SQL:            req.SQL,
		Database:       req.Database,
		Workgroup:      req.Workgroup,
		OutputLocation: req.OutputLocation,
		RequestToken:   r.newToken(),
	}
	handle, err := r.client.Submit(ctx, sub)
	if err != nil {
		if !qerrors.IsKind(err, qerrors.KindSubmission) {
			err = qerrors.Wrap(qerrors.KindSubmission, "submit query", err)
		}
		return exec.Handle{}, err
	}
	observability.IncSubmission()
	r.logger.InfoContext(ctx, "query submitted",
		slog.String("execution_id", handle.ID),
		slog.String("workgroup", req.Workgroup))
	return handle, nil
}

// succeed persists the cache entry and opens the result set. A failed cache
// write is logged and skipped; it never fails the invocation.
func (r *Runner) succeed(ctx context.Context, fp fingerprint.Fingerprint, handle exec.Handle, report exec.StatusReport) Outcome {
	now := r.now()
	entry := cache.Entry{
		Fingerprint:    fp,
		ExecutionID:    handle.ID,
		State:          report.State,
		ResultLocation: report.ResultLocation,
		RowCount:       report.RowCount,
		ByteSize:       report.ScannedBytes,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := r.cache.Put(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "cache write failed, result not cached",
			slog.String("fingerprint", fp.String()),
			slog.Any("error", err))
	}

	results, err := r.fetcher.Fetch(ctx, entry.ResultLocation, nil)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
	return Outcome{Kind: OutcomeSuccess, Entry: entry, Results: results}
}

func cancelReason(report exec.StatusReport) string {
	if report.StateChangeReason != "" {
		return report.StateChangeReason
	}
	return "execution cancelled remotely"
}
