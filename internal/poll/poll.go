// Package poll drives a remote execution handle to a terminal state through
// repeated status checks with exponential backoff and jitter.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	qerrors "github.com/queryctl/queryctl/internal/errors"
	"github.com/queryctl/queryctl/internal/exec"
	"github.com/queryctl/queryctl/internal/observability"
)

// Config bounds the polling schedule.
type Config struct {
	// IntervalFloor is the first wait between status checks.
	IntervalFloor time.Duration
	// IntervalCap caps the doubling backoff.
	IntervalCap time.Duration
	// TransientRetries is how many consecutive failed status checks are
	// tolerated before the poll escalates to a terminal failure.
	TransientRetries int
}

// Poller waits for executions to finish.
type Poller struct {
	Client exec.Client
	Config Config
	Logger *slog.Logger

	// sleep is injectable for tests; nil means a timer-backed wait.
	sleep func(ctx context.Context, d time.Duration) error
	// jitter perturbs an interval; nil means uniform up to +25%.
	jitter func(d time.Duration) time.Duration
}

// New returns a Poller for client with the given schedule.
func New(client exec.Client, cfg Config, logger *slog.Logger) *Poller {
	return &Poller{Client: client, Config: cfg, Logger: logger}
}

// Wait polls handle until it reaches a terminal state and returns the final
// status report. The caller bounds total polling through ctx; when the
// deadline expires or the caller cancels, Wait requests a best-effort remote
// cancellation, stops immediately and returns a classified Timeout or
// Cancelled error without waiting for remote confirmation.
func (p *Poller) Wait(ctx context.Context, handle exec.Handle) (exec.StatusReport, error) {
	p.ensureDefaults()

	interval := p.Config.IntervalFloor
	transientFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			return exec.StatusReport{}, p.abandon(ctx, handle, err)
		}

		observability.IncPollAttempt()
		report, err := p.Client.PollStatus(ctx, handle)
		switch {
		case err != nil && ctx.Err() != nil:
			return exec.StatusReport{}, p.abandon(ctx, handle, ctx.Err())
		case err != nil:
			transientFailures++
			observability.IncPollTransientError()
			if transientFailures > p.Config.TransientRetries {
				return exec.StatusReport{}, qerrors.Wrap(qerrors.KindTransientPoll, "status checks exhausted retries", err)
			}
			p.Logger.WarnContext(ctx, "status check failed, retrying",
				slog.String("execution_id", handle.ID),
				slog.Int("attempt", transientFailures),
				slog.Any("error", err))
		default:
			transientFailures = 0
			if report.State.Terminal() {
				return report, nil
			}
			p.Logger.DebugContext(ctx, "execution not terminal",
				slog.String("execution_id", handle.ID),
				slog.String("state", string(report.State)))
		}

		if err := p.sleep(ctx, p.jitter(interval)); err != nil {
			return exec.StatusReport{}, p.abandon(ctx, handle, err)
		}
		interval *= 2
		if interval > p.Config.IntervalCap {
			interval = p.Config.IntervalCap
		}
	}
}

// abandon maps a context error onto the outcome taxonomy after requesting a
// best-effort remote cancellation so orphaned remote work is minimized.
// A failed cancellation is logged, never escalated.
func (p *Poller) abandon(ctx context.Context, handle exec.Handle, cause error) error {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.Client.Cancel(cancelCtx, handle); err != nil {
		p.Logger.WarnContext(ctx, "best-effort cancellation failed",
			slog.String("execution_id", handle.ID),
			slog.Any("error", err))
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		return qerrors.Wrap(qerrors.KindTimeout, "polling deadline exceeded", cause)
	}
	return qerrors.Wrap(qerrors.KindCancelled, "polling cancelled by caller", cause)
}

func (p *Poller) ensureDefaults() {
	if p.Config.IntervalFloor <= 0 {
		p.Config.IntervalFloor = 200 * time.Millisecond
	}
	if p.Config.IntervalCap < p.Config.IntervalFloor {
		p.Config.IntervalCap = 2 * time.Second
		if p.Config.IntervalCap < p.Config.IntervalFloor {
			p.Config.IntervalCap = p.Config.IntervalFloor
		}
	}
	if p.Config.TransientRetries <= 0 {
		p.Config.TransientRetries = 3
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if p.jitter == nil {
		p.jitter = uniformJitter
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// uniformJitter spreads poll instants so that concurrent invocations do not
// synchronize against the remote service.
func uniformJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
