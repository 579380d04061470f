package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	qerrors "github.com/queryctl/queryctl/internal/errors"
	"github.com/queryctl/queryctl/internal/exec"
)

// scriptedClient replays a fixed sequence of status observations.
type scriptedClient struct {
	script      []scriptStep
	polls       int
	cancelCalls int32
}

type scriptStep struct {
	report exec.StatusReport
	err    error
}

func (c *scriptedClient) Submit(context.Context, exec.Submission) (exec.Handle, error) {
	return exec.Handle{ID: "exec-1"}, nil
}

func (c *scriptedClient) PollStatus(context.Context, exec.Handle) (exec.StatusReport, error) {
	step := c.script[len(c.script)-1]
	if c.polls < len(c.script) {
		step = c.script[c.polls]
	}
	c.polls++
	return step.report, step.err
}

func (c *scriptedClient) Cancel(context.Context, exec.Handle) error {
	atomic.AddInt32(&c.cancelCalls, 1)
	return nil
}

func fastPoller(client exec.Client, retries int) *Poller {
	p := New(client, Config{
		IntervalFloor:    time.Millisecond,
		IntervalCap:      2 * time.Millisecond,
		TransientRetries: retries,
	}, nil)
	p.jitter = func(d time.Duration) time.Duration { return d }
	return p
}

func TestWaitReachesSucceededThroughStateMachine(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		{report: exec.StatusReport{State: exec.StateQueued}},
		{report: exec.StatusReport{State: exec.StateRunning}},
		{report: exec.StatusReport{State: exec.StateSucceeded, ResultLocation: "s3://results/exec-1.csv", RowCount: 3}},
	}}

	report, err := fastPoller(client, 3).Wait(context.Background(), exec.Handle{ID: "exec-1"})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if report.State != exec.StateSucceeded {
		t.Fatalf("State = %q", report.State)
	}
	if report.ResultLocation != "s3://results/exec-1.csv" {
		t.Fatalf("ResultLocation = %q", report.ResultLocation)
	}
	if client.polls != 3 {
		t.Fatalf("polls = %d, want 3", client.polls)
	}
	if client.cancelCalls != 0 {
		t.Fatalf("cancelCalls = %d, want 0", client.cancelCalls)
	}
}

func TestWaitReturnsTerminalFailureReport(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		{report: exec.StatusReport{State: exec.StateRunning}},
		{report: exec.StatusReport{State: exec.StateFailed, StateChangeReason: "Table not found: events"}},
	}}

	report, err := fastPoller(client, 3).Wait(context.Background(), exec.Handle{ID: "exec-1"})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if report.State != exec.StateFailed {
		t.Fatalf("State = %q", report.State)
	}
	if report.StateChangeReason != "Table not found: events" {
		t.Fatalf("StateChangeReason = %q", report.StateChangeReason)
	}
}

func TestWaitRetriesTransientPollErrors(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{report: exec.StatusReport{State: exec.StateSucceeded}},
	}}

	report, err := fastPoller(client, 3).Wait(context.Background(), exec.Handle{ID: "exec-1"})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if report.State != exec.StateSucceeded {
		t.Fatalf("State = %q", report.State)
	}
	if client.polls != 3 {
		t.Fatalf("polls = %d, want 3", client.polls)
	}
}

func TestWaitEscalatesAfterRetryCeiling(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		{err: errors.New("connection reset")},
	}}

	_, err := fastPoller(client, 2).Wait(context.Background(), exec.Handle{ID: "exec-1"})
	if err == nil {
		t.Fatal("expected transient poll escalation")
	}
	if !qerrors.IsKind(err, qerrors.KindTransientPoll) {
		t.Fatalf("error = %v, want transient_poll kind", err)
	}
	if client.polls != 3 {
		t.Fatalf("polls = %d, want ceiling+1", client.polls)
	}
}

func TestWaitTimeoutCancelsBestEffort(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		{report: exec.StatusReport{State: exec.StateRunning}},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := fastPoller(client, 3).Wait(ctx, exec.Handle{ID: "exec-1"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !qerrors.IsKind(err, qerrors.KindTimeout) {
		t.Fatalf("error = %v, want timeout kind", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Wait() took %v, want bounded by the deadline", elapsed)
	}
	if atomic.LoadInt32(&client.cancelCalls) != 1 {
		t.Fatalf("cancelCalls = %d, want 1", client.cancelCalls)
	}
}

func TestWaitCallerCancellationStopsImmediately(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		{report: exec.StatusReport{State: exec.StateQueued}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := fastPoller(client, 3).Wait(ctx, exec.Handle{ID: "exec-1"})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !qerrors.IsKind(err, qerrors.KindCancelled) {
		t.Fatalf("error = %v, want cancelled kind", err)
	}
	if atomic.LoadInt32(&client.cancelCalls) != 1 {
		t.Fatalf("cancelCalls = %d, want 1", client.cancelCalls)
	}
}

func TestWaitBackoffDoublesToCap(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		{report: exec.StatusReport{State: exec.StateQueued}},
		{report: exec.StatusReport{State: exec.StateQueued}},
		{report: exec.StatusReport{State: exec.StateQueued}},
		{report: exec.StatusReport{State: exec.StateQueued}},
		{report: exec.StatusReport{State: exec.StateSucceeded}},
	}}

	var waits []time.Duration
	p := New(client, Config{
		IntervalFloor:    10 * time.Millisecond,
		IntervalCap:      40 * time.Millisecond,
		TransientRetries: 1,
	}, nil)
	p.jitter = func(d time.Duration) time.Duration { return d }
	p.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	if _, err := p.Wait(context.Background(), exec.Handle{ID: "exec-1"}); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	want := []time.Duration{10, 20, 40, 40}
	for i := range want {
		want[i] *= time.Millisecond
	}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %d entries", waits, len(want))
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestWaitDefaultCapNeverUndercutsFloor(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		{report: exec.StatusReport{State: exec.StateQueued}},
		{report: exec.StatusReport{State: exec.StateQueued}},
		{report: exec.StatusReport{State: exec.StateQueued}},
		{report: exec.StatusReport{State: exec.StateSucceeded}},
	}}

	var waits []time.Duration
	p := New(client, Config{IntervalFloor: 5 * time.Second}, nil)
	p.jitter = func(d time.Duration) time.Duration { return d }
	p.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	if _, err := p.Wait(context.Background(), exec.Handle{ID: "exec-1"}); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(waits) == 0 {
		t.Fatal("Wait() recorded no sleeps")
	}
	for i, d := range waits {
		if d < 5*time.Second {
			t.Fatalf("waits[%d] = %v, want at least %v", i, d, 5*time.Second)
		}
	}
}
