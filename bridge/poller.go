package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
)

// MethodTaskStatus is the remote operation the poller queries for task
// progress.
const MethodTaskStatus = "task.status"

// Caller is the call surface the poller needs. *Bridge satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, payload any, opts ...CallOption) (json.RawMessage, error)
}

type taskStatusQuery struct {
	TaskID  string `json:"taskId"`
	OwnerID string `json:"ownerId,omitempty"`
}

// TaskPoller awaits server-side asynchronous tasks by polling their status
// through a Caller until they reach a terminal state. Polling is idempotent:
// a wait that times out can be resumed later with the same handle.
type TaskPoller struct {
	caller   Caller
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	observer func(attempt int, elapsed time.Duration)
}

// PollerOption configures the TaskPoller. Options passed to Await override
// the poller's configuration for that wait only.
type PollerOption func(*TaskPoller)

// WithPollInterval sets the cadence between status polls.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *TaskPoller) { p.interval = d }
}

// WithOverallTimeout bounds one Await as a whole. Individual status calls
// use the caller's own per-call timeout, independent of this budget.
func WithOverallTimeout(d time.Duration) PollerOption {
	return func(p *TaskPoller) { p.timeout = d }
}

// WithPollerLogger sets the logger.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *TaskPoller) { p.logger = logger }
}

// WithPollObserver registers a callback invoked after every poll attempt
// with the attempt count and elapsed wait time.
func WithPollObserver(fn func(attempt int, elapsed time.Duration)) PollerOption {
	return func(p *TaskPoller) { p.observer = fn }
}

// NewTaskPoller creates a task poller over the given caller.
func NewTaskPoller(caller Caller, opts ...PollerOption) *TaskPoller {
	p := &TaskPoller{
		caller:   caller,
		interval: 2 * time.Second,
		timeout:  5 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Await polls the task behind handle until it completes, fails, the overall
// timeout elapses, or ctx is cancelled. The first poll is issued
// immediately. Transient call failures are retried on the normal cadence;
// auth rejections end the wait at once. All failures are
// *contracts.PollError carrying the attempt count and elapsed time.
func (p *TaskPoller) Await(ctx context.Context, handle contracts.TaskHandle, opts ...PollerOption) (*contracts.TaskResult, error) {
	cfg := *p
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	attempts := 0
	failed := func(err error) *contracts.PollError {
		return &contracts.PollError{
			TaskID:   handle.TaskID,
			Attempts: attempts,
			Elapsed:  time.Since(start),
			Err:      err,
		}
	}

	overall := time.NewTimer(cfg.timeout)
	defer overall.Stop()

	for {
		attempts++
		status, err := cfg.poll(ctx, handle)
		if cfg.observer != nil {
			cfg.observer(attempts, time.Since(start))
		}

		switch {
		case err != nil && contracts.IsAuthRejected(err):
			return nil, failed(err)
		case err != nil:
			cfg.logger.Warn("status poll failed, retrying",
				"taskId", handle.TaskID, "attempt", attempts, "error", err)
		case status.State == contracts.TaskCompleted:
			return &contracts.TaskResult{
				Handle:   handle,
				Value:    status.Result,
				Attempts: attempts,
				Elapsed:  time.Since(start),
			}, nil
		case status.State == contracts.TaskFailed:
			return nil, failed(&contracts.TaskFailedError{
				TaskID:  handle.TaskID,
				Message: status.Error,
			})
		}

		// pending, running or unknown: sleep one interval. The sleep is
		// interruptible by cancellation and by the overall deadline.
		wait := time.NewTimer(cfg.interval)
		select {
		case <-wait.C:
		case <-overall.C:
			wait.Stop()
			return nil, failed(contracts.ErrPollTimeout)
		case <-ctx.Done():
			wait.Stop()
			return nil, failed(fmt.Errorf("%w: %w", contracts.ErrPollCancelled, ctx.Err()))
		}
	}
}

func (p *TaskPoller) poll(ctx context.Context, handle contracts.TaskHandle) (*contracts.TaskStatus, error) {
	raw, err := p.caller.Call(ctx, MethodTaskStatus, taskStatusQuery{
		TaskID:  handle.TaskID,
		OwnerID: handle.OwnerID,
	})
	if err != nil {
		return nil, err
	}

	var status contracts.TaskStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, &contracts.DecodeError{Field: "payload", Err: err}
	}
	if status.State == "" {
		status.State = contracts.TaskUnknown
	}
	return &status, nil
}
