package poll

import (
	"context"
	"math/rand"
	"time"

	"github.com/rapls/lms-chat-system-sub004/internal/config"
	"github.com/rapls/lms-chat-system-sub004/internal/event"
	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	"github.com/rapls/lms-chat-system-sub004/internal/membership"
	apperrors "github.com/rapls/lms-chat-system-sub004/pkg/errors"
	"github.com/rapls/lms-chat-system-sub004/pkg/metrics"
)

// HealthRecorder receives the outcome of every completed poll. The
// rollout controller feeds these into its moving averages.
type HealthRecorder interface {
	RecordResult(success bool, latency time.Duration)
}

// InlineSweeper is the retention sweeper's opportunistic entry point,
// triggered from a small fraction of wait-loop iterations so cleanup
// cost spreads across many requests.
type InlineSweeper interface {
	TryInline(ctx context.Context)
}

// waiter isolates the suspension mechanism. The default is a plain
// sleep because the deployment has no cross-process notification
// primitive; a channel- or condvar-based implementation can be swapped
// in without touching the coordinator's contract.
type waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

type sleepWaiter struct{}

func (sleepWaiter) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Coordinator runs the per-request long-poll state machine: validate,
// authorize, admit, check, wait-and-recheck, respond, release.
type Coordinator struct {
	store      event.Repository
	fastPath   event.FastPath
	membership membership.Checker
	limiter    Limiter
	health     HealthRecorder
	sweeper    InlineSweeper
	waiter     waiter
	cfg        config.PollConfig
	sweepProb  float64
	logger     logger.Logger
}

func NewCoordinator(
	store event.Repository,
	fastPath event.FastPath,
	checker membership.Checker,
	limiter Limiter,
	health HealthRecorder,
	sweeper InlineSweeper,
	cfg config.PollConfig,
	sweepProbability float64,
	log logger.Logger,
) *Coordinator {
	if fastPath == nil {
		fastPath = event.NopFastPath{}
	}
	if limiter == nil {
		limiter = NopLimiter{}
	}
	return &Coordinator{
		store:      store,
		fastPath:   fastPath,
		membership: checker,
		limiter:    limiter,
		health:     health,
		sweeper:    sweeper,
		waiter:     sleepWaiter{},
		cfg:        cfg,
		sweepProb:  sweepProbability,
		logger:     log,
	}
}

// Poll blocks until events matching the request appear, the clamped
// timeout elapses, or the client disconnects. Timeout is not an error:
// it returns an empty response with Timeout set.
func (c *Coordinator) Poll(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := c.poll(ctx, start, req)

	latency := time.Since(start)
	if c.health != nil && !clientFault(err) {
		c.health.RecordResult(err == nil, latency)
	}

	switch {
	case err != nil:
		metrics.PollRequestsTotal.WithLabelValues("error").Inc()
	case resp.Timeout:
		metrics.PollRequestsTotal.WithLabelValues("timeout").Inc()
		metrics.ObservePollWait(latency, "timeout")
	default:
		metrics.PollRequestsTotal.WithLabelValues("events").Inc()
		metrics.ObservePollWait(latency, "events")
	}

	return resp, err
}

func (c *Coordinator) poll(ctx context.Context, start time.Time, req Request) (*Response, error) {
	if err := c.validate(&req); err != nil {
		return nil, err
	}

	member, err := c.membership.IsMember(ctx, req.UserID, req.ChannelID)
	if err != nil {
		return nil, apperrors.ErrInternal.WithCause(err)
	}
	if !member {
		return nil, apperrors.ErrAccessDenied
	}

	release, err := c.limiter.Acquire(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	metrics.ActiveConnections.Inc()
	defer func() {
		metrics.ActiveConnections.Dec()
		release()
	}()

	query := event.Query{
		Scope:   event.Scope{ChannelID: req.ChannelID, ThreadID: req.ThreadID},
		AfterID: req.Cursor.LastEventID,
		Types:   req.Types,
		Limit:   c.cfg.BatchSize,
	}
	if req.Cursor.LastEventID == 0 && !req.Cursor.LastTimestamp.IsZero() {
		// Clients resuming from a timestamp (no id cursor yet) start
		// after it instead of replaying the whole retention window.
		query.AfterTime = req.Cursor.LastTimestamp
	}
	if req.ExcludeSelf {
		query.ExcludeUser = req.UserID
	}

	// Immediate check before entering the wait loop.
	events, err := c.store.Query(ctx, query)
	if err != nil {
		return nil, apperrors.ErrInternal.WithCause(err)
	}
	if len(events) > 0 {
		return c.respond(start, req, events), nil
	}

	return c.waitLoop(ctx, start, req, query)
}

// clientFault reports errors the caller earned: bad parameters, denied
// membership, over-cap rejections. These stay out of the health
// averages so a burst of misbehaving clients cannot trip the rollout
// de-escalation.
func clientFault(err error) bool {
	if err == nil {
		return false
	}
	return apperrors.Is(err, apperrors.ErrNotAuthenticated) ||
		apperrors.Is(err, apperrors.ErrInvalidChannel) ||
		apperrors.Is(err, apperrors.ErrValidation) ||
		apperrors.Is(err, apperrors.ErrAccessDenied) ||
		apperrors.Is(err, apperrors.ErrConnectionLimit) ||
		apperrors.Is(err, apperrors.ErrRateLimitExceeded)
}

func (c *Coordinator) validate(req *Request) error {
	if req.UserID <= 0 {
		return apperrors.ErrNotAuthenticated
	}
	if req.ChannelID <= 0 {
		return apperrors.ErrInvalidChannel
	}
	if len(req.Types) == 0 {
		req.Types = event.AllTypes()
	}

	if req.Timeout <= 0 {
		req.Timeout = c.cfg.DefaultTimeout
	}
	if req.Timeout > c.cfg.MaxTimeout {
		req.Timeout = c.cfg.MaxTimeout
	}
	return nil
}

// waitLoop is the bounded poll-sleep cycle. The fast path is peeked on
// a shorter cadence than the store: a recency hint newer than the
// cursor short-circuits straight to the authoritative query, which is
// the only thing ever served.
func (c *Coordinator) waitLoop(ctx context.Context, start time.Time, req Request, query event.Query) (*Response, error) {
	deadline := start.Add(req.Timeout)
	scope := event.Scope{ChannelID: req.ChannelID, ThreadID: req.ThreadID}

	hintInterval := c.cfg.CheckInterval / 5
	if hintInterval < 20*time.Millisecond {
		hintInterval = 20 * time.Millisecond
	}

	nextStoreCheck := time.Now().Add(c.cfg.CheckInterval)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.respond(start, req, nil), nil
		}

		wait := hintInterval
		if wait > remaining {
			wait = remaining
		}
		if err := c.waiter.Wait(ctx, wait); err != nil {
			// Client went away; release without responding.
			return nil, apperrors.ErrServiceUnavailable.WithCause(err)
		}

		if c.sweeper != nil && rand.Float64() < c.sweepProb {
			go c.sweeper.TryInline(context.WithoutCancel(ctx))
		}

		checkStore := time.Now().After(nextStoreCheck)
		if !checkStore && !c.cfg.FastPathDisabled {
			checkStore = c.fastPath.Peek(ctx, scope) > req.Cursor.LastEventID
		}
		if !checkStore {
			continue
		}
		nextStoreCheck = time.Now().Add(c.cfg.CheckInterval)

		events, err := c.store.Query(ctx, query)
		if err != nil {
			// A failed probe is "no events this cycle", never fatal
			// for the wait loop.
			c.logger.WarnwCtx(ctx, "Event query failed during wait loop", "error", err)
			continue
		}
		if len(events) > 0 {
			return c.respond(start, req, events), nil
		}
	}
}

func (c *Coordinator) respond(start time.Time, req Request, events []event.Event) *Response {
	resp := &Response{
		Events:      events,
		Timestamp:   time.Now().UTC(),
		LatencyMs:   time.Since(start).Milliseconds(),
		Timeout:     len(events) == 0,
		LastEventID: req.Cursor.LastEventID,
	}
	if resp.Events == nil {
		resp.Events = []event.Event{}
	}

	for _, e := range events {
		if e.ID > resp.LastEventID {
			resp.LastEventID = e.ID
		}
		metrics.PollEventsDelivered.WithLabelValues(string(e.Type)).Inc()
	}
	return resp
}
