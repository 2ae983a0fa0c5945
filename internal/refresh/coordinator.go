// Package refresh coordinates credential refresh across concurrent callers.
// However many calls discover an expired access token at once, exactly one
// refresh call goes out; every caller waits in a FIFO queue and is replayed
// in arrival order with the new access token once the refresh resolves.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/authpipe/internal/api"
	"github.com/tonimelisma/authpipe/internal/credstore"
)

// Executor performs a single attempt of a request. Implemented by *api.Client.
type Executor interface {
	Execute(ctx context.Context, req api.Request) (*api.Response, string, error)
}

// Refresher calls the refresh endpoint. Implemented by *api.Client.
type Refresher interface {
	RefreshCredential(ctx context.Context) (credstore.Credential, error)
}

// Hooks lets the session controller track refresh activity and perform the
// cascade logout. Implemented by *session.Controller.
//
// RefreshTerminal reports a terminal refresh failure of the session that was
// current at generation gen; the implementation must ignore it once
// Generation has moved on.
type Hooks interface {
	RefreshStarted()
	RefreshFinished(cred *credstore.Credential, err error)
	RefreshTerminal(ctx context.Context, gen uint64, reason error)
}

// Metrics receives refresh and replay observations. Implemented by
// metrics.Collector.
type Metrics interface {
	RefreshDone(outcome string, d time.Duration)
	Replayed(kind string)
	QueueDepth(n int)
}

// Refresh outcomes used as metric labels.
const (
	OutcomeSuccess    = "success"
	OutcomeTerminal   = "terminal"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
)

type nopHooks struct{}

func (nopHooks) RefreshStarted()                                {}
func (nopHooks) RefreshFinished(*credstore.Credential, error)   {}
func (nopHooks) RefreshTerminal(context.Context, uint64, error) {}

type nopMetrics struct{}

func (nopMetrics) RefreshDone(string, time.Duration) {}
func (nopMetrics) Replayed(string)                   {}
func (nopMetrics) QueueDepth(int)                    {}

type state int

const (
	stateIdle state = iota
	stateRefreshing
)

// outcome is what a pending call's waiter receives. used is the access
// token the replay sent.
type outcome struct {
	resp *api.Response
	used string
	err  error
}

// pendingCall is a queued caller. req is nil for a refresh-only waiter
// (proactive refresh), which receives the refresh result and nothing else.
// claimed and cancelled are guarded by Coordinator.mu; whichever is set
// first wins.
type pendingCall struct {
	ctx       context.Context
	req       *api.Request
	result    chan outcome
	claimed   bool
	cancelled bool
}

// Coordinator is the single-flight refresh state machine:
//
//	Idle -> Refreshing -> Idle               (refresh succeeded)
//	Idle -> Refreshing -> Failed -> Idle     (refresh failed)
//
// The state field and the queue are guarded by one mutex; enqueueing and the
// Idle -> Refreshing transition happen in the same critical section, so two
// refreshes can never race.
type Coordinator struct {
	exec      Executor
	refresher Refresher
	store     credstore.Store
	hooks     Hooks
	metrics   Metrics
	logger    *slog.Logger

	mu         sync.Mutex
	state      state
	queue      []*pendingCall
	generation uint64 // bumped by Invalidate; a refresh started under an older generation is discarded

	// inflight tracks the refresh goroutine so Wait can join it.
	inflight sync.WaitGroup
}

// New creates a Coordinator. metrics and logger may be nil.
func New(exec Executor, refresher Refresher, store credstore.Store, metrics Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Coordinator{
		exec:      exec,
		refresher: refresher,
		store:     store,
		hooks:     nopHooks{},
		metrics:   metrics,
		logger:    logger,
	}
}

// SetHooks wires the session controller. Must be called before the first
// Recover or Refresh.
func (c *Coordinator) SetHooks(h Hooks) {
	if h == nil {
		h = nopHooks{}
	}

	c.hooks = h
}

// Recover is called by the executor after req failed with an expired access
// token. If the stored access token already differs from usedAccessToken,
// another caller's refresh has completed and req is replayed straight away.
// Otherwise req joins the queue, triggering a refresh if none is in flight,
// and is replayed exactly once after the refresh succeeds. A second expiry on
// the replay is returned as-is. The returned token is the one the replay
// sent, or usedAccessToken if there was no replay.
func (c *Coordinator) Recover(ctx context.Context, req api.Request, usedAccessToken string) (*api.Response, string, error) {
	c.mu.Lock()

	if c.state == stateIdle {
		cur, err := c.store.Get(ctx)
		if err != nil {
			c.mu.Unlock()
			return nil, usedAccessToken, fmt.Errorf("refresh: reading credential: %w", err)
		}

		if cur == nil {
			c.mu.Unlock()
			return nil, usedAccessToken, fmt.Errorf("refresh: %s %s: %w", req.Method, req.Path, api.ErrNotLoggedIn)
		}

		if cur.AccessToken != usedAccessToken {
			c.mu.Unlock()

			c.logger.Debug("credential rotated since call was sent, replaying directly",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
			)

			return c.replayDirect(ctx, req)
		}
	}

	p := c.enqueueLocked(ctx, &req)
	c.mu.Unlock()

	o := c.wait(ctx, p)
	if o.used == "" {
		o.used = usedAccessToken
	}

	return o.resp, o.used, o.err
}

// Refresh forces a refresh, joining one already in flight. Used by the
// session controller's proactive timer.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	p := c.enqueueLocked(ctx, nil)
	c.mu.Unlock()

	return c.wait(ctx, p).err
}

// Refreshing reports whether a refresh is in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state == stateRefreshing
}

// Pending returns the number of queued callers.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue)
}

// Invalidate marks any in-flight refresh as superseded: its result will not
// be written to the store. The session controller calls this on login and
// logout, which write the store themselves.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
}

// Generation returns the current generation. A terminal failure reported
// under an older one belongs to a session that has since ended or been
// replaced.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generation
}

// Wait blocks until no refresh goroutine is running.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// enqueueLocked appends a pending call and, if the coordinator is idle,
// transitions to Refreshing and starts the refresh. Caller holds c.mu.
func (c *Coordinator) enqueueLocked(ctx context.Context, req *api.Request) *pendingCall {
	p := &pendingCall{ctx: ctx, req: req, result: make(chan outcome, 1)}
	c.queue = append(c.queue, p)
	c.metrics.QueueDepth(len(c.queue))

	if c.state == stateIdle {
		c.state = stateRefreshing
		gen := c.generation

		c.inflight.Add(1)

		// The refresh outlives the caller that triggered it: other callers
		// are queued behind it.
		go c.run(context.WithoutCancel(ctx), gen)
	}

	return p
}

// wait blocks until the pending call is resolved or its context ends. A
// caller cancelled before its replay started is removed from the queue and
// never replayed.
func (c *Coordinator) wait(ctx context.Context, p *pendingCall) outcome {
	select {
	case o := <-p.result:
		return o
	case <-ctx.Done():
	}

	c.mu.Lock()
	if !p.claimed {
		p.cancelled = true
		c.removeLocked(p)
	}
	claimed := p.claimed
	c.mu.Unlock()

	if claimed {
		// Replay already started with this ctx; it will fail fast.
		select {
		case o := <-p.result:
			return o
		default:
		}
	}

	return outcome{err: fmt.Errorf("refresh: call canceled while awaiting refresh: %w", ctx.Err())}
}

func (c *Coordinator) removeLocked(p *pendingCall) {
	for i, q := range c.queue {
		if q == p {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.metrics.QueueDepth(len(c.queue))

			return
		}
	}
}

// claim marks p as being resolved. Returns false if p was cancelled.
func (c *Coordinator) claim(p *pendingCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.cancelled {
		return false
	}

	p.claimed = true

	return true
}

// run performs the single refresh call and resolves the queue.
func (c *Coordinator) run(ctx context.Context, gen uint64) {
	defer c.inflight.Done()

	c.hooks.RefreshStarted()
	c.logger.Info("refreshing credential")

	start := time.Now()
	cred, err := c.refresher.RefreshCredential(ctx)

	if err == nil {
		c.succeed(ctx, gen, cred, start)
		return
	}

	c.fail(ctx, gen, err, start)
}

// succeed persists the new pair, returns to Idle, then replays the batch in
// FIFO order.
func (c *Coordinator) succeed(ctx context.Context, gen uint64, cred credstore.Credential, start time.Time) {
	c.mu.Lock()

	outcomeLabel := OutcomeSuccess

	if gen != c.generation {
		// Login or logout happened meanwhile; their write wins.
		outcomeLabel = OutcomeSuperseded
	} else if err := c.store.Set(ctx, cred); err != nil {
		c.mu.Unlock()
		c.logger.Error("persisting refreshed credential failed", slog.String("error", err.Error()))
		c.fail(ctx, gen, err, start)

		return
	}

	batch := c.takeQueueLocked()
	c.mu.Unlock()

	c.metrics.RefreshDone(outcomeLabel, time.Since(start))
	c.logger.Info("credential refreshed",
		slog.String("outcome", outcomeLabel),
		slog.Int("queued", len(batch)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if outcomeLabel == OutcomeSuccess {
		c.hooks.RefreshFinished(&cred, nil)
	} else {
		c.hooks.RefreshFinished(nil, nil)
	}

	for _, p := range batch {
		if !c.claim(p) {
			continue
		}

		if p.req == nil {
			p.result <- outcome{}
			continue
		}

		resp, used, err := c.exec.Execute(p.ctx, *p.req)
		c.metrics.Replayed(api.KindOf(err).String())
		p.result <- outcome{resp: resp, used: used, err: err}
	}
}

// fail resolves the whole queue with the refresh error. Terminal kinds clear
// the store and end the session exactly once; anything else leaves the
// session alone so a later call can try again. A refresh superseded by a
// login or logout never clears the store.
func (c *Coordinator) fail(ctx context.Context, gen uint64, err error, start time.Time) {
	kind := api.KindOf(err)

	c.mu.Lock()

	current := gen == c.generation
	terminal := kind.Terminal() && current

	// Invalidate takes c.mu before a login writes the store, so the clear
	// either sees the new generation or happens before the new pair lands.
	if terminal {
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.logger.Error("clearing credential after terminal refresh failure",
				slog.String("error", clearErr.Error()),
			)
		}
	}

	batch := c.takeQueueLocked()
	c.mu.Unlock()

	queued := err
	outcomeLabel := OutcomeFailed

	if !current {
		outcomeLabel = OutcomeSuperseded
		// The session this refresh belonged to is gone; callers may retry
		// under the new one.
		queued = &api.Error{Kind: api.KindAccessTokenExpired, Message: "refresh superseded", Err: err}
	}

	if terminal {
		outcomeLabel = OutcomeTerminal
		expired := &api.Error{
			Kind:    api.KindRefreshTokenExpired,
			Message: "session expired",
			Err:     err,
		}

		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			expired.Method = apiErr.Method
			expired.Path = apiErr.Path
			expired.StatusCode = apiErr.StatusCode
			expired.RequestID = apiErr.RequestID
		}

		queued = expired
	}

	c.metrics.RefreshDone(outcomeLabel, time.Since(start))
	c.logger.Warn("credential refresh failed",
		slog.String("kind", kind.String()),
		slog.Bool("terminal", terminal),
		slog.Int("queued", len(batch)),
		slog.String("error", err.Error()),
	)

	if terminal {
		c.hooks.RefreshTerminal(ctx, gen, queued)
	}

	c.hooks.RefreshFinished(nil, err)

	for _, p := range batch {
		if !c.claim(p) {
			continue
		}

		p.result <- outcome{err: queued}
	}
}

// takeQueueLocked detaches the queue and returns to Idle. Caller holds c.mu.
func (c *Coordinator) takeQueueLocked() []*pendingCall {
	batch := c.queue
	c.queue = nil
	c.state = stateIdle
	c.metrics.QueueDepth(0)

	return batch
}

// replayDirect re-executes req once with the current credential.
func (c *Coordinator) replayDirect(ctx context.Context, req api.Request) (*api.Response, string, error) {
	resp, used, err := c.exec.Execute(ctx, req)
	c.metrics.Replayed(api.KindOf(err).String())

	return resp, used, err
}
