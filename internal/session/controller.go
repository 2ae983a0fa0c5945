// Package session owns the login lifecycle: login and logout, restoring a
// persisted session, the proactive refresh timer, foreground/background
// transitions, and state-change notifications. It is the only component
// that declares a session over.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tonimelisma/authpipe/internal/api"
	"github.com/tonimelisma/authpipe/internal/credstore"
	"github.com/tonimelisma/authpipe/internal/extauth"
)

// State is the session lifecycle state.
type State int

const (
	StateLoggedOut State = iota
	StateActive
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON events.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateLoggedOut, StateActive, StateRefreshing} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}

	return fmt.Errorf("session: unknown state %q", b)
}

// ErrLoggedOut is returned by operations that need an active session.
var ErrLoggedOut = errors.New("session: logged out")

// Defaults for Options.
const (
	DefaultLoginPath         = "/auth/login"
	DefaultExternalLoginPath = "/auth/external"
	DefaultRefreshInterval   = 10 * time.Minute
	DefaultRefreshMargin     = time.Minute
	DefaultRetryDelay        = 30 * time.Second

	// terminateTimeout bounds the cascade logout, which runs detached from
	// the call that reported the failure.
	terminateTimeout = 10 * time.Second

	// minDelay keeps a token that is already inside its margin from
	// spinning the timer.
	minDelay = time.Second
)

// Executor performs one call with no recovery. Implemented by *api.Client.
// Login goes through Execute so a failed login never touches the refresh
// machinery.
type Executor interface {
	Execute(ctx context.Context, req api.Request) (*api.Response, string, error)
}

// Refresher is the refresh coordinator as seen by the controller.
type Refresher interface {
	Refresh(ctx context.Context) error
	Invalidate()
	Generation() uint64
}

// ExternalCredentialSource produces a provider token for LoginExternal.
type ExternalCredentialSource interface {
	Acquire(ctx context.Context) (extauth.RawToken, error)
}

// Scheduled is a cancellable pending timer. *time.Timer satisfies it.
type Scheduled interface {
	Stop() bool
}

// Event is a session state-change notification.
type Event struct {
	ID     ulid.ULID `json:"id"`
	State  State     `json:"state"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Options configures a Controller. Zero values pick defaults.
type Options struct {
	LoginPath         string
	ExternalLoginPath string
	RefreshInterval   time.Duration
	RefreshMargin     time.Duration
	RetryDelay        time.Duration
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Controller owns the session state and the proactive refresh timer. It also
// implements the refresh coordinator's hooks and the executor's Terminator.
// Lock order: c.mu before the coordinator's lock, never the reverse.
type Controller struct {
	exec   Executor
	coord  Refresher
	store  credstore.Store
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	foreground  bool
	lastRefresh time.Time
	timer       Scheduled
	timerGen    uint64
	nextFire    time.Time
	subs        []subscriber
	nextSubID   uint64

	// Injected for tests.
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) Scheduled
}

// New creates a Controller in the logged-out, foreground state. Call Restore
// to pick up a persisted session.
func New(exec Executor, coord Refresher, store credstore.Store, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}

	if opts.ExternalLoginPath == "" {
		opts.ExternalLoginPath = DefaultExternalLoginPath
	}

	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}

	if opts.RefreshMargin < 0 {
		opts.RefreshMargin = 0
	} else if opts.RefreshMargin == 0 {
		opts.RefreshMargin = DefaultRefreshMargin
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	return &Controller{
		exec:       exec,
		coord:      coord,
		store:      store,
		opts:       opts,
		logger:     logger,
		state:      StateLoggedOut,
		foreground: true,
		now:        time.Now,
		afterFunc: func(d time.Duration, f func()) Scheduled {
			return time.AfterFunc(d, f)
		},
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// LastRefresh returns when the credential was last obtained by login or
// refresh in this process. Zero after Restore until the first refresh.
func (c *Controller) LastRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastRefresh
}

// NextRefresh returns when the proactive timer fires, or zero if disarmed.
func (c *Controller) NextRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer == nil {
		return time.Time{}
	}

	return c.nextFire
}

// Subscribe registers fn for Active and LoggedOut transitions. fn runs on
// the goroutine that caused the transition and must not block. The returned
// func unsubscribes.
func (c *Controller) Subscribe(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	var once sync.Once

	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Restore resumes a persisted session: a stored refresh token means Active
// with the timer armed, otherwise LoggedOut.
func (c *Controller) Restore(ctx context.Context) (State, error) {
	cred, err := c.store.Get(ctx)
	if err != nil {
		return c.State(), fmt.Errorf("session: restoring: %w", err)
	}

	c.mu.Lock()

	if cred == nil || cred.RefreshToken == "" {
		c.state = StateLoggedOut
		c.stopTimerLocked()
		c.mu.Unlock()

		c.logger.Info("no persisted session")

		return StateLoggedOut, nil
	}

	wasLoggedOut := c.state == StateLoggedOut
	c.state = StateActive

	if c.foreground {
		c.armLocked(c.delayLocked(cred))
	}

	ev := c.eventLocked("restored")
	c.mu.Unlock()

	c.logger.Info("session restored")

	if wasLoggedOut {
		c.notify(ev)
	}

	return StateActive, nil
}

// Login exchanges an email and password for a credential pair.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	req, err := api.NewJSONRequest(http.MethodPost, c.opts.LoginPath, api.AuthAPIKeyOnly, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return err
	}

	return c.exchange(ctx, req, "login")
}

// LoginExternal acquires a provider token from src and exchanges it for a
// credential pair.
func (c *Controller) LoginExternal(ctx context.Context, src ExternalCredentialSource) error {
	raw, err := src.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("session: acquiring external credential: %w", err)
	}

	req, err := api.NewJSONRequest(http.MethodPost, c.opts.ExternalLoginPath, api.AuthAPIKeyOnly, map[string]string{
		"provider": raw.Provider,
		"token":    raw.Token,
	})
	if err != nil {
		return err
	}

	return c.exchange(ctx, req, "login:"+raw.Provider)
}

// exchange performs a login call and establishes the session it returns.
// The network call runs without holding the controller lock.
func (c *Controller) exchange(ctx context.Context, req api.Request, reason string) error {
	resp, _, err := c.exec.Execute(ctx, req)
	if err != nil {
		return fmt.Errorf("session: %s: %w", reason, err)
	}

	var pair api.TokenPair
	if err := resp.DecodeJSON(&pair); err != nil {
		return fmt.Errorf("session: %s: %w", reason, err)
	}

	cred, err := pair.Credential()
	if err != nil {
		return fmt.Errorf("session: %s: %w", reason, err)
	}

	return c.establish(ctx, cred, reason)
}

func (c *Controller) establish(ctx context.Context, cred credstore.Credential, reason string) error {
	c.mu.Lock()

	// Any refresh still in flight belongs to the previous session.
	c.coord.Invalidate()

	if err := c.store.Set(ctx, cred); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("session: persisting credential: %w", err)
	}

	c.state = StateActive
	c.lastRefresh = c.now()

	if c.foreground {
		c.armLocked(c.delayLocked(&cred))
	}

	ev := c.eventLocked(reason)
	c.mu.Unlock()

	c.logger.Info("logged in", slog.String("reason", reason))
	c.notify(ev)

	return nil
}

// Logout ends the session: the timer is cancelled, the store cleared, and
// observers notified. A no-op when already logged out. In-flight calls are
// not cancelled; they resolve with their own results.
//
// If the store cannot be cleared the session is left in place with its
// timer stopped and the error is returned; calling Logout again retries.
func (c *Controller) Logout(ctx context.Context, reason string) error {
	c.mu.Lock()
	ev, changed, err := c.logoutLocked(ctx, reason)
	c.mu.Unlock()

	if changed {
		c.logger.Info("logged out", slog.String("reason", reason))
		c.notify(ev)
	}

	return err
}

func (c *Controller) logoutLocked(ctx context.Context, reason string) (Event, bool, error) {
	if c.state == StateLoggedOut {
		return Event{}, false, nil
	}

	c.stopTimerLocked()
	c.coord.Invalidate()

	if err := c.store.Clear(ctx); err != nil {
		return Event{}, false, fmt.Errorf("session: clearing credential: %w", err)
	}

	c.state = StateLoggedOut

	return c.eventLocked(reason), true, nil
}

// Terminate is the cascade logout after a call that sent usedAccessToken
// failed terminally. It is ignored once the stored credential carries a
// different access token: the failure belongs to a session that was
// refreshed or replaced since.
func (c *Controller) Terminate(ctx context.Context, usedAccessToken string, reason error) {
	c.cascade(ctx, reason, func(ctx context.Context) bool {
		if usedAccessToken == "" {
			return false
		}

		cur, err := c.store.Get(ctx)

		return err == nil && cur != nil && cur.AccessToken != usedAccessToken
	})
}

// RefreshTerminal is the cascade logout after a terminal refresh failure
// under refresh generation gen. It is ignored once a login or logout has
// moved the generation on.
func (c *Controller) RefreshTerminal(ctx context.Context, gen uint64, reason error) {
	c.cascade(ctx, reason, func(context.Context) bool {
		return c.coord.Generation() != gen
	})
}

// cascade logs out unless superseded reports, under c.mu, that the failure
// belongs to an earlier session. It runs detached from ctx so a caller whose
// deadline has passed cannot leave the credential behind.
func (c *Controller) cascade(ctx context.Context, reason error, superseded func(context.Context) bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
	defer cancel()

	msg := "terminated"
	if reason != nil {
		msg = api.KindOf(reason).String()
	}

	c.mu.Lock()

	if superseded(ctx) {
		c.mu.Unlock()
		c.logger.Info("ignoring terminal failure of a superseded session", slog.String("reason", msg))

		return
	}

	ev, changed, err := c.logoutLocked(ctx, msg)
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("cascade logout failed", slog.String("error", err.Error()))
		return
	}

	if changed {
		c.logger.Info("logged out", slog.String("reason", msg))
		c.notify(ev)
	}
}

// RefreshStarted marks the session as refreshing.
func (c *Controller) RefreshStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateActive {
		c.state = StateRefreshing
	}
}

// RefreshFinished returns to Active and rearms the timer: from the new
// credential on success, after the retry delay on failure. A superseded
// refresh (nil cred, nil err) leaves the timer to the login that replaced it.
func (c *Controller) RefreshFinished(cred *credstore.Credential, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRefreshing {
		c.state = StateActive
	}

	if c.state != StateActive || !c.foreground {
		return
	}

	switch {
	case err != nil:
		c.armLocked(c.opts.RetryDelay)
	case cred != nil:
		c.lastRefresh = c.now()
		c.armLocked(c.delayLocked(cred))
	}
}

// Background cancels the proactive timer. No refresh runs while suspended.
func (c *Controller) Background() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.foreground = false
	c.stopTimerLocked()

	c.logger.Debug("entered background")
}

// Foreground resumes after Background. When Active and not mid-refresh, it
// refreshes once if the credential is due and then rearms the timer; no
// timer-driven duplicate follows. While a refresh is in flight its
// completion rearms the timer instead.
func (c *Controller) Foreground(ctx context.Context) error {
	c.mu.Lock()
	c.foreground = true

	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}

	c.stopTimerLocked()

	due, err := c.refreshDueLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if !due {
		c.armLocked(c.opts.RefreshInterval)
		c.mu.Unlock()

		c.logger.Debug("entered foreground, credential fresh")

		return nil
	}

	c.mu.Unlock()

	c.logger.Info("entered foreground, refreshing credential")

	// RefreshFinished rearms the timer.
	if err := c.coord.Refresh(ctx); err != nil {
		return fmt.Errorf("session: foreground refresh: %w", err)
	}

	return nil
}

// RefreshNow forces a refresh, joining one already in flight.
func (c *Controller) RefreshNow(ctx context.Context) error {
	if c.State() == StateLoggedOut {
		return ErrLoggedOut
	}

	if err := c.coord.Refresh(ctx); err != nil {
		return fmt.Errorf("session: refresh: %w", err)
	}

	return nil
}

// Close cancels the timer without changing the session.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
}

// refreshDueLocked decides whether a foreground check should refresh.
func (c *Controller) refreshDueLocked(ctx context.Context) (bool, error) {
	cred, err := c.store.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("session: reading credential: %w", err)
	}

	if cred == nil {
		return false, nil
	}

	now := c.now()

	if exp, ok := TokenExpiry(cred.AccessToken); ok {
		return !now.Before(exp.Add(-c.opts.RefreshMargin)), nil
	}

	return c.lastRefresh.IsZero() || now.Sub(c.lastRefresh) >= c.opts.RefreshInterval, nil
}

// delayLocked is min(interval, expiry - margin - now), floored at minDelay.
func (c *Controller) delayLocked(cred *credstore.Credential) time.Duration {
	d := c.opts.RefreshInterval

	if exp, ok := TokenExpiry(cred.AccessToken); ok {
		if untilDue := exp.Sub(c.now()) - c.opts.RefreshMargin; untilDue < d {
			d = untilDue
		}
	}

	return max(d, minDelay)
}

func (c *Controller) armLocked(d time.Duration) {
	c.stopTimerLocked()

	c.timerGen++
	gen := c.timerGen
	c.nextFire = c.now().Add(d)
	c.timer = c.afterFunc(d, func() { c.fire(gen) })

	c.logger.Debug("refresh timer armed", slog.Duration("in", d))
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	// A timer that already fired but has not taken the lock yet sees a
	// stale generation and does nothing.
	c.timerGen++
}

// fire runs the proactive refresh for timer generation gen.
func (c *Controller) fire(gen uint64) {
	c.mu.Lock()

	if gen != c.timerGen || c.state != StateActive || !c.foreground {
		c.mu.Unlock()
		return
	}

	c.timer = nil
	c.mu.Unlock()

	c.logger.Info("proactive refresh")

	if err := c.coord.Refresh(context.Background()); err != nil {
		c.logger.Warn("proactive refresh failed", slog.String("error", err.Error()))
	}
}

// Snapshot returns an event describing the current state, for observers that
// join late.
func (c *Controller) Snapshot() Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.eventLocked("snapshot")
}

func (c *Controller) eventLocked(reason string) Event {
	return Event{
		ID:     ulid.Make(),
		State:  c.state,
		Reason: reason,
		At:     c.now(),
	}
}

func (c *Controller) notify(ev Event) {
	c.mu.Lock()
	subs := append([]subscriber(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
