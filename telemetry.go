// Package telemetry is a client-side telemetry SDK: it captures
// application events, associates them with a user and a session, and
// delivers them to a remote collector in batches with bounded
// exponential-backoff retry.
//
// The Client is constructed once and passed explicitly to consumers.
// Events lost on Reset, or queued by a caller that never flushes nor
// destroys the client, are an accepted data-loss boundary.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsekit/telemetry-go/internal/delivery"
	"github.com/pulsekit/telemetry-go/internal/event"
	"github.com/pulsekit/telemetry-go/internal/identity"
	"github.com/pulsekit/telemetry-go/internal/session"
	"github.com/pulsekit/telemetry-go/internal/storage"
)

// Public aliases for the domain types callers see through the facade.
type (
	Event       = event.Event
	Properties  = event.Properties
	EventParams = event.Params
	PageView    = event.PageView
	ClickEvent  = event.ClickEvent

	FieldError      = event.FieldError
	ValidationError = event.ValidationError

	User    = identity.User
	Session = session.Session

	Environment      = session.Environment
	EnvironmentProbe = session.EnvironmentProbe
	DeviceInfo       = session.DeviceInfo
	BrowserInfo      = session.BrowserInfo
	LocationInfo     = session.LocationInfo

	BatchResult     = delivery.BatchResult
	AnalyticsReport = delivery.AnalyticsReport
)

// ErrAnonymousNotFound is returned by Alias when no anonymous record
// exists for the given anonymous id.
var ErrAnonymousNotFound = identity.ErrNotFound

// State is the client lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Client is the pipeline coordinator: it owns the in-memory event queue,
// decides when to flush, and orchestrates the identity, session, storage
// and delivery components.
type Client struct {
	cfg Config
	log *slog.Logger

	store    *storage.Store
	users    *identity.Store
	sessions *session.Store
	factory  *event.Factory
	deliver  *delivery.Client

	// Observers are fixed at construction; there are no mutable
	// callback fields to race with in-flight operations.
	onEvent func(Event)
	onError func(error)

	mu    sync.Mutex
	state State
	queue []event.Event

	stop      chan struct{}
	timerDone chan struct{}
}

// Option configures a Client at construction.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	probe      session.EnvironmentProbe
	httpClient *http.Client
	onEvent    func(Event)
	onError    func(error)
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithEnvironmentProbe injects the device/runtime snapshot capability
// used at session start. Defaults to a probe describing the local host.
func WithEnvironmentProbe(p EnvironmentProbe) Option {
	return func(o *options) { o.probe = p }
}

// WithHTTPClient replaces the delivery transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithObserver registers a callback invoked after each event is queued.
func WithObserver(fn func(Event)) Option {
	return func(o *options) { o.onEvent = fn }
}

// WithErrorHandler registers a callback invoked with every wrapped
// coordinator failure, including timer-driven flush failures that are
// otherwise swallowed.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// New builds a Client. The client is inert until Initialize is called.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "apiKey", Msg: "required"}}}
	}
	cfg = cfg.withDefaults()

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "telemetry")

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, err
	}
	users := identity.New(store)
	sessions := session.New(store, o.probe)

	deliveryOpts := []delivery.Option{
		delivery.WithRetryPolicy(cfg.Retry.policy()),
		delivery.WithTimeout(cfg.RequestTimeout),
		delivery.WithLogger(log),
	}
	if o.httpClient != nil {
		deliveryOpts = append(deliveryOpts, delivery.WithHTTPClient(o.httpClient))
	}

	c := &Client{
		cfg:      cfg,
		log:      log,
		store:    store,
		users:    users,
		sessions: sessions,
		factory:  event.NewFactory(users.UserID, sessions.SessionID),
		deliver:  delivery.New(cfg.BaseURL, cfg.APIKey, deliveryOpts...),
		onEvent:  o.onEvent,
		onError:  o.onError,
		queue:    make([]event.Event, 0, cfg.BatchSize),
	}
	return c, nil
}

// Initialize brings storage, identity and session stores to ready state
// in that order, starts the periodic flush timer, and transitions the
// client to Ready.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		state := c.state
		c.mu.Unlock()
		if state == StateDestroyed {
			return c.fail(CodeNotInitialized, ErrDestroyed)
		}
		return c.fail(CodeInitializationErr, errAlreadyInitialized)
	}
	c.state = StateInitializing
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.state = StateUninitialized
		c.mu.Unlock()
		return c.fail(CodeInitializationErr, err)
	}

	if err := c.store.Open(ctx); err != nil {
		return fail(err)
	}
	if err := c.users.Initialize(ctx); err != nil {
		return fail(err)
	}
	sess, resumed, err := c.sessions.Initialize(ctx, c.users.UserID())
	if err != nil {
		return fail(err)
	}

	c.mu.Lock()
	c.stop = make(chan struct{})
	c.timerDone = make(chan struct{})
	c.state = StateReady
	if c.cfg.AutoTrackSessions && !resumed {
		c.queue = append(c.queue, c.factory.SessionStarted(sess.ID))
	}
	c.mu.Unlock()

	go c.flushLoop()

	c.log.Info("initialized",
		"environment", c.cfg.Environment,
		"session", sess.ID,
		"resumed", resumed,
		"user", c.users.UserID())
	return nil
}

// Track builds and enqueues a custom event. The queue is flushed
// immediately once it reaches the configured batch size.
func (c *Client) Track(ctx context.Context, name string, props Properties) error {
	return c.TrackEvent(ctx, EventParams{Name: name, Properties: props})
}

// TrackEvent is Track with the full set of optional event fields.
func (c *Client) TrackEvent(ctx context.Context, p EventParams) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	ev, err := c.factory.CreateEvent(p)
	if err != nil {
		return c.fail(CodeTrackingError, err)
	}
	return c.enqueue(ctx, ev)
}

// TrackPageView builds a page view and enqueues its normalized form: a
// generic "page_view" event with page fields folded into properties.
func (c *Client) TrackPageView(ctx context.Context, url, title, referrer string, props Properties) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	pv, err := c.factory.CreatePageView(url, title, referrer, props)
	if err != nil {
		return c.fail(CodeTrackingError, err)
	}
	return c.enqueue(ctx, pv.Flatten())
}

// TrackClick builds a click record and enqueues its normalized form.
func (c *Client) TrackClick(ctx context.Context, element, selector, text string, props Properties) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	ce, err := c.factory.CreateClickEvent(element, selector, text, props)
	if err != nil {
		return c.fail(CodeTrackingError, err)
	}
	return c.enqueue(ctx, ce.Flatten())
}

// Identify assigns a known id to the current user. It does not enqueue
// an event by itself.
func (c *Client) Identify(ctx context.Context, userID string, props Properties) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if _, err := c.users.Identify(ctx, userID, props); err != nil {
		return c.fail(CodeIdentificationErr, err)
	}
	c.log.Debug("user identified", "user", userID)
	return nil
}

// Alias re-keys a stored anonymous identity under userID.
func (c *Client) Alias(ctx context.Context, anonymousID, userID string) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if _, err := c.users.Alias(ctx, anonymousID, userID); err != nil {
		return c.fail(CodeIdentificationErr, err)
	}
	c.log.Debug("user aliased", "anonymous", anonymousID, "user", userID)
	return nil
}

// UpdateUserProperties merges properties into the current user.
func (c *Client) UpdateUserProperties(ctx context.Context, props Properties) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if err := c.users.UpdateProperties(ctx, props); err != nil {
		return c.fail(CodeIdentificationErr, err)
	}
	return nil
}

// StartSession ends any active session and starts a fresh one.
func (c *Client) StartSession(ctx context.Context, props Properties) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	sess, err := c.sessions.StartSession(ctx, c.users.UserID(), props)
	if err != nil {
		return c.fail(CodeSessionError, err)
	}
	if c.cfg.AutoTrackSessions {
		return c.enqueue(ctx, c.factory.SessionStarted(sess.ID))
	}
	return nil
}

// EndSession ends the active session, if any.
func (c *Client) EndSession(ctx context.Context) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	sess := c.sessions.Current()
	if err := c.sessions.EndSession(ctx); err != nil {
		return c.fail(CodeSessionError, err)
	}
	if c.cfg.AutoTrackSessions && sess.Active() {
		return c.enqueue(ctx, c.factory.SessionEnded(sess.ID, c.sessions.SessionDuration()))
	}
	return nil
}

// UpdateSessionProperties merges properties into the active session.
func (c *Client) UpdateSessionProperties(ctx context.Context, props Properties) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if err := c.sessions.UpdateProperties(ctx, props); err != nil {
		return c.fail(CodeSessionError, err)
	}
	return nil
}

// Reset clears identity and session state and unconditionally discards
// the in-memory queue. Unflushed events are lost by design.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	c.mu.Lock()
	dropped := len(c.queue)
	c.queue = make([]event.Event, 0, c.cfg.BatchSize)
	c.mu.Unlock()
	if dropped > 0 {
		c.log.Warn("reset dropped queued events", "dropped", dropped)
	}
	if err := c.users.Reset(ctx); err != nil {
		return c.fail(CodeIdentificationErr, err)
	}
	if err := c.sessions.Reset(ctx); err != nil {
		return c.fail(CodeSessionError, err)
	}
	return nil
}

// Flush drains the queue and submits it as one batch. On delivery
// failure the drained events are restored to the front of the queue and
// the error is surfaced to both the error observer and the caller.
func (c *Client) Flush(ctx context.Context) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	return c.flush(ctx)
}

// Destroy performs one last flush, stops the periodic timer, clears the
// queue and transitions to Destroyed. A destroyed client cannot be
// reused. The in-flight timer flush, if any, is awaited before teardown
// completes.
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDestroyed:
		c.mu.Unlock()
		return nil
	case StateReady:
	default:
		c.mu.Unlock()
		return c.fail(CodeNotInitialized, ErrNotInitialized)
	}
	stop, timerDone := c.stop, c.timerDone
	c.mu.Unlock()

	close(stop)
	<-timerDone

	flushErr := c.flush(ctx)

	c.mu.Lock()
	c.state = StateDestroyed
	c.queue = nil
	c.mu.Unlock()

	if err := c.store.Close(); err != nil {
		c.log.Warn("storage close failed", "error", err)
	}
	c.log.Info("destroyed")
	return flushErr
}

// Analytics fetches externally computed aggregates from the collector.
func (c *Client) Analytics(ctx context.Context, start, end *time.Time) (*AnalyticsReport, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	return c.deliver.GetAnalytics(ctx, start, end)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentUser returns a copy of the current user record.
func (c *Client) CurrentUser() *User { return c.users.CurrentUser() }

// CurrentSession returns a copy of the active session, or nil.
func (c *Client) CurrentSession() *Session { return c.sessions.Current() }

// IsIdentified reports whether the current user has a known id.
func (c *Client) IsIdentified() bool { return c.users.IsIdentified() }

// QueueLen reports how many events are waiting for the next flush.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Client) enqueue(ctx context.Context, ev event.Event) error {
	c.mu.Lock()
	c.queue = append(c.queue, ev)
	n := len(c.queue)
	c.mu.Unlock()

	if c.onEvent != nil {
		c.onEvent(ev)
	}
	c.log.Debug("event queued", "name", ev.Name, "id", ev.ID, "queued", n)

	if n >= c.cfg.BatchSize {
		return c.flush(ctx)
	}
	return nil
}

func (c *Client) flush(ctx context.Context) error {
	// The queue swap is the first synchronous step: events enqueued
	// while the batch is in flight land in the new queue and are
	// neither lost nor double-sent.
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return nil
	}
	drained := c.queue
	c.queue = make([]event.Event, 0, c.cfg.BatchSize)
	c.mu.Unlock()

	batch := &delivery.Batch{
		ID:        uuid.NewString(),
		Events:    drained,
		Timestamp: time.Now().UTC(),
		Size:      len(drained),
	}
	res, err := c.deliver.SendBatch(ctx, batch)
	if err != nil {
		// Restore the drained events to the front of the (possibly
		// since-repopulated) queue, order preserved.
		c.mu.Lock()
		restored := make([]event.Event, 0, len(drained)+len(c.queue))
		restored = append(restored, drained...)
		restored = append(restored, c.queue...)
		c.queue = restored
		c.mu.Unlock()
		return c.fail(CodeFlushError, err)
	}

	c.log.Debug("batch delivered",
		"batch", batch.ID,
		"size", batch.Size,
		"status", res.Status,
		"processed", res.ProcessedCount,
		"failed", res.FailedCount)
	return nil
}

// flushLoop is the periodic flush timer. Its flush failures are reported
// through the error observer and logged, never propagated: the loop must
// survive transient collector outages.
func (c *Client) flushLoop() {
	defer close(c.timerDone)
	t := time.NewTicker(c.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if err := c.flush(context.Background()); err != nil {
				c.log.Warn("periodic flush failed", "error", err)
			}
		}
	}
}

func (c *Client) requireReady() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateReady {
		if state == StateDestroyed {
			return c.fail(CodeNotInitialized, ErrDestroyed)
		}
		return c.fail(CodeNotInitialized, ErrNotInitialized)
	}
	return nil
}

// fail wraps err with a stable code plus the current identity/session
// context and reports it to the error observer before returning it.
func (c *Client) fail(code Code, err error) error {
	werr := &Error{
		Code:      code,
		UserID:    c.users.UserID(),
		SessionID: c.sessions.SessionID(),
		Err:       err,
	}
	if c.onError != nil {
		c.onError(werr)
	}
	return werr
}
