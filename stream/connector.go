package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thinkerajay/event-streamer-service/errors"
	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/filter"
	"github.com/thinkerajay/event-streamer-service/metric"
	"github.com/thinkerajay/event-streamer-service/registry"
)

// Window defaults. The aggregation window length is taken from the request
// when present; the join flush interval and key bound come from config.
const (
	DefaultJoinFlushInterval = 5 * time.Second
	DefaultAggregateWindow   = 60 * time.Second
	DefaultMaxWindowKeys     = 1024
)

// WindowConfig carries the tunable window parameters.
type WindowConfig struct {
	JoinFlushInterval time.Duration
	AggregateWindow   time.Duration
	MaxWindowKeys     int
}

func (c WindowConfig) withDefaults() WindowConfig {
	if c.JoinFlushInterval <= 0 {
		c.JoinFlushInterval = DefaultJoinFlushInterval
	}
	if c.AggregateWindow <= 0 {
		c.AggregateWindow = DefaultAggregateWindow
	}
	if c.MaxWindowKeys <= 0 {
		c.MaxWindowKeys = DefaultMaxWindowKeys
	}
	return c
}

// Sessions is the registry surface the connector needs: registration for
// its own sender plus lookup for aggregation targets.
type Sessions interface {
	Lookup
	Register(clientName string, handle registry.Sender)
	Unregister(clientName string, handle registry.Sender)
}

// Connector owns the server-side state of one transport session: at most
// one push binding and any number of pull transforms, each backed by its
// own consumers and timers. Close releases everything the session
// acquired and removes its registry entries.
type Connector struct {
	log      Log
	gateway  Publisher
	history  History
	sessions Sessions
	sender   registry.Sender
	windows  WindowConfig
	logger   *slog.Logger
	metrics  *metric.CoreMetrics

	mu         sync.Mutex
	clientName string
	boundTopic string
	registered []string
	stops      []func()
	tickers    []*AggregateWindow
	closed     bool
}

// NewConnector builds the connector for one transport session. sender is
// the session's outbound handle; every transform opened on this session
// delivers through it (aggregation excepted, which targets the registry).
func NewConnector(
	log Log,
	gateway Publisher,
	history History,
	sessions Sessions,
	sender registry.Sender,
	windows WindowConfig,
	logger *slog.Logger,
	metrics *metric.CoreMetrics,
) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		log:      log,
		gateway:  gateway,
		history:  history,
		sessions: sessions,
		sender:   sender,
		windows:  windows.withDefaults(),
		logger:   logger,
		metrics:  metrics,
	}
}

// registerLocked adds the session's sender to the registry under name and
// remembers the entry for removal at Close. Caller holds c.mu.
func (c *Connector) registerLocked(name string) {
	c.sessions.Register(name, c.sender)
	c.registered = append(c.registered, name)
	if c.clientName == "" {
		c.clientName = name
	}
}

// HandleStartPush provisions the topic and binds the session as its
// producer. Rebinding to a different topic replaces the previous binding.
func (c *Connector) HandleStartPush(ctx context.Context, req event.StartPush) error {
	if err := c.gateway.Provision(ctx, req.Topic); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundTopic = req.Topic
	c.registerLocked(req.ClientName)

	if c.metrics != nil {
		c.metrics.SessionsTotal.WithLabelValues("push").Inc()
	}
	c.logger.Info("Push session bound",
		"component", "connector", "topic", req.Topic, "client", req.ClientName)
	return nil
}

// HandlePushEvent publishes one event on the session's push binding. A
// push before any binding exists is dropped and logged.
func (c *Connector) HandlePushEvent(ctx context.Context, req event.PushEvent) error {
	c.mu.Lock()
	boundTopic := c.boundTopic
	clientName := c.clientName
	c.mu.Unlock()

	if boundTopic == "" {
		c.logger.Warn("Dropping push from unbound session",
			"component", "connector", "topic", req.Topic,
			"error", errors.ErrTopicMismatch)
		if c.metrics != nil {
			c.metrics.MessagesDropped.WithLabelValues("unbound_push").Inc()
		}
		return nil
	}
	return c.gateway.Publish(ctx, boundTopic, req, clientName)
}

// HandlePullStart opens a plain forward of the requested topics.
func (c *Connector) HandlePullStart(ctx context.Context, req event.PullStart) error {
	fwd := NewForwarder(req.Topics, c.sender, c.logger, c.metrics)
	if err := fwd.Start(ctx, c.log); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerLocked(req.ClientName)
	c.stops = append(c.stops, fwd.Stop)

	if c.metrics != nil {
		c.metrics.SessionsTotal.WithLabelValues("pull").Inc()
	}
	c.logger.Info("Pull session opened",
		"component", "connector", "topics", req.Topics, "client", req.ClientName)
	return nil
}

// HandlePullFilter opens a filtered forward: snapshot catch-up followed
// by live predicate evaluation.
func (c *Connector) HandlePullFilter(ctx context.Context, req event.PullWithFilter) error {
	spec, err := filter.FromRequest(req.Filters, req.Operation)
	if err != nil {
		return err
	}

	fwd := NewFilteredForwarder(req.Topics, spec, c.sender, c.logger, c.metrics)
	if err := fwd.Start(ctx, c.log, c.history); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerLocked(req.ClientName)
	c.stops = append(c.stops, fwd.Stop)

	if c.metrics != nil {
		c.metrics.SessionsTotal.WithLabelValues("pull_filter").Inc()
	}
	c.logger.Info("Filtered pull session opened",
		"component", "connector", "topics", req.Topics,
		"client", req.ClientName, "conditions", len(req.Filters))
	return nil
}

// HandlePullJoin opens a join window over the requested topics, flushing
// merged records to the session and to the destination topic.
func (c *Connector) HandlePullJoin(ctx context.Context, req event.PullWithJoin) error {
	if err := c.gateway.Provision(ctx, req.Topic); err != nil {
		return err
	}

	window := NewJoinWindow(
		req.Key, req.Topic, req.ClientName,
		c.windows.JoinFlushInterval, c.windows.MaxWindowKeys,
		c.sender, c.gateway, c.logger, c.metrics,
	)

	stop, err := consumeLive(ctx, c.log, req.Topics, c.logger, func(rec event.Record) {
		window.Observe(ctx, rec)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerLocked(req.ClientName)
	c.stops = append(c.stops, stop)

	if c.metrics != nil {
		c.metrics.SessionsTotal.WithLabelValues("pull_join").Inc()
	}
	c.logger.Info("Join session opened",
		"component", "connector", "topics", req.Topics,
		"key", req.Key, "destination", req.Topic, "client", req.ClientName)
	return nil
}

// HandlePullAggregate opens an aggregation window over one topic,
// delivering window sums to the named target client on an independent
// timer.
func (c *Connector) HandlePullAggregate(ctx context.Context, req event.PullWithAggregate) error {
	window := c.windows.AggregateWindow
	if req.WindowMillis > 0 {
		window = time.Duration(req.WindowMillis) * time.Millisecond
	}

	agg := NewAggregateWindow(req.Keys, req.PushToClientName, window, c.sessions, c.logger, c.metrics)

	stop, err := consumeLive(ctx, c.log, []string{req.Topic}, c.logger, func(rec event.Record) {
		agg.Observe(rec)
	})
	if err != nil {
		return err
	}
	agg.Start()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerLocked(req.ClientName)
	c.stops = append(c.stops, stop)
	c.tickers = append(c.tickers, agg)

	if c.metrics != nil {
		c.metrics.SessionsTotal.WithLabelValues("pull_aggregate").Inc()
	}
	c.logger.Info("Aggregation session opened",
		"component", "connector", "topic", req.Topic,
		"keys", req.Keys, "target", req.PushToClientName,
		"window", window, "client", req.ClientName)
	return nil
}

// Close releases every consumer and timer the session acquired and
// removes its registry entries. Safe to call more than once.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	for _, stop := range c.stops {
		stop()
	}
	c.stops = nil

	for _, agg := range c.tickers {
		agg.Stop()
	}
	c.tickers = nil

	for _, name := range c.registered {
		c.sessions.Unregister(name, c.sender)
	}
	c.registered = nil

	c.logger.Info("Session closed",
		"component", "connector", "client", c.clientName)
}
