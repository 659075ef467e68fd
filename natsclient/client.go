// Package natsclient provides a client for managing NATS JetStream
// connections with a circuit breaker pattern. Each topic maps to one
// single-replica stream, and each pull session gets its own ordered
// consumer so every session observes the complete topic stream.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/thinkerajay/event-streamer-service/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error variables
var (
	ErrNotConnected   = stderrors.New("not connected to NATS")
	ErrStreamNotFound = stderrors.New("stream not found")
)

// Client manages a NATS connection, JetStream streams and per-session
// ordered consumers.
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	// Circuit breaker
	failures         atomic.Int32
	circuitFailures  atomic.Int32
	circuitThreshold int32
	backoff          atomic.Value // stores time.Duration
	maxBackoff       time.Duration

	// Connection options
	clientName    string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1, // infinite by default
		reconnectWait:    2 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy returns true if the connection is healthy
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// recordFailure tracks a failure and opens the circuit past the threshold.
func (c *Client) recordFailure() {
	total := c.failures.Add(1)
	circuit := c.circuitFailures.Add(1)

	if circuit >= c.circuitThreshold {
		current := c.Status()
		if current != StatusCircuitOpen &&
			c.status.CompareAndSwap(current, StatusCircuitOpen) {
			backoff := c.backoff.Load().(time.Duration)
			next := backoff * 2
			if next > c.maxBackoff {
				next = c.maxBackoff
			}
			c.backoff.Store(next)
			c.circuitFailures.Store(0)

			c.logger.Warn("NATS circuit breaker opened",
				"component", "natsclient",
				"failures", total,
				"backoff", backoff)

			time.AfterFunc(backoff, func() {
				if c.Status() == StatusCircuitOpen {
					c.setStatus(StatusDisconnected)
				}
			})
		}
	}
}

// resetCircuit clears failure tracking after a success.
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// Connect establishes the connection and initializes JetStream.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return errors.ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "component", "natsclient", "url", c.url)

	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusReconnecting)
			c.logger.Warn("NATS disconnected", "component", "natsclient", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setStatus(StatusConnected)
			c.resetCircuit()
			c.logger.Info("NATS reconnected", "component", "natsclient")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusDisconnected)
		}),
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.recordFailure()
			if c.Status() != StatusCircuitOpen {
				c.setStatus(StatusDisconnected)
			}
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.recordFailure()
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS", "component", "natsclient", "url", c.url)
	return nil
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- c.conn.Drain()
	}()

	var drainErr error
	select {
	case err := <-drainDone:
		drainErr = err
	case <-time.After(drainTimeout):
		drainErr = fmt.Errorf("drain timeout after %v", drainTimeout)
	case <-ctx.Done():
		drainErr = ctx.Err()
	}
	if drainErr != nil {
		c.logger.Error("NATS drain error, force closing",
			"component", "natsclient", "error", drainErr)
	}

	c.conn.Close()
	c.conn = nil
	c.js = nil
	c.setStatus(StatusDisconnected)

	if drainErr != nil {
		return errors.Wrap(drainErr, "Client", "Close", "drain connection")
	}
	return nil
}

// jetStream returns the JetStream context or ErrNotConnected.
func (c *Client) jetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// GetStream looks up an existing stream by name. Absence is reported as
// ErrStreamNotFound so provisioning callers can distinguish it from real
// failures.
func (c *Client) GetStream(ctx context.Context, name string) (jetstream.Stream, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, errors.ErrCircuitOpen
	}

	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.Stream(ctx, name)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, ErrStreamNotFound
		}
		c.recordFailure()
		return nil, err
	}

	c.resetCircuit()
	return stream, nil
}

// CreateStream creates a stream with the given configuration.
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, errors.ErrCircuitOpen
	}

	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateStream(ctx, cfg)
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	c.resetCircuit()
	return stream, nil
}

// PublishToStream publishes data on a stream subject.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	if c.Status() == StatusCircuitOpen {
		return errors.ErrCircuitOpen
	}

	js, err := c.jetStream()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.recordFailure()
		return err
	}

	c.resetCircuit()
	return nil
}

// OrderedConsume attaches a fresh ordered consumer to a stream, delivering
// records in stream order from the position the deliver policy selects.
// The returned stop function detaches the consumer; it is safe to call
// once per consumer.
func (c *Client) OrderedConsume(
	ctx context.Context, streamName string, policy jetstream.DeliverPolicy, handler func([]byte),
) (func(), error) {
	if c.Status() == StatusCircuitOpen {
		return nil, errors.ErrCircuitOpen
	}

	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	consumer, err := js.OrderedConsumer(ctx, streamName, jetstream.OrderedConsumerConfig{
		DeliverPolicy: policy,
	})
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "OrderedConsume",
			fmt.Sprintf("create consumer on %s", streamName))
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(msg.Data())
	})
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "OrderedConsume",
			fmt.Sprintf("start consuming %s", streamName))
	}

	c.resetCircuit()
	return consumeCtx.Stop, nil
}
