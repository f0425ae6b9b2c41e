package rmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const errorHeader = "x-error"

// Handler processes an RPC request body and returns the reply body.
type Handler func(ctx context.Context, body []byte) ([]byte, error)

// Server consumes RPC requests from a queue and publishes replies to the
// reply-to queue of each request.
type Server struct {
	engine  *Engine
	queue   string
	handler Handler
}

// NewServer creates an RPC server answering requests on the given queue.
func NewServer(e *Engine, queue string, handler Handler) *Server {
	return &Server{engine: e, queue: queue, handler: handler}
}

// Serve declares the request queue and processes deliveries until the context
// is cancelled or the delivery stream closes.
func (s *Server) Serve(ctx context.Context) error {
	ch, err := s.engine.openChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(s.queue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", s.queue, err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from queue %q: %w", q.Name, err)
	}

	slog.Info("RPC server listening", "engine", s.engine.Name(), "queue", q.Name)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			s.handle(ctx, ch, d)
		}
	}
}

func (s *Server) handle(ctx context.Context, ch Channel, d amqp.Delivery) {
	reply, err := s.callHandler(ctx, d.Body)
	defer func() {
		var ackErr error
		if err != nil {
			ackErr = d.Nack(false, false)
		} else {
			ackErr = d.Ack(false)
		}
		if ackErr != nil {
			slog.Warn("Failed to acknowledge RPC request", "queue", s.queue, "error", ackErr)
		}
	}()

	if d.ReplyTo == "" {
		if err != nil {
			slog.Warn("RPC handler failed with no reply queue to report to", "queue", s.queue, "error", err)
		}
		return
	}

	pub := amqp.Publishing{
		CorrelationId: d.CorrelationId,
		ContentType:   d.ContentType,
		Body:          reply,
	}
	if err != nil {
		pub.Body = nil
		pub.Headers = amqp.Table{errorHeader: err.Error()}
	}

	if pubErr := ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, pub); pubErr != nil {
		slog.Warn("Failed to publish RPC reply", "queue", s.queue, "reply_to", d.ReplyTo, "error", pubErr)
	}
}

// callHandler runs the handler, converting a panic into an error so one bad
// request cannot take the server down.
func (s *Server) callHandler(ctx context.Context, body []byte) (reply []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("RPC handler panicked", "queue", s.queue, "panic", r)
			reply = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return s.handler(ctx, body)
}

// Client issues RPC requests over an exclusive reply queue, matching replies
// to callers by correlation id.
type Client struct {
	engine *Engine
	queue  string

	// done is closed by Close and unblocks every in-flight Call.
	done chan struct{}

	mu         sync.Mutex
	ch         Channel
	replyQueue string
	pending    map[string]chan amqp.Delivery
	cancel     context.CancelFunc
}

// NewClient creates an RPC client sending requests to the given queue.
func NewClient(e *Engine, queue string) *Client {
	return &Client{
		engine:  e,
		queue:   queue,
		done:    make(chan struct{}),
		pending: make(map[string]chan amqp.Delivery),
	}
}

// ensureStarted lazily sets up the reply queue and its dispatcher.
func (c *Client) ensureStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return errors.New("client is closed")
	default:
	}
	if c.ch != nil {
		return nil
	}

	ch, err := c.engine.openChannel()
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		cancel()
		ch.Close()
		return fmt.Errorf("failed to consume from reply queue %q: %w", q.Name, err)
	}

	c.ch = ch
	c.replyQueue = q.Name
	c.cancel = cancel
	go c.dispatch(deliveries)
	return nil
}

// dispatch routes replies to the pending call matching their correlation id.
// Replies with no pending call are dropped.
func (c *Client) dispatch(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		c.mu.Lock()
		wait, ok := c.pending[d.CorrelationId]
		delete(c.pending, d.CorrelationId)
		c.mu.Unlock()

		if !ok {
			slog.Warn("Dropping reply with unknown correlation id", "queue", c.queue, "correlation_id", d.CorrelationId)
			continue
		}
		wait <- d
	}
}

// Call publishes a request and blocks until the matching reply arrives or the
// context is cancelled.
func (c *Client) Call(ctx context.Context, body []byte) ([]byte, error) {
	if err := c.ensureStarted(); err != nil {
		return nil, err
	}

	corrID := uuid.NewString()
	wait := make(chan amqp.Delivery, 1)

	c.mu.Lock()
	c.pending[corrID] = wait
	ch := c.ch
	replyQueue := c.replyQueue
	c.mu.Unlock()

	unregister := func() {
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
	}

	err := ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		CorrelationId: corrID,
		ReplyTo:       replyQueue,
		ContentType:   "application/octet-stream",
		Body:          body,
	})
	if err != nil {
		unregister()
		return nil, fmt.Errorf("failed to publish request: %w", err)
	}

	select {
	case <-ctx.Done():
		unregister()
		return nil, ctx.Err()
	case <-c.done:
		unregister()
		return nil, errors.New("client is closed")
	case d := <-wait:
		if msg, ok := d.Headers[errorHeader]; ok {
			return nil, fmt.Errorf("remote handler failed: %v", msg)
		}
		return d.Body, nil
	}
}

// Close tears down the reply queue consumer and channel, failing every
// in-flight call. The client can no longer be used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	if c.ch == nil {
		return nil
	}

	c.cancel()
	err := c.ch.Close()
	c.ch = nil
	c.pending = make(map[string]chan amqp.Delivery)
	return err
}
