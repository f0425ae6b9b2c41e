package rmq_test

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/greyhorse-org/greyhorse/pkg/broker/rmq"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

// mockChannel records publishes and serves deliveries from an in-memory
// channel.
type mockChannel struct {
	mu         sync.Mutex
	publishes  []published
	deliveries chan amqp.Delivery

	declareErr error
	consumeErr error
	publishErr error

	closed bool
}

func newMockChannel() *mockChannel {
	return &mockChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if m.declareErr != nil {
		return amqp.Queue{}, m.declareErr
	}
	if name == "" {
		name = "amq.gen-reply"
	}
	return amqp.Queue{Name: name}, nil
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes = append(m.publishes, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (m *mockChannel) ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if m.consumeErr != nil {
		return nil, m.consumeErr
	}
	return m.deliveries, nil
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockChannel) published() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.publishes...)
}

// mockAcknowledger records how a delivery was settled.
type mockAcknowledger struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
	return nil
}

func (m *mockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nacks++
	return nil
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Nack(tag, false, requeue)
}

func (m *mockAcknowledger) counts() (acks, nacks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks, m.nacks
}

type mockConn struct {
	ch *mockChannel

	channelErr error
	isClosed   bool
	closed     bool
}

func (m *mockConn) Channel() (rmq.Channel, error) {
	if m.channelErr != nil {
		return nil, m.channelErr
	}
	return m.ch, nil
}

func (m *mockConn) IsClosed() bool { return m.isClosed }
func (m *mockConn) Close() error   { m.closed = true; return nil }

// newTestEngine returns a started engine backed by the given mock connection.
func newTestEngine(conn *mockConn) *rmq.Engine {
	return rmq.New("test", rmq.Config{}, rmq.WithNewConn(
		func(cfg rmq.Config) (rmq.Connection, error) { return conn, nil }))
}
