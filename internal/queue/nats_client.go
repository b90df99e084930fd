package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"msgvault-backend/internal/shared/telemetry"
)

const (
	natsAckWait    = 60 * time.Second
	natsMaxDeliver = 5
	natsRetryDelay = 5 * time.Second

	natsDrainTimeout = 30 * time.Second
)

// Result tells a consumer what to do with a delivered message.
type Result int

const (
	// ResultAck removes the message: it was stored or can never succeed.
	ResultAck Result = iota
	// ResultRetry leaves the message for redelivery.
	ResultRetry
)

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) Result

// NATSClient publishes to and consumes from a JetStream-backed subject.
type NATSClient struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// ConnectNATS dials url and ensures stream captures subject.
func ConnectNATS(url, stream, subject string) (*NATSClient, error) {
	conn, err := nats.Connect(url, nats.Name("msgvault"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	// Acked messages leave a work-queue stream, so a recreated consumer only sees pending work.
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	return &NATSClient{conn: conn, js: js, subject: subject}, nil
}

// Send publishes msg and waits for the stream acknowledgement.
func (n *NATSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode nats message: %w", err)
	}
	if _, err := n.js.Publish(n.subject, payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Consume runs handle for every delivered message with at most concurrency in
// flight, until ctx is cancelled. Handlers run on a context that outlives ctx so
// shutdown never fails an item half way; in-flight messages finish before it returns.
func (n *NATSClient) Consume(ctx context.Context, group string, concurrency int, handle Handler) error {
	d := newDispatcher(context.WithoutCancel(ctx), concurrency, handle)

	sub, err := n.js.QueueSubscribe(n.subject, group, func(m *nats.Msg) {
		d.dispatch(m, m.Data)
	},
		nats.Durable(group),
		nats.ManualAck(),
		nats.AckWait(natsAckWait),
		nats.MaxDeliver(natsMaxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.subject, err)
	}

	telemetry.Info("worker.nats.subscribed", map[string]any{
		"subject":     n.subject,
		"group":       group,
		"concurrency": cap(d.sem),
	})

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		telemetry.Warn("worker.nats.drain_failed", map[string]any{"error": err.Error()})
	} else {
		waitDrained(sub, natsDrainTimeout)
	}
	d.close()
	return nil
}

// waitDrained polls until sub has delivered its buffered messages and closed.
func waitDrained(sub *nats.Subscription, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for sub.IsValid() {
		if time.Now().After(deadline) {
			telemetry.Warn("worker.nats.drain_timeout", map[string]any{"timeout": timeout.String()})
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// ackable is the settlement surface of *nats.Msg.
type ackable interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
}

// dispatcher bounds concurrent handlers and refuses work once closed. The
// closed check and wg.Add share a lock so no Add can race close's Wait.
type dispatcher struct {
	ctx    context.Context
	handle Handler
	sem    chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(ctx context.Context, concurrency int, handle Handler) *dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &dispatcher{ctx: ctx, handle: handle, sem: make(chan struct{}, concurrency)}
}

// dispatch blocks the delivery callback while all slots are busy.
func (d *dispatcher) dispatch(m ackable, data []byte) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = m.Nak()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.sem <- struct{}{}
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		settle(m, d.handle(d.ctx, data))
	}()
}

// close stops accepting messages and waits for in-flight handlers.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func settle(m ackable, result Result) {
	var err error
	if result == ResultRetry {
		err = m.NakWithDelay(natsRetryDelay)
	} else {
		err = m.Ack()
	}
	if err != nil {
		telemetry.Warn("worker.nats.settle_failed", map[string]any{"error": err.Error()})
	}
}

// Close drains the connection.
func (n *NATSClient) Close() {
	if n == nil || n.conn == nil {
		return
	}
	_ = n.conn.Drain()
}

var _ Client = (*NATSClient)(nil)
