package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
)

// DefaultQueue is the queue mail jobs are published to.
const DefaultQueue = "tripauth.mail"

// Job is the JSON body published for each notification.
type Job struct {
	Kind      string    `json:"kind"`
	Message   Message   `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher is the subset of *amqp.Channel the notifier uses.
type Publisher interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes mail jobs to a durable RabbitMQ queue for an
// out-of-process mailer.
type AMQPNotifier struct {
	pub    Publisher
	queue  string
	logger *slog.Logger
	now    func() time.Time

	declareOnce sync.Once
	declareErr  error
	closer      func() error
}

// NewAMQPNotifier wraps an open channel.
func NewAMQPNotifier(pub Publisher, queue string, logger *slog.Logger) *AMQPNotifier {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPNotifier{pub: pub, queue: queue, logger: logger, now: time.Now}
}

// DialAMQP connects to url and returns a notifier owning the connection.
func DialAMQP(url, queue string, logger *slog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, oops.Code("NOTIFY_DIAL_FAILED").Wrap(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, oops.Code("NOTIFY_CHANNEL_FAILED").Wrap(err)
	}

	n := NewAMQPNotifier(ch, queue, logger)
	n.closer = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return n, nil
}

// Close releases the connection opened by DialAMQP.
func (n *AMQPNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}

func (n *AMQPNotifier) SendVerification(ctx context.Context, msg Message) error {
	return n.publish(ctx, KindVerification, msg)
}

func (n *AMQPNotifier) SendPasswordReset(ctx context.Context, msg Message) error {
	return n.publish(ctx, KindPasswordReset, msg)
}

func (n *AMQPNotifier) publish(ctx context.Context, kind string, msg Message) error {
	n.declareOnce.Do(func() {
		_, n.declareErr = n.pub.QueueDeclare(n.queue, true, false, false, false, nil)
	})
	if n.declareErr != nil {
		return oops.Code("NOTIFY_DECLARE_FAILED").With("queue", n.queue).Wrap(n.declareErr)
	}

	now := n.now().UTC()
	body, err := json.Marshal(Job{Kind: kind, Message: msg, CreatedAt: now})
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").Wrap(err)
	}

	err = n.pub.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Type:         kind,
		Body:         body,
	})
	if err != nil {
		return oops.Code("NOTIFY_PUBLISH_FAILED").With("queue", n.queue).With("kind", kind).Wrap(err)
	}

	n.logger.DebugContext(ctx, "mail job published",
		"kind", kind,
		"queue", n.queue,
		"token_fingerprint", Fingerprint(msg.Token),
	)
	return nil
}
