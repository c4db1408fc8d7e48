// Package amqp provides a broker-backed transport: request frames are
// published to the server's command queue and response frames are consumed
// from an exclusive auto-delete reply queue. Useful in deployments where the
// orchestration server is reached through RabbitMQ rather than a direct
// socket.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/bridge"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
)

const (
	defaultRequestQueue  = "syndicate.rpc"
	defaultDialTimeout   = 30 * time.Second
	defaultReceiveBuffer = 64
)

// Transport dials AMQP sessions. It implements bridge.Dialer.
type Transport struct {
	url           string
	requestQueue  string
	dialTimeout   time.Duration
	receiveBuffer int
	logger        *slog.Logger
}

// Option configures the Transport.
type Option func(*Transport)

// WithRequestQueue sets the queue the server consumes requests from.
func WithRequestQueue(name string) Option {
	return func(t *Transport) { t.requestQueue = name }
}

// WithDialTimeout bounds one broker dial.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) { t.dialTimeout = d }
}

// WithReceiveBuffer sets the inbound frame channel capacity.
func WithReceiveBuffer(n int) Option {
	return func(t *Transport) { t.receiveBuffer = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// NewTransport creates an AMQP transport for an amqp:// or amqps:// URL.
func NewTransport(amqpURL string, opts ...Option) *Transport {
	t := &Transport{
		url:           amqpURL,
		requestQueue:  defaultRequestQueue,
		dialTimeout:   defaultDialTimeout,
		receiveBuffer: defaultReceiveBuffer,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Endpoint implements bridge.Dialer. Credentials are stripped.
func (t *Transport) Endpoint() string { return sanitizeURL(t.url) }

// Dial implements bridge.Dialer: it opens a connection and channel, declares
// the exclusive reply queue and starts consuming it.
func (t *Transport) Dial(ctx context.Context) (bridge.Session, error) {
	conn, err := t.dialBroker(ctx)
	if err != nil {
		return nil, &contracts.ConnectError{
			Endpoint: t.Endpoint(),
			Attempts: 1,
			Err:      err,
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, &contracts.ConnectError{
			Endpoint: t.Endpoint(),
			Attempts: 1,
			Err:      fmt.Errorf("%w: open channel: %v", contracts.ErrUnreachable, err),
		}
	}

	replyQueue := fmt.Sprintf("syndicate.reply.%s", uuid.NewString()[:8])
	if _, err := ch.QueueDeclare(replyQueue, false, true, true, false, nil); err != nil {
		_ = conn.Close()
		return nil, &contracts.ConnectError{
			Endpoint: t.Endpoint(),
			Attempts: 1,
			Err:      fmt.Errorf("%w: declare reply queue: %v", contracts.ErrUnreachable, err),
		}
	}

	deliveries, err := ch.Consume(replyQueue, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, &contracts.ConnectError{
			Endpoint: t.Endpoint(),
			Attempts: 1,
			Err:      fmt.Errorf("%w: consume reply queue: %v", contracts.ErrUnreachable, err),
		}
	}

	s := &session{
		conn:         conn,
		ch:           ch,
		requestQueue: t.requestQueue,
		replyQueue:   replyQueue,
		recv:         make(chan []byte, t.receiveBuffer),
		closed:       make(chan error, 1),
		done:         make(chan struct{}),
		logger:       t.logger,
	}
	go s.pump(deliveries)
	go s.watchClose(conn.NotifyClose(make(chan *amqp091.Error, 1)))
	return s, nil
}

// dialBroker dials with a timeout; the amqp library has no context-aware
// dial, so the attempt runs in a goroutine the way the reconnecting broker
// clients do it.
func (t *Transport) dialBroker(ctx context.Context) (*amqp091.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	connCh := make(chan *amqp091.Connection, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := amqp091.Dial(t.url)
		if err != nil {
			errCh <- err
			return
		}
		select {
		case connCh <- conn:
		case <-dialCtx.Done():
			_ = conn.Close()
		}
	}()

	select {
	case conn := <-connCh:
		return conn, nil
	case err := <-errCh:
		return nil, classifyDialError(err)
	case <-dialCtx.Done():
		return nil, fmt.Errorf("%w: %v", contracts.ErrConnectTimeout, dialCtx.Err())
	}
}

func classifyDialError(err error) error {
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp091.AccessRefused {
		return fmt.Errorf("%w: %v", contracts.ErrAuthRejected, err)
	}
	return fmt.Errorf("%w: %v", contracts.ErrUnreachable, err)
}

// session is one established broker connection plus its reply consumer.
type session struct {
	conn         *amqp091.Connection
	ch           *amqp091.Channel
	requestQueue string
	replyQueue   string
	logger       *slog.Logger

	recv      chan []byte
	closed    chan error
	done      chan struct{}
	closeOnce sync.Once
}

// Send publishes one frame to the server's request queue with the reply
// queue as the response address.
func (s *session) Send(ctx context.Context, frame []byte) error {
	err := s.ch.PublishWithContext(ctx, "", s.requestQueue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		ReplyTo:     s.replyQueue,
		Timestamp:   time.Now().UTC(),
		Body:        frame,
	})
	if err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

func (s *session) Receive() <-chan []byte { return s.recv }

func (s *session) Closed() <-chan error { return s.closed }

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.ch.Close()
		err = s.conn.Close()
	})
	return err
}

func (s *session) pump(deliveries <-chan amqp091.Delivery) {
	defer close(s.recv)
	for d := range deliveries {
		select {
		case s.recv <- d.Body:
		case <-s.done:
			return
		}
	}
}

func (s *session) watchClose(notify chan *amqp091.Error) {
	amqpErr, ok := <-notify
	select {
	case <-s.done:
		// Intentional close.
		return
	default:
	}
	if !ok || amqpErr == nil {
		s.closed <- errors.New("amqp connection closed")
		return
	}
	s.closed <- fmt.Errorf("amqp connection closed: %w", amqpErr)
}

// sanitizeURL strips credentials from a broker URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "amqp://<invalid-url>"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}
