// Package websocket provides the default transport: a persistent websocket
// session to the orchestration server, with bearer-token auth and ping/pong
// keepalive. One envelope travels per text frame.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/bridge"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultReceiveBuffer    = 64
)

// Transport dials websocket sessions. It implements bridge.Dialer.
type Transport struct {
	endpoint         string
	token            string
	handshakeTimeout time.Duration
	pingInterval     time.Duration
	receiveBuffer    int
	logger           *slog.Logger
}

// Option configures the Transport.
type Option func(*Transport)

// WithToken sets the bearer token sent on the handshake.
func WithToken(token string) Option {
	return func(t *Transport) { t.token = token }
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) { t.handshakeTimeout = d }
}

// WithPingInterval sets the keepalive ping cadence. Missed pongs close the
// session, which the connection manager observes as a transport closure.
func WithPingInterval(d time.Duration) Option {
	return func(t *Transport) { t.pingInterval = d }
}

// WithReceiveBuffer sets the inbound frame channel capacity.
func WithReceiveBuffer(n int) Option {
	return func(t *Transport) { t.receiveBuffer = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// NewTransport creates a websocket transport for a ws:// or wss:// endpoint.
func NewTransport(endpoint string, opts ...Option) *Transport {
	t := &Transport{
		endpoint:         endpoint,
		handshakeTimeout: defaultHandshakeTimeout,
		pingInterval:     defaultPingInterval,
		receiveBuffer:    defaultReceiveBuffer,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Endpoint implements bridge.Dialer.
func (t *Transport) Endpoint() string { return t.endpoint }

// Dial implements bridge.Dialer. Failures are classified as
// *contracts.ConnectError (Unreachable, AuthRejected or Timeout).
func (t *Transport) Dial(ctx context.Context) (bridge.Session, error) {
	dialer := gws.Dialer{HandshakeTimeout: t.handshakeTimeout}

	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	conn, resp, err := dialer.DialContext(ctx, t.endpoint, header)
	if err != nil {
		return nil, &contracts.ConnectError{
			Endpoint: t.endpoint,
			Attempts: 1,
			Err:      classifyDialError(err, resp),
		}
	}
	return newSession(conn, t.pingInterval, t.receiveBuffer, t.logger), nil
}

func classifyDialError(err error, resp *http.Response) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: handshake status %d", contracts.ErrAuthRejected, resp.StatusCode)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", contracts.ErrConnectTimeout, err)
	}
	return fmt.Errorf("%w: %v", contracts.ErrUnreachable, err)
}

// session is one established websocket connection.
type session struct {
	conn         *gws.Conn
	pingInterval time.Duration
	pongWait     time.Duration
	logger       *slog.Logger

	writeMu   sync.Mutex
	recv      chan []byte
	closed    chan error
	done      chan struct{}
	closeOnce sync.Once
	failOnce  sync.Once
}

func newSession(conn *gws.Conn, pingInterval time.Duration, buffer int, logger *slog.Logger) *session {
	s := &session{
		conn:         conn,
		pingInterval: pingInterval,
		pongWait:     pingInterval * 5 / 2,
		logger:       logger,
		recv:         make(chan []byte, buffer),
		closed:       make(chan error, 1),
		done:         make(chan struct{}),
	}

	if s.pingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.pongWait))
		})
		go s.pingLoop()
	}
	go s.readLoop()
	return s
}

// Send writes one frame. Safe for concurrent use.
func (s *session) Send(ctx context.Context, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)

	if err := s.conn.WriteMessage(gws.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *session) Receive() <-chan []byte { return s.recv }

func (s *session) Closed() <-chan error { return s.closed }

// Close ends the session cleanly. A close initiated here does not surface on
// Closed, so it never triggers reconnection.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *session) readLoop() {
	defer close(s.recv)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		select {
		case s.recv <- data:
		case <-s.done:
			return
		}
	}
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(gws.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.logger.Debug("keepalive ping failed", "error", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) fail(err error) {
	select {
	case <-s.done:
		// Intentional close, not a transport failure.
		return
	default:
	}
	s.failOnce.Do(func() {
		s.closed <- fmt.Errorf("websocket closed: %w", err)
	})
}
