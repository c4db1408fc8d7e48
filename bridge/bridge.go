package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/internal/reliability"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/serialization"
)

// Bridge is the request dispatcher: the public call surface over one
// connection. It correlates responses to callers by envelope id and enforces
// a per-call timeout. Any number of calls may be in flight concurrently; no
// lock is held while a caller waits.
type Bridge struct {
	conn           *ConnectionManager
	pending        *pendingTable
	defaultTimeout time.Duration
	breaker        *reliability.CircuitBreaker
	sendRetry      reliability.RetryPolicy
	logger         *slog.Logger
}

// Option configures the Bridge.
type Option func(*Bridge)

// WithDefaultTimeout sets the per-call timeout used when a call does not
// override it.
func WithDefaultTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.defaultTimeout = d }
}

// WithCircuitBreaker protects the send path with a circuit breaker.
func WithCircuitBreaker(cb *reliability.CircuitBreaker) Option {
	return func(b *Bridge) { b.breaker = cb }
}

// WithSendRetryPolicy retries transient send failures before giving up.
func WithSendRetryPolicy(policy reliability.RetryPolicy) Option {
	return func(b *Bridge) { b.sendRetry = policy }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New creates a Bridge over the given connection manager. The bridge
// registers itself as the connection's envelope handler and expires all
// in-flight calls whenever the connection drops.
func New(conn *ConnectionManager, opts ...Option) *Bridge {
	b := &Bridge{
		conn:           conn,
		defaultTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pending = newPendingTable(b.logger)

	conn.OnEnvelope(b.handleEnvelope)
	conn.AddStateListener(&expireOnDisconnect{pending: b.pending})
	return b
}

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithCallTimeout overrides the per-call timeout for one call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// Call issues one correlated request and waits for its response. The payload
// may be nil, a json.RawMessage, or any JSON-marshalable value; the returned
// payload is the raw response body. Failures are *contracts.CallError
// wrapping the cause (NotConnected, Timeout, ConnectionLost, ServerError or
// DecodeError).
func (b *Bridge) Call(ctx context.Context, method string, payload any, opts ...CallOption) (json.RawMessage, error) {
	co := callOptions{timeout: b.defaultTimeout}
	for _, opt := range opts {
		opt(&co)
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, &contracts.CallError{Method: method, Err: err}
	}

	if !b.conn.IsConnected() {
		return nil, &contracts.CallError{Method: method, Err: contracts.ErrNotConnected}
	}

	p, id, err := b.registerFresh(co.timeout)
	if err != nil {
		return nil, &contracts.CallError{Method: method, Err: err}
	}
	// Release the entry if we leave without a resolution (timeout, cancel,
	// send failure). A late response for it is then a logged no-op.
	defer b.pending.remove(id)

	frame, err := serialization.Marshal(contracts.NewRequest(id, method, raw))
	if err != nil {
		return nil, &contracts.CallError{Method: method, CorrelationID: id, Err: err}
	}

	if err := b.send(ctx, frame); err != nil {
		return nil, &contracts.CallError{Method: method, CorrelationID: id, Err: err}
	}

	timer := time.NewTimer(co.timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		if p.err != nil {
			return nil, &contracts.CallError{Method: method, CorrelationID: id, Err: p.err}
		}
		return p.reply.Payload, nil
	case <-timer.C:
		return nil, &contracts.CallError{Method: method, CorrelationID: id, Err: contracts.ErrCallTimeout}
	case <-ctx.Done():
		return nil, &contracts.CallError{Method: method, CorrelationID: id, Err: ctx.Err()}
	}
}

// PendingCalls returns the number of in-flight calls.
func (b *Bridge) PendingCalls() int {
	return b.pending.size()
}

// Connection returns the underlying connection manager.
func (b *Bridge) Connection() *ConnectionManager {
	return b.conn
}

// registerFresh registers a pending call under a fresh correlation id,
// regenerating on the (vanishingly rare) uuid collision.
func (b *Bridge) registerFresh(timeout time.Duration) (*pendingCall, string, error) {
	deadline := time.Now().Add(timeout)
	for {
		id := uuid.NewString()
		p, err := b.pending.register(id, deadline)
		if err == nil {
			return p, id, nil
		}
		var dup *DuplicateIDError
		if !errors.As(err, &dup) {
			return nil, "", err
		}
		b.logger.Warn("correlation id collision, regenerating", "correlationId", id)
	}
}

func (b *Bridge) send(ctx context.Context, frame []byte) error {
	sendOnce := func() error { return b.conn.Send(ctx, frame) }

	send := sendOnce
	if b.sendRetry != nil {
		send = func() error {
			return reliability.Retry(ctx, b.sendRetry, sendOnce)
		}
	}
	if b.breaker != nil {
		return b.breaker.Execute(ctx, send)
	}
	return send()
}

// handleEnvelope routes one decoded inbound envelope to the correlation
// table. Runs on the connection's receive loop.
func (b *Bridge) handleEnvelope(env *contracts.Envelope) {
	switch env.Kind {
	case contracts.KindResponse:
		b.pending.resolve(env.ID, env)
	case contracts.KindError:
		b.pending.fail(env.ID, &contracts.ServerError{
			Code:    env.Fault.Code,
			Message: env.Fault.Message,
		})
	default:
		b.logger.Warn("dropping unexpected inbound envelope",
			"kind", env.Kind, "correlationId", env.ID)
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return raw, nil
	}
}

// expireOnDisconnect fails every in-flight call the moment the connection
// drops. Calls are never replayed across a reconnect.
type expireOnDisconnect struct {
	pending *pendingTable
}

func (l *expireOnDisconnect) OnConnected() {}

func (l *expireOnDisconnect) OnDisconnected(err error) {
	cause := contracts.ErrConnectionLost
	if err != nil && !errors.Is(err, contracts.ErrConnectionLost) {
		cause = fmt.Errorf("%w: %v", contracts.ErrConnectionLost, err)
	}
	l.pending.expireAll(cause)
}

func (l *expireOnDisconnect) OnReconnecting(int) {}
