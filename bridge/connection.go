package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/internal/reliability"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/serialization"
)

// ErrReconnectExhausted is reported to state listeners when the reconnect
// attempt budget runs out.
var ErrReconnectExhausted = errors.New("bridge: reconnect attempts exhausted")

// State is the connection lifecycle state. Exactly one instance of it exists
// per client, owned by the ConnectionManager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Session is one established transport session. Receive is closed when the
// session ends; Closed delivers the cause of an unexpected closure.
type Session interface {
	Send(ctx context.Context, frame []byte) error
	Receive() <-chan []byte
	Closed() <-chan error
	Close() error
}

// Dialer establishes transport sessions. Implementations classify dial
// failures as *contracts.ConnectError so the reconnect loop can tell
// terminal auth rejections from transient failures.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
	Endpoint() string
}

// ConnectionStateListener receives connection state change notifications.
// OnDisconnected is invoked synchronously, before any reconnect attempt
// starts; implementations must not block in it.
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// ConnectionManager owns the transport session: it connects, sends frames,
// runs the receive loop, and re-establishes the session with backoff when it
// drops. All in-flight call bookkeeping lives above it; the manager only
// reports state transitions to its listeners.
type ConnectionManager struct {
	dialer         Dialer
	connectTimeout time.Duration
	reconnect      reliability.RetryPolicy
	logger         *slog.Logger

	mu      sync.RWMutex
	state   State
	session Session

	// handler receives every decoded inbound envelope. Set once via
	// OnEnvelope before Connect.
	handler func(*contracts.Envelope)

	listenersMu sync.RWMutex
	listeners   []ConnectionStateListener

	done      chan struct{}
	closeOnce sync.Once
}

// ConnectionOption configures the ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithConnectionLogger sets the logger.
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) { cm.logger = logger }
}

// WithConnectTimeout bounds a single dial attempt.
func WithConnectTimeout(d time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) { cm.connectTimeout = d }
}

// WithReconnectPolicy sets the backoff policy for automatic reconnection.
func WithReconnectPolicy(policy reliability.RetryPolicy) ConnectionOption {
	return func(cm *ConnectionManager) { cm.reconnect = policy }
}

// NewConnectionManager creates a connection manager over the given dialer.
func NewConnectionManager(dialer Dialer, opts ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		dialer:         dialer,
		connectTimeout: 30 * time.Second,
		reconnect:      reliability.NewExponentialBackoff(time.Second, time.Minute, 5),
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// OnEnvelope registers the inbound envelope handler. Must be called before
// Connect.
func (cm *ConnectionManager) OnEnvelope(handler func(*contracts.Envelope)) {
	cm.handler = handler
}

// AddStateListener registers a connection state listener.
func (cm *ConnectionManager) AddStateListener(l ConnectionStateListener) {
	cm.listenersMu.Lock()
	cm.listeners = append(cm.listeners, l)
	cm.listenersMu.Unlock()
}

// Connect establishes the initial session.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	if cm.state == StateConnected {
		cm.mu.Unlock()
		return nil
	}
	cm.state = StateConnecting
	cm.mu.Unlock()

	sess, err := cm.dial(ctx)
	if err != nil {
		cm.setState(StateDisconnected, nil)
		return err
	}

	cm.setState(StateConnected, sess)
	cm.logger.Info("connected", "endpoint", cm.dialer.Endpoint())
	cm.notifyConnected()

	go cm.receiveLoop(sess)
	go cm.watch(sess)
	return nil
}

// Send transmits one encoded frame over the current session. Fails with
// contracts.ErrNotConnected when no session is established.
func (cm *ConnectionManager) Send(ctx context.Context, frame []byte) error {
	cm.mu.RLock()
	state, sess := cm.state, cm.session
	cm.mu.RUnlock()

	if state != StateConnected || sess == nil {
		return contracts.ErrNotConnected
	}
	return sess.Send(ctx, frame)
}

// State returns the current connection state.
func (cm *ConnectionManager) State() State {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// IsConnected reports whether a session is currently established.
func (cm *ConnectionManager) IsConnected() bool {
	return cm.State() == StateConnected
}

// Close releases the session and stops reconnection. Listeners observe the
// transition as a disconnect, so in-flight calls are expired rather than
// left to run out their own timeouts. Idempotent.
func (cm *ConnectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		close(cm.done)

		cm.mu.Lock()
		sess := cm.session
		cm.session = nil
		wasActive := cm.state != StateDisconnected
		cm.state = StateDisconnected
		cm.mu.Unlock()

		if sess != nil {
			err = sess.Close()
		}
		if wasActive {
			cm.notifyDisconnected(contracts.ErrConnectionLost)
		}
		cm.logger.Info("connection manager shut down")
	})
	return err
}

// receiveLoop decodes inbound frames and hands envelopes to the handler.
// Malformed frames are logged and dropped; they never terminate the loop.
func (cm *ConnectionManager) receiveLoop(sess Session) {
	for frame := range sess.Receive() {
		env, err := serialization.Unmarshal(frame)
		if err != nil {
			cm.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if cm.handler != nil {
			cm.handler(env)
		}
	}
}

// watch waits for the session to close unexpectedly and drives reconnection.
func (cm *ConnectionManager) watch(sess Session) {
	select {
	case err := <-sess.Closed():
		select {
		case <-cm.done:
			return
		default:
		}
		cm.logger.Error("connection lost", "endpoint", cm.dialer.Endpoint(), "error", err)
		cm.setState(StateReconnecting, nil)
		cm.notifyDisconnected(err)
		cm.redial()
	case <-cm.done:
	}
}

// redial attempts to re-establish the session with backoff. In-flight calls
// were already expired when the session dropped; nothing is replayed.
func (cm *ConnectionManager) redial() {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		if attempt >= cm.reconnect.MaxAttempts() {
			cm.logger.Error("reconnect attempts exhausted",
				"attempts", attempt, "duration", time.Since(start))
			cm.setState(StateDisconnected, nil)
			cm.notifyDisconnected(ErrReconnectExhausted)
			return
		}

		cm.notifyReconnecting(attempt + 1)
		if attempt > 0 {
			select {
			case <-time.After(cm.reconnect.NextDelay(attempt)):
			case <-cm.done:
				return
			}
		}

		select {
		case <-cm.done:
			return
		default:
		}

		sess, err := cm.dial(context.Background())
		if err != nil {
			if contracts.IsAuthRejected(err) {
				cm.logger.Error("reconnect rejected, giving up", "error", err)
				cm.setState(StateDisconnected, nil)
				cm.notifyDisconnected(err)
				return
			}
			cm.logger.Warn("reconnect attempt failed",
				"attempt", attempt+1, "error", err)
			continue
		}

		cm.setState(StateConnected, sess)
		cm.logger.Info("reconnected",
			"endpoint", cm.dialer.Endpoint(),
			"attempts", attempt+1,
			"duration", time.Since(start))
		cm.notifyConnected()

		go cm.receiveLoop(sess)
		go cm.watch(sess)
		return
	}
}

func (cm *ConnectionManager) dial(ctx context.Context) (Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.connectTimeout)
	defer cancel()

	sess, err := cm.dialer.Dial(dialCtx)
	if err != nil {
		var connErr *contracts.ConnectError
		if errors.As(err, &connErr) {
			return nil, err
		}
		cause := err
		if dialCtx.Err() != nil {
			cause = contracts.ErrConnectTimeout
		}
		return nil, &contracts.ConnectError{
			Endpoint: cm.dialer.Endpoint(),
			Attempts: 1,
			Err:      cause,
		}
	}
	return sess, nil
}

func (cm *ConnectionManager) setState(state State, sess Session) {
	cm.mu.Lock()
	cm.state = state
	cm.session = sess
	cm.mu.Unlock()
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, l := range cm.listeners {
		go l.OnConnected()
	}
}

// notifyDisconnected runs synchronously: in-flight call expiry must complete
// before any reconnect attempt can establish a new session, or a call issued
// right after reconnecting could be expired with the old session's failure.
// Listeners must not block in OnDisconnected.
func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	listeners := make([]ConnectionStateListener, len(cm.listeners))
	copy(listeners, cm.listeners)
	cm.listenersMu.RUnlock()
	for _, l := range listeners {
		l.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, l := range cm.listeners {
		go l.OnReconnecting(attempt)
	}
}
