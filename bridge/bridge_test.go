package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/internal/reliability"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/serialization"
)

// fakeSession is an in-memory Session the tests drive by hand.
type fakeSession struct {
	mu      sync.Mutex
	sent    [][]byte
	onSend  func(frame []byte)
	sendErr error

	recv      chan []byte
	closed    chan error
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		recv:   make(chan []byte, 128),
		closed: make(chan error, 1),
	}
}

func (s *fakeSession) Send(_ context.Context, frame []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, frame)
	onSend, err := s.onSend, s.sendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if onSend != nil {
		onSend(frame)
	}
	return nil
}

func (s *fakeSession) setSendErr(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *fakeSession) Receive() <-chan []byte { return s.recv }
func (s *fakeSession) Closed() <-chan error   { return s.closed }

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.recv) })
	return nil
}

// deliver injects an inbound frame as if it arrived from the server.
func (s *fakeSession) deliver(frame []byte) { s.recv <- frame }

// fail simulates an unexpected transport closure.
func (s *fakeSession) fail(err error) {
	s.closeOnce.Do(func() {
		s.closed <- err
		close(s.recv)
	})
}

func (s *fakeSession) sentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// fakeDialer hands out fakeSessions, or scripted errors.
type fakeDialer struct {
	mu       sync.Mutex
	dialErrs []error // consumed first, one per dial
	sessions []*fakeSession
	dials    int
}

func (d *fakeDialer) Dial(context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		return nil, err
	}
	s := newFakeSession()
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) Endpoint() string { return "ws://fake.test" }

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// newTestBridge wires a connected bridge over a fake transport.
func newTestBridge(t *testing.T, opts ...Option) (*Bridge, *fakeDialer, *fakeSession) {
	t.Helper()
	dialer := &fakeDialer{}
	cm := NewConnectionManager(dialer,
		WithConnectionLogger(testLogger()),
		WithReconnectPolicy(reliability.NewExponentialBackoff(time.Millisecond, time.Millisecond, 0)),
	)
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	b := New(cm, opts...)
	require.NoError(t, cm.Connect(context.Background()))
	t.Cleanup(func() { _ = cm.Close() })
	return b, dialer, dialer.session(0)
}

// echo makes the session answer every request with a response carrying the
// request's own payload.
func echo(t *testing.T, sess *fakeSession) {
	t.Helper()
	sess.onSend = func(frame []byte) {
		env, err := serialization.Unmarshal(frame)
		require.NoError(t, err)
		reply, err := serialization.Marshal(contracts.NewResponse(env.ID, env.Method, env.Payload))
		require.NoError(t, err)
		sess.deliver(reply)
	}
}

func TestBridgeCall(t *testing.T) {
	t.Run("call returns the matching response payload", func(t *testing.T) {
		b, _, sess := newTestBridge(t)
		echo(t, sess)

		payload, err := b.Call(context.Background(), "swarm.describe", map[string]string{"swarmId": "s-1"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"swarmId":"s-1"}`, string(payload))
		assert.Equal(t, 0, b.PendingCalls())
	})

	t.Run("call fails fast when not connected", func(t *testing.T) {
		dialer := &fakeDialer{}
		cm := NewConnectionManager(dialer, WithConnectionLogger(testLogger()))
		b := New(cm, WithLogger(testLogger()))

		_, err := b.Call(context.Background(), "agent.list", nil)
		var callErr *contracts.CallError
		require.ErrorAs(t, err, &callErr)
		assert.ErrorIs(t, err, contracts.ErrNotConnected)
	})

	t.Run("server error envelope surfaces as ServerError", func(t *testing.T) {
		b, _, sess := newTestBridge(t)
		sess.onSend = func(frame []byte) {
			env, err := serialization.Unmarshal(frame)
			require.NoError(t, err)
			reply, err := serialization.Marshal(contracts.NewErrorEnvelope(env.ID, "E_NO_SWARM", "no such swarm"))
			require.NoError(t, err)
			sess.deliver(reply)
		}

		_, err := b.Call(context.Background(), "swarm.describe", nil)
		var srvErr *contracts.ServerError
		require.ErrorAs(t, err, &srvErr)
		assert.Equal(t, "E_NO_SWARM", srvErr.Code)
	})

	t.Run("send failure releases the pending entry", func(t *testing.T) {
		b, _, sess := newTestBridge(t)
		sess.sendErr = errors.New("pipe broken")

		_, err := b.Call(context.Background(), "agent.list", nil)
		require.Error(t, err)
		assert.Equal(t, 0, b.PendingCalls())
	})

	t.Run("cancelled context ends the wait and releases the entry", func(t *testing.T) {
		b, _, _ := newTestBridge(t)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		_, err := b.Call(ctx, "agent.list", nil, WithCallTimeout(10*time.Second))
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, b.PendingCalls())
	})
}

func TestBridgeCallTimeout(t *testing.T) {
	b, _, _ := newTestBridge(t)

	start := time.Now()
	_, err := b.Call(context.Background(), "slow.method", nil, WithCallTimeout(50*time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrCallTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	// The correlation entry must be gone: no leak, and a late response for
	// it is dropped.
	assert.Equal(t, 0, b.PendingCalls())
}

func TestBridgeConcurrentCallsShuffledDelivery(t *testing.T) {
	// 50 concurrent calls; replies delivered in random order. Every caller
	// must receive exactly the response matching its own correlation id.
	const n = 50
	b, _, sess := newTestBridge(t)

	var mu sync.Mutex
	var requests [][]byte
	sess.onSend = func(frame []byte) {
		mu.Lock()
		requests = append(requests, frame)
		mu.Unlock()
	}

	type outcome struct {
		idx     int
		payload string
		err     error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			payload, err := b.Call(context.Background(), "echo",
				map[string]int{"seq": i}, WithCallTimeout(5*time.Second))
			results <- outcome{idx: i, payload: string(payload), err: err}
		}(i)
	}

	// Wait for all requests to hit the wire, then answer them shuffled.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(requests) == n
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	shuffled := make([][]byte, n)
	copy(shuffled, requests)
	mu.Unlock()
	rand.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for _, frame := range shuffled {
		env, err := serialization.Unmarshal(frame)
		require.NoError(t, err)
		reply, err := serialization.Marshal(contracts.NewResponse(env.ID, env.Method, env.Payload))
		require.NoError(t, err)
		sess.deliver(reply)
	}

	for i := 0; i < n; i++ {
		res := <-results
		require.NoError(t, res.err)
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, res.idx), res.payload)
	}
	assert.Equal(t, 0, b.PendingCalls())
}

func TestBridgeConnectionLossExpiresPendingCalls(t *testing.T) {
	const k = 10
	b, _, sess := newTestBridge(t)

	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		go func() {
			_, err := b.Call(context.Background(), "slow.method", nil, WithCallTimeout(time.Minute))
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return b.PendingCalls() == k },
		5*time.Second, 5*time.Millisecond)

	sess.fail(errors.New("peer vanished"))

	for i := 0; i < k; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, contracts.ErrConnectionLost)
		case <-time.After(5 * time.Second):
			t.Fatal("pending call hung after connection loss")
		}
	}
	assert.Equal(t, 0, b.PendingCalls())
}

func TestBridgeCloseExpiresPendingCalls(t *testing.T) {
	// Explicit teardown must not leave callers waiting out their own
	// timeouts.
	b, _, _ := newTestBridge(t)

	errs := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "slow.method", nil, WithCallTimeout(time.Minute))
		errs <- err
	}()

	require.Eventually(t, func() bool { return b.PendingCalls() == 1 },
		5*time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, b.Connection().Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, contracts.ErrConnectionLost)
		assert.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call hung after Close")
	}
	assert.Equal(t, 0, b.PendingCalls())
}

func TestBridgeCallAfterReconnect(t *testing.T) {
	// A call issued on the re-established session must never be expired
	// with the old session's failure: expiry is ordered strictly before
	// reconnection.
	dialer := &fakeDialer{}
	cm := NewConnectionManager(dialer,
		WithConnectionLogger(testLogger()),
		WithReconnectPolicy(reliability.NewExponentialBackoff(time.Millisecond, time.Millisecond, 3)),
	)
	b := New(cm, WithLogger(testLogger()))
	require.NoError(t, cm.Connect(context.Background()))
	t.Cleanup(func() { _ = cm.Close() })

	dialer.session(0).fail(errors.New("peer vanished"))

	require.Eventually(t, func() bool {
		return cm.IsConnected() && dialer.dialCount() == 2
	}, 5*time.Second, time.Millisecond)

	echo(t, dialer.session(1))
	payload, err := b.Call(context.Background(), "agent.list",
		map[string]string{"after": "reconnect"}, WithCallTimeout(5*time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `{"after":"reconnect"}`, string(payload))
}

func TestBridgeSendPathProtection(t *testing.T) {
	t.Run("circuit breaker rejections surface to the caller", func(t *testing.T) {
		breaker := reliability.NewCircuitBreaker(
			reliability.WithFailureThreshold(1),
			reliability.WithOpenTimeout(time.Hour),
		)
		b, _, sess := newTestBridge(t, WithCircuitBreaker(breaker))
		sess.sendErr = errors.New("pipe broken")

		_, err := b.Call(context.Background(), "agent.list", nil)
		require.Error(t, err)

		// The breaker is now open; the next call is rejected without a send.
		_, err = b.Call(context.Background(), "agent.list", nil)
		assert.ErrorIs(t, err, reliability.ErrCircuitOpen)
		assert.Len(t, sess.sentFrames(), 1)
	})

	t.Run("send retry recovers a transient failure", func(t *testing.T) {
		b, _, sess := newTestBridge(t,
			WithSendRetryPolicy(reliability.NewFixedDelay(time.Millisecond, 3)))
		echo(t, sess)
		sess.setSendErr(errors.New("transient"))

		go func() {
			// Let the first attempt fail, then heal the pipe.
			time.Sleep(5 * time.Millisecond)
			sess.setSendErr(nil)
		}()

		payload, err := b.Call(context.Background(), "echo", map[string]bool{"ok": true},
			WithCallTimeout(5*time.Second))
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(payload))
	})
}
