package bridge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
)

// DuplicateIDError is returned when a correlation id is registered while a
// prior registration with the same id is still in flight.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("correlation id %s already in flight", e.ID)
}

// pendingCall tracks one in-flight request awaiting resolution. It is owned
// by the pendingTable from registration until exactly one of resolve, fail
// or expire completes it; the waiting caller observes the outcome through
// the done channel.
type pendingCall struct {
	id       string
	issuedAt time.Time
	deadline time.Time

	once  sync.Once
	done  chan struct{}
	reply *contracts.Envelope
	err   error
}

// complete hands the call its single resolution. Late or duplicate
// completions are no-ops; the return value reports whether this completion
// won.
func (p *pendingCall) complete(reply *contracts.Envelope, err error) bool {
	won := false
	p.once.Do(func() {
		p.reply = reply
		p.err = err
		close(p.done)
		won = true
	})
	return won
}

// pendingTable is the correlation table: it maps in-flight correlation ids
// to pending calls. Registration happens on the calling side, resolution on
// the receive loop; both paths are safe to run concurrently.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[string]*pendingCall
	logger *slog.Logger
}

func newPendingTable(logger *slog.Logger) *pendingTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &pendingTable{
		calls:  make(map[string]*pendingCall),
		logger: logger,
	}
}

// register creates a pending call for id. It fails with *DuplicateIDError if
// the id is already in flight.
func (t *pendingTable) register(id string, deadline time.Time) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.calls[id]; exists {
		return nil, &DuplicateIDError{ID: id}
	}
	p := &pendingCall{
		id:       id,
		issuedAt: time.Now(),
		deadline: deadline,
		done:     make(chan struct{}),
	}
	t.calls[id] = p
	return p, nil
}

// resolve completes the call registered under id with a response envelope.
// Unknown ids are logged and dropped: the call has already timed out or been
// cancelled.
func (t *pendingTable) resolve(id string, reply *contracts.Envelope) {
	if p := t.take(id); p != nil {
		p.complete(reply, nil)
	} else {
		t.logger.Debug("response for unknown correlation id", "correlationId", id)
	}
}

// fail completes the call registered under id with an error outcome.
func (t *pendingTable) fail(id string, err error) {
	if p := t.take(id); p != nil {
		p.complete(nil, err)
	} else {
		t.logger.Debug("error for unknown correlation id", "correlationId", id)
	}
}

// remove releases the entry without resolving it. Used by callers on
// timeout or cancellation so a late response cannot reach a caller that has
// stopped observing.
func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

// expireAll fails every in-flight call with err. Used on connection loss.
func (t *pendingTable) expireAll(err error) {
	t.mu.Lock()
	expired := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, p := range expired {
		p.complete(nil, err)
	}
	if len(expired) > 0 {
		t.logger.Warn("expired in-flight calls", "count", len(expired), "error", err)
	}
}

// size returns the number of in-flight calls.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *pendingTable) take(id string) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	return p
}
