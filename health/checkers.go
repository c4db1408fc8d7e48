// Package health provides health checks for the bridge client: connection
// state and a server round trip.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/bridge"
)

// Status is the health status of one check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Checker is one health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// ConnectionChecker reports the connection manager's state.
type ConnectionChecker struct {
	conn *bridge.ConnectionManager
}

// NewConnectionChecker creates a connection-state checker.
func NewConnectionChecker(conn *bridge.ConnectionManager) *ConnectionChecker {
	return &ConnectionChecker{conn: conn}
}

func (c *ConnectionChecker) Name() string { return "connection" }

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	state := c.conn.State()
	result.Message = state.String()
	result.Duration = time.Since(start)

	switch state {
	case bridge.StateConnected:
		result.Status = StatusHealthy
	case bridge.StateReconnecting, bridge.StateConnecting:
		result.Status = StatusDegraded
	default:
		result.Status = StatusUnhealthy
	}
	return result
}

// PingChecker verifies a full round trip to the server.
type PingChecker struct {
	caller  bridge.Caller
	timeout time.Duration
}

// NewPingChecker creates a round-trip checker. The timeout bounds the ping
// call itself.
func NewPingChecker(caller bridge.Caller, timeout time.Duration) *PingChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PingChecker{caller: caller, timeout: timeout}
}

func (c *PingChecker) Name() string { return "ping" }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	_, err := c.caller.Call(ctx, "system.ping", nil, bridge.WithCallTimeout(c.timeout))
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "ping failed"
		result.Error = err.Error()
		return result
	}
	result.Status = StatusHealthy
	result.Message = "round trip ok"
	return result
}

// Registry runs a set of checks and aggregates the worst status.
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker.
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, c)
	r.mu.Unlock()
}

// CheckAll runs every registered check and returns the results plus the
// aggregated status.
func (r *Registry) CheckAll(ctx context.Context) (Status, []CheckResult) {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	overall := StatusHealthy
	results := make([]CheckResult, 0, len(checkers))
	for _, c := range checkers {
		res := c.Check(ctx)
		results = append(results, res)
		switch res.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return overall, results
}
