// Package reliability provides backoff policies, a retry executor and a
// circuit breaker used by the connection manager (reconnect pacing) and the
// bridge (send-path protection).
package reliability
