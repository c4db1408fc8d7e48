// Package bridge implements the client core: a persistent connection to the
// orchestration server with correlated request-response on top of it.
//
// A ConnectionManager owns the transport session, runs the receive loop and
// reconnects with exponential backoff when the session drops. The Bridge is
// the call surface: it registers a pending call per request, sends the
// encoded envelope, and suspends the caller until the matching response
// arrives, the per-call timeout elapses, or the connection is lost. The
// TaskPoller layers repeated status calls on top of the Bridge to await
// long-running server-side tasks.
//
// Basic usage:
//
//	conn := bridge.NewConnectionManager(transport)
//	br := bridge.New(conn)
//	if err := conn.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	payload, err := br.Call(ctx, "swarm.list", nil)
//
// Responses are matched to requests solely by correlation id; any number of
// calls may be in flight concurrently on one connection, and no ordering is
// assumed between them.
package bridge
