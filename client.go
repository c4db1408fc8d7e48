// Package syndicate is the client SDK for the swarm orchestration server.
// One Client owns the connection, the request bridge and the task poller,
// and exposes typed facades for agents, swarms and wallets. There is no
// ambient singleton: construct a Client, Connect it, and Close it when done.
package syndicate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/agents"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/bridge"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/config"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/internal/reliability"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/swarms"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/transports/websocket"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/wallets"
)

// Client is the entry point of the SDK.
type Client struct {
	conn    *bridge.ConnectionManager
	bridge  *bridge.Bridge
	poller  *bridge.TaskPoller
	agents  *agents.Client
	swarms  *swarms.Client
	wallets *wallets.Client
	logger  *slog.Logger
}

type clientConfig struct {
	logger *slog.Logger
	dialer bridge.Dialer
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// WithDialer replaces the default websocket transport, e.g. with the AMQP
// transport from transports/amqp.
func WithDialer(dialer bridge.Dialer) ClientOption {
	return func(c *clientConfig) { c.dialer = dialer }
}

// NewClient builds a client from configuration. Connect must be called
// before issuing calls.
func NewClient(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cc := &clientConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cc)
	}
	if cc.dialer == nil {
		cc.dialer = websocket.NewTransport(cfg.Endpoint,
			websocket.WithToken(cfg.Token),
			websocket.WithLogger(cc.logger),
		)
	}

	conn := bridge.NewConnectionManager(cc.dialer,
		bridge.WithConnectionLogger(cc.logger),
		bridge.WithReconnectPolicy(reliability.NewExponentialBackoff(
			cfg.Reconnect.BackoffBase,
			cfg.Reconnect.BackoffCap,
			cfg.Reconnect.MaxAttempts,
		)),
	)

	br := bridge.New(conn,
		bridge.WithDefaultTimeout(cfg.CallTimeout),
		bridge.WithLogger(cc.logger),
	)

	poller := bridge.NewTaskPoller(br,
		bridge.WithPollInterval(cfg.PollInterval),
		bridge.WithOverallTimeout(cfg.TaskTimeout),
		bridge.WithPollerLogger(cc.logger),
	)

	return &Client{
		conn:    conn,
		bridge:  br,
		poller:  poller,
		agents:  agents.NewClient(br),
		swarms:  swarms.NewClient(br),
		wallets: wallets.NewClient(br),
		logger:  cc.logger,
	}, nil
}

// Connect establishes the connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Close releases the connection. Every in-flight call fails with a
// connection-lost error.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call issues a raw correlated request. Domain code should prefer the typed
// facades.
func (c *Client) Call(ctx context.Context, method string, payload any, opts ...bridge.CallOption) (json.RawMessage, error) {
	return c.bridge.Call(ctx, method, payload, opts...)
}

// AwaitTask polls a task handle until it reaches a terminal state.
func (c *Client) AwaitTask(ctx context.Context, handle contracts.TaskHandle, opts ...bridge.PollerOption) (*contracts.TaskResult, error) {
	return c.poller.Await(ctx, handle, opts...)
}

// Connection returns the connection manager (state, listeners).
func (c *Client) Connection() *bridge.ConnectionManager { return c.conn }

// Bridge returns the request dispatcher.
func (c *Client) Bridge() *bridge.Bridge { return c.bridge }

// Agents returns the agent facade.
func (c *Client) Agents() *agents.Client { return c.agents }

// Swarms returns the swarm facade.
func (c *Client) Swarms() *swarms.Client { return c.swarms }

// Wallets returns the wallet facade.
func (c *Client) Wallets() *wallets.Client { return c.wallets }
