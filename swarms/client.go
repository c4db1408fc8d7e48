// Package swarms is a thin typed facade over the bridge for swarm
// operations, including starting long-running optimizations that are awaited
// through the task poller.
package swarms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/bridge"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
)

// Remote operations used by this facade.
const (
	MethodCreate            = "swarm.create"
	MethodDescribe          = "swarm.describe"
	MethodList              = "swarm.list"
	MethodStop              = "swarm.stop"
	MethodStartOptimization = "swarm.optimize.start"
)

// Swarm describes one swarm known to the server.
type Swarm struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Algorithm  string    `json:"algorithm,omitempty"`
	AgentCount int       `json:"agentCount"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateRequest creates a new swarm.
type CreateRequest struct {
	Name       string         `json:"name"`
	Algorithm  string         `json:"algorithm,omitempty"`
	AgentCount int            `json:"agentCount,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// Client is the swarm facade.
type Client struct {
	caller bridge.Caller
}

// NewClient creates the facade over a caller (normally *bridge.Bridge).
func NewClient(caller bridge.Caller) *Client {
	return &Client{caller: caller}
}

// Create creates a new swarm on the server.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Swarm, error) {
	return callTyped[Swarm](ctx, c.caller, MethodCreate, req)
}

// Describe fetches one swarm by id.
func (c *Client) Describe(ctx context.Context, id string) (*Swarm, error) {
	return callTyped[Swarm](ctx, c.caller, MethodDescribe, map[string]string{"swarmId": id})
}

// List returns all swarms visible to the caller.
func (c *Client) List(ctx context.Context) ([]Swarm, error) {
	raw, err := c.caller.Call(ctx, MethodList, nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Swarms []Swarm `json:"swarms"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", MethodList, err)
	}
	return list.Swarms, nil
}

// Stop halts a swarm and any optimization it is running.
func (c *Client) Stop(ctx context.Context, id string) error {
	_, err := c.caller.Call(ctx, MethodStop, map[string]string{"swarmId": id})
	return err
}

// StartOptimization starts a server-side optimization run on the swarm and
// returns the handle to poll with. The parameters are opaque to the client.
func (c *Client) StartOptimization(ctx context.Context, swarmID string, params map[string]any) (*contracts.TaskHandle, error) {
	handle, err := callTyped[contracts.TaskHandle](ctx, c.caller, MethodStartOptimization, map[string]any{
		"swarmId": swarmID,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}
	if handle.OwnerID == "" {
		handle.OwnerID = swarmID
	}
	return handle, nil
}

func callTyped[T any](ctx context.Context, caller bridge.Caller, method string, payload any) (*T, error) {
	raw, err := caller.Call(ctx, method, payload)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	return &out, nil
}
