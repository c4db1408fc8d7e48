// Package agents is a thin typed facade over the bridge for agent
// operations. It interprets payloads; all transport, correlation and timeout
// behavior lives in the bridge.
package agents

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
	MethodSpawn     = "agent.spawn"
	MethodDescribe  = "agent.describe"
	MethodList      = "agent.list"
	MethodTerminate = "agent.terminate"
	MethodStartTask = "agent.task.start"
)

// Agent describes one agent known to the server.
type Agent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Role      string         `json:"role"`
	Model     string         `json:"model,omitempty"`
	SwarmID   string         `json:"swarmId,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SpawnRequest creates a new agent.
type SpawnRequest struct {
	Name   string         `json:"name"`
	Role   string         `json:"role"`
	Model  string         `json:"model,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// Client is the agent facade.
type Client struct {
	caller bridge.Caller
}

// NewClient creates the facade over a caller (normally *bridge.Bridge).
func NewClient(caller bridge.Caller) *Client {
	return &Client{caller: caller}
}

// Spawn creates a new agent on the server.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (*Agent, error) {
	return callTyped[Agent](ctx, c.caller, MethodSpawn, req)
}

// Describe fetches one agent by id.
func (c *Client) Describe(ctx context.Context, id string) (*Agent, error) {
	return callTyped[Agent](ctx, c.caller, MethodDescribe, map[string]string{"agentId": id})
}

// List returns all agents visible to the caller.
func (c *Client) List(ctx context.Context) ([]Agent, error) {
	raw, err := c.caller.Call(ctx, MethodList, nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Agents []Agent `json:"agents"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", MethodList, err)
	}
	return list.Agents, nil
}

// Terminate stops and removes an agent.
func (c *Client) Terminate(ctx context.Context, id string) error {
	_, err := c.caller.Call(ctx, MethodTerminate, map[string]string{"agentId": id})
	return err
}

// StartTask starts asynchronous work on an agent and returns the handle to
// poll with.
func (c *Client) StartTask(ctx context.Context, agentID, objective string) (*contracts.TaskHandle, error) {
	handle, err := callTyped[contracts.TaskHandle](ctx, c.caller, MethodStartTask, map[string]string{
		"agentId":   agentID,
		"objective": objective,
	})
	if err != nil {
		return nil, err
	}
	if handle.OwnerID == "" {
		handle.OwnerID = agentID
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
