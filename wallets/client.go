// Package wallets is a thin typed facade over the bridge for wallet
// operations. Signing and chain interaction happen server-side; this client
// only moves typed payloads.
package wallets

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
	MethodBalance  = "wallet.balance"
	MethodTransfer = "wallet.transfer"
	MethodHistory  = "wallet.history"
)

// Balance is a point-in-time wallet balance. Amounts are decimal strings;
// the client never does arithmetic on them.
type Balance struct {
	WalletID string    `json:"walletId"`
	Asset    string    `json:"asset"`
	Amount   string    `json:"amount"`
	AsOf     time.Time `json:"asOf"`
}

// TransferRequest asks the server to move funds. The transfer executes
// asynchronously; the returned handle is polled for the outcome.
type TransferRequest struct {
	WalletID string `json:"walletId"`
	To       string `json:"to"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Memo     string `json:"memo,omitempty"`
}

// Transaction is one history entry.
type Transaction struct {
	ID        string    `json:"id"`
	WalletID  string    `json:"walletId"`
	Direction string    `json:"direction"`
	Asset     string    `json:"asset"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is the wallet facade.
type Client struct {
	caller bridge.Caller
}

// NewClient creates the facade over a caller (normally *bridge.Bridge).
func NewClient(caller bridge.Caller) *Client {
	return &Client{caller: caller}
}

// Balance fetches the current balance of a wallet.
func (c *Client) Balance(ctx context.Context, walletID string) (*Balance, error) {
	raw, err := c.caller.Call(ctx, MethodBalance, map[string]string{"walletId": walletID})
	if err != nil {
		return nil, err
	}
	var b Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", MethodBalance, err)
	}
	return &b, nil
}

// Transfer starts an asynchronous transfer and returns the handle to poll
// with.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*contracts.TaskHandle, error) {
	raw, err := c.caller.Call(ctx, MethodTransfer, req)
	if err != nil {
		return nil, err
	}
	var handle contracts.TaskHandle
	if err := json.Unmarshal(raw, &handle); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", MethodTransfer, err)
	}
	if handle.OwnerID == "" {
		handle.OwnerID = req.WalletID
	}
	return &handle, nil
}

// History returns the most recent transactions of a wallet.
func (c *Client) History(ctx context.Context, walletID string, limit int) ([]Transaction, error) {
	raw, err := c.caller.Call(ctx, MethodHistory, map[string]any{
		"walletId": walletID,
		"limit":    limit,
	})
	if err != nil {
		return nil, err
	}
	var list struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", MethodHistory, err)
	}
	return list.Transactions, nil
}
