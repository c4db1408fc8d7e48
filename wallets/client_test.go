package wallets

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/bridge"
)

type mockCaller struct {
	mock.Mock
}

func (m *mockCaller) Call(ctx context.Context, method string, payload any, opts ...bridge.CallOption) (json.RawMessage, error) {
	args := m.Called(ctx, method, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func TestClientBalance(t *testing.T) {
	t.Run("returns the balance with the amount untouched", func(t *testing.T) {
		caller := &mockCaller{}
		caller.On("Call", mock.Anything, MethodBalance, map[string]string{"walletId": "w-1"}).
			Return(json.RawMessage(`{"walletId":"w-1","asset":"SOL","amount":"1234.567890123"}`), nil)

		balance, err := NewClient(caller).Balance(context.Background(), "w-1")
		require.NoError(t, err)
		assert.Equal(t, "SOL", balance.Asset)
		assert.Equal(t, "1234.567890123", balance.Amount)
		caller.AssertExpectations(t)
	})

	t.Run("propagates call errors", func(t *testing.T) {
		caller := &mockCaller{}
		balErr := errors.New("wallet not found")
		caller.On("Call", mock.Anything, MethodBalance, mock.Anything).Return(nil, balErr)

		_, err := NewClient(caller).Balance(context.Background(), "missing")
		assert.ErrorIs(t, err, balErr)
	})
}

func TestClientTransfer(t *testing.T) {
	t.Run("returns the task handle", func(t *testing.T) {
		caller := &mockCaller{}
		req := TransferRequest{
			WalletID: "w-1",
			To:       "addr-9",
			Asset:    "SOL",
			Amount:   "0.5",
		}
		caller.On("Call", mock.Anything, MethodTransfer, req).
			Return(json.RawMessage(`{"taskId":"task-1","ownerId":"w-1"}`), nil)

		handle, err := NewClient(caller).Transfer(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "task-1", handle.TaskID)
		caller.AssertExpectations(t)
	})

	t.Run("defaults the owner to the wallet", func(t *testing.T) {
		caller := &mockCaller{}
		caller.On("Call", mock.Anything, MethodTransfer, mock.Anything).
			Return(json.RawMessage(`{"taskId":"task-2"}`), nil)

		handle, err := NewClient(caller).Transfer(context.Background(), TransferRequest{WalletID: "w-7"})
		require.NoError(t, err)
		assert.Equal(t, "w-7", handle.OwnerID)
	})
}

func TestClientHistory(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, MethodHistory, map[string]any{"walletId": "w-1", "limit": 2}).
		Return(json.RawMessage(`{"transactions":[
			{"id":"tx-1","direction":"out","asset":"SOL","amount":"0.5"},
			{"id":"tx-2","direction":"in","asset":"SOL","amount":"3.0"}
		]}`), nil)

	txs, err := NewClient(caller).History(context.Background(), "w-1", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "out", txs[0].Direction)
	assert.Equal(t, "3.0", txs[1].Amount)
	caller.AssertExpectations(t)
}
