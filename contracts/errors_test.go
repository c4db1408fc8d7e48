package contracts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorChains(t *testing.T) {
	t.Run("connect errors classify through the chain", func(t *testing.T) {
		err := &ConnectError{
			Endpoint: "wss://example.com/ws",
			Attempts: 3,
			Err:      fmt.Errorf("%w: dial tcp: refused", ErrUnreachable),
		}
		assert.ErrorIs(t, err, ErrUnreachable)
		assert.NotErrorIs(t, err, ErrAuthRejected)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})

	t.Run("call errors expose the server fault", func(t *testing.T) {
		err := &CallError{
			Method:        "swarm.create",
			CorrelationID: "abc-123",
			Err:           &ServerError{Code: "E_QUOTA", Message: "too many swarms"},
		}
		var srvErr *ServerError
		assert.ErrorAs(t, err, &srvErr)
		assert.Equal(t, "E_QUOTA", srvErr.Code)
		assert.Contains(t, err.Error(), "swarm.create")
	})

	t.Run("poll errors expose the task failure", func(t *testing.T) {
		err := &PollError{
			TaskID:   "task-1",
			Attempts: 4,
			Elapsed:  9 * time.Second,
			Err:      &TaskFailedError{TaskID: "task-1", Message: "diverged"},
		}
		var taskErr *TaskFailedError
		assert.ErrorAs(t, err, &taskErr)
		assert.Equal(t, "diverged", taskErr.Message)
	})
}

func TestIsAuthRejected(t *testing.T) {
	assert.False(t, IsAuthRejected(nil))
	assert.False(t, IsAuthRejected(errors.New("other")))
	assert.True(t, IsAuthRejected(ErrAuthRejected))
	assert.True(t, IsAuthRejected(&ConnectError{Err: fmt.Errorf("wrapped: %w", ErrAuthRejected)}))
}

func TestIsRetryableCall(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth rejection", fmt.Errorf("call: %w", ErrAuthRejected), false},
		{"server fault", &CallError{Err: &ServerError{Message: "bad request"}}, false},
		{"call timeout", &CallError{Err: ErrCallTimeout}, true},
		{"connection lost", ErrConnectionLost, true},
		{"unknown transport error", errors.New("broken pipe"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryableCall(tc.err))
		})
	}
}

func TestDecodeErrorMessages(t *testing.T) {
	assert.Contains(t,
		(&DecodeError{Offset: 17, Err: errors.New("unexpected token")}).Error(),
		"offset 17")
	assert.Contains(t,
		(&DecodeError{Field: "kind", Err: errors.New("unknown kind")}).Error(),
		`field "kind"`)
	assert.Contains(t,
		(&DecodeError{Field: "id"}).Error(),
		`field "id" invalid`)
}
