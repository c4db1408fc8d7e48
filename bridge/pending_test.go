package bridge

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
)

func TestPendingTableRegister(t *testing.T) {
	t.Run("register creates a waitable call", func(t *testing.T) {
		table := newPendingTable(nil)

		p, err := table.register("id-1", time.Now().Add(time.Second))
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, 1, table.size())

		select {
		case <-p.done:
			t.Fatal("call resolved before any resolution")
		default:
		}
	})

	t.Run("duplicate id fails second registration and keeps the first", func(t *testing.T) {
		table := newPendingTable(nil)

		first, err := table.register("id-1", time.Now().Add(time.Second))
		require.NoError(t, err)

		_, err = table.register("id-1", time.Now().Add(time.Second))
		var dup *DuplicateIDError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "id-1", dup.ID)
		assert.Equal(t, 1, table.size())

		// The original registration still resolves.
		table.resolve("id-1", contracts.NewResponse("id-1", "m", nil))
		<-first.done
		assert.NoError(t, first.err)
	})
}

func TestPendingTableResolution(t *testing.T) {
	t.Run("resolve wakes the waiter with the reply", func(t *testing.T) {
		table := newPendingTable(nil)
		p, err := table.register("id-1", time.Now().Add(time.Second))
		require.NoError(t, err)

		reply := contracts.NewResponse("id-1", "m", []byte(`{"ok":true}`))
		table.resolve("id-1", reply)

		<-p.done
		assert.Same(t, reply, p.reply)
		assert.NoError(t, p.err)
		assert.Equal(t, 0, table.size())
	})

	t.Run("fail wakes the waiter with the error", func(t *testing.T) {
		table := newPendingTable(nil)
		p, err := table.register("id-1", time.Now().Add(time.Second))
		require.NoError(t, err)

		boom := errors.New("boom")
		table.fail("id-1", boom)

		<-p.done
		assert.Nil(t, p.reply)
		assert.ErrorIs(t, p.err, boom)
	})

	t.Run("resolve of unknown id is a no-op", func(t *testing.T) {
		table := newPendingTable(nil)
		table.resolve("ghost", contracts.NewResponse("ghost", "m", nil))
		table.fail("ghost", errors.New("late"))
		assert.Equal(t, 0, table.size())
	})

	t.Run("second resolution is a no-op", func(t *testing.T) {
		table := newPendingTable(nil)
		p, err := table.register("id-1", time.Now().Add(time.Second))
		require.NoError(t, err)

		first := contracts.NewResponse("id-1", "m", nil)
		assert.True(t, p.complete(first, nil))
		assert.False(t, p.complete(contracts.NewResponse("id-1", "m", nil), nil))
		assert.False(t, p.complete(nil, errors.New("late")))

		<-p.done
		assert.Same(t, first, p.reply)
		assert.NoError(t, p.err)
	})

	t.Run("removed entry cannot be resolved", func(t *testing.T) {
		table := newPendingTable(nil)
		p, err := table.register("id-1", time.Now().Add(time.Second))
		require.NoError(t, err)

		table.remove("id-1")
		table.resolve("id-1", contracts.NewResponse("id-1", "m", nil))

		select {
		case <-p.done:
			t.Fatal("removed call must not resolve")
		default:
		}
		assert.Equal(t, 0, table.size())
	})
}

func TestPendingTableExpireAll(t *testing.T) {
	table := newPendingTable(nil)

	const n = 10
	calls := make([]*pendingCall, 0, n)
	for i := 0; i < n; i++ {
		p, err := table.register(string(rune('a'+i)), time.Now().Add(time.Minute))
		require.NoError(t, err)
		calls = append(calls, p)
	}

	table.expireAll(contracts.ErrConnectionLost)

	for _, p := range calls {
		<-p.done
		assert.ErrorIs(t, p.err, contracts.ErrConnectionLost)
	}
	assert.Equal(t, 0, table.size())
}

func TestPendingTableConcurrency(t *testing.T) {
	// Registration from callers and resolution from the receive loop race
	// freely; every call must end with exactly one resolution.
	table := newPendingTable(nil)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("id-%d", i)
		p, err := table.register(id, time.Now().Add(time.Second))
		require.NoError(t, err)

		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			table.resolve(id, contracts.NewResponse(id, "m", nil))
		}(id)
		go func(id string) {
			defer wg.Done()
			table.fail(id, errors.New("raced"))
		}(id)

		<-p.done
		// Exactly one of reply/err won.
		assert.True(t, (p.reply != nil) != (p.err != nil))
	}
	wg.Wait()
	assert.Equal(t, 0, table.size())
}
