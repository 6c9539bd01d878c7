package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/serroba/admission-go/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRunnable struct {
	started     bool
	shutdown    bool
	startErr    error
	shutdownErr error
}

func (m *mockRunnable) Start(context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}

	m.started = true

	return nil
}

func (m *mockRunnable) Shutdown() error {
	m.shutdown = true

	return m.shutdownErr
}

func TestGroup_Start(t *testing.T) {
	t.Run("starts all members", func(t *testing.T) {
		group := audit.NewGroup(newMockSubscriber(), zap.NewNop())
		first, second := &mockRunnable{}, &mockRunnable{}
		group.Add(first)
		group.Add(second)

		require.NoError(t, group.Start(context.Background()))
		assert.True(t, first.started)
		assert.True(t, second.started)
	})

	t.Run("rolls back started members on failure", func(t *testing.T) {
		group := audit.NewGroup(newMockSubscriber(), zap.NewNop())
		first := &mockRunnable{}
		second := &mockRunnable{startErr: errors.New("start error")}
		group.Add(first)
		group.Add(second)

		require.Error(t, group.Start(context.Background()))
		assert.True(t, first.shutdown)
		assert.False(t, second.started)
	})
}

func TestGroup_Shutdown(t *testing.T) {
	t.Run("stops members and closes the subscriber", func(t *testing.T) {
		sub := newMockSubscriber()
		group := audit.NewGroup(sub, zap.NewNop())
		member := &mockRunnable{}
		group.Add(member)

		require.NoError(t, group.Shutdown())
		assert.True(t, member.shutdown)
		assert.True(t, sub.closed)
	})

	t.Run("joins member errors", func(t *testing.T) {
		group := audit.NewGroup(newMockSubscriber(), zap.NewNop())
		failing := &mockRunnable{shutdownErr: errors.New("shutdown error")}
		healthy := &mockRunnable{}
		group.Add(failing)
		group.Add(healthy)

		err := group.Shutdown()

		require.ErrorContains(t, err, "shutdown error")
		assert.True(t, healthy.shutdown)
	})
}
