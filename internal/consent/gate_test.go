package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/outlithq/outlit-go/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGate(t *testing.T, defState State) (*Gate, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewGate(store, clk, zap.NewNop(), defState, []string{"consent_banner_shown"}), store
}

func TestUnknownDefaultFailsClosed(t *testing.T) {
	gate, _ := newGate(t, StateUnknown)
	ctx := context.Background()

	assert.False(t, gate.Allow(ctx, "user@example.com", "button_clicked"))
	assert.False(t, gate.Enabled(ctx, "user@example.com"))
}

func TestBootstrapEventBypassesUnknown(t *testing.T) {
	gate, _ := newGate(t, StateUnknown)

	assert.True(t, gate.Allow(context.Background(), "user@example.com", "consent_banner_shown"))
}

func TestEnableIsImmediateAndIdempotent(t *testing.T) {
	gate, _ := newGate(t, StateUnknown)
	ctx := context.Background()

	require.NoError(t, gate.Enable(ctx, "user@example.com"))
	assert.True(t, gate.Allow(ctx, "user@example.com", "button_clicked"))

	require.NoError(t, gate.Enable(ctx, "user@example.com"))
	assert.True(t, gate.Enabled(ctx, "user@example.com"))
}

func TestDisableOverridesGrantedDefault(t *testing.T) {
	gate, _ := newGate(t, StateGranted)
	ctx := context.Background()

	assert.True(t, gate.Allow(ctx, "user@example.com", "button_clicked"))

	require.NoError(t, gate.Disable(ctx, "user@example.com"))
	assert.False(t, gate.Allow(ctx, "user@example.com", "button_clicked"))

	// Other actors keep the process default.
	assert.True(t, gate.Allow(ctx, "other@example.com", "button_clicked"))
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (Record, bool, error) {
	return Record{}, false, errors.New("store down")
}

func (failingStore) Put(context.Context, Record) error { return errors.New("store down") }

func TestStoreFailureFailsClosed(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	gate := NewGate(failingStore{}, clk, zap.NewNop(), StateGranted, nil)

	assert.False(t, gate.Allow(context.Background(), "user@example.com", "button_clicked"))
}
