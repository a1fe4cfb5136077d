// Package consent gates event capture on explicit actor permission.
package consent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/outlithq/outlit-go/internal/clock"
	"github.com/outlithq/outlit-go/internal/event"
	"go.uber.org/zap"
)

// State is an actor's consent state, shared with the event model so captured
// events carry the same type they were gated on.
type State = event.ConsentState

const (
	StateUnknown = event.ConsentUnknown
	StateGranted = event.ConsentGranted
	StateDenied  = event.ConsentDenied
)

// Record is the stored consent decision for one actor. The empty actor key is
// the process-wide default used in anonymous contexts.
type Record struct {
	ActorKey  string
	State     State
	UpdatedAt time.Time
}

// Store persists consent records by actor key.
type Store interface {
	Get(ctx context.Context, actorKey string) (Record, bool, error)
	Put(ctx context.Context, record Record) error
}

// Gate decides whether tracking is permitted for an actor. Unknown is treated
// as denied (fail closed) except for bootstrap events such as the consent
// banner itself.
type Gate struct {
	store     Store
	clock     clock.Clock
	log       *zap.Logger
	defState  State
	bootstrap map[string]struct{}
}

// NewGate builds a gate over store. defState is the state assumed for actors
// with no record; server-side deployments typically pass StateGranted while
// privacy-first browser-style deployments keep StateUnknown.
func NewGate(store Store, clk clock.Clock, logger *zap.Logger, defState State, bootstrapEvents []string) *Gate {
	bootstrap := make(map[string]struct{}, len(bootstrapEvents))
	for _, name := range bootstrapEvents {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		bootstrap[name] = struct{}{}
	}
	if defState == "" {
		defState = StateUnknown
	}
	return &Gate{
		store:     store,
		clock:     clk,
		log:       logger.Named("consent"),
		defState:  defState,
		bootstrap: bootstrap,
	}
}

// Allow reports whether eventName may be captured for actorKey. Store errors
// fail closed.
func (g *Gate) Allow(ctx context.Context, actorKey, eventName string) bool {
	if _, ok := g.bootstrap[eventName]; ok {
		return true
	}
	return g.state(ctx, actorKey) == StateGranted
}

// Enabled reports the actor's effective consent.
func (g *Gate) Enabled(ctx context.Context, actorKey string) bool {
	return g.state(ctx, actorKey) == StateGranted
}

// Enable grants consent for actorKey. Idempotent and immediately visible.
// Events dropped before consent are gone for good; nothing is replayed.
func (g *Gate) Enable(ctx context.Context, actorKey string) error {
	return g.put(ctx, actorKey, StateGranted)
}

// Disable revokes consent for actorKey. Idempotent and immediately visible.
func (g *Gate) Disable(ctx context.Context, actorKey string) error {
	return g.put(ctx, actorKey, StateDenied)
}

// StateOf returns the stored consent state for diagnostics and event stamping.
func (g *Gate) StateOf(ctx context.Context, actorKey string) State {
	return g.state(ctx, actorKey)
}

func (g *Gate) state(ctx context.Context, actorKey string) State {
	record, ok, err := g.store.Get(ctx, actorKey)
	if err != nil {
		g.log.Warn("consent lookup failed, failing closed", zap.Error(err), zap.String("actor", actorKey))
		return StateDenied
	}
	if !ok {
		return g.defState
	}
	return record.State
}

func (g *Gate) put(ctx context.Context, actorKey string, state State) error {
	return g.store.Put(ctx, Record{
		ActorKey:  actorKey,
		State:     state,
		UpdatedAt: g.clock.Now(),
	})
}

// MemoryStore is the in-process Store used by single-instance clients.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, actorKey string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[actorKey]
	return record, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ActorKey] = record
	return nil
}
