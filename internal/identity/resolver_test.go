package identity

import (
	"testing"

	"github.com/outlithq/outlit-go/internal/event"
	"github.com/stretchr/testify/assert"
)

func TestResolveAnonymousIsStable(t *testing.T) {
	r := NewResolver()

	first := r.Resolve(Ref{})
	second := r.Resolve(Ref{})

	assert.Equal(t, first, second)
	assert.Equal(t, r.AnonymousID(), first)
}

func TestExplicitEmailWinsOverUserID(t *testing.T) {
	r := NewResolver()

	key := r.Resolve(Ref{Email: "user@example.com", UserID: "usr_123"})
	assert.Equal(t, "user@example.com", key)

	key = r.Resolve(Ref{UserID: "usr_123"})
	assert.Equal(t, "usr_123", key)
}

func TestIdentifyMergesForwardOnly(t *testing.T) {
	r := NewResolver()
	anon := r.AnonymousID()

	assert.Equal(t, anon, r.Resolve(Ref{}))

	r.Identify("", "user@example.com", event.Properties{"plan": "pro"})

	assert.Equal(t, "user@example.com", r.Resolve(Ref{}))
	assert.Equal(t, "user@example.com", r.Resolve(Ref{AnonymousID: anon}))
	assert.Equal(t, event.Properties{"plan": "pro"}, r.Traits("user@example.com"))
}

func TestReidentifyOverwritesMapping(t *testing.T) {
	r := NewResolver()

	r.Identify("", "first@example.com", nil)
	r.Identify("", "second@example.com", nil)

	assert.Equal(t, "second@example.com", r.Resolve(Ref{}))
}

func TestIdentifyWithEmptyKeyIsNoop(t *testing.T) {
	r := NewResolver()
	anon := r.AnonymousID()

	r.Identify("", "   ", nil)

	assert.Equal(t, anon, r.Resolve(Ref{}))
}
