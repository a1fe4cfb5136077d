package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/outlithq/outlit-go/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func makeBatch(names ...string) event.Batch {
	events := make([]event.Event, 0, len(names))
	for _, name := range names {
		events = append(events, event.New("user@example.com", name, nil, time.Now(), event.ConsentGranted))
	}
	return event.NewBatch(events)
}

func TestDeliverPostsJSONArrayWithAPIKey(t *testing.T) {
	var gotAuth string
	var gotEvents []event.Event

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEvents))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "pk_test_123", time.Second, 0, zap.NewNop(), nil)
	err := tr.Deliver(context.Background(), makeBatch("signup", "upgrade"))

	require.NoError(t, err)
	assert.Equal(t, "Bearer pk_test_123", gotAuth)
	require.Len(t, gotEvents, 2)
	assert.Equal(t, "signup", gotEvents[0].Name)
	assert.Equal(t, "upgrade", gotEvents[1].Name)
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "pk_test_123", time.Second, 3, zap.NewNop(), nil)
	err := tr.Deliver(context.Background(), makeBatch("signup"))

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverFailsAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "pk_test_123", time.Second, 2, zap.NewNop(), nil)
	err := tr.Deliver(context.Background(), makeBatch("signup"))

	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := NewHTTPTransport(srv.URL, "pk_test_123", time.Second, 10, zap.NewNop(), nil)
	err := tr.Deliver(ctx, makeBatch("signup"))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
