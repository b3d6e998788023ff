package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

type fixedNotifier struct {
	result bool
	calls  int
}

func (f *fixedNotifier) Send(context.Context, *users.User, string) bool {
	f.calls++
	return f.result
}

func newTestRecorder(t *testing.T, next Notifier) *Recorder {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRecorder(next, client, logging.Default())
}

func TestRecorderRecordsAndForwards(t *testing.T) {
	inner := &fixedNotifier{result: true}
	rec := newTestRecorder(t, inner)
	user := &users.User{UserName: "salem"}

	assert.True(t, rec.Send(context.Background(), user, "first"))
	assert.True(t, rec.Send(context.Background(), user, "second"))
	assert.Equal(t, 2, inner.calls)

	entries, err := rec.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "second", entries[0].Text)
	assert.Equal(t, "first", entries[1].Text)
	assert.Equal(t, "salem", entries[0].UserName)
	assert.True(t, entries[0].Delivered)
	assert.NotEmpty(t, entries[0].ID)
}

func TestRecorderRecordsFailures(t *testing.T) {
	rec := newTestRecorder(t, &fixedNotifier{result: false})

	assert.False(t, rec.Send(context.Background(), &users.User{UserName: "noura"}, "undelivered"))

	entries, err := rec.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Delivered)
}

func TestRecorderListLimit(t *testing.T) {
	rec := newTestRecorder(t, &fixedNotifier{result: true})
	user := &users.User{UserName: "salem"}
	for i := 0; i < 5; i++ {
		rec.Send(context.Background(), user, fmt.Sprintf("text %d", i))
	}

	entries, err := rec.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "text 4", entries[0].Text)
	assert.Equal(t, "text 3", entries[1].Text)
}

func TestRecorderNilRedis(t *testing.T) {
	rec := NewRecorder(&fixedNotifier{result: true}, nil, logging.Default())
	assert.True(t, rec.Send(context.Background(), &users.User{UserName: "salem"}, "hello"))

	entries, err := rec.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestTranscriptEndpoint(t *testing.T) {
	rec := newTestRecorder(t, &fixedNotifier{result: true})
	rec.Send(context.Background(), &users.User{UserName: "salem"}, "hello")
	h := NewTranscriptHandler(rec, logging.Default())

	req := httptest.NewRequest(http.MethodGet, "/admin/notifications?limit=10", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Notifications []Entry `json:"notifications"`
		Count         int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "hello", resp.Notifications[0].Text)

	t.Run("bad limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/notifications?limit=zero", nil)
		w := httptest.NewRecorder()
		h.List(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
