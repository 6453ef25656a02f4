package notifications

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (r *recorder) Notify(ctx context.Context, userID string, event Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcher_DeliversOnClose(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, 10, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), "u1", Event{Type: EventOrderFilled}))
	}
	d.Close()

	assert.Equal(t, 5, rec.count())
	assert.NoError(t, d.Notify(context.Background(), "u1", Event{Type: EventOrderFilled}))
	assert.Equal(t, 5, rec.count())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	d := NewDispatcher(rec, 1, nil)

	// the worker holds at most one event while blocked, the buffer one more
	for i := 0; i < 10; i++ {
		assert.NoError(t, d.Notify(context.Background(), "u1", Event{Type: EventDCAExecuted}))
	}
	close(rec.block)
	d.Close()

	assert.LessOrEqual(t, rec.count(), 2)
	assert.GreaterOrEqual(t, rec.count(), 1)
}

func TestTelegramNotifier_Notify(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42").WithBaseURL(srv.URL)
	err := n.Notify(context.Background(), "u1", Event{
		Type:    EventOrderFilled,
		Level:   LevelSuccess,
		Title:   "Order filled",
		Message: "stop loss executed",
		Fields:  map[string]string{"token": "SOL"},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", form.Get("chat_id"))
	assert.Contains(t, form.Get("text"), "Order filled")
	assert.Contains(t, form.Get("text"), "token: `SOL`")
}

func TestTelegramNotifier_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42").WithBaseURL(srv.URL)
	assert.Error(t, n.Notify(context.Background(), "u1", Event{Type: EventOrderFailed}))
}
