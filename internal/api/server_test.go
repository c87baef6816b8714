package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mealiemate/internal/container"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
)

type apiPlugin struct {
	block chan struct{}
}

func (p *apiPlugin) ID() string          { return "test_plugin" }
func (p *apiPlugin) Name() string        { return "Test Plugin" }
func (p *apiPlugin) Description() string { return "Exists for API tests" }
func (p *apiPlugin) Entities() plugin.Entities {
	return plugin.Entities{Switch: true}
}

func (p *apiPlugin) Execute(ctx context.Context) error {
	select {
	case <-p.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type apiFixture struct {
	server  *Server
	manager *plugin.Manager
	status  *ha.MockService
	block   chan struct{}
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := zap.NewNop()
	c := container.New(logger)
	registry := plugin.NewRegistry(logger)

	f := &apiFixture{
		status: ha.NewMockService(),
		block:  make(chan struct{}),
	}
	registry.Register("test_plugin", func(c *container.Container) (plugin.Plugin, error) {
		return &apiPlugin{block: f.block}, nil
	})
	registry.Register("broken_plugin", func(c *container.Container) (plugin.Plugin, error) {
		return nil, errors.New("missing dependency")
	})

	f.manager = plugin.NewManager(registry, c, f.status, nil, logger)
	f.manager.SetStopTimeout(50 * time.Millisecond)
	f.server = NewServer(registry, c, f.manager, logger, 0)

	t.Cleanup(func() { close(f.block) })
	return f
}

func (f *apiFixture) handler() http.Handler {
	return f.server.server.Handler
}

func TestHandleHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := httptest.NewRecorder()
	f.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestHandleHealthRejectsPost(t *testing.T) {
	f := newAPIFixture(t)

	rec := httptest.NewRecorder()
	f.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlePluginsInventory(t *testing.T) {
	f := newAPIFixture(t)
	f.manager.StoreConfig("test_plugin", "dry_run", true)

	rec := httptest.NewRecorder()
	f.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plugins", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []PluginStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))

	require.Len(t, rows, 2)
	assert.Equal(t, "test_plugin", rows[0].ID)
	assert.Equal(t, "Test Plugin", rows[0].Name)
	assert.False(t, rows[0].Running)
	assert.Equal(t, map[string]any{"dry_run": true}, rows[0].Config)

	// The broken factory still yields a row, just without metadata.
	assert.Equal(t, "broken_plugin", rows[1].ID)
	assert.Empty(t, rows[1].Name)
}

func TestHandlePluginsReflectsRunningState(t *testing.T) {
	f := newAPIFixture(t)
	require.True(t, f.manager.StartPlugin(context.Background(), "test_plugin"))

	rec := httptest.NewRecorder()
	f.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plugins", nil))

	var rows []PluginStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.True(t, rows[0].Running)

	f.manager.StopPlugin(context.Background(), "test_plugin")
}

func TestHandlePluginsRejectsPost(t *testing.T) {
	f := newAPIFixture(t)

	rec := httptest.NewRecorder()
	f.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plugins", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEventStreamDeliversPublishedEvents(t *testing.T) {
	f := newAPIFixture(t)
	ts := httptest.NewServer(f.handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Subscription happens inside the upgraded handler; wait for it.
	require.Eventually(t, func() bool {
		f.server.mu.Lock()
		defer f.server.mu.Unlock()
		return len(f.server.subscribers) == 1
	}, time.Second, 5*time.Millisecond)

	f.server.Publish("started", "test_plugin")

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))

	assert.Equal(t, "started", event.Type)
	assert.Equal(t, "test_plugin", event.PluginID)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Time.IsZero())
}

func TestPublishWithoutSubscribersIsANoOp(t *testing.T) {
	f := newAPIFixture(t)

	// Must not block or panic with nobody listening.
	f.server.Publish("completed", "test_plugin")
}

func TestSlowSubscriberDropsEventsInsteadOfBlocking(t *testing.T) {
	f := newAPIFixture(t)

	ch := make(chan Event, 1)
	f.server.mu.Lock()
	f.server.subscribers[ch] = struct{}{}
	f.server.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.server.Publish("started", "test_plugin")
		f.server.Publish("completed", "test_plugin") // buffer full, dropped
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, "started", (<-ch).Type)
}
