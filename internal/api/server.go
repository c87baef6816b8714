// Package api provides a read-only HTTP surface: health, plugin inventory,
// and a websocket stream of plugin lifecycle events. It observes the control
// plane but never drives it; MQTT stays the only control path.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mealiemate/internal/container"
	"mealiemate/internal/plugin"
)

const writeTimeout = 10 * time.Second

// Event is one plugin lifecycle transition pushed to websocket subscribers.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	PluginID string    `json:"plugin_id"`
	Time     time.Time `json:"time"`
}

// Server provides the HTTP API.
type Server struct {
	registry  *plugin.Registry
	container *container.Container
	manager   *plugin.Manager
	logger    *zap.Logger
	server    *http.Server
	upgrader  websocket.Upgrader

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewServer creates the API server on the given port.
func NewServer(registry *plugin.Registry, c *container.Container, manager *plugin.Manager, logger *zap.Logger, port int) *Server {
	s := &Server{
		registry:    registry,
		container:   c,
		manager:     manager,
		logger:      logger.Named("api"),
		subscribers: make(map[chan Event]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/plugins", s.handlePlugins)
	mux.HandleFunc("/api/events", s.handleEvents)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections outlive any write deadline
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Publish fans an event out to every connected subscriber. Slow subscribers
// drop events rather than block the control plane.
func (s *Server) Publish(eventType, pluginID string) {
	event := Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		PluginID: pluginID,
		Time:     time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.logger.Warn("Dropping event for slow subscriber",
				zap.String("event", eventType),
				zap.String("plugin_id", pluginID))
		}
	}
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// PluginStatus is one row of the plugin inventory.
type PluginStatus struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Running     bool           `json:"running"`
	Config      map[string]any `json:"config"`
}

// handlePlugins lists every registered plugin with its running state and
// stored configuration.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var plugins []PluginStatus
	for _, id := range s.registry.IDs() {
		row := PluginStatus{
			ID:      id,
			Running: s.manager.IsPluginRunning(id),
			Config:  s.manager.GetPluginConfigs(id),
		}
		// Metadata requires an instance; skip it when construction fails so
		// one broken factory doesn't hide the rest of the inventory.
		if instance := s.manager.GetRunningPluginInstance(id); instance != nil {
			row.Name = instance.Name()
			row.Description = instance.Description()
		} else if instance, err := s.registry.Build(id, s.container); err == nil {
			row.Name = instance.Name()
			row.Description = instance.Description()
		}
		plugins = append(plugins, row)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(plugins); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Plugin inventory served", zap.String("remote_addr", r.RemoteAddr))
}

// handleEvents upgrades to a websocket and streams lifecycle events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	ch := make(chan Event, 16)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("Event subscriber connected", zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("Event subscriber disconnected", zap.String("remote_addr", r.RemoteAddr))
	}()

	// Reads are discarded; the stream is one-way. The read loop exists to
	// detect client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug("Failed to write event to subscriber", zap.Error(err))
				return
			}
		}
	}
}

// Start begins serving HTTP requests in the background.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
