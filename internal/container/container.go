// Package container provides a minimal service registry used to wire external
// service implementations (MQTT control surface, recipe API, completion API)
// into plugin factories without hand-written wiring per plugin.
package container

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LoggerName is the container key for the shared *zap.Logger.
const LoggerName = "logger"

// ClockName is the container key for the shared clock.
const ClockName = "clock"

// Container maps service names to singleton implementations.
type Container struct {
	mu       sync.RWMutex
	services map[string]any
	logger   *zap.Logger
}

// New creates an empty container.
func New(logger *zap.Logger) *Container {
	return &Container{
		services: make(map[string]any),
		logger:   logger.Named("container"),
	}
}

// Register stores one implementation per service name. Registering the same
// name twice overwrites the previous implementation; last write wins.
func (c *Container) Register(name string, svc any) {
	c.mu.Lock()
	_, existed := c.services[name]
	c.services[name] = svc
	c.mu.Unlock()

	if existed {
		c.logger.Warn("Overwriting registered service", zap.String("service", name))
	} else {
		c.logger.Debug("Registered service", zap.String("service", name))
	}
}

// Lookup returns the registered implementation, if any. A false result is an
// expected outcome callers must check, not an error.
func (c *Container) Lookup(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[name]
	return svc, ok
}

// Resolve returns the implementation registered under name as type T.
// A missing or mistyped registration is a configuration error naming the
// dependency, so wiring bugs surface loudly at the point of use.
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T

	svc, ok := c.Lookup(name)
	if !ok {
		return zero, fmt.Errorf("no implementation registered for required dependency: %s", name)
	}

	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("registered implementation for %s has unexpected type %T", name, svc)
	}
	return typed, nil
}
