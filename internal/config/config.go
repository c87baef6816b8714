// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all environment-level settings the application needs to start.
type Config struct {
	// MQTT broker connection
	MQTTBroker      string
	MQTTPort        int
	DiscoveryPrefix string

	// Mealie recipe manager
	MealieURL   string
	MealieToken string

	// OpenAI-compatible completion API
	OpenAIKey   string
	OpenAIModel string

	// Optional durable store for plugin configuration.
	// Empty means in-memory only (retained MQTT messages provide restart continuity).
	ConfigFile string

	// HTTP status API, 0 disables it
	APIPort int

	LogLevel string
}

// FromEnv builds a Config from environment variables.
func FromEnv() *Config {
	return &Config{
		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTPort:        intEnv("MQTT_PORT", 1883),
		DiscoveryPrefix: stringEnv("MQTT_DISCOVERY_PREFIX", "homeassistant"),
		MealieURL:       os.Getenv("MEALIE_URL"),
		MealieToken:     os.Getenv("MEALIE_TOKEN"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     stringEnv("OPENAI_MODEL", "gpt-4o"),
		ConfigFile:      os.Getenv("MEALIEMATE_CONFIG_FILE"),
		APIPort:         intEnv("API_PORT", 8081),
		LogLevel:        stringEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks that the settings required for startup are present.
// A missing broker is fatal; missing API credentials only degrade the
// plugins that need them, so they are not checked here.
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER environment variable must be set")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("invalid MQTT_PORT: %d", c.MQTTPort)
	}
	return nil
}

// BrokerAddr returns the broker address in host:port form.
func (c *Config) BrokerAddr() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
