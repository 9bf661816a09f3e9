// Package config loads the service configuration from YAML or JSON files
// with environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/Jammarkeun/PawfectFinds/core/dispatch"
	"github.com/Jammarkeun/PawfectFinds/core/metrics"
	"github.com/Jammarkeun/PawfectFinds/infra/amqp"
	"github.com/Jammarkeun/PawfectFinds/infra/mqtt"
	"github.com/Jammarkeun/PawfectFinds/infra/store/postgres"
)

type Config struct {
	MQTT     mqtt.Config     `json:"mqtt"`
	Dispatch dispatch.Config `json:"dispatch"`
	Metrics  metrics.Config  `json:"metrics"`
	Audit    AuditConfig     `json:"audit"`
	Store    StoreConfig     `json:"store"`
	AMQP     amqp.Config     `json:"amqp"`
	NATS     NATSConfig      `json:"nats"`
	API      APIConfig       `json:"api"`
}

// StoreConfig selects the order store backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend  string          `json:"backend"`
	Postgres postgres.Config `json:"postgres"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	c.Postgres.SetDefaults()
}

func (c StoreConfig) Validate() error {
	if c.Backend != "postgres" && c.Backend != "memory" {
		return fmt.Errorf("unknown store backend %s", c.Backend)
	}
	return nil
}

// NATSConfig enables the NATS room broadcast transport.
type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

func (c *NATSConfig) SetDefaults() {
	if c.URL == "" {
		c.URL = "nats://localhost:4222"
	}
}

// APIConfig defines the HTTP API server settings.
type APIConfig struct {
	Addr string `json:"addr"`
	// AuthToken protects the audit log endpoint. Empty disables auth.
	AuthToken string `json:"auth_token"`
}

func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// Load reads the configuration file and applies PF_ environment overrides
// (PF_MQTT__BROKER maps to mqtt.broker).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("PF_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "pf_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.MQTT.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Audit.SetDefaults()
	cfg.Store.SetDefaults()
	cfg.AMQP.SetDefaults()
	cfg.NATS.SetDefaults()
	cfg.API.SetDefaults()
	if err := cfg.Audit.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
