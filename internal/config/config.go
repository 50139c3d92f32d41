// Package config loads ZoneHub's configuration from environment variables
// (scalar overrides via a getEnv/getEnvAsX helper family) layered with an
// optional YAML file describing the zone/client topology and
// protocol-specific tables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the fully resolved, validated configuration for one process.
type Config struct {
	Port     string
	DataDir  string
	ConfigFile string

	Snapcast SnapcastConfig
	HTTP     HTTPConfig
	MQTT     MQTTConfig
	KNX      KNXConfig
	Auth     AuthConfig

	ReconcileInterval time.Duration
	ReconcileConcurrency int
	EchoWindow        time.Duration
	DebounceWindow    time.Duration
	BackpressureCap   int
	CatalogTTL        time.Duration
	ResumeFile        string

	Zones   []ZoneConfig `yaml:"zones"`
	Clients []ClientConfig `yaml:"clients"`

	MusicDir string
}

type SnapcastConfig struct {
	Host           string
	Port           int
	CallTimeout    time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	SinkDir        string
}

type HTTPConfig struct {
	Addr string
}

type MQTTConfig struct {
	Enabled  bool
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TopicRoot string
}

type KNXConfig struct {
	Enabled   bool
	GatewayAddr string
	GroupAddresses []KNXGroupAddress `yaml:"groupAddresses"`
}

// KNXGroupAddress binds one command/status field to a group address + DPT.
type KNXGroupAddress struct {
	Scope   string `yaml:"scope"` // "zone" or "client"
	ID      int    `yaml:"id"`
	Field   string `yaml:"field"`
	Address string `yaml:"address"`
	DPT     string `yaml:"dpt"`
	Direction string `yaml:"direction"` // "command" or "status"
}

type AuthConfig struct {
	Username  string
	Password  string
	JWTSecret string
	TokenTTL  time.Duration
}

// ZoneConfig is the declarative seed record for one domain.Zone.
type ZoneConfig struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// ClientConfig is the declarative seed record for one domain.Client.
type ClientConfig struct {
	ID     int    `yaml:"id"`
	Name   string `yaml:"name"`
	MAC    string `yaml:"mac"`
	ZoneID *int   `yaml:"zoneId"`
}

type fileConfig struct {
	Zones   []ZoneConfig   `yaml:"zones"`
	Clients []ClientConfig `yaml:"clients"`
	KNX     struct {
		GroupAddresses []KNXGroupAddress `yaml:"groupAddresses"`
	} `yaml:"knx"`
}

// Load builds a Config from environment variables, optionally layered with
// a YAML file named by ZONEHUB_CONFIG_FILE.
func Load() (*Config, error) {
	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		DataDir:    getEnv("DATA_DIR", "./data"),
		ConfigFile: getEnv("ZONEHUB_CONFIG_FILE", "./config/zonehub.yaml"),
		MusicDir:   getEnv("MUSIC_DIR", "./music"),

		Snapcast: SnapcastConfig{
			Host:         getEnv("SNAPCAST_HOST", "127.0.0.1"),
			Port:         getEnvAsInt("SNAPCAST_PORT", 1705),
			CallTimeout:  getEnvAsDuration("SNAPCAST_CALL_TIMEOUT", 30*time.Second),
			ReconnectMin: getEnvAsDuration("SNAPCAST_RECONNECT_MIN", 500*time.Millisecond),
			ReconnectMax: getEnvAsDuration("SNAPCAST_RECONNECT_MAX", 30*time.Second),
			SinkDir:      getEnv("SINK_DIR", "./data/sinks"),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":"+getEnv("PORT", "8080")),
		},
		MQTT: MQTTConfig{
			Enabled:   getEnvAsBool("MQTT_ENABLED", false),
			BrokerURL: getEnv("MQTT_BROKER_URL", "tcp://127.0.0.1:1883"),
			ClientID:  getEnv("MQTT_CLIENT_ID", "zonehub"),
			Username:  getEnv("MQTT_USERNAME", ""),
			Password:  getEnv("MQTT_PASSWORD", ""),
			TopicRoot: getEnv("MQTT_TOPIC_ROOT", "snapdog"),
		},
		KNX: KNXConfig{
			Enabled:     getEnvAsBool("KNX_ENABLED", false),
			GatewayAddr: getEnv("KNX_GATEWAY_ADDR", "224.0.23.12:3671"),
		},
		Auth: AuthConfig{
			Username:  getEnv("DJ_USERNAME", "admin"),
			Password:  getEnv("DJ_PASSWORD", "change-me"),
			JWTSecret: getEnv("JWT_SECRET", "change-me-in-production-please"),
			TokenTTL:  getEnvAsDuration("JWT_TTL", 24*time.Hour),
		},

		ReconcileInterval:    getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileConcurrency: getEnvAsInt("RECONCILE_CONCURRENCY", 4),
		EchoWindow:           getEnvAsDuration("ECHO_WINDOW", 200*time.Millisecond),
		DebounceWindow:       getEnvAsDuration("DEBOUNCE_WINDOW", 50*time.Millisecond),
		BackpressureCap:      getEnvAsInt("BACKPRESSURE_CAP", 1024),
		CatalogTTL:           getEnvAsDuration("CATALOG_TTL", 5*time.Minute),
		ResumeFile:           getEnv("RESUME_FILE", "./data/resume.json"),
	}

	if data, err := os.ReadFile(cfg.ConfigFile); err == nil {
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", cfg.ConfigFile, err)
		}
		cfg.Zones = fc.Zones
		cfg.Clients = fc.Clients
		cfg.KNX.GroupAddresses = fc.KNX.GroupAddresses
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configured zone/client topology against the data
// model invariants of SPEC_FULL.md §5 before anything else starts.
func (c *Config) Validate() error {
	seen := make(map[int]struct{}, len(c.Zones))
	for _, z := range c.Zones {
		if z.ID <= 0 {
			return fmt.Errorf("zone id must be a positive integer, got %d", z.ID)
		}
		if _, dup := seen[z.ID]; dup {
			return fmt.Errorf("duplicate zone id %d", z.ID)
		}
		seen[z.ID] = struct{}{}
	}
	zoneIDs := seen

	seenClients := make(map[int]struct{}, len(c.Clients))
	for _, cl := range c.Clients {
		if cl.ID <= 0 {
			return fmt.Errorf("client id must be a positive integer, got %d", cl.ID)
		}
		if _, dup := seenClients[cl.ID]; dup {
			return fmt.Errorf("duplicate client id %d", cl.ID)
		}
		seenClients[cl.ID] = struct{}{}
		if cl.ZoneID != nil {
			if _, ok := zoneIDs[*cl.ZoneID]; !ok {
				return fmt.Errorf("client %d references unknown zone %d", cl.ID, *cl.ZoneID)
			}
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsBool(name string, defaultVal bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}
