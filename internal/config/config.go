package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultQueueCapacity  = 100
	DefaultSendTimeout    = 10 * time.Second
	DefaultSendPause      = 250 * time.Millisecond
	DefaultProbeInterval  = 15 * time.Second
	DefaultPresencePeriod = 30 * time.Second
	DefaultStaleAfter     = 5 * time.Minute
	DefaultMinInterval    = 5 * time.Second
	DefaultControlAddr    = "127.0.0.1:9090"
	DefaultStatePath      = "waypost-state.yaml"
)

// Config is the top-level configuration for the agent.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// DeviceID is the default identity reported to the collector when a
	// start request does not carry one.
	DeviceID string `yaml:"device_id"`

	// StatePath is the filesystem path of the durable session-state file.
	StatePath string `yaml:"state_path"`

	// Collector configures how samples are delivered.
	Collector CollectorConfig `yaml:"collector"`

	// Sensor configures the position backend.
	Sensor SensorConfig `yaml:"sensor"`

	// Queue configures the offline delivery queue.
	Queue QueueConfig `yaml:"queue"`

	// Health configures health-status derivation.
	Health HealthConfig `yaml:"health"`

	// Presence configures the liveness-signal loop.
	Presence PresenceConfig `yaml:"presence"`

	// Connectivity configures the reachability probe.
	Connectivity ConnectivityConfig `yaml:"connectivity"`

	// Control configures the local control API listener.
	Control ControlConfig `yaml:"control"`
}

// CollectorConfig holds delivery settings for the remote collector.
type CollectorConfig struct {
	// Endpoint is the default base URL of the collector. A start request
	// may override it per tracking session.
	Endpoint string `yaml:"endpoint"`

	// SendTimeout bounds each POST to the collector.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// SendPause is the pause between consecutive sends while draining the
	// offline queue, so a recovering collector is not flooded.
	SendPause time.Duration `yaml:"send_pause"`

	// Auth configures how the agent authenticates to the collector.
	Auth AuthConfig `yaml:"auth"`
}

// SensorConfig describes the position backend.
type SensorConfig struct {
	// Type is the backend type: gpsd | mqtt | replay.
	Type string `yaml:"type"`

	// Endpoint is the backend address — gpsd host:port or MQTT broker URL.
	Endpoint string `yaml:"endpoint"`

	// Topic is the MQTT topic carrying position fixes (mqtt type only).
	Topic string `yaml:"topic"`

	// Path is the fix file for the replay backend.
	Path string `yaml:"path"`

	// MinInterval is the minimum time between emitted samples.
	MinInterval time.Duration `yaml:"min_interval"`

	// MinDistanceM is the minimum movement in meters between emitted samples.
	// Zero disables the distance filter.
	MinDistanceM float64 `yaml:"min_distance_m"`
}

// QueueConfig configures the bounded offline queue.
type QueueConfig struct {
	// Capacity is the maximum number of undelivered samples held in memory.
	// When full, the oldest sample is evicted to make room.
	Capacity int `yaml:"capacity"`
}

// HealthConfig configures health-status derivation.
type HealthConfig struct {
	// StaleAfter marks health Stale once the last successful delivery is
	// older than this window, even without an explicit failure streak.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// PresenceConfig configures the liveness-signal loop.
type PresenceConfig struct {
	// Path is the heartbeat file the agent keeps posted while running.
	// Empty disables the presence signal.
	Path string `yaml:"path"`

	// Period is how often the signal is re-asserted.
	Period time.Duration `yaml:"period"`
}

// ConnectivityConfig configures the collector reachability probe.
type ConnectivityConfig struct {
	// ProbeInterval is how often collector reachability is checked while
	// the hint says the network is down.
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// ControlConfig configures the local control API.
type ControlConfig struct {
	// Addr is the listen address of the control API and metrics endpoint.
	Addr string `yaml:"addr"`

	// Auth configures authentication for mutating control routes.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig specifies an authentication mode.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header name to send or expect the key in.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			StatePath: DefaultStatePath,
			Collector: CollectorConfig{
				SendTimeout: DefaultSendTimeout,
				SendPause:   DefaultSendPause,
			},
			Sensor: SensorConfig{
				MinInterval: DefaultMinInterval,
			},
			Queue: QueueConfig{
				Capacity: DefaultQueueCapacity,
			},
			Health: HealthConfig{
				StaleAfter: DefaultStaleAfter,
			},
			Presence: PresenceConfig{
				Period: DefaultPresencePeriod,
			},
			Connectivity: ConnectivityConfig{
				ProbeInterval: DefaultProbeInterval,
			},
			Control: ControlConfig{
				Addr: DefaultControlAddr,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.StatePath == "" {
		return fmt.Errorf("agent.state_path is required")
	}
	if a.Queue.Capacity <= 0 {
		return fmt.Errorf("agent.queue.capacity must be positive")
	}
	if a.Collector.SendTimeout <= 0 {
		return fmt.Errorf("agent.collector.send_timeout must be positive")
	}
	if a.Health.StaleAfter <= 0 {
		return fmt.Errorf("agent.health.stale_after must be positive")
	}
	if a.Presence.Period <= 0 {
		return fmt.Errorf("agent.presence.period must be positive")
	}
	if a.Connectivity.ProbeInterval <= 0 {
		return fmt.Errorf("agent.connectivity.probe_interval must be positive")
	}
	switch a.Sensor.Type {
	case "gpsd", "mqtt", "replay", "":
	default:
		return fmt.Errorf("agent.sensor: unknown type %q", a.Sensor.Type)
	}
	if a.Sensor.Type == "mqtt" && a.Sensor.Topic == "" {
		return fmt.Errorf("agent.sensor: topic is required for mqtt")
	}
	if a.Sensor.Type == "replay" && a.Sensor.Path == "" {
		return fmt.Errorf("agent.sensor: path is required for replay")
	}
	switch a.Collector.Auth.Mode {
	case "apikey", "bearer", "none", "":
	default:
		return fmt.Errorf("agent.collector.auth: unknown mode %q", a.Collector.Auth.Mode)
	}
	switch a.Control.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("agent.control.auth: unknown mode %q", a.Control.Auth.Mode)
	}
	return nil
}
