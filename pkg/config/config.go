package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Signalling struct {
		StreamerAddress string        `yaml:"streamer_address"`
		PlayerAddress   string        `yaml:"player_address"`
		SFUAddress      string        `yaml:"sfu_address"`
		ProtocolVersion string        `yaml:"protocol_version"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signalling"`

	Status struct {
		Address string `yaml:"address"`
	} `yaml:"status"`

	Matchmaker struct {
		Enabled           bool          `yaml:"enabled"`
		Address           string        `yaml:"address"`
		PublicAddress     string        `yaml:"public_address"`
		PublicPort        int           `yaml:"public_port"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	} `yaml:"matchmaker"`

	Fleet struct {
		ControlAddress   string        `yaml:"control_address"`
		HTTPAddress      string        `yaml:"http_address"`
		ClaimWindow      time.Duration `yaml:"claim_window"`
		StalenessTimeout time.Duration `yaml:"staleness_timeout"`
		SweepInterval    time.Duration `yaml:"sweep_interval"`
	} `yaml:"fleet"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	SFU struct {
		MaxStreamIDs          int  `yaml:"max_stream_ids"`
		AllowStreamerFallback bool `yaml:"allow_default_streamer_fallback"`
	} `yaml:"sfu"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signalling
	if c.Signalling.StreamerAddress == "" {
		return fmt.Errorf("signalling.streamer_address must not be empty")
	}
	if c.Signalling.PlayerAddress == "" {
		return fmt.Errorf("signalling.player_address must not be empty")
	}
	if c.Signalling.ProtocolVersion == "" {
		return fmt.Errorf("signalling.protocol_version must not be empty")
	}
	if c.Signalling.PingInterval <= 0 {
		return fmt.Errorf("signalling.ping_interval must be > 0")
	}
	if c.Signalling.WriteTimeout <= 0 {
		return fmt.Errorf("signalling.write_timeout must be > 0")
	}

	// Status
	if c.Status.Address == "" {
		return fmt.Errorf("status.address must not be empty")
	}

	// Matchmaker
	if c.Matchmaker.Enabled {
		if c.Matchmaker.Address == "" {
			return fmt.Errorf("matchmaker.address must not be empty when matchmaker.enabled=true")
		}
		if c.Matchmaker.PublicAddress == "" {
			return fmt.Errorf("matchmaker.public_address must not be empty when matchmaker.enabled=true")
		}
		if c.Matchmaker.PublicPort <= 0 {
			return fmt.Errorf("matchmaker.public_port must be > 0 when matchmaker.enabled=true")
		}
		if c.Matchmaker.PingInterval <= 0 {
			return fmt.Errorf("matchmaker.ping_interval must be > 0")
		}
		if c.Matchmaker.ReconnectDelay <= 0 {
			return fmt.Errorf("matchmaker.reconnect_delay must be > 0")
		}
		if c.Matchmaker.MaxReconnectDelay < c.Matchmaker.ReconnectDelay {
			return fmt.Errorf("matchmaker.max_reconnect_delay must be >= matchmaker.reconnect_delay")
		}
	}

	// Fleet
	if c.Fleet.ControlAddress == "" {
		return fmt.Errorf("fleet.control_address must not be empty")
	}
	if c.Fleet.HTTPAddress == "" {
		return fmt.Errorf("fleet.http_address must not be empty")
	}
	if c.Fleet.ClaimWindow < 0 {
		return fmt.Errorf("fleet.claim_window must be >= 0")
	}
	if c.Fleet.StalenessTimeout <= 0 {
		return fmt.Errorf("fleet.staleness_timeout must be > 0")
	}
	if c.Fleet.SweepInterval <= 0 {
		return fmt.Errorf("fleet.sweep_interval must be > 0")
	}

	// SFU
	if c.SFU.MaxStreamIDs <= 0 {
		return fmt.Errorf("sfu.max_stream_ids must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides.
func Load(configPath string) (*Config, error) {
	// If the file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signalling.StreamerAddress = ":8888"
	cfg.Signalling.PlayerAddress = ":80"
	cfg.Signalling.SFUAddress = ":8889"
	cfg.Signalling.ProtocolVersion = "1.0.0"
	cfg.Signalling.PingInterval = 30 * time.Second
	cfg.Signalling.WriteTimeout = 10 * time.Second
	cfg.Signalling.ShutdownTimeout = 30 * time.Second

	cfg.Status.Address = ":8890"

	cfg.Matchmaker.Enabled = false
	cfg.Matchmaker.Address = "localhost:9999"
	cfg.Matchmaker.PublicAddress = "127.0.0.1"
	cfg.Matchmaker.PublicPort = 80
	cfg.Matchmaker.PingInterval = 30 * time.Second
	cfg.Matchmaker.ReconnectDelay = 5 * time.Second
	cfg.Matchmaker.MaxReconnectDelay = time.Minute

	cfg.Fleet.ControlAddress = ":9999"
	cfg.Fleet.HTTPAddress = ":9090"
	cfg.Fleet.ClaimWindow = 10 * time.Second
	cfg.Fleet.StalenessTimeout = 30 * time.Second
	cfg.Fleet.SweepInterval = 10 * time.Second

	cfg.SFU.MaxStreamIDs = 1024
	cfg.SFU.AllowStreamerFallback = false

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.Channel = "pixelfleet:events"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PIXELFLEET_STREAMER_ADDRESS"); addr != "" {
		c.Signalling.StreamerAddress = addr
	}
	if addr := os.Getenv("PIXELFLEET_PLAYER_ADDRESS"); addr != "" {
		c.Signalling.PlayerAddress = addr
	}
	if addr := os.Getenv("PIXELFLEET_MATCHMAKER_ADDRESS"); addr != "" {
		c.Matchmaker.Address = addr
		c.Matchmaker.Enabled = true
	}
	if addr := os.Getenv("PIXELFLEET_PUBLIC_ADDRESS"); addr != "" {
		c.Matchmaker.PublicAddress = addr
	}
	if port := os.Getenv("PIXELFLEET_PUBLIC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Matchmaker.PublicPort = p
		}
	}
	if addr := os.Getenv("PIXELFLEET_FLEET_CONTROL_ADDRESS"); addr != "" {
		c.Fleet.ControlAddress = addr
	}
	if addr := os.Getenv("PIXELFLEET_FLEET_HTTP_ADDRESS"); addr != "" {
		c.Fleet.HTTPAddress = addr
	}
	if level := os.Getenv("PIXELFLEET_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
