package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Signaling struct {
		// Backend selects the rendezvous transport: "memory" (single
		// process, tests), "redis" or "relay".
		Backend string `yaml:"backend"`

		Redis struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`

		Relay struct {
			URL string `yaml:"url"`
		} `yaml:"relay"`
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		// GatheringTimeout bounds the wait for local ICE candidate
		// gathering before a one-shot description is published.
		GatheringTimeout time.Duration `yaml:"gathering_timeout"`
	} `yaml:"webrtc"`

	Audio struct {
		// RTPListenAddress is where the capture collaborator delivers
		// opus RTP packets for the broadcaster's local track.
		RTPListenAddress string `yaml:"rtp_listen_address"`
		EchoCancellation bool   `yaml:"echo_cancellation"`
		NoiseSuppression bool   `yaml:"noise_suppression"`
		AutoGainControl  bool   `yaml:"auto_gain_control"`
	} `yaml:"audio"`

	Broadcast struct {
		// JoinOrigin is the origin used to build shareable join URLs.
		JoinOrigin string `yaml:"join_origin"`
		// StateFile persists the active session code so a restarted
		// broadcaster can clean up a stale record. Empty disables it.
		StateFile string `yaml:"state_file"`
	} `yaml:"broadcast"`

	Relay struct {
		Address         string        `yaml:"address"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

		RateLimiting struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limiting"`

		Auth struct {
			AdminSecret string        `yaml:"admin_secret"`
			TokenTTL    time.Duration `yaml:"token_ttl"`
		} `yaml:"auth"`
	} `yaml:"relay"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Signaling
	switch c.Signaling.Backend {
	case "memory":
	case "redis":
		if c.Signaling.Redis.Address == "" {
			return fmt.Errorf("signaling.redis.address must not be empty when backend=redis")
		}
		if c.Signaling.Redis.PoolSize <= 0 {
			return fmt.Errorf("signaling.redis.pool_size must be > 0 when backend=redis")
		}
	case "relay":
		if c.Signaling.Relay.URL == "" {
			return fmt.Errorf("signaling.relay.url must not be empty when backend=relay")
		}
	default:
		return fmt.Errorf("signaling.backend must be one of memory, redis, relay")
	}

	// WebRTC
	if c.WebRTC.GatheringTimeout <= 0 {
		return fmt.Errorf("webrtc.gathering_timeout must be > 0")
	}

	// Audio
	if c.Audio.RTPListenAddress == "" {
		return fmt.Errorf("audio.rtp_listen_address must not be empty")
	}

	// Relay server
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.ShutdownTimeout <= 0 {
		return fmt.Errorf("relay.shutdown_timeout must be > 0")
	}
	if c.Relay.RateLimiting.Enabled {
		if c.Relay.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("relay.rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.Relay.RateLimiting.Burst <= 0 {
			return fmt.Errorf("relay.rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}
	if c.Relay.Auth.AdminSecret == "" {
		return fmt.Errorf("relay.auth.admin_secret must not be empty")
	}
	if c.Relay.Auth.TokenTTL <= 0 {
		return fmt.Errorf("relay.auth.token_ttl must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1] when tracing.enabled=true")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
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

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Signaling.Backend = "memory"
	cfg.Signaling.Redis.Address = "localhost:6379"
	cfg.Signaling.Redis.DB = 0
	cfg.Signaling.Redis.PoolSize = 10
	cfg.Signaling.Relay.URL = "ws://localhost:8090/ws"

	cfg.WebRTC.ICEServers = []struct {
		URLs       []string `yaml:"urls"`
		Username   string   `yaml:"username,omitempty"`
		Credential string   `yaml:"credential,omitempty"`
	}{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	cfg.WebRTC.GatheringTimeout = time.Second

	cfg.Audio.RTPListenAddress = "127.0.0.1:5004"
	cfg.Audio.EchoCancellation = true
	cfg.Audio.NoiseSuppression = true
	cfg.Audio.AutoGainControl = true

	cfg.Broadcast.JoinOrigin = "https://aircast.local"
	cfg.Broadcast.StateFile = ""

	cfg.Relay.Address = ":8090"
	cfg.Relay.ShutdownTimeout = 30 * time.Second
	cfg.Relay.RateLimiting.Enabled = false
	cfg.Relay.RateLimiting.RequestsPerSecond = 20
	cfg.Relay.RateLimiting.Burst = 40
	cfg.Relay.Auth.AdminSecret = "change-me-in-production"
	cfg.Relay.Auth.TokenTTL = 15 * time.Minute

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("AIRCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if backend := os.Getenv("AIRCAST_SIGNALING_BACKEND"); backend != "" {
		c.Signaling.Backend = backend
	}
	if addr := os.Getenv("AIRCAST_REDIS_ADDRESS"); addr != "" {
		c.Signaling.Redis.Address = addr
	}
	if url := os.Getenv("AIRCAST_RELAY_URL"); url != "" {
		c.Signaling.Relay.URL = url
	}
	if addr := os.Getenv("AIRCAST_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if secret := os.Getenv("AIRCAST_ADMIN_SECRET"); secret != "" {
		c.Relay.Auth.AdminSecret = secret
	}
}
