package utils

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type EngineConfig struct {
	APIURL     string `yaml:"api_url"`
	FlowName   string `yaml:"flow_name"`
	WorkPool   string `yaml:"work_pool"`
	Entrypoint string `yaml:"entrypoint"`
	FlowPath   string `yaml:"flow_path"`
	Timezone   string `yaml:"timezone"`
	// SettleSeconds is how long to wait between deployment creation and the
	// first run trigger. The engine registers deployments asynchronously.
	SettleSeconds int `yaml:"settle_seconds"`
}

type StreamConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	RetryDelaySecs   int `yaml:"retry_delay_seconds"`
	PollIntervalSecs int `yaml:"poll_interval_seconds"`
}

type SyncConfig struct {
	Workers     int `yaml:"workers"`
	SeenTTLSecs int `yaml:"seen_ttl_seconds"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

type Config struct {
	MySQLDSN  string          `yaml:"mysql_dsn"`
	Port      int             `yaml:"port"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Stream    StreamConfig    `yaml:"stream"`
	Sync      SyncConfig      `yaml:"sync"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Engine.FlowName == "" {
		c.Engine.FlowName = "entrypoint_dynamic_job"
	}
	if c.Engine.WorkPool == "" {
		c.Engine.WorkPool = "local-process-pool"
	}
	if c.Engine.Entrypoint == "" {
		c.Engine.Entrypoint = "my_flows.py:multi_task_job_flow"
	}
	if c.Engine.FlowPath == "" {
		c.Engine.FlowPath = "/app"
	}
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = "Asia/Ho_Chi_Minh"
	}
	if c.Engine.SettleSeconds == 0 {
		c.Engine.SettleSeconds = 5
	}
	if c.Stream.MaxRetries == 0 {
		c.Stream.MaxRetries = 5
	}
	if c.Stream.RetryDelaySecs == 0 {
		c.Stream.RetryDelaySecs = 1
	}
	if c.Stream.PollIntervalSecs == 0 {
		c.Stream.PollIntervalSecs = 3
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 5
	}
	if c.Sync.SeenTTLSecs == 0 {
		c.Sync.SeenTTLSecs = int((24 * time.Hour).Seconds())
	}
	if c.Telemetry.OTLPEndpoint == "" {
		c.Telemetry.OTLPEndpoint = "localhost:4318"
	}
	if c.Telemetry.MetricsAddr == "" {
		c.Telemetry.MetricsAddr = ":2112"
	}
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Engine.SettleSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Stream.RetryDelaySecs) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Stream.PollIntervalSecs) * time.Second
}

func (c *Config) SeenTTL() time.Duration {
	return time.Duration(c.Sync.SeenTTLSecs) * time.Second
}
