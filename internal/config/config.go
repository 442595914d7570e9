package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	API           APIConfig           `yaml:"api"`
	Database      DatabaseConfig      `yaml:"database"`
	Storage       StorageConfig       `yaml:"storage"`
	Signature     SignatureConfig     `yaml:"signature"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Upload        UploadConfig        `yaml:"upload"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Sweep         SweepConfig         `yaml:"sweep"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Reports       ReportsConfig       `yaml:"reports"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type APIConfig struct {
	Port                 int               `yaml:"port"`
	S2SSecret            string            `yaml:"s2s_secret"`
	ServiceJurisdictions map[string]string `yaml:"service_jurisdictions"`
	RateLimitPerMinute   int               `yaml:"rate_limit_per_minute"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type StorageConfig struct {
	ConnectionString string            `yaml:"connection_string"`
	Containers       []ContainerConfig `yaml:"containers"`
	LeaseTTLSeconds  int               `yaml:"lease_ttl_seconds"`
}

// ContainerConfig binds one input container to the jurisdiction that owns it.
// Test containers feed staging bureaus; their failure notifications carry
// test_only=true so downstream operators can filter them.
type ContainerConfig struct {
	Name         string `yaml:"name"`
	Jurisdiction string `yaml:"jurisdiction"`
	Test         bool   `yaml:"test"`
}

type SignatureConfig struct {
	Algorithm     string `yaml:"algorithm"`
	PublicKeyFile string `yaml:"public_key_file"`
}

type IngestionConfig struct {
	IntervalMs             int `yaml:"interval_ms"`
	ProcessingDelayMinutes int `yaml:"processing_delay_minutes"`
}

type UploadConfig struct {
	IntervalMs  int `yaml:"interval_ms"`
	MaxFailures int `yaml:"max_failures"`
}

type DispatchConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

type SweepConfig struct {
	IntervalMs   int `yaml:"interval_ms"`
	GraceMinutes int `yaml:"grace_minutes"`
}

type DocumentsConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type NotificationsConfig struct {
	ProjectID             string `yaml:"project_id"`
	ErrorTopic            string `yaml:"error_topic"`
	EnvelopesTopic        string `yaml:"envelopes_topic"`
	ProcessedSubscription string `yaml:"processed_subscription"`
	CredentialsFile       string `yaml:"credentials_file"`
}

type ReportsConfig struct {
	RedisAddr       string `yaml:"redis_addr"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets from the environment. YAML holds tuning values
// only; anything credential-shaped can be injected at deploy time.
func (c *Config) applyEnv() {
	if v := os.Getenv("BSP_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("BSP_STORAGE_CONNECTION_STRING"); v != "" {
		c.Storage.ConnectionString = v
	}
	if v := os.Getenv("BSP_S2S_SECRET"); v != "" {
		c.API.S2SSecret = v
	}
	if v := os.Getenv("BSP_DOCUMENTS_URL"); v != "" {
		c.Documents.URL = v
	}
	if v := os.Getenv("BSP_REDIS_ADDR"); v != "" {
		c.Reports.RedisAddr = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && c.Notifications.CredentialsFile == "" {
		c.Notifications.CredentialsFile = v
	}
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8581
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Storage.LeaseTTLSeconds == 0 {
		c.Storage.LeaseTTLSeconds = 60
	}
	if c.Ingestion.IntervalMs == 0 {
		c.Ingestion.IntervalMs = 30000
	}
	if c.Ingestion.ProcessingDelayMinutes == 0 {
		c.Ingestion.ProcessingDelayMinutes = 5
	}
	if c.Upload.IntervalMs == 0 {
		c.Upload.IntervalMs = 30000
	}
	if c.Upload.MaxFailures == 0 {
		c.Upload.MaxFailures = 5
	}
	if c.Dispatch.IntervalMs == 0 {
		c.Dispatch.IntervalMs = 30000
	}
	if c.Sweep.IntervalMs == 0 {
		c.Sweep.IntervalMs = 60000
	}
	if c.Sweep.GraceMinutes == 0 {
		c.Sweep.GraceMinutes = 60
	}
	if c.Documents.TimeoutSeconds == 0 {
		c.Documents.TimeoutSeconds = 30
	}
	if c.Reports.CacheTTLSeconds == 0 {
		c.Reports.CacheTTLSeconds = 120
	}
	if c.Signature.Algorithm == "" {
		c.Signature.Algorithm = "sha256withrsa"
	}
}

func (c *Config) Validate() error {
	if len(c.Storage.Containers) == 0 {
		return fmt.Errorf("config: no input containers configured")
	}
	for _, ct := range c.Storage.Containers {
		if ct.Name == "" || ct.Jurisdiction == "" {
			return fmt.Errorf("config: container entry missing name or jurisdiction")
		}
	}
	if c.Signature.Algorithm != "none" && c.Signature.PublicKeyFile == "" {
		return fmt.Errorf("config: signature.public_key_file required for algorithm %q", c.Signature.Algorithm)
	}
	if c.Storage.LeaseTTLSeconds < 15 || c.Storage.LeaseTTLSeconds > 60 {
		return fmt.Errorf("config: storage.lease_ttl_seconds must be within 15..60, got %d", c.Storage.LeaseTTLSeconds)
	}
	return nil
}

// Jurisdiction returns the jurisdiction mapped to an input container, or
// false when the container is not configured.
func (c *Config) Jurisdiction(container string) (string, bool) {
	for _, ct := range c.Storage.Containers {
		if ct.Name == container {
			return ct.Jurisdiction, true
		}
	}
	return "", false
}

// IsTestContainer reports whether failure notifications for the container
// must be flagged test_only.
func (c *Config) IsTestContainer(container string) bool {
	for _, ct := range c.Storage.Containers {
		if ct.Name == container {
			return ct.Test
		}
	}
	return false
}

// ContainerNames lists the configured input containers in declaration order.
func (c *Config) ContainerNames() []string {
	names := make([]string, 0, len(c.Storage.Containers))
	for _, ct := range c.Storage.Containers {
		names = append(names, ct.Name)
	}
	return names
}
