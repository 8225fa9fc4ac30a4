package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Report   ReportConfig   `yaml:"report"`
	Notify   NotifyConfig   `yaml:"notify"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TasksConfig points at the task registry file.
type TasksConfig struct {
	Path string `yaml:"path"`
	// Watch enables hot reload of the registry file.
	Watch bool `yaml:"watch"`
}

// FetchConfig holds HTTP fetch settings. Durations are strings in
// time.ParseDuration syntax.
type FetchConfig struct {
	MaxRetries   int    `yaml:"max_retries"`
	RetryBackoff string `yaml:"retry_backoff"`
	Timeout      string `yaml:"timeout"`
	UserAgent    string `yaml:"user_agent"`
}

// ReportConfig holds report artifact settings.
type ReportConfig struct {
	Dir       string `yaml:"dir"`
	Retention string `yaml:"retention"`
}

// NotifyConfig holds mail delivery settings.
type NotifyConfig struct {
	APIBaseURL string `yaml:"api_base_url"`
	APIKey     string `yaml:"api_key"`
	From       string `yaml:"from"`
	// Recipients is the default delivery list for tasks that do not
	// declare their own.
	Recipients          []string `yaml:"recipients"`
	SuppressEmpty       *bool    `yaml:"suppress_empty"`
	MaxRetries          int      `yaml:"max_retries"`
	RetryBackoff        string   `yaml:"retry_backoff"`
	AttachmentThreshold int64    `yaml:"attachment_threshold"`
}

// StorageConfig holds S3 report staging settings. Staging is off when
// no bucket is configured.
type StorageConfig struct {
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	LinkTTL   string `yaml:"link_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotating file output alongside stderr when set.
	File string `yaml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	suppress := true
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "/data/sswatch.db",
		},
		Tasks: TasksConfig{
			Path:  "/data/tasks.yaml",
			Watch: true,
		},
		Fetch: FetchConfig{
			MaxRetries:   3,
			RetryBackoff: "500ms",
			Timeout:      "30s",
			UserAgent:    "sswatch/1.0",
		},
		Report: ReportConfig{
			Dir:       "/data/reports",
			Retention: "720h",
		},
		Notify: NotifyConfig{
			SuppressEmpty:       &suppress,
			MaxRetries:          1,
			RetryBackoff:        "2s",
			AttachmentThreshold: 512 << 10,
		},
		Storage: StorageConfig{
			Region:  "eu-west-1",
			LinkTTL: "72h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("SSW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SSW_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("SSW_TASKS_PATH"); v != "" {
		c.Tasks.Path = v
	}
	if v := os.Getenv("SSW_REPORT_DIR"); v != "" {
		c.Report.Dir = v
	}
	if v := os.Getenv("SSW_MAIL_API_URL"); v != "" {
		c.Notify.APIBaseURL = v
	}
	if v := os.Getenv("SSW_MAIL_API_KEY"); v != "" {
		c.Notify.APIKey = v
	}
	if v := os.Getenv("SSW_MAIL_FROM"); v != "" {
		c.Notify.From = v
	}
	if v := os.Getenv("SSW_MAIL_TO"); v != "" {
		c.Notify.Recipients = splitList(v)
	}
	if v := os.Getenv("SSW_S3_REGION"); v != "" {
		c.Storage.Region = v
	}
	if v := os.Getenv("SSW_S3_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv("SSW_S3_ACCESS_KEY"); v != "" {
		c.Storage.AccessKey = v
	}
	if v := os.Getenv("SSW_S3_SECRET_KEY"); v != "" {
		c.Storage.SecretKey = v
	}
	if v := os.Getenv("SSW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SSW_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Tasks.Path == "" {
		return fmt.Errorf("tasks path is required")
	}
	for name, raw := range map[string]string{
		"fetch.retry_backoff":  c.Fetch.RetryBackoff,
		"fetch.timeout":        c.Fetch.Timeout,
		"report.retention":     c.Report.Retention,
		"notify.retry_backoff": c.Notify.RetryBackoff,
		"storage.link_ttl":     c.Storage.LinkTTL,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
	}
	return nil
}

// Duration parses a duration field that validate has already checked.
// Empty or invalid values fall back to def.
func Duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// StagingEnabled reports whether S3 report staging is configured.
func (c *StorageConfig) StagingEnabled() bool {
	return c.Bucket != ""
}

// SuppressEmptyOrDefault resolves the suppression tri-state.
func (c *NotifyConfig) SuppressEmptyOrDefault() bool {
	if c.SuppressEmpty == nil {
		return true
	}
	return *c.SuppressEmpty
}

// splitList parses a comma-separated env value, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
