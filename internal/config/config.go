// Package config loads the mount's configuration from a YAML file, with
// CLI flags and environment variables able to override individual fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration holds everything needed to mount a bucket: the B2 account
// credentials, the target bucket, cache behavior, and the ambient fields
// every daemon of this shape carries (logging, metrics, debug mode).
type Configuration struct {
	AccountID      string        `yaml:"account_id"`
	ApplicationKey string        `yaml:"application_key"`
	BucketID       string        `yaml:"bucket_id"`
	CacheTimeout   time.Duration `yaml:"cache_timeout"`

	// Endpoint and Region address B2's S3-compatible API; BucketID is
	// used as both the bucket name and the lookup key.
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`

	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	Debug       bool   `yaml:"debug"`
	AllowOther  bool   `yaml:"allow_other"`
}

// NewDefault returns a Configuration with sensible defaults; AccountID,
// ApplicationKey and BucketID must still be supplied by the caller.
func NewDefault() *Configuration {
	return &Configuration{
		CacheTimeout: 120 * time.Second,
		Region:       "us-west-002",
		LogLevel:     "INFO",
		MetricsPort:  9090,
	}
}

// LoadFromFile reads and merges a YAML config file into c. Fields already
// set (by flags, say) are overwritten only if the file sets them.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays B2FS_-prefixed environment variables onto c,
// mirroring the original implementation's direct os.environ reads.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("B2FS_ACCOUNT_ID"); val != "" {
		c.AccountID = val
	}
	if val := os.Getenv("B2FS_APPLICATION_KEY"); val != "" {
		c.ApplicationKey = val
	}
	if val := os.Getenv("B2FS_BUCKET_ID"); val != "" {
		c.BucketID = val
	}
	if val := os.Getenv("B2FS_CACHE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.CacheTimeout = d
		}
	}
	if val := os.Getenv("B2FS_ENDPOINT"); val != "" {
		c.Endpoint = val
	}
	if val := os.Getenv("B2FS_REGION"); val != "" {
		c.Region = val
	}
	if val := os.Getenv("B2FS_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("B2FS_LOG_FILE"); val != "" {
		c.LogFile = val
	}
	if val := os.Getenv("B2FS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.MetricsPort = port
		}
	}
	if val := os.Getenv("B2FS_DEBUG"); val != "" {
		c.Debug = strings.ToLower(val) == "true"
	}
	return nil
}

// Validate reports missing required fields and out-of-range values.
func (c *Configuration) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if c.ApplicationKey == "" {
		return fmt.Errorf("application_key is required")
	}
	if c.BucketID == "" {
		return fmt.Errorf("bucket_id is required")
	}
	if c.CacheTimeout <= 0 {
		return fmt.Errorf("cache_timeout must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	valid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
