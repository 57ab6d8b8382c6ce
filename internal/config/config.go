// Package config loads depot settings from a YAML file with DEPOT_* prefixed
// environment overrides. Precedence: explicit flags > environment > config
// file > defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/lakefront/depot/pkg/objstore"
)

// Config is the full depot configuration tree.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`
	Manager  ManagerConfig  `mapstructure:"manager" yaml:"manager"`
}

// ServerConfig tunes the health/readiness HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig selects level and output profile.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// StoreConfig configures the object-store backend.
type StoreConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Profile         string `mapstructure:"profile" yaml:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`

	CrossObjectConcurrency int     `mapstructure:"cross_object_concurrency" yaml:"cross_object_concurrency"`
	TransferConcurrency    int     `mapstructure:"transfer_concurrency" yaml:"transfer_concurrency"`
	RateLimit              float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// MetadataConfig locates the metadata database.
type MetadataConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ManagerConfig tunes link issuance and reconciliation.
type ManagerConfig struct {
	LinkTTL            time.Duration `mapstructure:"link_ttl" yaml:"link_ttl"`
	MultipartThreshold int64         `mapstructure:"multipart_threshold" yaml:"multipart_threshold"`
	ReconcileAttempts  int           `mapstructure:"reconcile_attempts" yaml:"reconcile_attempts"`
	ReconcileBaseDelay time.Duration `mapstructure:"reconcile_base_delay" yaml:"reconcile_base_delay"`
	DirSizeStaleness   time.Duration `mapstructure:"dir_size_staleness" yaml:"dir_size_staleness"`
}

// Validate checks the parts of the tree every command needs.
func (c *Config) Validate() error {
	if c.Store.Bucket == "" {
		return errors.New("store.bucket is required")
	}
	if c.Metadata.Path == "" {
		return errors.New("metadata.path is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// StoreSettings maps the tree onto the object-store client's configuration.
func (c *Config) StoreSettings() objstore.Config {
	return objstore.Config{
		Bucket:                 c.Store.Bucket,
		Region:                 c.Store.Region,
		Endpoint:               c.Store.Endpoint,
		Profile:                c.Store.Profile,
		AccessKeyID:            c.Store.AccessKeyID,
		SecretAccessKey:        c.Store.SecretAccessKey,
		ForcePathStyle:         c.Store.ForcePathStyle,
		CrossObjectConcurrency: c.Store.CrossObjectConcurrency,
		TransferConcurrency:    c.Store.TransferConcurrency,
		RateLimit:              c.Store.RateLimit,
	}
}
