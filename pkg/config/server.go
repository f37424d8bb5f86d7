package config

import (
	"fmt"
	"strings"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/fsutil"
)

const (
	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":7000"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "./itproduct.db"

	// DefaultPostgresPort is the default PostgreSQL port.
	DefaultPostgresPort = 5432

	// DefaultPostgresSSLMode is the default PostgreSQL SSL mode.
	DefaultPostgresSSLMode = "disable"

	// DefaultRateLimitRequestsPerMinute applies when rate limiting is
	// enabled without an explicit limit.
	DefaultRateLimitRequestsPerMinute = 120
)

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

func (d *DatabaseConfig) applyDefaults() {
	if d.Driver == "" {
		d.Driver = "sqlite"
	}

	if d.Driver == "sqlite" && d.SQLite.Path == "" {
		d.SQLite.Path = DefaultSQLitePath
	}

	if d.Driver == "postgres" {
		if d.Postgres.Port == 0 {
			d.Postgres.Port = DefaultPostgresPort
		}

		if d.Postgres.SSLMode == "" {
			d.Postgres.SSLMode = DefaultPostgresSSLMode
		}
	}
}

// Validate checks the database settings.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required")
		}

		if d.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported driver %q (use sqlite or postgres)", d.Driver)
	}

	return nil
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	// AdminTokenHashes are bcrypt hashes of bearer tokens accepted on
	// endpoints that start or cancel runs. Empty leaves them open.
	AdminTokenHashes []string `yaml:"admin_token_hashes,omitempty" mapstructure:"admin_token_hashes"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

func (s *ServerConfig) applyDefaults() {
	if s.Listen == "" {
		s.Listen = DefaultListen
	}

	if s.RateLimit.Enabled && s.RateLimit.RequestsPerMinute <= 0 {
		s.RateLimit.RequestsPerMinute = DefaultRateLimitRequestsPerMinute
	}
}

// Validate checks the server settings.
func (s *ServerConfig) Validate() error {
	for i, hash := range s.AdminTokenHashes {
		if !strings.HasPrefix(hash, "$2") {
			return fmt.Errorf("admin_token_hashes[%d] is not a bcrypt hash", i)
		}
	}

	return nil
}

// ArchiveConfig selects where finished run reports are written.
// At most one backend may be enabled.
type ArchiveConfig struct {
	S3    *S3ArchiveConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
	Local *LocalArchiveConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// S3ArchiveConfig contains S3 settings for run report uploads.
type S3ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// LocalArchiveConfig writes run reports to a directory.
type LocalArchiveConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
	// Owner is an optional "UID:GID" applied to written reports.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// Validate checks the archive settings.
func (a *ArchiveConfig) Validate() error {
	s3Enabled := a.S3 != nil && a.S3.Enabled
	localEnabled := a.Local != nil && a.Local.Enabled

	if s3Enabled && localEnabled {
		return fmt.Errorf("only one of s3 or local may be enabled")
	}

	if s3Enabled && a.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}

	if localEnabled && a.Local.Dir == "" {
		return fmt.Errorf("local.dir is required")
	}

	if localEnabled {
		if _, err := fsutil.ParseOwner(a.Local.Owner); err != nil {
			return fmt.Errorf("local.owner: %w", err)
		}
	}

	return nil
}
