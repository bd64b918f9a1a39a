package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/org/oncesecret/internal/crypto"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "ONCESECRET_CONFIG"

// Config holds server configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	TLSCertFile string `yaml:"tls_cert"`
	TLSKeyFile  string `yaml:"tls_key"`

	DBUrl         string `yaml:"db_url"`
	DBMaxConns    int32  `yaml:"db_max_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
	AutoMigrate   bool   `yaml:"auto_migrate"`

	EncryptionKey       string `yaml:"encryption_key"`
	EncryptionAlgorithm string `yaml:"encryption_algorithm"`

	SweepInterval time.Duration `yaml:"sweep_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		ListenAddr:          "127.0.0.1:8080",
		DBMaxConns:          10,
		MigrationsDir:       "migrations",
		AutoMigrate:         true,
		EncryptionAlgorithm: string(crypto.AES256GCM),
		SweepInterval:       5 * time.Minute,
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// Path returns the config file path from the environment, or config.yaml.
func Path() string {
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return "config.yaml"
}

// Load applies defaults, the YAML file at path, a .env file in the working
// directory and finally environment variables. Missing files are skipped.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("LISTEN_ADDR", &c.ListenAddr)
	setString("TLS_CERT", &c.TLSCertFile)
	setString("TLS_KEY", &c.TLSKeyFile)
	setString("DATABASE_URL", &c.DBUrl)
	setString("MIGRATIONS_DIR", &c.MigrationsDir)
	setString("AES_ENCRYPTION_KEY", &c.EncryptionKey)
	setString("ENCRYPTION_ALGORITHM", &c.EncryptionAlgorithm)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("LOG_FORMAT", &c.LogFormat)

	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("DB_MAX_CONNS: %w", err)
		}
		c.DBMaxConns = int32(n)
	}
	if v := os.Getenv("AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTO_MIGRATE: %w", err)
		}
		c.AutoMigrate = b
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SWEEP_INTERVAL: %w", err)
		}
		c.SweepInterval = d
	}
	return nil
}

// Validate checks required fields and value ranges. It does not decode the
// key; the cipher constructor reports key errors.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.DBUrl == "" {
		errs = append(errs, errors.New("db_url must be configured (or DATABASE_URL env var)"))
	}
	if c.DBMaxConns < 1 {
		errs = append(errs, fmt.Errorf("db_max_conns must be positive, got %d", c.DBMaxConns))
	}
	if strings.TrimSpace(c.EncryptionKey) == "" {
		errs = append(errs, errors.New("encryption_key must be configured (or AES_ENCRYPTION_KEY env var)"))
	}
	if _, err := crypto.ParseAlgorithm(c.EncryptionAlgorithm); err != nil {
		errs = append(errs, err)
	}
	if c.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("sweep_interval must not be negative, got %s", c.SweepInterval))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
