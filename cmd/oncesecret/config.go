package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultAddress = "http://127.0.0.1:8080"

// CLIConfig is what `oncesecret config` persists between runs.
type CLIConfig struct {
	Address   string `yaml:"address"`
	TLSCACert string `yaml:"tls_ca_cert,omitempty"`
}

var cfg CLIConfig

func configPath() string {
	if v := os.Getenv("ONCESECRET_CLI_CONFIG"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".oncesecret", "config.yaml")
}

// loadConfig populates cfg. A missing file means defaults; an unreadable or
// malformed one is an error.
func loadConfig() error {
	c, err := readCLIConfig(configPath())
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

func readCLIConfig(path string) (CLIConfig, error) {
	c := CLIConfig{Address: defaultAddress}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing %s: %w", path, err)
	}
	if c.Address == "" {
		c.Address = defaultAddress
	}
	return c, nil
}

func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
