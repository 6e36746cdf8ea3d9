package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/org/gatekeeper/pkg/models"
	"gopkg.in/yaml.v3"
)

// CLIConfig is the persistent CLI configuration.
type CLIConfig struct {
	Address  string `yaml:"address"`
	Identity string `yaml:"identity"`
}

var cfg CLIConfig

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gatekeeper")
}

// loadConfig loads the CLI config from disk.
func loadConfig() {
	cfg = CLIConfig{
		Address: "http://127.0.0.1:8310",
	}
	data, err := os.ReadFile(filepath.Join(configDir(), "config.yaml"))
	if err != nil {
		return // Use defaults
	}
	yaml.Unmarshal(data, &cfg) //nolint:errcheck
}

func tokenPath() string {
	return filepath.Join(configDir(), "token.json")
}

// saveToken persists a signed token for later check/audit commands.
func saveToken(data []byte) error {
	if err := os.MkdirAll(configDir(), 0700); err != nil {
		return err
	}
	return os.WriteFile(tokenPath(), data, 0600)
}

func loadTokenRaw() ([]byte, error) {
	return os.ReadFile(tokenPath())
}

func loadToken() (*models.SignedToken, error) {
	data, err := loadTokenRaw()
	if err != nil {
		return nil, err
	}
	var tok models.SignedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}
