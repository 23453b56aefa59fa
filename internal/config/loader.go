package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr"`
	BackendURL string `json:"backend_url" yaml:"backend_url" toml:"backend_url"`
	// TokenFile is re-read before every backend call so rotated bearer
	// credentials are picked up without a restart.
	TokenFile  string `json:"token_file" yaml:"token_file" toml:"token_file"`
	DatasetDir string `json:"dataset_dir" yaml:"dataset_dir" toml:"dataset_dir"`

	PollIntervalSec  int `json:"poll_interval_sec" yaml:"poll_interval_sec" toml:"poll_interval_sec"`
	ShortTimeoutSec  int `json:"short_timeout_sec" yaml:"short_timeout_sec" toml:"short_timeout_sec"`
	CallTimeoutSec   int `json:"call_timeout_sec" yaml:"call_timeout_sec" toml:"call_timeout_sec"`
	UploadTimeoutSec int `json:"upload_timeout_sec" yaml:"upload_timeout_sec" toml:"upload_timeout_sec"`

	NotifyCapacity int `json:"notify_capacity" yaml:"notify_capacity" toml:"notify_capacity"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
