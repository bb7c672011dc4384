package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coder/serpent"
	"gopkg.in/yaml.v3"

	"github.com/coder/cwg/config"
)

// systemConfigPath is the only source of the system settings.
var systemConfigPath = "/etc/cwg/config.yaml"

type fileConfig struct {
	LogLevel            string `yaml:"log_level"`
	MemoryLock          string `yaml:"memory_lock"`
	OTLPEndpoint        string `yaml:"otlp_endpoint"`
	config.SystemConfig `yaml:",inline"`
}

// loadedConfig holds the system file and the user file, either of which may
// be absent.
type loadedConfig struct {
	system     fileConfig
	systemPath string
	user       fileConfig
	userPath   string
}

func loadConfig(configPath string) (loadedConfig, error) {
	var lc loadedConfig
	if _, err := os.Stat(systemConfigPath); err == nil {
		cfg, err := loadConfigFile(systemConfigPath)
		if err != nil {
			return lc, err
		}
		lc.system, lc.systemPath = cfg, systemConfigPath
	}

	path := resolveConfigPath(configPath)
	if path == "" || path == lc.systemPath {
		return lc, nil
	}
	cfg, err := loadConfigFile(path)
	if err != nil {
		return lc, err
	}
	if cfg.SystemConfig != (config.SystemConfig{}) {
		return lc, fmt.Errorf("%s: device_prefix, wg_path and ip_path may only be set in %s", path, systemConfigPath)
	}
	lc.user, lc.userPath = cfg, path
	return lc, nil
}

func loadConfigFile(path string) (fileConfig, error) {
	var cfg fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %v", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse YAML in %s: %v", path, err)
	}
	return cfg, nil
}

// resolveConfigPath prefers an explicit path, then
// $XDG_CONFIG_HOME/cwg/config.yaml or ~/.config/cwg/config.yaml if it exists.
func resolveConfigPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(h, ".config")
	}
	path := filepath.Join(base, "cwg", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// mergeConfig fills every value the CLI left empty, from the user file first
// and the system file second. The CLI wins.
func mergeConfig(lc loadedConfig, cliCfg *config.CliConfig) error {
	var errs []error
	for _, file := range []fileConfig{lc.user, lc.system} {
		errs = append(errs,
			fill(&cliCfg.LogLevel, file.LogLevel),
			fill(&cliCfg.MemoryLock, file.MemoryLock),
			fill(&cliCfg.OTLPEndpoint, file.OTLPEndpoint),
		)
	}
	return errors.Join(errs...)
}

func fill(dst *serpent.String, fromFile string) error {
	if dst.Value() != "" || fromFile == "" {
		return nil
	}
	return dst.Set(fromFile)
}
