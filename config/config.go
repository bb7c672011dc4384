package config

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coder/serpent"

	"github.com/coder/cwg/logging"
	"github.com/coder/cwg/privilege"
	"github.com/coder/cwg/tunnel"
	"github.com/coder/cwg/validate"
)

const (
	DefaultLogLevel     = "warn"
	DefaultDevicePrefix = "cwg"
	DefaultWGPath       = "wg"
	DefaultIPPath       = "ip"
)

// CliConfig is filled from flags and CWG_* environment variables, then from
// the config files for whatever is still unset.
type CliConfig struct {
	Config       serpent.String `yaml:"-"`
	LogLevel     serpent.String `yaml:"log_level"`
	MemoryLock   serpent.String `yaml:"memory_lock"`
	OTLPEndpoint serpent.String `yaml:"otlp_endpoint"`
}

// SystemConfig only ever comes from the system config file. It picks the
// programs that run with CAP_NET_ADMIN and the devices cwg may delete, so the
// invoking user has no say in it.
type SystemConfig struct {
	DevicePrefix string `yaml:"device_prefix"`
	WGPath       string `yaml:"wg_path"`
	IPPath       string `yaml:"ip_path"`
}

type AppConfig struct {
	LogLevel     string
	DevicePrefix string
	// WGPath and IPPath are absolute.
	WGPath       string
	IPPath       string
	MemoryLock   privilege.MemoryLock
	OTLPEndpoint string
}

// ToolDirs is searched for tools configured by name. The caller's PATH is
// never consulted.
var ToolDirs = []string{"/usr/local/sbin", "/usr/local/bin", "/usr/sbin", "/usr/bin", "/sbin", "/bin"}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

func NewAppConfigFromCliConfig(cfg CliConfig, system SystemConfig) (AppConfig, error) {
	prefix := or(system.DevicePrefix, DefaultDevicePrefix)
	if !validate.IsDeviceName(prefix) {
		return AppConfig{}, fmt.Errorf("invalid device prefix %q", prefix)
	}
	if err := tunnel.CheckPrefix(prefix); err != nil {
		return AppConfig{}, err
	}

	logLevel := or(cfg.LogLevel.Value(), DefaultLogLevel)
	if _, err := logging.ParseLevel(logLevel); err != nil {
		return AppConfig{}, err
	}

	memoryLock, err := privilege.ParseMemoryLock(or(cfg.MemoryLock.Value(), string(privilege.DefaultMemoryLock)))
	if err != nil {
		return AppConfig{}, err
	}

	wgPath, err := resolveTool(or(system.WGPath, DefaultWGPath))
	if err != nil {
		return AppConfig{}, err
	}
	ipPath, err := resolveTool(or(system.IPPath, DefaultIPPath))
	if err != nil {
		return AppConfig{}, err
	}

	return AppConfig{
		LogLevel:     logLevel,
		DevicePrefix: prefix,
		WGPath:       wgPath,
		IPPath:       ipPath,
		MemoryLock:   memoryLock,
		OTLPEndpoint: cfg.OTLPEndpoint.Value(),
	}, nil
}

func or(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// resolveTool turns a tool name into the absolute path that gets executed.
// A bare name is searched in ToolDirs; anything else must be absolute.
func resolveTool(name string) (string, error) {
	if filepath.IsAbs(name) {
		path, err := lookPath(name)
		if err != nil {
			return "", fmt.Errorf("failed to find %s: %w", name, err)
		}
		return path, nil
	}
	if strings.ContainsRune(name, '/') {
		return "", fmt.Errorf("tool path %q must be absolute", name)
	}
	for _, dir := range ToolDirs {
		if path, err := lookPath(filepath.Join(dir, name)); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("failed to find %s in %s: %w", name, strings.Join(ToolDirs, ":"), exec.ErrNotFound)
}
