package pipeline

import (
	"os"
	"strings"
	"time"
	"upgrader/internal/config"
	"upgrader/internal/lease"
)

// altPHPBinary is preferred when present; some hosts ship a newer PHP there
// than the one on PATH.
const altPHPBinary = "/opt/alt/php83/usr/bin/php"

// Config describes the working tree and the commands run against it.
type Config struct {
	Root           string
	Remote         string
	PHPBinary      string
	DepsInstall    []string // Overrides the composer install step when set
	CacheClear     []string // Overrides the cache clear step when set
	CommandTimeout time.Duration
	LeaseName      string
}

// LoadConfigFromEnv loads pipeline configuration from environment variables.
// Step overrides are split on whitespace and never passed through a shell.
func LoadConfigFromEnv(root string) Config {
	return Config{
		Root:           root,
		Remote:         config.GetEnv("GIT_REMOTE", "origin"),
		PHPBinary:      DetectPHPBinary(config.GetEnv("PHP_BINARY", "php")),
		DepsInstall:    strings.Fields(config.GetEnv("DEPS_INSTALL_CMD", "")),
		CacheClear:     strings.Fields(config.GetEnv("CACHE_CLEAR_CMD", "")),
		CommandTimeout: config.GetDurationEnv("COMMAND_TIMEOUT", 30*time.Minute),
		LeaseName:      config.GetEnv("LEASE_NAME", lease.DefaultName),
	}
}

// DetectPHPBinary returns the alternative PHP build when it is installed, otherwise fallback.
func DetectPHPBinary(fallback string) string {
	return detectPHPBinary(altPHPBinary, fallback)
}

func detectPHPBinary(candidate, fallback string) string {
	if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
		return candidate
	}
	return fallback
}

func (c Config) withDefaults() Config {
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.PHPBinary == "" {
		c.PHPBinary = "php"
	}
	if c.LeaseName == "" {
		c.LeaseName = lease.DefaultName
	}
	return c
}
