package docker

import (
	"time"
	"upgrader/internal/config"
)

// Config holds configuration for the container runner.
type Config struct {
	Image   string        // Image providing the tool chain (e.g. composer:2)
	Mounts  []string      // Host paths bind-mounted at the same path inside the container
	User    string        // uid:gid to run as so written files keep host ownership
	Timeout time.Duration // Per-command default (default 30m)
	Network string        // Network mode (default: docker default bridge)
}

// LoadConfigFromEnv loads container runner configuration from environment variables.
func LoadConfigFromEnv(deployRoot string) Config {
	return Config{
		Image:   config.GetEnv("TOOL_IMAGE", "composer:2"),
		Mounts:  config.GetListEnv("TOOL_MOUNTS", []string{deployRoot}),
		User:    config.GetEnv("TOOL_USER", ""),
		Timeout: config.GetDurationEnv("COMMAND_TIMEOUT", 30*time.Minute),
		Network: config.GetEnv("TOOL_NETWORK", ""),
	}
}
