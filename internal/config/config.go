// Package config provides configuration loading from environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ServiceConfig holds configuration for the upgrade service.
type ServiceConfig struct {
	Port              string        `validate:"required,numeric"`
	MetricsPort       string        `validate:"required,numeric"`
	APIKey            string        // Empty disables bearer identities
	APIKeyRoles       []string      `validate:"dive,required"`
	TrustProxyHeaders bool          // Accept X-Auth-Subject / X-Auth-Roles from the SSO proxy
	ShutdownDrainWait time.Duration `validate:"min=0"` // Time to wait for load balancer to drain (0 to skip)
	DeployRoot        string        `validate:"required"`
	AppDBVersion      string        // Schema version shipped with the running code
	SettingsFile      string        // YAML settings document; empty means not installed
	HistoryPath       string        // Badger directory for run history; empty keeps history in memory
	HistoryLimit      int           `validate:"min=1"`
	UpgradeRateLimit  float64       `validate:"gt=0"` // Upgrade triggers per second
	UpgradeBurst      int           `validate:"min=1"`
	ToolRunner        string        `validate:"oneof=local docker"` // Where dependency and cache steps run
	VersionCacheTTL   time.Duration `validate:"min=0"`
	WebhookURLs       []string      `validate:"dive,url"`
	WebhookKey        string        // HMAC key for webhook signatures; empty sends unsigned
	EventSource       string        `validate:"required"` // CloudEvent source of this deployment
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		APIKeyRoles:       GetListEnv("API_KEY_ROLES", []string{"owner"}),
		TrustProxyHeaders: GetBoolEnv("TRUST_PROXY_HEADERS", false),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		DeployRoot:        GetEnv("DEPLOY_ROOT", "/var/www/html"),
		AppDBVersion:      GetEnv("APP_DB_VERSION", ""),
		SettingsFile:      GetEnv("SETTINGS_FILE", ""),
		HistoryPath:       GetEnv("HISTORY_PATH", ""),
		HistoryLimit:      GetIntEnv("HISTORY_LIMIT", 200),
		UpgradeRateLimit:  GetFloatEnv("UPGRADE_RATE_LIMIT", 0.2),
		UpgradeBurst:      GetIntEnv("UPGRADE_BURST", 2),
		ToolRunner:        GetEnv("TOOL_RUNNER", "local"),
		VersionCacheTTL:   GetDurationEnv("VERSION_CACHE_TTL", time.Minute),
		WebhookURLs:       GetListEnv("WEBHOOK_URLS", nil),
		WebhookKey:        GetSecretFile(GetEnv("WEBHOOK_KEY_FILE", "")),
		EventSource:       GetEnv("EVENT_SOURCE", "upgrader"),
	}
}

// Validate checks the service configuration.
func (c *ServiceConfig) Validate() error {
	return Validate(c)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks struct tags on any configuration struct and flattens
// validation failures into a single readable error.
func Validate(cfg any) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
