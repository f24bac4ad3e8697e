package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Settings is the run configuration of a deployment.
type Settings struct {
	// Domain is the tenant domain (e.g. "acme.eu.auth0.com").
	Domain string `yaml:"domain" validate:"omitempty,hostname_rfc1123"`

	// BaseURL overrides the management API root derived from Domain.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// ClientID and ClientSecret authenticate with client credentials.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Audience overrides the management API audience.
	Audience string `yaml:"audience" validate:"omitempty,url"`

	// Token is a static access token used instead of client credentials.
	Token string `yaml:"token"`

	// Input is the desired-state file or CUE package directory.
	Input string `yaml:"input"`

	// AllowDelete lets existing-only items be deleted.
	AllowDelete bool `yaml:"allow_delete"`

	// DeleteExceptions lists types whose deletions are allowed regardless of
	// AllowDelete.
	DeleteExceptions []string `yaml:"allow_delete_exceptions" validate:"dive,required"`

	// IncludedOnly limits the run to these types.
	IncludedOnly []string `yaml:"included_only" validate:"dive,required"`

	// Excluded removes types from the run.
	Excluded []string `yaml:"excluded" validate:"dive,required"`

	// KeywordMappings are substituted into the input before parsing.
	KeywordMappings map[string]interface{} `yaml:"keyword_mappings"`

	// Concurrency bounds in-flight remote calls.
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=50"`

	// RateLimit caps remote calls per second, 0 disables.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// PolicyPaths are extra rego or JSON deletion policies.
	PolicyPaths []string `yaml:"policy_paths"`

	// DisabledPolicies names loaded or built-in policies to switch off.
	DisabledPolicies []string `yaml:"disabled_policies" validate:"dive,required"`

	// HistoryPath is the run history database, empty disables history.
	HistoryPath string `yaml:"history_path"`

	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`

	// MetricsAddress exposes Prometheus metrics when set.
	MetricsAddress string `yaml:"metrics_address" validate:"omitempty,hostname_port"`
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings() *Settings {
	return &Settings{
		Concurrency: engine.DefaultPoolWidth,
		Timeout:     30 * time.Second,
		LogLevel:    "info",
	}
}

// LoadSettings reads settings from an optional YAML file and applies the
// environment on top.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
		if err := yaml.Unmarshal(content, s); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	}

	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyEnv overrides settings from AUTH0_* and TENANTSYNC_* variables.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) error {
		if v, ok := lookup(key); ok && v != "" {
			items, err := parseList(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = items
		}
		return nil
	}

	str("AUTH0_DOMAIN", &s.Domain)
	str("AUTH0_BASE_URL", &s.BaseURL)
	str("AUTH0_CLIENT_ID", &s.ClientID)
	str("AUTH0_CLIENT_SECRET", &s.ClientSecret)
	str("AUTH0_AUDIENCE", &s.Audience)
	str("AUTH0_ACCESS_TOKEN", &s.Token)
	str("TENANTSYNC_INPUT", &s.Input)
	str("TENANTSYNC_HISTORY", &s.HistoryPath)
	str("TENANTSYNC_LOG_LEVEL", &s.LogLevel)
	str("TENANTSYNC_METRICS_ADDRESS", &s.MetricsAddress)

	if v, ok := lookup(engine.ConfigAllowDelete); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", engine.ConfigAllowDelete, err)
		}
		s.AllowDelete = b
	}

	if err := list(engine.ConfigDeleteExceptions, &s.DeleteExceptions); err != nil {
		return err
	}
	if err := list(engine.ConfigIncludedOnly, &s.IncludedOnly); err != nil {
		return err
	}
	if err := list(engine.ConfigExcluded, &s.Excluded); err != nil {
		return err
	}
	if err := list("TENANTSYNC_DISABLED_POLICIES", &s.DisabledPolicies); err != nil {
		return err
	}

	if v, ok := lookup(engine.ConfigKeywordReplaceMappings); ok && v != "" {
		mappings := make(map[string]interface{})
		if err := json.Unmarshal([]byte(v), &mappings); err != nil {
			return fmt.Errorf("invalid %s: %w", engine.ConfigKeywordReplaceMappings, err)
		}
		s.KeywordMappings = mappings
	}

	if v, ok := lookup("TENANTSYNC_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TENANTSYNC_CONCURRENCY: %w", err)
		}
		s.Concurrency = n
	}

	return nil
}

// parseList accepts a JSON array or a comma separated list.
func parseList(v string) ([]string, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		var items []string
		if err := json.Unmarshal([]byte(v), &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var items []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items, nil
}

// Validate checks field formats and that the remote can be reached with the
// configured credentials. Offline runs skip the credential check.
func (s *Settings) Validate(offline bool) error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if offline {
		return nil
	}
	if s.Domain == "" && s.BaseURL == "" {
		return fmt.Errorf("invalid settings: domain or base_url is required")
	}
	if s.Token == "" && (s.ClientID == "" || s.ClientSecret == "") {
		return fmt.Errorf("invalid settings: token or client_id and client_secret are required")
	}
	return nil
}

// Lookup returns the configuration value for a key, nil for unknown keys.
func (s *Settings) Lookup(key string) interface{} {
	switch key {
	case engine.ConfigAllowDelete:
		return s.AllowDelete
	case engine.ConfigClientID:
		return s.ClientID
	case engine.ConfigKeywordReplaceMappings:
		return s.KeywordMappings
	case engine.ConfigIncludedOnly:
		return s.IncludedOnly
	case engine.ConfigExcluded:
		return s.Excluded
	case engine.ConfigDeleteExceptions:
		return s.DeleteExceptions
	default:
		return nil
	}
}

// ConfigLookup adapts the settings to the engine's configuration surface.
func (s *Settings) ConfigLookup() engine.ConfigLookup {
	return s.Lookup
}
