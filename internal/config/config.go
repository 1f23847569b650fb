// Package config loads EasyForm settings from the environment, with secrets
// optionally resolved from SSM and a YAML overlay for local development.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIVersion  = "2026-01"
	DefaultEnvironment = "development"
	DefaultVerifyDelay = 2 * time.Second
	DefaultSQLitePath  = "easyform.db"
)

type Config struct {
	ShopifyAPIKey     string `yaml:"shopify_api_key"`
	ShopifyAPISecret  string `yaml:"shopify_api_secret"`
	ShopifyScopes     string `yaml:"shopify_scopes"`
	ShopifyAPIVersion string `yaml:"shopify_api_version"`
	AppURL            string `yaml:"app_url"`

	TokenEncKeyB64 string `yaml:"token_enc_key_b64"`

	SessionsTable     string `yaml:"sessions_table"`
	OAuthStateTable   string `yaml:"oauth_state_table"`
	WebhookDedupTable string `yaml:"webhook_dedupe_table"`

	ComplianceTopicARN string `yaml:"compliance_topic_arn"`
	ComplianceBucket   string `yaml:"compliance_bucket"`

	Environment       string        `yaml:"environment"`
	SchemaVerifyDelay time.Duration `yaml:"schema_verify_delay"`
	SQLitePath        string        `yaml:"sqlite_path"`
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envOr(key, fallback string) string {
	if v := env(key); v != "" {
		return v
	}
	return fallback
}

// FromEnv reads the plain environment. Secrets stored in SSM are not
// resolved here; see Load.
func FromEnv() (Config, error) {
	cfg := Config{
		ShopifyAPIKey:      env("SHOPIFY_API_KEY"),
		ShopifyAPISecret:   env("SHOPIFY_API_SECRET"),
		ShopifyScopes:      env("SHOPIFY_SCOPES"),
		ShopifyAPIVersion:  envOr("SHOPIFY_API_VERSION", DefaultAPIVersion),
		AppURL:             strings.TrimRight(env("SHOPIFY_APP_URL"), "/"),
		TokenEncKeyB64:     env("TOKEN_ENC_KEY_B64"),
		SessionsTable:      env("SESSIONS_TABLE"),
		OAuthStateTable:    env("OAUTH_STATE_TABLE"),
		WebhookDedupTable:  env("SHOPIFY_WEBHOOK_DEDUPE_TABLE"),
		ComplianceTopicARN: env("COMPLIANCE_TOPIC_ARN"),
		ComplianceBucket:   env("COMPLIANCE_BUCKET"),
		Environment:        envOr("APP_ENV", DefaultEnvironment),
		SchemaVerifyDelay:  DefaultVerifyDelay,
		SQLitePath:         envOr("SQLITE_PATH", DefaultSQLitePath),
	}

	if raw := env("SCHEMA_VERIFY_DELAY"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCHEMA_VERIFY_DELAY %q: %w", raw, err)
		}
		if d < 0 {
			return Config{}, fmt.Errorf("invalid SCHEMA_VERIFY_DELAY %q: negative", raw)
		}
		cfg.SchemaVerifyDelay = d
	}
	return cfg, nil
}

// Load reads the environment and then fills secrets named by
// SHOPIFY_API_SECRET_PARAM and TOKEN_ENC_KEY_PARAM from SSM.
func Load(ctx context.Context, ssm SSMGetter) (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}

	secrets := []struct {
		param string
		dst   *string
	}{
		{env("SHOPIFY_API_SECRET_PARAM"), &cfg.ShopifyAPISecret},
		{env("TOKEN_ENC_KEY_PARAM"), &cfg.TokenEncKeyB64},
	}
	for _, s := range secrets {
		if s.param == "" {
			continue
		}
		v, err := getParameter(ctx, ssm, s.param)
		if err != nil {
			return Config{}, err
		}
		*s.dst = v
	}
	return cfg, nil
}

// Overlay applies a YAML file on top of cfg. Keys present in the file win.
func (cfg *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (cfg Config) IsProduction() bool {
	return cfg.Environment == "production"
}

// RedirectURI is the OAuth callback Shopify sends merchants back to.
func (cfg Config) RedirectURI() string {
	return cfg.AppURL + "/auth/callback"
}

func (cfg Config) WebhookAddress() string {
	return cfg.AppURL + "/webhooks"
}

// Validate reports settings every entry point needs.
func (cfg Config) Validate() error {
	var missing []string
	if cfg.ShopifyAPIKey == "" {
		missing = append(missing, "SHOPIFY_API_KEY")
	}
	if cfg.ShopifyAPISecret == "" {
		missing = append(missing, "SHOPIFY_API_SECRET")
	}
	if cfg.TokenEncKeyB64 == "" {
		missing = append(missing, "TOKEN_ENC_KEY_B64")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing config: %s", strings.Join(missing, ", "))
	}
	return nil
}
