// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the gateway configuration and
// the logic required to load and validate it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/tokengate/pkg/token"
)

// EnvPrefix prefixes environment overrides, e.g. TOKENGATE_REDIS_ADDR.
const EnvPrefix = "TOKENGATE"

// Defaults applied before the file is read.
const (
	DefaultRealm         = "tokengate"
	DefaultListen        = ":8080"
	DefaultCookieName    = "tokengate"
	DefaultKeyPrefix     = "tokengate:"
	DefaultDatabasePath  = "tokengate.db"
	DefaultReadCacheSize = 10000
	DefaultReadCacheTTL  = 5 * time.Second
	DefaultSweepInterval = 5 * time.Minute
)

const keyDelimiter = "::"

// redacted replaces inline secrets in printed configuration.
const redacted = "REDACTED"

// Config is the gateway configuration.
type Config struct {
	Realm          string `mapstructure:"realm" yaml:"realm"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	Listen         string `mapstructure:"listen" yaml:"listen"`
	MetricsListen  string `mapstructure:"metrics_listen" yaml:"metrics_listen,omitempty"`
	CookieName     string `mapstructure:"cookie_name" yaml:"cookie_name"`
	InsecureCookie bool   `mapstructure:"insecure_cookie" yaml:"insecure_cookie,omitempty"`
	AfterLogoutURL string `mapstructure:"after_logout_url" yaml:"after_logout_url,omitempty"`

	// SessionSecretFile holds the key used to fingerprint token secrets.
	SessionSecretFile string `mapstructure:"session_secret_file" yaml:"session_secret_file"`

	Redis        RedisConfig `mapstructure:"redis" yaml:"redis"`
	DatabasePath string      `mapstructure:"database_path" yaml:"database_path"`

	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	LDAP      *LDAPConfig     `mapstructure:"ldap" yaml:"ldap,omitempty"`

	// GroupMapping maps a scope to the groups that grant it.
	GroupMapping map[string][]string `mapstructure:"group_mapping" yaml:"group_mapping"`
	// KnownScopes describes every scope. When set, GroupMapping may only
	// name known scopes.
	KnownScopes map[string]string `mapstructure:"known_scopes" yaml:"known_scopes,omitempty"`

	Lifetimes Lifetimes `mapstructure:"lifetimes" yaml:"lifetimes"`

	ReadCacheSize int           `mapstructure:"read_cache_size" yaml:"read_cache_size"`
	ReadCacheTTL  time.Duration `mapstructure:"read_cache_ttl" yaml:"read_cache_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// CABundle is an extra CA bundle for provider connections.
	CABundle string `mapstructure:"ca_bundle" yaml:"ca_bundle,omitempty"`
	// AllowPrivateIPs lets provider connections reach private addresses,
	// e.g. an in-cluster identity provider.
	AllowPrivateIPs bool `mapstructure:"allow_private_ips" yaml:"allow_private_ips,omitempty"`
}

// RedisConfig configures the token store.
type RedisConfig struct {
	Addr           string          `mapstructure:"addr" yaml:"addr,omitempty"`
	Sentinel       *SentinelConfig `mapstructure:"sentinel" yaml:"sentinel,omitempty"`
	Username       string          `mapstructure:"username" yaml:"username,omitempty"`
	Password       string          `mapstructure:"password" yaml:"password,omitempty"`
	DB             int             `mapstructure:"db" yaml:"db"`
	KeyPrefix      string          `mapstructure:"key_prefix" yaml:"key_prefix"`
	ConnectRetries uint            `mapstructure:"connect_retries" yaml:"connect_retries,omitempty"`
	Timeouts       RedisTimeouts   `mapstructure:"timeouts" yaml:"timeouts"`
}

// SentinelConfig enables Redis Sentinel failover.
type SentinelConfig struct {
	Master string   `mapstructure:"master" yaml:"master"`
	Addrs  []string `mapstructure:"addrs" yaml:"addrs"`
}

// RedisTimeouts overrides the Redis client timeouts. Zero keeps the
// store defaults.
type RedisTimeouts struct {
	Dial      time.Duration `mapstructure:"dial" yaml:"dial,omitempty"`
	Read      time.Duration `mapstructure:"read" yaml:"read,omitempty"`
	Write     time.Duration `mapstructure:"write" yaml:"write,omitempty"`
	Operation time.Duration `mapstructure:"operation" yaml:"operation,omitempty"`
}

// ProvidersConfig configures the login providers.
type ProvidersConfig struct {
	// Default is used when a login request names no provider.
	Default string        `mapstructure:"default" yaml:"default,omitempty"`
	GitHub  *GitHubConfig `mapstructure:"github" yaml:"github,omitempty"`
	OIDC    *OIDCConfig   `mapstructure:"oidc" yaml:"oidc,omitempty"`
}

// GitHubConfig configures GitHub login.
type GitHubConfig struct {
	ClientID         string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecretFile string `mapstructure:"client_secret_file" yaml:"client_secret_file"`
	// RedirectURL defaults to <base_url>/login/callback.
	RedirectURL string `mapstructure:"redirect_url" yaml:"redirect_url,omitempty"`
}

// OIDCConfig configures OpenID Connect login.
type OIDCConfig struct {
	Issuer           string   `mapstructure:"issuer" yaml:"issuer"`
	ClientID         string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecretFile string   `mapstructure:"client_secret_file" yaml:"client_secret_file,omitempty"`
	RedirectURL      string   `mapstructure:"redirect_url" yaml:"redirect_url,omitempty"`
	Scopes           []string `mapstructure:"scopes" yaml:"scopes,omitempty"`
	UsernameClaim    string   `mapstructure:"username_claim" yaml:"username_claim,omitempty"`
	GroupsClaim      string   `mapstructure:"groups_claim" yaml:"groups_claim,omitempty"`
	UIDClaim         string   `mapstructure:"uid_claim" yaml:"uid_claim,omitempty"`
}

// LDAPConfig configures group enrichment from a directory.
type LDAPConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	BindDN           string        `mapstructure:"bind_dn" yaml:"bind_dn,omitempty"`
	BindPasswordFile string        `mapstructure:"bind_password_file" yaml:"bind_password_file,omitempty"`
	GroupBaseDN      string        `mapstructure:"group_base_dn" yaml:"group_base_dn"`
	GroupFilter      string        `mapstructure:"group_filter" yaml:"group_filter,omitempty"`
	GroupNameAttr    string        `mapstructure:"group_name_attr" yaml:"group_name_attr,omitempty"`
	UserBaseDN       string        `mapstructure:"user_base_dn" yaml:"user_base_dn,omitempty"`
	UIDAttribute     string        `mapstructure:"uid_attribute" yaml:"uid_attribute,omitempty"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// Lifetimes configures token lifetimes. Zero keeps the issuer defaults,
// except UserMax where zero allows tokens that never expire.
type Lifetimes struct {
	Session  time.Duration `mapstructure:"session" yaml:"session,omitempty"`
	UserMax  time.Duration `mapstructure:"user_max" yaml:"user_max,omitempty"`
	Notebook time.Duration `mapstructure:"notebook" yaml:"notebook,omitempty"`
	Internal time.Duration `mapstructure:"internal" yaml:"internal,omitempty"`
}

// Load reads the YAML file at path and applies TOKENGATE_ environment
// overrides. It does not validate the result.
func Load(path string) (*Config, error) {
	// Scopes may contain dots, so they cannot be the key delimiter.
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("realm", DefaultRealm)
	v.SetDefault("base_url", "")
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("metrics_listen", "")
	v.SetDefault("cookie_name", DefaultCookieName)
	v.SetDefault("after_logout_url", "")
	v.SetDefault("session_secret_file", "")
	v.SetDefault("redis::addr", "")
	v.SetDefault("redis::username", "")
	v.SetDefault("redis::password", "")
	v.SetDefault("redis::db", 0)
	v.SetDefault("redis::key_prefix", DefaultKeyPrefix)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("read_cache_size", DefaultReadCacheSize)
	v.SetDefault("read_cache_ttl", DefaultReadCacheTTL)
	v.SetDefault("sweep_interval", DefaultSweepInterval)
	v.SetDefault("ca_bundle", "")
	v.SetDefault("allow_private_ips", false)
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Realm == "" {
		errs = append(errs, errors.New("realm is required"))
	}
	if err := validateAbsoluteURL("base_url", c.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.AfterLogoutURL != "" {
		if err := validateAbsoluteURL("after_logout_url", c.AfterLogoutURL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.CookieName == "" {
		errs = append(errs, errors.New("cookie_name is required"))
	}
	if c.SessionSecretFile == "" {
		errs = append(errs, errors.New("session_secret_file is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}

	errs = append(errs, c.Redis.validate()...)
	errs = append(errs, c.Providers.validate()...)
	if c.LDAP != nil {
		if c.LDAP.URL == "" {
			errs = append(errs, errors.New("ldap.url is required"))
		}
		if c.LDAP.GroupBaseDN == "" {
			errs = append(errs, errors.New("ldap.group_base_dn is required"))
		}
		if c.LDAP.GroupFilter != "" && !strings.Contains(c.LDAP.GroupFilter, "{username}") {
			errs = append(errs, errors.New("ldap.group_filter must contain {username}"))
		}
	}

	for scope := range c.KnownScopes {
		if err := token.ValidateScope(scope); err != nil {
			errs = append(errs, fmt.Errorf("known_scopes: %w", err))
		}
	}
	for scope, groups := range c.GroupMapping {
		if err := token.ValidateScope(scope); err != nil {
			errs = append(errs, fmt.Errorf("group_mapping: %w", err))
			continue
		}
		if len(c.KnownScopes) > 0 {
			if _, ok := c.KnownScopes[scope]; !ok {
				errs = append(errs, fmt.Errorf("group_mapping: scope %q is not in known_scopes", scope))
			}
		}
		if len(groups) == 0 {
			errs = append(errs, fmt.Errorf("group_mapping: scope %q has no groups", scope))
		}
	}

	for name, d := range map[string]time.Duration{
		"lifetimes.session":  c.Lifetimes.Session,
		"lifetimes.user_max": c.Lifetimes.UserMax,
		"lifetimes.notebook": c.Lifetimes.Notebook,
		"lifetimes.internal": c.Lifetimes.Internal,
		"read_cache_ttl":     c.ReadCacheTTL,
		"sweep_interval":     c.SweepInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.ReadCacheSize < 0 {
		errs = append(errs, errors.New("read_cache_size must not be negative"))
	}

	return errors.Join(errs...)
}

func (r *RedisConfig) validate() []error {
	var errs []error
	switch {
	case r.Sentinel != nil:
		if r.Sentinel.Master == "" {
			errs = append(errs, errors.New("redis.sentinel.master is required"))
		}
		if len(r.Sentinel.Addrs) == 0 {
			errs = append(errs, errors.New("redis.sentinel.addrs is required"))
		}
	case r.Addr == "":
		errs = append(errs, errors.New("redis.addr or redis.sentinel is required"))
	}
	if r.DB < 0 {
		errs = append(errs, errors.New("redis.db must not be negative"))
	}
	return errs
}

func (p *ProvidersConfig) validate() []error {
	var errs []error
	if p.GitHub == nil && p.OIDC == nil {
		errs = append(errs, errors.New("at least one login provider is required"))
	}
	if p.GitHub != nil {
		if p.GitHub.ClientID == "" {
			errs = append(errs, errors.New("providers.github.client_id is required"))
		}
		if p.GitHub.ClientSecretFile == "" {
			errs = append(errs, errors.New("providers.github.client_secret_file is required"))
		}
	}
	if p.OIDC != nil {
		if p.OIDC.Issuer == "" {
			errs = append(errs, errors.New("providers.oidc.issuer is required"))
		}
		if p.OIDC.ClientID == "" {
			errs = append(errs, errors.New("providers.oidc.client_id is required"))
		}
	}
	switch p.Default {
	case "":
	case ProviderGitHub:
		if p.GitHub == nil {
			errs = append(errs, errors.New("providers.default names github, which is not configured"))
		}
	case ProviderOIDC:
		if p.OIDC == nil {
			errs = append(errs, errors.New("providers.default names oidc, which is not configured"))
		}
	default:
		errs = append(errs, fmt.Errorf("providers.default: unknown provider %q", p.Default))
	}
	return errs
}

// Provider names.
const (
	ProviderGitHub = "github"
	ProviderOIDC   = "oidc"
)

// RedirectURL returns the provider callback URL: configured, or the
// gateway's /login/callback.
func (c *Config) RedirectURL(configured string) string {
	if configured != "" {
		return configured
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	return u.JoinPath("/login/callback").String()
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Redis.Password != "" {
		out.Redis.Password = redacted
	}
	return &out
}

func validateAbsoluteURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http or https URL", name)
	}
	return nil
}

// ReadSecretFile reads a secret from path, trimming surrounding
// whitespace.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}
