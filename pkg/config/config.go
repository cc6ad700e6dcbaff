// Package config loads the gateway configuration from a YAML or JSON file
// and TOKENGATE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const redacted = "***REDACTED***"

// Config is the complete gateway configuration.
type Config struct {
	LogLevel string `mapstructure:"logLevel" default:"info" validate:"oneof=debug info warn error all"`

	Credential Credential `mapstructure:"credential"`
	Signing    Signing    `mapstructure:"signing"`
	Trust      Trust      `mapstructure:"trust"`

	// PreflightMethods bypass authorization.
	PreflightMethods []string `mapstructure:"preflightMethods" default:"[\"OPTIONS\"]"`
	CORS             CORS     `mapstructure:"cors"`

	// Upstream receives authorized requests. Without one the gateway answers with the identity.
	Upstream  string     `mapstructure:"upstream" validate:"omitempty,url"`
	Resources []Resource `mapstructure:"resources" validate:"required,min=1,dive"`

	Tracing Tracing `mapstructure:"tracing"`
}

// Credential selects where the bearer credential is read from.
type Credential struct {
	Source string `mapstructure:"source" default:"header" validate:"oneof=header cookie"`
	Header string `mapstructure:"header" default:"Authorization" validate:"required_if=Source header"`
	Scheme string `mapstructure:"scheme" default:"Bearer" validate:"required_if=Source header"`
	Cookie string `mapstructure:"cookie" default:"access_token" validate:"required_if=Source cookie"`
}

// Signing pins the token signing algorithm.
type Signing struct {
	Algorithm string        `mapstructure:"algorithm" default:"RS256" validate:"oneof=RS256 RS384 RS512 PS256 PS384 PS512 ES256 ES384 ES512 EdDSA"`
	Leeway    time.Duration `mapstructure:"leeway" default:"30s" validate:"gte=0"`
}

// Trust configures how issuers map to key material.
type Trust struct {
	Strategy     string        `mapstructure:"strategy" default:"direct" validate:"oneof=direct keyserver discovery"`
	KeyServerURL string        `mapstructure:"keyServerURL" validate:"required_if=Strategy keyserver"`
	FetchTimeout time.Duration `mapstructure:"fetchTimeout" default:"5s" validate:"gte=0"`
	// FetchRate limits key fetches per issuer and second; zero disables the limit.
	FetchRate  float64 `mapstructure:"fetchRate" validate:"gte=0"`
	FetchBurst int     `mapstructure:"fetchBurst" default:"1" validate:"gte=1"`

	Auth    KeyServerAuth `mapstructure:"auth"`
	Issuers []Issuer      `mapstructure:"issuers" validate:"dive"`
}

// KeyServerAuth authenticates key fetches with OAuth2.
type KeyServerAuth struct {
	Grant        string   `mapstructure:"grant" validate:"omitempty,oneof=client_credentials password"`
	ClientID     string   `mapstructure:"clientID" validate:"required_with=Grant"`
	ClientSecret string   `mapstructure:"clientSecret"`
	TokenURL     string   `mapstructure:"tokenURL" validate:"omitempty,url"`
	Username     string   `mapstructure:"username" validate:"required_if=Grant password"`
	Password     string   `mapstructure:"password"`
	Scopes       []string `mapstructure:"scopes"`
	Audience     string   `mapstructure:"audience"`
}

// Issuer is one trust entry. An empty Key is accepted at load time and
// rejected as a configuration fault for every token of that issuer.
type Issuer struct {
	Issuer string `mapstructure:"issuer" validate:"required"`
	Key    string `mapstructure:"key"`
}

// Resource is a protected path prefix with its policy.
type Resource struct {
	Name     string `mapstructure:"name" validate:"required"`
	Path     string `mapstructure:"path" validate:"required,startswith=/"`
	Scope    string `mapstructure:"scope"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// CORS is disabled unless at least one origin is allowed.
type CORS struct {
	AllowedOrigins []string      `mapstructure:"allowedOrigins"`
	AllowedMethods []string      `mapstructure:"allowedMethods" default:"[\"GET\",\"HEAD\",\"POST\",\"PUT\",\"PATCH\",\"DELETE\"]"`
	AllowedHeaders []string      `mapstructure:"allowedHeaders" default:"[\"Authorization\",\"Content-Type\"]"`
	MaxAge         time.Duration `mapstructure:"maxAge" default:"10m"`
}

// Tracing configures the OpenTelemetry exporter.
type Tracing struct {
	ServiceName      string  `mapstructure:"serviceName" default:"tokengate"`
	Endpoint         string  `mapstructure:"endpoint"`
	EndpointType     string  `mapstructure:"endpointType" default:"agent" validate:"oneof=agent collector otel"`
	SamplingFraction float64 `mapstructure:"samplingFraction" default:"0.1" validate:"gte=0,lte=1"`
}

// envKeys may be set through the environment without appearing in the file.
var envKeys = []string{
	"logLevel",
	"upstream",
	"trust.strategy",
	"trust.keyServerURL",
	"trust.auth.clientSecret",
	"trust.auth.password",
	"tracing.endpoint",
}

// Load reads path (if set) and the environment into a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOKENGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "bind env for %s", key)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "set config defaults")
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	names := map[string]struct{}{}
	paths := map[string]struct{}{}
	for _, r := range c.Resources {
		if _, ok := names[r.Name]; ok {
			return fmt.Errorf("invalid config: duplicate resource name %q", r.Name)
		}
		names[r.Name] = struct{}{}
		if _, ok := paths[r.Path]; ok {
			return fmt.Errorf("invalid config: duplicate resource path %q", r.Path)
		}
		paths[r.Path] = struct{}{}
		if strings.ContainsAny(r.Scope, " \t\n") {
			return fmt.Errorf("invalid config: resource %q must require a single scope, got %q", r.Name, r.Scope)
		}
	}

	if strings.ContainsAny(c.Credential.Scheme, " \t") {
		return fmt.Errorf("invalid config: credential scheme %q contains whitespace", c.Credential.Scheme)
	}

	issuers := map[string]struct{}{}
	for _, i := range c.Trust.Issuers {
		if _, ok := issuers[i.Issuer]; ok {
			return fmt.Errorf("invalid config: duplicate trust entry for issuer %q", i.Issuer)
		}
		issuers[i.Issuer] = struct{}{}
	}

	if auth := c.Trust.Auth; auth.Grant != "" {
		if auth.TokenURL == "" {
			return fmt.Errorf("invalid config: the %s grant needs a token URL", auth.Grant)
		}
		if auth.Grant == "client_credentials" && auth.ClientSecret == "" {
			return errors.New("invalid config: the client_credentials grant needs a client secret")
		}
	}
	return nil
}

// TrustEntries returns the issuer to key-location mapping.
func (c *Config) TrustEntries() map[string]string {
	m := make(map[string]string, len(c.Trust.Issuers))
	for _, i := range c.Trust.Issuers {
		m[i.Issuer] = i.Key
	}
	return m
}

// EmptyTrustEntries lists issuers configured without a key location.
func (c *Config) EmptyTrustEntries() []string {
	var out []string
	for _, i := range c.Trust.Issuers {
		if strings.TrimSpace(i.Key) == "" {
			out = append(out, i.Issuer)
		}
	}
	return out
}

// Resource looks up a resource by name.
func (c *Config) Resource(name string) (Resource, bool) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

// String renders the config with secrets redacted.
func (c *Config) String() string {
	cp := *c
	if cp.Trust.Auth.ClientSecret != "" {
		cp.Trust.Auth.ClientSecret = redacted
	}
	if cp.Trust.Auth.Password != "" {
		cp.Trust.Auth.Password = redacted
	}
	return fmt.Sprintf("%+v", cp)
}
