// Package config assembles the exporter configuration from defaults, a YAML
// file, acct_gather.conf style options and command line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/szibis/profile-exporter/internal/auth"
	"github.com/szibis/profile-exporter/internal/compression"
	"github.com/szibis/profile-exporter/internal/exporter"
	"github.com/szibis/profile-exporter/internal/logging"
	"github.com/szibis/profile-exporter/internal/profile"
	"github.com/szibis/profile-exporter/internal/schema"
	tlspkg "github.com/szibis/profile-exporter/internal/tls"
)

// DebugFlagProfile turns on collector response and timing diagnostics.
const DebugFlagProfile = "profile"

// Config holds the exporter configuration.
type Config struct {
	// Collector
	Host           string
	DefaultProfile string
	Timeout        time.Duration
	Compression    string

	// Retry
	RetryMaxAttempts int
	RetryBackoff     time.Duration

	// TLS
	TLSEnabled            bool
	TLSCertFile           string
	TLSKeyFile            string
	TLSCAFile             string
	TLSInsecureSkipVerify bool
	TLSServerName         string

	// Auth
	AuthBearerToken   string
	AuthBasicUsername string
	AuthBasicPassword string
	AuthHeaders       map[string]string

	// HTTP client
	MaxIdleConns      int
	IdleConnTimeout   time.Duration
	DisableKeepAlives bool
	ForceHTTP2        bool

	// Logging
	LogLevel   string
	DebugFlags []string

	// Process
	StatsAddr        string
	MemoryLimitRatio float64

	// Step driven by the command line binary
	JobID      uint32
	NodeName   string
	JobProfile string
	Datasets   []DatasetConfig

	// Flags
	ShowHelp    bool
	ShowVersion bool
}

// DatasetConfig declares one table created at step start.
type DatasetConfig struct {
	Name   string        `yaml:"name"`
	Fields []FieldConfig `yaml:"fields"`
}

// FieldConfig declares one column of a dataset.
type FieldConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Definitions converts the dataset into schema field definitions.
func (d DatasetConfig) Definitions() ([]schema.Field, error) {
	defs := make([]schema.Field, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("dataset %q: field name is required", d.Name)
		}
		typ, err := schema.ParseFieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("dataset %q field %q: %w", d.Name, f.Name, err)
		}
		defs = append(defs, schema.Field{Name: f.Name, Type: typ})
	}
	return defs, nil
}

// KeyPair is one entry of the operator-facing configuration report.
type KeyPair struct {
	Name  string
	Value string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultProfile:   "all",
		Timeout:          10 * time.Second,
		Compression:      string(compression.TypeNone),
		RetryMaxAttempts: 1,
		RetryBackoff:     100 * time.Millisecond,
		IdleConnTimeout:  90 * time.Second,
		LogLevel:         "info",
		MemoryLimitRatio: 0.9,
		NodeName:         defaultNodeName(),
		JobProfile:       "notset",
	}
}

// Default returns the parsed default profile.
func (c *Config) Default() (profile.Category, error) {
	def, err := profile.Parse(c.DefaultProfile)
	if err != nil {
		return profile.NotSet, fmt.Errorf("%w: %q", ErrInvalidDefaultProfile, c.DefaultProfile)
	}
	return def, nil
}

// RequestedProfile returns the profile the driven job step asks for.
// "notset" and an empty value mean the step expresses no preference.
func (c *Config) RequestedProfile() (profile.Category, error) {
	switch strings.ToLower(strings.TrimSpace(c.JobProfile)) {
	case "", "notset":
		return profile.NotSet, nil
	}
	return profile.Parse(c.JobProfile)
}

// Verbose reports whether the profile debug flag is set.
func (c *Config) Verbose() bool {
	return slices.ContainsFunc(c.DebugFlags, func(f string) bool {
		return strings.EqualFold(strings.TrimSpace(f), DebugFlagProfile)
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, ErrMissingHost)
	} else if u, err := url.Parse(c.Host); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("host %q must be an http or https URL", c.Host))
	}

	if _, err := c.Default(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RequestedProfile(); err != nil {
		errs = append(errs, fmt.Errorf("job profile: %w", err))
	}
	if _, err := compression.ParseType(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be non-negative, got %s", c.Timeout))
	}
	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("retry max_attempts must be between 1 and 10, got %d", c.RetryMaxAttempts))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry backoff must be non-negative, got %s", c.RetryBackoff))
	}
	if c.MaxIdleConns < 0 {
		errs = append(errs, fmt.Errorf("http_client max_idle_conns must be non-negative, got %d", c.MaxIdleConns))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls cert_file and key_file must be set together"))
	}
	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		errs = append(errs, fmt.Errorf("memory_limit_ratio must be between 0 and 1, got %v", c.MemoryLimitRatio))
	}

	for i, d := range c.Datasets {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("datasets[%d]: name is required", i))
			continue
		}
		if _, err := d.Definitions(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ConfValues returns the operator-facing configuration report.
func (c *Config) ConfValues() []KeyPair {
	def := c.DefaultProfile
	if cat, err := c.Default(); err == nil {
		def = cat.String()
	}
	return []KeyPair{
		{Name: OptionHost, Value: c.Host},
		{Name: OptionDefault, Value: def},
	}
}

// ExporterTLSConfig returns the client TLS configuration.
func (c *Config) ExporterTLSConfig() tlspkg.ClientConfig {
	return tlspkg.ClientConfig{
		Enabled:            c.TLSEnabled,
		CertFile:           c.TLSCertFile,
		KeyFile:            c.TLSKeyFile,
		CAFile:             c.TLSCAFile,
		InsecureSkipVerify: c.TLSInsecureSkipVerify,
		ServerName:         c.TLSServerName,
	}
}

// ExporterAuthConfig returns the client auth configuration.
func (c *Config) ExporterAuthConfig() auth.ClientConfig {
	return auth.ClientConfig{
		BearerToken:       c.AuthBearerToken,
		BasicAuthUsername: c.AuthBasicUsername,
		BasicAuthPassword: c.AuthBasicPassword,
		Headers:           c.AuthHeaders,
	}
}

// ExporterConfig returns the delivery client configuration.
func (c *Config) ExporterConfig() exporter.Config {
	comp, _ := compression.ParseType(c.Compression)
	return exporter.Config{
		Host:        c.Host,
		Timeout:     c.Timeout,
		Verbose:     c.Verbose(),
		Compression: comp,
		Retry: exporter.RetryConfig{
			MaxAttempts: c.RetryMaxAttempts,
			Backoff:     c.RetryBackoff,
		},
		TLS:  c.ExporterTLSConfig(),
		Auth: c.ExporterAuthConfig(),
		HTTPClient: exporter.HTTPClientConfig{
			MaxIdleConns:      c.MaxIdleConns,
			IdleConnTimeout:   c.IdleConnTimeout,
			DisableKeepAlives: c.DisableKeepAlives,
			ForceAttemptHTTP2: c.ForceHTTP2,
		},
	}
}
