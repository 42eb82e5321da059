package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig is the on-disk configuration file layout.
type YAMLConfig struct {
	Host             string          `yaml:"host"`
	DefaultProfile   string          `yaml:"default_profile"`
	DebugFlags       []string        `yaml:"debug_flags"`
	LogLevel         string          `yaml:"log_level"`
	Timeout          *Duration       `yaml:"timeout"`
	Compression      string          `yaml:"compression"`
	Retry            RetryYAMLConfig `yaml:"retry"`
	TLS              TLSYAMLConfig   `yaml:"tls"`
	Auth             AuthYAMLConfig  `yaml:"auth"`
	HTTPClient       HTTPClientYAML  `yaml:"http_client"`
	StatsAddr        string          `yaml:"stats_addr"`
	MemoryLimitRatio *float64        `yaml:"memory_limit_ratio"`
	Step             StepYAMLConfig  `yaml:"step"`
	Datasets         []DatasetConfig `yaml:"datasets"`
}

// RetryYAMLConfig holds immediate retry settings.
type RetryYAMLConfig struct {
	MaxAttempts int       `yaml:"max_attempts"`
	Backoff     *Duration `yaml:"backoff"`
}

// TLSYAMLConfig holds client TLS settings.
type TLSYAMLConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name"`
}

// AuthYAMLConfig holds collector authentication settings.
type AuthYAMLConfig struct {
	BearerToken   string            `yaml:"bearer_token"`
	BasicUsername string            `yaml:"basic_username"`
	BasicPassword string            `yaml:"basic_password"`
	Headers       map[string]string `yaml:"headers"`
}

// HTTPClientYAML holds connection pool settings.
type HTTPClientYAML struct {
	MaxIdleConns      int      `yaml:"max_idle_conns"`
	IdleConnTimeout   Duration `yaml:"idle_conn_timeout"`
	DisableKeepAlives bool     `yaml:"disable_keep_alives"`
	ForceHTTP2        bool     `yaml:"force_http2"`
}

// StepYAMLConfig describes the job step driven by the binary.
type StepYAMLConfig struct {
	JobID    uint32 `yaml:"job_id"`
	NodeName string `yaml:"node_name"`
	Profile  string `yaml:"profile"`
}

// Duration is a time.Duration that unmarshals from strings like "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration and fills in defaults.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields with DefaultConfig values. An explicit
// zero timeout or backoff is kept.
func (y *YAMLConfig) ApplyDefaults() {
	def := DefaultConfig()

	if y.DefaultProfile == "" {
		y.DefaultProfile = def.DefaultProfile
	}
	if y.LogLevel == "" {
		y.LogLevel = def.LogLevel
	}
	if y.Timeout == nil {
		timeout := Duration(def.Timeout)
		y.Timeout = &timeout
	}
	if y.Compression == "" {
		y.Compression = def.Compression
	}
	if y.Retry.MaxAttempts == 0 {
		y.Retry.MaxAttempts = def.RetryMaxAttempts
	}
	if y.Retry.Backoff == nil {
		backoff := Duration(def.RetryBackoff)
		y.Retry.Backoff = &backoff
	}
	if y.HTTPClient.IdleConnTimeout == 0 {
		y.HTTPClient.IdleConnTimeout = Duration(def.IdleConnTimeout)
	}
	if y.MemoryLimitRatio == nil {
		ratio := def.MemoryLimitRatio
		y.MemoryLimitRatio = &ratio
	}
	if y.Step.NodeName == "" {
		y.Step.NodeName = def.NodeName
	}
	if y.Step.Profile == "" {
		y.Step.Profile = def.JobProfile
	}
}

// ToConfig converts YAMLConfig to the flat Config struct.
func (y *YAMLConfig) ToConfig() *Config {
	cfg := &Config{
		Host:           y.Host,
		DefaultProfile: y.DefaultProfile,
		Timeout:        time.Duration(*y.Timeout),
		Compression:    y.Compression,

		RetryMaxAttempts: y.Retry.MaxAttempts,
		RetryBackoff:     time.Duration(*y.Retry.Backoff),

		TLSEnabled:            y.TLS.Enabled,
		TLSCertFile:           y.TLS.CertFile,
		TLSKeyFile:            y.TLS.KeyFile,
		TLSCAFile:             y.TLS.CAFile,
		TLSInsecureSkipVerify: y.TLS.InsecureSkipVerify,
		TLSServerName:         y.TLS.ServerName,

		AuthBearerToken:   y.Auth.BearerToken,
		AuthBasicUsername: y.Auth.BasicUsername,
		AuthBasicPassword: y.Auth.BasicPassword,
		AuthHeaders:       y.Auth.Headers,

		MaxIdleConns:      y.HTTPClient.MaxIdleConns,
		IdleConnTimeout:   time.Duration(y.HTTPClient.IdleConnTimeout),
		DisableKeepAlives: y.HTTPClient.DisableKeepAlives,
		ForceHTTP2:        y.HTTPClient.ForceHTTP2,

		LogLevel:   y.LogLevel,
		DebugFlags: y.DebugFlags,

		StatsAddr:        y.StatsAddr,
		MemoryLimitRatio: *y.MemoryLimitRatio,

		JobID:      y.Step.JobID,
		NodeName:   y.Step.NodeName,
		JobProfile: y.Step.Profile,
		Datasets:   y.Datasets,
	}
	return cfg
}
