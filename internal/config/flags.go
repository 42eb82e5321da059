package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

var version = "dev"

// ErrUsage wraps command line syntax errors. The flag set has already
// printed them along with the usage text.
var ErrUsage = errors.New("invalid command line")

// Version returns the build version.
func Version() string {
	return version
}

// ParseFlags builds the configuration from args. Values are layered as
// defaults, then the -config YAML file, then the -options-file
// acct_gather.conf, then flags explicitly given on the command line.
func ParseFlags(args []string, stderr io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("profile-exporter", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { PrintUsage(stderr) }

	flagCfg := DefaultConfig()
	var configFile, optionsFile, headers, debugFlags string
	var jobID uint64

	// Files
	fs.StringVar(&configFile, "config", "", "Path to YAML configuration file")
	fs.StringVar(&optionsFile, "options-file", "", "Path to acct_gather.conf style options file")

	// Collector
	fs.StringVar(&flagCfg.Host, "host", "", "Collector base URL, e.g. http://collector:9091")
	fs.StringVar(&flagCfg.DefaultProfile, "default-profile", flagCfg.DefaultProfile, "Profile used when a step does not request one")
	fs.DurationVar(&flagCfg.Timeout, "timeout", flagCfg.Timeout, "Per-request timeout (0 disables)")
	fs.StringVar(&flagCfg.Compression, "compression", flagCfg.Compression, "Push body compression: none, gzip, zstd (Pushgateway decodes gzip only)")
	fs.IntVar(&flagCfg.RetryMaxAttempts, "retry-max-attempts", flagCfg.RetryMaxAttempts, "Attempts per request for retryable failures")
	fs.DurationVar(&flagCfg.RetryBackoff, "retry-backoff", flagCfg.RetryBackoff, "Pause between attempts")

	// TLS
	fs.BoolVar(&flagCfg.TLSEnabled, "tls-enabled", false, "Enable custom TLS config for the collector")
	fs.StringVar(&flagCfg.TLSCertFile, "tls-cert", "", "Path to client certificate file (mTLS)")
	fs.StringVar(&flagCfg.TLSKeyFile, "tls-key", "", "Path to client private key file (mTLS)")
	fs.StringVar(&flagCfg.TLSCAFile, "tls-ca", "", "Path to CA certificate for server verification")
	fs.BoolVar(&flagCfg.TLSInsecureSkipVerify, "tls-skip-verify", false, "Skip TLS certificate verification")
	fs.StringVar(&flagCfg.TLSServerName, "tls-server-name", "", "Override server name for TLS verification")

	// Auth
	fs.StringVar(&flagCfg.AuthBearerToken, "auth-bearer-token", "", "Bearer token for the collector")
	fs.StringVar(&flagCfg.AuthBasicUsername, "auth-basic-username", "", "Basic auth username for the collector")
	fs.StringVar(&flagCfg.AuthBasicPassword, "auth-basic-password", "", "Basic auth password for the collector")
	fs.StringVar(&headers, "auth-headers", "", "Custom headers (format: key1=value1,key2=value2)")

	// HTTP client
	fs.IntVar(&flagCfg.MaxIdleConns, "max-idle-conns", 0, "Maximum idle connections to the collector (0 = default)")
	fs.DurationVar(&flagCfg.IdleConnTimeout, "idle-conn-timeout", flagCfg.IdleConnTimeout, "Idle connection timeout")
	fs.BoolVar(&flagCfg.DisableKeepAlives, "disable-keep-alives", false, "Open a new connection per request")
	fs.BoolVar(&flagCfg.ForceHTTP2, "force-http2", false, "Force HTTP/2 to the collector")

	// Logging
	fs.StringVar(&flagCfg.LogLevel, "log-level", flagCfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&debugFlags, "debug-flags", "", "Comma separated debug flags (profile)")

	// Process
	fs.StringVar(&flagCfg.StatsAddr, "stats-addr", "", "Self-metrics listen address (empty disables)")
	fs.Float64Var(&flagCfg.MemoryLimitRatio, "memory-limit-ratio", flagCfg.MemoryLimitRatio, "GOMEMLIMIT as a ratio of the cgroup memory limit (0 disables)")

	// Step
	fs.Uint64Var(&jobID, "job-id", 0, "Job ID of the profiled step")
	fs.StringVar(&flagCfg.NodeName, "node-name", flagCfg.NodeName, "Node name of the profiled step")
	fs.StringVar(&flagCfg.JobProfile, "profile", flagCfg.JobProfile, "Profile requested by the step")

	// Flags
	fs.BoolVar(&flagCfg.ShowHelp, "help", false, "Show help message")
	fs.BoolVar(&flagCfg.ShowHelp, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&flagCfg.ShowVersion, "version", false, "Show version")
	fs.BoolVar(&flagCfg.ShowVersion, "v", false, "Show version (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if jobID > uint64(^uint32(0)) {
		return nil, fmt.Errorf("job-id %d out of range", jobID)
	}
	flagCfg.JobID = uint32(jobID)
	flagCfg.AuthHeaders = parseHeaders(headers)
	flagCfg.DebugFlags = splitList(debugFlags)

	base := *flagCfg
	cfg := &base
	if configFile != "" {
		yamlCfg, err := LoadYAML(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg = yamlCfg.ToConfig()
		cfg.ShowHelp = flagCfg.ShowHelp
		cfg.ShowVersion = flagCfg.ShowVersion
	}

	if optionsFile != "" {
		opts, err := LoadOptionsFile(optionsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load options file: %w", err)
		}
		// A host given only as a flag satisfies the options file check.
		applyFlagOverrides(fs, flagCfg, cfg)
		if err := cfg.FromOptions(opts); err != nil {
			return nil, err
		}
	}

	applyFlagOverrides(fs, flagCfg, cfg)
	return cfg, nil
}

// applyFlagOverrides copies explicitly set flags from src onto dst.
func applyFlagOverrides(fs *flag.FlagSet, src, dst *Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			dst.Host = src.Host
		case "default-profile":
			dst.DefaultProfile = src.DefaultProfile
		case "timeout":
			dst.Timeout = src.Timeout
		case "compression":
			dst.Compression = src.Compression
		case "retry-max-attempts":
			dst.RetryMaxAttempts = src.RetryMaxAttempts
		case "retry-backoff":
			dst.RetryBackoff = src.RetryBackoff
		case "tls-enabled":
			dst.TLSEnabled = src.TLSEnabled
		case "tls-cert":
			dst.TLSCertFile = src.TLSCertFile
		case "tls-key":
			dst.TLSKeyFile = src.TLSKeyFile
		case "tls-ca":
			dst.TLSCAFile = src.TLSCAFile
		case "tls-skip-verify":
			dst.TLSInsecureSkipVerify = src.TLSInsecureSkipVerify
		case "tls-server-name":
			dst.TLSServerName = src.TLSServerName
		case "auth-bearer-token":
			dst.AuthBearerToken = src.AuthBearerToken
		case "auth-basic-username":
			dst.AuthBasicUsername = src.AuthBasicUsername
		case "auth-basic-password":
			dst.AuthBasicPassword = src.AuthBasicPassword
		case "auth-headers":
			dst.AuthHeaders = src.AuthHeaders
		case "max-idle-conns":
			dst.MaxIdleConns = src.MaxIdleConns
		case "idle-conn-timeout":
			dst.IdleConnTimeout = src.IdleConnTimeout
		case "disable-keep-alives":
			dst.DisableKeepAlives = src.DisableKeepAlives
		case "force-http2":
			dst.ForceHTTP2 = src.ForceHTTP2
		case "log-level":
			dst.LogLevel = src.LogLevel
		case "debug-flags":
			dst.DebugFlags = src.DebugFlags
		case "stats-addr":
			dst.StatsAddr = src.StatsAddr
		case "memory-limit-ratio":
			dst.MemoryLimitRatio = src.MemoryLimitRatio
		case "job-id":
			dst.JobID = src.JobID
		case "node-name":
			dst.NodeName = src.NodeName
		case "profile":
			dst.JobProfile = src.JobProfile
		}
	})
}

func parseHeaders(s string) map[string]string {
	if s == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}
	return headers
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// defaultNodeName returns the short host name.
func defaultNodeName() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

// PrintUsage prints the usage message.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, `profile-exporter - push per-task profiling samples to a Prometheus Pushgateway

USAGE:
    profile-exporter [OPTIONS] < samples

DESCRIPTION:
    Profiles one job step on this node. Each stdin line "<dataset> <v1> <v2> ..."
    is encoded against the dataset declared in the config file and pushed to
    <host>/metrics/job/<job-id>/instance/<node-name>. The series are deleted
    when stdin closes.

OPTIONS:
    Configuration:
        -config <path>                   Path to YAML configuration file
        -options-file <path>             acct_gather.conf file (ProfilePrometheusHost, ProfilePrometheusDefault)
                                         CLI flags override file values

    Collector:
        -host <url>                      Collector base URL (required)
        -default-profile <profile>       Default profile: none, all, energy, task, lustre, network (default: all)
        -timeout <duration>              Per-request timeout (default: 10s)
        -compression <type>              none, gzip, zstd (default: none)
                                         A stock Pushgateway only decodes gzip bodies
        -retry-max-attempts <n>          Attempts for retryable failures (default: 1)
        -retry-backoff <duration>        Pause between attempts (default: 100ms)

    TLS:
        -tls-enabled                     Enable custom TLS config
        -tls-cert <path>                 Client certificate (mTLS)
        -tls-key <path>                  Client private key (mTLS)
        -tls-ca <path>                   CA certificate
        -tls-skip-verify                 Skip certificate verification
        -tls-server-name <name>          Override TLS server name

    Auth:
        -auth-bearer-token <token>       Bearer token
        -auth-basic-username <user>      Basic auth username
        -auth-basic-password <pass>      Basic auth password
        -auth-headers <k=v,...>          Custom headers

    HTTP client:
        -max-idle-conns <n>              Idle connections (default: 4)
        -idle-conn-timeout <duration>    Idle connection timeout (default: 90s)
        -disable-keep-alives             New connection per request
        -force-http2                     Force HTTP/2

    Logging:
        -log-level <level>               debug, info, warn, error (default: info)
        -debug-flags <flags>             Comma separated debug flags: profile

    Process:
        -stats-addr <addr>               Self-metrics listen address (default: disabled)
        -memory-limit-ratio <ratio>      GOMEMLIMIT ratio of cgroup limit (default: 0.9)

    Step:
        -job-id <id>                     Job ID
        -node-name <name>                Node name (default: short hostname)
        -profile <profile>               Requested profile (default: notset)

    General:
        -h, -help                        Show this help message
        -v, -version                     Show version

VERSION:
    %s
`, version)
}
