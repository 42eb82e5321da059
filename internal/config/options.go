package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/szibis/profile-exporter/internal/profile"
)

// Option names read from acct_gather.conf.
const (
	OptionHost    = "ProfilePrometheusHost"
	OptionDefault = "ProfilePrometheusDefault"
)

var (
	// ErrMissingHost means no collector host was configured.
	ErrMissingHost = errors.New("no " + OptionHost + " configured, it is required to push profiling samples")
	// ErrInvalidDefaultProfile means the default profile is not a known category.
	ErrInvalidDefaultProfile = errors.New(OptionDefault + " is not a valid profile")
)

// Options returns the option names this exporter declares.
func Options() []string {
	return []string{OptionHost, OptionDefault}
}

// ParseOptions reads Key=Value lines. Blank lines and # comments are
// skipped and keys are matched case-insensitively against Options, so
// options of other plugins sharing the file pass through untouched.
func ParseOptions(r io.Reader) (map[string]string, error) {
	opts := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected Key=Value, got %q", lineNo, line)
		}
		key = canonicalOption(strings.TrimSpace(key))
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}
		opts[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return opts, nil
}

// LoadOptionsFile reads an acct_gather.conf style file.
func LoadOptionsFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	opts, err := ParseOptions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// FromOptions applies the declared options on top of c. A missing host or
// an unrecognised default profile is fatal for the exporter.
func (c *Config) FromOptions(opts map[string]string) error {
	if host, ok := opts[OptionHost]; ok && host != "" {
		c.Host = host
	}
	if def, ok := opts[OptionDefault]; ok {
		cat, err := profile.Parse(def)
		if err != nil || cat == profile.NotSet {
			return fmt.Errorf("%w: %q", ErrInvalidDefaultProfile, def)
		}
		c.DefaultProfile = def
	}
	if strings.TrimSpace(c.Host) == "" {
		return ErrMissingHost
	}
	return nil
}

func canonicalOption(key string) string {
	for _, name := range Options() {
		if strings.EqualFold(key, name) {
			return name
		}
	}
	return key
}
