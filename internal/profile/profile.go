// Package profile defines the profiling categories a job step can request
// and the per-step state that gates every sampling operation.
package profile

import (
	"errors"
	"fmt"
	"strings"
)

// Category is a set of independent profiling flags.
//
// The numeric order matters: anything at or below None means profiling is
// off for the step.
type Category uint32

const (
	// NotSet is the unset sentinel. As an IsActive query it matches any
	// enabled category.
	NotSet  Category = 0x00000000
	None    Category = 0x00000001
	Energy  Category = 0x00000002
	Task    Category = 0x00000004
	Lustre  Category = 0x00000008
	Network Category = 0x00000010
	All     Category = 0xffffffff
)

// ErrUnknownCategory is returned by Parse for unrecognised names.
var ErrUnknownCategory = errors.New("unknown profile category")

var flagNames = []struct {
	flag Category
	name string
}{
	{Energy, "Energy"},
	{Task, "Task"},
	{Lustre, "Lustre"},
	{Network, "Network"},
}

// Parse parses a comma separated, case-insensitive list such as
// "task,energy". "none" and "all" must appear alone.
func Parse(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NotSet, fmt.Errorf("%w: empty", ErrUnknownCategory)
	}

	var c Category
	parts := strings.Split(s, ",")
	for _, part := range parts {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "none":
			if len(parts) > 1 {
				return NotSet, fmt.Errorf("%w: %q cannot be combined", ErrUnknownCategory, "none")
			}
			return None, nil
		case "all":
			if len(parts) > 1 {
				return NotSet, fmt.Errorf("%w: %q cannot be combined", ErrUnknownCategory, "all")
			}
			return All, nil
		case "energy":
			c |= Energy
		case "task":
			c |= Task
		case "lustre", "filesystem":
			c |= Lustre
		case "network":
			c |= Network
		default:
			return NotSet, fmt.Errorf("%w: %q", ErrUnknownCategory, part)
		}
	}
	return c, nil
}

// String formats the category the way operators write it in configs.
func (c Category) String() string {
	switch c {
	case NotSet:
		return "NotSet"
	case None:
		return "None"
	case All:
		return "All"
	}

	var names []string
	for _, f := range flagNames {
		if c&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Category(%#x)", uint32(c))
	}
	return strings.Join(names, ",")
}

// State is the profiling state of one worker process.
//
// Once resolved, the running category is sticky: later steps handled by the
// same State keep it. State is not safe for concurrent use.
type State struct {
	def     Category
	running Category
}

// NewState returns a State that falls back to def when neither a previous
// resolution nor the job request decides.
func NewState(def Category) *State {
	return &State{def: def}
}

// Resolve latches and returns the running category for a step.
func (s *State) Resolve(requested Category) Category {
	switch {
	case s.running != NotSet:
	case requested >= None:
		s.running = requested
	default:
		s.running = s.def
	}
	return s.running
}

// Override forces the running category, as a runtime-level override would.
func (s *State) Override(c Category) {
	s.running = c
}

// Running returns the resolved category, NotSet before the first Resolve.
func (s *State) Running() Category {
	return s.running
}

// Default returns the configured fallback category.
func (s *State) Default() Category {
	return s.def
}

// Enabled reports whether any profiling is on.
func (s *State) Enabled() bool {
	return s.running > None
}

// IsActive reports whether category c is being collected. NotSet asks
// whether anything is.
func (s *State) IsActive(c Category) bool {
	if !s.Enabled() {
		return false
	}
	return c == NotSet || s.running&c != 0
}
