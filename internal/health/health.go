// Package health serves liveness and readiness probes for the exporter's
// stats endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the state of the process or one component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentCheck is the reported state of one component.
type ComponentCheck struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body of both probes.
type Response struct {
	Status     Status           `json:"status"`
	Components []ComponentCheck `json:"components,omitempty"`
	Timestamp  string           `json:"timestamp"`
}

// CheckFunc returns nil when the component is ready.
type CheckFunc func() error

// Checker aggregates readiness checks. It is safe for concurrent use.
type Checker struct {
	mu       sync.RWMutex
	checks   map[string]CheckFunc
	stopping atomic.Bool
}

// New creates an empty Checker.
func New() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// Register adds or replaces a named readiness check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// SetShuttingDown makes both probes report down.
func (c *Checker) SetShuttingDown() {
	c.stopping.Store(true)
}

// LiveHandler reports up until shutdown starts.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.stopping.Load() {
			c.write(w, StatusDown, []ComponentCheck{{Name: "process", Status: StatusDown, Message: "shutting down"}})
			return
		}
		c.write(w, StatusUp, nil)
	}
}

// ReadyHandler runs every registered check. Any failure reports down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.stopping.Load() {
			c.write(w, StatusDown, []ComponentCheck{{Name: "process", Status: StatusDown, Message: "shutting down"}})
			return
		}
		status, components := c.evaluate()
		c.write(w, status, components)
	}
}

// evaluate runs the checks in name order.
func (c *Checker) evaluate() (Status, []ComponentCheck) {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make([]CheckFunc, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		checks = append(checks, c.checks[name])
	}
	c.mu.RUnlock()

	overall := StatusUp
	components := make([]ComponentCheck, len(names))
	for i, check := range checks {
		components[i] = ComponentCheck{Name: names[i], Status: StatusUp}
		if err := check(); err != nil {
			overall = StatusDown
			components[i].Status = StatusDown
			components[i].Message = err.Error()
		}
	}
	return overall, components
}

func (c *Checker) write(w http.ResponseWriter, status Status, components []ComponentCheck) {
	code := http.StatusOK
	if status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:     status,
		Components: components,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}
