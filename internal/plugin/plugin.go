// Package plugin exposes the profiling hooks a step daemon calls over one
// explicit per-process context object.
//
// A Plugin is driven from a single control thread and is not safe for
// concurrent use.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/szibis/profile-exporter/internal/config"
	"github.com/szibis/profile-exporter/internal/exporter"
	"github.com/szibis/profile-exporter/internal/logging"
	"github.com/szibis/profile-exporter/internal/profile"
	"github.com/szibis/profile-exporter/internal/schema"
)

// InfoType selects the value returned by Get.
type InfoType int

const (
	// InfoHost is the collector host string.
	InfoHost InfoType = iota
	// InfoDefault is the configured default profile.
	InfoDefault
	// InfoRunning is the profile resolved for the current step.
	InfoRunning
)

var (
	// ErrNoStep means a step hook ran before NodeStepStart.
	ErrNoStep = errors.New("no job step started")
	// ErrInvalidInfoType means Get was asked for an unknown value.
	ErrInvalidInfoType = errors.New("invalid info type")
)

// Step identifies the job step being profiled on this node.
type Step struct {
	JobID    uint32
	NodeName string
	// Profile is what the job requested; NotSet means no preference.
	Profile profile.Category
}

// Plugin holds the profiling state, schema registry and delivery client
// for one worker process.
type Plugin struct {
	cfg      *config.Config
	state    *profile.State
	registry *schema.Registry
	client   *exporter.Client

	step    *Step
	target  exporter.Target
	started time.Time
	inStep  atomic.Bool
}

// New validates cfg and builds a Plugin. Configuration errors are fatal
// for the caller.
func New(cfg *config.Config) (*Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	def, err := cfg.Default()
	if err != nil {
		return nil, err
	}
	client, err := exporter.New(cfg.ExporterConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery client: %w", err)
	}

	state := profile.NewState(def)
	logging.Debug("profile exporter loaded", logging.F(
		"host", cfg.Host,
		"default_profile", def.String(),
	))
	return &Plugin{
		cfg:      cfg,
		state:    state,
		registry: schema.NewRegistry(state),
		client:   client,
	}, nil
}

// ConfValues returns the operator-facing configuration report.
func (p *Plugin) ConfValues() []config.KeyPair {
	return p.cfg.ConfValues()
}

// NodeStepStart records the step and resolves the running profile.
func (p *Plugin) NodeStepStart(step Step) error {
	logging.Debug("node step start", logging.F(
		"job_id", step.JobID,
		"node", step.NodeName,
		"requested_profile", step.Profile.String(),
	))

	s := step
	p.step = &s
	p.target = exporter.Target{JobID: step.JobID, NodeName: step.NodeName}
	p.started = time.Now()
	p.inStep.Store(true)

	running := p.state.Resolve(step.Profile)
	stepsTotal.WithLabelValues(activeLabel(p.state.Enabled())).Inc()
	logging.Debug("profile resolved", logging.F(
		"job_id", step.JobID,
		"running_profile", running.String(),
		"active", p.state.Enabled(),
	))
	return nil
}

// ChildForked is called in the child after the step forks a task.
func (p *Plugin) ChildForked() error {
	return nil
}

// NodeStepEnd marks the end of the step. Series are removed per task in
// TaskEnd, so nothing is sent here.
func (p *Plugin) NodeStepEnd() error {
	if p.step == nil {
		return ErrNoStep
	}
	logging.Debug("node step end", logging.F(
		"job_id", p.step.JobID,
		"duration", time.Since(p.started).String(),
	))
	return nil
}

// TaskStart is called when a task of the step starts.
func (p *Plugin) TaskStart(taskID uint32) error {
	if p.step == nil {
		return ErrNoStep
	}
	logging.Debug("task start", logging.F(
		"task_id", taskID,
		"running_profile", p.state.Running().String(),
	))
	return nil
}

// TaskEnd removes the instance's series from the collector. Delivery
// failures are logged by the client and never returned.
func (p *Plugin) TaskEnd(ctx context.Context, pid int) error {
	if p.step == nil {
		logging.Debug("task end before step start, nothing to delete", logging.F("pid", pid))
		return nil
	}
	if err := p.client.Delete(ctx, p.target); err != nil {
		deliveryFailuresTotal.WithLabelValues("delete").Inc()
		logging.Debug("task series not deleted", logging.F(
			"pid", pid,
			"job_id", p.target.JobID,
			"error", err.Error(),
		))
	}
	return nil
}

// CreateGroup exists for hosts that group datasets; groups are not used.
func (p *Plugin) CreateGroup(name string) int64 {
	return 0
}

// CreateDataset registers a table and returns its handle. parent is ignored.
func (p *Plugin) CreateDataset(name string, parent int64, defs []schema.Field) (schema.Handle, error) {
	h, err := p.registry.CreateTable(name, defs)
	if err != nil {
		return schema.InvalidHandle, fmt.Errorf("create dataset %q: %w", name, err)
	}
	logging.Debug("dataset created", logging.F(
		"name", name,
		"handle", int(h),
		"fields", len(defs),
	))
	return h, nil
}

// AddSampleData encodes values against table h and pushes them. Encoding
// errors are returned. Delivery failures are logged and dropped so the
// workload never observes them. ts is accepted for interface parity; the
// collector stamps samples at push time.
func (p *Plugin) AddSampleData(ctx context.Context, h schema.Handle, values []schema.Value, ts time.Time) error {
	if p.step == nil {
		return ErrNoStep
	}
	payload, err := p.registry.Encode(h, values)
	if err != nil {
		return fmt.Errorf("add sample to dataset %d: %w", h, err)
	}

	if err := p.client.Push(ctx, p.target, payload); err != nil {
		deliveryFailuresTotal.WithLabelValues("push").Inc()
		return nil
	}
	samplesTotal.Inc()
	return nil
}

// IsActive reports whether category c is being profiled.
func (p *Plugin) IsActive(c profile.Category) bool {
	return p.state.IsActive(c)
}

// Get returns the value selected by info: a string for InfoHost, a
// profile.Category otherwise.
func (p *Plugin) Get(info InfoType) (any, error) {
	switch info {
	case InfoHost:
		return p.cfg.Host, nil
	case InfoDefault:
		return p.state.Default(), nil
	case InfoRunning:
		return p.state.Running(), nil
	default:
		logging.Debug("invalid info type requested", logging.F("info_type", int(info)))
		return nil, fmt.Errorf("%w: %d", ErrInvalidInfoType, info)
	}
}

// Close releases the delivery client and drops every table.
func (p *Plugin) Close() error {
	p.registry.Reset()
	p.step = nil
	p.inStep.Store(false)
	return p.client.Close()
}

// Ready reports ErrNoStep until a step starts. Unlike the hooks it may be
// called from any goroutine.
func (p *Plugin) Ready() error {
	if !p.inStep.Load() {
		return ErrNoStep
	}
	return nil
}

// CollectorStatus returns the error of the last push or delete, if any.
// It may be called from any goroutine.
func (p *Plugin) CollectorStatus() error {
	return p.client.LastError()
}

// Registry returns the schema registry, for hosts that look up tables.
func (p *Plugin) Registry() *schema.Registry {
	return p.registry
}

func activeLabel(active bool) string {
	if active {
		return "true"
	}
	return "false"
}
