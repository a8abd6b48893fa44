// Package host holds the state the extension exposes to the agent
// runtime: instructions, active function schemas, callable functions,
// lifecycle hooks and the error sink.
//
// The reconciliation loop is the only writer of instructions and
// schemas. Transports (HTTP, websocket, MQTT) read through [State] and
// [Extension.Subscribe].
package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/thane-openhab/internal/events"
	"github.com/nugget/thane-openhab/internal/tools"
)

// Parameter describes a runtime setting the operator supplies.
type Parameter struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Type           string   `json:"type"`
	PossibleValues []string `json:"possible_values,omitempty"`
}

// Manifest is the static description of the extension.
type Manifest struct {
	Name              string      `json:"name"`
	Website           string      `json:"website,omitempty"`
	Category          string      `json:"category,omitempty"`
	Icon              string      `json:"icon,omitempty"`
	Features          []string    `json:"features,omitempty"`
	InstallationSteps []string    `json:"installation_steps,omitempty"`
	Parameters        []Parameter `json:"parameters,omitempty"`
}

// State is a point-in-time copy of everything the extension publishes.
type State struct {
	Enabled         bool           `json:"enabled"`
	Instructions    string         `json:"instructions"`
	Functions       []tools.Schema `json:"functions"`
	Errors          []string       `json:"errors"`
	SoftwareVersion string         `json:"software_version,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Extension is the host-facing surface. All methods are safe for
// concurrent use.
type Extension struct {
	manifest Manifest
	logger   *slog.Logger

	mu              sync.RWMutex
	enabled         bool
	instructions    string
	schemas         []tools.Schema
	registry        *tools.Registry
	errors          []string
	softwareVersion string
	updatedAt       time.Time
	bootHooks       []func()
	enableHooks     []func()
	subscribers     map[string]chan State
	events          *events.Bus
}

// New creates an extension. It starts disabled unless enabled is true.
func New(manifest Manifest, enabled bool, logger *slog.Logger) *Extension {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extension{
		manifest:    manifest,
		logger:      logger,
		enabled:     enabled,
		schemas:     []tools.Schema{},
		errors:      []string{},
		updatedAt:   time.Now(),
		subscribers: make(map[string]chan State),
	}
}

// SetEventBus publishes a lifecycle event on every boot, enable and
// disable.
func (e *Extension) SetEventBus(bus *events.Bus) {
	e.mu.Lock()
	e.events = bus
	e.mu.Unlock()
}

func (e *Extension) emitLifecycle(event string) {
	e.mu.RLock()
	bus, enabled := e.events, e.enabled
	e.mu.RUnlock()
	bus.Emit(events.SourceHost, events.KindLifecycle, map[string]any{
		"event":   event,
		"enabled": enabled,
	})
}

// Manifest returns the static description.
func (e *Extension) Manifest() Manifest {
	return e.manifest
}

// SetInstructions replaces the published instruction text.
func (e *Extension) SetInstructions(text string) {
	e.update(func() { e.instructions = text })
}

// Instructions returns the published instruction text.
func (e *Extension) Instructions() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instructions
}

// SetFunctionSchemas replaces the set of active function schemas.
func (e *Extension) SetFunctionSchemas(schemas []tools.Schema) {
	cp := append([]tools.Schema{}, schemas...)
	e.update(func() { e.schemas = cp })
}

// FunctionSchemas returns the active function schemas.
func (e *Extension) FunctionSchemas() []tools.Schema {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]tools.Schema{}, e.schemas...)
}

// SetFunctions installs the registry backing [Extension.Call].
func (e *Extension) SetFunctions(reg *tools.Registry) {
	e.mu.Lock()
	e.registry = reg
	e.mu.Unlock()
}

// Call invokes a function by name. Only functions whose schema is
// currently active can be called.
func (e *Extension) Call(ctx context.Context, name, argsJSON string) (string, error) {
	e.mu.RLock()
	reg := e.registry
	active := false
	for _, s := range e.schemas {
		if s.Name == name {
			active = true
			break
		}
	}
	e.mu.RUnlock()

	if !active || reg == nil {
		return "", &tools.ErrToolUnavailable{ToolName: name}
	}

	e.logger.Info("function called", "function", name)
	return reg.Execute(ctx, name, argsJSON)
}

// OnBoot registers fn to run on [Extension.Boot].
func (e *Extension) OnBoot(fn func()) {
	e.mu.Lock()
	e.bootHooks = append(e.bootHooks, fn)
	e.mu.Unlock()
}

// OnEnable registers fn to run on [Extension.Enable].
func (e *Extension) OnEnable(fn func()) {
	e.mu.Lock()
	e.enableHooks = append(e.enableHooks, fn)
	e.mu.Unlock()
}

// Boot signals that the host has started the extension.
func (e *Extension) Boot() {
	e.mu.RLock()
	hooks := append([]func(){}, e.bootHooks...)
	e.mu.RUnlock()

	e.logger.Info("extension booted", "name", e.manifest.Name)
	e.emitLifecycle("boot")
	for _, fn := range hooks {
		fn()
	}
}

// Enable marks the extension enabled and runs the enable hooks.
func (e *Extension) Enable() {
	var hooks []func()
	e.update(func() {
		e.enabled = true
		hooks = append(hooks, e.enableHooks...)
	})

	e.logger.Info("extension enabled", "name", e.manifest.Name)
	e.emitLifecycle("enable")
	for _, fn := range hooks {
		fn()
	}
}

// Disable marks the extension disabled. Published state is kept.
func (e *Extension) Disable() {
	e.update(func() { e.enabled = false })
	e.logger.Info("extension disabled", "name", e.manifest.Name)
	e.emitLifecycle("disable")
}

// IsEnabled reports whether the extension is enabled.
func (e *Extension) IsEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// ClearErrors empties the error sink.
func (e *Extension) ClearErrors() {
	e.update(func() { e.errors = []string{} })
}

// AddError appends a message to the error sink.
func (e *Extension) AddError(msg string) {
	e.update(func() { e.errors = append(e.errors, msg) })
}

// Errors returns the messages in the error sink.
func (e *Extension) Errors() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string{}, e.errors...)
}

// SetSoftwareVersion records the remote server version for display.
func (e *Extension) SetSoftwareVersion(v string) {
	e.update(func() { e.softwareVersion = v })
}

// SoftwareVersion returns the recorded remote server version.
func (e *Extension) SoftwareVersion() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.softwareVersion
}

// State returns a copy of the published state.
func (e *Extension) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stateLocked()
}

func (e *Extension) stateLocked() State {
	return State{
		Enabled:         e.enabled,
		Instructions:    e.instructions,
		Functions:       append([]tools.Schema{}, e.schemas...),
		Errors:          append([]string{}, e.errors...),
		SoftwareVersion: e.softwareVersion,
		UpdatedAt:       e.updatedAt,
	}
}

// Subscribe returns a channel that receives the state after every
// change. Slow readers only see the latest state. Call the returned
// function to unsubscribe; it closes the channel.
func (e *Extension) Subscribe() (<-chan State, func()) {
	id := uuid.NewString()
	ch := make(chan State, 1)

	e.mu.Lock()
	e.subscribers[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subscribers, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// update applies fn under the write lock and notifies subscribers.
func (e *Extension) update(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn()
	e.updatedAt = time.Now()

	st := e.stateLocked()
	for _, ch := range e.subscribers {
		// Replace any unread state with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
