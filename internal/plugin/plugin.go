// Package plugin implements the plugin manager and service registry
// (C11): dependency-ordered loading of plugin descriptors into a
// shared, typed service registry, and per-event dispatch across the
// currently active plugins' own matcher lists.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/alloyrt/alloy/internal/bot"
	"github.com/alloyrt/alloy/internal/dispatch"
	"github.com/alloyrt/alloy/internal/event"
	"github.com/alloyrt/alloy/internal/events"
	"github.com/alloyrt/alloy/internal/metrics"
)

// State is a plugin's load-lifecycle state.
type State int

const (
	StatePending State = iota
	StateLoaded
	StateFailed
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateUnloaded:
		return "unloaded"
	default:
		return "pending"
	}
}

// ServiceKey identifies a published service by the type identity of
// the interface (or struct) it satisfies, e.g.
// reflect.TypeOf((*Notifier)(nil)).Elem().
type ServiceKey = reflect.Type

// Provision is one service a plugin publishes on successful load.
type Provision struct {
	Key ServiceKey
	New func(ctx context.Context) (any, error)
}

// Descriptor is a plugin (PD): identity, dependency graph, matcher
// list, and load/unload hooks.
type Descriptor struct {
	Name     string
	Version  string
	Provides []Provision
	// DependsOn lists service keys this plugin's OnLoad/handlers
	// require; unmet dependencies fail the plugin before OnLoad runs.
	DependsOn []ServiceKey
	// Matchers is this plugin's own matcher list (§4.11: "each plugin
	// holds its own matcher list").
	Matchers []*dispatch.Matcher
	// OnLoad receives this plugin's raw config slice. Returning an
	// error marks the plugin Failed and its Provides never publish.
	OnLoad func(ctx context.Context, cfg []byte) error
	// OnUnload releases resources OnLoad acquired. Optional.
	OnUnload func(ctx context.Context) error

	// disp is built once from Matchers when the descriptor is
	// registered, so per-event dispatch never rebuilds it.
	disp *dispatch.Dispatcher
}

var errUnmetDependency = fmt.Errorf("plugin: unmet dependency")

// Manager owns the service registry and the set of loaded plugins. It
// implements bridge.Dispatcher so a Bridge can dispatch straight into
// it.
type Manager struct {
	bus     *events.Bus
	metrics *metrics.Registry
	logger  *slog.Logger

	mu          sync.RWMutex
	descriptors []*Descriptor
	states      map[string]State
	configs     map[string][]byte
	services    map[ServiceKey]any
}

// New constructs an empty Manager. bus and metricsReg may be nil.
func New(bus *events.Bus, metricsReg *metrics.Registry) *Manager {
	return &Manager{
		bus:      bus,
		metrics:  metricsReg,
		logger:   slog.Default().With("component", "plugin"),
		states:   make(map[string]State),
		configs:  make(map[string][]byte),
		services: make(map[ServiceKey]any),
	}
}

// Register adds d to the load set in registration order. Must be
// called before LoadAll.
func (m *Manager) Register(d *Descriptor, cfg []byte) {
	d.disp = dispatch.New()
	for _, matcher := range d.Matchers {
		d.disp.Register(matcher)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors = append(m.descriptors, d)
	m.states[d.Name] = StatePending
	m.configs[d.Name] = cfg
}

// LoadAll runs the three-phase load from §4.11 across every
// registered descriptor: repeatedly loads any plugin whose
// dependencies are all satisfied, marking unreachable plugins Failed
// once no further progress is possible (unmet or cyclic dependency).
func (m *Manager) LoadAll(ctx context.Context) {
	m.mu.Lock()
	remaining := append([]*Descriptor(nil), m.descriptors...)
	m.mu.Unlock()

	for len(remaining) > 0 {
		var next []*Descriptor
		progressed := false
		for _, d := range remaining {
			switch {
			case m.dependenciesSatisfied(d):
				m.load(ctx, d)
				progressed = true
			case m.anyDependencyFailed(d):
				m.markFailed(d.Name, errUnmetDependency)
				progressed = true
			default:
				next = append(next, d)
			}
		}
		remaining = next
		if !progressed {
			break
		}
	}
	for _, d := range remaining {
		m.markFailed(d.Name, fmt.Errorf("plugin: dependency cycle or never-satisfied dependency"))
	}
}

func (m *Manager) dependenciesSatisfied(d *Descriptor) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, key := range d.DependsOn {
		if _, ok := m.services[key]; !ok {
			return false
		}
	}
	return true
}

func (m *Manager) anyDependencyFailed(d *Descriptor) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, key := range d.DependsOn {
		if _, ok := m.services[key]; ok {
			continue
		}
		if !m.dependencyCanStillLoad(key) {
			return true
		}
	}
	return false
}

// dependencyCanStillLoad reports whether some other descriptor still
// pending provides key. Called with m.mu held for read.
func (m *Manager) dependencyCanStillLoad(key ServiceKey) bool {
	for _, d := range m.descriptors {
		if m.states[d.Name] != StatePending {
			continue
		}
		for _, p := range d.Provides {
			if p.Key == key {
				return true
			}
		}
	}
	return false
}

func (m *Manager) load(ctx context.Context, d *Descriptor) {
	cfg := m.configFor(d.Name)
	if d.OnLoad != nil {
		if err := d.OnLoad(ctx, cfg); err != nil {
			m.markFailed(d.Name, err)
			return
		}
	}

	provided := make(map[ServiceKey]any, len(d.Provides))
	for _, p := range d.Provides {
		svc, err := p.New(ctx)
		if err != nil {
			m.markFailed(d.Name, fmt.Errorf("provide %s: %w", p.Key, err))
			return
		}
		provided[p.Key] = svc
	}

	m.mu.Lock()
	m.states[d.Name] = StateLoaded
	for key, svc := range provided {
		m.services[key] = svc
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.PluginLoadTotal.WithLabelValues(metrics.PluginOutcomeLoaded).Inc()
	}
	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourcePlugin,
		Kind:      events.KindPluginLoaded,
		Data:      map[string]any{"plugin": d.Name},
	})
}

func (m *Manager) markFailed(name string, reason error) {
	m.mu.Lock()
	m.states[name] = StateFailed
	m.mu.Unlock()

	m.logger.Warn("plugin load failed", "plugin", name, "error", reason)
	if m.metrics != nil {
		m.metrics.PluginLoadTotal.WithLabelValues(metrics.PluginOutcomeFailed).Inc()
	}
	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourcePlugin,
		Kind:      events.KindPluginFailed,
		Data:      map[string]any{"plugin": name, "reason": reason.Error()},
	})
}

func (m *Manager) configFor(name string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configs[name]
}

// State reports a registered plugin's current state.
func (m *Manager) State(name string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[name]
}

// Unload tears a Loaded plugin down: runs OnUnload, removes its
// Provides from the service registry, and marks it Unloaded. A
// subsequent Load call can bring it back.
func (m *Manager) Unload(ctx context.Context, name string) error {
	d := m.descriptorNamed(name)
	if d == nil {
		return fmt.Errorf("plugin: %q not registered", name)
	}
	if d.OnUnload != nil {
		if err := d.OnUnload(ctx); err != nil {
			return fmt.Errorf("plugin: %q unload: %w", name, err)
		}
	}

	m.mu.Lock()
	for _, p := range d.Provides {
		delete(m.services, p.Key)
	}
	m.states[name] = StateUnloaded
	m.mu.Unlock()
	return nil
}

// Load (re-)loads a single plugin outside of LoadAll's batch pass,
// used to bring an Unloaded plugin back.
func (m *Manager) Load(ctx context.Context, name string) {
	d := m.descriptorNamed(name)
	if d == nil {
		m.logger.Warn("load: plugin not registered", "plugin", name)
		return
	}
	m.load(ctx, d)
}

func (m *Manager) descriptorNamed(name string) *Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.descriptors {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// Snapshot returns a read-only copy of the currently published
// service registry, passed to each event dispatch (§4.11).
func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[ServiceKey]any, len(m.services))
	for k, v := range m.services {
		cp[k] = v
	}
	return &Snapshot{services: cp}
}

// Snapshot implements dispatch.ServiceLookup.
type Snapshot struct {
	services map[ServiceKey]any
}

func (s *Snapshot) Lookup(key any) (any, bool) {
	t, ok := key.(reflect.Type)
	if !ok {
		return nil, false
	}
	v, ok := s.services[t]
	return v, ok
}

// Dispatch implements bridge.Dispatcher: runs ev through every active
// (Loaded) plugin's matcher list in registration order, sharing one
// Context so a StopPropagation call in one plugin's handler is
// observed by the plugins dispatched after it (§4.11).
func (m *Manager) Dispatch(ctx context.Context, b bot.Bot, ev event.Event) {
	snapshot := m.Snapshot()
	dctx := dispatch.NewContext(ctx, ev, b, snapshot, m.bus)

	m.mu.RLock()
	descriptors := append([]*Descriptor(nil), m.descriptors...)
	states := make(map[string]State, len(m.states))
	for k, v := range m.states {
		states[k] = v
	}
	m.mu.RUnlock()

	for _, d := range descriptors {
		if states[d.Name] != StateLoaded {
			continue
		}
		pctx := dctx.ForPlugin(d.Name, m.configFor(d.Name))
		d.disp.Run(pctx)
		if !pctx.Propagating() {
			return
		}
	}
}
