package plugin

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Priority constants for plugin registration.
// Higher priority values override lower priority plugins with the same name.
const (
	PriorityDefault  = 0
	PriorityOverride = 100
)

// Startup orders for the built-in plugins. Lower values start first.
const (
	OrderSensor = 50
	OrderReset  = 90
)

// PluginInfo contains metadata about a registered plugin.
type PluginInfo struct {
	// Name is the unique identifier for the plugin.
	// Plugins with the same name override each other by priority.
	Name string

	Description string

	// Priority decides which registration wins for a name. Higher wins.
	Priority int

	Factory Factory

	// Order specifies the startup order. Lower values start first.
	// Default is 50.
	Order int
}

// Registry manages plugin registration and instantiation. main builds one
// and hands it the plugins it wants; there is no package-level instance.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]PluginInfo
	order   []string
	logger  *zap.Logger
}

// NewRegistry creates a new plugin registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]PluginInfo),
		order:   make([]string, 0),
		logger:  logger.Named("plugins"),
	}
}

// Register adds a plugin to the registry.
// If a plugin with the same name already exists, the one with higher
// priority wins. If priorities are equal, the later registration wins.
func (r *Registry) Register(info PluginInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if info.Factory == nil {
		return fmt.Errorf("plugin %s: factory cannot be nil", info.Name)
	}
	if info.Order == 0 {
		info.Order = OrderSensor
	}

	existing, exists := r.plugins[info.Name]
	if exists {
		if info.Priority < existing.Priority {
			r.logger.Info("Plugin registration skipped",
				zap.String("plugin", info.Name),
				zap.Int("priority", info.Priority),
				zap.Int("existing_priority", existing.Priority))
			return nil
		}
		r.logger.Info("Plugin overridden",
			zap.String("plugin", info.Name),
			zap.Int("from_priority", existing.Priority),
			zap.Int("to_priority", info.Priority))
	}

	r.plugins[info.Name] = info
	if !exists {
		r.order = append(r.order, info.Name)
	}

	r.logger.Debug("Plugin registered",
		zap.String("plugin", info.Name),
		zap.Int("priority", info.Priority),
		zap.Int("order", info.Order),
		zap.String("description", info.Description))
	return nil
}

// Get returns the plugin info for a given name, or nil if not found.
func (r *Registry) Get(name string) *PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.plugins[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns all registered plugins sorted by their startup order.
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PluginInfo, 0, len(r.plugins))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// CreateAll instantiates all registered plugins in startup order.
// If one factory fails, the plugins created so far are stopped.
func (r *Registry) CreateAll(ctx *Context) ([]Plugin, error) {
	infos := r.List()
	result := make([]Plugin, 0, len(infos))

	for _, info := range infos {
		p, err := info.Factory(ctx)
		if err != nil {
			for i := len(result) - 1; i >= 0; i-- {
				result[i].Stop()
			}
			return nil, fmt.Errorf("failed to create plugin %s: %w", info.Name, err)
		}
		result = append(result, p)
	}
	return result, nil
}

// Names returns the names of all registered plugins in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Clear removes all registered plugins.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins = make(map[string]PluginInfo)
	r.order = make([]string, 0)
}

// StartAll starts plugins in order. On failure the already started ones are
// stopped in reverse.
func StartAll(plugins []Plugin) error {
	for i, p := range plugins {
		if err := p.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				plugins[j].Stop()
			}
			return fmt.Errorf("failed to start plugin %s: %w", p.Name(), err)
		}
	}
	return nil
}

// StopAll stops plugins in reverse order.
func StopAll(plugins []Plugin) {
	for i := len(plugins) - 1; i >= 0; i-- {
		plugins[i].Stop()
	}
}

// Resettables returns the plugins implementing Resettable, keyed by name
// in startup order.
func Resettables(plugins []Plugin) []NamedResettable {
	var out []NamedResettable
	for _, p := range plugins {
		if r, ok := p.(Resettable); ok {
			out = append(out, NamedResettable{Name: p.Name(), Plugin: r})
		}
	}
	return out
}

// NamedResettable pairs a resettable plugin with its name for logging
type NamedResettable struct {
	Name   string
	Plugin Resettable
}

// Entities returns the plugins that are also host entities
func Entities(plugins []Plugin) []Entity {
	var out []Entity
	for _, p := range plugins {
		if e, ok := p.(Entity); ok {
			out = append(out, e)
		}
	}
	return out
}
