package resolver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/resolvarr/resolvarr/internal/config"
)

// Registry holds parser descriptors in registration order. Order matters:
// dispatch ties between parsers are resolved by who registered first.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a descriptor. Registering the same name twice is a
// programming error and rejected so dispatch order stays deterministic.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("parser descriptor has no name")
	}
	if d.New == nil {
		return fmt.Errorf("parser %q has no constructor", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("parser %q already registered", d.Name)
	}
	r.order = append(r.order, d.Name)
	r.descriptors[d.Name] = d
	return nil
}

// MustRegister is Register for init-time wiring, panicking on conflict.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Names returns registered parser names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Build instantiates the enabled parsers in registration order and returns
// a Manager over them. Proxy-requiring parsers are skipped with a log when
// no proxy URL is available.
func (r *Registry) Build(cfg config.ParserConfig, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	concurrency := int64(cfg.Concurrency)
	if concurrency < 1 {
		concurrency = 1
	}

	var parsers []Parser
	for _, name := range r.order {
		d := r.descriptors[name]
		if !cfg.IsEnabled(name) {
			logger.Debug("parser disabled by config", slog.String("parser", name))
			continue
		}
		if d.RequiresProxy && opts.TwitterProxyURL == "" {
			logger.Info("parser skipped: requires a proxy but none is configured",
				slog.String("parser", name))
			continue
		}
		parsers = append(parsers, d.New(opts))
	}

	return NewManager(parsers, concurrency, logger)
}
