// Package registry owns the ordered list of configured plugins and the
// libraries backing them.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/HerbHall/sftphook/internal/binder"
	"github.com/HerbHall/sftphook/internal/metrics"
	"github.com/HerbHall/sftphook/internal/plugconf"
	"github.com/HerbHall/sftphook/pkg/plugin"
)

var (
	ErrAlreadyInitialized = errors.New("plugin registry already initialized")
	ErrNotInitialized     = errors.New("plugin registry not initialized")
)

// Plugin is one configured plugin. Values returned by the registry are
// shared with concurrent dispatchers and must not be modified.
type Plugin struct {
	Name      string
	Sequence  plugin.Sequence
	Path      string
	Callbacks *plugin.Callbacks

	// Disabled is set when the library failed to load under PolicyDisable.
	Disabled  bool
	LoadError error

	lib binder.Library
}

// Enabled reports whether the plugin takes part in dispatch.
func (p *Plugin) Enabled() bool {
	return p != nil && !p.Disabled && p.lib != nil && p.Callbacks != nil
}

// LoadPolicy decides what a library load failure does to Init.
type LoadPolicy int

const (
	// PolicyDisable keeps the failed plugin in the list, disabled.
	PolicyDisable LoadPolicy = iota
	// PolicyFatal aborts Init and releases what was already opened.
	PolicyFatal
)

func (p LoadPolicy) String() string {
	if p == PolicyFatal {
		return "fatal"
	}
	return "disable"
}

// ParseLoadPolicy maps a settings value to a LoadPolicy.
func ParseLoadPolicy(s string) (LoadPolicy, error) {
	switch s {
	case "", "disable":
		return PolicyDisable, nil
	case "fatal":
		return PolicyFatal, nil
	}
	return PolicyDisable, fmt.Errorf("unknown load policy %q", s)
}

// Options configures Init.
type Options struct {
	ConfigPath  string
	MaxPlugins  int
	Parse       plugconf.ParseOptions
	OnLoadError LoadPolicy
}

type state int

const (
	stateEmpty state = iota
	stateReady
	stateReleased
)

// Registry manages the lifecycle of the configured plugins. Init and
// Release are serialized; Plugins is lock free and safe to call from any
// number of dispatching goroutines.
type Registry struct {
	mu      sync.Mutex
	state   state
	plugins atomic.Pointer[[]*Plugin]

	loader  *binder.Loader
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates an empty registry loading libraries through loader.
func New(loader *binder.Loader, m *metrics.Metrics, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		loader:  loader,
		metrics: m,
		logger:  logger,
	}
}

// Init reads the configuration file and loads every plugin it lists.
func (r *Registry) Init(opts Options) error {
	path := opts.ConfigPath
	if path == "" {
		path = plugconf.DefaultPath
	}
	entries, err := plugconf.ReadFile(path, opts.MaxPlugins, opts.Parse)
	if err != nil {
		return err
	}
	return r.InitEntries(entries, opts.OnLoadError)
}

// InitEntries loads the given entries in order.
func (r *Registry) InitEntries(entries []plugconf.Entry, policy LoadPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == stateReady {
		return ErrAlreadyInitialized
	}

	list := make([]*Plugin, 0, len(entries))
	enabled := 0
	for _, e := range entries {
		p := &Plugin{Name: e.Name, Sequence: e.Sequence}
		if e.Defaulted {
			r.logger.Warn("plugin sequence not specified, using default",
				zap.String("name", e.Name),
				zap.Stringer("sequence", e.Sequence),
			)
		}

		bound, err := r.loader.Load(e.Name)
		if err != nil {
			if policy == PolicyFatal {
				closeAll(list, r.logger)
				return fmt.Errorf("failed to load plugin %q: %w", e.Name, err)
			}
			r.logger.Warn("plugin disabled",
				zap.String("name", e.Name),
				zap.Error(err),
			)
			p.Disabled = true
			p.LoadError = err
			p.Path = r.loader.Resolve(e.Name)
			list = append(list, p)
			continue
		}

		p.lib = bound.Library
		p.Path = bound.Library.Path()
		p.Callbacks = bound.Callbacks
		list = append(list, p)
		enabled++

		r.logger.Info("plugin registered",
			zap.String("name", p.Name),
			zap.Stringer("sequence", p.Sequence),
			zap.String("path", p.Path),
		)
	}

	r.plugins.Store(&list)
	r.state = stateReady
	r.metrics.SetPluginsLoaded(enabled)
	return nil
}

// Release closes every library exactly once and empties the registry.
func (r *Registry) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateReady {
		return ErrNotInitialized
	}

	var list []*Plugin
	if p := r.plugins.Swap(nil); p != nil {
		list = *p
	}
	r.state = stateReleased
	r.metrics.SetPluginsLoaded(0)

	if err := closeAll(list, r.logger); err != nil {
		return fmt.Errorf("release plugins: %w", err)
	}
	return nil
}

// closeAll closes libraries in reverse load order.
func closeAll(list []*Plugin, logger *zap.Logger) error {
	var errs []error
	for i := len(list) - 1; i >= 0; i-- {
		p := list[i]
		if p.lib == nil {
			continue
		}
		logger.Info("releasing plugin", zap.String("name", p.Name))
		if err := p.lib.Close(); err != nil {
			logger.Error("failed to release plugin", zap.String("name", p.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Initialized reports whether the registry currently holds plugins.
func (r *Registry) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateReady
}

// Plugins returns the current snapshot in configuration order. The slice
// must not be modified.
func (r *Registry) Plugins() []*Plugin {
	if p := r.plugins.Load(); p != nil {
		return *p
	}
	return nil
}

// Get returns the first plugin named name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	for _, p := range r.Plugins() {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of configured plugins, disabled ones included.
func (r *Registry) Len() int {
	return len(r.Plugins())
}

// Backend returns the loader backend name.
func (r *Registry) Backend() string {
	return r.loader.Backend()
}
