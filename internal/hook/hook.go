// Package hook assembles the plugin and observer layer for one server
// process. A host builds a Runtime at startup, calls the dispatcher around
// its native operation handlers, and routes each request and response
// through a Session.
package hook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/sftphook/internal/binder"
	"github.com/HerbHall/sftphook/internal/config"
	"github.com/HerbHall/sftphook/internal/dispatch"
	"github.com/HerbHall/sftphook/internal/handler"
	"github.com/HerbHall/sftphook/internal/handles"
	"github.com/HerbHall/sftphook/internal/metrics"
	"github.com/HerbHall/sftphook/internal/observe"
	"github.com/HerbHall/sftphook/internal/plugconf"
	"github.com/HerbHall/sftphook/internal/registry"
	"github.com/HerbHall/sftphook/internal/sink"
	"github.com/HerbHall/sftphook/internal/wire"
	"github.com/HerbHall/sftphook/pkg/plugin"
)

// ErrClosed is returned by Session methods after Runtime.Close.
var ErrClosed = errors.New("hook: runtime closed")

// Options configures New. Only Settings is consulted for values the other
// fields leave unset.
type Options struct {
	// Settings defaults to config.Defaults().
	Settings *config.Settings
	// Opener overrides Settings.Plugins.Loader.
	Opener binder.Opener
	// Handles resolves handle tokens for the observers. Defaults to a new
	// handles.Table, available from Runtime.Handles.
	Handles handles.Resolver
	// Native is the host's handler table. Observers are spliced into it and
	// it is frozen. Defaults to an empty table.
	Native *handler.Table
	// Sink overrides Settings.Sink. New takes ownership of it.
	Sink    sink.Sink
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Runtime is the process-scoped plugin state: loaded plugins, the spliced
// handler table and the event sink.
type Runtime struct {
	id       string
	settings *config.Settings
	registry *registry.Registry
	dispatch *dispatch.Dispatcher
	table    *handler.Table
	handles  handles.Resolver
	sink     sink.Sink
	logger   *zap.Logger

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New loads the configured plugins, opens the event sink and splices the
// observers into the handler table. On error nothing stays open.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	settings := opts.Settings
	if settings == nil {
		settings = config.Defaults()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("runtime", id))

	seq := plugin.ParseSequence(strings.ToUpper(settings.Plugins.DefaultSequence))
	loadPolicy, err := registry.ParseLoadPolicy(strings.ToLower(settings.Plugins.OnLoadError))
	if err != nil {
		return nil, err
	}
	splicePolicy, err := handler.ParsePolicy(strings.ToLower(settings.Handlers.Policy))
	if err != nil {
		return nil, err
	}

	opener := opts.Opener
	if opener == nil {
		if opener, err = binder.NewOpener(strings.ToLower(settings.Plugins.Loader)); err != nil {
			return nil, err
		}
	}
	loader := binder.NewLoader(opener, settings.Plugins.SearchPath, logger.Named("binder"))
	reg := registry.New(loader, opts.Metrics, logger.Named("registry"))

	err = reg.Init(registry.Options{
		ConfigPath:  settings.Plugins.Config,
		MaxPlugins:  settings.Plugins.Max,
		Parse:       plugconf.ParseOptions{DefaultSequence: seq},
		OnLoadError: loadPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize plugins: %w", err)
	}

	s := opts.Sink
	if s == nil {
		s, err = sink.Open(ctx, sink.Config{
			Kind:   sink.Kind(settings.Sink.Kind),
			Path:   settings.Sink.Path,
			Source: id,
		}, logger.Named("sink"))
		if err != nil {
			reg.Release()
			return nil, fmt.Errorf("open event sink: %w", err)
		}
	} else {
		s = sink.Synchronized(s)
	}

	resolver := opts.Handles
	if resolver == nil {
		resolver = handles.NewTable(0)
	}
	obs := observe.New(resolver, s, opts.Metrics, logger, observe.Options{})

	table := opts.Native
	if table == nil {
		table = handler.NewTable()
	}
	n, err := table.Splice(obs.RequestOverrides(), splicePolicy)
	if err == nil {
		err = table.SpliceResponse(obs.ResponseOverride(), wire.TypeResponseFlush)
	}
	if err != nil {
		s.Close()
		reg.Release()
		return nil, fmt.Errorf("install observers: %w", err)
	}
	table.Freeze()

	logger.Info("sftp plugin layer ready",
		zap.Int("plugins", reg.Len()),
		zap.String("backend", reg.Backend()),
		zap.Int("observers", n),
		zap.Stringer("policy", splicePolicy),
	)

	return &Runtime{
		id:       id,
		settings: settings,
		registry: reg,
		dispatch: dispatch.New(reg, opts.Metrics, logger.Named("dispatch")),
		table:    table,
		handles:  resolver,
		sink:     s,
		logger:   logger,
		closed:   make(chan struct{}),
	}, nil
}

// ID identifies this runtime in logs and stored events.
func (rt *Runtime) ID() string { return rt.id }

// Dispatcher runs plugin callbacks around native operations.
func (rt *Runtime) Dispatcher() *dispatch.Dispatcher { return rt.dispatch }

// Table is the frozen handler table with observers installed.
func (rt *Runtime) Table() *handler.Table { return rt.table }

// Registry exposes the loaded plugins.
func (rt *Runtime) Registry() *registry.Registry { return rt.registry }

// Handles is the resolver the observers use.
func (rt *Runtime) Handles() handles.Resolver { return rt.handles }

// Close closes the sink and releases every plugin library. Later calls
// return the first call's result.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		close(rt.closed)
		var errs []error
		if err := rt.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event sink: %w", err))
		}
		if err := rt.registry.Release(); err != nil {
			errs = append(errs, err)
		}
		rt.closeErr = errors.Join(errs...)
		rt.logger.Info("sftp plugin layer released")
	})
	return rt.closeErr
}

func (rt *Runtime) isClosed() bool {
	select {
	case <-rt.closed:
		return true
	default:
		return false
	}
}

// Session is one client connection's view of the runtime.
type Session struct {
	ID       string
	ReadOnly bool

	rt     *Runtime
	logger *zap.Logger
}

// NewSession starts a session. ReadOnly starts from handlers.read_only.
func (rt *Runtime) NewSession() *Session {
	id := uuid.NewString()
	return &Session{
		ID:       id,
		ReadOnly: rt.settings.Handlers.ReadOnly,
		rt:       rt,
		logger:   rt.logger.With(zap.String("session", id)),
	}
}

// Handle runs the handler chain for one request. payload is everything
// after the request id.
func (s *Session) Handle(typ uint8, id uint32, payload []byte) error {
	if s.rt.isClosed() {
		return ErrClosed
	}
	err := s.rt.table.Dispatch(&handler.Request{Type: typ, ID: id, Payload: wire.NewBuffer(payload)}, s.ReadOnly)
	if errors.Is(err, handler.ErrReadOnly) {
		s.logger.Info("request refused in read-only session",
			zap.String("type", wire.TypeString(typ)),
			zap.Uint32("id", id),
		)
	}
	return err
}

// FlushResponse runs the response chain for one framed outbound packet.
func (s *Session) FlushResponse(packet []byte) error {
	if s.rt.isClosed() {
		return ErrClosed
	}
	var id uint32
	if p, err := wire.ReadPacket(packet); err == nil {
		id = p.ID
	}
	return s.rt.table.Dispatch(&handler.Request{Type: wire.TypeResponseFlush, ID: id, Response: packet}, false)
}
