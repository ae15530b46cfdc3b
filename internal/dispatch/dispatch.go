// Package dispatch fans an operation out to every registered plugin that
// runs in the requested sequence and exports a callback for it.
package dispatch

import (
	"errors"

	"go.uber.org/zap"

	"github.com/HerbHall/sftphook/internal/metrics"
	"github.com/HerbHall/sftphook/internal/registry"
	"github.com/HerbHall/sftphook/pkg/plugin"
)

// ErrInvalidArgument is returned when stats or a required output is nil.
var ErrInvalidArgument = errors.New("dispatch: invalid argument")

// Stats reports the outcome of one dispatch call.
type Stats struct {
	Invocations int
	Failures    int
}

// Ran reports whether at least one callback was invoked.
func (s *Stats) Ran() bool { return s.Invocations > 0 }

// Failed reports whether at least one callback failed.
func (s *Stats) Failed() bool { return s.Failures > 0 }

// Source supplies the plugins to dispatch to, in invocation order.
type Source interface {
	Plugins() []*registry.Plugin
}

// Dispatcher invokes plugin callbacks. It holds no per-call state; any
// number of goroutines may dispatch at once, and a callback may dispatch
// again.
type Dispatcher struct {
	src     Source
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a Dispatcher over src.
func New(src Source, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{src: src, metrics: m, logger: logger}
}

// fanout resets stats and invokes call for every enabled plugin in seq
// carrying a callback for op. Only ErrInvalidArgument is ever returned;
// callback failures are reported through stats.
func (d *Dispatcher) fanout(op plugin.Op, seq plugin.Sequence, stats *Stats, call func(*plugin.Callbacks) plugin.Result) error {
	if stats == nil {
		return ErrInvalidArgument
	}
	*stats = Stats{}

	for _, p := range d.src.Plugins() {
		if p.Sequence != seq || !p.Enabled() || !p.Callbacks.Has(op) {
			continue
		}
		if rc := d.invoke(p, op, call); rc != plugin.ResultSuccess {
			stats.Failures++
		}
		stats.Invocations++
	}

	d.metrics.ObserveDispatch(op.String(), seq.String(), stats.Invocations, stats.Failures)
	return nil
}

func (d *Dispatcher) invoke(p *registry.Plugin, op plugin.Op, call func(*plugin.Callbacks) plugin.Result) (rc plugin.Result) {
	defer func() {
		if v := recover(); v != nil {
			d.logger.Error("plugin callback panicked",
				zap.String("plugin", p.Name),
				zap.Stringer("op", op),
				zap.Any("panic", v),
			)
			rc = plugin.ResultPanic
		}
	}()
	return call(p.Callbacks)
}
