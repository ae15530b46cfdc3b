// Package observe provides the handler overrides that report SFTP requests
// and responses to an event sink. Observers only peek at the request
// payload; the native handler that runs next sees it untouched.
package observe

import (
	"errors"
	"fmt"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/sftphook/internal/handler"
	"github.com/HerbHall/sftphook/internal/handles"
	"github.com/HerbHall/sftphook/internal/metrics"
	"github.com/HerbHall/sftphook/internal/record"
	"github.com/HerbHall/sftphook/internal/sink"
	"github.com/HerbHall/sftphook/internal/wire"
)

// Drop reasons reported to metrics.
const (
	DropMalformed = "malformed"
	DropHandle    = "bad_handle"
	DropTooLong   = "too_long"
	DropFull      = "sink_full"
	DropNoReader  = "no_reader"
	DropSink      = "sink_error"
	DropResponse  = "unknown_response"
)

// ErrBadHandle indicates a handle token the handle table does not know.
var ErrBadHandle = errors.New("observe: bad handle")

// Options tunes an Observer.
type Options struct {
	// ErrorLogInterval and ErrorLogBurst rate limit error logging so a
	// dead sink cannot flood the server log. Zero values pick defaults.
	ErrorLogInterval time.Duration
	ErrorLogBurst    int
}

// Observer formats requests and responses into records and writes them
// to a sink.
type Observer struct {
	handles handles.Resolver
	sink    sink.Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	limiter *rate.Limiter
	pool    bytebufferpool.Pool
}

// New creates an Observer. s should be safe for concurrent use when the
// host runs sessions in parallel; sink.Open returns such a sink.
func New(resolver handles.Resolver, s sink.Sink, m *metrics.Metrics, logger *zap.Logger, opts Options) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ErrorLogInterval <= 0 {
		opts.ErrorLogInterval = time.Second
	}
	if opts.ErrorLogBurst <= 0 {
		opts.ErrorLogBurst = 10
	}
	return &Observer{
		handles: resolver,
		sink:    s,
		metrics: m,
		logger:  logger.Named("observe"),
		limiter: rate.NewLimiter(rate.Every(opts.ErrorLogInterval), opts.ErrorLogBurst),
	}
}

// RequestOverrides returns one entry per observed request opcode, ready
// for handler.Table.Splice. WritesData mirrors the native handler so
// read-only sessions refuse the same requests as before.
func (o *Observer) RequestOverrides() []*handler.Entry {
	return []*handler.Entry{
		o.entry("open", wire.TypeOpen, false, o.path("open")),
		o.entry("close", wire.TypeClose, false, o.handle("close", handles.KindAny)),
		o.entry("read", wire.TypeRead, false, o.transfer("read", "max")),
		o.entry("write", wire.TypeWrite, true, o.transfer("write", "cnt")),
		o.entry("lstat", wire.TypeLstat, false, o.path("lstat")),
		o.entry("fstat", wire.TypeFstat, false, o.handle("fstat", handles.KindAny)),
		o.entry("setstat", wire.TypeSetstat, true, o.path("setstat")),
		o.entry("fsetstat", wire.TypeFsetstat, true, o.handle("fsetstat", handles.KindAny)),
		o.entry("opendir", wire.TypeOpendir, false, o.path("opendir")),
		o.entry("readdir", wire.TypeReaddir, false, o.handle("readdir", handles.KindDir)),
		o.entry("remove", wire.TypeRemove, true, o.path("remove")),
		o.entry("mkdir", wire.TypeMkdir, true, o.path("mkdir")),
		o.entry("rmdir", wire.TypeRmdir, true, o.path("rmdir")),
		o.entry("realpath", wire.TypeRealpath, false, o.path("realpath")),
		o.entry("stat", wire.TypeStat, false, o.path("stat")),
		o.entry("rename", wire.TypeRename, true, o.pair("rename", "npath")),
		o.entry("readlink", wire.TypeReadlink, false, o.path("readlink")),
		o.entry("symlink", wire.TypeSymlink, true, o.pair("symlink", "newpath")),
	}
}

// ResponseOverride returns the entry that reports outbound responses, for
// handler.Table.SpliceResponse.
func (o *Observer) ResponseOverride() *handler.Entry {
	return &handler.Entry{Name: "response to sink", Type: wire.TypeResponseFlush, Handler: o.response}
}

func (o *Observer) entry(op string, typ uint8, writes bool, fn handler.Func) *handler.Entry {
	return &handler.Entry{Name: op + " to sink", Type: typ, Handler: fn, WritesData: writes}
}

// path reports requests whose payload starts with a path.
func (o *Observer) path(op string) handler.Func {
	return func(r *handler.Request) {
		p, err := r.Payload.PeekString()
		if err != nil {
			o.drop(op, r.ID, DropMalformed, err)
			return
		}
		o.emit(op, record.Request(r.ID, op, record.Quoted("path", string(p))))
	}
}

// handle reports requests whose payload starts with a handle.
func (o *Observer) handle(op string, kind handles.Kind) handler.Func {
	return func(r *handler.Request) {
		p, _, ok := o.resolve(op, r, kind)
		if !ok {
			return
		}
		o.emit(op, record.Request(r.ID, op, record.Quoted("path", p)))
	}
}

// transfer reports read and write: a handle, a uint64 offset and a uint32
// named lenKey.
func (o *Observer) transfer(op, lenKey string) handler.Func {
	return func(r *handler.Request) {
		p, next, ok := o.resolve(op, r, handles.KindAny)
		if !ok {
			return
		}
		off, err := r.Payload.Uint64At(next)
		if err != nil {
			o.drop(op, r.ID, DropMalformed, err)
			return
		}
		n, err := r.Payload.Uint32At(next + 8)
		if err != nil {
			o.drop(op, r.ID, DropMalformed, err)
			return
		}
		o.emit(op, record.Request(r.ID, op,
			record.Quoted("path", p),
			record.Uint("off", off),
			record.Uint(lenKey, uint64(n)),
		))
	}
}

// pair reports requests carrying two paths.
func (o *Observer) pair(op, secondKey string) handler.Func {
	return func(r *handler.Request) {
		first, next, err := r.Payload.StringAt(0)
		if err != nil {
			o.drop(op, r.ID, DropMalformed, err)
			return
		}
		second, _, err := r.Payload.StringAt(next)
		if err != nil {
			o.drop(op, r.ID, DropMalformed, err)
			return
		}
		o.emit(op, record.Request(r.ID, op,
			record.Quoted("path", string(first)),
			record.Quoted(secondKey, string(second)),
		))
	}
}

func (o *Observer) resolve(op string, r *handler.Request, kind handles.Kind) (string, int, bool) {
	token, next, err := r.Payload.StringAt(0)
	if err != nil {
		o.drop(op, r.ID, DropMalformed, err)
		return "", 0, false
	}
	p, ok := o.handles.Resolve(token, kind)
	if !ok {
		o.drop(op, r.ID, DropHandle, fmt.Errorf("%w (%s)", ErrBadHandle, kind))
		return "", 0, false
	}
	return p, next, true
}

func (o *Observer) response(r *handler.Request) {
	pkt, err := wire.ReadPacket(r.Response)
	if err != nil {
		o.drop("response", r.ID, DropMalformed, err)
		return
	}
	payload := wire.NewBuffer(pkt.Payload)
	op := wire.TypeString(pkt.Type)

	var rec *record.Record
	switch pkt.Type {
	case wire.TypeStatus:
		code, err := payload.Uint32At(0)
		if err != nil {
			o.drop(op, pkt.ID, DropMalformed, err)
			return
		}
		if code == wire.StatusOK {
			rec = record.Response(pkt.ID, "ok")
			break
		}
		msg, _, err := payload.StringAt(4)
		if err != nil {
			o.drop(op, pkt.ID, DropMalformed, err)
			return
		}
		rec = record.Response(pkt.ID, op, record.Quoted("msg", string(msg)))
	case wire.TypeHandle:
		token, err := payload.PeekString()
		if err != nil {
			o.drop(op, pkt.ID, DropMalformed, err)
			return
		}
		p, ok := o.handles.Resolve(token, handles.KindAny)
		if !ok {
			o.drop(op, pkt.ID, DropHandle, ErrBadHandle)
			return
		}
		rec = record.Response(pkt.ID, op, record.Quoted("path", p))
	case wire.TypeData, wire.TypeName:
		n, err := payload.Uint32At(0)
		if err != nil {
			o.drop(op, pkt.ID, DropMalformed, err)
			return
		}
		key := "len"
		if pkt.Type == wire.TypeName {
			key = "cnt"
		}
		rec = record.Response(pkt.ID, op, record.Uint(key, uint64(n)))
	case wire.TypeAttrs:
		rec = record.Response(pkt.ID, op)
	default:
		o.drop(op, pkt.ID, DropResponse, fmt.Errorf("unknown response type %d", pkt.Type))
		return
	}
	o.emit(op, rec)
}

func (o *Observer) emit(op string, rec *record.Record) {
	buf := o.pool.Get()
	defer o.pool.Put(buf)

	var err error
	buf.B, err = rec.Encode(buf.B)
	if err != nil {
		o.drop(op, rec.ID, DropTooLong, err)
		return
	}
	if err := o.sink.Write(buf.B); err != nil {
		reason := DropSink
		switch {
		case errors.Is(err, sink.ErrFull):
			reason = DropFull
		case errors.Is(err, sink.ErrNoReader):
			reason = DropNoReader
		}
		o.drop(op, rec.ID, reason, err)
		return
	}
	o.metrics.RecordWritten()
	if ce := o.logger.Check(zap.DebugLevel, "event dispatched"); ce != nil {
		ce.Write(zap.String("op", op), zap.Uint32("id", rec.ID), zap.String("path", rec.Path()))
	}
}

func (o *Observer) drop(op string, id uint32, reason string, err error) {
	o.metrics.RecordDropped(reason)
	if !o.limiter.Allow() {
		return
	}
	o.logger.Error("event record dropped",
		zap.String("op", op),
		zap.Uint32("id", id),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
