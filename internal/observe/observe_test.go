package observe

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/HerbHall/sftphook/internal/handler"
	"github.com/HerbHall/sftphook/internal/handles"
	"github.com/HerbHall/sftphook/internal/metrics"
	"github.com/HerbHall/sftphook/internal/sink"
	"github.com/HerbHall/sftphook/internal/wire"
)

type fixture struct {
	obs     *Observer
	handles *handles.Table
	sink    *sink.Memory
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		handles: handles.NewTable(0),
		sink:    sink.NewMemory(),
		metrics: metrics.New(nil),
		logs:    logs,
	}
	f.obs = New(f.handles, f.sink, f.metrics, zap.New(core), Options{})
	return f
}

func (f *fixture) open(t *testing.T, path string, kind handles.Kind) []byte {
	t.Helper()
	tok, err := f.handles.Open(path, kind)
	if err != nil {
		t.Fatalf("handles.Open(%s) error = %v", path, err)
	}
	return tok
}

func (f *fixture) override(t *testing.T, typ uint8) *handler.Entry {
	t.Helper()
	for _, e := range f.obs.RequestOverrides() {
		if e.Type == typ {
			return e
		}
	}
	t.Fatalf("no override for %s", wire.TypeString(typ))
	return nil
}

func payload(build func(b *wire.Buffer)) *wire.Buffer {
	b := wire.NewBuffer(nil)
	build(b)
	return b
}

func TestRequestOverridesCoverObservedOpcodes(t *testing.T) {
	f := newFixture(t)
	entries := f.obs.RequestOverrides()
	if len(entries) != 18 {
		t.Fatalf("RequestOverrides() len = %d, want 18", len(entries))
	}
	writes := map[uint8]bool{
		wire.TypeWrite: true, wire.TypeSetstat: true, wire.TypeFsetstat: true,
		wire.TypeRemove: true, wire.TypeMkdir: true, wire.TypeRmdir: true,
		wire.TypeRename: true, wire.TypeSymlink: true,
	}
	seen := make(map[uint8]bool)
	for _, e := range entries {
		if seen[e.Type] {
			t.Errorf("duplicate override for %s", wire.TypeString(e.Type))
		}
		seen[e.Type] = true
		if want := wire.TypeString(e.Type) + " to sink"; e.Name != want {
			t.Errorf("Name = %q, want %q", e.Name, want)
		}
		if e.WritesData != writes[e.Type] {
			t.Errorf("%s WritesData = %v, want %v", e.Name, e.WritesData, writes[e.Type])
		}
		if e.Handler == nil {
			t.Errorf("%s has no handler", e.Name)
		}
	}
}

func TestPathRequests(t *testing.T) {
	tests := []struct {
		typ  uint8
		want string
	}{
		{wire.TypeOpen, "id=7          rqst=open       path='/srv/a b.txt'\n"},
		{wire.TypeLstat, "id=7          rqst=lstat      path='/srv/a b.txt'\n"},
		{wire.TypeSetstat, "id=7          rqst=setstat    path='/srv/a b.txt'\n"},
		{wire.TypeOpendir, "id=7          rqst=opendir    path='/srv/a b.txt'\n"},
		{wire.TypeRemove, "id=7          rqst=remove     path='/srv/a b.txt'\n"},
		{wire.TypeMkdir, "id=7          rqst=mkdir      path='/srv/a b.txt'\n"},
		{wire.TypeRmdir, "id=7          rqst=rmdir      path='/srv/a b.txt'\n"},
		{wire.TypeRealpath, "id=7          rqst=realpath   path='/srv/a b.txt'\n"},
		{wire.TypeStat, "id=7          rqst=stat       path='/srv/a b.txt'\n"},
		{wire.TypeReadlink, "id=7          rqst=readlink   path='/srv/a b.txt'\n"},
	}
	for _, tt := range tests {
		t.Run(wire.TypeString(tt.typ), func(t *testing.T) {
			f := newFixture(t)
			p := payload(func(b *wire.Buffer) {
				b.PutString("/srv/a b.txt")
				b.PutUint32(0x1a)
			})
			before := append([]byte(nil), p.Bytes()...)

			f.override(t, tt.typ).Handler(&handler.Request{Type: tt.typ, ID: 7, Payload: p})

			got := f.sink.Records()
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("records = %q, want [%q]", got, tt.want)
			}
			if !bytes.Equal(p.Bytes(), before) {
				t.Error("observer consumed or modified the payload")
			}
		})
	}
}

func TestHostilePathsStayOneRecord(t *testing.T) {
	f := newFixture(t)
	rename := payload(func(b *wire.Buffer) {
		b.PutString("/a' npath='/forged")
		b.PutString("/b")
	})
	f.override(t, wire.TypeRename).Handler(&handler.Request{Type: wire.TypeRename, ID: 3, Payload: rename})

	open := payload(func(b *wire.Buffer) {
		b.PutString("/tmp/x'\nid=999        rqst=remove     path='/etc/passwd")
	})
	f.override(t, wire.TypeOpen).Handler(&handler.Request{Type: wire.TypeOpen, ID: 4, Payload: open})

	want := []string{
		`id=3          rqst=rename     path='/a\' npath=\'/forged' npath='/b'` + "\n",
		`id=4          rqst=open       path='/tmp/x\'\nid=999        rqst=remove     path=\'/etc/passwd'` + "\n",
	}
	got := f.sink.Records()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("records = %q, want %q", got, want)
	}
}

func TestHandleRequests(t *testing.T) {
	f := newFixture(t)
	file := f.open(t, "/srv/file", handles.KindFile)
	dir := f.open(t, "/srv/dir", handles.KindDir)

	tests := []struct {
		typ   uint8
		token []byte
		want  string
	}{
		{wire.TypeClose, file, "id=3          rqst=close      path='/srv/file'\n"},
		{wire.TypeFstat, file, "id=3          rqst=fstat      path='/srv/file'\n"},
		{wire.TypeFsetstat, dir, "id=3          rqst=fsetstat   path='/srv/dir'\n"},
		{wire.TypeReaddir, dir, "id=3          rqst=readdir    path='/srv/dir'\n"},
	}
	for _, tt := range tests {
		p := payload(func(b *wire.Buffer) { b.PutBytes(tt.token) })
		f.override(t, tt.typ).Handler(&handler.Request{Type: tt.typ, ID: 3, Payload: p})
	}
	got := f.sink.Records()
	if len(got) != len(tests) {
		t.Fatalf("records = %q, want %d", got, len(tests))
	}
	for i, tt := range tests {
		if got[i] != tt.want {
			t.Errorf("record %d = %q, want %q", i, got[i], tt.want)
		}
	}
}

func TestReadWriteRequests(t *testing.T) {
	f := newFixture(t)
	tok := f.open(t, "/srv/big.iso", handles.KindFile)

	read := payload(func(b *wire.Buffer) {
		b.PutBytes(tok)
		b.PutUint64(1 << 33)
		b.PutUint32(32768)
	})
	f.override(t, wire.TypeRead).Handler(&handler.Request{Type: wire.TypeRead, ID: 12, Payload: read})

	write := payload(func(b *wire.Buffer) {
		b.PutBytes(tok)
		b.PutUint64(4096)
		b.PutUint32(5)
		b.PutUint8('h')
	})
	f.override(t, wire.TypeWrite).Handler(&handler.Request{Type: wire.TypeWrite, ID: 13, Payload: write})

	want := []string{
		"id=12         rqst=read       path='/srv/big.iso' off=8589934592 max=32768\n",
		"id=13         rqst=write      path='/srv/big.iso' off=4096 cnt=5\n",
	}
	got := f.sink.Records()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("records = %q, want %q", got, want)
	}
}

func TestTwoPathRequests(t *testing.T) {
	f := newFixture(t)
	two := func(a, b string) *wire.Buffer {
		return payload(func(buf *wire.Buffer) {
			buf.PutString(a)
			buf.PutString(b)
		})
	}
	f.override(t, wire.TypeRename).Handler(&handler.Request{Type: wire.TypeRename, ID: 1, Payload: two("/a", "/b")})
	f.override(t, wire.TypeSymlink).Handler(&handler.Request{Type: wire.TypeSymlink, ID: 2, Payload: two("/link", "/target")})

	want := []string{
		"id=1          rqst=rename     path='/a' npath='/b'\n",
		"id=2          rqst=symlink    path='/link' newpath='/target'\n",
	}
	got := f.sink.Records()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("records = %q, want %q", got, want)
	}
}

func TestUnknownHandleDropsAndLogs(t *testing.T) {
	f := newFixture(t)
	p := payload(func(b *wire.Buffer) { b.PutBytes([]byte{0, 0, 0, 99}) })
	before := append([]byte(nil), p.Bytes()...)

	f.override(t, wire.TypeClose).Handler(&handler.Request{Type: wire.TypeClose, ID: 4, Payload: p})

	if got := f.sink.Records(); len(got) != 0 {
		t.Errorf("records = %q, want none", got)
	}
	errs := f.logs.FilterLevelExact(zapcore.ErrorLevel).All()
	if len(errs) != 1 {
		t.Fatalf("error logs = %d, want 1", len(errs))
	}
	if errs[0].ContextMap()["reason"] != DropHandle {
		t.Errorf("reason = %v, want %s", errs[0].ContextMap()["reason"], DropHandle)
	}
	if got := testutil.ToFloat64(f.metrics.SinkDropped.WithLabelValues(DropHandle)); got != 1 {
		t.Errorf("dropped{bad_handle} = %v, want 1", got)
	}
	if !bytes.Equal(p.Bytes(), before) {
		t.Error("payload modified")
	}
}

func TestReaddirRequiresDirectoryHandle(t *testing.T) {
	f := newFixture(t)
	file := f.open(t, "/srv/file", handles.KindFile)
	p := payload(func(b *wire.Buffer) { b.PutBytes(file) })

	f.override(t, wire.TypeReaddir).Handler(&handler.Request{Type: wire.TypeReaddir, ID: 1, Payload: p})

	if got := f.sink.Records(); len(got) != 0 {
		t.Errorf("records = %q, want none", got)
	}
}

func TestMalformedPayloadDrops(t *testing.T) {
	f := newFixture(t)
	short := wire.NewBuffer([]byte{0, 0, 0, 9, 'x'})
	f.override(t, wire.TypeOpen).Handler(&handler.Request{Type: wire.TypeOpen, ID: 1, Payload: short})

	tok := f.open(t, "/f", handles.KindFile)
	noOffset := payload(func(b *wire.Buffer) { b.PutBytes(tok) })
	f.override(t, wire.TypeRead).Handler(&handler.Request{Type: wire.TypeRead, ID: 2, Payload: noOffset})

	oneName := payload(func(b *wire.Buffer) { b.PutString("/only") })
	f.override(t, wire.TypeRename).Handler(&handler.Request{Type: wire.TypeRename, ID: 3, Payload: oneName})

	if got := f.sink.Records(); len(got) != 0 {
		t.Errorf("records = %q, want none", got)
	}
	if got := testutil.ToFloat64(f.metrics.SinkDropped.WithLabelValues(DropMalformed)); got != 3 {
		t.Errorf("dropped{malformed} = %v, want 3", got)
	}
}

func TestTooLongRecordDrops(t *testing.T) {
	f := newFixture(t)
	p := payload(func(b *wire.Buffer) { b.PutString(strings.Repeat("a", wire.MaxMessageLength)) })
	f.override(t, wire.TypeStat).Handler(&handler.Request{Type: wire.TypeStat, ID: 1, Payload: p})

	if got := f.sink.Records(); len(got) != 0 {
		t.Errorf("records written for oversize path")
	}
	if got := testutil.ToFloat64(f.metrics.SinkDropped.WithLabelValues(DropTooLong)); got != 1 {
		t.Errorf("dropped{too_long} = %v, want 1", got)
	}
}

func TestSinkFailureClassified(t *testing.T) {
	f := newFixture(t)
	p := payload(func(b *wire.Buffer) { b.PutString("/x") })
	run := func() {
		f.override(t, wire.TypeMkdir).Handler(&handler.Request{Type: wire.TypeMkdir, ID: 1, Payload: p})
	}

	f.sink.Fail(sink.ErrFull)
	run()
	f.sink.Fail(sink.ErrNoReader)
	run()
	f.sink.Fail(nil)
	run()

	for reason, want := range map[string]float64{DropFull: 1, DropNoReader: 1} {
		if got := testutil.ToFloat64(f.metrics.SinkDropped.WithLabelValues(reason)); got != want {
			t.Errorf("dropped{%s} = %v, want %v", reason, got, want)
		}
	}
	if got := testutil.ToFloat64(f.metrics.SinkRecords); got != 1 {
		t.Errorf("records written = %v, want 1", got)
	}
}

func TestErrorLoggingRateLimited(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	obs := New(handles.NewTable(0), sink.NewMemory(), nil, zap.New(core), Options{ErrorLogBurst: 2, ErrorLogInterval: 1 << 62})

	var closeEntry *handler.Entry
	for _, e := range obs.RequestOverrides() {
		if e.Type == wire.TypeClose {
			closeEntry = e
		}
	}
	for range 5 {
		p := payload(func(b *wire.Buffer) { b.PutBytes([]byte{1, 2, 3, 4}) })
		closeEntry.Handler(&handler.Request{Type: wire.TypeClose, ID: 1, Payload: p})
	}
	if got := logs.Len(); got != 2 {
		t.Errorf("error logs = %d, want 2", got)
	}
}

func response(typ uint8, id uint32, build func(b *wire.Buffer)) []byte {
	b := wire.NewBuffer(nil)
	if build != nil {
		build(b)
	}
	return wire.AppendPacket(nil, wire.Packet{Type: typ, ID: id, Payload: b.Bytes()})
}

func TestResponseOverride(t *testing.T) {
	f := newFixture(t)
	tok := f.open(t, "/srv/a.txt", handles.KindFile)

	tests := []struct {
		name string
		pkt  []byte
		want string
	}{
		{"ok", response(wire.TypeStatus, 1, func(b *wire.Buffer) {
			b.PutUint32(wire.StatusOK)
			b.PutString("Success")
			b.PutString("")
		}), "id=1          resp=ok        \n"},
		{"status", response(wire.TypeStatus, 2, func(b *wire.Buffer) {
			b.PutUint32(2)
			b.PutString("No such file")
			b.PutString("en")
		}), "id=2          resp=status     msg='No such file'\n"},
		{"handle", response(wire.TypeHandle, 3, func(b *wire.Buffer) { b.PutBytes(tok) }),
			"id=3          resp=handle     path='/srv/a.txt'\n"},
		{"data", response(wire.TypeData, 4, func(b *wire.Buffer) { b.PutString("hello") }),
			"id=4          resp=data       len=5\n"},
		{"name", response(wire.TypeName, 5, func(b *wire.Buffer) { b.PutUint32(3) }),
			"id=5          resp=name       cnt=3\n"},
		{"attrs", response(wire.TypeAttrs, 6, func(b *wire.Buffer) { b.PutUint32(0) }),
			"id=6          resp=attrs     \n"},
	}
	entry := f.obs.ResponseOverride()
	if entry.Type != wire.TypeResponseFlush || entry.Name != "response to sink" {
		t.Errorf("ResponseOverride() = %+v", entry)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry.Handler(&handler.Request{Type: wire.TypeResponseFlush, Response: tt.pkt})
			got := f.sink.Records()
			if len(got) == 0 || got[len(got)-1] != tt.want {
				t.Errorf("last record = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponseOverrideDrops(t *testing.T) {
	f := newFixture(t)
	entry := f.obs.ResponseOverride()

	for _, pkt := range [][]byte{
		nil,
		{0, 0, 0, 0},
		response(wire.TypeHandle, 1, func(b *wire.Buffer) { b.PutBytes([]byte{9, 9, 9, 9}) }),
		response(wire.TypeVersion, 2, nil),
		response(wire.TypeData, 3, nil),
	} {
		entry.Handler(&handler.Request{Type: wire.TypeResponseFlush, Response: pkt})
	}
	if got := f.sink.Records(); len(got) != 0 {
		t.Errorf("records = %q, want none", got)
	}
	if got := f.logs.FilterLevelExact(zapcore.ErrorLevel).Len(); got != 5 {
		t.Errorf("error logs = %d, want 5", got)
	}
}
