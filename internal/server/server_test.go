package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HerbHall/sftphook/internal/binder"
	"github.com/HerbHall/sftphook/internal/metrics"
	"github.com/HerbHall/sftphook/internal/plugconf"
	"github.com/HerbHall/sftphook/internal/registry"
	"github.com/HerbHall/sftphook/internal/store"
	"github.com/HerbHall/sftphook/internal/testutil"
	"github.com/HerbHall/sftphook/pkg/plugin"
)

func newRegistry(t *testing.T, m *metrics.Metrics) *registry.Registry {
	t.Helper()
	op := testutil.NewOpener()
	op.Add("audit", testutil.WithSymbol(plugin.OpRemove, func(uint32, string) plugin.Result { return plugin.ResultSuccess }))
	reg := registry.New(binder.NewLoader(op, nil, testutil.Logger()), m, testutil.Logger())
	err := reg.InitEntries([]plugconf.Entry{
		{Name: "audit", Sequence: plugin.SequenceBefore, Line: 1},
		{Name: "missing", Sequence: plugin.SequenceAfter, Line: 2},
	}, registry.PolicyDisable)
	if err != nil {
		t.Fatalf("InitEntries() error = %v", err)
	}
	t.Cleanup(func() { reg.Release() })
	return reg
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHealth(t *testing.T) {
	srv := New(":0", Options{Plugins: newRegistry(t, nil)}, testutil.Logger())
	w := get(t, srv.Handler(), "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-Sftphook-Version") == "" {
		t.Error("missing version header")
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "sftphook" {
		t.Errorf("body = %v", body)
	}
	if body["plugins"] != float64(2) {
		t.Errorf("plugins = %v, want 2", body["plugins"])
	}
}

func TestPlugins(t *testing.T) {
	srv := New(":0", Options{Plugins: newRegistry(t, nil)}, testutil.Logger())
	w := get(t, srv.Handler(), "/api/v1/plugins")

	var body struct {
		Backend string           `json:"backend"`
		Plugins []pluginResponse `json:"plugins"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Backend != "fake" {
		t.Errorf("backend = %q, want fake", body.Backend)
	}
	if len(body.Plugins) != 2 {
		t.Fatalf("plugins = %+v, want 2", body.Plugins)
	}
	audit, missing := body.Plugins[0], body.Plugins[1]
	if audit.Name != "audit" || !audit.Enabled || audit.Sequence != "BEFORE" {
		t.Errorf("audit = %+v", audit)
	}
	if len(audit.Operations) != 1 || audit.Operations[0] != "remove" {
		t.Errorf("audit operations = %v, want [remove]", audit.Operations)
	}
	if missing.Enabled || missing.Error == "" {
		t.Errorf("missing = %+v, want disabled with error", missing)
	}
}

func TestPluginByName(t *testing.T) {
	srv := New(":0", Options{Plugins: newRegistry(t, nil)}, testutil.Logger())

	w := get(t, srv.Handler(), "/api/v1/plugins/audit")
	var p pluginResponse
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil || p.Name != "audit" {
		t.Errorf("plugin = %+v, %v", p, err)
	}

	w = get(t, srv.Handler(), "/api/v1/plugins/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content-type = %q", ct)
	}
}

func TestNoSources(t *testing.T) {
	srv := New(":0", Options{}, nil)
	for _, path := range []string{"/api/v1/plugins", "/api/v1/plugins/x", "/api/v1/events"} {
		if w := get(t, srv.Handler(), path); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
	if w := get(t, srv.Handler(), "/api/v1/health"); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestEvents(t *testing.T) {
	db := testutil.NewStore(t)
	ctx := context.Background()
	if err := db.MigrateEvents(ctx); err != nil {
		t.Fatal(err)
	}
	for _, e := range []*store.Event{
		{RequestID: 1, Kind: "rqst", Op: "remove", Path: "/a", Line: "id=1 rqst=remove path='/a'"},
		{RequestID: 2, Kind: "rqst", Op: "mkdir", Path: "/b", Line: "id=2 rqst=mkdir path='/b'"},
	} {
		if err := db.InsertEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	srv := New(":0", Options{Events: db}, testutil.Logger())

	w := get(t, srv.Handler(), "/api/v1/events?op=mkdir")
	var events []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0]["path"] != "/b" || events[0]["request_id"] != float64(2) {
		t.Errorf("events = %v", events)
	}

	if w := get(t, srv.Handler(), "/api/v1/events?limit=-1"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := New(":0", Options{Plugins: newRegistry(t, m), Gatherer: reg}, testutil.Logger())

	w := get(t, srv.Handler(), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sftphook_plugins_loaded 1") {
		t.Errorf("metrics missing sftphook_plugins_loaded 1:\n%s", w.Body.String())
	}
}
