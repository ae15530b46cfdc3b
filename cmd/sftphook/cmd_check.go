package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/sftphook/internal/hook"
	"github.com/HerbHall/sftphook/internal/metrics"
	"github.com/HerbHall/sftphook/internal/registry"
	"github.com/HerbHall/sftphook/internal/server"
	"github.com/HerbHall/sftphook/internal/sink"
)

type checkReport struct {
	Config  string        `yaml:"config"`
	Backend string        `yaml:"backend"`
	Plugins []checkPlugin `yaml:"plugins"`
}

type checkPlugin struct {
	Name       string   `yaml:"name"`
	Sequence   string   `yaml:"sequence"`
	Path       string   `yaml:"path,omitempty"`
	Enabled    bool     `yaml:"enabled"`
	Error      string   `yaml:"error,omitempty"`
	Operations []string `yaml:"operations,omitempty"`
}

func newCheckReport(conf string, reg *registry.Registry) checkReport {
	r := checkReport{Config: conf, Backend: reg.Backend()}
	for _, p := range reg.Plugins() {
		cp := checkPlugin{Name: p.Name, Sequence: p.Sequence.String(), Path: p.Path, Enabled: p.Enabled()}
		if p.LoadError != nil {
			cp.Error = p.LoadError.Error()
		}
		if p.Callbacks != nil {
			for _, op := range p.Callbacks.Ops() {
				cp.Operations = append(cp.Operations, op.String())
			}
		}
		r.Plugins = append(r.Plugins, cp)
	}
	return r
}

// disabled counts plugins that failed to load.
func (r checkReport) disabled() int {
	n := 0
	for _, p := range r.Plugins {
		if !p.Enabled {
			n++
		}
	}
	return n
}

func (r checkReport) writeText(w io.Writer) {
	fmt.Fprintf(w, "config:  %s\nbackend: %s\n", r.Config, r.Backend)
	if len(r.Plugins) == 0 {
		fmt.Fprintln(w, "no plugins configured")
		return
	}
	for _, p := range r.Plugins {
		state := "ok"
		if !p.Enabled {
			state = "disabled: " + p.Error
		}
		fmt.Fprintf(w, "%-20s %-7s %s\n", p.Name, p.Sequence, state)
		if len(p.Operations) > 0 {
			fmt.Fprintf(w, "%-20s %s\n", "", strings.Join(p.Operations, " "))
		}
	}
}

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configFile := fs.String("config", "", "path to sftphook.yaml")
	pluginConf := fs.String("plugins", "", "plugin list file (overrides plugins.config)")
	format := fs.String("format", "text", "output format: text or yaml")
	strict := fs.Bool("strict", false, "exit non-zero when any plugin fails to load")
	addr := fs.String("addr", "", "after reporting, keep the plugins loaded and serve the admin API here until interrupted")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *format != "text" && *format != "yaml" {
		fmt.Fprintf(os.Stderr, "error: unknown format %q\n", *format)
		fs.Usage()
		os.Exit(1)
	}

	settings := loadSettings(*configFile)
	if *pluginConf != "" {
		settings.Plugins.Config = *pluginConf
	}
	logger, err := buildLogger(settings.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	promReg := prometheus.NewRegistry()
	rt, err := hook.New(context.Background(), hook.Options{
		Settings: settings,
		Sink:     sink.Discard{},
		Metrics:  metrics.New(promReg),
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "release failed: %v\n", err)
		}
	}()
	report := newCheckReport(settings.Plugins.Config, rt.Registry())

	switch *format {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
		enc.Close()
	default:
		report.writeText(os.Stdout)
	}

	if *addr != "" {
		serveCheck(*addr, rt.Registry(), promReg, settings.Admin.ShutdownTimeout, logger)
	}
	if *strict && report.disabled() > 0 {
		rt.Close()
		os.Exit(1)
	}
}

// serveCheck serves the loaded plugin set and its metrics until SIGINT or
// SIGTERM.
func serveCheck(addr string, plugins server.PluginSource, gatherer prometheus.Gatherer, timeout time.Duration, logger *zap.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(addr, server.Options{Plugins: plugins, Gatherer: gatherer}, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("admin server error", zap.Error(err))
			stop()
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", zap.Error(err))
	}
}
