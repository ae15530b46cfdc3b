package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/HerbHall/sftphook/internal/collect"
	"github.com/HerbHall/sftphook/internal/server"
	"github.com/HerbHall/sftphook/internal/sink"
	"github.com/HerbHall/sftphook/internal/store"
)

// dbName is the audit database file inside the data directory.
const dbName = "sftphook.db"

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "", "path to sftphook.yaml")
	fifoPath := fs.String("fifo", "", "event FIFO to read (default: sink.path)")
	dataDir := fs.String("data-dir", ".", "directory holding the audit database")
	addr := fs.String("addr", "", "admin listen address (default: admin.addr)")
	source := fs.String("source", "", "source recorded with each event (default: hostname)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	settings := loadSettings(*configFile)
	logger, err := buildLogger(settings.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *fifoPath == "" {
		*fifoPath = settings.Sink.Path
	}
	if *addr == "" {
		*addr = settings.Admin.Addr
	}
	if *source == "" {
		*source, _ = os.Hostname()
	}

	if err := sink.Mkfifo(*fifoPath, 0o620); err != nil {
		logger.Fatal("failed to create event FIFO", zap.String("path", *fifoPath), zap.Error(err))
	}

	db, err := store.New(filepath.Join(*dataDir, dbName))
	if err != nil {
		logger.Fatal("failed to open audit database", zap.Error(err))
	}
	defer db.Close()

	// Inserts run on a context that outlives the signal so the last
	// records read before shutdown are still stored.
	out, err := sink.NewSQLite(context.Background(), db, *source)
	if err != nil {
		logger.Fatal("failed to prepare audit database", zap.Error(err))
	}
	c := collect.New(*fifoPath, out, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *server.Server
	if *addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "sftphook",
				Name:      "collector_lines_total",
				Help:      "Event records read from the FIFO and stored.",
			}, func() float64 { return float64(c.Lines()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "sftphook",
				Name:      "collector_invalid_total",
				Help:      "FIFO lines that were not event records.",
			}, func() float64 { return float64(c.Invalid()) }),
		)
		srv = server.New(*addr, server.Options{Events: db, Gatherer: reg}, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("admin server error", zap.Error(err))
				stop()
			}
		}()
	}

	logger.Info("watching event FIFO", zap.String("fifo", *fifoPath), zap.String("source", *source))
	runErr := c.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Admin.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown error", zap.Error(err))
		}
		cancel()
	}
	if runErr != nil {
		logger.Fatal("collector stopped", zap.Error(runErr))
	}
	logger.Info("watch stopped",
		zap.Int64("lines", c.Lines()),
		zap.Int64("invalid", c.Invalid()),
	)
}
