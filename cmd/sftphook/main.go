// Command sftphook inspects and operates the SFTP plugin layer: it checks a
// plugin configuration, collects observer events from the FIFO and backs up
// the audit database.
package main

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/sftphook/internal/config"
	"github.com/HerbHall/sftphook/internal/version"
)

const usage = `usage: sftphook <command> [flags]

commands:
  check     load the plugin configuration and report what would be bound
  watch     read observer events from the FIFO into the audit database
  backup    archive the audit database and configuration files
  restore   restore a backup archive
  version   print version information
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "check":
		runCheck(args)
	case "watch":
		runWatch(args)
	case "backup":
		runBackup(args)
	case "restore":
		runRestore(args)
	case "version", "-version", "--version":
		fmt.Println(version.Info())
	case "help", "-h", "-help", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

// buildLogger returns a zap logger for the log settings. Development mode
// switches to the console encoder.
func buildLogger(s config.LogSettings) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if s.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	if s.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	return cfg.Build(zap.Fields(zap.String("version", version.Short())))
}

// loadSettings reads the configuration or exits.
func loadSettings(path string) *config.Settings {
	settings, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}
	return settings
}
