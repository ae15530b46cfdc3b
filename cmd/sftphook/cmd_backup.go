package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HerbHall/sftphook/internal/backup"
)

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	output := fs.String("output", "", "output file path (default: sftphook-backup-{timestamp}.tar.gz)")
	dataDir := fs.String("data-dir", ".", "directory containing the audit database")
	configFile := fs.String("config", "", "path to sftphook.yaml to include in backup")
	pluginConf := fs.String("plugins", "", "plugin list file to include in backup")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dbPath := filepath.Join(*dataDir, dbName)

	if *output == "" {
		*output = fmt.Sprintf("sftphook-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	ctx := context.Background()
	if err := backup.Backup(ctx, dbPath, []string{*configFile, *pluginConf}, *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s\n", *output)
}
