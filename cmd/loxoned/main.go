// Command loxoned connects to a Loxone Miniserver, authenticates, and
// streams its live telemetry into Postgres (§1).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/MatusOllah/slogcolor"
	"gorm.io/gorm/logger"

	"github.com/loxone-go/miniserverd/internal/config"
	"github.com/loxone-go/miniserverd/internal/loxcc"
	"github.com/loxone-go/miniserverd/internal/store"
	"github.com/loxone-go/miniserverd/internal/supervisor"
)

var (
	isVerbose  = flag.Bool("verbose", false, "Enable display of DEBUG log messages")
	configFile = flag.String("config", "config.yaml", "Path to the YAML configuration file")
	backupDir  = flag.String("backup-dir", "", "If set, decompress a LoxAPP3.loxcc backup from this directory instead of connecting")
)

func main() {
	flag.Parse()

	opts := slogcolor.DefaultOptions
	if *isVerbose {
		opts.Level = slog.LevelDebug
	} else {
		opts.Level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, opts)))

	if *backupDir != "" {
		if err := decompressBackup(*backupDir); err != nil {
			slog.Error("loxcc: decompress failed", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("config: load failed", "fn", *configFile, "error", err)
		os.Exit(1)
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if *isVerbose {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	st, err := store.Open(cfg.Database.DSN, gormLogger)
	if err != nil {
		slog.Error("store: open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	sup := supervisor.New(cfg.Miniserver, st)
	if err := sup.Run(ctx); err != nil {
		slog.Error("supervisor: exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("loxoned: exiting")
}

// decompressBackup reads a sps0.LoxCC archive (the compressed configuration
// backup a Miniserver can be asked to export) and writes its decoded
// contents to stdout (§4.3).
func decompressBackup(dir string) error {
	path := dir + "/LoxAPP3.loxcc"

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	data, err := loxcc.Decompress(f, info.Size())
	if err != nil {
		return fmt.Errorf("decompress %s: %w", path, err)
	}

	_, err = os.Stdout.Write(data)
	return err
}
