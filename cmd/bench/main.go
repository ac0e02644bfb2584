package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/eegbench/internal/config"
	"github.com/danielpatrickdp/eegbench/internal/results"
)

// #region main

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "bench",
		Short:         "Benchmark EEG decoding pipelines across subjects, sessions and datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML run config (defaults apply when empty)")
	root.AddCommand(newRunCmd(), newInspectCmd(), newServeCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region helpers

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Parse(nil)
	}
	return config.Load(configPath)
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// failureDB returns the database unit failures are logged to: the results
// database itself for SQLite, a "<dir>.errors.db" file next to a Badger
// directory. The returned close func is a no-op when the store owns the handle.
func failureDB(store results.Store, storePath string) (*sql.DB, func() error, error) {
	if s, ok := store.(interface{ DB() *sql.DB }); ok {
		return s.DB(), func() error { return nil }, nil
	}
	db, err := sql.Open("sqlite", storePath+".errors.db")
	if err != nil {
		return nil, nil, fmt.Errorf("open failure log: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return db, db.Close, nil
}

// #endregion helpers
