package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/eegbench/internal/config"
	"github.com/danielpatrickdp/eegbench/internal/evaluation"
	"github.com/danielpatrickdp/eegbench/internal/results"
	"github.com/danielpatrickdp/eegbench/internal/runlog"
)

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LoggingConfig{Format: "json", Level: "warn"}, &buf).Info("hidden")
	newLogger(config.LoggingConfig{Format: "json", Level: "warn"}, &buf).Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"k":1`) {
		t.Fatalf("expected JSON line, got %s", out)
	}
}

func TestLocalFactoriesSkipRemote(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Pipelines = append(cfg.Pipelines, config.PipelineConfig{Name: "served", Remote: "csp+lda"})

	factories := localFactories(cfg)
	if len(factories) != 1 {
		t.Fatalf("expected 1 local factory, got %d", len(factories))
	}
	a, err := factories["lv+nm"]()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	b, _ := factories["lv+nm"]()
	if a == b {
		t.Fatal("factory must build a fresh estimator per call")
	}
}

func TestFailureDBPerBackend(t *testing.T) {
	dir := t.TempDir()

	sq, err := results.Open(filepath.Join(dir, "r.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sq.Close()
	db, closeDB, err := failureDB(sq, filepath.Join(dir, "r.db"))
	if err != nil {
		t.Fatalf("failureDB sqlite: %v", err)
	}
	if db != sq.(*results.SQLiteStore).DB() {
		t.Fatal("sqlite store should share its handle")
	}
	closeDB()

	bdir := filepath.Join(dir, "badger")
	bg, err := results.Open(bdir, nil)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer bg.Close()
	db, closeDB, err = failureDB(bg, bdir)
	if err != nil {
		t.Fatalf("failureDB badger: %v", err)
	}
	defer closeDB()
	if err := runlog.EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
}

func TestBuiltinColumns(t *testing.T) {
	cols, err := builtinColumns([]string{"seed", "fold_note"}, 7)(context.Background(), evaluation.Record{})
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if len(cols) != 1 || cols["seed"] != uint64(7) {
		t.Fatalf("expected only the known requested column, got %v", cols)
	}
}
