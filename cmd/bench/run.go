package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/danielpatrickdp/eegbench/internal/codec"
	"github.com/danielpatrickdp/eegbench/internal/evaluation"
	"github.com/danielpatrickdp/eegbench/internal/results"
	"github.com/danielpatrickdp/eegbench/internal/telemetry"
)

// #region command

type runFlags struct {
	jsonOut     bool
	metricsAddr string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the configured pipelines on every configured dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmark(cmd.Context(), f)
		},
	}
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print records as JSON lines instead of a table")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

// #endregion command

// #region run

func runBenchmark(ctx context.Context, f runFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	store, err := results.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	failures, closeFailures, err := failureDB(store, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer closeFailures()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(reg)
	if f.metricsAddr != "" {
		srv := &http.Server{Addr: f.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}

	tp := sdktrace.NewTracerProvider()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	tracker, err := cfg.BuildEmissions()
	if err != nil {
		return err
	}
	par, err := cfg.BuildParadigm()
	if err != nil {
		return err
	}

	var client *codec.Client
	if cfg.HasRemote() {
		client, err = codec.NewClient(cfg.Estimator.Addr)
		if err != nil {
			return err
		}
		defer client.Close()
	}
	pipes, err := cfg.BuildPipelines(client)
	if err != nil {
		return err
	}

	opts := []evaluation.Option{
		evaluation.WithParadigm(par),
		evaluation.WithStore(store),
		evaluation.WithLogger(logger),
		evaluation.WithEmissions(tracker),
		evaluation.WithMetrics(metrics),
		evaluation.WithTracer(telemetry.NewTracer(tp)),
		evaluation.WithRunLog(failures),
	}
	if cols := cfg.Evaluation.AdditionalColumns; len(cols) > 0 {
		opts = append(opts, evaluation.WithColumns(builtinColumns(cols, cfg.Evaluation.Seed)))
	}
	engine, err := evaluation.New(cfg.EngineConfig(), opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	bench := &evaluation.Benchmark{Engine: engine, Datasets: cfg.BuildDatasets()}
	recs, sum, err := bench.Process(ctx, pipes, cfg.ParamGrid)
	if printErr := printRecords(recs, f.jsonOut); printErr != nil {
		return printErr
	}
	logger.Info("benchmark finished",
		"run_id", engine.RunID(),
		"datasets", sum.Datasets,
		"incompatible", len(sum.Incompatible),
		"emitted", sum.Stats.Emitted,
		"skipped", sum.Stats.Skipped,
		"failed", sum.Stats.Failed,
	)
	return err
}

// builtinColumns serves the requested additional columns the CLI knows how
// to fill. Names it does not know are left out and fail their unit.
func builtinColumns(names []string, seed uint64) evaluation.ColumnFunc {
	host, _ := os.Hostname()
	known := map[string]any{
		"host":      host,
		"seed":      seed,
		"time_unit": "s",
	}
	return func(context.Context, evaluation.Record) (map[string]any, error) {
		out := make(map[string]any, len(names))
		for _, n := range names {
			if v, ok := known[n]; ok {
				out[n] = v
			}
		}
		return out, nil
	}
}

// #endregion run

// #region output

func printRecords(recs []evaluation.Record, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range recs {
			if err := enc.Encode(r.Map()); err != nil {
				return err
			}
		}
		return nil
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no new records")
		return nil
	}
	slices.SortStableFunc(recs, func(a, b evaluation.Record) int {
		return cmp.Or(strings.Compare(a.Dataset, b.Dataset), cmp.Compare(a.Subject, b.Subject))
	})
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tSUBJECT\tSESSION\tPIPELINE\tSCORE\tTIME\tN_SAMPLES\tDATA_SIZE\tPERM")
	for _, r := range recs {
		size, perm := "-", "-"
		if r.LearningCurve {
			size, perm = fmt.Sprintf("%g", r.DataSize), fmt.Sprintf("%d", r.Permutation)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%.3f\t%.3f\t%d\t%s\t%s\n",
			r.Dataset, r.Subject, r.Session, r.Pipeline, r.Score, r.FitTime+r.ScoreTime, r.NSamples, size, perm)
	}
	return tw.Flush()
}

// #endregion output
