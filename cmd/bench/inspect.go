package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/eegbench/internal/results"
	"github.com/danielpatrickdp/eegbench/internal/runlog"
)

// #region command

type inspectFlags struct {
	evaluation string
	dataset    string
	pipeline   string
	errors     bool
	runID      string
	jsonOut    bool
}

func newInspectCmd() *cobra.Command {
	var f inspectFlags
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List stored results or logged unit failures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := results.Open(cfg.Store.Path, newLogger(cfg.Logging, os.Stderr))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()
			if f.errors {
				return runErrorsMode(store, cfg.Store.Path, f)
			}
			return runListMode(cmd, store, f)
		},
	}
	cmd.Flags().StringVar(&f.evaluation, "evaluation", "", "only show results of this evaluation kind")
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "only show this dataset code")
	cmd.Flags().StringVar(&f.pipeline, "pipeline", "", "only show this pipeline")
	cmd.Flags().BoolVar(&f.errors, "errors", false, "show logged unit failures instead of results")
	cmd.Flags().StringVar(&f.runID, "run", "", "with --errors, only show this run id")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "output as JSON instead of table")
	return cmd
}

// #endregion command

// #region list-mode

type listRow struct {
	Evaluation  string         `json:"evaluation"`
	Paradigm    string         `json:"paradigm"`
	Dataset     string         `json:"dataset"`
	Subject     int            `json:"subject"`
	Session     string         `json:"session,omitempty"`
	Pipeline    string         `json:"pipeline"`
	DataSize    *float64       `json:"data_size,omitempty"`
	Permutation *int           `json:"permutation,omitempty"`
	Score       float64        `json:"score"`
	Time        float64        `json:"time"`
	NSamples    int            `json:"n_samples"`
	Emissions   *float64       `json:"carbon_emission,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	RunID       string         `json:"run_id"`
	CreatedAt   string         `json:"created_at"`
}

func runListMode(cmd *cobra.Command, store results.Store, f inspectFlags) error {
	entries, err := store.All(cmd.Context())
	if err != nil {
		return err
	}

	var rows []listRow
	for _, e := range entries {
		if f.evaluation != "" && e.Key.Evaluation != f.evaluation {
			continue
		}
		if f.dataset != "" && e.Key.Dataset != f.dataset {
			continue
		}
		if f.pipeline != "" && e.Key.Pipeline != f.pipeline {
			continue
		}
		row := listRow{
			Evaluation: e.Key.Evaluation,
			Paradigm:   e.Key.Paradigm,
			Dataset:    e.Key.Dataset,
			Subject:    e.Key.Subject,
			Session:    e.Key.Session,
			Pipeline:   e.Key.Pipeline,
			Score:      e.Score,
			Time:       e.FitTime + e.ScoreTime,
			NSamples:   e.NSamples,
			Emissions:  e.Emissions,
			Extra:      e.Extra,
			RunID:      e.RunID,
			CreatedAt:  e.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if e.Key.Permutation != results.NoSize {
			size, perm := e.Key.DataSize, e.Key.Permutation
			row.DataSize, row.Permutation = &size, &perm
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no results found")
		return nil
	}

	if f.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVALUATION\tDATASET\tSUBJECT\tSESSION\tPIPELINE\tDATA_SIZE\tPERM\tSCORE\tTIME\tCREATED")
	for _, r := range rows {
		size, perm := "-", "-"
		if r.DataSize != nil {
			size, perm = fmt.Sprintf("%g", *r.DataSize), fmt.Sprintf("%d", *r.Permutation)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%.3f\t%.3f\t%s\n",
			r.Evaluation, r.Dataset, r.Subject, r.Session, r.Pipeline, size, perm, r.Score, r.Time, r.CreatedAt)
	}
	return tw.Flush()
}

// #endregion list-mode

// #region errors-mode

func runErrorsMode(store results.Store, storePath string, f inspectFlags) error {
	db, closeDB, err := failureDB(store, storePath)
	if err != nil {
		return err
	}
	defer closeDB()
	if err := runlog.EnsureSchema(db); err != nil {
		return err
	}

	failures, err := runlog.List(db, f.runID)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		fmt.Fprintln(os.Stderr, "no unit failures logged")
		return nil
	}
	if f.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(failures)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tDATASET\tSUBJECT\tSESSION\tPIPELINE\tSTAGE\tERROR")
	for _, fe := range failures {
		if f.dataset != "" && fe.Dataset != f.dataset {
			continue
		}
		if f.pipeline != "" && fe.Pipeline != f.pipeline {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			shortID(fe.RunID), fe.Dataset, fe.Subject, fe.Session, fe.Pipeline, fe.Stage, fe.Error)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion errors-mode
