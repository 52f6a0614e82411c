package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sleepdx/internal/ml/encoding"
	pgrepo "sleepdx/internal/repository/postgres"
	"sleepdx/internal/services/training"
	"sleepdx/pkg/errors"
)

var (
	dryRun      bool
	inspectJSON bool
	importTable string
	onnxPath    string

	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "Read the corpus, fit and evaluate a model, and publish the artifact",
		RunE:  runTrain,
	}

	bundleCmd = &cobra.Command{
		Use:   "bundle --onnx <model.onnx>",
		Short: "Package an externally trained ONNX model with the fitted registry and publish it",
		RunE:  runBundle,
	}

	cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Encode the corpus and store the clean CSV and the fitted registry",
		RunE:  runClean,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect [key]",
		Short: "Show the contract, registry and evaluation of a published artifact",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInspect,
	}

	importCmd = &cobra.Command{
		Use:   "import <csv>",
		Short: "Load a raw corpus CSV into the Postgres corpus table",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
)

func init() {
	trainCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Train and evaluate without publishing")
	bundleCmd.Flags().StringVar(&onnxPath, "onnx", "", "Path of the ONNX classifier to bundle")
	bundleCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Check and evaluate the model without publishing")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the artifact metadata as JSON")
	importCmd.Flags().StringVar(&importTable, "table", "", "Target table (defaults to TRAINING_CORPUS_TABLE)")
}

func runTrain(cmd *cobra.Command, args []string) error {
	svc, err := a.trainingService()
	if err != nil {
		return err
	}

	report, err := svc.Train(cmd.Context(), dryRun)
	if err != nil {
		return err
	}

	art := report.Result.Artifact
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Model %s (%s), %d features, trained in %s\n\n",
		art.Version, art.Model.Kind, art.Contract.Width(), report.Result.Duration.Round(time.Millisecond))
	printOutcome(cmd, report)
	return nil
}

func runBundle(cmd *cobra.Command, args []string) error {
	if onnxPath == "" {
		return errors.Wrap(errors.ErrInvalidInput, "bundle needs --onnx")
	}
	model, err := os.ReadFile(onnxPath)
	if err != nil {
		return errors.Wrapf(err, "read %s", onnxPath)
	}

	svc, err := a.trainingService()
	if err != nil {
		return err
	}

	report, err := svc.Bundle(cmd.Context(), model, dryRun)
	if err != nil {
		return err
	}

	art := report.Result.Artifact
	fmt.Fprintf(cmd.OutOrStdout(), "Model %s (%s, %s), %d features x %d classes\n\n",
		art.Version, art.Model.Kind, humanize.Bytes(uint64(len(model))), art.Contract.Width(), len(art.Contract.TargetLabels))
	printOutcome(cmd, report)
	return nil
}

// printOutcome prints the evaluation and where the artifact went
func printOutcome(cmd *cobra.Command, report *training.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, report.Result.Artifact.Evaluation.Report())

	if report.Published == nil {
		fmt.Fprintln(out, "\nDry run: nothing published")
		return
	}
	fmt.Fprintf(out, "\nPublished %s (%s) to %s and %s\n",
		report.Published.Version,
		humanize.Bytes(uint64(report.Published.Size)),
		report.Published.Key,
		report.Published.VersionKey,
	)
}

func runClean(cmd *cobra.Command, args []string) error {
	svc, err := a.trainingService()
	if err != nil {
		return err
	}

	clean, err := svc.Clean(cmd.Context())
	if err != nil {
		return err
	}

	ds := clean.Dataset
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Encoded %d rows x %d features\n", len(ds.Features), ds.Contract.Width())
	for i, n := range ds.ClassCounts() {
		fmt.Fprintf(out, "  %-12s %d\n", ds.Contract.TargetLabels[i], n)
	}
	if len(ds.Ignored) > 0 {
		fmt.Fprintf(out, "Ignored columns: %s\n", strings.Join(ds.Ignored, ", "))
	}
	fmt.Fprintf(out, "Wrote %s and %s\n", clean.CleanKey, clean.RegistryKey)
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	svc, err := a.trainingService()
	if err != nil {
		return err
	}

	key := ""
	if len(args) == 1 {
		key = args[0]
	}
	insp, err := svc.Inspect(cmd.Context(), key)
	if err != nil {
		return err
	}

	art := insp.Artifact
	out := cmd.OutOrStdout()
	if inspectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"key":        insp.Key,
			"size":       insp.Size,
			"version":    art.Version,
			"created_at": art.CreatedAt,
			"kind":       art.Model.Kind,
			"contract":   art.Contract,
			"registry":   art.Registry,
			"evaluation": art.Evaluation,
			"corpus":     art.Corpus,
			"params":     art.Params,
		})
	}

	fmt.Fprintf(out, "Key:      %s (%s)\n", insp.Key, humanize.Bytes(uint64(insp.Size)))
	fmt.Fprintf(out, "Version:  %s\n", art.Version)
	fmt.Fprintf(out, "Created:  %s (%s)\n", art.CreatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(art.CreatedAt))
	fmt.Fprintf(out, "Model:    %s\n", art.Model.Kind)
	fmt.Fprintf(out, "Corpus:   %s, %d rows, classes %v\n", art.Corpus.Source, art.Corpus.Rows, art.Corpus.Classes)
	fmt.Fprintf(out, "Features: %s\n", strings.Join(art.Contract.Columns, ", "))
	fmt.Fprintf(out, "Target:   %s %v\n", art.Contract.Target, art.Contract.TargetLabels)

	for _, col := range art.Contract.Categorical {
		v, ok := art.Registry.Vocabulary(col)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "  %-14s %v (default %s)\n", col, v.Labels, v.Labels[v.Default])
	}

	if art.Evaluation != nil {
		fmt.Fprintf(out, "\n%s", art.Evaluation.Report())
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if a.pg == nil {
		return errors.Wrap(errors.ErrInvalidInput, "import needs POSTGRES_HOST")
	}
	table := importTable
	if table == "" {
		table = a.cfg.Training.CorpusTable
	}

	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "open %s", args[0])
	}
	defer f.Close()

	raw, err := encoding.ReadCSV(f)
	if err != nil {
		return err
	}

	// COPY only runs inside a transaction
	tx, err := a.pg.DB().BeginTxx(cmd.Context(), nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	repo := pgrepo.NewCorpusRepository(tx)
	if err := repo.ReplaceCorpus(cmd.Context(), table, raw.Columns, raw.Rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit corpus import")
	}

	a.log.Infow("Corpus imported", "table", table, "rows", len(raw.Rows), "columns", len(raw.Columns))
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows into %s\n", len(raw.Rows), table)
	return nil
}
