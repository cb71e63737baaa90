// Package clfpipe evaluates supervised classifiers on tabular data.
//
// A run holds out a stratified test split, trains a decision tree (rpart)
// or an RBF support vector machine (svmRadial) on the rest, optionally
// tuning hyperparameters by repeated stratified k-fold cross-validation,
// and reports accuracy statistics on the held-out rows: the confusion
// matrix, per-class precision, recall and F1, Cohen's kappa, a 95%
// Clopper-Pearson interval and a one-sided binomial test against the
// no-information rate.
//
// # Installation
//
//	go install github.com/YuminosukeSato/clfpipe/cmd/clfpipe@latest
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//	    "log"
//	    "os"
//
//	    "github.com/YuminosukeSato/clfpipe/dataset"
//	    "github.com/YuminosukeSato/clfpipe/pipeline"
//	    "github.com/YuminosukeSato/clfpipe/report"
//	)
//
//	func main() {
//	    ds, err := dataset.Load(context.Background(), "credit.csv", dataset.FormatCSV)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    cfg := pipeline.DefaultConfig() // 70/30 split, seed 99, 10-fold CV x3
//	    cfg.Target = "Class"
//	    cfg.Variant = pipeline.SVMRadial
//
//	    res, err := pipeline.Run(context.Background(), ds, cfg)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    report.WriteText(os.Stdout, report.Summarize(res, "credit.csv"))
//	}
//
// # Packages
//
//   - dataset: columnar datasets and the CSV/TSV loader (local or http)
//   - preprocessing: one-hot encoding, standardisation, design matrices
//   - sklearn/tree: CART classifier with rpart-style stopping rules
//   - sklearn/svm: RBF support vector classifier and sigma estimation
//   - sklearn/model_selection: stratified splits, k-fold, grid search
//   - metrics: accuracy, confusion matrix, kappa, intervals, p-values
//   - pipeline: the end-to-end run, Prometheus instrumentation
//   - report: text, markdown, JSON, tree listings and plots
//   - store: bbolt-backed run history
//   - core/model, core/parallel: estimator interfaces and the worker pool
//   - pkg/errors, pkg/log: error taxonomy and structured logging
//
// # Command Line
//
//	clfpipe run credit.csv --target Class --variant svmRadial --store runs.db
//	clfpipe split credit.csv --target Class
//	clfpipe history --store runs.db
//	clfpipe show <run-id> --store runs.db --format markdown
//
// Settings can also come from a YAML file (--config), a .env file and
// CLFPIPE_* environment variables.
package clfpipe
