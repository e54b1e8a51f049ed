package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terravista/lot-sales/app"
	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
)

// runApplyDue applies every due contract with a bounded worker pool. Each
// contract is its own transaction under its own lock, so a failure never
// cancels the others; failures are listed at the end.
func runApplyDue(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("apply-due", flag.ContinueOnError)
	asOfRaw := fs.String("as-of", "", "apply readjustments with reference date on or before this date (default today)")
	workers := fs.Int("workers", 4, "contracts applied concurrently")
	dryRun := fs.Bool("dry-run", false, "list due contracts without applying")
	quiet := fs.Bool("quiet", false, "hide the progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workers < 1 {
		return fmt.Errorf("-workers must be at least 1")
	}

	asOf := generic.Today()
	if d, err := parseOptionalDate("as-of", *asOfRaw); err != nil {
		return err
	} else if d != nil {
		asOf = *d
	}

	due, err := a.Engine.DueContracts(ctx, asOf)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		fmt.Fprintf(out, "no readjustments due as of %s\n", asOf)
		return nil
	}
	if *dryRun {
		for _, id := range due {
			fmt.Fprintln(out, id)
		}
		fmt.Fprintf(out, "%d contract(s) due as of %s\n", len(due), asOf)
		return nil
	}

	barOut := out
	if *quiet {
		barOut = io.Discard
	}
	bar := progressbar.NewOptions(len(due),
		progressbar.OptionSetWriter(barOut),
		progressbar.OptionSetDescription("applying"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	progress := func(reajuste.BatchOutcome) { _ = bar.Add(1) }
	var outcomes []reajuste.BatchOutcome
	if *workers == 1 {
		outcomes, err = a.Engine.ApplyDue(ctx, asOf, progress)
	} else {
		outcomes = applyAll(ctx, a.Engine, due, *workers, progress)
	}
	_ = bar.Finish()
	if err != nil {
		return err
	}

	return summarize(out, a.Log, outcomes)
}

// applyAll applies ids concurrently, at most workers at a time. Outcomes
// come back ordered by contract id.
func applyAll(ctx context.Context, engine *reajuste.Engine, ids []reajuste.ContractID, workers int, progress func(reajuste.BatchOutcome)) []reajuste.BatchOutcome {
	var (
		mu       sync.Mutex
		outcomes = make([]reajuste.BatchOutcome, 0, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			o := reajuste.BatchOutcome{ContractID: id}
			if err := gctx.Err(); err != nil {
				o.Err = err
			} else if rec, err := engine.Apply(gctx, id); err != nil {
				o.Err = err
			} else {
				o.Record = &rec
			}
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
			if progress != nil {
				progress(o)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].ContractID < outcomes[j].ContractID })
	return outcomes
}

func summarize(out io.Writer, log *zap.Logger, outcomes []reajuste.BatchOutcome) error {
	var applied, skipped, failed int
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			applied++
			fmt.Fprintf(out, "applied  %s  installment %d  %s -> %s\n",
				o.ContractID, o.Record.ReferenceInstallment,
				o.Record.OriginalValue.StringFixed(2), o.Record.AdjustedValue.StringFixed(2))
		case o.Skipped():
			skipped++
			fmt.Fprintf(out, "skipped  %s  %v\n", o.ContractID, o.Err)
		default:
			failed++
			fmt.Fprintf(out, "FAILED   %s  %v\n", o.ContractID, o.Err)
			log.Error("apply failed", zap.String("contract_id", string(o.ContractID)), zap.Error(o.Err))
		}
	}
	fmt.Fprintf(out, "\n%d applied, %d skipped, %d failed\n", applied, skipped, failed)
	if failed > 0 {
		return errBatchFailures
	}
	return nil
}
