/*
main.go - Operator CLI for the readjustment engine

USAGE:
  reajuste forecast  [-from YYYY-MM-DD -to YYYY-MM-DD] [-json]
  reajuste report    [-contract ID] [-index IGPM] [-status applied] [-from ...] [-to ...]
  reajuste apply-due [-as-of YYYY-MM-DD] [-workers N] [-dry-run]

  Configuration comes from the same sources as the server (config.toml,
  .env, REAJUSTE_* variables); -db and -driver override the database.

EXIT CODES:
  0  success
  1  usage or configuration error
  2  apply-due finished with failed contracts
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/terravista/lot-sales/app"
	"github.com/terravista/lot-sales/config"
	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app.App, args []string, out io.Writer) error
}

var commands = []command{
	{"forecast", "preview readjustments in a date window", runForecast},
	{"report", "print the readjustment history report as JSON", runReport},
	{"apply-due", "apply every readjustment due on or before a date", runApplyDue},
}

// errBatchFailures marks an apply-due run where some contracts failed.
var errBatchFailures = errors.New("some readjustments failed")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		printUsage(stderr)
		return 1
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "configuration: %v\n", err)
		return 1
	}
	rest, err := applyGlobalFlags(cfg, args[1:])
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	logr, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer logr.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logr)
	if err != nil {
		logr.Error("failed to initialize", zap.Error(err))
		return 1
	}
	defer a.Close()

	if err := cmd.run(ctx, a, rest, stdout); err != nil {
		if errors.Is(err, errBatchFailures) {
			return 2
		}
		fmt.Fprintf(stderr, "%s: %v\n", cmd.name, err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: reajuste <command> [-db DSN] [-driver sqlite3|postgres] [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.usage)
	}
}

// applyGlobalFlags strips -db/-driver (which may appear anywhere) and
// returns the remaining arguments for the subcommand.
func applyGlobalFlags(cfg *config.Config, args []string) ([]string, error) {
	var rest []string
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(strings.TrimLeft(args[i], "-"), "=")
		if !strings.HasPrefix(args[i], "-") || (name != "db" && name != "driver") {
			rest = append(rest, args[i])
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("flag -%s needs a value", name)
			}
			i++
			value = args[i]
		}
		if name == "db" {
			cfg.Database.DSN = value
		} else {
			cfg.Database.Driver = value
		}
	}
	return rest, cfg.Validate()
}

func parseOptionalDate(name, raw string) (*generic.TimePoint, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("-%s: %w", name, err)
	}
	return &d, nil
}

// =============================================================================
// FORECAST
// =============================================================================

func runForecast(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	from := fs.String("from", "", "window start (default today)")
	to := fs.String("to", "", "window end (default today + early warning days)")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params, err := a.Engine.Parameters().Get(ctx)
	if err != nil {
		return err
	}
	window := generic.DaysFrom(generic.Today(), params.EarlyWarningDays)
	if d, err := parseOptionalDate("from", *from); err != nil {
		return err
	} else if d != nil {
		window.Start = *d
	}
	if d, err := parseOptionalDate("to", *to); err != nil {
		return err
	} else if d != nil {
		window.End = *d
	}

	recs, err := a.Engine.Forecast(ctx, window)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTRACT\tINSTALLMENT\tREFERENCE DATE\tINDEX\tTOTAL %\tORIGINAL\tADJUSTED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s %s\t%s\t%s\t%s\n",
			r.ContractID, r.ReferenceInstallment, r.ReferenceDate,
			r.IndexName, r.IndexValue, r.TotalPercent,
			r.OriginalValue.StringFixed(2), r.AdjustedValue.StringFixed(2))
	}
	fmt.Fprintf(tw, "\n%d readjustment(s) in %s\n", len(recs), window)
	return tw.Flush()
}

// =============================================================================
// REPORT
// =============================================================================

func runReport(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	contract := fs.String("contract", "", "only this contract")
	index := fs.String("index", "", "only this index")
	status := fs.String("status", "", "only this status")
	from := fs.String("from", "", "reference date lower bound")
	to := fs.String("to", "", "reference date upper bound")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := reajuste.RecordFilter{
		ContractID: reajuste.ContractID(*contract),
		IndexName:  reajuste.IndexName(strings.ToUpper(*index)),
		Status:     reajuste.RecordStatus(*status),
	}
	var err error
	if f.From, err = parseOptionalDate("from", *from); err != nil {
		return err
	}
	if f.To, err = parseOptionalDate("to", *to); err != nil {
		return err
	}

	report, err := reajuste.NewReporter(a.Store, a.Store, nil).BuildReport(ctx, f)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
