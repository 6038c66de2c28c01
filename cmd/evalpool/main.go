// evalpool runs the partial evaluator over every method of a set of class
// files and prints a YAML report.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/speakeasy-api/jvmeval/partialeval"
	"github.com/speakeasy-api/jvmeval/pkg/batch"
	"github.com/speakeasy-api/jvmeval/pkg/classfile"
	"github.com/speakeasy-api/jvmeval/pkg/optimize"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "evaluator options file (.yaml, .yml or .toml)",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "concurrent evaluations (default: number of CPUs)",
	}
	cacheSizeFlag = &cli.IntFlag{
		Name:  "cache-size",
		Usage: "number of cached method results",
		Value: batch.DefaultConfig().CacheSize,
	}
	summariesFlag = &cli.BoolFlag{
		Name:  "summaries",
		Usage: "record call arguments, field writes and return values and print the constant ones",
	}
	outputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "write the YAML report to this file instead of stdout",
	}
	strictFlag = &cli.BoolFlag{
		Name:  "strict",
		Usage: "exit with status 1 if any method fails",
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "log progress through zap",
	}
)

func main() {
	app := &cli.App{
		Name:      "evalpool",
		Usage:     "partially evaluate all methods of a set of class files",
		ArgsUsage: "PATH...",
		Flags: []cli.Flag{
			configFlag,
			workersFlag,
			cacheSizeFlag,
			summariesFlag,
			outputFlag,
			strictFlag,
			verboseFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one class file or directory is required", 2)
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		color.NoColor = true
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := batch.DefaultConfig()
	if path := c.String(configFlag.Name); path != "" {
		opts, err := partialeval.LoadOptions(path)
		if err != nil {
			return err
		}
		cfg.Evaluation = opts
	}
	if n := c.Int(workersFlag.Name); n > 0 {
		cfg.Workers = n
	}
	cfg.CacheSize = c.Int(cacheSizeFlag.Name)
	cfg.RecordSummaries = c.Bool(summariesFlag.Name)
	if c.Bool(verboseFlag.Name) {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer zl.Sync() //nolint:errcheck
		cfg.Evaluation.Logger = partialeval.NewZapLogger(zl)
	}

	pool, err := classfile.LoadPool(ctx, c.Args().Slice(), cfg.Workers)
	if err != nil {
		return err
	}
	analyzer, err := batch.NewAnalyzer(cfg)
	if err != nil {
		return err
	}
	report, err := analyzer.Analyze(ctx, pool)
	if report == nil {
		return err
	}
	if err != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "analysis interrupted: %v\n", err)
	}

	if err := writeReport(c, report); err != nil {
		return err
	}
	if msg := batch.FormatDiagnostics(report); msg != "" {
		color.New(color.FgRed).Fprint(os.Stderr, msg)
	}
	if report.Summaries != nil {
		printConstants(report.Summaries)
	}
	if c.Bool(strictFlag.Name) && report.Counts[batch.StatusFailed] > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func writeReport(c *cli.Context, report *batch.Report) error {
	data, err := report.YAML()
	if err != nil {
		return err
	}
	if path := c.String(outputFlag.Name); path != "" {
		return os.WriteFile(path, data, 0o644)
	}
	_, err = c.App.Writer.Write(data)
	return err
}

// printConstants lists fields and methods that only ever hold or return
// one constant.
func printConstants(s *partialeval.Summaries) {
	table := tablewriter.NewWriter(os.Stderr)
	table.SetHeader([]string{"Member", "Kind", "Constant"})
	table.SetAutoWrapText(false)
	rows := 0
	for _, ref := range s.Fields() {
		if v, ok := optimize.ConstantField(s, ref); ok {
			table.Append([]string{ref.String(), "field", v.String()})
			rows++
		}
	}
	for _, ref := range s.Methods() {
		if v, ok := optimize.ConstantReturn(s, ref); ok {
			table.Append([]string{ref.String(), "return", v.String()})
			rows++
		}
		params, ok := optimize.SpecializeParameters(s, ref)
		if !ok {
			continue
		}
		for _, p := range params {
			if p.Specializable {
				table.Append([]string{ref.String(), fmt.Sprintf("slot %d", p.Slot), p.Value.String()})
				rows++
			}
		}
	}
	if rows > 0 {
		table.Render()
	}
}
