// inspect-method disassembles the methods of a class file and prints the
// partial evaluation table of each one.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/speakeasy-api/jvmeval/partialeval"
	"github.com/speakeasy-api/jvmeval/pkg/classfile"
	"github.com/speakeasy-api/jvmeval/pkg/optimize"
	"github.com/speakeasy-api/jvmeval/pkg/tablefmt"
	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "evaluator options file (.yaml, .yml or .toml)",
	}
	methodFlag = &cli.StringFlag{
		Name:    "method",
		Aliases: []string{"m"},
		Usage:   "only inspect methods with this name, optionally followed by a descriptor",
	}
	columnsFlag = &cli.StringSliceFlag{
		Name:  "columns",
		Usage: "table columns: offset, instruction, visits, stack, variables, stackAfter, variablesAfter, successors",
	}
	unreachableFlag = &cli.BoolFlag{
		Name:  "unreachable",
		Usage: "also list instructions that are never reached",
	}
	maxWidthFlag = &cli.IntFlag{
		Name:  "max-width",
		Usage: "truncate cells wider than this",
		Value: 60,
	}
	plainFlag = &cli.BoolFlag{
		Name:  "plain",
		Usage: "aligned text instead of a bordered table",
	}
	noColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "disable colored output",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "evaluator log level (error, warn, info, debug)",
	}
)

func main() {
	app := &cli.App{
		Name:      "inspect-method",
		Usage:     "print partial evaluation tables of class file methods",
		ArgsUsage: "CLASSFILE",
		Flags: []cli.Flag{
			configFlag,
			methodFlag,
			columnsFlag,
			unreachableFlag,
			maxWidthFlag,
			plainFlag,
			noColorFlag,
			logLevelFlag,
		},
		Action: inspect,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func inspect(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one class file is required", 2)
	}
	if c.Bool(noColorFlag.Name) || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	opts := partialeval.DefaultOptions()
	if path := c.String(configFlag.Name); path != "" {
		var err error
		if opts, err = partialeval.LoadOptions(path); err != nil {
			return err
		}
	}
	if level := c.String(logLevelFlag.Name); level != "" {
		opts.LogLevel = level
	}
	evaluator, err := partialeval.NewPartialEvaluator(opts)
	if err != nil {
		return err
	}

	cfg, err := tablefmt.ValidateConfig(tablefmt.Config{
		Columns:     c.StringSlice(columnsFlag.Name),
		MaxWidth:    c.Int(maxWidthFlag.Name),
		Unreachable: c.Bool(unreachableFlag.Name),
	})
	if err != nil {
		return err
	}

	cf, err := classfile.ParseFile(c.Args().First())
	if err != nil {
		return err
	}

	filter := c.String(methodFlag.Name)
	out := c.App.Writer
	found := false
	for i := range cf.Methods {
		mi := &cf.Methods[i]
		if mi.Code == nil || !matches(filter, mi.Name, mi.Descriptor) {
			continue
		}
		found = true

		m, err := cf.Method(mi)
		if err != nil {
			color.New(color.FgRed).Fprintf(out, "%s.%s%s: %v\n\n", cf.Name(), mi.Name, mi.Descriptor, err)
			continue
		}
		table, err := evaluator.Evaluate(m)
		if err != nil {
			color.New(color.FgRed).Fprintf(out, "%v\n\n", err)
			continue
		}
		if err := printTable(out, table, cfg, c.Bool(plainFlag.Name)); err != nil {
			return err
		}
	}
	if !found {
		return cli.Exit(fmt.Sprintf("no method with code matches %q", filter), 1)
	}
	return nil
}

// matches reports whether a method is selected by filter, which is empty,
// a name, or a name and descriptor.
func matches(filter, name, desc string) bool {
	if filter == "" {
		return true
	}
	if i := strings.IndexByte(filter, '('); i >= 0 {
		return filter[:i] == name && filter[i:] == desc
	}
	return filter == name
}

func printTable(w io.Writer, t *partialeval.Table, cfg tablefmt.Config, plain bool) error {
	if plain {
		s, err := tablefmt.Render(t, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, s)
		return nil
	}

	header, rows, err := tablefmt.Rows(t, cfg)
	if err != nil {
		return err
	}
	title := color.New(color.Bold)
	title.Fprint(w, t.Method().String())
	if t.Aborted() {
		color.New(color.FgYellow).Fprint(w, " (aborted, results are conservative)")
	}
	fmt.Fprintf(w, "  %d visits\n", t.Visits())

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(rows)
	table.Render()

	if v, ok := t.ReturnValue(); ok {
		fmt.Fprintf(w, "returns %s\n", v)
	}
	warn := color.New(color.FgYellow)
	for _, d := range optimize.DeadBranches(t) {
		warn.Fprintf(w, "dead branch at %d (%s): never takes %v\n", d.Offset, d.Opcode, d.NeverTaken)
	}
	for _, r := range optimize.UnreachableRanges(t) {
		warn.Fprintf(w, "unreachable code in [%d, %d)\n", r.Start, r.End)
	}
	fmt.Fprintln(w)
	return nil
}
