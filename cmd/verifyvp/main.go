// Command verifyvp is the CLI driver for the verification engine. Its
// `run` subcommand parses one .vp model, runs verify.Run, and
// prints the compact results code, a JSON document, or a canonical CBOR
// document; `version` reports the binary and report-format versions.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/opal-lang/verifpal-go/internal/ast"
	"github.com/opal-lang/verifpal-go/internal/diag"
	"github.com/opal-lang/verifpal-go/internal/narrative"
	"github.com/opal-lang/verifpal-go/internal/output"
	"github.com/opal-lang/verifpal-go/internal/parser"
	"github.com/opal-lang/verifpal-go/internal/pretty"
	"github.com/opal-lang/verifpal-go/internal/search"
	"github.com/opal-lang/verifpal-go/internal/verify"
)

// Exit codes mirror the diag error kinds: a model's ill-formedness
// (parse/sanity) is distinguished from this binary's own operational
// failures so a calling script can tell "fix your model" from "file not
// found".
const (
	exitOK            = 0
	exitAttackFound   = 1
	exitUsage         = 2
	exitIOError       = 3
	exitModelError    = 4
	exitInternalError = 5
)

// buildVersion is overridden at release build time via -ldflags; "dev"
// covers the common local-build case.
var buildVersion = "dev"

func main() {
	var (
		forceActive  bool
		forcePassive bool
		format       string
		watch        bool
		narrate      bool
		noColor      bool
		timeout      time.Duration
	)

	root := &cobra.Command{
		Use:   "verifyvp",
		Short: "verify a protocol model against a passive or active Dolev-Yao attacker",
	}

	run := &cobra.Command{
		Use:           "run <model.vp>",
		Short:         "verify one model file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if forceActive && forcePassive {
				return fmt.Errorf("--active and --passive are mutually exclusive")
			}
			switch format {
			case "text", "json", "cbor":
			default:
				return fmt.Errorf("--format must be one of text, json, cbor (got %q)", format)
			}
			path := args[0]

			var attackerOverride *ast.AttackerModel
			if forceActive {
				a := ast.Active
				attackerOverride = &a
			} else if forcePassive {
				p := ast.Passive
				attackerOverride = &p
			}

			runOneShot := func() (int, error) {
				return runOnce(cmd, path, attackerOverride, timeout, format, narrate, shouldUseColor(noColor))
			}

			code, err := runOneShot()
			if !watch {
				if err != nil {
					return err
				}
				os.Exit(code)
			}
			return watchLoop(cmd, path, runOneShot)
		},
	}
	run.Flags().BoolVar(&forceActive, "active", false, "verify against an active attacker, overriding the model's own directive")
	run.Flags().BoolVar(&forcePassive, "passive", false, "verify against a passive attacker, overriding the model's own directive")
	run.Flags().StringVar(&format, "format", "text", "output format: text, json, or cbor")
	run.Flags().BoolVar(&watch, "watch", false, "re-verify whenever the model file changes")
	run.Flags().BoolVar(&narrate, "narrate", false, "print a plain-English summary line per query (text format only)")
	run.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI color in text output even when stdout is a terminal")
	run.Flags().DurationVar(&timeout, "timeout", 0, "abort the active search after this long (0 = no timeout)")

	version := &cobra.Command{
		Use:   "version",
		Short: "print the binary and report-format versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "verifyvp %s (report format %s)\n", buildVersion, output.ReportFormatVersion)
			return nil
		},
	}

	prettyCmd := &cobra.Command{
		Use:           "pretty <model.vp>",
		Short:         "parse a model and print it back as canonical .vp source",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			model, err := parser.Parse(args[0], string(src))
			if err != nil {
				printDiag(cmd, err)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), pretty.Model(model))
			return nil
		},
	}

	root.AddCommand(run, version, prettyCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "verifyvp:", err)
		os.Exit(exitInternalError)
	}
}

// runOnce parses and verifies path once, printing the result in the
// requested format. The returned int is the process exit code this run
// earned. Parse and sanity errors are printed here and returned as an exit
// code with a nil err; err is non-nil only for operational failures
// (reading the file, encoding the output), which --watch reports before
// it keeps watching.
func runOnce(cmd *cobra.Command, path string, attackerOverride *ast.AttackerModel, timeout time.Duration, format string, narrate, useColor bool) (int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return exitIOError, err
	}

	model, err := parser.Parse(path, string(src))
	if err != nil {
		printDiag(cmd, err)
		return exitModelError, nil
	}

	report, err := verify.Run(context.Background(), model, verify.Options{
		Attacker: attackerOverride,
		Budget:   search.DefaultBudget(),
		Timeout:  timeout,
	})
	if err != nil {
		printDiag(cmd, err)
		return exitModelError, nil
	}

	switch format {
	case "json":
		doc := output.FromReport(report)
		b, err := output.Marshal(doc)
		if err != nil {
			return exitInternalError, err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
	case "cbor":
		b, err := output.EncodeCBOR(report)
		if err != nil {
			return exitInternalError, err
		}
		if _, err := cmd.OutOrStdout().Write(b); err != nil {
			return exitInternalError, err
		}
	default:
		fmt.Fprintln(cmd.OutOrStdout(), report.Code)
		if narrate {
			fmt.Fprintln(cmd.OutOrStdout(), narrative.Opening(report))
			for _, line := range narrative.Summarize(report) {
				fmt.Fprintln(cmd.OutOrStdout(), " ", line)
			}
		} else {
			for i, q := range report.Queries {
				o := report.Results.Get(i)
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", queryLabel(q), colorizeVerdict(o.Resolved, o.Attack, o.Summary, useColor))
				if o.WitnessID != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "    witness: %s\n", o.WitnessID)
				}
				for _, p := range o.Preconditions {
					fmt.Fprintf(cmd.OutOrStdout(), "    precondition %s -> %s: %s: %v\n", p.Sender, p.Recipient, p.Constant, p.Held)
				}
			}
		}
	}

	if !report.Results.AllResolved() {
		return exitAttackFound, nil
	}
	for i := range report.Queries {
		if report.Results.Get(i).Attack {
			return exitAttackFound, nil
		}
	}
	return exitOK, nil
}

func queryLabel(q ast.Query) string {
	switch q.Kind {
	case ast.QueryAuthentication:
		if len(q.Message.Constants) > 0 {
			return fmt.Sprintf("authentication? %s -> %s: %s", q.Message.Sender, q.Message.Recipient, q.Message.Constants[0].Name)
		}
		return "authentication?"
	default:
		return fmt.Sprintf("query %v", q.Constants)
	}
}

func verdictLabel(resolved, attack bool, summary string) string {
	switch {
	case !resolved:
		return "UNRESOLVED (search budget exhausted without a verdict)"
	case attack:
		return "FAILS — " + summary
	default:
		return "holds — " + summary
	}
}

// colorizeVerdict renders the same text verdictLabel does, in red for a
// found attack, yellow for unresolved, green for holding.
func colorizeVerdict(resolved, attack bool, summary string, useColor bool) string {
	label := verdictLabel(resolved, attack, summary)
	switch {
	case !resolved:
		return colorize(label, colorYellow, useColor)
	case attack:
		return colorize(label, colorRed, useColor)
	default:
		return colorize(label, colorGreen, useColor)
	}
}

func printDiag(cmd *cobra.Command, err error) {
	fmt.Fprintln(cmd.ErrOrStderr(), "verifyvp:", err)
	var parseErr *diag.ParseError
	if errors.As(err, &parseErr) && parseErr.Hint != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "  hint:", parseErr.Hint)
	}
}

// watchLoop re-runs fn whenever path changes on disk, until the process
// is interrupted. A plain-text loop, so it has no terminal-capability
// gating of its own.
func watchLoop(cmd *cobra.Command, path string, fn func() (int, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), "---", ev.Name, "changed, re-verifying ---")
			if _, err := fn(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "verifyvp:", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "watch error:", err)
		}
	}
}
