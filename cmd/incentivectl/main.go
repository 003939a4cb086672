// Command incentivectl manages a local rules directory and evaluates
// incentive requests against it without running the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liamcoop/incentives/calculator"
	"github.com/liamcoop/incentives/internal/logger"
	"github.com/liamcoop/incentives/registry"
	"github.com/liamcoop/incentives/rules"
)

type rootOptions struct {
	installRoot string
	rulesDir    string
	logLevel    string
}

// rulesRegistry resolves the rules root from flags, then INCENTIVE_RULES_DIR
func (o *rootOptions) rulesRegistry() *registry.Registry {
	override := o.rulesDir
	if override == "" {
		override = os.Getenv(registry.RootEnvVar)
	}
	return registry.New(registry.ResolveRoot(o.installRoot, override))
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "incentivectl",
		Short:         "Inspect rule documents and evaluate tax incentives locally",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			return logger.Setup(cmd.Context(), logger.Options{Level: level, SampleRate: 1, Output: errOut})
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&opts.installRoot, "install-root", ".", "installation root containing the rules directory")
	root.PersistentFlags().StringVar(&opts.rulesDir, "rules-dir", "", "rules directory, absolute or relative to the install root (default $"+registry.RootEnvVar+" or <install-root>/rules)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newInitCmd(opts),
		newCodesCmd(opts),
		newValidateCmd(opts),
		newEvaluateCmd(opts),
	)
	return root
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the rules directory if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.rulesRegistry().EnsureRootExists()
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "rules root ready: %s\n", res.Path)
			return nil
		},
	}
}

func newCodesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "List jurisdiction codes with a rule document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := opts.rulesRegistry()
			codes, err := reg.ListAvailableCodes()
			if err != nil {
				return err
			}
			if len(codes) == 0 {
				color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "no rule documents under %s\n", reg.Root())
				return nil
			}
			for _, code := range codes {
				fmt.Fprintln(cmd.OutOrStdout(), code)
			}
			return nil
		},
	}
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [files...]",
		Short: "Parse rule documents and print their digests",
		Long:  "Validates the given rule files, or every document in the rules directory when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				var err error
				if paths, err = registryPaths(opts.rulesRegistry()); err != nil {
					return err
				}
			}
			if len(paths) == 0 {
				return errors.New("no rule documents to validate")
			}

			ok := color.New(color.FgGreen)
			bad := color.New(color.FgRed)
			out := cmd.OutOrStdout()

			failed := 0
			for _, path := range paths {
				digest, err := validateFile(path)
				if err != nil {
					failed++
					bad.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				ok.Fprintf(out, "OK   %s %s\n", path, digest)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d rule documents invalid", failed, len(paths))
			}
			return nil
		},
	}
}

func registryPaths(reg *registry.Registry) ([]string, error) {
	codes, err := reg.ListAvailableCodes()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(codes))
	for _, code := range codes {
		res, ok := reg.FindResource(code)
		if !ok {
			// listed from a file whose name is not the canonical <CODE>.json
			logger.Warn("rule document not resolvable by code", "jurisdiction_code", code, "root", reg.Root())
			continue
		}
		paths = append(paths, res.Path)
	}
	return paths, nil
}

func validateFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	rule, err := rules.Parse(data)
	if err != nil {
		return "", err
	}
	return rule.Digest()
}

type evaluateOptions struct {
	code      string
	expenses  string
	startDate string
	verbose   bool
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	eval := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate expenses against a jurisdiction's rule",
		Example: "  incentivectl evaluate --code IL --expenses expenses.json --start-date 2024-03-01\n" +
			"  cat expenses.json | incentivectl evaluate --code GA --expenses - --verbose",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			expenses, err := readExpenses(eval.expenses, cmd.InOrStdin())
			if err != nil {
				return err
			}

			service, err := calculator.New(rules.NewFileRuleStore(opts.rulesRegistry()),
				calculator.WithLogger(logger.Logger),
			)
			if err != nil {
				return err
			}

			resp, err := service.Calculate(cmd.Context(), calculator.Request{
				JurisdictionCode:    eval.code,
				ProductionStartDate: eval.startDate,
				Expenses:            expenses,
				Verbose:             eval.verbose,
			})
			if err != nil {
				return err
			}

			if !resp.Eligible && len(resp.Breakdown) > 0 {
				color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "not eligible: %s\n", resp.Breakdown[0].SkipReason)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&eval.code, "code", "", "jurisdiction code (required)")
	cmd.Flags().StringVar(&eval.expenses, "expenses", "", `JSON array of expense items, "-" for stdin`)
	cmd.Flags().StringVar(&eval.startDate, "start-date", "", "production start date, YYYY-MM-DD")
	cmd.Flags().BoolVar(&eval.verbose, "verbose", false, "include flags, trace, warnings and meta")
	_ = cmd.MarkFlagRequired("code")

	return cmd
}

// readExpenses loads expense items from path. An empty path means no expenses.
func readExpenses(path string, stdin io.Reader) ([]rules.ExpenseItem, error) {
	var data []byte
	var err error

	switch strings.TrimSpace(path) {
	case "":
		return nil, nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read expenses: %w", err)
	}

	var items []rules.ExpenseItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse expenses %s: %w", path, err)
	}
	return items, nil
}

// describeError adds field detail for validation failures
func describeError(err error) string {
	var verr *calculator.ValidationError
	if errors.As(err, &verr) {
		lines := make([]string, 0, len(verr.Fields)+1)
		lines = append(lines, "invalid request:")
		for _, f := range verr.Fields {
			lines = append(lines, fmt.Sprintf("  %s: %s", f.Field, f.Message))
		}
		return strings.Join(lines, "\n")
	}
	if errors.Is(err, registry.ErrNotFound) {
		return "unknown jurisdiction: " + err.Error()
	}
	return err.Error()
}

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, describeError(err))
		os.Exit(1)
	}
}
