package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hive-corporation/dfir-engine/internal/adapter/llm"
	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/pipeline"
	"github.com/hive-corporation/dfir-engine/internal/ui/colorize"
)

func (a *app) scanCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Scan a script for indicators without deobfuscating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			client, closeConn, err := a.remote(cmd)
			if err != nil {
				return err
			}
			defer closeConn()

			var iocs []domain.Indicator
			if client != nil {
				if iocs, err = client.ScanIOCs(cmd.Context(), code); err != nil {
					return err
				}
			} else {
				iocs = domain.ScanStaticIOCs(code)
			}

			if asJSON {
				if iocs == nil {
					iocs = []domain.Indicator{}
				}
				return writeJSON(cmd.OutOrStdout(), iocs)
			}
			printIndicators(cmd.OutOrStdout(), iocs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print indicators as JSON")
	return cmd
}

func (a *app) transformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transform <step> <file>",
		Short: "Apply a single deterministic step",
		Long: `Apply one of the local steps (STABILIZE, LITERAL_DECODE, ROTATION_RESOLVE)
to a script and print the result.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			step := domain.Step(strings.ToUpper(args[0]))
			if !step.IsDeterministic() {
				return fmt.Errorf("step %q cannot run standalone", args[0])
			}
			code, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}

			client, closeConn, err := a.remote(cmd)
			if err != nil {
				return err
			}
			defer closeConn()

			var content string
			if client != nil {
				if content, err = client.Transform(cmd.Context(), step, code); err != nil {
					return err
				}
			} else {
				outcome, err := pipeline.NewDispatcher(nil).Execute(cmd.Context(), step, code)
				if err != nil {
					return err
				}
				a.opts.Logger.Info("✅ "+outcome.Description, "step", step)
				content = outcome.Content
			}

			out := cmd.OutOrStdout()
			if colorOutput(out) {
				if highlighted, err := colorize.JavaScript(content); err == nil {
					content = highlighted
				}
			}
			fmt.Fprintln(out, content)
			return nil
		},
	}
}

func (a *app) poolCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "pool <file>",
		Short: "Inspect the string pool and its rotation routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			pool, found := domain.FindStringPool(code)
			_, report := domain.ResolveArrayRotationsReport(code)
			if asJSON {
				return writeJSON(out, map[string]any{
					"found":    found,
					"name":     pool.Name,
					"strings":  pool.Strings,
					"rotation": report,
				})
			}

			if !found {
				fmt.Fprintln(out, "⚠️ No string pool declaration found")
				return nil
			}
			fmt.Fprintf(out, "🔍 Pool %s holds %d strings\n", pool.Name, len(pool.Strings))
			switch {
			case !report.Applied:
				fmt.Fprintln(out, "   No rotation routine found")
			case report.Ambiguous:
				fmt.Fprintf(out, "⚠️ Rotation by %s (%d moves); %s counter may differ by one\n", report.RawOffset, report.Moves, report.Variant)
			default:
				fmt.Fprintf(out, "✅ Rotation by %s (%d moves)\n", report.RawOffset, report.Moves)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the pool and rotation report as JSON")
	return cmd
}

func (a *app) providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List model providers and whether they are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, p := range a.registry().List() {
				mark := "✅"
				if !p.Configured {
					mark = "⚠️ (no API key)"
				}
				fmt.Fprintf(out, "%-14s %-20s %s\n", p.ID, p.Name, mark)
			}
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the analysis report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := llm.AnalysisSchema()
			if err != nil {
				return fmt.Errorf("failed to build schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}
}
