package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/pipeline"
	"github.com/hive-corporation/dfir-engine/internal/ui/colorize"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var threatMarks = map[domain.ThreatLevel]string{
	domain.ThreatCritical: "🔴",
	domain.ThreatHigh:     "🟠",
	domain.ThreatMedium:   "🟡",
	domain.ThreatLow:      "🟢",
}

var statusMarks = map[domain.StepStatus]string{
	domain.StatusSuccess: "✅",
	domain.StatusWarning: "⚠️",
	domain.StatusError:   "❌",
}

func (a *app) runCmd() *cobra.Command {
	var (
		offline  bool
		asJSON   bool
		provider string
	)

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run the deobfuscation pipeline over a script",
		Long: `Run every pipeline step over the script and print the recovered code,
the step history and the indicators of compromise. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			if provider == "" {
				provider = a.opts.Config.Provider
			}

			client, closeConn, err := a.remote(cmd)
			if err != nil {
				return err
			}
			defer closeConn()

			var rec domain.RunRecord
			var runErr error
			if client != nil {
				rec, runErr = client.Deobfuscate(cmd.Context(), input, provider, offline)
			} else {
				req := pipeline.RunRequest{Input: input, Provider: provider}
				if offline {
					req.Steps = domain.OfflineSteps()
				}
				rec, runErr = a.engine().Run(cmd.Context(), req)
			}
			// runs that never started have no id
			if runErr != nil && rec.ID == "" {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, rec); err != nil {
					return err
				}
				return runErr
			}
			printRun(out, rec, colorOutput(out))
			return runErr
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Run only the local deterministic steps")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run record as JSON")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Provider for delegated steps (default from DFIR_PROVIDER)")
	return cmd
}

func printRun(w io.Writer, rec domain.RunRecord, color bool) {
	style := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	fmt.Fprintf(w, "%s\n", style(headingStyle, fmt.Sprintf("🔍 Run %s %s after %d steps", shortID(rec.ID), rec.State, len(rec.History))))
	for _, res := range rec.History {
		fmt.Fprintf(w, "  %s %-18s %s\n", statusMarks[res.Status], res.Step, style(mutedStyle, res.Description))
	}

	fmt.Fprintln(w)
	artifact := rec.Artifact
	if color {
		if highlighted, err := colorize.JavaScript(artifact); err == nil {
			artifact = highlighted
		}
	}
	fmt.Fprintln(w, strings.TrimRight(artifact, "\n"))
	fmt.Fprintln(w)

	if rec.Report != nil {
		mark := threatMarks[rec.Report.ThreatLevel]
		fmt.Fprintf(w, "%s\n", style(headingStyle, fmt.Sprintf("%s Threat level %s", mark, strings.ToUpper(string(rec.Report.ThreatLevel)))))
		if rec.Report.AttackVector != "" {
			fmt.Fprintf(w, "   %s\n", rec.Report.AttackVector)
		}
	}
	printIndicators(w, rec.Indicators())
}

func printIndicators(w io.Writer, iocs []domain.Indicator) {
	if len(iocs) == 0 {
		fmt.Fprintln(w, "✅ No indicators found")
		return
	}

	fmt.Fprintf(w, "🚨 %d indicators\n", len(iocs))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, ioc := range iocs {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", ioc.Type, ioc.Value, ioc.Context)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
