package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"fdsengine/bootstrap"
	"fdsengine/core"
	"fdsengine/detect"

	"github.com/spf13/cobra"
)

// ruleSummary is the printable shape of a compiled rule
type ruleSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Action     string   `json:"action,omitempty"`
	Terminal   bool     `json:"terminal"`
	Threshold  int64    `json:"detection_threshold"`
	Prefixes   []string `json:"index_prefix,omitempty"`
	Leaves     int      `json:"leaves"`
	OnDetected []string `json:"on_detected,omitempty"`
}

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule catalogs",
	}
	rulesCmd.AddCommand(newRulesValidateCmd())
	return rulesCmd
}

func newRulesValidateCmd() *cobra.Command {
	var rulesFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a rule catalog",
		Long: `Compile every rule in a catalog exactly as the engine would, reporting the
first invalid rule by id and path. No store connection is made.`,
		Example: `  fdsengine rules validate --rules rules.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sugar, err := loadCLIConfig()
			if err != nil {
				return err
			}
			if rulesFile != "" {
				cfg.Rules.File = rulesFile
			}

			rules, err := detect.LoadRules(cfg.Rules.File, bootstrap.LoaderOptionsFromConfig(cfg), sugar)
			if err != nil {
				errorColor.Fprintf(cmd.ErrOrStderr(), "Invalid catalog: ")
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			return printRules(cmd.OutOrStdout(), cfg.Rules.File, rules)
		},
	}

	cmd.Flags().StringVar(&rulesFile, "rules", "", "Rule catalog (YAML or JSON); overrides rules.file")
	return cmd
}

func summarizeRule(r *core.Rule) ruleSummary {
	s := ruleSummary{
		ID:        r.ID,
		Name:      r.Name,
		Action:    string(r.Action),
		Terminal:  r.Action.IsTerminal(),
		Threshold: r.Threshold(),
		Prefixes:  r.IndexPrefixes,
	}
	core.Walk(r.Steps, func(n core.Node) {
		if _, ok := n.(*core.Leaf); ok {
			s.Leaves++
		}
	})
	for _, a := range r.OnDetected {
		s.OnDetected = append(s.OnDetected, string(a.CacheType))
	}
	return s
}

func printRules(w io.Writer, file string, rules []*core.Rule) error {
	summaries := make([]ruleSummary, 0, len(rules))
	for _, r := range rules {
		summaries = append(summaries, summarizeRule(r))
	}

	if outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	successColor.Fprintf(w, "✓ %s: %d rules valid\n\n", file, len(rules))
	if len(rules) == 0 {
		warningColor.Fprintln(w, "Catalog is empty")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTION\tTHRESHOLD\tLEAVES\tINDEX PREFIX\tON DETECTED")
	for _, s := range summaries {
		action := s.Action
		if action == "" {
			action = "-"
		}
		if s.Terminal {
			action += " (terminal)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			s.ID, action, s.Threshold, s.Leaves,
			orDash(strings.Join(s.Prefixes, ",")),
			orDash(strings.Join(s.OnDetected, ",")))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
