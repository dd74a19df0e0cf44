package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solatis/policydesk/internal/esg"
)

var esgCmd = &cobra.Command{
	Use:   "esg",
	Short: "Sustainability-linked loan KPI tools",
}

var esgCheckCmd = &cobra.Command{
	Use:   "check <kpis.json|kpis.yaml>",
	Short: "Check KPIs against their targets and total the margin adjustment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		kpis, err := decodeKPIs(args[0], data)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KPI\tTYPE\tCURRENT\tTARGET\tSTATUS")
		for _, k := range kpis {
			current := "-"
			if k.CurrentValue != nil {
				current = fmt.Sprintf("%g", *k.CurrentValue)
			}
			status := errorColor.Sprint("missed")
			switch {
			case k.CurrentValue == nil:
				status = warnColor.Sprint("no data")
			case esg.IsTargetMet(k):
				status = okColor.Sprint("met")
			}
			direction := ">="
			if esg.LowerIsBetter(k.KPIType) {
				direction = "<="
			}
			fmt.Fprintf(tw, "%s\t%s\t%s %s\t%g %s\t%s\n", k.Name, k.KPIType, current, k.Unit, k.TargetValue, direction, status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		s := esg.Summarize(kpis)
		fmt.Fprintf(out, "\n%d/%d targets met, %d without data, margin adjustment %+g bps\n", s.Met, s.Total, s.Missing, s.AdjustmentBps)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(esgCmd)
	esgCmd.AddCommand(esgCheckCmd)
}

// decodeKPIs accepts a JSON or YAML list of KPIs. YAML is normalised
// through JSON so both formats share the json field names.
func decodeKPIs(name string, data []byte) ([]esg.KPI, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".yaml" || ext == ".yml" {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}
	var kpis []esg.KPI
	if err := json.Unmarshal(data, &kpis); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return kpis, nil
}
