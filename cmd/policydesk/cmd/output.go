package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/solatis/policydesk/internal/rules"
	"github.com/solatis/policydesk/internal/validate"
)

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
	kindColor  = color.New(color.FgCyan)
)

// printValidation renders a result grouped by issue kind.
func printValidation(w io.Writer, name string, res validate.Result) {
	if res.Valid {
		okColor.Fprintf(w, "%s: valid", name)
	} else {
		errorColor.Fprintf(w, "%s: invalid", name)
	}
	m := res.Metadata
	fmt.Fprintf(w, " (%d rules, max depth %d", m.RuleCount, m.MaxDepth)
	actions := make([]string, 0, len(m.Actions))
	for a, n := range m.Actions {
		actions = append(actions, fmt.Sprintf("%s=%d", a, n))
	}
	sort.Strings(actions)
	if len(actions) > 0 {
		fmt.Fprintf(w, ", %s", strings.Join(actions, " "))
	}
	fmt.Fprintln(w, ")")

	printIssues(w, "error", errorColor, res.Errors)
	printIssues(w, "warning", warnColor, res.Warnings)
}

func printIssues(w io.Writer, label string, c *color.Color, issues []validate.Issue) {
	byKind := map[validate.Kind][]validate.Issue{}
	var kinds []string
	for _, is := range issues {
		if _, ok := byKind[is.Kind]; !ok {
			kinds = append(kinds, string(is.Kind))
		}
		byKind[is.Kind] = append(byKind[is.Kind], is)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		kindColor.Fprintf(w, "  %s\n", k)
		for _, is := range byKind[validate.Kind(k)] {
			c.Fprintf(w, "    %s: ", label)
			fmt.Fprintln(w, is.String())
		}
	}
}

func printDecision(w io.Writer, d rules.Decision) {
	switch d.Decision {
	case rules.VerdictBlock:
		errorColor.Fprint(w, d.Decision)
	case rules.VerdictFlag:
		warnColor.Fprint(w, d.Decision)
	default:
		okColor.Fprint(w, d.Decision)
	}
	if d.MatchedRule != "" {
		fmt.Fprintf(w, " by %q", d.MatchedRule)
	}
	fmt.Fprintf(w, " (%d rules evaluated)\n", d.Evaluated)
	for _, r := range d.Results {
		if !r.Matched {
			continue
		}
		fmt.Fprintf(w, "  matched %s [%s, priority %d]", r.RuleName, r.Action, r.Priority)
		if r.MatchedField != "" {
			fmt.Fprintf(w, " on %s=%v", r.MatchedField, r.MatchedValue)
		}
		fmt.Fprintln(w)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
