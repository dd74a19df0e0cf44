package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solatis/policydesk/internal/client"
	"github.com/solatis/policydesk/internal/condtree"
	"github.com/solatis/policydesk/internal/policydoc"
	"github.com/solatis/policydesk/internal/rules"
	"github.com/solatis/policydesk/internal/types"
	"github.com/solatis/policydesk/internal/validate"
)

var errValidationFailed = errors.New("validation failed")

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Work with policy documents locally and on the server",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a policy document",
	Long: `Validate a policy document (use - for stdin). With --watch the file is
re-validated after every save, once writes have settled.`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyValidate,
}

var policyFmtCmd = &cobra.Command{
	Use:   "fmt <file>",
	Short: "Rewrite a policy document in canonical form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		out, err := policydoc.Format(doc)
		if err != nil {
			return err
		}
		if write, _ := cmd.Flags().GetBool("write"); write && args[0] != "-" {
			return os.WriteFile(args[0], []byte(out), 0o644)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), out)
		return err
	},
}

var policyTestCmd = &cobra.Command{
	Use:   "test [file]",
	Short: "Evaluate a transaction payload against a policy",
	Long: `Evaluate a transaction payload against a local policy document, or with
--id against a stored policy on the server (the active version unless
--version is given; a file argument tests unsaved edits).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPolicyTest,
}

var policyTreeCmd = &cobra.Command{
	Use:   "tree <file>",
	Short: "Show the condition tree of every rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		list, err := policydoc.ParseYAML(doc)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range list {
			kindColor.Fprintf(out, "%s", r.Name)
			fmt.Fprintf(out, " [%s, priority %d]\n", r.Action, r.Priority)
			for _, line := range strings.Split(strings.TrimRight(condtree.NewDraft(r).Tree().Render(), "\n"), "\n") {
				fmt.Fprintf(out, "  %s\n", line)
			}
		}
		return nil
	},
}

var policyEditCmd = &cobra.Command{
	Use:   "edit <file>",
	Short: "Add, replace or delete a condition of one rule",
	Long: `Edit the condition tree of one rule by path and print the regenerated
document. Paths are "root" or dotted group indices such as "root.all.0".

  policydesk policy edit rules.yaml --rule big --add root=all
  policydesk policy edit rules.yaml --rule big --set 'root.all.0={"field":"amount","op":"gt","value":100}'
  policydesk policy edit rules.yaml --rule big --delete root.all.0 -w`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyEdit,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd, policyFmtCmd, policyTestCmd, policyTreeCmd, policyEditCmd)

	policyValidateCmd.Flags().Bool("watch", false, "re-validate on every save")
	policyValidateCmd.Flags().StringSlice("fields", nil, "known payload fields (overrides validation.known_fields)")
	policyValidateCmd.Flags().Bool("json", false, "print the result as JSON")

	policyFmtCmd.Flags().BoolP("write", "w", false, "write the result back to the file")

	policyTestCmd.Flags().String("payload", "", "transaction JSON, or @file")
	policyTestCmd.Flags().Bool("json", false, "print the decision as JSON")
	policyTestCmd.Flags().String("id", "", "stored policy id")
	policyTestCmd.Flags().Int("version", 0, "stored version to test")
	policyTestCmd.MarkFlagRequired("payload")

	policyEditCmd.Flags().String("rule", "", "rule name")
	policyEditCmd.Flags().String("add", "", "path=kind, kind one of field, any, all")
	policyEditCmd.Flags().String("set", "", "path=condition JSON")
	policyEditCmd.Flags().String("delete", "", "path to delete")
	policyEditCmd.Flags().BoolP("write", "w", false, "write the result back to the file")
	policyEditCmd.MarkFlagRequired("rule")
	policyEditCmd.MarkFlagsOneRequired("add", "set", "delete")
	policyEditCmd.MarkFlagsMutuallyExclusive("add", "set", "delete")
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// payloadFlag reads --payload as inline JSON or, prefixed with @, a file.
func payloadFlag(cmd *cobra.Command) (json.RawMessage, error) {
	raw, _ := cmd.Flags().GetString("payload")
	data := []byte(raw)
	if name, ok := strings.CutPrefix(raw, "@"); ok {
		var err error
		if data, err = readInput(cmd, name); err != nil {
			return nil, err
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return data, nil
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fields := cfg.Validation.KnownFields
	if cmd.Flags().Changed("fields") {
		fields, _ = cmd.Flags().GetStringSlice("fields")
	}
	validator := validate.New(fields)
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	check := func() (bool, error) {
		doc, err := readInput(cmd, args[0])
		if err != nil {
			return false, err
		}
		res := validator.Validate(doc)
		if asJSON {
			return res.Valid, printJSON(out, res)
		}
		printValidation(out, args[0], res)
		return res.Valid, nil
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		if args[0] == "-" {
			return fmt.Errorf("--watch needs a file, not stdin")
		}
		if _, err := check(); err != nil {
			return err
		}
		return watchFile(cmd.Context(), args[0], cfg.Validation.Debounce, func() {
			if _, err := check(); err != nil {
				errorColor.Fprintln(cmd.ErrOrStderr(), err)
			}
		})
	}

	valid, err := check()
	if err != nil {
		return err
	}
	if !valid {
		return errValidationFailed
	}
	return nil
}

func splitAssignment(flag, value string) (string, string, error) {
	path, rhs, ok := strings.Cut(value, "=")
	if !ok || path == "" {
		return "", "", fmt.Errorf("--%s must be path=value", flag)
	}
	return path, rhs, nil
}

func runPolicyEdit(cmd *cobra.Command, args []string) error {
	doc, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	list, err := policydoc.ParseYAML(doc)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("rule")
	idx := -1
	for i, r := range list {
		if r.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("rule %q not found", name)
	}

	draft := condtree.NewDraft(list[idx])
	flags := cmd.Flags()
	switch {
	case flags.Changed("add"):
		v, _ := flags.GetString("add")
		path, kindName, err := splitAssignment("add", v)
		if err != nil {
			return err
		}
		kind, err := types.ParseConditionKind(kindName)
		if err != nil {
			return err
		}
		draft, err = draft.AddCondition(path, kind)
		if err != nil {
			return err
		}
	case flags.Changed("set"):
		v, _ := flags.GetString("set")
		path, raw, err := splitAssignment("set", v)
		if err != nil {
			return err
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("--set condition: %w", err)
		}
		c, err := types.FromValue(value)
		if err != nil {
			return err
		}
		if draft, err = draft.UpdateCondition(path, c); err != nil {
			return err
		}
	default:
		path, _ := flags.GetString("delete")
		if draft, err = draft.DeleteCondition(path); err != nil {
			return err
		}
	}
	list[idx] = draft.Rule()

	out, err := policydoc.GenerateYAML(list)
	if err != nil {
		return err
	}
	if write, _ := flags.GetBool("write"); write && args[0] != "-" {
		return os.WriteFile(args[0], []byte(out), 0o644)
	}
	_, err = io.WriteString(cmd.OutOrStdout(), out)
	return err
}

func runPolicyTest(cmd *cobra.Command, args []string) error {
	payload, err := payloadFlag(cmd)
	if err != nil {
		return err
	}
	var doc []byte
	if len(args) == 1 {
		if doc, err = readInput(cmd, args[0]); err != nil {
			return err
		}
	}

	var d rules.Decision
	if id, _ := cmd.Flags().GetString("id"); id != "" {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		version, _ := cmd.Flags().GetInt("version")
		res, err := c.TestPolicy(cmd.Context(), types.PolicyID(id), payload, client.TestOptions{YAML: string(doc), Version: version})
		if err != nil {
			return err
		}
		d = res.Decision
	} else {
		if len(args) == 0 {
			return fmt.Errorf("a policy file or --id is required")
		}
		compiled, err := rules.CompileDocument(string(doc))
		if err != nil {
			return err
		}
		if d, err = rules.EvaluatePolicy(compiled, payload); err != nil {
			return err
		}
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), d)
	}
	printDecision(cmd.OutOrStdout(), d)
	return nil
}
