package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/policydesk/internal/client"
	"github.com/solatis/policydesk/internal/types"
)

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		search, _ := cmd.Flags().GetString("search")
		order, _ := cmd.Flags().GetString("sort")

		policies, err := c.ListPolicies(cmd.Context(), client.ListOptions{Status: types.Status(status)})
		if err != nil {
			return err
		}
		return printPolicies(cmd.OutOrStdout(), client.FilterPolicies(policies, "", search, client.PolicySort(order)))
	},
}

var policyPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show the approval queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		policies, err := c.PendingApproval(cmd.Context())
		if err != nil {
			return err
		}
		return printPolicies(cmd.OutOrStdout(), client.FilterPolicies(policies, "", "", client.SortUpdated))
	},
}

var policyPushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Create or update a policy from a document",
	Long: `Create a policy from a document, or with --id store the document as the
next version of an existing policy. --strict refuses documents that do not
validate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		in := client.PolicyInput{YAML: string(doc)}
		in.Name, _ = flags.GetString("name")
		in.Description, _ = flags.GetString("description")
		in.Category, _ = flags.GetString("category")
		in.ChangeLog, _ = flags.GetString("message")
		in.Strict, _ = flags.GetBool("strict")

		var p types.Policy
		if id, _ := flags.GetString("id"); id != "" {
			if in.Name == "" {
				current, err := c.GetPolicy(cmd.Context(), types.PolicyID(id))
				if err != nil {
					return err
				}
				in.Name, in.Description, in.Category = current.Name, current.Description, current.Category
			}
			p, err = c.UpdatePolicy(cmd.Context(), types.PolicyID(id), in)
		} else {
			p, err = c.CreatePolicy(cmd.Context(), in)
		}
		if err != nil {
			return err
		}
		okColor.Fprintf(cmd.OutOrStdout(), "%s %s version %d (%s)\n", p.ID, p.Name, p.Version, p.Status)
		return nil
	},
}

func decisionCommand(use, short string, fn func(*client.Client, *cobra.Command, types.PolicyID, string) (types.Policy, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <policy-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient(cmd)
			if err != nil {
				return err
			}
			comment, _ := cmd.Flags().GetString("comment")
			p, err := fn(c, cmd, types.PolicyID(args[0]), comment)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s (active version %d)\n", p.ID, p.Status, p.ActiveVersion)
			return nil
		},
	}
	cmd.Flags().String("comment", "", "comment recorded in the approval history")
	return cmd
}

var policyRollbackCmd = &cobra.Command{
	Use:   "rollback <policy-id>",
	Short: "Activate an earlier version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		version, _ := cmd.Flags().GetInt("version")
		p, err := c.Rollback(cmd.Context(), types.PolicyID(args[0]), version)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s active version is now %d\n", p.ID, p.ActiveVersion)
		return nil
	},
}

var policyHistoryCmd = &cobra.Command{
	Use:   "history <policy-id>",
	Short: "Show version and approval history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		id := types.PolicyID(args[0])
		versions, err := c.Versions(cmd.Context(), id)
		if err != nil {
			return err
		}
		approvals, err := c.ApprovalHistory(cmd.Context(), id)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tCREATED\tBY\tCHANGE")
		for _, v := range versions {
			marker := ""
			if v.IsActive {
				marker = okColor.Sprint(" (active)")
			}
			fmt.Fprintf(tw, "%d%s\t%s\t%s\t%s\n", v.Version, marker, v.CreatedAt.Format(time.RFC3339), v.CreatedBy, v.ChangeLog)
		}
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "DECISION\tVERSION\tBY\tCOMMENT")
		for _, a := range approvals {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", a.Decision, a.Version, a.Actor, a.Comment)
		}
		return tw.Flush()
	},
}

var policyTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List policy templates, or clone one with --clone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		if id, _ := cmd.Flags().GetString("clone"); id != "" {
			name, _ := cmd.Flags().GetString("name")
			p, err := c.CloneTemplate(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "created %s %s\n", p.ID, p.Name)
			return nil
		}

		templates, err := c.Templates(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCATEGORY\tNAME")
		for _, t := range templates {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Category, t.Name)
		}
		return tw.Flush()
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Summarise documents, policies and the approval queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		d := c.FetchDashboard(cmd.Context())
		out := cmd.OutOrStdout()

		section := func(name string, n int) {
			if err, failed := d.Errors[name]; failed {
				errorColor.Fprintf(out, "%-18s unavailable: %v\n", name, err)
				return
			}
			fmt.Fprintf(out, "%-18s %d\n", name, n)
		}
		section(client.SourceDocuments, len(d.Documents))
		section(client.SourcePolicies, len(d.Policies))
		section(client.SourcePending, len(d.Pending))
		if len(d.Errors) == 3 {
			return fmt.Errorf("dashboard: every source failed")
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download generated documents and meeting invites",
}

var downloadICSCmd = &cobra.Command{
	Use:   "ics <meeting-id>",
	Short: "Download a meeting invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(cmd, func(c *client.Client, w io.Writer) (client.Download, error) {
			return c.MeetingICS(cmd.Context(), args[0], w)
		})
	},
}

var downloadExportCmd = &cobra.Command{
	Use:   "export <document-id>",
	Short: "Export a generated document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		return runDownload(cmd, func(c *client.Client, w io.Writer) (client.Download, error) {
			return c.ExportDocument(cmd.Context(), args[0], format, w)
		})
	},
}

func init() {
	policyCmd.AddCommand(
		policyListCmd,
		policyPendingCmd,
		policyPushCmd,
		decisionCommand("submit", "Submit a policy for approval", func(c *client.Client, cmd *cobra.Command, id types.PolicyID, comment string) (types.Policy, error) {
			return c.SubmitPolicy(cmd.Context(), id, comment)
		}),
		decisionCommand("approve", "Approve a pending policy", func(c *client.Client, cmd *cobra.Command, id types.PolicyID, comment string) (types.Policy, error) {
			return c.ApprovePolicy(cmd.Context(), id, comment)
		}),
		decisionCommand("reject", "Reject a pending policy", func(c *client.Client, cmd *cobra.Command, id types.PolicyID, comment string) (types.Policy, error) {
			return c.RejectPolicy(cmd.Context(), id, comment)
		}),
		policyRollbackCmd,
		policyHistoryCmd,
		policyTemplatesCmd,
	)
	rootCmd.AddCommand(dashboardCmd, downloadCmd)
	downloadCmd.AddCommand(downloadICSCmd, downloadExportCmd)

	policyListCmd.Flags().String("status", "", "only policies in this status")
	policyListCmd.Flags().String("search", "", "search name, description and category")
	policyListCmd.Flags().String("sort", string(client.SortUpdated), "updated, name or version")

	policyPushCmd.Flags().String("id", "", "existing policy id")
	policyPushCmd.Flags().String("name", "", "policy name (required for new policies)")
	policyPushCmd.Flags().String("description", "", "policy description")
	policyPushCmd.Flags().String("category", "", "policy category")
	policyPushCmd.Flags().StringP("message", "m", "", "change log entry")
	policyPushCmd.Flags().Bool("strict", false, "refuse documents that do not validate")

	policyRollbackCmd.Flags().Int("version", 0, "version to activate")
	policyRollbackCmd.MarkFlagRequired("version")

	policyTemplatesCmd.Flags().String("clone", "", "template id to clone")
	policyTemplatesCmd.Flags().String("name", "", "name of the cloned policy")

	downloadCmd.PersistentFlags().StringP("output", "o", "", "output file (default: server-provided name, - for stdout)")
	downloadExportCmd.Flags().String("format", "pdf", "export format (pdf, docx, json)")
}

func printPolicies(w io.Writer, policies []types.Policy) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tVERSION\tACTIVE\tUPDATED")
	for _, p := range policies {
		active := "-"
		if p.ActiveVersion > 0 {
			active = strconv.Itoa(p.ActiveVersion)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", p.ID, p.Name, p.Status, p.Version, active, p.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// runDownload writes to --output, stdout for "-", or a temp file renamed to
// the server-provided name.
func runDownload(cmd *cobra.Command, fetch func(*client.Client, io.Writer) (client.Download, error)) error {
	c, err := remoteClient(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	if output == "-" {
		_, err := fetch(c, cmd.OutOrStdout())
		return err
	}

	tmp, err := os.CreateTemp(".", ".policydesk-download-*")
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	d, err := fetch(c, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if output == "" {
		output = d.Filename
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return fmt.Errorf("save %s: %w", output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", output, d.Size)
	return nil
}
