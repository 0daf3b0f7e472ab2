package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stocktake/internal/authz"
)

var policyCmd = &cobra.Command{
	Use:   "policy <role>",
	Short: "Explain what a role may do",
	Long: `Print the authorization decisions and session timeouts for a role.

The role is matched the way the platform stores it: case and surrounding
spaces are ignored, and "root" is a superuser. Unknown roles are denied
everything and get the shortest timeouts.

Examples:
  stocktake policy admin --user-tenant ACME --target-tenant GLOBEX
  stocktake policy root --json`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicy,
}

var (
	policyUserTenant   string
	policyTargetTenant string
	policyJSON         bool
)

func init() {
	policyCmd.Flags().StringVar(&policyUserTenant, "user-tenant", "", "tenant the user belongs to")
	policyCmd.Flags().StringVar(&policyTargetTenant, "target-tenant", "", "tenant the action targets (defaults to --user-tenant)")
	policyCmd.Flags().BoolVar(&policyJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(policyCmd)
}

// PolicyReport is the output of the policy command.
type PolicyReport struct {
	Role       string           `json:"role"`
	Canonical  string           `json:"canonical"`
	Superuser  bool             `json:"superuser"`
	Decisions  []authz.Decision `json:"decisions"`
	IdleLimit  string           `json:"idle_timeout"`
	TotalLimit string           `json:"absolute_timeout"`
}

func runPolicy(cmd *cobra.Command, args []string) error {
	timeouts := authz.DefaultTimeouts
	if cfg, err := loadConfig(); err == nil {
		timeouts = cfg.TimeoutTable()
	}
	target := policyTargetTenant
	if target == "" {
		target = policyUserTenant
	}
	report := buildPolicyReport(args[0], policyUserTenant, target, timeouts)

	if policyJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal policy: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	return printPolicy(cmd.OutOrStdout(), report)
}

func buildPolicyReport(role, userTenant, targetTenant string, timeouts authz.TimeoutTable) PolicyReport {
	p := timeouts.For(role)
	r := PolicyReport{
		Role:       role,
		Canonical:  authz.Parse(role).String(),
		Superuser:  authz.IsSuperuser(role),
		IdleLimit:  p.Idle.String(),
		TotalLimit: p.Absolute.String(),
	}
	for _, a := range authz.Actions {
		r.Decisions = append(r.Decisions, authz.Authorize(authz.Request{
			Role:         role,
			Action:       a,
			UserTenant:   userTenant,
			TargetTenant: targetTenant,
		}))
	}
	return r
}

func printPolicy(out io.Writer, r PolicyReport) error {
	st := newStyles(out)
	fmt.Fprintf(out, "%s %s\n\n", st.Title.Render("Role"), r.Canonical)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, d := range r.Decisions {
		verdict := st.Error.Render("deny")
		if d.Allowed {
			verdict = st.Success.Render("allow")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", d.Action, verdict, st.Muted.Render(d.Reason))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n  idle timeout      %s\n  absolute timeout  %s\n", r.IdleLimit, r.TotalLimit)
	return nil
}
