package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stocktake/internal/authz"
	"github.com/felixgeelhaar/stocktake/internal/config"
	"github.com/felixgeelhaar/stocktake/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client build and its session setup",
	Long: `Print the stocktake build.

With --verbose or --json the report also names the identity provider, the
remote session store, the token lifetime and the idle and absolute limit of
every role, as resolved from the configuration. A missing or broken config
is reported and the built-in limits are shown instead.

Examples:
  stocktake version
  stocktake version --verbose
  stocktake version --json`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

var (
	versionVerbose bool
	versionJSON    bool
)

func init() {
	versionCmd.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "include the resolved session setup")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output the full report as JSON")

	rootCmd.AddCommand(versionCmd)
}

// VersionReport is the build plus the session setup this binary would run.
type VersionReport struct {
	version.Info

	ConfigPath    string      `json:"config_path,omitempty"`
	ConfigError   string      `json:"config_error,omitempty"`
	APIURL        string      `json:"api_url,omitempty"`
	Identity      string      `json:"identity,omitempty"`
	RemoteSession string      `json:"remote_session,omitempty"`
	TokenTTL      string      `json:"token_ttl,omitempty"`
	RoleLimits    []RoleLimit `json:"role_limits"`
}

// RoleLimit is the session timeout pair of one role.
type RoleLimit struct {
	Role     string `json:"role"`
	Idle     string `json:"idle"`
	Absolute string `json:"absolute"`
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !versionJSON && !versionVerbose {
		fmt.Fprintf(out, "stocktake %s\n", version.GetInfo().Short())
		return nil
	}

	path, _ := configPath()
	cfg, err := loadConfig()
	report := buildVersionReport(version.GetInfo(), path, cfg, err)

	if versionJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal version report: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	return printVersion(out, report)
}

// buildVersionReport falls back to the built-in role limits when cfg could
// not be loaded.
func buildVersionReport(info version.Info, path string, cfg *config.Config, cfgErr error) VersionReport {
	r := VersionReport{Info: info, ConfigPath: path}
	timeouts := authz.DefaultTimeouts
	switch {
	case cfgErr != nil:
		r.ConfigError = cfgErr.Error()
	case cfg != nil:
		r.APIURL = cfg.APIURL
		r.Identity = cfg.Identity.Kind
		r.RemoteSession = cfg.RemoteSession.Kind
		r.TokenTTL = cfg.TokenTTL.D().String()
		timeouts = cfg.TimeoutTable()
	}

	for _, role := range authz.Roles {
		p := timeouts.For(role.String())
		r.RoleLimits = append(r.RoleLimits, RoleLimit{
			Role:     role.String(),
			Idle:     p.Idle.String(),
			Absolute: p.Absolute.String(),
		})
	}
	return r
}

func printVersion(out io.Writer, r VersionReport) error {
	st := newStyles(out)
	fmt.Fprintln(out, st.Title.Render(r.Info.String()))

	if r.ConfigError != "" {
		fmt.Fprintf(out, "\n  config  %s %s\n", r.ConfigPath, st.Warning.Render("unusable: "+r.ConfigError))
	} else {
		fmt.Fprintf(out, "\n  config          %s\n", r.ConfigPath)
		fmt.Fprintf(out, "  api             %s\n", r.APIURL)
		fmt.Fprintf(out, "  identity        %s\n", r.Identity)
		fmt.Fprintf(out, "  remote session  %s\n", r.RemoteSession)
		fmt.Fprintf(out, "  token ttl       %s\n", r.TokenTTL)
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  %s\t%s\t%s\n", st.Muted.Render("role"), st.Muted.Render("idle"), st.Muted.Render("absolute"))
	for _, l := range r.RoleLimits {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", l.Role, l.Idle, l.Absolute)
	}
	return w.Flush()
}
