package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/stocktake/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the stocktake configuration",
	Long: `Create, view and locate the configuration file.

The file lives in $STOCKTAKE_HOME (default ~/.stocktake). STOCKTAKE_API_URL,
STOCKTAKE_LOG_LEVEL and STOCKTAKE_REDIS_URL override the values it holds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration for the local mock API",
	Long: `Write a configuration that points at 'stocktake serve-mock', with a fresh
signing key and one demo user per role: root (superuser), ana (admin of
ACME) and gus (guest of GLOBEX).`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigView,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing configuration")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", path)
	}

	cfg, err := config.Init()
	if err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	st := newStyles(out)
	fmt.Fprintf(out, "%s %s\n\n", st.Success.Render("Wrote"), path)
	fmt.Fprintln(out, "Demo users (password "+config.DemoPassword+"):")
	for _, u := range cfg.Identity.Local.Users {
		tenant := u.TenantID
		if tenant == "" {
			tenant = "any"
		}
		fmt.Fprintf(out, "  %-6s %-10s tenant %s\n", u.Username, u.Role, tenant)
	}
	fmt.Fprintf(out, "\nNext: %s, then %s\n",
		st.Key.Render("stocktake serve-mock"), st.Key.Render("stocktake run"))
	return nil
}

// runConfigView prints the loaded configuration with secrets masked.
func runConfigView(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	masked := *cfg
	if masked.Identity.Local.SigningKey != "" {
		masked.Identity.Local.SigningKey = "********"
	}
	if masked.Identity.OAuth2.ClientSecret != "" {
		masked.Identity.OAuth2.ClientSecret = "********"
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
