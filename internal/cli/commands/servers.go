package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/campusdesk/portal/internal/cli/config"
	"github.com/campusdesk/portal/internal/cli/serverselect"
	"github.com/campusdesk/portal/internal/cli/userconfig"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	var alias string

	cmd := &cobra.Command{
		Use:   "init <server-url>",
		Short: "Add a portal server to ./portal.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.OutOrStdout(), args[0], alias)
		},
	}

	cmd.Flags().StringVar(&alias, "alias", "", "Alias for the server (default campus, then server-N)")

	return cmd
}

func runInit(out io.Writer, serverURL, alias string) error {
	currentDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	configPath := filepath.Join(currentDir, config.ConfigFileName)

	cfg := &config.Config{Servers: []config.Server{}}
	isNewConfig := true
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("failed to load existing config: %w", err)
		}
		isNewConfig = false
	}

	if alias == "" {
		alias = "campus"
		if len(cfg.Servers) > 0 {
			alias = fmt.Sprintf("server-%d", len(cfg.Servers)+1)
		}
	}

	server, err := cfg.AddServer(alias, serverURL)
	if err != nil {
		return err
	}
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}

	if isNewConfig {
		fmt.Fprintf(out, "✓ Created ./%s with server %s (%s)\n", config.ConfigFileName, server.URL, server.Alias)
	} else {
		fmt.Fprintf(out, "✓ Added server %s (%s) to ./%s\n", server.URL, server.Alias, config.ConfigFileName)
	}
	fmt.Fprintln(out, "\nNext: run 'portal login --email <you@college.edu>'")
	return nil
}

// NewServersCmd lists configured servers; 'servers use' picks one
func NewServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List the servers in portal.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServersList(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "use [url-or-alias]",
		Short: "Select the server to use for commands",
		Long: `Select the server to use for commands.

If no argument is provided, an interactive prompt will be shown.

Examples:
  $ portal servers use                               # Interactive selection
  $ portal servers use campus                        # Select by alias
  $ portal servers use https://portal.college.edu    # Select by URL`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var urlOrAlias string
			if len(args) > 0 {
				urlOrAlias = args[0]
			}
			return runServersUse(cmd.OutOrStdout(), urlOrAlias)
		},
	})

	return cmd
}

func runServersList(out io.Writer) error {
	cfg, err := config.LoadFromCurrentDir()
	if err != nil {
		return fmt.Errorf("failed to load config: %w\nRun 'portal init <url>' to create a configuration file", err)
	}
	state, err := userconfig.Load()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tALIAS\tURL\tSIGNED IN AS")
	for _, server := range cfg.Servers {
		marker := " "
		if server.URL == state.SelectedServerURL {
			marker = "*"
		}
		account := "-"
		if a, ok := state.AccountFor(server.URL); ok {
			account = fmt.Sprintf("%s (%s)", a.Email, roleLabel(a.Role))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, server.Alias, server.URL, account)
	}
	return w.Flush()
}

func runServersUse(out io.Writer, urlOrAlias string) error {
	cfg, err := config.LoadFromCurrentDir()
	if err != nil {
		return fmt.Errorf("failed to load config: %w\nRun 'portal init <url>' to create a configuration file", err)
	}

	var server *config.Server
	if urlOrAlias != "" {
		server, err = serverselect.GetServerByURLOrAlias(cfg, urlOrAlias)
	} else {
		server, err = serverselect.PromptServerSelection(cfg)
	}
	if err != nil {
		return err
	}

	if err := userconfig.SetSelectedServer(server.URL); err != nil {
		return fmt.Errorf("failed to save selected server: %w", err)
	}

	fmt.Fprintf(out, "Selected server: %s (%s)\n", server.Alias, server.URL)
	return nil
}
