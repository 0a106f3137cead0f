package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/campusdesk/portal/internal/cli/auth"
	"github.com/campusdesk/portal/internal/cli/commands"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Portal - college portal from the terminal",
	Long: `Portal CLI - sign in to a college portal server, check which role the
server resolves for you and read your notifications.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "portal version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewInitCmd())
	rootCmd.AddCommand(commands.NewServersCmd())
	rootCmd.AddCommand(commands.NewLoginCmd(auth.Default))
	rootCmd.AddCommand(commands.NewLogoutCmd(auth.Default))
	rootCmd.AddCommand(commands.NewWhoamiCmd(auth.Default))
	rootCmd.AddCommand(commands.NewNotificationsCmd(auth.Default))
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
