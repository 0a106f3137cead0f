package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/campusdesk/portal/internal/cli/auth"
	"github.com/campusdesk/portal/internal/cli/userconfig"
	"github.com/campusdesk/portal/internal/session"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(tokens auth.TokenStore) *cobra.Command {
	var serverAlias string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context(), cmd.OutOrStdout(), tokens, serverAlias)
		},
	}

	cmd.Flags().StringVar(&serverAlias, "server", "", "Server alias from portal.json")

	return cmd
}

func runLogout(ctx context.Context, out io.Writer, tokens auth.TokenStore, serverAlias string) error {
	server, err := getSelectedServer(serverAlias)
	if err != nil {
		return err
	}

	remote, err := signedInRemote(server, tokens)
	if errors.Is(err, auth.ErrNotAuthenticated) {
		if err := userconfig.Forget(server.URL); err != nil {
			return err
		}
		fmt.Fprintf(out, "Not signed in to %s\n", server.Alias)
		return nil
	}
	if err != nil {
		return err
	}

	// The local token is dropped even when the server call fails
	signOutErr := session.NewStore(remote, remote, cliLogger()).SignOut(ctx)
	if err := tokens.DeleteToken(server.URL); err != nil {
		return err
	}
	if err := userconfig.Forget(server.URL); err != nil {
		return err
	}
	if signOutErr != nil {
		return fmt.Errorf("signed out locally, but the server reported: %w", signOutErr)
	}

	fmt.Fprintf(out, "✓ Signed out of %s\n", server.Alias)
	return nil
}
