package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusdesk/portal/internal/cli/auth"
	"github.com/campusdesk/portal/internal/cli/userconfig"
	"github.com/campusdesk/portal/internal/routes"
	"github.com/campusdesk/portal/internal/session"
)

type whoamiOptions struct {
	serverAlias string
	asJSON      bool
}

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(tokens auth.TokenStore) *cobra.Command {
	var opts whoamiOptions

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user, role and landing page",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd.Context(), cmd.OutOrStdout(), tokens, opts)
		},
	}

	cmd.Flags().StringVar(&opts.serverAlias, "server", "", "Server alias from portal.json")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the resolved session state as JSON")

	return cmd
}

func runWhoami(ctx context.Context, out io.Writer, tokens auth.TokenStore, opts whoamiOptions) error {
	server, err := getSelectedServer(opts.serverAlias)
	if err != nil {
		return err
	}

	remote, err := signedInRemote(server, tokens)
	if err != nil {
		return err
	}

	st := session.NewStore(remote, remote, cliLogger()).Resolve(ctx)
	if !st.Authenticated {
		// Expired or revoked; forget it so the next login starts clean
		if err := tokens.DeleteToken(server.URL); err != nil {
			return err
		}
		if err := userconfig.Forget(server.URL); err != nil {
			return err
		}
		return auth.ErrNotAuthenticated
	}
	if err := userconfig.RecordCheck(server.URL, st.Role, time.Now()); err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			session.State
			Home string `json:"home"`
		}{State: st, Home: routes.LoginRedirect(st.Role)})
	}

	fmt.Fprintf(out, "Server: %s (%s)\n", server.Alias, server.URL)
	fmt.Fprintf(out, "User:   %s (%s)\n", st.CurrentUser.DisplayName, st.CurrentUser.Email)
	if st.CurrentUser.Department != "" {
		fmt.Fprintf(out, "Dept:   %s\n", st.CurrentUser.Department)
	}
	fmt.Fprintf(out, "Role:   %s\n", roleLabel(st.Role))
	fmt.Fprintf(out, "Home:   %s\n", routes.LoginRedirect(st.Role))
	return nil
}
