package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/campusdesk/portal/internal/cli/auth"
	"github.com/campusdesk/portal/internal/cli/client"
	"github.com/campusdesk/portal/internal/cli/userconfig"
	"github.com/campusdesk/portal/internal/routes"
	"github.com/campusdesk/portal/internal/session"
)

type loginOptions struct {
	email       string
	password    string
	serverAlias string
}

// NewLoginCmd creates the login command
func NewLoginCmd(tokens auth.TokenStore) *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a portal server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.email == "" {
				opts.email = os.Getenv("PORTAL_EMAIL")
			}
			if opts.password == "" {
				opts.password = os.Getenv("PORTAL_PASSWORD")
			}
			if opts.password == "" && opts.email != "" {
				password, err := promptPassword(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				opts.password = password
			}
			return runLogin(cmd.Context(), cmd.OutOrStdout(), tokens, opts)
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "Email address (or set PORTAL_EMAIL)")
	cmd.Flags().StringVar(&opts.password, "password", "", "Password (or set PORTAL_PASSWORD, will prompt if not provided)")
	cmd.Flags().StringVar(&opts.serverAlias, "server", "", "Server alias from portal.json")

	return cmd
}

// promptPassword reads a password without echo when stdin is a terminal
func promptPassword(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or PORTAL_PASSWORD env var)")
	}

	fmt.Fprint(out, "Password: ")
	bytePassword, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

func runLogin(ctx context.Context, out io.Writer, tokens auth.TokenStore, opts loginOptions) error {
	if opts.email == "" {
		return fmt.Errorf("email is required (use --email flag or PORTAL_EMAIL env var)")
	}
	if opts.password == "" {
		return fmt.Errorf("password is required (use --password flag or PORTAL_PASSWORD env var)")
	}

	server, err := getSelectedServer(opts.serverAlias)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Signing in to %s (%s)...\n", server.Alias, server.URL)

	remote := client.NewRemote(client.New(server.URL), "")
	store := session.NewStore(remote, remote, cliLogger())
	st, err := store.SignIn(ctx, opts.email, opts.password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := tokens.SaveToken(server.URL, remote.Token()); err != nil {
		return fmt.Errorf("failed to save authentication token: %w", err)
	}
	email := opts.email
	if st.CurrentUser != nil {
		email = st.CurrentUser.Email
	}
	if err := userconfig.RecordSignIn(server.URL, email, st.Role, time.Now()); err != nil {
		return err
	}

	fmt.Fprintln(out, "✓ Signed in")
	if st.CurrentUser != nil {
		fmt.Fprintf(out, "  User: %s (%s)\n", st.CurrentUser.DisplayName, st.CurrentUser.Email)
	}
	fmt.Fprintf(out, "  Role: %s\n", roleLabel(st.Role))
	fmt.Fprintf(out, "  Home: %s\n", routes.LoginRedirect(st.Role))

	return nil
}
