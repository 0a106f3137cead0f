package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusdesk/portal/internal/cli/auth"
	"github.com/campusdesk/portal/internal/cli/client"
)

type notificationsOptions struct {
	serverAlias string
	unreadOnly  bool
}

// NewNotificationsCmd creates the notifications command
func NewNotificationsCmd(tokens auth.TokenStore) *cobra.Command {
	var opts notificationsOptions

	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"inbox"},
		Short:   "List your notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotifications(cmd.Context(), cmd.OutOrStdout(), tokens, opts)
		},
	}

	cmd.Flags().StringVar(&opts.serverAlias, "server", "", "Server alias from portal.json")
	cmd.Flags().BoolVar(&opts.unreadOnly, "unread", false, "Only show unread notifications")

	return cmd
}

func runNotifications(ctx context.Context, out io.Writer, tokens auth.TokenStore, opts notificationsOptions) error {
	server, err := getSelectedServer(opts.serverAlias)
	if err != nil {
		return err
	}

	token, err := tokens.LoadToken(server.URL)
	if err != nil {
		return err
	}

	resp, err := client.New(server.URL).Notifications(ctx, token)
	if client.IsUnauthorized(err) {
		return auth.ErrNotAuthenticated
	}
	if err != nil {
		return err
	}

	shown := 0
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tTITLE\tLINK\tRECEIVED")
	for _, n := range resp.Notifications {
		if opts.unreadOnly && n.Read {
			continue
		}
		marker := " "
		if !n.Read {
			marker = "●"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, n.Title, n.Link, n.CreatedAt.Local().Format(time.DateTime))
		shown++
	}

	if shown == 0 {
		fmt.Fprintln(out, "No notifications.")
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d unread\n", resp.Unread)
	return nil
}
