package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/campusdesk/portal/internal/cli/auth"
	"github.com/campusdesk/portal/internal/cli/client"
	"github.com/campusdesk/portal/internal/cli/config"
	"github.com/campusdesk/portal/internal/cli/serverselect"
	"github.com/campusdesk/portal/internal/logger"
	"github.com/campusdesk/portal/internal/models"
)

// getSelectedServer loads portal.json and resolves the server to talk to
func getSelectedServer(serverAlias string) (*config.Server, error) {
	cfg, err := config.LoadFromCurrentDir()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w\nRun 'portal init <url>' to create a configuration file", err)
	}

	server, err := serverselect.ResolveServer(cfg, serverAlias)
	if err != nil {
		return nil, err
	}

	if server.URL == "" {
		return nil, fmt.Errorf("server URL is empty. Please edit %s and add a valid URL", config.ConfigFileName)
	}

	return server, nil
}

// signedInRemote returns a remote holding the stored token for server
func signedInRemote(server *config.Server, tokens auth.TokenStore) (*client.Remote, error) {
	token, err := tokens.LoadToken(server.URL)
	if err != nil {
		return nil, err
	}
	return client.NewRemote(client.New(server.URL), token), nil
}

// cliLogger writes resolver warnings to stderr. PORTAL_LOG_LEVEL overrides
// the default of warn.
func cliLogger() zerolog.Logger {
	level := os.Getenv("PORTAL_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	return logger.New(os.Stderr, level, "console")
}

func roleLabel(role models.Role) string {
	if role == "" {
		return "(none)"
	}
	return string(role)
}
