package serverselect

import (
	"fmt"

	"github.com/manifoldco/promptui"

	"github.com/campusdesk/portal/internal/cli/config"
	"github.com/campusdesk/portal/internal/cli/userconfig"
)

// ResolveServer determines which server to use:
// 1. the --server alias when given
// 2. the server selected with 'portal servers use'
// 3. the only configured server
// 4. an interactive prompt
func ResolveServer(projectConfig *config.Config, serverAlias string) (*config.Server, error) {
	if serverAlias != "" {
		return projectConfig.GetServerByAlias(serverAlias)
	}

	selectedURL, err := userconfig.GetSelectedServer()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	if selectedURL != "" {
		server, err := projectConfig.GetServerByURL(selectedURL)
		if err == nil {
			return server, nil
		}
		// Selected server was removed from portal.json
		_ = userconfig.SetSelectedServer("")
	}

	var server *config.Server
	switch len(projectConfig.Servers) {
	case 0:
		return nil, fmt.Errorf("no servers configured in %s. Run 'portal init <url>' first", config.ConfigFileName)
	case 1:
		server = &projectConfig.Servers[0]
	default:
		server, err = PromptServerSelection(projectConfig)
		if err != nil {
			return nil, err
		}
	}

	if err := userconfig.SetSelectedServer(server.URL); err != nil {
		fmt.Printf("Warning: failed to save selected server: %v\n", err)
	}
	return server, nil
}

// PromptServerSelection shows an interactive prompt for the user to select a server
func PromptServerSelection(projectConfig *config.Config) (*config.Server, error) {
	if len(projectConfig.Servers) == 0 {
		return nil, fmt.Errorf("no servers configured in %s", config.ConfigFileName)
	}

	type serverOption struct {
		Label  string
		Server *config.Server
	}

	options := make([]serverOption, len(projectConfig.Servers))
	for i := range projectConfig.Servers {
		server := &projectConfig.Servers[i]
		options[i] = serverOption{
			Label:  fmt.Sprintf("%s (%s)", server.Alias, server.URL),
			Server: server,
		}
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     "Select a server",
		Items:     options,
		Templates: templates,
		Size:      10,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("server selection cancelled: %w", err)
	}

	return options[index].Server, nil
}

// GetServerByURLOrAlias finds a server by alias or base URL
func GetServerByURLOrAlias(cfg *config.Config, urlOrAlias string) (*config.Server, error) {
	if server, err := cfg.GetServerByAlias(urlOrAlias); err == nil {
		return server, nil
	}
	if server, err := cfg.GetServerByURL(urlOrAlias); err == nil {
		return server, nil
	}
	return nil, fmt.Errorf("server with URL or alias '%s' not found", urlOrAlias)
}
