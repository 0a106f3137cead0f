package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const ConfigFileName = "portal.json"

// Server is one portal deployment the CLI can talk to
type Server struct {
	Alias string `json:"alias"`
	URL   string `json:"url"`
}

// Config represents the CLI configuration file
type Config struct {
	Servers []Server `json:"servers"`
}

// FindConfigFile searches for portal.json in the current directory and its parents
func FindConfigFile() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	dir := currentDir
	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("%s not found in %s or any parent directory", ConfigFileName, currentDir)
}

// Load reads the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for i := range cfg.Servers {
		cfg.Servers[i].URL = strings.TrimRight(cfg.Servers[i].URL, "/")
	}

	return &cfg, nil
}

// LoadFromCurrentDir loads config from the current directory or a parent
func LoadFromCurrentDir() (*Config, error) {
	configPath, err := FindConfigFile()
	if err != nil {
		return nil, err
	}

	return Load(configPath)
}

// Save writes the configuration to a file
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// AddServer appends a server, rejecting duplicate aliases and URLs that are
// not absolute http(s) addresses
func (c *Config) AddServer(alias, rawURL string) (*Server, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: expected http(s)://host[:port]", rawURL)
	}
	normalized := strings.TrimRight(rawURL, "/")

	for _, server := range c.Servers {
		if server.Alias == alias {
			return nil, fmt.Errorf("server with alias '%s' already exists", alias)
		}
		if server.URL == normalized {
			return nil, fmt.Errorf("server %s already exists as '%s'", normalized, server.Alias)
		}
	}

	c.Servers = append(c.Servers, Server{Alias: alias, URL: normalized})
	return &c.Servers[len(c.Servers)-1], nil
}

// GetServerByAlias returns a server by its alias
func (c *Config) GetServerByAlias(alias string) (*Server, error) {
	for i := range c.Servers {
		if c.Servers[i].Alias == alias {
			return &c.Servers[i], nil
		}
	}
	return nil, fmt.Errorf("server with alias '%s' not found", alias)
}

// GetServerByURL returns a server by its base URL
func (c *Config) GetServerByURL(rawURL string) (*Server, error) {
	normalized := strings.TrimRight(rawURL, "/")
	for i := range c.Servers {
		if c.Servers[i].URL == normalized {
			return &c.Servers[i], nil
		}
	}
	return nil, fmt.Errorf("server %s not found in %s", normalized, ConfigFileName)
}
