package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	service = "campusdesk-portal"
)

// ErrNotAuthenticated is returned when no token is stored for a server
var ErrNotAuthenticated = errors.New("not authenticated. Please run 'portal login' first")

// TokenStore persists access tokens per server URL
type TokenStore interface {
	SaveToken(serverURL, token string) error
	LoadToken(serverURL string) (string, error)
	DeleteToken(serverURL string) error
}

// Keyring stores tokens in the OS keychain/credential manager
type Keyring struct{}

// Default is the token store used by the CLI
var Default TokenStore = Keyring{}

// keyringKey returns a unique key per server
func keyringKey(serverURL string) string {
	return fmt.Sprintf("token-%s", serverURL)
}

// SaveToken persists the token
func (Keyring) SaveToken(serverURL, token string) error {
	if err := keyring.Set(service, keyringKey(serverURL), token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// LoadToken retrieves the token, or ErrNotAuthenticated
func (Keyring) LoadToken(serverURL string) (string, error) {
	token, err := keyring.Get(service, keyringKey(serverURL))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotAuthenticated
		}
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// DeleteToken removes the token; a missing token is not an error
func (Keyring) DeleteToken(serverURL string) error {
	if err := keyring.Delete(service, keyringKey(serverURL)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
