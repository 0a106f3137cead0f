// Package userconfig keeps per-user CLI state outside the project: which
// server is selected and who is signed in to each one. Tokens themselves
// live in the OS keyring.
package userconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/campusdesk/portal/internal/models"
)

const (
	configDirName  = "campusdesk"
	configFileName = "state.json"
)

// Account describes the sign-in held for one server
type Account struct {
	Email      string      `json:"email"`
	Role       models.Role `json:"role,omitempty"`
	SignedInAt time.Time   `json:"signed_in_at"`
	CheckedAt  time.Time   `json:"checked_at,omitempty"`
}

// State is stored in ~/.config/campusdesk/state.json
type State struct {
	SelectedServerURL string             `json:"selected_server_url,omitempty"`
	Accounts          map[string]Account `json:"accounts,omitempty"`
}

// Path returns the location of the state file
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName, configFileName), nil
}

// Load reads the state file; a missing file is an empty state
func Load() (*State, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &st, nil
}

// Save writes the state file readable by the user only, since it names
// the accounts in use
func Save(st *State) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write user state: %w", err)
	}
	return nil
}

func update(fn func(*State)) error {
	st, err := Load()
	if err != nil {
		return err
	}
	fn(st)
	return Save(st)
}

// SetSelectedServer records the server URL used by later commands; ""
// clears the selection
func SetSelectedServer(serverURL string) error {
	return update(func(st *State) { st.SelectedServerURL = serverURL })
}

// GetSelectedServer returns the selected server URL, or "" when unset
func GetSelectedServer() (string, error) {
	st, err := Load()
	if err != nil {
		return "", err
	}
	return st.SelectedServerURL, nil
}

// RecordSignIn remembers who signed in to serverURL
func RecordSignIn(serverURL, email string, role models.Role, at time.Time) error {
	return update(func(st *State) {
		if st.Accounts == nil {
			st.Accounts = map[string]Account{}
		}
		st.Accounts[serverURL] = Account{Email: email, Role: role, SignedInAt: at.UTC(), CheckedAt: at.UTC()}
	})
}

// RecordCheck stores the role a server resolved for an existing sign-in.
// Servers without a recorded sign-in are left alone.
func RecordCheck(serverURL string, role models.Role, at time.Time) error {
	return update(func(st *State) {
		account, ok := st.Accounts[serverURL]
		if !ok {
			return
		}
		account.Role = role
		account.CheckedAt = at.UTC()
		st.Accounts[serverURL] = account
	})
}

// Forget drops the sign-in recorded for serverURL
func Forget(serverURL string) error {
	return update(func(st *State) { delete(st.Accounts, serverURL) })
}

// AccountFor returns the sign-in recorded for serverURL
func (st *State) AccountFor(serverURL string) (Account, bool) {
	account, ok := st.Accounts[serverURL]
	return account, ok
}
