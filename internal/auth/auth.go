package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrNotAuthenticated is returned when no user is signed in for the session.
// Callers are expected to treat it as "skip the operation", not as a failure.
var ErrNotAuthenticated = errors.New("no authenticated user")

// User identifies the signed-in user of a session.
type User struct {
	ID          string `toml:"user_id"`
	DisplayName string `toml:"display_name"`
}

// Provider resolves the current signed-in user.
type Provider interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// FileProvider reads credentials from the session's credentials.toml.
// The file is re-read on every call so an external login/logout takes
// effect without restarting the daemon.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider backed by the given credentials file.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// CurrentUser returns the signed-in user, or ErrNotAuthenticated if the
// credentials file is missing or has no user id.
func (p *FileProvider) CurrentUser(_ context.Context) (*User, error) {
	var u User
	if _, err := toml.DecodeFile(p.path, &u); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if u.ID == "" {
		return nil, ErrNotAuthenticated
	}
	return &u, nil
}

// Save writes credentials to the given path with owner-only permissions.
func Save(path string, u *User) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(u)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Clear removes the credentials file. Missing file is not an error.
func Clear(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Static is a Provider that always returns the same user. Used in tests
// and by components that capture the user at construction time.
type Static struct {
	User *User
}

// CurrentUser returns the fixed user, or ErrNotAuthenticated when unset.
func (s Static) CurrentUser(_ context.Context) (*User, error) {
	if s.User == nil || s.User.ID == "" {
		return nil, ErrNotAuthenticated
	}
	return s.User, nil
}
