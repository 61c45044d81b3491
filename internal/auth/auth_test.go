package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestFileProviderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")

	if err := Save(path, &User{ID: "u1", DisplayName: "Alice"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	p := NewFileProvider(path)
	u, err := p.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if u.ID != "u1" || u.DisplayName != "Alice" {
		t.Errorf("user = %+v, want u1/Alice", u)
	}
}

func TestFileProviderMissingFile(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "credentials.toml"))
	_, err := p.CurrentUser(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestFileProviderEmptyUserID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	if err := Save(path, &User{DisplayName: "nameless"}); err != nil {
		t.Fatal(err)
	}

	p := NewFileProvider(path)
	_, err := p.CurrentUser(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestClearThenCurrentUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	if err := Save(path, &User{ID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	// Clearing twice is fine.
	if err := Clear(path); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}

	_, err := NewFileProvider(path).CurrentUser(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestStaticProvider(t *testing.T) {
	u, err := Static{User: &User{ID: "u9"}}.CurrentUser(context.Background())
	if err != nil || u.ID != "u9" {
		t.Errorf("got (%v, %v), want u9", u, err)
	}

	if _, err := (Static{}).CurrentUser(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}
