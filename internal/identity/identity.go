// Package identity hands out peer ids. An id stored in a file survives
// restarts, so a guest that reconnects rejoins into its old roster slot.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

func New() string { return uuid.NewString() }

// Load returns the id stored at path, creating and saving a new one when the
// file is missing. An empty path always yields a fresh id.
func Load(path string) (string, error) {
	if path == "" {
		return New(), nil
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(b))
		if _, perr := uuid.Parse(id); perr != nil {
			return "", fmt.Errorf("identity file %s: %w", path, perr)
		}
		return id, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read identity: %w", err)
	}

	id := New()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	return id, nil
}
