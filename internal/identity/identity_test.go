package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kart", "id")

	first, err := Load(path)
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadWithoutPath(t *testing.T) {
	a, err := Load("")
	require.NoError(t, err)
	b, err := Load("")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id")
	require.NoError(t, os.WriteFile(path, []byte("not-an-id"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
