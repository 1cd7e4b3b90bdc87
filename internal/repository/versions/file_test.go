package versions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.yaml"))
	record, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, record)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns the same versions.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()
	file := filepath.Join(t.TempDir(), "versions.yaml")
	repo := NewFileRepository(file)

	want := &Record{}
	want.Set("acme/widget", "v1.2.3")
	want.Set("acme/gadget", "2024.05.01")

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v1.2.3", got.Version("acme/widget"))
	require.Equal(t, "2024.05.01", got.Version("acme/gadget"))
	require.Empty(t, got.Version("acme/unknown"))
	require.False(t, got.UpdatedAt.IsZero())

	_, err = os.Stat(file)
	require.NoError(t, err)
}

// TestRecord_NilSafety verifies Version is safe on a nil record.
func TestRecord_NilSafety(t *testing.T) {
	t.Parallel()

	var record *Record
	require.Empty(t, record.Version("acme/widget"))
}
