package inspect

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, path string, size int) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, make([]byte, size), 0o644))
}

func TestInspectCountsImagesRecursively(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "downloads/bees/a.jpg", 1<<20)
	writeFile(t, fs, "downloads/bees/b.JPEG", 1<<19)
	writeFile(t, fs, "downloads/bees/nested/c.png", 1<<19)
	writeFile(t, fs, "downloads/bees/meta.json", 1<<20)

	y, err := New(fs, nil).Inspect("downloads/bees")
	require.NoError(t, err)
	require.Equal(t, 3, y.Items)
	require.InDelta(t, 3.0, y.SizeMB, 1e-9)
}

func TestInspectMissingPathIsZero(t *testing.T) {
	t.Parallel()

	y, err := New(afero.NewMemMapFs(), nil).Inspect("downloads/cats_failed")
	require.NoError(t, err)
	require.Zero(t, y.Items)
	require.Zero(t, y.SizeMB)
}

func TestInspectCustomExtensions(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "out/clip.webp", 10)
	writeFile(t, fs, "out/photo.jpg", 10)

	y, err := New(fs, []string{"WEBP"}).Inspect("out")
	require.NoError(t, err)
	require.Equal(t, 1, y.Items)
}

func TestInspectSingleFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "out/only.png", 1<<20)

	y, err := New(fs, nil).Inspect("out/only.png")
	require.NoError(t, err)
	require.Equal(t, 1, y.Items)
	require.InDelta(t, 1.0, y.SizeMB, 1e-9)
}
