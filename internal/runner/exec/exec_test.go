package exec

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgsSubstitutesPlaceholders(t *testing.T) {
	t.Parallel()

	r, err := New(Config{
		Command:  `gallery-dl --range "1-{count}" -d {output_dir} "search:{keyword}" --base {save_dir}`,
		SavePath: "downloads",
		Count:    1500,
	}, nil)
	require.NoError(t, err)

	require.Equal(t, []string{
		"gallery-dl", "--range", "1-1500",
		"-d", filepath.Join("downloads", "honey_bees"),
		"search:honey bees",
		"--base", "downloads",
	}, r.Args("honey bees"))
}

func TestNewRejectsBadTemplates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Command: `fetch "unterminated`}, nil)
	require.ErrorContains(t, err, "parse command")

	_, err = New(Config{Command: "   "}, nil)
	require.ErrorContains(t, err, "command is required")
}

func TestRunReturnsOutputDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	t.Parallel()

	save := t.TempDir()
	r, err := New(Config{
		Command:  `/bin/sh -c 'touch "$0/a.jpg" "$0/b.png"' {output_dir}`,
		SavePath: save,
	}, nil)
	require.NoError(t, err)

	dir, err := r.Run(context.Background(), "bees")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(save, "bees"), dir)
	_, err = os.Stat(filepath.Join(dir, "b.png"))
	require.NoError(t, err)
}

func TestRunFailureCarriesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	t.Parallel()

	r, err := New(Config{Command: `/bin/sh -c 'echo "HTTP 429 for $0" >&2; exit 3' {keyword}`, SavePath: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "cats")
	require.ErrorContains(t, err, "HTTP 429 for cats")
}

func TestRunCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := New(Config{Command: "/bin/sh -c 'sleep 5'", SavePath: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = r.Run(ctx, "dogs")
	require.ErrorIs(t, err, context.Canceled)
}
