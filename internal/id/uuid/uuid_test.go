package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestGeneratorResolve(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	pinned := "0190c7a2-8c1e-7b4e-9a51-3c2d1e0f9a8b"

	got, err := gen.Resolve(pinned)
	require.NoError(t, err)
	require.Equal(t, pinned, got)

	fresh, err := gen.Resolve("")
	require.NoError(t, err)
	require.NotEmpty(t, fresh)

	_, err = gen.Resolve("not-a-uuid")
	require.ErrorContains(t, err, "not-a-uuid")
}
