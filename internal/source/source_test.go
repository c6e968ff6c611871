package source

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-harvester/internal/batch"
)

func TestLoadKeywords(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "keywords.csv",
		[]byte("\ufeffid,Keyword,notes\n1,bees,\n2, honey bees ,pollinators\n3,cats,\n"), 0o644))

	items, err := Load(fs, "keywords.csv")
	require.NoError(t, err)
	require.Equal(t, []batch.WorkItem{
		{Position: 1, Keyword: "bees"},
		{Position: 2, Keyword: "honey bees"},
		{Position: 3, Keyword: "cats"},
	}, items)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "empty", content: "", want: "empty file"},
		{name: "no keyword column", content: "term\nbees\n", want: `no "keyword" column`},
		{name: "blank keyword", content: "keyword\nbees\n  \n", want: "row 2 has a blank keyword"},
		{name: "short row", content: "id,keyword\n1,bees\n2\n", want: "row 2 has no"},
		{name: "bad quoting", content: "keyword\n\"bees\n", want: "row 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tt.content))
			require.ErrorIs(t, err, batch.ErrValidation)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(afero.NewMemMapFs(), "missing.csv")
	require.ErrorIs(t, err, batch.ErrValidation)
	require.True(t, batch.IsFatal(err))
	require.ErrorContains(t, err, "not found")
}
