package batch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rng      Range
		total    int
		want     Range
		wantHint string
	}{
		{name: "open end resolves to total", rng: Range{Start: 1}, total: 3, want: Range{Start: 1, End: 3}},
		{name: "explicit range", rng: Range{Start: 2, End: 3}, total: 3, want: Range{Start: 2, End: 3}},
		{name: "single row", rng: Range{Start: 3, End: 3}, total: 3, want: Range{Start: 3, End: 3}},
		{name: "zero start", rng: Range{Start: 0, End: 2}, total: 3, wantHint: "between 1 and 3"},
		{name: "start past end of list", rng: Range{Start: 4}, total: 3, wantHint: "between 1 and 3"},
		{name: "end before start", rng: Range{Start: 2, End: 1}, total: 3, wantHint: "between 2 and 3"},
		{name: "end past end of list", rng: Range{Start: 1, End: 4}, total: 3, wantHint: "between 1 and 3"},
		{name: "empty list", rng: Range{Start: 1}, total: 0, wantHint: "at least one keyword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateRange(tt.rng, tt.total)
			if tt.wantHint != "" {
				require.ErrorIs(t, err, ErrValidation)
				require.True(t, IsFatal(err))
				require.Contains(t, Hints(err), tt.wantHint)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
