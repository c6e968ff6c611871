package batch

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

func seedLog(t *testing.T, recs ...checkpoint.Record) *checkpoint.Log {
	t.Helper()
	log := newTestLog(t, nil)
	for _, rec := range recs {
		require.NoError(t, log.Upsert(context.Background(), rec))
	}
	return log
}

func TestSelectorFullRangeWithoutRemediableRows(t *testing.T) {
	t.Parallel()

	log := seedLog(t, checkpoint.Record{Keyword: "bees", Position: 1, Status: checkpoint.StatusSuccess, ItemCount: 10})
	sel, err := NewSelector(AlwaysRetryFailed{}, 2, nil).
		Select(context.Background(), Range{Start: 2, End: 3}, items("bees", "cats", "dogs"), log)
	require.NoError(t, err)
	require.False(t, sel.Remediation)
	require.Empty(t, sel.Remediable)
	require.Equal(t, []WorkItem{{Position: 2, Keyword: "cats"}, {Position: 3, Keyword: "dogs"}}, sel.Items)
}

func TestSelectorRemediationChoice(t *testing.T) {
	t.Parallel()

	recs := []checkpoint.Record{
		{Keyword: "bees", Position: 1, Status: checkpoint.StatusSuccess, ItemCount: 10},
		{Keyword: "cats", Position: 2, Status: checkpoint.StatusFailed},
		{Keyword: "dogs", Position: 3, Status: checkpoint.StatusSuccess, ItemCount: 1},
	}

	tests := []struct {
		name        string
		policy      RemediationPolicy
		remediation bool
		want        []WorkItem
	}{
		{
			name:        "retry failed",
			policy:      AlwaysRetryFailed{},
			remediation: true,
			want:        []WorkItem{{Position: 2, Keyword: "cats"}, {Position: 3, Keyword: "dogs"}},
		},
		{
			name:   "full range",
			policy: AlwaysFullRange{},
			want:   items("bees", "cats", "dogs"),
		},
		{
			name:        "operator says yes",
			policy:      AskOperator{In: strings.NewReader("Y\n"), Out: &bytes.Buffer{}},
			remediation: true,
			want:        []WorkItem{{Position: 2, Keyword: "cats"}, {Position: 3, Keyword: "dogs"}},
		},
		{
			name:   "operator says no",
			policy: AskOperator{In: strings.NewReader("n\n"), Out: &bytes.Buffer{}},
			want:   items("bees", "cats", "dogs"),
		},
		{
			name:   "operator input closed",
			policy: AskOperator{In: strings.NewReader(""), Out: &bytes.Buffer{}},
			want:   items("bees", "cats", "dogs"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			log := seedLog(t, recs...)
			sel, err := NewSelector(tt.policy, 2, nil).
				Select(context.Background(), Range{Start: 1, End: 3}, items("bees", "cats", "dogs"), log)
			require.NoError(t, err)
			require.Equal(t, tt.remediation, sel.Remediation)
			require.Equal(t, tt.want, sel.Items)
			require.Len(t, sel.Remediable, 2)
		})
	}
}

func TestSelectorIncludesRemediableRowsOutsideRange(t *testing.T) {
	t.Parallel()

	log := seedLog(t, checkpoint.Record{Keyword: "dogs", Position: 3, Status: checkpoint.StatusFailed})
	sel, err := NewSelector(AlwaysRetryFailed{}, 2, nil).
		Select(context.Background(), Range{Start: 1, End: 1}, items("bees", "cats", "dogs"), log)
	require.NoError(t, err)
	require.Equal(t, []WorkItem{{Position: 3, Keyword: "dogs"}}, sel.Items)
}

func TestAskOperatorRendersRows(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	ask := AskOperator{In: strings.NewReader("yes\n"), Out: &out}
	retry, err := ask.RetryRemediable(context.Background(), []checkpoint.Remediation{
		{Record: checkpoint.Record{Keyword: "cats", Position: 2, Status: checkpoint.StatusFailed}, Reason: checkpoint.ReasonFailedStatus},
	})
	require.NoError(t, err)
	require.True(t, retry)
	require.Contains(t, out.String(), "cats")
	require.Contains(t, out.String(), "Found 1 keywords")
}

func TestPolicyByName(t *testing.T) {
	t.Parallel()

	p, err := PolicyByName("failed", nil, nil)
	require.NoError(t, err)
	require.IsType(t, AlwaysRetryFailed{}, p)

	p, err = PolicyByName("FULL", nil, nil)
	require.NoError(t, err)
	require.IsType(t, AlwaysFullRange{}, p)

	p, err = PolicyByName("", strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	require.IsType(t, AskOperator{}, p)

	_, err = PolicyByName("sometimes", nil, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestFullRangeClipsToList(t *testing.T) {
	t.Parallel()

	all := items("a", "b", "c")
	require.Equal(t, all[1:], FullRange(Range{Start: 2, End: 10}, all))
	require.Nil(t, FullRange(Range{Start: 5, End: 6}, all))
}
