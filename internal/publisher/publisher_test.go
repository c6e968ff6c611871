package publisher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type tagged struct {
	Keyword string `json:"keyword"`
}

func (t tagged) Attributes() map[string]string {
	return map[string]string{"keyword": t.Keyword}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	data, attrs, err := Encode(tagged{Keyword: "bees"})
	require.NoError(t, err)
	require.JSONEq(t, `{"keyword":"bees"}`, string(data))
	require.Equal(t, map[string]string{"content_type": "application/json", "keyword": "bees"}, attrs)

	_, _, err = Encode(make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
