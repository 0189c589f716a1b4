package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimProducesDecodableToken(t *testing.T) {
	rows := []int64{10, 11, 12}

	page, info, err := Trim(rows, 2, func(v int64) int64 { return v })
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, page)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(11), cursor.ID)
}

func TestTrimLastPage(t *testing.T) {
	page, info, err := Trim([]int64{1}, 5, func(v int64) int64 { return v })
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, page)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}
