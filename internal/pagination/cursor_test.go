package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCursor(t *testing.T) {
	ts := time.Date(2024, time.May, 1, 12, 30, 45, 123456000, time.UTC)

	token := EncodeCursor("doc-123", ts)
	require.NotEmpty(t, token)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "doc-123", cursor.LastID)
	assert.True(t, cursor.Timestamp.Equal(ts))
}

func TestEncodeCursor_EmptyID(t *testing.T) {
	assert.Empty(t, EncodeCursor("", time.Now()))
}

func TestDecodeCursor_Empty(t *testing.T) {
	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	_, err := DecodeCursor("not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	// Valid base64 with no separator.
	_, err = DecodeCursor("aGVsbG8=")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	// Separator present but timestamp is garbage.
	_, err = DecodeCursor("aWR8bm90LWEtdGltZQ==")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCreateNextCursor(t *testing.T) {
	type item struct {
		id string
		ts time.Time
	}
	now := time.Now().UTC()
	items := []item{
		{"a", now},
		{"b", now.Add(-time.Minute)},
	}

	getID := func(i item) string { return i.id }
	getTS := func(i item) time.Time { return i.ts }

	// Full page: cursor points at the last item.
	token := CreateNextCursor(items, 2, getID, getTS)
	require.NotEmpty(t, token)
	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "b", cursor.LastID)

	// Short page: no more results, no cursor.
	assert.Empty(t, CreateNextCursor(items, 3, getID, getTS))
	assert.Empty(t, CreateNextCursor([]item{}, 2, getID, getTS))
}
