package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDKeyRoundTrip(t *testing.T) {
	id := ID(1_000_123)
	got, err := IDFromKey(id.Key())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = IDFromKey([]byte{1, 2})
	assert.Error(t, err)

	// Big-endian keys sort numerically.
	assert.Less(t, string(ID(1000).Key()), string(ID(1001).Key()))
	assert.Less(t, string(ID(255).Key()), string(ID(256).Key()))
}

func TestParseChecksum(t *testing.T) {
	c, err := ParseChecksum("sha256/abcd")
	require.NoError(t, err)
	assert.Equal(t, Checksum{Algorithm: "sha256", Value: "abcd"}, c)
	assert.Equal(t, "sha256/abcd", c.Key())

	for _, bad := range []string{"", "sha1", "/x", "sha1/"} {
		_, err := ParseChecksum(bad)
		assert.Error(t, err, bad)
	}
}

func TestDocumentField(t *testing.T) {
	doc := &Document{
		ID:     1001,
		Schema: "data/abstraction/note",
		Data: map[string]any{
			"title": "Meeting notes",
			"tags":  []any{"work", "q3"},
			"meta":  map[string]any{"author": "sam"},
		},
	}

	v, ok := doc.Field("data.title")
	require.True(t, ok)
	assert.Equal(t, "Meeting notes", v)

	v, ok = doc.Field("meta.author")
	require.True(t, ok)
	assert.Equal(t, "sam", v)

	v, ok = doc.Field("schema")
	require.True(t, ok)
	assert.Equal(t, "data/abstraction/note", v)

	_, ok = doc.Field("data.missing")
	assert.False(t, ok)
	_, ok = doc.Field("data.title.deeper")
	assert.False(t, ok)

	assert.Equal(t, "work q3", doc.FieldText("data.tags"))
	assert.Equal(t, "", doc.FieldText("data.meta"))
}

func TestDocumentClone(t *testing.T) {
	doc := &Document{
		Data:      map[string]any{"title": "a"},
		Checksums: []Checksum{{Algorithm: "sha1", Value: "x"}},
	}
	c := doc.Clone()
	c.Data["title"] = "b"
	c.Checksums[0].Value = "y"

	assert.Equal(t, "a", doc.Data["title"])
	assert.Equal(t, "x", doc.Checksums[0].Value)

	p, ok := doc.PrimaryChecksum()
	require.True(t, ok)
	assert.Equal(t, "sha1", p.Algorithm)
	_, ok = doc.Checksum("md5")
	assert.False(t, ok)
}
