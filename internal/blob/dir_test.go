package blob

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.Put(ctx, "abc.pptx", []byte("deck")))

	got, err := d.Get(ctx, "abc.pptx")
	require.NoError(t, err)
	assert.Equal(t, []byte("deck"), got)

	require.NoError(t, d.Put(ctx, "abc.pptx", []byte("replaced")))
	got, err = d.Get(ctx, "abc.pptx")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)
}

func TestDirStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDirStore(dir)
	require.NoError(t, err)

	require.NoError(t, d.Put(context.Background(), "x.json", []byte("[]")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x.json", entries[0].Name())
}

func TestDirStore_Missing(t *testing.T) {
	ctx := context.Background()
	d, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = d.Get(ctx, "nope.json")
	assert.ErrorIs(t, err, ErrNotExist)

	assert.NoError(t, d.Delete(ctx, "nope.json"))
}

func TestDirStore_Delete(t *testing.T) {
	ctx := context.Background()
	d, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.Put(ctx, "k", []byte("v")))
	require.NoError(t, d.Delete(ctx, "k"))

	_, err = d.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestDirStore_RejectsPathKeys(t *testing.T) {
	ctx := context.Background()
	d, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", ".", "..", "../escape", "a/b"} {
		assert.Error(t, d.Put(ctx, key, []byte("x")), "key %q", key)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.json": "application/json",
		"a.PDF":  "application/pdf",
		"a.pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"a.bin":  "application/octet-stream",
		"no-ext": "application/octet-stream",
	}
	for key, want := range tests {
		assert.Equal(t, want, contentType(key), key)
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "abc.pptx", UploadKey("abc", "My Deck.PPTX"))
	assert.Equal(t, "abc.pdf", UploadKey("abc", "export.pdf"))
	assert.Equal(t, "abc.json", ResultKey("abc"))
}
