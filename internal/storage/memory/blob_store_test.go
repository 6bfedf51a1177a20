package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "raw/org/src/abc.bin", "application/pdf", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://raw/org/src/abc.bin", uri)

	payload[0] = 'C'
	stored, contentType, ok := store.Object("raw/org/src/abc.bin")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, "application/pdf", contentType)
	require.Equal(t, 1, store.Len())

	_, _, ok = store.Object("missing")
	require.False(t, ok)
}
