package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "raw-bucket"})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestPutObjectUploadsNewObject(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/upload/") {
			uploads.Add(1)
			require.Equal(t, "raw/org/src/abc.bin", r.URL.Query().Get("name"))
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.Contains(t, string(body), "raw-bytes")
			fmt.Fprintln(w, `{"name":"raw/org/src/abc.bin","bucket":"raw-bucket"}`)
			return
		}
		http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
	}))

	uri, err := store.PutObject(context.Background(), "raw/org/src/abc.bin", "text/html", strings.NewReader("raw-bytes"))
	require.NoError(t, err)
	require.Equal(t, "gs://raw-bucket/raw/org/src/abc.bin", uri)
	require.EqualValues(t, 1, uploads.Load())
}

func TestPutObjectSkipsExistingObject(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/upload/") {
			uploads.Add(1)
		}
		fmt.Fprintln(w, `{"name":"raw/org/src/abc.bin","bucket":"raw-bucket"}`)
	}))

	uri, err := store.PutObject(context.Background(), "raw/org/src/abc.bin", "", strings.NewReader("raw-bytes"))
	require.NoError(t, err)
	require.Equal(t, "gs://raw-bucket/raw/org/src/abc.bin", uri)
	require.Zero(t, uploads.Load())
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := store.PutObject(context.Background(), "  ", "", strings.NewReader("x"))
	require.Error(t, err)

	// The client retries server errors until the context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = store.PutObject(ctx, "raw/a.bin", "", strings.NewReader("x"))
	require.Error(t, err)
	require.Error(t, store.CheckBucket(ctx))
}
