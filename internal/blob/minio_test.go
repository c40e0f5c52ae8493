package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/deckexplain/internal/config"
)

type putRecord struct {
	path        string
	contentType string
}

// fakeS3 answers the path-style S3 calls MinIOStore and EnsureBucket make.
// Objects are keyed by "bucket/key".
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	puts    []putRecord
	deleted []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := r.URL.Query()["location"]; ok {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`)
		return
	}

	p := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(p, "/")

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			io.Copy(io.Discard, r.Body)
			f.buckets[bucket] = true
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		io.Copy(io.Discard, r.Body)
		f.puts = append(f.puts, putRecord{path: p, contentType: r.Header.Get("Content-Type")})
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	case http.MethodGet:
		data, ok := f.objects[p]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>Object not found</Message><Key>%s</Key><BucketName>%s</BucketName><Resource>/%s</Resource><RequestId>1</RequestId></Error>`, key, bucket, p)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Write(data)
	case http.MethodDelete:
		delete(f.objects, p)
		f.deleted = append(f.deleted, p)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3(t *testing.T) (*fakeS3, *minio.Client) {
	t.Helper()
	f := &fakeS3{
		buckets: map[string]bool{"deckexplain": true},
		objects: map[string][]byte{},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := NewS3Client(config.S3Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		Bucket:    "deckexplain",
		AccessKey: "access",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	return f, client
}

func TestMinIOStore_GetMissingIsErrNotExist(t *testing.T) {
	_, client := newFakeS3(t)
	s := NewMinIOStore(client, "deckexplain", "outputs/")

	_, err := s.Get(context.Background(), "abc.json")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestMinIOStore_GetAndDelete(t *testing.T) {
	f, client := newFakeS3(t)
	f.objects["deckexplain/outputs/abc.json"] = []byte(`[{"slide_number":1,"explanation":"x"}]`)
	s := NewMinIOStore(client, "deckexplain", "outputs/")
	ctx := context.Background()

	got, err := s.Get(ctx, "abc.json")
	require.NoError(t, err)
	assert.Equal(t, `[{"slide_number":1,"explanation":"x"}]`, string(got))

	require.NoError(t, s.Delete(ctx, "abc.json"))
	assert.Equal(t, []string{"deckexplain/outputs/abc.json"}, f.deleted)

	_, err = s.Get(ctx, "abc.json")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestMinIOStore_PutUsesPrefixAndContentType(t *testing.T) {
	f, client := newFakeS3(t)
	s := NewMinIOStore(client, "deckexplain", "uploads/")

	require.NoError(t, s.Put(context.Background(), "abc.pptx", []byte("deck")))

	require.Len(t, f.puts, 1)
	assert.Equal(t, "deckexplain/uploads/abc.pptx", f.puts[0].path)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.presentationml.presentation", f.puts[0].contentType)
}

func TestMinIOStore_RejectsPathKeys(t *testing.T) {
	f, client := newFakeS3(t)
	s := NewMinIOStore(client, "deckexplain", "uploads/")

	assert.Error(t, s.Put(context.Background(), "../escape.pptx", []byte("x")))
	assert.Empty(t, f.puts)
}

func TestEnsureBucket(t *testing.T) {
	f, client := newFakeS3(t)
	ctx := context.Background()

	require.NoError(t, EnsureBucket(ctx, client, "fresh"))
	assert.True(t, f.buckets["fresh"])

	require.NoError(t, EnsureBucket(ctx, client, "fresh"))
}

func TestNewS3Client_RequiresEndpoint(t *testing.T) {
	_, err := NewS3Client(config.S3Config{Bucket: "deckexplain"})
	assert.ErrorContains(t, err, "s3.endpoint")
}

func TestMapMinIOError(t *testing.T) {
	assert.ErrorIs(t, mapMinIOError(minio.ErrorResponse{Code: "NoSuchKey"}), ErrNotExist)

	err := mapMinIOError(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden})
	assert.NotErrorIs(t, err, ErrNotExist)
	assert.ErrorContains(t, err, "s3 get object")
}
