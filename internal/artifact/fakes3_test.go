package artifact

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeS3 is a path-style S3 endpoint holding one bucket in memory.
type fakeS3 struct {
	bucket string

	mu       sync.Mutex
	objects  map[string][]byte
	puts     int
	failPuts int
	failCode int

	// headMisses makes HEAD report every key as missing, like a racing writer.
	headMisses bool
}

func newFakeS3(t *testing.T, bucket string) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{bucket: bucket, objects: make(map[string][]byte), failCode: http.StatusServiceUnavailable}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestS3Store(t *testing.T, srv *httptest.Server, bucket, prefix string) *S3Store {
	t.Helper()
	store, err := NewS3Store(context.Background(), S3Options{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       "eu-west-1",
		Endpoint:     srv.URL,
		AccessKey:    "test",
		SecretKey:    "test",
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return store
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && key == "":
		f.list(w, r.URL.Query().Get("prefix"))

	case r.Method == http.MethodHead:
		data, ok := f.objects[key]
		if !ok || f.headMisses {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		_, _ = w.Write(data)

	case r.Method == http.MethodPut:
		f.puts++
		if f.failPuts > 0 {
			f.failPuts--
			writeS3Error(w, f.failCode, map[int]string{
				http.StatusServiceUnavailable: "SlowDown",
				http.StatusForbidden:          "AccessDenied",
			}[f.failCode])
			return
		}
		if _, ok := f.objects[key]; ok && r.Header.Get("If-None-Match") == "*" {
			writeS3Error(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	type content struct {
		Key  string `xml:"Key"`
		Size int    `xml:"Size"`
	}
	type result struct {
		XMLName     xml.Name  `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
		Name        string    `xml:"Name"`
		Prefix      string    `xml:"Prefix"`
		KeyCount    int       `xml:"KeyCount"`
		MaxKeys     int       `xml:"MaxKeys"`
		IsTruncated bool      `xml:"IsTruncated"`
		Contents    []content `xml:"Contents"`
	}

	res := result{Name: f.bucket, Prefix: prefix, MaxKeys: 1000}
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			res.Contents = append(res.Contents, content{Key: key, Size: len(data)})
		}
	}
	slices.SortFunc(res.Contents, func(a, b content) int { return strings.Compare(a.Key, b.Key) })
	res.KeyCount = len(res.Contents)

	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(res)
}

func (f *fakeS3) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func (f *fakeS3) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "%s<Error><Code>%s</Code><Message>%s</Message><RequestId>req</RequestId></Error>", xml.Header, code, code)
}
