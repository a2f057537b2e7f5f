package fetch

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
)

func newTestFetcher(t *testing.T, concurrency int, maxFileSize int64) *ChunkedFetcher {
	t.Helper()
	return New(config.FetchConfig{
		Concurrency: concurrency,
		Timeout:     5 * time.Second,
		MaxFileSize: maxFileSize,
	}, observability.NewNopLogger(), observability.NewNopMetrics())
}

func randomBody(t *testing.T, size int) []byte {
	t.Helper()
	body := make([]byte, size)
	rng := rand.New(rand.NewSource(42))
	_, err := rng.Read(body)
	require.NoError(t, err)
	return body
}

// rangeServer serves body with full Range support and counts range requests.
func rangeServer(t *testing.T, body []byte, rangeRequests *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" && rangeRequests != nil {
			rangeRequests.Add(1)
		}
		http.ServeContent(w, r, "video.mp4", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchParallel_Reassembly(t *testing.T) {
	body := randomBody(t, 100_003) // odd size so the last chunk absorbs a remainder
	var rangeRequests atomic.Int64
	server := rangeServer(t, body, &rangeRequests)

	f := newTestFetcher(t, 4, 0)

	got, err := f.FetchParallel(context.Background(), server.URL)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got), "reassembled bytes must match the original")
	assert.Equal(t, int64(4), rangeRequests.Load())
}

func TestFetchParallel_SingleChunk(t *testing.T) {
	body := randomBody(t, 512)
	server := rangeServer(t, body, nil)

	f := newTestFetcher(t, 1, 0)

	got, err := f.FetchParallel(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchParallel_MoreChunksThanBytes(t *testing.T) {
	body := []byte("ab")
	server := rangeServer(t, body, nil)

	f := newTestFetcher(t, 8, 0)

	got, err := f.FetchParallel(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchParallel_SizeUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Length on HEAD.
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newTestFetcher(t, 4, 0)

	_, err := f.FetchParallel(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrSizeUnknown)
}

func TestFetchParallel_TooLarge(t *testing.T) {
	body := randomBody(t, 4096)
	server := rangeServer(t, body, nil)

	f := newTestFetcher(t, 4, 1024)

	_, err := f.FetchParallel(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestFetchParallel_ChunkFailure(t *testing.T) {
	body := randomBody(t, 10_000)
	var gets atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Fail the second range request.
			if gets.Add(1) == 2 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
		}
		http.ServeContent(w, r, "video.mp4", time.Time{}, bytes.NewReader(body))
	}))
	defer server.Close()

	f := newTestFetcher(t, 4, 0)

	_, err := f.FetchParallel(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrChunkDownload)
}

func TestFetchParallel_ServerIgnoresRange(t *testing.T) {
	body := randomBody(t, 9_001)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always the full body regardless of the Range header.
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "9001")
			return
		}
		w.Write(body)
	}))
	defer server.Close()

	f := newTestFetcher(t, 3, 0)

	got, err := f.FetchParallel(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestPartition(t *testing.T) {
	chunks := partition(100, 4)
	require.Len(t, chunks, 4)
	assert.Equal(t, int64(0), chunks[0].start)
	assert.Equal(t, int64(24), chunks[0].end)
	assert.Equal(t, int64(75), chunks[3].start)
	assert.Equal(t, int64(99), chunks[3].end)
}

func TestPartition_Remainder(t *testing.T) {
	chunks := partition(103, 4)
	require.Len(t, chunks, 4)

	// Contiguity across all boundaries, last chunk takes the remainder.
	var total int64
	for i, c := range chunks {
		if i > 0 {
			assert.Equal(t, chunks[i-1].end+1, c.start)
		}
		total += c.end - c.start + 1
	}
	assert.Equal(t, int64(103), total)
	assert.Equal(t, int64(102), chunks[3].end)
}

func TestSpoofedHeaders(t *testing.T) {
	h := SpoofedHeaders("https://v16m.tiktokcdn.com/abc/video.mp4")
	assert.Equal(t, "https://www.tiktok.com/", h["Referer"])
	assert.Equal(t, "https://www.tiktok.com", h["Origin"])
	assert.True(t, strings.HasPrefix(h["User-Agent"], "Mozilla/5.0"))

	h = SpoofedHeaders("https://rr3.googlevideo.com/videoplayback?id=1")
	assert.Equal(t, "https://www.youtube.com/", h["Referer"])

	// Unknown hosts get no Referer, only the browser identity.
	h = SpoofedHeaders("https://cdn.example.com/file.mp4")
	assert.NotContains(t, h, "Referer")
	assert.NotEmpty(t, h["User-Agent"])
}
