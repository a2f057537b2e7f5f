package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
)

func newTestResolver(t *testing.T, apiURL string) *Resolver {
	t.Helper()
	return New(config.ResolverConfig{
		APIURL:          apiURL,
		Timeout:         5 * time.Second,
		CacheTTL:        10 * time.Minute,
		CacheMaxEntries: 100,
	}, observability.NewNopLogger(), observability.NewNopMetrics())
}

func extractionServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req extractionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.URL)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"medias": []map[string]interface{}{
				{"quality": "720p", "format": "mp4", "url": "https://cdn.example.com/v.mp4", "size": 1024},
				{"quality": "128kbps", "format": "mp3", "url": "https://cdn.example.com/a.mp3"},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSupported(t *testing.T) {
	supported := []string{
		"https://www.youtube.com/watch?v=abc123",
		"https://youtu.be/abc123",
		"https://vm.tiktok.com/ZMabc/",
		"https://www.instagram.com/reel/abc/",
		"https://x.com/user/status/123",
		"https://twitter.com/user/status/123",
		"https://www.facebook.com/watch/?v=123",
		"https://fb.watch/abc/",
		"https://vimeo.com/12345",
	}
	for _, u := range supported {
		assert.True(t, Supported(u), u)
	}

	unsupported := []string{
		"https://example.com/video",
		"https://notyoutube.com/watch?v=abc",
		"ftp://youtube.com/watch",
		"not a url",
	}
	for _, u := range unsupported {
		assert.False(t, Supported(u), u)
	}
}

func TestNormalize_StripsTrackingParams(t *testing.T) {
	in := "https://www.youtube.com/watch?v=abc123&si=XyZ&utm_source=share&feature=youtu.be#t=10"
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", Normalize(in))
}

func TestNormalize_KeepsMeaningfulParams(t *testing.T) {
	in := "https://www.youtube.com/watch?v=abc123&t=42"
	out := Normalize(in)
	assert.Contains(t, out, "v=abc123")
	assert.Contains(t, out, "t=42")
}

func TestResolver_Resolve(t *testing.T) {
	var calls atomic.Int64
	server := extractionServer(t, &calls)
	r := newTestResolver(t, server.URL)

	options, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, "720p", options[0].Quality)
	assert.Equal(t, "https://cdn.example.com/v.mp4", options[0].URL)
	assert.Equal(t, int64(1024), options[0].Size)
}

func TestResolver_Resolve_InvalidURL(t *testing.T) {
	var calls atomic.Int64
	server := extractionServer(t, &calls)
	r := newTestResolver(t, server.URL)

	_, err := r.Resolve(context.Background(), "https://example.com/not-a-platform")
	assert.ErrorIs(t, err, ErrInvalidURL)
	assert.Equal(t, int64(0), calls.Load(), "invalid urls must not reach upstream")
}

func TestResolver_Resolve_CachesByNormalizedURL(t *testing.T) {
	var calls atomic.Int64
	server := extractionServer(t, &calls)
	r := newTestResolver(t, server.URL)

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)

	// Same video, different share-link decoration.
	_, err = r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123&si=tracking&utm_source=share")
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "second resolve must be served from cache")
}

func TestResolver_Resolve_CacheExpiry(t *testing.T) {
	var calls atomic.Int64
	server := extractionServer(t, &calls)
	r := newTestResolver(t, server.URL)

	current := time.Now()
	r.cache.now = func() time.Time { return current }

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	// Within TTL: cached.
	current = current.Add(9 * time.Minute)
	_, err = r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())

	// Past TTL: refetched.
	current = current.Add(2 * time.Minute)
	_, err = r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestResolver_Resolve_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": "video unavailable"})
	}))
	defer server.Close()

	r := newTestResolver(t, server.URL)

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=gone")
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "video unavailable")
}

func TestResolver_Resolve_UpstreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	r := newTestResolver(t, server.URL)

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestResolver_Resolve_FailuresNotCached(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := newTestResolver(t, server.URL)

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.ErrorIs(t, err, ErrUpstream)
	_, err = r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.ErrorIs(t, err, ErrUpstream)

	assert.Equal(t, int64(2), calls.Load())
}

func TestOptionCache_CapEviction(t *testing.T) {
	cache := newOptionCache(time.Hour, 3)

	current := time.Now()
	cache.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		cache.put(fmt.Sprintf("url-%d", i), nil)
		current = current.Add(time.Second)
	}

	assert.Equal(t, 3, cache.len())

	// Oldest entries are gone, newest survive.
	_, ok := cache.get("url-0")
	assert.False(t, ok)
	_, ok = cache.get("url-1")
	assert.False(t, ok)
	_, ok = cache.get("url-4")
	assert.True(t, ok)
}
