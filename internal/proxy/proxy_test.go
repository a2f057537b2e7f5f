package proxy

import (
	"bytes"
	"io"
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

func newTestProxy(t *testing.T, allowedHosts ...string) *Proxy {
	t.Helper()
	return New(config.ProxyConfig{
		AllowedHosts: allowedHosts,
		Timeout:      5 * time.Second,
	}, observability.NewNopLogger(), observability.NewNopMetrics())
}

func TestHostAllowed(t *testing.T) {
	allowed := []string{".googlevideo.com", ".tiktokcdn.com"}

	assert.True(t, hostAllowed("rr3---sn-abc.googlevideo.com", allowed))
	assert.True(t, hostAllowed("v16m.tiktokcdn.com", allowed))
	assert.True(t, hostAllowed("googlevideo.com", allowed))

	assert.False(t, hostAllowed("evil.com", allowed))
	assert.False(t, hostAllowed("googlevideo.com.evil.com", allowed))
	assert.False(t, hostAllowed("fakegooglevideo.com", allowed))
}

func TestHostAllowed_NoLeadingDot(t *testing.T) {
	// Entries configured without a leading dot still match only on label
	// boundaries.
	allowed := []string{"googlevideo.com"}

	assert.True(t, hostAllowed("googlevideo.com", allowed))
	assert.True(t, hostAllowed("rr1.googlevideo.com", allowed))
	assert.False(t, hostAllowed("evilgooglevideo.com", allowed))
	assert.False(t, hostAllowed("googlevideo.com.evil.com", allowed))
}

func TestProxy_Allowed(t *testing.T) {
	p := newTestProxy(t, ".googlevideo.com")

	assert.True(t, p.Allowed("https://rr1.googlevideo.com/videoplayback"))
	assert.False(t, p.Allowed("https://example.com/file.mp4"))
	assert.False(t, p.Allowed("ftp://rr1.googlevideo.com/file"))
	assert.False(t, p.Allowed("://bad"))
}

func TestProxy_Stream(t *testing.T) {
	body := []byte("fake mp4 payload")
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "v.mp4", time.Time{}, bytes.NewReader(body))
	}))
	defer remote.Close()

	p := newTestProxy(t, "127.0.0.1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+remote.URL, nil)
	p.Stream(rec, req, remote.URL)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.Bytes())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProxy_Stream_ForwardsRange(t *testing.T) {
	body := []byte("0123456789abcdef")
	var gotRange atomic.Value
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		http.ServeContent(w, r, "v.mp4", time.Time{}, bytes.NewReader(body))
	}))
	defer remote.Close()

	p := newTestProxy(t, "127.0.0.1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	req.Header.Set("Range", "bytes=4-7")
	p.Stream(rec, req, remote.URL)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes=4-7", gotRange.Load())
	assert.Equal(t, []byte("4567"), rec.Body.Bytes())
	assert.Equal(t, "bytes 4-7/16", rec.Header().Get("Content-Range"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
}

func TestProxy_Stream_DisallowedHost(t *testing.T) {
	var outbound atomic.Int64
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outbound.Add(1)
	}))
	defer remote.Close()

	// Allow-list does not cover the test server.
	p := newTestProxy(t, ".googlevideo.com")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	p.Stream(rec, req, remote.URL)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, int64(0), outbound.Load(), "disallowed host must never be contacted")
	// CORS headers are present even on rejections.
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProxy_Stream_RemoteStatusPropagated(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer remote.Close()

	p := newTestProxy(t, "127.0.0.1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	p.Stream(rec, req, remote.URL)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "remote responded with status 403")
}

func TestProxy_Stream_NetworkError(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	remote.Close() // refuse connections

	p := newTestProxy(t, "127.0.0.1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	p.Stream(rec, req, remote.URL)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxy_Stream_DisallowedRedirect(t *testing.T) {
	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Redirect escape attempt: the target host is not allow-listed,
		// so the client must refuse to follow before dialing it.
		http.Redirect(w, r, "https://evil.example.com/secret", http.StatusFound)
	}))
	defer redirector.Close()

	p := newTestProxy(t, "127.0.0.1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	p.Stream(rec, req, redirector.URL)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProxy_Stream_PropagatesContentHeaders(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Accept-Ranges", "bytes")
		io.WriteString(w, "data")
	}))
	defer remote.Close()

	p := newTestProxy(t, "127.0.0.1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	p.Stream(rec, req, remote.URL)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
}
