// Package proxy relays remote media streams to clients, rewriting headers
// so browser-restricted CDNs become playable and downloadable cross-origin.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/fetch"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
)

// ErrDisallowedHost is a security rejection: the remote host is not on the
// CDN allow-list. Without the list this endpoint would be an open proxy.
var ErrDisallowedHost = errors.New("remote host not allowed")

// Proxy streams remote media to clients without buffering the body.
type Proxy struct {
	client       *http.Client
	allowedHosts []string
	logger       observability.Logger
	metrics      observability.Metrics
}

// New creates a Proxy from configuration.
func New(cfg config.ProxyConfig, logger observability.Logger, metrics observability.Metrics) *Proxy {
	return &Proxy{
		// Redirects may hop between CDN edges; the redirect target must be
		// allow-listed too.
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				if !hostAllowed(req.URL.Hostname(), cfg.AllowedHosts) {
					return ErrDisallowedHost
				}
				return nil
			},
		},
		allowedHosts: cfg.AllowedHosts,
		logger:       logger.WithFields(map[string]interface{}{"component": "proxy"}),
		metrics:      metrics.WithTags(map[string]string{"component": "proxy"}),
	}
}

// Allowed reports whether the remote URL passes the host allow-list.
func (p *Proxy) Allowed(remoteURL string) bool {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return hostAllowed(u.Hostname(), p.allowedHosts)
}

// hostAllowed matches on label boundaries: an entry allows the exact host
// and its subdomains, never hosts that merely end with the same characters.
func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, entry := range allowed {
		entry = strings.TrimPrefix(strings.ToLower(entry), ".")
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// Stream relays the remote URL to the client. The client's Range header is
// forwarded verbatim, response headers are propagated, and the body is piped
// without buffering.
func (p *Proxy) Stream(w http.ResponseWriter, r *http.Request, remoteURL string) {
	start := time.Now()

	setCORSHeaders(w)

	if !p.Allowed(remoteURL) {
		p.logger.Warn("disallowed proxy target, possible abuse attempt",
			"url", remoteURL,
			"remote_addr", r.RemoteAddr)
		p.metrics.IncrementCounter("proxy.rejected", map[string]string{"reason": "disallowed_host"})
		http.Error(w, ErrDisallowedHost.Error(), http.StatusForbidden)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, remoteURL, nil)
	if err != nil {
		http.Error(w, "invalid remote url", http.StatusBadRequest)
		return
	}

	for k, v := range fetch.SpoofedHeaders(remoteURL) {
		req.Header.Set(k, v)
	}
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrDisallowedHost) {
			p.metrics.IncrementCounter("proxy.rejected", map[string]string{"reason": "disallowed_redirect"})
			http.Error(w, ErrDisallowedHost.Error(), http.StatusForbidden)
			return
		}
		p.logger.Error("remote fetch failed", "error", err, "url", remoteURL)
		p.metrics.IncrementCounter("proxy.errors", map[string]string{"error_type": "network"})
		http.Error(w, "remote fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Surface the remote status instead of masking it as a 500.
		p.metrics.IncrementCounter("proxy.errors", map[string]string{
			"error_type": fmt.Sprintf("remote_%d", resp.StatusCode),
		})
		http.Error(w, fmt.Sprintf("remote responded with status %d", resp.StatusCode), resp.StatusCode)
		return
	}

	copyHeader(w, resp, "Content-Type")
	copyHeader(w, resp, "Content-Length")
	copyHeader(w, resp, "Content-Range")
	copyHeader(w, resp, "Accept-Ranges")
	w.WriteHeader(resp.StatusCode)

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		// Client disconnects are routine for media streams.
		p.logger.Debug("stream interrupted", "error", err, "bytes_written", written)
		p.metrics.IncrementCounter("proxy.interrupted", nil)
		return
	}

	p.logger.Info("stream completed",
		"url", remoteURL,
		"status", resp.StatusCode,
		"bytes", written,
		"duration_ms", time.Since(start).Milliseconds())
	p.metrics.IncrementCounter("proxy.success", nil)
	p.metrics.RecordHistogram("proxy.bytes", float64(written), nil)
}

func copyHeader(w http.ResponseWriter, resp *http.Response, name string) {
	if v := resp.Header.Get(name); v != "" {
		w.Header().Set(name, v)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Range")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
}

