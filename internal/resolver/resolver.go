// Package resolver translates a social platform URL into concrete
// downloadable media options by consulting the external extraction API.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/media"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
)

var (
	// ErrInvalidURL means the URL does not match any supported platform.
	// User-correctable; never retried.
	ErrInvalidURL = errors.New("url does not match any supported platform")

	// ErrUpstream means the extraction API failed or returned no options.
	ErrUpstream = errors.New("extraction api failed")
)

// platformPatterns are the supported source platforms. Resolution is
// rejected before any upstream call when none match.
var platformPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^https?://(www\.|m\.)?(youtube\.com|youtu\.be)/`),
	regexp.MustCompile(`(?i)^https?://(www\.|vm\.|vt\.)?tiktok\.com/`),
	regexp.MustCompile(`(?i)^https?://(www\.)?instagram\.com/`),
	regexp.MustCompile(`(?i)^https?://(www\.|mobile\.)?(twitter\.com|x\.com)/`),
	regexp.MustCompile(`(?i)^https?://(www\.|m\.|web\.)?facebook\.com/`),
	regexp.MustCompile(`(?i)^https?://fb\.watch/`),
	regexp.MustCompile(`(?i)^https?://(www\.|player\.)?vimeo\.com/`),
}

// trackingParams are stripped during URL normalization. They never change
// which media a URL identifies.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"si":           true,
	"feature":      true,
	"igshid":       true,
	"igsh":         true,
	"ref":          true,
	"ref_src":      true,
}

// Resolver calls the extraction API and caches results by normalized URL.
// Safe for concurrent use.
type Resolver struct {
	client  *http.Client
	apiURL  string
	apiKey  string
	cache   *optionCache
	logger  observability.Logger
	metrics observability.Metrics
}

// New creates a Resolver from configuration.
func New(cfg config.ResolverConfig, logger observability.Logger, metrics observability.Metrics) *Resolver {
	return &Resolver{
		client:  &http.Client{Timeout: cfg.Timeout},
		apiURL:  cfg.APIURL,
		apiKey:  cfg.APIKey,
		cache:   newOptionCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		logger:  logger.WithFields(map[string]interface{}{"component": "resolver"}),
		metrics: metrics.WithTags(map[string]string{"component": "resolver"}),
	}
}

// Supported reports whether the URL matches a supported platform pattern.
func Supported(sourceURL string) bool {
	for _, p := range platformPatterns {
		if p.MatchString(sourceURL) {
			return true
		}
	}
	return false
}

// Normalize strips tracking query parameters and fragments so equivalent
// share links hit the same cache entry.
func Normalize(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return sourceURL
	}

	q := u.Query()
	for param := range q {
		if trackingParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// extractionRequest is the wire format of the external extraction API.
type extractionRequest struct {
	URL string `json:"url"`
}

type extractionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Medias  []struct {
		Quality string `json:"quality"`
		Format  string `json:"format"`
		URL     string `json:"url"`
		Size    int64  `json:"size,omitempty"`
	} `json:"medias"`
}

// Resolve returns the downloadable media options for a source URL. Results
// are cached by normalized URL for the configured TTL.
func (r *Resolver) Resolve(ctx context.Context, sourceURL string) ([]media.Option, error) {
	start := time.Now()

	if !Supported(sourceURL) {
		r.metrics.IncrementCounter("resolve.rejected", map[string]string{"reason": "unsupported_platform"})
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, sourceURL)
	}

	key := Normalize(sourceURL)
	if options, ok := r.cache.get(key); ok {
		r.metrics.IncrementCounter("resolve.cache_hits", nil)
		return options, nil
	}
	r.metrics.IncrementCounter("resolve.cache_misses", nil)

	options, err := r.callUpstream(ctx, sourceURL)
	if err != nil {
		r.logger.Error("resolve failed", "error", err, "url", sourceURL)
		r.metrics.IncrementCounter("resolve.errors", nil)
		return nil, err
	}

	r.cache.put(key, options)

	r.logger.Info("url resolved",
		"url", sourceURL,
		"options", len(options),
		"duration_ms", time.Since(start).Milliseconds())
	r.metrics.RecordHistogram("resolve.duration_seconds", time.Since(start).Seconds(), nil)

	return options, nil
}

func (r *Resolver) callUpstream(ctx context.Context, sourceURL string) ([]media.Option, error) {
	body, err := json.Marshal(extractionRequest{URL: sourceURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var decoded extractionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrUpstream, err)
	}
	if !decoded.Success || len(decoded.Medias) == 0 {
		if decoded.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrUpstream, decoded.Message)
		}
		return nil, fmt.Errorf("%w: no media options returned", ErrUpstream)
	}

	options := make([]media.Option, 0, len(decoded.Medias))
	for _, m := range decoded.Medias {
		options = append(options, media.Option{
			Quality: m.Quality,
			Format:  m.Format,
			URL:     m.URL,
			Size:    m.Size,
		})
	}
	return options, nil
}
