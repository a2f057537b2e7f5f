// Package fetch downloads a single large remote file with parallel ranged
// HTTP requests. CDNs that throttle per connection stream full speed when a
// file is split into concurrent ranges.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
)

var (
	// ErrSizeUnknown means the server did not report a Content-Length, so
	// the file cannot be partitioned into ranges.
	ErrSizeUnknown = errors.New("remote did not report content length")

	// ErrChunkDownload means at least one range request failed; the whole
	// fetch fails with it.
	ErrChunkDownload = errors.New("chunk download failed")

	// ErrFileTooLarge means the remote file exceeds the configured cap.
	// The fetcher buffers whole files, so the cap protects memory.
	ErrFileTooLarge = errors.New("remote file exceeds maximum size")
)

// ChunkedFetcher downloads files by issuing concurrent range requests and
// reassembling the chunks in byte order.
type ChunkedFetcher struct {
	client      *http.Client
	concurrency int
	maxFileSize int64
	logger      observability.Logger
	metrics     observability.Metrics
}

// New creates a ChunkedFetcher from configuration.
func New(cfg config.FetchConfig, logger observability.Logger, metrics observability.Metrics) *ChunkedFetcher {
	return &ChunkedFetcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		concurrency: cfg.Concurrency,
		maxFileSize: cfg.MaxFileSize,
		logger:      logger.WithFields(map[string]interface{}{"component": "fetch"}),
		metrics:     metrics.WithTags(map[string]string{"component": "fetch"}),
	}
}

// chunk is one byte range of the remote file.
type chunk struct {
	index int
	start int64
	end   int64 // inclusive
	data  []byte
}

// FetchParallel downloads the remote file into memory using the configured
// number of concurrent range requests.
func (f *ChunkedFetcher) FetchParallel(ctx context.Context, remoteURL string) ([]byte, error) {
	start := time.Now()

	length, err := f.contentLength(ctx, remoteURL)
	if err != nil {
		f.metrics.IncrementCounter("fetch.errors", map[string]string{"error_type": "size_unknown"})
		return nil, err
	}
	if f.maxFileSize > 0 && length > f.maxFileSize {
		f.metrics.IncrementCounter("fetch.errors", map[string]string{"error_type": "too_large"})
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, length)
	}

	chunks := partition(length, f.concurrency)
	headers := SpoofedHeaders(remoteURL)

	results := make(chan chunk, len(chunks))
	errs := make(chan error, len(chunks))

	var wg sync.WaitGroup
	for _, c := range chunks {
		wg.Add(1)
		go func(c chunk) {
			defer wg.Done()
			data, err := f.fetchRange(ctx, remoteURL, headers, c.start, c.end)
			if err != nil {
				errs <- fmt.Errorf("chunk %d (bytes %d-%d): %w", c.index, c.start, c.end, err)
				return
			}
			c.data = data
			results <- c
		}(c)
	}
	wg.Wait()
	close(results)
	close(errs)

	if err := <-errs; err != nil {
		f.logger.Error("chunked fetch failed", "error", err, "url", remoteURL)
		f.metrics.IncrementCounter("fetch.errors", map[string]string{"error_type": "chunk"})
		return nil, err
	}

	done := make([]chunk, 0, len(chunks))
	for c := range results {
		done = append(done, c)
	}

	// Reassembly must follow the original byte order, not completion order.
	sort.Slice(done, func(i, j int) bool { return done[i].index < done[j].index })

	buf := make([]byte, 0, length)
	for _, c := range done {
		buf = append(buf, c.data...)
	}

	f.logger.Info("file fetched",
		"url", remoteURL,
		"size_bytes", len(buf),
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds())
	f.metrics.RecordHistogram("fetch.size_bytes", float64(len(buf)), nil)
	f.metrics.RecordHistogram("fetch.duration_seconds", time.Since(start).Seconds(), nil)

	return buf, nil
}

// partition splits [0, length) into n contiguous ranges. The last range
// absorbs the remainder of the integer division.
func partition(length int64, n int) []chunk {
	if n < 1 {
		n = 1
	}
	if int64(n) > length {
		n = int(length)
		if n == 0 {
			n = 1
		}
	}

	size := length / int64(n)
	chunks := make([]chunk, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * size
		end := start + size - 1
		if i == n-1 {
			end = length - 1
		}
		chunks = append(chunks, chunk{index: i, start: start, end: end})
	}
	return chunks
}

func (f *ChunkedFetcher) contentLength(ctx context.Context, remoteURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, remoteURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HEAD request: %w", err)
	}
	for k, v := range SpoofedHeaders(remoteURL) {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("%w: HEAD status %d", ErrChunkDownload, resp.StatusCode)
	}
	if resp.ContentLength <= 0 {
		return 0, ErrSizeUnknown
	}
	return resp.ContentLength, nil
}

func (f *ChunkedFetcher) fetchRange(ctx context.Context, remoteURL string, headers map[string]string, start, end int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create range request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunkDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrChunkDownload, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunkDownload, err)
	}

	// A 200 means the server ignored the Range header and sent the whole
	// body; slice out the requested window so reassembly stays correct.
	if resp.StatusCode == http.StatusOK && int64(len(data)) > end-start+1 {
		if int64(len(data)) <= end {
			return nil, fmt.Errorf("%w: short full-body response", ErrChunkDownload)
		}
		data = data[start : end+1]
	}

	return data, nil
}
