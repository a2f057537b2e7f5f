package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/job"
	"github.com/techask2021/fsmvid-sub005/internal/media"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/orchestrator"
	"github.com/techask2021/fsmvid-sub005/internal/proxy"
	"github.com/techask2021/fsmvid-sub005/internal/resolver"
	"github.com/techask2021/fsmvid-sub005/internal/store"
)

type fakeSubmitter struct {
	job *job.Job
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, userID string, urls []string, quality, format string) (*job.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

type fakeJobReader struct {
	jobs map[string]*job.Job
}

func (f *fakeJobReader) Get(ctx context.Context, id string) (*job.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j, nil
}

type fakeResolver struct {
	options []media.Option
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, sourceURL string) ([]media.Option, error) {
	return f.options, f.err
}

type fakeBalances struct {
	balances map[string]int
}

func (f *fakeBalances) Balance(ctx context.Context, userID string) (int, error) {
	balance, ok := f.balances[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return balance, nil
}

func newTestServer(t *testing.T, submitter Submitter, jobs JobReader, res Resolver) *Server {
	t.Helper()
	return newTestServerWithCredits(t, submitter, jobs, &fakeBalances{}, res)
}

func newTestServerWithCredits(t *testing.T, submitter Submitter, jobs JobReader, credits BalanceReader, res Resolver) *Server {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		HTTP:        config.HTTPConfig{Addr: ":0"},
	}
	streamProxy := proxy.New(config.ProxyConfig{AllowedHosts: []string{"127.0.0.1"}, Timeout: 5 * time.Second},
		observability.NewNopLogger(), observability.NewNopMetrics())
	return NewServer(cfg, submitter, jobs, credits, res, streamProxy,
		observability.NewNopLogger(), observability.NewNopMetrics())
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateJob(t *testing.T) {
	j, err := job.New("user-1", []string{"https://www.youtube.com/watch?v=a"}, "720p", "mp4", 1)
	require.NoError(t, err)

	s := newTestServer(t, &fakeSubmitter{job: j}, &fakeJobReader{}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodPost, "/api/jobs",
		map[string]interface{}{"urls": []string{"https://www.youtube.com/watch?v=a"}, "quality": "720p", "format": "mp4"},
		map[string]string{userIDHeader: "user-1"})

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, j.ID, resp.ID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 1, resp.TotalFiles)
}

func TestCreateJob_MissingUser(t *testing.T) {
	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodPost, "/api/jobs",
		map[string]interface{}{"urls": []string{"https://www.youtube.com/watch?v=a"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJob_InsufficientCredits(t *testing.T) {
	s := newTestServer(t, &fakeSubmitter{err: store.ErrInsufficientCredits}, &fakeJobReader{}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodPost, "/api/jobs",
		map[string]interface{}{"urls": []string{"https://www.youtube.com/watch?v=a"}},
		map[string]string{userIDHeader: "user-1"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestCreateJob_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"too many urls", orchestrator.ErrTooManyURLs},
		{"unsupported url", orchestrator.ErrUnsupportedURL},
		{"no urls", job.ErrNoURLs},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &fakeSubmitter{err: tc.err}, &fakeJobReader{}, &fakeResolver{})

			rec := doJSON(t, s, http.MethodPost, "/api/jobs",
				map[string]interface{}{"urls": []string{"https://www.youtube.com/watch?v=a"}},
				map[string]string{userIDHeader: "user-1"})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateJob_InvalidBody(t *testing.T) {
	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{}, &fakeResolver{})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader([]byte("not json")))
	req.Header.Set(userIDHeader, "user-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	j, err := job.New("user-1", []string{"https://www.youtube.com/watch?v=a"}, "720p", "mp4", 1)
	require.NoError(t, err)
	require.NoError(t, j.Start())
	require.NoError(t, j.RecordSuccess())
	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, j.Complete("jobs/x/archive.zip", "https://files.example.com/archive.zip", 10, expiresAt))

	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{jobs: map[string]*job.Job{j.ID: j}}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodGet, "/api/jobs/"+j.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	require.NotNil(t, resp.ZipURL)
	assert.Equal(t, "https://files.example.com/archive.zip", *resp.ZipURL)
	assert.NotNil(t, resp.ExpiresAt)
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{jobs: map[string]*job.Job{}}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodGet, "/api/jobs/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCredits(t *testing.T) {
	credits := &fakeBalances{balances: map[string]int{"user-1": 42}}
	s := newTestServerWithCredits(t, &fakeSubmitter{}, &fakeJobReader{}, credits, &fakeResolver{})

	rec := doJSON(t, s, http.MethodGet, "/api/credits", nil,
		map[string]string{userIDHeader: "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"credits":42`)
}

func TestGetCredits_MissingUser(t *testing.T) {
	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodGet, "/api/credits", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCredits_UnknownUser(t *testing.T) {
	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodGet, "/api/credits", nil,
		map[string]string{userIDHeader: "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolve(t *testing.T) {
	res := &fakeResolver{options: []media.Option{
		{Quality: "720p", Format: "mp4", URL: "https://cdn.example.com/v.mp4"},
	}}
	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{}, res)

	rec := doJSON(t, s, http.MethodPost, "/api/resolve",
		map[string]string{"url": "https://www.youtube.com/watch?v=a"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cdn.example.com")
}

func TestResolve_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad", resolver.ErrInvalidURL), http.StatusBadRequest},
		{fmt.Errorf("%w: down", resolver.ErrUpstream), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{}, &fakeResolver{err: tc.err})

		rec := doJSON(t, s, http.MethodPost, "/api/resolve",
			map[string]string{"url": "https://www.youtube.com/watch?v=a"}, nil)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestProxyEndpoint_MissingURL(t *testing.T) {
	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodGet, "/api/proxy", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyEndpoint_DisallowedHost(t *testing.T) {
	s := newTestServer(t, &fakeSubmitter{}, &fakeJobReader{}, &fakeResolver{})

	rec := doJSON(t, s, http.MethodGet, "/api/proxy?url=https://evil.example.com/x.mp4", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
