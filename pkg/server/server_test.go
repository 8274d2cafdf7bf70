package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iskorsukov/aniwatcher/internal/store"
	"github.com/iskorsukov/aniwatcher/internal/syncer"
	"github.com/iskorsukov/aniwatcher/pkg/notify"
	"github.com/iskorsukov/aniwatcher/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Unix(1700000000, 0)

type fakeSyncer struct {
	err        error
	start, end time.Time
}

func (f *fakeSyncer) Sync(ctx context.Context, start, end time.Time) (syncer.Result, error) {
	f.start, f.end = start, end
	if f.err != nil {
		return syncer.Result{}, f.err
	}
	return syncer.Result{Source: "fake", Pages: 2, Media: 1, Episodes: 3}, nil
}

type clearCounter struct{ n int }

func (c *clearCounter) Present(ctx context.Context, a source.Airing) error { return nil }
func (c *clearCounter) PresentSummary(ctx context.Context, airings []source.Airing) error {
	return nil
}
func (c *clearCounter) ClearAll(ctx context.Context) error {
	c.n++
	return nil
}

func newTestServer(t *testing.T, sy Syncer, p *clearCounter) (*Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	media := []source.Media{
		{ID: 1, TitleEnglish: "Frieren"},
		{ID: 2, TitleRomaji: "Dungeon Meshi"},
	}
	episodes := []source.Episode{
		{ID: 10, MediaID: 1, Number: 1, AirAt: now.Unix() - 3600},
		{ID: 11, MediaID: 1, Number: 2, AirAt: now.Unix() + 3600},
		{ID: 20, MediaID: 2, Number: 1, AirAt: now.Unix() + 7200},
	}
	require.NoError(t, st.ReplaceSchedule(ctx, media, episodes))

	var presenter notify.Presenter
	if p != nil {
		presenter = p
	}
	return New(st, sy, presenter, Options{Now: func() time.Time { return now }}), st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestFollowLifecycle(t *testing.T) {
	srv, st := newTestServer(t, nil, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/follows", `{"media_id": 1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/follows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
	first := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "Frieren", first["title"])

	rec = do(t, h, http.MethodDelete, "/api/v1/follows/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	followed, err := st.IsFollowed(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, followed)
}

func TestFollowBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	h := srv.Handler()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/follows", `{"media_id": 0}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/follows", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/api/v1/follows/abc", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPut, "/api/v1/follows", "").Code)
}

func TestSchedule(t *testing.T) {
	srv, st := newTestServer(t, nil, nil)
	require.NoError(t, st.Follow(context.Background(), 2))
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	// The episode that already aired is excluded by default.
	assert.Equal(t, float64(2), decode(t, rec)["count"])

	rec = do(t, h, http.MethodGet, "/api/v1/schedule?followed=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, float64(1), body["count"])
	entry := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, true, entry["followed"])

	rec = do(t, h, http.MethodGet, "/api/v1/schedule?since=2023-01-01T00:00:00Z", "")
	assert.Equal(t, float64(3), decode(t, rec)["count"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/schedule?since=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/schedule?limit=-1", "").Code)
}

func TestPendingAndNotifications(t *testing.T) {
	p := &clearCounter{}
	srv, st := newTestServer(t, nil, p)
	ctx := context.Background()
	require.NoError(t, st.Follow(ctx, 1))
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/notifications/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	require.NoError(t, st.MarkNotified(ctx, 10, now))

	rec = do(t, h, http.MethodGet, "/api/v1/notifications/pending", "")
	body := decode(t, rec)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["data"])

	rec = do(t, h, http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, float64(1), body["unread"])

	rec = do(t, h, http.MethodPost, "/api/v1/notifications/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["marked"])
	assert.Equal(t, 1, p.n)

	rec = do(t, h, http.MethodGet, "/api/v1/notifications", "")
	assert.Equal(t, float64(0), decode(t, rec)["unread"])
}

func TestSync(t *testing.T) {
	sy := &fakeSyncer{}
	srv, _ := newTestServer(t, sy, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/sync?days=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["episodes"])
	assert.True(t, sy.start.Equal(time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)))
	assert.True(t, sy.end.Equal(time.Date(2023, 11, 17, 0, 0, 0, 0, time.UTC)))

	sy.err = &source.FetchError{Source: "fake", Page: 2, Err: errors.New("status 502")}
	rec = do(t, h, http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	sy.err = &store.TxError{Op: "replace schedule", Err: errors.New("disk full")}
	rec = do(t, h, http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSyncNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
