package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/iskorsukov/aniwatcher/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	name string
	err  error

	mu   sync.Mutex
	sent []*Notification
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Send(ctx context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func testAiring(episodeID int64, number int) source.Airing {
	return source.Airing{
		Episode: source.Episode{ID: episodeID, MediaID: 10, Number: number, AirAt: 1700000000},
		Media: source.Media{
			ID:           10,
			TitleRomaji:  "Sousou no Frieren",
			TitleEnglish: "Frieren",
			Episodes:     28,
			SiteURL:      "https://anilist.co/anime/10",
			CoverImage:   "https://img/10.jpg",
		},
	}
}

func TestManagerPresent(t *testing.T) {
	rec := &recordingNotifier{name: "rec"}
	m := NewManager([]Notifier{rec}, nil)

	require.NoError(t, m.Present(context.Background(), testAiring(1, 5)))
	require.Len(t, rec.sent, 1)

	n := rec.sent[0]
	assert.Equal(t, KindEpisode, n.Kind)
	assert.Equal(t, "Frieren", n.Title)
	assert.Equal(t, "Episode 5/28 of Frieren has aired", n.Body)
	assert.Equal(t, "https://anilist.co/anime/10", n.URL)
	assert.Equal(t, int64(1700000000), n.AirAt.Unix())
}

func TestManagerPartialFailure(t *testing.T) {
	ok := &recordingNotifier{name: "ok"}
	broken := &recordingNotifier{name: "broken", err: errors.New("boom")}
	m := NewManager([]Notifier{broken, ok}, nil)

	require.NoError(t, m.Present(context.Background(), testAiring(1, 5)))
	assert.Len(t, ok.sent, 1)
}

func TestManagerAllFail(t *testing.T) {
	m := NewManager([]Notifier{
		&recordingNotifier{name: "a", err: errors.New("down")},
		&recordingNotifier{name: "b", err: errors.New("down")},
	}, nil)

	err := m.Present(context.Background(), testAiring(1, 5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: down")
	assert.Contains(t, err.Error(), "b: down")
}

func TestManagerNoNotifiers(t *testing.T) {
	m := NewManager(nil, nil)
	assert.False(t, m.HasNotifiers())
	assert.True(t, errors.Is(m.Present(context.Background(), testAiring(1, 1)), ErrNoNotifiers))
}

func TestManagerSummary(t *testing.T) {
	rec := &recordingNotifier{name: "rec"}
	m := NewManager([]Notifier{rec}, nil)

	require.NoError(t, m.PresentSummary(context.Background(), nil))
	assert.Empty(t, rec.sent)

	require.NoError(t, m.PresentSummary(context.Background(), []source.Airing{testAiring(1, 5), testAiring(2, 6)}))
	require.Len(t, rec.sent, 1)
	assert.Equal(t, KindSummary, rec.sent[0].Kind)
	assert.Equal(t, "2 new episodes aired", rec.sent[0].Title)
	assert.Equal(t, "Frieren: episode 5\nFrieren: episode 6", rec.sent[0].Body)
}

func TestManagerClearAll(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []Kind
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		mu.Lock()
		kinds = append(kinds, n.Kind)
		mu.Unlock()
	}))
	defer srv.Close()

	m := NewManager([]Notifier{NewWebhook(srv.URL, ""), &recordingNotifier{name: "rec"}}, nil)
	require.NoError(t, m.Present(context.Background(), testAiring(1, 5)))

	require.NoError(t, m.ClearAll(context.Background()))
	assert.Equal(t, []Kind{KindEpisode, KindClear}, kinds)
}

func TestWebhookOmitsZeroAirTime(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
	}))
	defer srv.Close()

	m := NewManager([]Notifier{NewWebhook(srv.URL, "")}, nil)
	ctx := context.Background()
	require.NoError(t, m.Present(ctx, testAiring(1, 5)))
	require.NoError(t, m.PresentSummary(ctx, []source.Airing{testAiring(1, 5), testAiring(2, 6)}))
	require.NoError(t, m.ClearAll(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 3)
	assert.Equal(t, "2023-11-14T22:13:20Z", bodies[0]["air_at"])
	assert.NotContains(t, bodies[1], "air_at")
	assert.NotContains(t, bodies[2], "air_at")
}

func TestWebhookSignature(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(srv.URL, "s3cret").Send(context.Background(), EpisodeNotification(testAiring(1, 5))))

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "").Send(context.Background(), EpisodeNotification(testAiring(1, 5)))
	assert.EqualError(t, err, "webhook status 500")
}

func TestSlackPayload(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	require.NoError(t, NewSlack(srv.URL).Send(context.Background(), EpisodeNotification(testAiring(1, 5))))
	assert.Equal(t, "Frieren", payload["text"])
	blocks := payload["blocks"].([]any)
	require.Len(t, blocks, 3)
	section := blocks[1].(map[string]any)
	assert.Equal(t, "image", section["accessory"].(map[string]any)["type"])
}

func TestDiscordPayload(t *testing.T) {
	var payload struct {
		Embeds []map[string]any `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscord(srv.URL).Send(context.Background(), EpisodeNotification(testAiring(1, 5))))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "📺 Frieren", payload.Embeds[0]["title"])
	assert.Equal(t, "https://anilist.co/anime/10", payload.Embeds[0]["url"])
	assert.Equal(t, "2023-11-14T22:13:20Z", payload.Embeds[0]["timestamp"])
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewConsole(&buf).Send(context.Background(), SummaryNotification([]source.Airing{testAiring(1, 5)})))
	assert.Contains(t, buf.String(), "1 new episodes aired\nFrieren: episode 5\n")
}
