package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anilistPage = `{
  "data": {
    "Page": {
      "pageInfo": {"hasNextPage": true},
      "airingSchedules": [
        {
          "id": 1, "episode": 5, "airingAt": 1700000000,
          "media": {
            "id": 10,
            "title": {"romaji": "Sousou no Frieren", "english": "Frieren", "native": ""},
            "coverImage": {"large": "https://img/10.jpg"},
            "genres": ["Adventure", "Drama"],
            "averageScore": 91, "popularity": 300000,
            "format": "TV", "status": "RELEASING", "season": "FALL", "seasonYear": 2023,
            "episodes": 28, "siteUrl": "https://anilist.co/anime/10", "isAdult": false
          }
        },
        {
          "id": 2, "episode": 1, "airingAt": 1700003600,
          "media": {"id": 11, "title": {"romaji": "Adult Show"}, "isAdult": true}
        }
      ]
    }
  }
}`

func TestAniListFetchPage(t *testing.T) {
	var got struct {
		Query     string         `json:"query"`
		Variables map[string]int `json:"variables"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(anilistPage))
	}))
	defer srv.Close()

	src := NewAniList(srv.URL, 25, false)
	start := time.Unix(1699990000, 0)
	end := time.Unix(1700100000, 0)

	page, err := src.FetchPage(context.Background(), start, end, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, got.Variables["page"])
	assert.Equal(t, 25, got.Variables["perPage"])
	assert.Equal(t, 1699989999, got.Variables["start"])
	assert.Equal(t, 1700100000, got.Variables["end"])
	assert.Contains(t, got.Query, "airingSchedules")

	assert.True(t, page.HasNextPage)
	require.Len(t, page.Airings, 1, "adult media is skipped by default")
	a := page.Airings[0]
	assert.Equal(t, Episode{ID: 1, MediaID: 10, Number: 5, AirAt: 1700000000}, a.Episode)
	assert.Equal(t, "Frieren", a.Media.DisplayTitle())
	assert.Equal(t, []string{"Adventure", "Drama"}, a.Media.Genres)
	assert.Equal(t, "https://img/10.jpg", a.Media.CoverImage)
	assert.Equal(t, 2023, a.Media.SeasonYear)
}

func TestAniListIncludeAdult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(anilistPage))
	}))
	defer srv.Close()

	page, err := NewAniList(srv.URL, 0, true).FetchPage(context.Background(), time.Unix(0, 0), time.Unix(1800000000, 0), 1)
	require.NoError(t, err)
	assert.Len(t, page.Airings, 2)
}

func TestAniListErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http status", status: http.StatusTooManyRequests, body: `{}`},
		{name: "graphql errors", status: http.StatusOK, body: `{"errors":[{"message":"bad variable"}]}`},
		{name: "malformed", status: http.StatusOK, body: `{"data":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewAniList(srv.URL, 50, false).FetchPage(context.Background(), time.Now(), time.Now().Add(time.Hour), 2)
			require.Error(t, err)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "anilist", fe.Source)
			assert.Equal(t, 2, fe.Page)
		})
	}
}

func TestMediaDisplayTitle(t *testing.T) {
	assert.Equal(t, "English", Media{TitleEnglish: "English", TitleRomaji: "Romaji"}.DisplayTitle())
	assert.Equal(t, "Romaji", Media{TitleRomaji: "Romaji", TitleNative: "Native"}.DisplayTitle())
	assert.Equal(t, "Native", Media{TitleNative: "Native"}.DisplayTitle())
	assert.Equal(t, "media 7", Media{ID: 7}.DisplayTitle())
}
