package source

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	anilistEndpoint = "https://graphql.anilist.co"
	anilistName     = "anilist"
)

const airingScheduleQuery = `
query ($page: Int, $perPage: Int, $start: Int, $end: Int) {
  Page(page: $page, perPage: $perPage) {
    pageInfo { hasNextPage }
    airingSchedules(airingAt_greater: $start, airingAt_lesser: $end, sort: TIME) {
      id
      episode
      airingAt
      media {
        id
        title { romaji english native }
        description(asHtml: false)
        coverImage { large }
        genres
        averageScore
        popularity
        format
        status
        season
        seasonYear
        episodes
        siteUrl
        isAdult
      }
    }
  }
}`

// AniList fetches airing schedules from the AniList GraphQL API.
type AniList struct {
	client       *http.Client
	endpoint     string
	perPage      int
	includeAdult bool
}

// NewAniList creates a new AniList schedule source. An empty endpoint uses
// the public API.
func NewAniList(endpoint string, perPage int, includeAdult bool) *AniList {
	if endpoint == "" {
		endpoint = anilistEndpoint
	}
	if perPage <= 0 || perPage > 50 {
		perPage = 50
	}
	return &AniList{
		client:       &http.Client{Timeout: 30 * time.Second},
		endpoint:     endpoint,
		perPage:      perPage,
		includeAdult: includeAdult,
	}
}

func (a *AniList) Name() string { return anilistName }

func (a *AniList) FetchPage(ctx context.Context, windowStart, windowEnd time.Time, page int) (*Page, error) {
	// airingAt_greater is exclusive; shift by one second so windowStart is included.
	payload := map[string]any{
		"query": airingScheduleQuery,
		"variables": map[string]any{
			"page":    page,
			"perPage": a.perPage,
			"start":   windowStart.Unix() - 1,
			"end":     windowEnd.Unix(),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fetchErr(anilistName, page, "marshal anilist query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fetchErr(anilistName, page, "create anilist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fetchErr(anilistName, page, "post anilist query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fetchErr(anilistName, page, "anilist API status %d", resp.StatusCode)
	}

	var result alResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fetchErr(anilistName, page, "decode anilist response: %w", err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			msgs[i] = e.Message
		}
		return nil, fetchErr(anilistName, page, "anilist errors: %s", strings.Join(msgs, "; "))
	}

	out := &Page{HasNextPage: result.Data.Page.PageInfo.HasNextPage}
	for _, s := range result.Data.Page.AiringSchedules {
		if s.Media.IsAdult && !a.includeAdult {
			continue
		}
		out.Airings = append(out.Airings, Airing{
			Episode: Episode{
				ID:      s.ID,
				MediaID: s.Media.ID,
				Number:  s.Episode,
				AirAt:   s.AiringAt,
			},
			Media: s.Media.toMedia(),
		})
	}
	return out, nil
}

type alResponse struct {
	Data struct {
		Page struct {
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
			AiringSchedules []alSchedule `json:"airingSchedules"`
		} `json:"Page"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type alSchedule struct {
	ID       int64   `json:"id"`
	Episode  int     `json:"episode"`
	AiringAt int64   `json:"airingAt"`
	Media    alMedia `json:"media"`
}

type alMedia struct {
	ID    int64 `json:"id"`
	Title struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	Description string `json:"description"`
	CoverImage  struct {
		Large string `json:"large"`
	} `json:"coverImage"`
	Genres       []string `json:"genres"`
	AverageScore int      `json:"averageScore"`
	Popularity   int      `json:"popularity"`
	Format       string   `json:"format"`
	Status       string   `json:"status"`
	Season       string   `json:"season"`
	SeasonYear   int      `json:"seasonYear"`
	Episodes     int      `json:"episodes"`
	SiteURL      string   `json:"siteUrl"`
	IsAdult      bool     `json:"isAdult"`
}

func (m alMedia) toMedia() Media {
	return Media{
		ID:           m.ID,
		TitleRomaji:  m.Title.Romaji,
		TitleEnglish: m.Title.English,
		TitleNative:  m.Title.Native,
		Description:  m.Description,
		CoverImage:   m.CoverImage.Large,
		Genres:       m.Genres,
		AverageScore: m.AverageScore,
		Popularity:   m.Popularity,
		Format:       m.Format,
		Status:       m.Status,
		Season:       m.Season,
		SeasonYear:   m.SeasonYear,
		Episodes:     m.Episodes,
		SiteURL:      m.SiteURL,
	}
}
