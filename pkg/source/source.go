package source

import (
	"context"
	"fmt"
	"time"
)

// Media is a show as listed by a schedule source.
type Media struct {
	ID           int64    `json:"id" db:"id"`
	TitleRomaji  string   `json:"title_romaji" db:"title_romaji"`
	TitleEnglish string   `json:"title_english" db:"title_english"`
	TitleNative  string   `json:"title_native" db:"title_native"`
	Description  string   `json:"description" db:"description"`
	CoverImage   string   `json:"cover_image" db:"cover_image"`
	Genres       []string `json:"genres" db:"-"`
	AverageScore int      `json:"average_score" db:"average_score"`
	Popularity   int      `json:"popularity" db:"popularity"`
	Format       string   `json:"format" db:"format"`
	Status       string   `json:"status" db:"status"`
	Season       string   `json:"season" db:"season"`
	SeasonYear   int      `json:"season_year" db:"season_year"`
	Episodes     int      `json:"episodes" db:"episodes"`
	SiteURL      string   `json:"site_url" db:"site_url"`
	GenresJSON   string   `json:"-" db:"genres"`
}

// DisplayTitle prefers the English title, then romaji, then native.
func (m Media) DisplayTitle() string {
	switch {
	case m.TitleEnglish != "":
		return m.TitleEnglish
	case m.TitleRomaji != "":
		return m.TitleRomaji
	case m.TitleNative != "":
		return m.TitleNative
	}
	return fmt.Sprintf("media %d", m.ID)
}

// Episode is a single scheduled airing of a media.
type Episode struct {
	ID      int64 `json:"id" db:"id"`
	MediaID int64 `json:"media_id" db:"media_id"`
	Number  int   `json:"episode" db:"episode"`
	AirAt   int64 `json:"air_at" db:"air_at"` // epoch seconds
}

// AirTime returns the air time in UTC.
func (e Episode) AirTime() time.Time {
	return time.Unix(e.AirAt, 0).UTC()
}

// Airing pairs an episode with the media it belongs to.
type Airing struct {
	Episode Episode `json:"episode"`
	Media   Media   `json:"media"`
}

// Page is one page of a paginated schedule listing.
type Page struct {
	Airings     []Airing
	HasNextPage bool
}

// ScheduleSource is the interface every remote schedule provider implements.
// Pages are numbered from 1.
type ScheduleSource interface {
	Name() string
	FetchPage(ctx context.Context, windowStart, windowEnd time.Time, page int) (*Page, error)
}

// FetchError reports a failed page fetch. It is always transient from the
// caller's point of view: the next sync attempt starts over from page 1.
type FetchError struct {
	Source string
	Page   int
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s page %d: %v", e.Source, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchErr(src string, page int, format string, args ...any) error {
	return &FetchError{Source: src, Page: page, Err: fmt.Errorf(format, args...)}
}
