// Package syncer pulls a paginated airing schedule from a remote source and
// replaces the local cache with it in a single transaction.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/iskorsukov/aniwatcher/internal/metrics"
	"github.com/iskorsukov/aniwatcher/pkg/source"
)

// DefaultMaxPages bounds a single sync so a source that never reports the
// last page cannot grow the in-memory buffer forever.
const DefaultMaxPages = 50

// Writer is the part of the store the syncer writes to.
type Writer interface {
	ReplaceSchedule(ctx context.Context, media []source.Media, episodes []source.Episode) error
}

// Result summarizes a completed sync.
type Result struct {
	Source   string        `json:"source"`
	Pages    int           `json:"pages"`
	Media    int           `json:"media"`
	Episodes int           `json:"episodes"`
	Duration time.Duration `json:"duration"`
}

// Syncer replaces the cached schedule with a remote window.
type Syncer struct {
	src      source.ScheduleSource
	store    Writer
	maxPages int
	log      hclog.Logger
}

// New creates a syncer. maxPages <= 0 uses DefaultMaxPages.
func New(src source.ScheduleSource, store Writer, maxPages int, log hclog.Logger) *Syncer {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Syncer{
		src:      src,
		store:    store,
		maxPages: maxPages,
		log:      log.Named("syncer"),
	}
}

// Window returns [start of the UTC day of now, that + days).
func Window(now time.Time, days int) (time.Time, time.Time) {
	start := now.UTC().Truncate(24 * time.Hour)
	return start, start.AddDate(0, 0, days)
}

// Sync fetches every page of [windowStart, windowEnd) and then writes them in
// one transaction. If any page fails nothing is written and the previous
// cache stays as it was. There is no retry; the caller decides.
func (s *Syncer) Sync(ctx context.Context, windowStart, windowEnd time.Time) (Result, error) {
	start := time.Now()
	res := Result{Source: s.src.Name()}

	var (
		media    []source.Media
		episodes []source.Episode
		seenM    = make(map[int64]int)
		seenE    = make(map[int64]int)
	)

	for page := 1; ; page++ {
		if page > s.maxPages {
			metrics.SyncRuns.WithLabelValues("fetch_error").Inc()
			return res, &source.FetchError{
				Source: s.src.Name(),
				Page:   page,
				Err:    fmt.Errorf("more than %d pages", s.maxPages),
			}
		}

		p, err := s.src.FetchPage(ctx, windowStart, windowEnd, page)
		if err != nil {
			metrics.SyncRuns.WithLabelValues("fetch_error").Inc()
			s.log.Warn("fetch page failed, cache left untouched", "page", page, "error", err)
			return res, err
		}
		res.Pages = page

		for _, a := range p.Airings {
			// Later pages win for duplicated ids.
			if i, ok := seenM[a.Media.ID]; ok {
				media[i] = a.Media
			} else {
				seenM[a.Media.ID] = len(media)
				media = append(media, a.Media)
			}
			if i, ok := seenE[a.Episode.ID]; ok {
				episodes[i] = a.Episode
			} else {
				seenE[a.Episode.ID] = len(episodes)
				episodes = append(episodes, a.Episode)
			}
		}

		if !p.HasNextPage {
			break
		}
	}

	if err := s.store.ReplaceSchedule(ctx, media, episodes); err != nil {
		metrics.SyncRuns.WithLabelValues("store_error").Inc()
		return res, fmt.Errorf("replace schedule: %w", err)
	}

	res.Media = len(media)
	res.Episodes = len(episodes)
	res.Duration = time.Since(start)
	metrics.SyncRuns.WithLabelValues("ok").Inc()
	metrics.SyncDuration.Observe(res.Duration.Seconds())

	s.log.Info("schedule synced",
		"source", res.Source, "pages", res.Pages,
		"media", res.Media, "episodes", res.Episodes,
		"duration", res.Duration)
	return res, nil
}
