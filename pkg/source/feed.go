package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

const feedName = "feed"

// scheduleNS is the namespace prefix carrying airing metadata, e.g.
//
//	<rss xmlns:schedule="https://aniwatcher.dev/ns/schedule">
//	  <channel>
//	    <schedule:hasNextPage>true</schedule:hasNextPage>
//	    <item>
//	      <title>Sousou no Frieren</title>
//	      <schedule:episodeId>4021</schedule:episodeId>
//	      <schedule:mediaId>154587</schedule:mediaId>
//	      <schedule:episode>12</schedule:episode>
//	      <schedule:airingAt>1700000000</schedule:airingAt>
//	    </item>
const scheduleNS = "schedule"

// FeedSource reads airing schedules from a paged RSS/Atom feed. The URL
// template may contain {page}, {start} and {end} (epoch seconds).
type FeedSource struct {
	client      *http.Client
	parser      *gofeed.Parser
	urlTemplate string
	pageSize    int
}

// NewFeedSource creates a new feed schedule source. When the feed does not
// announce schedule:hasNextPage, a full page (pageSize items) implies another
// page follows; pageSize 0 means the feed is never paged.
func NewFeedSource(urlTemplate string, pageSize int) *FeedSource {
	return &FeedSource{
		client:      &http.Client{Timeout: 30 * time.Second},
		parser:      gofeed.NewParser(),
		urlTemplate: urlTemplate,
		pageSize:    pageSize,
	}
}

func (f *FeedSource) Name() string { return feedName }

func (f *FeedSource) FetchPage(ctx context.Context, windowStart, windowEnd time.Time, page int) (*Page, error) {
	url := strings.NewReplacer(
		"{page}", strconv.Itoa(page),
		"{start}", strconv.FormatInt(windowStart.Unix(), 10),
		"{end}", strconv.FormatInt(windowEnd.Unix(), 10),
	).Replace(f.urlTemplate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fetchErr(feedName, page, "create feed request: %w", err)
	}
	req.Header.Set("User-Agent", "aniwatcher/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchErr(feedName, page, "fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fetchErr(feedName, page, "feed status %d", resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fetchErr(feedName, page, "parse feed: %w", err)
	}

	out := &Page{}
	for _, entry := range parsed.Items {
		airing, err := feedAiring(entry)
		if err != nil {
			return nil, fetchErr(feedName, page, "item %q: %w", entry.GUID, err)
		}
		if airing.Episode.AirAt < windowStart.Unix() || airing.Episode.AirAt >= windowEnd.Unix() {
			continue
		}
		out.Airings = append(out.Airings, airing)
	}

	if v := extText(parsed.Extensions, "hasNextPage"); v != "" {
		out.HasNextPage, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fetchErr(feedName, page, "parse hasNextPage %q: %w", v, err)
		}
	} else {
		out.HasNextPage = f.pageSize > 0 && len(parsed.Items) >= f.pageSize
	}
	return out, nil
}

func feedAiring(entry *gofeed.Item) (Airing, error) {
	var (
		a   Airing
		err error
	)
	if a.Episode.ID, err = extInt(entry.Extensions, "episodeId"); err != nil {
		return a, err
	}
	if a.Episode.MediaID, err = extInt(entry.Extensions, "mediaId"); err != nil {
		return a, err
	}
	number, err := extInt(entry.Extensions, "episode")
	if err != nil {
		return a, err
	}
	a.Episode.Number = int(number)
	if a.Episode.AirAt, err = extTime(entry.Extensions, "airingAt"); err != nil {
		return a, err
	}

	a.Media = Media{
		ID:          a.Episode.MediaID,
		TitleRomaji: entry.Title,
		Description: truncate(entry.Description, 500),
		Genres:      entry.Categories,
		SiteURL:     entry.Link,
	}
	if entry.Image != nil {
		a.Media.CoverImage = entry.Image.URL
	}
	if v := extText(entry.Extensions, "titleEnglish"); v != "" {
		a.Media.TitleEnglish = v
	}
	if v := extText(entry.Extensions, "format"); v != "" {
		a.Media.Format = v
	}
	if v := extText(entry.Extensions, "status"); v != "" {
		a.Media.Status = v
	}
	return a, nil
}

func extText(exts ext.Extensions, name string) string {
	ns, ok := exts[scheduleNS]
	if !ok {
		return ""
	}
	values := ns[name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}

func extInt(exts ext.Extensions, name string) (int64, error) {
	v := extText(exts, name)
	if v == "" {
		return 0, fmt.Errorf("missing %s:%s", scheduleNS, name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s:%s: %w", scheduleNS, name, err)
	}
	return n, nil
}

// extTime accepts epoch seconds or RFC 3339.
func extTime(exts ext.Extensions, name string) (int64, error) {
	v := extText(exts, name)
	if v == "" {
		return 0, fmt.Errorf("missing %s:%s", scheduleNS, name)
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, fmt.Errorf("parse %s:%s %q: %w", scheduleNS, name, v, err)
	}
	return t.Unix(), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
