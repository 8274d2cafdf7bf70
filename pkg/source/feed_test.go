package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedXML(hasNext string, items ...string) string {
	next := ""
	if hasNext != "" {
		next = "<schedule:hasNextPage>" + hasNext + "</schedule:hasNextPage>"
	}
	body := ""
	for _, it := range items {
		body += it
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:schedule="https://aniwatcher.dev/ns/schedule">
<channel>
<title>Airing schedule</title>
<link>https://example.com</link>
<description>schedule</description>
` + next + body + `
</channel>
</rss>`
}

func feedItem(episodeID, mediaID int64, number int, airingAt string) string {
	return fmt.Sprintf(`<item>
<title>Show %d</title>
<link>https://example.com/media/%d</link>
<guid>ep-%d</guid>
<category>Drama</category>
<schedule:episodeId>%d</schedule:episodeId>
<schedule:mediaId>%d</schedule:mediaId>
<schedule:episode>%d</schedule:episode>
<schedule:airingAt>%s</schedule:airingAt>
<schedule:titleEnglish>Show %d EN</schedule:titleEnglish>
</item>`, mediaID, mediaID, episodeID, episodeID, mediaID, number, airingAt, mediaID)
}

func TestFeedSourceFetchPage(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.Write([]byte(feedXML("true",
			feedItem(1, 10, 3, "1700000000"),
			feedItem(2, 11, 4, "2023-11-14T23:13:20Z"),
			feedItem(3, 12, 5, "1900000000"), // outside window
		)))
	}))
	defer srv.Close()

	src := NewFeedSource(srv.URL+"/schedule?page={page}&from={start}&to={end}", 0)
	page, err := src.FetchPage(context.Background(), time.Unix(1699990000, 0), time.Unix(1700100000, 0), 2)
	require.NoError(t, err)

	assert.Equal(t, "/schedule?page=2&from=1699990000&to=1700100000", gotPath)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Airings, 2)

	first := page.Airings[0]
	assert.Equal(t, Episode{ID: 1, MediaID: 10, Number: 3, AirAt: 1700000000}, first.Episode)
	assert.Equal(t, "Show 10", first.Media.TitleRomaji)
	assert.Equal(t, "Show 10 EN", first.Media.TitleEnglish)
	assert.Equal(t, "https://example.com/media/10", first.Media.SiteURL)
	assert.Equal(t, []string{"Drama"}, first.Media.Genres)

	assert.Equal(t, int64(1700003600), page.Airings[1].Episode.AirAt)
}

func TestFeedSourcePageSizeHeuristic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedXML("",
			feedItem(1, 10, 1, "1700000000"),
			feedItem(2, 10, 2, "1700000001"),
		)))
	}))
	defer srv.Close()

	start, end := time.Unix(0, 0), time.Unix(1800000000, 0)
	page, err := NewFeedSource(srv.URL, 2).FetchPage(context.Background(), start, end, 1)
	require.NoError(t, err)
	assert.True(t, page.HasNextPage)

	page, err = NewFeedSource(srv.URL, 3).FetchPage(context.Background(), start, end, 1)
	require.NoError(t, err)
	assert.False(t, page.HasNextPage)

	page, err = NewFeedSource(srv.URL, 0).FetchPage(context.Background(), start, end, 1)
	require.NoError(t, err)
	assert.False(t, page.HasNextPage)
}

func TestFeedSourceMissingExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedXML("false", `<item><title>x</title><guid>bad</guid></item>`)))
	}))
	defer srv.Close()

	_, err := NewFeedSource(srv.URL, 0).FetchPage(context.Background(), time.Unix(0, 0), time.Unix(1800000000, 0), 1)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "feed", fe.Source)
	assert.Contains(t, err.Error(), "missing schedule:episodeId")
}

func TestFeedSourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewFeedSource(srv.URL, 0).FetchPage(context.Background(), time.Now(), time.Now().Add(time.Hour), 4)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 4, fe.Page)
}
