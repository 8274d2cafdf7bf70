package source

import (
	"context"
	"strings"
	"time"
)

// Filter drops airings the user never wants cached, matched by media format,
// genre or a keyword in any title. Matching is case-insensitive.
type Filter struct {
	formats  map[string]bool
	genres   map[string]bool
	keywords []string
}

// NewFilter creates a filter. A filter with no rules keeps everything.
func NewFilter(formats, genres, keywords []string) *Filter {
	f := &Filter{
		formats: make(map[string]bool, len(formats)),
		genres:  make(map[string]bool, len(genres)),
	}
	for _, v := range formats {
		f.formats[strings.ToLower(v)] = true
	}
	for _, v := range genres {
		f.genres[strings.ToLower(v)] = true
	}
	for _, kw := range keywords {
		f.keywords = append(f.keywords, strings.ToLower(kw))
	}
	return f
}

// Empty reports whether the filter has no rules.
func (f *Filter) Empty() bool {
	return len(f.formats) == 0 && len(f.genres) == 0 && len(f.keywords) == 0
}

// Excludes returns true if m matches any rule.
func (f *Filter) Excludes(m Media) bool {
	if f.formats[strings.ToLower(m.Format)] {
		return true
	}
	for _, g := range m.Genres {
		if f.genres[strings.ToLower(g)] {
			return true
		}
	}
	if len(f.keywords) == 0 {
		return false
	}
	titles := strings.ToLower(m.TitleRomaji + "\n" + m.TitleEnglish + "\n" + m.TitleNative)
	for _, kw := range f.keywords {
		if strings.Contains(titles, kw) {
			return true
		}
	}
	return false
}

// Filtered wraps src so excluded airings never reach the cache. Pagination
// is left untouched.
func Filtered(src ScheduleSource, f *Filter) ScheduleSource {
	if f == nil || f.Empty() {
		return src
	}
	return &filteredSource{src: src, filter: f}
}

type filteredSource struct {
	src    ScheduleSource
	filter *Filter
}

func (s *filteredSource) Name() string { return s.src.Name() }

func (s *filteredSource) FetchPage(ctx context.Context, windowStart, windowEnd time.Time, page int) (*Page, error) {
	p, err := s.src.FetchPage(ctx, windowStart, windowEnd, page)
	if err != nil {
		return nil, err
	}
	kept := p.Airings[:0]
	for _, a := range p.Airings {
		if !s.filter.Excludes(a.Media) {
			kept = append(kept, a)
		}
	}
	p.Airings = kept
	return p, nil
}
