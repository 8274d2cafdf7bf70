package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/iskorsukov/aniwatcher/pkg/source"
)

// ErrNoNotifiers is returned when nothing is configured to deliver to.
var ErrNoNotifiers = errors.New("no notifiers configured")

// Kind distinguishes single-episode notifications from summaries.
type Kind string

const (
	KindEpisode Kind = "episode"
	KindSummary Kind = "summary"
	KindClear   Kind = "clear"
)

// Notification is the data sent to notification destinations.
type Notification struct {
	Kind    Kind            `json:"kind"`
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	URL     string          `json:"url,omitempty"`
	Image   string          `json:"image,omitempty"`
	AirAt   time.Time       `json:"air_at,omitzero"`
	Airings []source.Airing `json:"airings,omitempty"`
}

// Presenter shows notifications to the user.
type Presenter interface {
	Present(ctx context.Context, a source.Airing) error
	PresentSummary(ctx context.Context, airings []source.Airing) error
	ClearAll(ctx context.Context) error
}

// Notifier delivers notifications to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Clearer is implemented by notifiers that can retract what they delivered.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Manager presents notifications through all registered notifiers.
type Manager struct {
	notifiers []Notifier
	log       hclog.Logger
}

// NewManager creates a new notification manager.
func NewManager(notifiers []Notifier, log hclog.Logger) *Manager {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Manager{
		notifiers: notifiers,
		log:       log.Named("notify"),
	}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Present delivers one aired episode. It succeeds when at least one notifier
// accepted it; failures of the others are logged, not retried, so a broken
// destination cannot make the healthy ones repeat themselves.
func (m *Manager) Present(ctx context.Context, a source.Airing) error {
	if err := m.broadcast(ctx, EpisodeNotification(a)); err != nil {
		return fmt.Errorf("present episode %d: %w", a.Episode.ID, err)
	}
	return nil
}

// PresentSummary delivers a digest of several episodes that aired together.
func (m *Manager) PresentSummary(ctx context.Context, airings []source.Airing) error {
	if len(airings) == 0 {
		return nil
	}
	if err := m.broadcast(ctx, SummaryNotification(airings)); err != nil {
		return fmt.Errorf("present summary: %w", err)
	}
	return nil
}

// ClearAll asks notifiers that support it to retract what they delivered.
func (m *Manager) ClearAll(ctx context.Context) error {
	var errs []error
	for _, n := range m.notifiers {
		c, ok := n.(Clearer)
		if !ok {
			continue
		}
		if err := c.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) broadcast(ctx context.Context, n *Notification) error {
	if len(m.notifiers) == 0 {
		return ErrNoNotifiers
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	if len(errs) == len(m.notifiers) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		m.log.Warn("notifier failed", "kind", n.Kind, "title", n.Title, "error", err)
	}
	return nil
}

// EpisodeNotification builds the notification for one aired episode.
func EpisodeNotification(a source.Airing) *Notification {
	title := a.Media.DisplayTitle()
	body := fmt.Sprintf("Episode %d of %s has aired", a.Episode.Number, title)
	if a.Media.Episodes > 0 {
		body = fmt.Sprintf("Episode %d/%d of %s has aired", a.Episode.Number, a.Media.Episodes, title)
	}
	return &Notification{
		Kind:    KindEpisode,
		Title:   title,
		Body:    body,
		URL:     a.Media.SiteURL,
		Image:   a.Media.CoverImage,
		AirAt:   a.Episode.AirTime(),
		Airings: []source.Airing{a},
	}
}

// SummaryNotification builds the digest for several aired episodes.
func SummaryNotification(airings []source.Airing) *Notification {
	lines := make([]string, len(airings))
	for i, a := range airings {
		lines[i] = fmt.Sprintf("%s: episode %d", a.Media.DisplayTitle(), a.Episode.Number)
	}
	return &Notification{
		Kind:    KindSummary,
		Title:   fmt.Sprintf("%d new episodes aired", len(airings)),
		Body:    strings.Join(lines, "\n"),
		Airings: airings,
	}
}
