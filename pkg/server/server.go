package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/iskorsukov/aniwatcher/internal/store"
	"github.com/iskorsukov/aniwatcher/internal/syncer"
	"github.com/iskorsukov/aniwatcher/pkg/notify"
	"github.com/iskorsukov/aniwatcher/pkg/source"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the part of the store the API reads and writes.
type Store interface {
	ListSchedule(ctx context.Context, opts store.ScheduleOpts) ([]store.ScheduleEntry, error)
	Follow(ctx context.Context, mediaID int64) error
	Unfollow(ctx context.Context, mediaID int64) error
	ListFollows(ctx context.Context) ([]store.Follow, error)
	PendingFollowed(ctx context.Context, now int64) ([]source.Airing, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkAllRead(ctx context.Context, at time.Time) (int64, error)
	ListNotifications(ctx context.Context, limit int) ([]store.Notification, error)
}

// Syncer refreshes the cached schedule.
type Syncer interface {
	Sync(ctx context.Context, windowStart, windowEnd time.Time) (syncer.Result, error)
}

// Options configure a Server.
type Options struct {
	Port       int
	WindowDays int
	Logger     hclog.Logger
	Now        func() time.Time
}

// Server provides the HTTP API.
type Server struct {
	store      Store
	syncer     Syncer
	presenter  notify.Presenter
	port       int
	windowDays int
	log        hclog.Logger
	now        func() time.Time
}

// New creates a new HTTP server. presenter may be nil, in which case
// marking notifications read does not clear them from any destination.
func New(st Store, sy Syncer, presenter notify.Presenter, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 7
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		store:      st,
		syncer:     sy,
		presenter:  presenter,
		port:       opts.Port,
		windowDays: opts.WindowDays,
		log:        opts.Logger.Named("server"),
		now:        opts.Now,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/schedule", s.handleSchedule)

		r.Route("/follows", func(r chi.Router) {
			r.Get("/", s.handleListFollows)
			r.Post("/", s.handleFollow)
			r.Delete("/{mediaID}", s.handleUnfollow)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleNotifications)
			r.Get("/pending", s.handlePending)
			r.Post("/read", s.handleMarkRead)
		})

		r.Post("/sync", s.handleSync)
	})
	return r
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
