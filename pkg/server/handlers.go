package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/iskorsukov/aniwatcher/internal/store"
	"github.com/iskorsukov/aniwatcher/internal/syncer"
	"github.com/iskorsukov/aniwatcher/pkg/source"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ScheduleOpts{Limit: 200}

	// Default to upcoming episodes only.
	opts.Since = s.now().Unix()
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		opts.Since = t.Unix()
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be RFC3339")
			return
		}
		opts.Until = t.Unix()
	}
	if f := q.Get("followed"); f != "" {
		on, err := strconv.ParseBool(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, "followed must be a boolean")
			return
		}
		opts.FollowedOnly = on
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}

	entries, err := s.store.ListSchedule(r.Context(), opts)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"count": len(entries),
	})
}

func (s *Server) handleListFollows(w http.ResponseWriter, r *http.Request) {
	follows, err := s.store.ListFollows(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  follows,
		"count": len(follows),
	})
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MediaID int64 `json:"media_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MediaID <= 0 {
		writeError(w, http.StatusBadRequest, "body must be {\"media_id\": <positive integer>}")
		return
	}
	if err := s.store.Follow(r.Context(), req.MediaID); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"media_id": req.MediaID, "followed": true})
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "mediaID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid media id")
		return
	}
	if err := s.store.Unfollow(r.Context(), id); err != nil {
		s.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	notifications, err := s.store.ListNotifications(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	unread, err := s.store.UnreadCount(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   notifications,
		"count":  len(notifications),
		"unread": unread,
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.PendingFollowed(r.Context(), s.now().Unix())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if pending == nil {
		pending = []source.Airing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  pending,
		"count": len(pending),
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.MarkAllRead(r.Context(), s.now())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if s.presenter != nil {
		if err := s.presenter.ClearAll(r.Context()); err != nil {
			s.log.Warn("clear notifications failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": n})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	days := s.windowDays
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	start, end := syncer.Window(s.now(), days)
	res, err := s.syncer.Sync(r.Context(), start, end)
	if err != nil {
		var fetchErr *source.FetchError
		if errors.As(err, &fetchErr) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
