package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iskorsukov/aniwatcher/pkg/source"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// TxError reports a failed storage write. The surrounding transaction has
// been rolled back, so no partial mutation is visible.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// Follow is a followed media.
type Follow struct {
	ID        int64  `db:"id" json:"id"`
	MediaID   int64  `db:"media_id" json:"media_id"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	Title     string `db:"title" json:"title,omitempty"`
}

// NotificationRecord is the dedup record written once an episode has been
// presented. FiredAt and ReadAt are epoch milliseconds.
type NotificationRecord struct {
	ID        string        `db:"id" json:"id"`
	EpisodeID int64         `db:"episode_id" json:"episode_id"`
	FiredAt   int64         `db:"fired_at" json:"fired_at"`
	ReadAt    sql.NullInt64 `db:"read_at" json:"-"`
}

// Notification is a dedup record joined with its airing.
type Notification struct {
	Record NotificationRecord `json:"record"`
	Airing source.Airing      `json:"airing"`
	Read   bool               `json:"read"`
}

// ScheduleEntry is a cached airing annotated with follow and notify state.
type ScheduleEntry struct {
	source.Airing
	Followed bool `json:"followed"`
	Notified bool `json:"notified"`
}

// ScheduleOpts controls schedule listing. Since and Until are epoch seconds;
// zero means unbounded.
type ScheduleOpts struct {
	Since        int64
	Until        int64
	FollowedOnly bool
	Limit        int
}

// Store is the persistence interface.
type Store interface {
	ReplaceSchedule(ctx context.Context, media []source.Media, episodes []source.Episode) error
	ListSchedule(ctx context.Context, opts ScheduleOpts) ([]ScheduleEntry, error)
	GetMedia(ctx context.Context, id int64) (*source.Media, error)

	Follow(ctx context.Context, mediaID int64) error
	Unfollow(ctx context.Context, mediaID int64) error
	IsFollowed(ctx context.Context, mediaID int64) (bool, error)
	ListFollows(ctx context.Context) ([]Follow, error)

	IsNotified(ctx context.Context, episodeID int64) (bool, error)
	MarkNotified(ctx context.Context, episodeID int64, firedAt time.Time) error
	Pending(ctx context.Context, mediaIDs []int64, now int64) ([]source.Airing, error)
	PendingFollowed(ctx context.Context, now int64) ([]source.Airing, error)

	UnreadCount(ctx context.Context) (int, error)
	MarkAllRead(ctx context.Context, at time.Time) (int64, error)
	ListNotifications(ctx context.Context, limit int) ([]Notification, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations. The pool holds a single
// connection, so reads never interleave with an open write transaction.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReplaceSchedule makes media and episodes the entire cached schedule in one
// transaction. Rows absent from the new set are deleted, and their
// notification records cascade with them.
func (s *SQLiteStore) ReplaceSchedule(ctx context.Context, media []source.Media, episodes []source.Episode) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &TxError{Op: "begin replace schedule", Err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	mediaIDs := make([]int64, 0, len(media))
	for i := range media {
		if err = upsertMedia(ctx, tx, &media[i]); err != nil {
			return &TxError{Op: "replace schedule", Err: err}
		}
		mediaIDs = append(mediaIDs, media[i].ID)
	}

	episodeIDs := make([]int64, 0, len(episodes))
	for _, ep := range episodes {
		if err = upsertEpisode(ctx, tx, ep); err != nil {
			return &TxError{Op: "replace schedule", Err: err}
		}
		episodeIDs = append(episodeIDs, ep.ID)
	}

	if err = deleteExcept(ctx, tx, "episodes", episodeIDs); err != nil {
		return &TxError{Op: "replace schedule", Err: err}
	}
	if err = deleteExcept(ctx, tx, "media", mediaIDs); err != nil {
		return &TxError{Op: "replace schedule", Err: err}
	}

	if err = tx.Commit(); err != nil {
		return &TxError{Op: "commit replace schedule", Err: err}
	}
	return nil
}

func upsertMedia(ctx context.Context, tx *sqlx.Tx, m *source.Media) error {
	genres := m.Genres
	if genres == nil {
		genres = []string{}
	}
	genresJSON, _ := json.Marshal(genres)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO media (id, title_romaji, title_english, title_native, description, cover_image, genres,
			average_score, popularity, format, status, season, season_year, episodes, site_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title_romaji = excluded.title_romaji,
			title_english = excluded.title_english,
			title_native = excluded.title_native,
			description = excluded.description,
			cover_image = excluded.cover_image,
			genres = excluded.genres,
			average_score = excluded.average_score,
			popularity = excluded.popularity,
			format = excluded.format,
			status = excluded.status,
			season = excluded.season,
			season_year = excluded.season_year,
			episodes = excluded.episodes,
			site_url = excluded.site_url
	`, m.ID, m.TitleRomaji, m.TitleEnglish, m.TitleNative, m.Description, m.CoverImage,
		string(genresJSON), m.AverageScore, m.Popularity, m.Format, m.Status, m.Season,
		m.SeasonYear, m.Episodes, m.SiteURL)
	if err != nil {
		return fmt.Errorf("upsert media %d: %w", m.ID, err)
	}
	return nil
}

func upsertEpisode(ctx context.Context, tx *sqlx.Tx, ep source.Episode) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO episodes (id, media_id, episode, air_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			media_id = excluded.media_id,
			episode = excluded.episode,
			air_at = excluded.air_at
	`, ep.ID, ep.MediaID, ep.Number, ep.AirAt)
	if err != nil {
		return fmt.Errorf("upsert episode %d: %w", ep.ID, err)
	}
	return nil
}

// keepBatch bounds the bound variables per insert well below SQLite's limit.
const keepBatch = 500

// deleteExcept removes every row of table whose id is not in keep. The kept
// ids are staged in a temporary table so the delete binds no variables.
func deleteExcept(ctx context.Context, tx *sqlx.Tx, table string, keep []int64) error {
	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		return nil
	}

	if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE IF NOT EXISTS keep_ids (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("create keep_ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM keep_ids"); err != nil {
		return fmt.Errorf("reset keep_ids: %w", err)
	}
	for start := 0; start < len(keep); start += keepBatch {
		batch := keep[start:min(start+keepBatch, len(keep))]
		placeholders := strings.TrimSuffix(strings.Repeat("(?),", len(batch)), ",")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO keep_ids (id) VALUES "+placeholders, args...); err != nil {
			return fmt.Errorf("stage %s ids: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id NOT IN (SELECT id FROM keep_ids)"); err != nil {
		return fmt.Errorf("delete stale %s: %w", table, err)
	}
	return nil
}

const airingColumns = `
	e.id AS episode_id, e.media_id, e.episode, e.air_at,
	m.title_romaji, m.title_english, m.title_native, m.description, m.cover_image, m.genres,
	m.average_score, m.popularity, m.format, m.status, m.season, m.season_year,
	m.episodes AS total_episodes, m.site_url`

type airingRow struct {
	EpisodeID     int64  `db:"episode_id"`
	MediaID       int64  `db:"media_id"`
	Episode       int    `db:"episode"`
	AirAt         int64  `db:"air_at"`
	TitleRomaji   string `db:"title_romaji"`
	TitleEnglish  string `db:"title_english"`
	TitleNative   string `db:"title_native"`
	Description   string `db:"description"`
	CoverImage    string `db:"cover_image"`
	Genres        string `db:"genres"`
	AverageScore  int    `db:"average_score"`
	Popularity    int    `db:"popularity"`
	Format        string `db:"format"`
	Status        string `db:"status"`
	Season        string `db:"season"`
	SeasonYear    int    `db:"season_year"`
	TotalEpisodes int    `db:"total_episodes"`
	SiteURL       string `db:"site_url"`
}

func (r airingRow) toAiring() source.Airing {
	m := source.Media{
		ID:           r.MediaID,
		TitleRomaji:  r.TitleRomaji,
		TitleEnglish: r.TitleEnglish,
		TitleNative:  r.TitleNative,
		Description:  r.Description,
		CoverImage:   r.CoverImage,
		AverageScore: r.AverageScore,
		Popularity:   r.Popularity,
		Format:       r.Format,
		Status:       r.Status,
		Season:       r.Season,
		SeasonYear:   r.SeasonYear,
		Episodes:     r.TotalEpisodes,
		SiteURL:      r.SiteURL,
		GenresJSON:   r.Genres,
	}
	json.Unmarshal([]byte(r.Genres), &m.Genres)
	return source.Airing{
		Episode: source.Episode{ID: r.EpisodeID, MediaID: r.MediaID, Number: r.Episode, AirAt: r.AirAt},
		Media:   m,
	}
}

func (s *SQLiteStore) ListSchedule(ctx context.Context, opts ScheduleOpts) ([]ScheduleEntry, error) {
	query := `SELECT ` + airingColumns + `,
			f.id IS NOT NULL AS followed,
			n.id IS NOT NULL AS notified
		FROM episodes e
		JOIN media m ON m.id = e.media_id
		LEFT JOIN follows f ON f.media_id = e.media_id
		LEFT JOIN notifications n ON n.episode_id = e.id
		WHERE 1=1`
	var args []any

	if opts.Since > 0 {
		query += " AND e.air_at >= ?"
		args = append(args, opts.Since)
	}
	if opts.Until > 0 {
		query += " AND e.air_at < ?"
		args = append(args, opts.Until)
	}
	if opts.FollowedOnly {
		query += " AND f.id IS NOT NULL"
	}

	query += " ORDER BY e.air_at, e.id"

	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var rows []struct {
		airingRow
		Followed bool `db:"followed"`
		Notified bool `db:"notified"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}

	entries := make([]ScheduleEntry, len(rows))
	for i, r := range rows {
		entries[i] = ScheduleEntry{Airing: r.toAiring(), Followed: r.Followed, Notified: r.Notified}
	}
	return entries, nil
}

func (s *SQLiteStore) GetMedia(ctx context.Context, id int64) (*source.Media, error) {
	var m source.Media
	err := s.db.GetContext(ctx, &m, "SELECT * FROM media WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get media %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get media %d: %w", id, err)
	}
	json.Unmarshal([]byte(m.GenresJSON), &m.Genres)
	return &m, nil
}

func (s *SQLiteStore) Follow(ctx context.Context, mediaID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follows (media_id, created_at) VALUES (?, ?)
		ON CONFLICT(media_id) DO NOTHING
	`, mediaID, time.Now().Unix())
	if err != nil {
		return &TxError{Op: fmt.Sprintf("follow %d", mediaID), Err: err}
	}
	return nil
}

// Unfollow removes the follow. Notification records are kept, so following
// the media again does not re-fire episodes already delivered.
func (s *SQLiteStore) Unfollow(ctx context.Context, mediaID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM follows WHERE media_id = ?", mediaID)
	if err != nil {
		return &TxError{Op: fmt.Sprintf("unfollow %d", mediaID), Err: err}
	}
	return nil
}

func (s *SQLiteStore) IsFollowed(ctx context.Context, mediaID int64) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, "SELECT EXISTS(SELECT 1 FROM follows WHERE media_id = ?)", mediaID)
	if err != nil {
		return false, fmt.Errorf("is followed %d: %w", mediaID, err)
	}
	return ok, nil
}

func (s *SQLiteStore) ListFollows(ctx context.Context) ([]Follow, error) {
	var follows []Follow
	err := s.db.SelectContext(ctx, &follows, `
		SELECT f.id, f.media_id, f.created_at,
			COALESCE(NULLIF(m.title_english, ''), NULLIF(m.title_romaji, ''), m.title_native, '') AS title
		FROM follows f
		LEFT JOIN media m ON m.id = f.media_id
		ORDER BY f.created_at, f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	return follows, nil
}

func (s *SQLiteStore) IsNotified(ctx context.Context, episodeID int64) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, "SELECT EXISTS(SELECT 1 FROM notifications WHERE episode_id = ?)", episodeID)
	if err != nil {
		return false, fmt.Errorf("is notified %d: %w", episodeID, err)
	}
	return ok, nil
}

// MarkNotified records that the episode has been presented. Marking an
// episode twice is a no-op.
func (s *SQLiteStore) MarkNotified(ctx context.Context, episodeID int64, firedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, episode_id, fired_at) VALUES (?, ?, ?)
		ON CONFLICT(episode_id) DO NOTHING
	`, uuid.NewString(), episodeID, firedAt.UnixMilli())
	if err != nil {
		return &TxError{Op: fmt.Sprintf("mark notified %d", episodeID), Err: err}
	}
	return nil
}

const pendingQuery = `SELECT ` + airingColumns + `
	FROM episodes e
	JOIN media m ON m.id = e.media_id
	%s
	LEFT JOIN notifications n ON n.episode_id = e.id
	WHERE e.air_at <= ? AND n.id IS NULL %s
	ORDER BY e.air_at, e.id`

// Pending returns aired, un-notified episodes of the given media in a single
// statement.
func (s *SQLiteStore) Pending(ctx context.Context, mediaIDs []int64, now int64) ([]source.Airing, error) {
	if len(mediaIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(pendingQuery, "", "AND e.media_id IN (?)"), now, mediaIDs)
	if err != nil {
		return nil, fmt.Errorf("build pending query: %w", err)
	}
	return s.selectAirings(ctx, s.db.Rebind(query), args...)
}

// PendingFollowed is Pending over the follows table, read in the same
// statement as the episodes and notification records.
func (s *SQLiteStore) PendingFollowed(ctx context.Context, now int64) ([]source.Airing, error) {
	query := fmt.Sprintf(pendingQuery, "JOIN follows f ON f.media_id = e.media_id", "")
	return s.selectAirings(ctx, query, now)
}

func (s *SQLiteStore) selectAirings(ctx context.Context, query string, args ...any) ([]source.Airing, error) {
	var rows []airingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	airings := make([]source.Airing, len(rows))
	for i, r := range rows {
		airings[i] = r.toAiring()
	}
	return airings, nil
}

func (s *SQLiteStore) UnreadCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM notifications WHERE read_at IS NULL"); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) MarkAllRead(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE notifications SET read_at = ? WHERE read_at IS NULL", at.UnixMilli())
	if err != nil {
		return 0, &TxError{Op: "mark all read", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []struct {
		airingRow
		RecordID string        `db:"record_id"`
		FiredAt  int64         `db:"fired_at"`
		ReadAt   sql.NullInt64 `db:"read_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT `+airingColumns+`,
			n.id AS record_id, n.fired_at, n.read_at
		FROM notifications n
		JOIN episodes e ON e.id = n.episode_id
		JOIN media m ON m.id = e.media_id
		ORDER BY n.fired_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	out := make([]Notification, len(rows))
	for i, r := range rows {
		out[i] = Notification{
			Record: NotificationRecord{
				ID:        r.RecordID,
				EpisodeID: r.EpisodeID,
				FiredAt:   r.FiredAt,
				ReadAt:    r.ReadAt,
			},
			Airing: r.toAiring(),
			Read:   r.ReadAt.Valid,
		}
	}
	return out, nil
}
