package store

// Episodes and notification records cascade on delete. Writers must upsert
// with ON CONFLICT DO UPDATE rather than INSERT OR REPLACE, which deletes the
// conflicting row and would drop its notification record with it.
const schema = `
CREATE TABLE IF NOT EXISTS media (
    id            INTEGER PRIMARY KEY,
    title_romaji  TEXT NOT NULL DEFAULT '',
    title_english TEXT NOT NULL DEFAULT '',
    title_native  TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    cover_image   TEXT NOT NULL DEFAULT '',
    genres        TEXT NOT NULL DEFAULT '[]',
    average_score INTEGER NOT NULL DEFAULT 0,
    popularity    INTEGER NOT NULL DEFAULT 0,
    format        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT '',
    season        TEXT NOT NULL DEFAULT '',
    season_year   INTEGER NOT NULL DEFAULT 0,
    episodes      INTEGER NOT NULL DEFAULT 0,
    site_url      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS episodes (
    id       INTEGER PRIMARY KEY,
    media_id INTEGER NOT NULL REFERENCES media(id) ON DELETE CASCADE,
    episode  INTEGER NOT NULL,
    air_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_media ON episodes(media_id);
CREATE INDEX IF NOT EXISTS idx_episodes_air_at ON episodes(air_at);

CREATE TABLE IF NOT EXISTS follows (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    media_id   INTEGER NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
    id         TEXT PRIMARY KEY,
    episode_id INTEGER NOT NULL UNIQUE REFERENCES episodes(id) ON DELETE CASCADE,
    fired_at   INTEGER NOT NULL,
    read_at    INTEGER
);

CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(read_at);
`
