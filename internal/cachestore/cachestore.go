// Package cachestore holds a single embedded SQLite database (WAL mode)
// plus a file directory for stitched panorama images. It is the durable
// tier of record; internal/hotcache layers an optional Redis tier in
// front of it.
package cachestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/models"
)

// Store is the Cache component: metadata, locations, panoramas and sessions
// tables, plus the image file directory.
type Store struct {
	db        *sql.DB
	imagesDir string
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
		pano_id TEXT PRIMARY KEY,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		capture_date TEXT,
		center_heading REAL NOT NULL,
		links_json TEXT NOT NULL,
		source TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS locations (
		pano_id TEXT PRIMARY KEY,
		lat REAL NOT NULL,
		lng REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS panoramas (
		pano_id TEXT NOT NULL,
		zoom INTEGER NOT NULL,
		image_path TEXT NOT NULL,
		PRIMARY KEY (pano_id, zoom)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		data_json TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Open opens (creating if needed) the SQLite database at dbPath, applies
// WAL-mode pragmas, runs the schema, and ensures imagesDir exists.
func Open(dbPath, imagesDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-16000", // ~16MB page cache
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	// A single writer per table is all SQLite's WAL mode needs encoded by
	// the driver; callers still rely on per-key locks above this layer for
	// at-most-once builds (see internal/panorama).
	db.SetMaxOpenConns(8)

	slog.Info("cache store opened", "db_path", dbPath, "images_dir", imagesDir)
	return &Store{db: db, imagesDir: imagesDir}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasMetadata reports whether metadata for panoID is already cached.
func (s *Store) HasMetadata(panoID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT 1 FROM metadata WHERE pano_id = ?`, panoID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has metadata: %w", err)
	}
	return true, nil
}

// GetMetadata returns the cached metadata for panoID, or (nil, nil) on a
// cache miss.
func (s *Store) GetMetadata(panoID string) (*models.PanoramaMetadata, error) {
	var m models.PanoramaMetadata
	var captureDate, source sql.NullString
	var linksJSON string
	m.PanoID = panoID

	err := s.db.QueryRow(
		`SELECT lat, lng, capture_date, center_heading, links_json, source FROM metadata WHERE pano_id = ?`,
		panoID,
	).Scan(&m.Lat, &m.Lng, &captureDate, &m.CenterHeading, &linksJSON, &source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	m.CaptureDate = captureDate.String
	m.Source = source.String
	if err := json.Unmarshal([]byte(linksJSON), &m.Links); err != nil {
		return nil, fmt.Errorf("decode links for %s: %w", panoID, err)
	}
	return &m, nil
}

// PutMetadata persists metadata and its denormalized location row in one
// transaction.
func (s *Store) PutMetadata(m *models.PanoramaMetadata) error {
	linksJSON, err := json.Marshal(m.Links)
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO metadata (pano_id, lat, lng, capture_date, center_heading, links_json, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pano_id) DO UPDATE SET
		   lat=excluded.lat, lng=excluded.lng, capture_date=excluded.capture_date,
		   center_heading=excluded.center_heading, links_json=excluded.links_json, source=excluded.source`,
		m.PanoID, m.Lat, m.Lng, nullableString(m.CaptureDate), m.CenterHeading, string(linksJSON), nullableString(m.Source),
	)
	if err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO locations (pano_id, lat, lng) VALUES (?, ?, ?)
		 ON CONFLICT(pano_id) DO UPDATE SET lat=excluded.lat, lng=excluded.lng`,
		m.PanoID, m.Lat, m.Lng,
	)
	if err != nil {
		return fmt.Errorf("put location: %w", err)
	}

	return tx.Commit()
}

// GetLocation returns the denormalized location for a single pano.
func (s *Store) GetLocation(panoID string) (*models.Location, error) {
	var loc models.Location
	loc.PanoID = panoID
	err := s.db.QueryRow(`SELECT lat, lng FROM locations WHERE pano_id = ?`, panoID).Scan(&loc.Lat, &loc.Lng)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	return &loc, nil
}

// GetLocationsBatch resolves many locations in one query, returning a map
// of size O(requested) rather than enumerating the whole table.
func (s *Store) GetLocationsBatch(panoIDs []string) (map[string]models.Location, error) {
	result := make(map[string]models.Location, len(panoIDs))
	if len(panoIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(panoIDs))
	args := make([]interface{}, len(panoIDs))
	for i, id := range panoIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT pano_id, lat, lng FROM locations WHERE pano_id IN (%s)`, join(placeholders, ","))
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get locations batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var loc models.Location
		if err := rows.Scan(&loc.PanoID, &loc.Lat, &loc.Lng); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		result[loc.PanoID] = loc
	}
	return result, rows.Err()
}

// HasImage reports whether an image file for (panoID, zoom) is cached and
// the file actually exists on disk; a recorded-but-missing file is treated
// as a cache miss.
func (s *Store) HasImage(panoID string, zoom int) (bool, error) {
	path, err := s.GetImagePath(panoID, zoom)
	if err != nil {
		return false, err
	}
	return path != "", nil
}

// GetImagePath returns the on-disk path for a cached image, or "" on a miss
// (including the corrupted-index case where the file is missing on disk).
func (s *Store) GetImagePath(panoID string, zoom int) (string, error) {
	var path string
	err := s.db.QueryRow(`SELECT image_path FROM panoramas WHERE pano_id = ? AND zoom = ?`, panoID, zoom).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get image path: %w", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		slog.Warn("cached image missing on disk, treating as miss", "pano_id", panoID, "zoom", zoom, "path", path)
		return "", nil
	}
	return path, nil
}

// PutImage indexes an already-written image file for (panoID, zoom).
func (s *Store) PutImage(panoID string, zoom int, path string) error {
	_, err := s.db.Exec(
		`INSERT INTO panoramas (pano_id, zoom, image_path) VALUES (?, ?, ?)
		 ON CONFLICT(pano_id, zoom) DO UPDATE SET image_path=excluded.image_path`,
		panoID, zoom, path,
	)
	if err != nil {
		return fmt.Errorf("put image: %w", err)
	}
	return nil
}

// ImagesDir returns the configured image file directory.
func (s *Store) ImagesDir() string { return s.imagesDir }

// SaveSession upserts a session's full state as a JSON blob.
func (s *Store) SaveSession(sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (session_id, agent_id, task_id, data_json, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET data_json=excluded.data_json, updated_at=excluded.updated_at`,
		sess.SessionID, sess.AgentID, sess.TaskID, string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession hydrates a session from SQLite, or returns a not_found error.
func (s *Store) LoadSession(sessionID string) (*models.Session, error) {
	var data string
	err := s.db.QueryRow(`SELECT data_json FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFoundf("session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns every persisted session's summary, newest first.
func (s *Store) ListSessions() ([]*models.Session, error) {
	rows, err := s.db.Query(`SELECT data_json FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var sess models.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
