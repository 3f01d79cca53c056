package tracks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mixloft/mixloft-server/ccc/db"
)

// TrackRepository defines the interface for CRUD operations on Track entities
type TrackRepository interface {
	// GetByID retrieves a Track by its ID
	GetByID(ctx context.Context, id string) (*Track, error)

	// GetByCreator retrieves all Tracks owned by the given creator, newest first
	GetByCreator(ctx context.Context, creatorID string) ([]*Track, error)

	// Add stores a new Track in the repository
	Add(ctx context.Context, track *Track) error

	// UpdateURL sets the audio URL of a Track
	UpdateURL(ctx context.Context, id, url string) error

	// UpdateImageURL sets the cover image URL of a Track
	UpdateImageURL(ctx context.Context, id, imageURL string) error

	// Delete removes a Track by its ID
	Delete(ctx context.Context, id string) error
}

// SQLiteTrackRepository implements TrackRepository using SQLite
type SQLiteTrackRepository struct {
	db *sql.DB
}

// NewSQLiteTrackRepository creates a new SQLite-based TrackRepository
func NewSQLiteTrackRepository(db *sql.DB) (*SQLiteTrackRepository, error) {
	repo := &SQLiteTrackRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteTrackRepository) createTables() error {
	createTracksTable := `
	CREATE TABLE IF NOT EXISTS tracks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		artist TEXT NOT NULL,
		description TEXT NOT NULL,
		is_private INTEGER NOT NULL,
		category TEXT NOT NULL,
		genre TEXT NOT NULL,
		mood TEXT NOT NULL,
		duration REAL NOT NULL,
		bpm REAL NOT NULL,
		key TEXT NOT NULL,
		sound_type TEXT NOT NULL,
		url TEXT NOT NULL,
		image_url TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tracks_creator ON tracks(creator_id);`

	_, err := r.db.Exec(createTracksTable)
	return err
}

// GetByID retrieves a Track by its ID
func (r *SQLiteTrackRepository) GetByID(ctx context.Context, id string) (*Track, error) {
	query := `
	SELECT id, name, artist, description, is_private, category, genre, mood, duration, bpm, key,
		   sound_type, url, image_url, creator_id, created_at
	FROM tracks WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)

	track, err := scanTrack(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get track by ID: %w", err)
	}

	return track, nil
}

// GetByCreator retrieves all Tracks owned by the given creator, newest first
func (r *SQLiteTrackRepository) GetByCreator(ctx context.Context, creatorID string) ([]*Track, error) {
	query := `
	SELECT id, name, artist, description, is_private, category, genre, mood, duration, bpm, key,
		   sound_type, url, image_url, creator_id, created_at
	FROM tracks WHERE creator_id = ? ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var result []*Track
	for rows.Next() {
		track, err := scanTrack(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		result = append(result, track)
	}

	return result, rows.Err()
}

// Add stores a new Track in the repository
func (r *SQLiteTrackRepository) Add(ctx context.Context, track *Track) error {
	query := `
	INSERT INTO tracks (id, name, artist, description, is_private, category, genre, mood, duration, bpm, key,
						sound_type, url, image_url, creator_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		track.ID, track.Name, track.Artist, track.Description, db.BoolToInt(track.IsPrivate),
		track.Category, joinList(track.Genre), joinList(track.Mood), track.Duration, track.BPM, track.Key,
		track.SoundType, track.URL, track.ImageURL, track.CreatorID, db.TimeToString(track.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}

	return nil
}

// UpdateURL sets the audio URL of a Track
func (r *SQLiteTrackRepository) UpdateURL(ctx context.Context, id, url string) error {
	query := `UPDATE tracks SET url = ? WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, url, id)
	if err != nil {
		return fmt.Errorf("failed to update track url: %w", err)
	}

	return nil
}

// UpdateImageURL sets the cover image URL of a Track
func (r *SQLiteTrackRepository) UpdateImageURL(ctx context.Context, id, imageURL string) error {
	query := `UPDATE tracks SET image_url = ? WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, imageURL, id)
	if err != nil {
		return fmt.Errorf("failed to update track image url: %w", err)
	}

	return nil
}

// Delete removes a Track by its ID
func (r *SQLiteTrackRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM tracks WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}

	return nil
}

// scanTrack reads one track row using the provided scan function
func scanTrack(scan func(dest ...any) error) (*Track, error) {
	track := &Track{}
	var isPrivateInt int
	var genreStr, moodStr, createdAtStr string

	err := scan(
		&track.ID, &track.Name, &track.Artist, &track.Description, &isPrivateInt,
		&track.Category, &genreStr, &moodStr, &track.Duration, &track.BPM, &track.Key,
		&track.SoundType, &track.URL, &track.ImageURL, &track.CreatorID, &createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	track.IsPrivate = db.IntToBool(isPrivateInt)
	track.Genre = splitList(genreStr)
	track.Mood = splitList(moodStr)

	track.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return track, nil
}

// joinList serializes a list of tags as a comma-separated string
func joinList(values []string) string {
	return strings.Join(values, ",")
}

// splitList parses a comma-separated string back into a list of tags
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}
