package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mixloft/mixloft-server/ccc/db"
)

// User represents an account that owns tracks and uploads
type User struct {
	ID                string
	Username          string
	ProfilePictureURL string
	CreatedAt         time.Time
}

// UserRepository defines the interface for CRUD operations on User entities
type UserRepository interface {
	// GetByID retrieves a User by its ID
	GetByID(ctx context.Context, id string) (*User, error)

	// Add stores a new User in the repository
	Add(ctx context.Context, user *User) error

	// UpdateProfilePicture sets the profile picture URL of a User
	UpdateProfilePicture(ctx context.Context, id, pictureURL string) error
}

// SQLiteUserRepository implements UserRepository using SQLite
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository creates a new SQLite-based UserRepository
func NewSQLiteUserRepository(db *sql.DB) (*SQLiteUserRepository, error) {
	repo := &SQLiteUserRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteUserRepository) createTables() error {
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		profile_picture_url TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`

	_, err := r.db.Exec(createUsersTable)
	return err
}

// GetByID retrieves a User by its ID
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, username, profile_picture_url, created_at FROM users WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)

	user := &User{}
	var createdAtStr string
	err := row.Scan(&user.ID, &user.Username, &user.ProfilePictureURL, &createdAtStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	user.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return user, nil
}

// Add stores a new User in the repository
func (r *SQLiteUserRepository) Add(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, username, profile_picture_url, created_at) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.ProfilePictureURL, db.TimeToString(user.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}

	return nil
}

// UpdateProfilePicture sets the profile picture URL of a User
func (r *SQLiteUserRepository) UpdateProfilePicture(ctx context.Context, id, pictureURL string) error {
	query := `UPDATE users SET profile_picture_url = ? WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, pictureURL, id)
	if err != nil {
		return fmt.Errorf("failed to update profile picture: %w", err)
	}

	return nil
}
