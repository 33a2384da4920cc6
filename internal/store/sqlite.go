// Package store implements the record store: a SQLite database holding user
// accounts, file records, and corruption evidence. The snapshot subsystem
// treats the on-disk database file as an opaque blob to copy and replace;
// only this package opens it as a structured store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pocketcloud/internal/model"
	"pocketcloud/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store is the SQLite-backed record store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the record store at path and configures the
// connection. path can be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate PRAGMAs.
// Exported for tools and tests that need a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	// An in-memory database exists per connection; keep the pool at one so
	// the schema is visible to every query.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// WAL gives the store incremental write-ahead persistence so a backup can
	// copy a checkpointed database file instead of racing a full rewrite.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the on-disk database file path. Callers copying the file must
// call Checkpoint first so the file is a consistent snapshot.
func (s *Store) Path() string {
	return s.path
}

// Checkpoint flushes the write-ahead log into the main database file so the
// file at Path() is a complete, consistent copy source.
func (s *Store) Checkpoint() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpointing record store: %w", err)
	}
	return nil
}

// Migrate brings the schema to the latest version.
func (s *Store) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the schema is at the latest version without migrating.
func (s *Store) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// User operations

// CreateUser creates a new user with a dedicated directory name.
func (s *Store) CreateUser(name, directory string) (*model.User, error) {
	u := &model.User{
		ID:        uuid.New().String(),
		Name:      name,
		Directory: directory,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		"INSERT INTO users (id, name, directory, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Name, u.Directory, u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers() ([]*model.User, error) {
	rows, err := s.db.Query("SELECT id, name, directory, created_at FROM users ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Directory, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FindUser returns a user by ID, or nil if not found.
func (s *Store) FindUser(id string) (*model.User, error) {
	u := &model.User{}
	err := s.db.QueryRow(
		"SELECT id, name, directory, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Name, &u.Directory, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return u, nil
}

// File operations

const fileColumns = "id, user_id, original_name, stored_name, size, encrypted, content_hash, uploaded_at, deleted, trashed_at"

// CreateFileRecord inserts a new file record. If the record has no ID, one
// is generated.
func (s *Store) CreateFileRecord(rec *model.FileRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now().UTC()
	}

	var hash sql.NullString
	if rec.ContentHash != "" {
		hash = sql.NullString{String: rec.ContentHash, Valid: true}
	}

	_, err := s.db.Exec(
		"INSERT INTO files (id, user_id, original_name, stored_name, size, encrypted, content_hash, uploaded_at, deleted) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)",
		rec.ID, rec.UserID, rec.OriginalName, rec.StoredName, rec.Size, rec.Encrypted, hash, rec.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting file record: %w", err)
	}
	return nil
}

// FindFileRecord returns a file record by ID, or nil if not found.
func (s *Store) FindFileRecord(id string) (*model.FileRecord, error) {
	row := s.db.QueryRow("SELECT "+fileColumns+" FROM files WHERE id = ?", id)
	rec, err := scanFileRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file record: %w", err)
	}
	return rec, nil
}

// ListActiveFiles returns all non-trashed files for a user, oldest upload first.
func (s *Store) ListActiveFiles(userID string) ([]*model.FileRecord, error) {
	rows, err := s.db.Query(
		"SELECT "+fileColumns+" FROM files WHERE user_id = ? AND deleted = 0 ORDER BY uploaded_at",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active files: %w", err)
	}
	return collectFileRecords(rows)
}

// ListAllActiveFiles returns all non-trashed files across all users.
func (s *Store) ListAllActiveFiles() ([]*model.FileRecord, error) {
	rows, err := s.db.Query("SELECT " + fileColumns + " FROM files WHERE deleted = 0 ORDER BY uploaded_at")
	if err != nil {
		return nil, fmt.Errorf("listing active files: %w", err)
	}
	return collectFileRecords(rows)
}

// SetContentHash records the plaintext content hash on a file record.
func (s *Store) SetContentHash(fileID, hash string) error {
	if _, err := s.db.Exec("UPDATE files SET content_hash = ? WHERE id = ?", hash, fileID); err != nil {
		return fmt.Errorf("setting content hash: %w", err)
	}
	return nil
}

// MarkTrashed soft-deletes a file record. The blob stays on disk; the
// operation is reversible via RestoreFromTrash.
func (s *Store) MarkTrashed(fileID string, at time.Time) error {
	if _, err := s.db.Exec("UPDATE files SET deleted = 1, trashed_at = ? WHERE id = ?", at, fileID); err != nil {
		return fmt.Errorf("marking file trashed: %w", err)
	}
	return nil
}

// RestoreFromTrash reverses a soft delete.
func (s *Store) RestoreFromTrash(fileID string) error {
	if _, err := s.db.Exec("UPDATE files SET deleted = 0, trashed_at = NULL WHERE id = ?", fileID); err != nil {
		return fmt.Errorf("restoring file from trash: %w", err)
	}
	return nil
}

// Corruption operations

// InsertCorruptionRecord appends a corruption event for a file.
func (s *Store) InsertCorruptionRecord(fileID, reason string, at time.Time) (*model.CorruptionRecord, error) {
	res, err := s.db.Exec(
		"INSERT INTO corruption_events (file_id, reason, detected_at) VALUES (?, ?, ?)",
		fileID, reason, at,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting corruption record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading corruption record id: %w", err)
	}

	return &model.CorruptionRecord{ID: id, FileID: fileID, Reason: reason, DetectedAt: at}, nil
}

// ListCorruptionRecords returns all corruption events, oldest first.
func (s *Store) ListCorruptionRecords() ([]*model.CorruptionRecord, error) {
	rows, err := s.db.Query("SELECT id, file_id, reason, detected_at FROM corruption_events ORDER BY detected_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing corruption records: %w", err)
	}
	defer rows.Close()

	var recs []*model.CorruptionRecord
	for rows.Next() {
		r := &model.CorruptionRecord{}
		if err := rows.Scan(&r.ID, &r.FileID, &r.Reason, &r.DetectedAt); err != nil {
			return nil, fmt.Errorf("scanning corruption record: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// PurgeFile removes a file record and all of its corruption events in one
// transaction. The caller is responsible for removing the blob from disk first.
func (s *Store) PurgeFile(fileID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM corruption_events WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("deleting corruption records: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM files WHERE id = ?", fileID); err != nil {
		return fmt.Errorf("deleting file record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing purge: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(sc scanner) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	var hash sql.NullString
	var trashedAt sql.NullTime

	err := sc.Scan(
		&rec.ID, &rec.UserID, &rec.OriginalName, &rec.StoredName,
		&rec.Size, &rec.Encrypted, &hash, &rec.UploadedAt, &rec.Deleted, &trashedAt,
	)
	if err != nil {
		return nil, err
	}

	if hash.Valid {
		rec.ContentHash = hash.String
	}
	if trashedAt.Valid {
		t := trashedAt.Time
		rec.TrashedAt = &t
	}
	return rec, nil
}

func collectFileRecords(rows *sql.Rows) ([]*model.FileRecord, error) {
	defer rows.Close()

	var recs []*model.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
