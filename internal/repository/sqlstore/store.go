// Package sqlstore implements the image dedup store over database/sql.
// Postgres is the production backend; SQLite serves deployments without a
// database server and the test suite.
package sqlstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"peoplecounter/internal/model"
	"peoplecounter/internal/repository"
)

// Store is an ImageRepository backed by a single images table.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
}

// Open connects to the database and ensures the schema exists.
// driver is "postgres" or "sqlite3".
func Open(driver, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, &repository.StorageError{Op: "open", Err: fmt.Errorf("empty data source for driver %s", driver)}
	}
	if driver == "sqlite3" && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &repository.StorageError{Op: "open", Err: err}
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &repository.StorageError{Op: "connect", Err: err}
	}

	s := &Store{db: db, driver: driver}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the images table if it doesn't exist. The uniqueness
// constraint on hash is what makes concurrent duplicate inserts safe.
func (s *Store) ensureSchema() error {
	var schema string
	if s.driver == "postgres" {
		schema = `
	CREATE TABLE IF NOT EXISTS images (
		id BIGSERIAL PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		input_filename TEXT,
		output_filename TEXT,
		metadata JSONB,
		input_image BYTEA,
		output_image BYTEA,
		hash TEXT UNIQUE
	);`
	} else {
		schema = `
	CREATE TABLE IF NOT EXISTS images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		input_filename TEXT,
		output_filename TEXT,
		metadata TEXT,
		input_image BLOB,
		output_image BLOB,
		hash TEXT UNIQUE
	);`
	}

	if _, err := s.db.Exec(schema); err != nil {
		return &repository.StorageError{Op: "migrate", Err: err}
	}
	return nil
}

// rebind converts ? placeholders to the $N form Postgres expects.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Lookup returns the record id stored for hash, or repository.ErrNotFound.
func (s *Store) Lookup(hash string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id int64
	err := s.db.QueryRow(s.rebind(`SELECT id FROM images WHERE hash = ?`), hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, &repository.StorageError{Op: "lookup", Err: err}
	}
	return id, nil
}

// Insert stores a new record. A unique-constraint violation on hash is
// reported as repository.ErrDuplicate so the caller can fall back to Lookup.
func (s *Store) Insert(rec *model.ImageRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const cols = `input_filename, output_filename, metadata, input_image, output_image, hash`

	if s.driver == "postgres" {
		var id int64
		err := s.db.QueryRow(
			s.rebind(`INSERT INTO images (`+cols+`) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
			rec.InputFilename, rec.OutputFilename, rec.Metadata, rec.InputImage, rec.OutputImage, rec.Hash,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, repository.ErrDuplicate
			}
			return 0, &repository.StorageError{Op: "insert", Err: err}
		}
		return id, nil
	}

	result, err := s.db.Exec(
		`INSERT INTO images (`+cols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.InputFilename, rec.OutputFilename, rec.Metadata, rec.InputImage, rec.OutputImage, rec.Hash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, repository.ErrDuplicate
		}
		return 0, &repository.StorageError{Op: "insert", Err: err}
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, &repository.StorageError{Op: "insert", Err: err}
	}
	return id, nil
}

// FetchOutput returns the stored annotated image bytes for id.
func (s *Store) FetchOutput(id int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []byte
	err := s.db.QueryRow(s.rebind(`SELECT output_image FROM images WHERE id = ?`), id).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, &repository.StorageError{Op: "fetch", Err: err}
	}
	return out, nil
}

// GetByID returns the full record for id.
func (s *Store) GetByID(id int64) (*model.ImageRecord, error) {
	return s.getOne(`id = ?`, id)
}

// GetByHash returns the full record for a content hash.
func (s *Store) GetByHash(hash string) (*model.ImageRecord, error) {
	return s.getOne(`hash = ?`, hash)
}

func (s *Store) getOne(where string, arg interface{}) (*model.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec model.ImageRecord
	err := s.db.QueryRow(s.rebind(
		`SELECT id, created_at, input_filename, output_filename, metadata, input_image, output_image, hash
		 FROM images WHERE `+where), arg).
		Scan(&rec.ID, &rec.CreatedAt, &rec.InputFilename, &rec.OutputFilename,
			&rec.Metadata, &rec.InputImage, &rec.OutputImage, &rec.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, &repository.StorageError{Op: "get", Err: err}
	}
	return &rec, nil
}

// List returns records without image bytes, newest first.
func (s *Store) List(page, perPage int) ([]model.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	rows, err := s.db.Query(s.rebind(
		`SELECT id, created_at, input_filename, output_filename, metadata, hash
		 FROM images ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		perPage, (page-1)*perPage)
	if err != nil {
		return nil, &repository.StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var records []model.ImageRecord
	for rows.Next() {
		var rec model.ImageRecord
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.InputFilename,
			&rec.OutputFilename, &rec.Metadata, &rec.Hash); err != nil {
			return nil, &repository.StorageError{Op: "list", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &repository.StorageError{Op: "list", Err: err}
	}
	return records, nil
}

// MergeMetadata shallow-merges patch into the stored metadata document.
// Patch keys win over stored keys.
func (s *Store) MergeMetadata(id int64, patch map[string]interface{}) ([]byte, error) {
	rec, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]interface{})
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &merged); err != nil {
			merged = make(map[string]interface{})
		}
	}
	for k, v := range patch {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, &repository.StorageError{Op: "merge", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(s.rebind(`UPDATE images SET metadata = ? WHERE id = ?`), data, id); err != nil {
		return nil, &repository.StorageError{Op: "merge", Err: err}
	}
	return data, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqErr.Code == sqlite3.ErrConstraint
	}
	return false
}
