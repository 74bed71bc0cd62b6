package repository

import (
	"errors"
	"fmt"

	"peoplecounter/internal/model"
)

// ErrNotFound is returned when no record matches the lookup.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned by Insert when the content hash already exists.
// Callers must treat it as "already exists" and re-lookup.
var ErrDuplicate = errors.New("record with this hash already exists")

// StorageError signals a storage-layer failure other than the sentinel
// conditions above, such as an unreachable database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// ImageRepository defines the interface for the image dedup store.
type ImageRepository interface {
	// Lookup returns the record id for a content hash, or ErrNotFound.
	Lookup(hash string) (int64, error)

	// Insert stores a new record and returns its id. A hash collision,
	// including one lost to a concurrent insert, yields ErrDuplicate.
	Insert(rec *model.ImageRecord) (int64, error)

	// FetchOutput returns the stored annotated image bytes, or ErrNotFound.
	FetchOutput(id int64) ([]byte, error)

	GetByID(id int64) (*model.ImageRecord, error)
	GetByHash(hash string) (*model.ImageRecord, error)

	// List returns records ordered by creation time, newest first, without
	// image bytes.
	List(page, perPage int) ([]model.ImageRecord, error)

	// MergeMetadata shallow-merges patch into the stored metadata document
	// and returns the merged document. Patch keys win.
	MergeMetadata(id int64, patch map[string]interface{}) ([]byte, error)

	Close() error
}
