package sqlite

import (
	"fmt"

	"github.com/JakeFAU/lenscrawl/internal/store"
)

var _ store.Repository = (*Repository)(nil)

// Repository implements store.Repository on a SQLite database.
type Repository struct {
	db *DB
}

// NewRepository wraps an opened DB.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Open opens path, creates the schema, and returns a Repository.
func Open(path string) (*Repository, error) {
	db := NewDB(path)
	if err := db.Open(); err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return NewRepository(db), nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying handle for tests and maintenance commands.
func (r *Repository) DB() *DB {
	return r.db
}
