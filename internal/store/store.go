// Package store is the key-value job store. Keys are opaque strings such as
// "plans/{id}"; values are JSON documents. Writes are last-write-wins.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = eris.New("store: not found")

// Entry is a stored key-value pair.
type Entry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// Store defines the persistence interface for jobs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// List returns entries whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)

	Migrate(ctx context.Context) error
	Close() error
}

// likePrefix escapes prefix for a LIKE pattern using '\' as escape character.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
