// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrKeyNotFound is returned by Get for absent keys
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStore is the durable byte store behind save records
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Options selects and configures a backend
type Options struct {
	Backend     string
	DataDir     string
	SQLitePath  string
	PostgresDSN string
}

// Open creates the configured backend
func Open(ctx context.Context, opts Options) (KeyValueStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendFile, "":
		return NewFileStorage(opts.DataDir)
	case BackendMemory:
		return NewMemoryStorage(0, 0), nil
	case BackendSQLite:
		return OpenSQLStorage(ctx, DialectSQLite, opts.SQLitePath)
	case BackendPostgres:
		return OpenSQLStorage(ctx, DialectPostgres, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", opts.Backend)
	}
}
