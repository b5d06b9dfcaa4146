// Package storage provides the durable key-value table behind shopper carts.
//
// Two backends are supported through database/sql: SQLite (via mattn/go-sqlite3)
// and an in-process driver that snapshots the table to a JSON file.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	_ "github.com/mattn/go-sqlite3"

	"cashfity/pkg/storage/memorydriver"
)

// Supported backend names for Config.Type.
const (
	TypeSQLite = "sqlite"
	TypeMemory = "memory"
)

// Config selects the backend and where it keeps its data.
type Config struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// Open returns a ready database handle plus a cleanup func that must run after db.Close.
func Open(ctx context.Context, cfg Config) (*sql.DB, func(), error) {
	path, err := resolvePath(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	var (
		driverName = "sqlite3"
		cleanup    = func() {}
	)
	switch cfg.Type {
	case TypeSQLite:
	case TypeMemory:
		driverName, cleanup, err = memorydriver.Register(path)
		if err != nil {
			return nil, func() {}, errors.Wrap(err, "register memory driver")
		}
	default:
		return nil, func() {}, errors.Errorf("unsupported db type %q", cfg.Type)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		cleanup()
		return nil, func() {}, errors.Wrap(err, "open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		cleanup()
		return nil, func() {}, errors.Wrap(err, "connect to database")
	}

	if cfg.Type == TypeSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, func() {}, err
		}
	}
	return db, cleanup, nil
}

// resolvePath defaults the data file into the working directory like the rest of the CLI does.
func resolvePath(cfg Config) (string, error) {
	if cfg.Path != "" {
		return cfg.Path, nil
	}
	if cfg.Type == TypeMemory {
		// Without a path the memory driver keeps nothing on disk.
		return "", nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "resolve working directory")
	}
	return filepath.Join(cwd, "cashfity.db"), nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "execute %q", pragma)
		}
	}
	return nil
}

// EnsureSchema creates the key-value table when it is missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const stmt = `CREATE TABLE IF NOT EXISTS kv (
                        key TEXT PRIMARY KEY,
                        value TEXT NOT NULL
                )`
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, "create kv table")
	}
	return nil
}

// KV is a string keyed blob store on top of database/sql.
type KV struct {
	db *sql.DB
}

// NewKV wraps a handle that already went through EnsureSchema.
func NewKV(db *sql.DB) *KV {
	return &KV{db: db}
}

// Get returns the stored value and whether the key exists.
func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := k.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read key %s", key)
	}
	return []byte(value), true, nil
}

// Put replaces the value stored under key.
func (k *KV) Put(ctx context.Context, key string, value []byte) error {
	query := "INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"
	if _, err := k.db.ExecContext(ctx, query, key, string(value)); err != nil {
		return errors.Wrapf(err, "write key %s", key)
	}
	return nil
}

// Delete drops key; deleting a missing key is not an error.
func (k *KV) Delete(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "delete key %s", key)
	}
	return nil
}
