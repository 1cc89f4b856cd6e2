// Package catalog implements the read-only media catalog: full listing,
// brief listing (cached fast path), lookup, and search, backed by a
// relational store accessed through database/sql with serialisable
// transactions and bounded retry on serialization failure.
package catalog

import (
	"context"
	"database/sql"
	"log/slog"

	protoerrors "github.com/alxayo/mediasrv/internal/errors"
	"github.com/alxayo/mediasrv/internal/logger"
	"github.com/alxayo/mediasrv/internal/mediaproto/media"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// Catalog is the concrete, sqlite-backed MediaCatalog.
type Catalog struct {
	db            *sql.DB
	store         media.BlobStore
	retryAttempts int
	log           *slog.Logger

	brief *briefCache
	lru   *lru.Cache[string, *media.Media]
}

// Config collects the tunables this catalog recognises.
type Config struct {
	TransactionRetryAttempts int
	LRUSize                  int
}

// Open opens the sqlite database at dsn and constructs a Catalog around it.
func Open(dsn string, store media.BlobStore, cfg Config) (*Catalog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return New(db, store, cfg)
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB, store media.BlobStore, cfg Config) (*Catalog, error) {
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = 256
	}
	cache, err := lru.New[string, *media.Media](cfg.LRUSize)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		db:            db,
		store:         store,
		retryAttempts: cfg.TransactionRetryAttempts,
		log:           logger.Logger(),
		lru:           cache,
	}
	c.brief = newBriefCache(c.queryBrief)
	return c, nil
}

// withSerializableTxn runs fn inside a serialisable read-only transaction,
// retrying on a store-reported serialization failure up to retryAttempts
// times before surfacing StoreUnavailableError.
func (c *Catalog) withSerializableTxn(ctx context.Context, fn func(*sql.Tx) error) error {
	var lastErr error
	attempts := c.retryAttempts
	if attempts < 0 {
		attempts = 0
	}
	for i := 0; i <= attempts; i++ {
		err := c.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isSerializationFailure(err) {
			return protoerrors.NewStoreUnavailableError("catalog.txn", err)
		}
	}
	return protoerrors.NewStoreUnavailableError("catalog.txn", lastErr)
}

func (c *Catalog) runOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true})
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isSerializationFailure recognises the sqlite busy/locked class of error
// that a serialisable transaction may return under contention.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "SQLITE_BUSY", "database is locked", "SQLITE_LOCKED")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) > 0 && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}
