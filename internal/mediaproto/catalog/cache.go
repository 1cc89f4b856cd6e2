package catalog

import (
	"context"
	"sync"
	"sync/atomic"

	memdb "github.com/hashicorp/go-memdb"
)

// briefSchema indexes cached rows by id (unique) and by title, so a single
// cached snapshot can serve both listBrief enumeration and a point lookup
// without a second store round-trip.
var briefSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"brief": {
			Name: "brief",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"title": {
					Name:    "title",
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "Title"},
				},
			},
		},
	},
}

// briefCache is the single shared brief-listing fast path, guarded by
// double-checked initialisation: a cheap atomic flag is read first; on a
// miss, a lock is taken, the flag re-checked, the query executed, the
// snapshot published, then the flag set. The invalidation signal is
// external; see invalidate.go for the two invalidators this package
// wires in.
type briefCache struct {
	ready atomic.Bool
	mu    sync.Mutex
	db    atomic.Pointer[memdb.MemDB]
	query func(ctx context.Context) ([]briefRow, error)
}

func newBriefCache(query func(ctx context.Context) ([]briefRow, error)) *briefCache {
	return &briefCache{query: query}
}

// get returns the cached memdb snapshot, populating it on first use or
// after an invalidation.
func (b *briefCache) get(ctx context.Context) (*memdb.MemDB, error) {
	if b.ready.Load() {
		return b.db.Load(), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready.Load() {
		return b.db.Load(), nil
	}

	rows, err := b.query(ctx)
	if err != nil {
		return nil, err
	}

	snapshot, err := memdb.NewMemDB(briefSchema)
	if err != nil {
		return nil, err
	}
	txn := snapshot.Txn(true)
	for i := range rows {
		if err := txn.Insert("brief", &rows[i]); err != nil {
			txn.Abort()
			return nil, err
		}
	}
	txn.Commit()

	b.db.Store(snapshot)
	b.ready.Store(true)
	return snapshot, nil
}

// invalidate clears the ready flag. The next get() repopulates the
// snapshot from the backing store.
func (b *briefCache) invalidate() {
	b.ready.Store(false)
}

// listBrief returns every cached (id, title) row.
func (b *briefCache) listBrief(ctx context.Context) ([]briefRow, error) {
	db, err := b.get(ctx)
	if err != nil {
		return nil, err
	}
	txn := db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get("brief", "id")
	if err != nil {
		return nil, err
	}
	var out []briefRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*briefRow))
	}
	return out, nil
}

// lookupBrief returns the cached (id, title) row for id, if present.
func (b *briefCache) lookupBrief(ctx context.Context, id string) (*briefRow, error) {
	db, err := b.get(ctx)
	if err != nil {
		return nil, err
	}
	txn := db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First("brief", "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	row := raw.(*briefRow)
	return row, nil
}
