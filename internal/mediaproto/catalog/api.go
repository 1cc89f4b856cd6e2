package catalog

import (
	"context"
	"database/sql"

	"github.com/alxayo/mediasrv/internal/mediaproto/media"
)

// ListAll returns every catalog row as a fully-resolved Media handle.
func (c *Catalog) ListAll(ctx context.Context) ([]*media.Media, error) {
	var out []*media.Media
	err := c.withSerializableTxn(ctx, func(tx *sql.Tx) error {
		rows, qErr := c.queryAll(ctx, tx)
		if qErr != nil {
			return qErr
		}
		out = rows
		return nil
	})
	return out, err
}

// ListBrief returns (id, title) pairs through the shared fast-path cache.
// Results are proxies that lazily resolve through Lookup on first
// non-title access.
func (c *Catalog) ListBrief(ctx context.Context) ([]*media.Proxy, error) {
	rows, err := c.brief.listBrief(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*media.Proxy, len(rows))
	for i, r := range rows {
		out[i] = media.NewProxy(r.ID, r.Title, c)
	}
	return out, nil
}

// Lookup returns the full row for id, or nil if absent, satisfying
// media.Resolver so a proxy can resolve through the catalog directly.
// A small LRU absorbs repeat point lookups of ids already seen without
// growing unbounded the way the brief-listing snapshot would if reused
// for this purpose.
func (c *Catalog) Lookup(ctx context.Context, id string) (*media.Media, error) {
	if cached, ok := c.lru.Get(id); ok {
		return cached, nil
	}
	var out *media.Media
	err := c.withSerializableTxn(ctx, func(tx *sql.Tx) error {
		m, qErr := c.queryLookup(ctx, tx, id)
		if qErr != nil {
			return qErr
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		c.lru.Add(id, out)
	}
	return out, nil
}

// Search returns proxies matching an opaque full-text query, interpreted
// by the backing store.
func (c *Catalog) Search(ctx context.Context, query string) ([]*media.Proxy, error) {
	var rows []briefRow
	err := c.withSerializableTxn(ctx, func(tx *sql.Tx) error {
		r, qErr := c.querySearch(ctx, tx, query)
		if qErr != nil {
			return qErr
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*media.Proxy, len(rows))
	for i, r := range rows {
		out[i] = media.NewProxy(r.ID, r.Title, c)
	}
	return out, nil
}

// InvalidateBrief clears the brief-listing fast-path cache, forcing the
// next ListBrief call to repopulate the snapshot from the backing store.
// Wired to the time- and write-based invalidators in invalidate.go.
func (c *Catalog) InvalidateBrief() {
	c.brief.invalidate()
}
