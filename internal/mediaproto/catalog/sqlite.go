package catalog

import (
	"context"
	"database/sql"

	"github.com/alxayo/mediasrv/internal/mediaproto/media"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS media (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	duration_secs INTEGER NOT NULL,
	video_width INTEGER,
	video_height INTEGER,
	video_codec TEXT,
	audio_codec TEXT,
	container_name TEXT,
	content_locator TEXT
);
`

// EnsureSchema creates the media table if it does not already exist.
// Schema migration beyond this is the persistence layer's concern.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, schemaDDL)
	return err
}

type briefRow struct {
	ID    string
	Title string
}

func (c *Catalog) scanMedia(row interface {
	Scan(dest ...any) error
}) (*media.Media, error) {
	var id, title, containerName, contentLocator string
	var durationSecs int
	var videoWidth, videoHeight sql.NullInt64
	var videoCodec, audioCodec sql.NullString

	if err := row.Scan(&id, &title, &durationSecs, &videoWidth, &videoHeight, &videoCodec, &audioCodec, &containerName, &contentLocator); err != nil {
		return nil, err
	}

	var video, audio *media.StreamDescriptor
	if videoWidth.Valid || videoHeight.Valid || videoCodec.Valid {
		video = &media.StreamDescriptor{
			Width:  int(videoWidth.Int64),
			Height: int(videoHeight.Int64),
			Codec:  videoCodec.String,
		}
	}
	if audioCodec.Valid {
		audio = &media.StreamDescriptor{Codec: audioCodec.String}
	}

	return media.New(id, title, durationSecs, video, audio, containerName, contentLocator, c.store), nil
}

const selectColumns = "id, title, duration_secs, video_width, video_height, video_codec, audio_codec, container_name, content_locator"

// queryAll returns every row as a fully-resolved Media handle.
func (c *Catalog) queryAll(ctx context.Context, tx *sql.Tx) ([]*media.Media, error) {
	rows, err := tx.QueryContext(ctx, "SELECT "+selectColumns+" FROM media ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*media.Media
	for rows.Next() {
		m, err := c.scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// queryBrief returns (id, title) pairs for every row.
func (c *Catalog) queryBrief(ctx context.Context) ([]briefRow, error) {
	var out []briefRow
	err := c.withSerializableTxn(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT id, title FROM media ORDER BY id")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r briefRow
			if err := rows.Scan(&r.ID, &r.Title); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// queryLookup returns the full row for id, or nil if absent.
func (c *Catalog) queryLookup(ctx context.Context, tx *sql.Tx, id string) (*media.Media, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM media WHERE id = ?", id)
	m, err := c.scanMedia(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// querySearch returns (id, title) pairs whose title matches the opaque
// query text, interpreted here as a substring match.
func (c *Catalog) querySearch(ctx context.Context, tx *sql.Tx, query string) ([]briefRow, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id, title FROM media WHERE title LIKE '%' || ? || '%' ORDER BY id", query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []briefRow
	for rows.Next() {
		var r briefRow
		if err := rows.Scan(&r.ID, &r.Title); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
