package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/repository"
)

var _ repository.BlobStore = (*DB)(nil)

// Put stores the object under key, replacing any previous object with that key.
// The whole object is read into memory; callers cap the size before calling.
func (db *DB) Put(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("sqlite: reading blob %s: %w", key, err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO file_blobs (storage_key, data, size, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(storage_key) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			updated_at = excluded.updated_at`,
		key, data, len(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving blob %s: %w", key, err)
	}
	return nil
}

func (db *DB) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var data []byte
	err := db.conn.QueryRowContext(ctx,
		`SELECT data FROM file_blobs WHERE storage_key = ?`, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("file", key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting blob %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM file_blobs WHERE storage_key = ?`, key,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting blob %s: %w", key, err)
	}
	return nil
}
