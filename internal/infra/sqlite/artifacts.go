package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/synapseshield/shield/internal/domain"
)

// ─── Artifact Store ─────────────────────────────────────────────────────────

// Get returns the artifact stored under key.
func (d *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, `SELECT data FROM artifacts WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrArtifactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", key, err)
	}
	return data, nil
}

// Put stores a single artifact.
func (d *DB) Put(ctx context.Context, key string, data []byte) error {
	return d.PutAll(ctx, map[string][]byte{key: data})
}

// PutAll stores every artifact in one transaction.
func (d *DB) PutAll(ctx context.Context, items map[string][]byte) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now().UnixMilli()
	for _, k := range keys {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (key, data, size_bytes, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
				data=excluded.data,
				size_bytes=excluded.size_bytes,
				updated_at=excluded.updated_at`,
			k, items[k], len(items[k]), now,
		)
		if err != nil {
			return fmt.Errorf("put artifact %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Exists reports whether key holds an artifact.
func (d *DB) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes an artifact.
func (d *DB) Delete(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key)
	return err
}

// ArtifactInfo describes a stored artifact without its body.
type ArtifactInfo struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListArtifacts returns stored artifacts ordered by key.
func (d *DB) ListArtifacts(ctx context.Context) ([]ArtifactInfo, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, size_bytes, updated_at FROM artifacts ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArtifactInfo
	for rows.Next() {
		var a ArtifactInfo
		var updated int64
		if err := rows.Scan(&a.Key, &a.SizeBytes, &updated); err != nil {
			return nil, err
		}
		a.UpdatedAt = fromUnixMilli(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}
