package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soliplex/ingester/model"
)

// DBStore stores artifact bytes in a relational table keyed by
// (hash, artifact_type, storage_root), with file_size/file_bytes
// columns. It works against any database/sql driver; callers pass a
// *sql.DB already configured for postgres (pgx stdlib) or sqlite
// (mattn/go-sqlite3).
type DBStore struct {
	db        *sql.DB
	tableName string
}

// NewDBStore wraps db, using the given table name (callers running the
// postgres or sqlite migrations should pass "document_bytes").
func NewDBStore(db *sql.DB, tableName string) *DBStore {
	if tableName == "" {
		tableName = "document_bytes"
	}
	return &DBStore{db: db, tableName: tableName}
}

// Put implements Store via an upsert.
func (d *DBStore) Put(ctx context.Context, ref model.ArtifactRef, data []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (hash, artifact_type, storage_root, file_size, file_bytes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash, artifact_type, storage_root)
		DO UPDATE SET file_size = excluded.file_size, file_bytes = excluded.file_bytes
	`, d.tableName)
	_, err := d.db.ExecContext(ctx, query, ref.Hash, string(ref.Kind), ref.StorageRoot, len(data), data)
	if err != nil {
		return fmt.Errorf("artifact: db put %s/%s/%s: %w", ref.StorageRoot, ref.Kind, ref.Hash, err)
	}
	return nil
}

// Get implements Store.
func (d *DBStore) Get(ctx context.Context, ref model.ArtifactRef) ([]byte, error) {
	query := fmt.Sprintf(`SELECT file_bytes FROM %s WHERE hash = $1 AND artifact_type = $2 AND storage_root = $3`, d.tableName)
	var data []byte
	err := d.db.QueryRowContext(ctx, query, ref.Hash, string(ref.Kind), ref.StorageRoot).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: db get %s/%s/%s: %w", ref.StorageRoot, ref.Kind, ref.Hash, err)
	}
	return data, nil
}

// Exists implements Store.
func (d *DBStore) Exists(ctx context.Context, ref model.ArtifactRef) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE hash = $1 AND artifact_type = $2 AND storage_root = $3`, d.tableName)
	var one int
	err := d.db.QueryRowContext(ctx, query, ref.Hash, string(ref.Kind), ref.StorageRoot).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifact: db exists %s/%s/%s: %w", ref.StorageRoot, ref.Kind, ref.Hash, err)
	}
	return true, nil
}

// Delete implements Store.
func (d *DBStore) Delete(ctx context.Context, ref model.ArtifactRef) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE hash = $1 AND artifact_type = $2 AND storage_root = $3`, d.tableName)
	_, err := d.db.ExecContext(ctx, query, ref.Hash, string(ref.Kind), ref.StorageRoot)
	if err != nil {
		return fmt.Errorf("artifact: db delete %s/%s/%s: %w", ref.StorageRoot, ref.Kind, ref.Hash, err)
	}
	return nil
}

// DeleteAllForHash implements Store.
func (d *DBStore) DeleteAllForHash(ctx context.Context, hash string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE hash = $1`, d.tableName)
	res, err := d.db.ExecContext(ctx, query, hash)
	if err != nil {
		return 0, fmt.Errorf("artifact: db delete all for hash %s: %w", hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("artifact: db rows affected for hash %s: %w", hash, err)
	}
	return int(n), nil
}
