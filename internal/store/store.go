package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/config"
)

// ErrNotFound is returned when a record or blob does not exist.
var ErrNotFound = errors.New("store: not found")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps records as JSONB documents and blobs as bytea rows.
// It implements schemas.Storage.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Storage = (*PostgresStore)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a pgx pool from the database configuration. The returned func closes it.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresStore, func(), error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(connectCtx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the tables the store needs. It is safe to run on every start.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batch := &pgx.Batch{}
	for _, stmt := range schemaStatements {
		batch.Queue(stmt)
	}
	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	for i := range schemaStatements {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// -- Records --

const sqlUpsertRecord = `
        INSERT INTO records (collection, id, body, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4)
        ON CONFLICT (collection, id) DO UPDATE SET
            body = EXCLUDED.body,
            updated_at = EXCLUDED.updated_at;
    `

func (s *PostgresStore) UpsertRecord(ctx context.Context, collection, id string, record interface{}) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s/%s: %w", collection, id, err)
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertRecord, collection, id, body, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert record %s/%s: %w", collection, id, err)
	}
	return nil
}

const sqlGetRecord = `SELECT body FROM records WHERE collection = $1 AND id = $2;`

func (s *PostgresStore) GetRecord(ctx context.Context, collection, id string, out interface{}) error {
	var body []byte
	if err := s.pool.QueryRow(ctx, sqlGetRecord, collection, id).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("record %s/%s: %w", collection, id, ErrNotFound)
		}
		return fmt.Errorf("failed to read record %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode record %s/%s: %w", collection, id, err)
	}
	return nil
}

// -- Blobs --

const sqlInsertBlob = `
        INSERT INTO blobs (handle, target, item_id, platform, filename, content_type, source_url, extra, size, data, stored_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (handle) DO NOTHING;
    `

// BlobHandle is the content address of data.
func BlobHandle(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PutBlob stores data under its content address. Storing the same bytes twice is a no-op.
func (s *PostgresStore) PutBlob(ctx context.Context, data []byte, meta schemas.BlobMetadata) (string, error) {
	handle := BlobHandle(data)
	extra, err := json.Marshal(meta.Extra)
	if err != nil {
		return "", fmt.Errorf("failed to encode blob metadata: %w", err)
	}
	if len(meta.Extra) == 0 {
		extra = []byte("{}")
	}

	tag, err := s.pool.Exec(ctx, sqlInsertBlob,
		handle, meta.Target, meta.ItemID, meta.Platform,
		meta.Filename, meta.ContentType, meta.SourceURL,
		extra, len(data), data, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert blob for %s/%s: %w", meta.Target, meta.ItemID, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Blob already stored.", zap.String("handle", handle))
	}
	return handle, nil
}

const sqlReadBlob = `SELECT data FROM blobs WHERE handle = $1;`

func (s *PostgresStore) ReadBlob(ctx context.Context, handle string) ([]byte, error) {
	var data []byte
	if err := s.pool.QueryRow(ctx, sqlReadBlob, handle).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("blob %s: %w", handle, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", handle, err)
	}
	return data, nil
}

const sqlListBlobs = `
        SELECT handle, filename, content_type, target, item_id, platform, source_url, extra, size, stored_at
        FROM blobs
        WHERE target = $1
        ORDER BY stored_at ASC;
    `

func (s *PostgresStore) ListBlobs(ctx context.Context, target string) ([]schemas.BlobInfo, error) {
	rows, err := s.pool.Query(ctx, sqlListBlobs, target)
	if err != nil {
		return nil, fmt.Errorf("failed to query blobs: %w", err)
	}
	defer rows.Close()

	var blobs []schemas.BlobInfo
	for rows.Next() {
		var (
			b     schemas.BlobInfo
			extra []byte
		)
		if err := rows.Scan(
			&b.Handle, &b.Metadata.Filename, &b.Metadata.ContentType,
			&b.Metadata.Target, &b.Metadata.ItemID, &b.Metadata.Platform,
			&b.Metadata.SourceURL, &extra, &b.Size, &b.StoredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan blob row: %w", err)
		}
		if len(extra) > 0 && string(extra) != "null" {
			if err := json.Unmarshal(extra, &b.Metadata.Extra); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of blob %s: %w", b.Handle, err)
			}
		}
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return blobs, nil
}

// -- Media index --

const sqlInsertMediaRef = `
        INSERT INTO media_refs (target, item_id, ordinal, url, format, handle, content_type, size, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (target, item_id, ordinal) DO NOTHING;
    `

func (s *PostgresStore) PutMediaRef(ctx context.Context, target, itemID string, ref schemas.MediaReference) (bool, error) {
	tag, err := s.pool.Exec(ctx, sqlInsertMediaRef,
		target, itemID, ref.Ordinal, ref.URL, string(ref.Format),
		ref.Handle, ref.ContentType, ref.Size, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert media reference for %s/%s: %w", target, itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

const sqlMediaRefs = `
        SELECT ordinal, url, format, handle, content_type, size
        FROM media_refs
        WHERE target = $1 AND item_id = $2
        ORDER BY ordinal ASC;
    `

func (s *PostgresStore) MediaRefs(ctx context.Context, target, itemID string) ([]schemas.MediaReference, error) {
	rows, err := s.pool.Query(ctx, sqlMediaRefs, target, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media references: %w", err)
	}
	defer rows.Close()

	var refs []schemas.MediaReference
	for rows.Next() {
		var (
			ref    schemas.MediaReference
			format string
		)
		if err := rows.Scan(&ref.Ordinal, &ref.URL, &format, &ref.Handle, &ref.ContentType, &ref.Size); err != nil {
			return nil, fmt.Errorf("failed to scan media reference row: %w", err)
		}
		ref.Format = schemas.MediaFormat(format)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return refs, nil
}
