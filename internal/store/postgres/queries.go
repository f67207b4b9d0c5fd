package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/sdata/internal/codec"
	"github.com/alfredjeanlab/sdata/internal/model"
	"github.com/alfredjeanlab/sdata/internal/store"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// row is the column set written for a snapshot.
type row struct {
	typeTag     int64
	id          []byte
	latestIndex int64
	expiresAt   sql.NullTime
	digest      []byte
	body        []byte
}

func rowOf(rec *model.Record) row {
	key := rec.Key()
	digest := codec.RecordDigest(rec)
	r := row{
		typeTag:     int64(key.TypeTag),
		id:          key.ID[:],
		latestIndex: int64(rec.Latest().Index),
		digest:      digest[:],
		body:        codec.EncodeRecord(rec),
	}
	if exp := rec.Policy().Expiry; !exp.IsZero() {
		r.expiresAt = sql.NullTime{Time: exp, Valid: true}
	}
	return r
}

func queryCreateRecord(ctx context.Context, db executor, rec *model.Record) error {
	r := rowOf(rec)
	res, err := db.ExecContext(ctx, `
		INSERT INTO records (type_tag, id, latest_index, expires_at, digest, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (type_tag, id) DO NOTHING`,
		r.typeTag, r.id, r.latestIndex, r.expiresAt, r.digest, r.body,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return store.ErrExists
	}
	return nil
}

func queryGetRecord(ctx context.Context, db executor, key model.Key) (*model.Record, error) {
	var body []byte
	err := db.QueryRowContext(ctx,
		`SELECT body FROM records WHERE type_tag = $1 AND id = $2`,
		int64(key.TypeTag), key.ID[:],
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", key, err)
	}
	return decodeBody(body)
}

func queryReplaceRecord(ctx context.Context, db executor, next *model.Record, prev codec.Digest) error {
	r := rowOf(next)
	res, err := db.ExecContext(ctx, `
		UPDATE records
		SET latest_index = $3, expires_at = $4, digest = $5, body = $6, updated_at = now()
		WHERE type_tag = $1 AND id = $2 AND digest = $7`,
		r.typeTag, r.id, r.latestIndex, r.expiresAt, r.digest, r.body, prev[:],
	)
	if err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE type_tag = $1 AND id = $2`, r.typeTag, r.id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	return store.ErrConflict
}

func queryDeleteRecord(ctx context.Context, db executor, key model.Key) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM records WHERE type_tag = $1 AND id = $2`,
		int64(key.TypeTag), key.ID[:],
	)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func queryListExpired(ctx context.Context, db executor, now time.Time, limit int) ([]model.Key, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT type_tag, id FROM records
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var keys []model.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
