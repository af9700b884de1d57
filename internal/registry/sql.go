package registry

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"math"
	"time"

	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/storage/sqldb"
)

const mintAttempts = 3

// SQL stores assets in the assets table created by the embedded migrations.
// The same statements run on MySQL and SQLite.
type SQL struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQL wraps an opened and migrated database.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db, clock: time.Now}
}

// Mint implements Registry. IDs are allocated as MAX(id)+1 inside a
// transaction; a concurrent writer taking the same ID causes a retry.
func (s *SQL) Mint(ctx context.Context, owner string) (Asset, error) {
	normalized, err := NormalizeOwner(owner)
	if err != nil {
		return Asset{}, err
	}
	var lastErr error
	for attempt := 0; attempt < mintAttempts; attempt++ {
		asset, err := s.mintOnce(ctx, normalized)
		if err == nil {
			return asset, nil
		}
		if !sqldb.IsDuplicateKey(err) {
			return Asset{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "mint asset")
		}
		lastErr = err
	}
	return Asset{}, xerrors.Wrap(xerrors.CodeConflict, lastErr, "mint asset: id allocation kept colliding")
}

func (s *SQL) mintOnce(ctx context.Context, owner string) (Asset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Asset{}, err
	}
	defer tx.Rollback()

	var next uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM assets`).Scan(&next); err != nil {
		return Asset{}, err
	}
	asset := Asset{ID: next, Owner: owner, MintedAt: s.clock().UTC().Truncate(time.Millisecond)}
	if _, err := tx.ExecContext(ctx, `INSERT INTO assets (id, owner, minted_at) VALUES (?, ?, ?)`,
		asset.ID, asset.Owner, asset.MintedAt.UnixMilli()); err != nil {
		return Asset{}, err
	}
	if err := tx.Commit(); err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// storable reports whether id fits the signed BIGINT column. Larger IDs are
// never minted, so they are simply unknown.
func storable(id uint64) bool {
	return id <= math.MaxInt64
}

// Exists implements Registry.
func (s *SQL) Exists(ctx context.Context, id uint64) (bool, error) {
	if !storable(id) {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM assets WHERE id = ?`, id).Scan(&one)
	switch {
	case stdErrors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("check asset %d", id))
	}
	return true, nil
}

// Get implements Registry.
func (s *SQL) Get(ctx context.Context, id uint64) (Asset, error) {
	if !storable(id) {
		return Asset{}, notFound(id)
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, owner, minted_at FROM assets WHERE id = ?`, id)
	asset, err := scanAsset(row)
	switch {
	case stdErrors.Is(err, sql.ErrNoRows):
		return Asset{}, notFound(id)
	case err != nil:
		return Asset{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("load asset %d", id))
	}
	return asset, nil
}

// OwnerOf implements Registry.
func (s *SQL) OwnerOf(ctx context.Context, id uint64) (string, error) {
	asset, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return asset.Owner, nil
}

// List implements Registry.
func (s *SQL) List(ctx context.Context, limit, offset int) ([]Asset, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		// MySQL requires a LIMIT when OFFSET is present.
		limit = 1<<31 - 1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner, minted_at FROM assets ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list assets")
	}
	defer rows.Close()

	assets := []Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan asset")
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate assets")
	}
	return assets, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (Asset, error) {
	var (
		asset    Asset
		mintedAt int64
	)
	if err := row.Scan(&asset.ID, &asset.Owner, &mintedAt); err != nil {
		return Asset{}, err
	}
	asset.MintedAt = time.UnixMilli(mintedAt).UTC()
	return asset, nil
}

var _ Registry = (*SQL)(nil)
