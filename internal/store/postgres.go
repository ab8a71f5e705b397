package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabcode/internal/app"
	"collabcode/internal/room"
)

// Postgres mirrors room snapshots for hydration on first join. Every
// method may fail; the caller treats failures as non-fatal.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ room.Store = (*Postgres)(nil)

// NewPostgres connects to postgres and returns a pool wrapper
func NewPostgres(ctx context.Context, cfg app.Config, log *slog.Logger) (*Postgres, error) {
	pc, err := pgxpool.ParseConfig(cfg.PGURL)
	if err != nil {
		return nil, err
	}
	pc.MaxConns = int32(cfg.PGMaxConn)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// Fetch returns the stored snapshot for roomID; found is false when the
// room was never persisted.
func (p *Postgres) Fetch(ctx context.Context, roomID string) (room.Snapshot, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT code, language, version
		FROM rooms
		WHERE room_id = $1
	`, roomID)

	var snap room.Snapshot
	if err := row.Scan(&snap.Code, &snap.Language, &snap.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return room.Snapshot{}, false, nil
		}
		return room.Snapshot{}, false, err
	}
	return snap, true, nil
}

// Create inserts the initial state for a new room. A concurrent create for
// the same id is harmless.
func (p *Postgres) Create(ctx context.Context, roomID string, snap room.Snapshot) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rooms (room_id, code, language, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id) DO NOTHING
	`, roomID, snap.Code, snap.Language, snap.Version)
	return err
}

// SaveCode stores the new buffer, bumps the persisted version, and touches
// updated_at.
func (p *Postgres) SaveCode(ctx context.Context, roomID, code string) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE rooms
		SET code = $2, version = version + 1, updated_at = NOW()
		WHERE room_id = $1
	`, roomID, code)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("room %q not found", roomID)
	}
	return nil
}

// SaveLanguage stores the new tag. No version bump; only code mutations
// count.
func (p *Postgres) SaveLanguage(ctx context.Context, roomID, language string) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE rooms
		SET language = $2, updated_at = NOW()
		WHERE room_id = $1
	`, roomID, language)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("room %q not found", roomID)
	}
	return nil
}
