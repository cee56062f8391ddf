package postgres

import (
	"context"
	"fmt"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
)

type tableKey struct {
	table, column string
}

// SessionCleaner removes upload session rows
type SessionCleaner struct {
	pool   *pgxpool.Pool
	tables []tableKey
}

// NewSessionCleaner creates SessionCleaner instance
func NewSessionCleaner(pool *pgxpool.Pool) (*SessionCleaner, error) {
	if pool == nil {
		return nil, fmt.Errorf("no pool")
	}
	res := &SessionCleaner{pool: pool, tables: []tableKey{{table: "upload_parts", column: "session_id"},
		{table: "upload_sessions", column: "id"}}}
	return res, nil
}

// Clean deletes parts and the session, parts go first
func (db *SessionCleaner) Clean(ctx context.Context, id string) error {
	for _, t := range db.tables {
		cmd, err := db.pool.Exec(ctx, `DELETE FROM `+t.table+` WHERE `+t.column+` = $1`, id)
		if err != nil {
			return fmt.Errorf("can't delete %s(%s): %w", id, t.table, err)
		}
		goapp.Log.Info().Str("ID", id).Str("table", t.table).Int64("rows", cmd.RowsAffected()).Msg("deleted")
	}
	return nil
}
