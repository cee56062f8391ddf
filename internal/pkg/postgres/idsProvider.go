package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExpiredSessions provides IDs of abandoned upload sessions
type ExpiredSessions struct {
	pool         *pgxpool.Pool
	expiresAfter time.Duration
}

// NewExpiredSessions creates ExpiredSessions instance
func NewExpiredSessions(pool *pgxpool.Pool, expiresAfter time.Duration) (*ExpiredSessions, error) {
	if pool == nil {
		return nil, fmt.Errorf("no pool")
	}
	if expiresAfter <= 0 {
		return nil, fmt.Errorf("wrong expire duration %v", expiresAfter)
	}
	res := &ExpiredSessions{pool: pool, expiresAfter: expiresAfter}
	return res, nil
}

// GetExpired returns sessions not touched for expiresAfter
func (db *ExpiredSessions) GetExpired(ctx context.Context) ([]string, error) {
	exp := time.Now().Add(-db.expiresAfter)
	goapp.Log.Info().Time("older than", exp).Msg("selecting abandoned upload sessions...")
	rows, err := db.pool.Query(ctx, `SELECT id FROM upload_sessions WHERE updated < $1`, exp)
	if err != nil {
		return nil, fmt.Errorf("can't select IDs: %w", err)
	}
	defer rows.Close()

	res := []string{}
	for rows.Next() {
		var id string
		err := rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("can't retrieve IDs: %w", err)
		}
		res = append(res, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("can't retrieve IDs: %w", err)
	}
	return res, nil
}
