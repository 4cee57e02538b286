package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"coachly/pkg/outbox"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	outbox.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ErrNotFound matches both errors.Is(err, ErrNotFound) and pgx.ErrNoRows.
var ErrNotFound = fmt.Errorf("record not found: %w", pgx.ErrNoRows)
