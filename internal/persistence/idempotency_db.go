package persistence

import (
	"BTCFiRisk/internal/action"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// idempotencyLookupTimeout bounds the dedup query on the submit path.
const idempotencyLookupTimeout = 500 * time.Millisecond

// FindByIdempotencyKey returns the action created under a client-supplied
// idempotency key. The partial unique index on idempotency_key backs it.
func (s *ActionStore) FindByIdempotencyKey(ctx context.Context, key string) (action.Action, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, idempotencyLookupTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions.actions WHERE idempotency_key = $1 LIMIT 1`, key)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Action{}, false, nil // Not found - not a duplicate
	}
	if err != nil {
		return action.Action{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return a, true, nil
}
