package persistence

import (
	"BTCFiRisk/internal/action"
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/state"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/lib/pq"
)

// ErrStaleTransition means the stored status no longer matches the status
// the transition started from.
var ErrStaleTransition = errors.New("stale action transition")

// ActionStore persists actions and their lifecycle to Postgres.
type ActionStore struct {
	db *sql.DB
}

func NewActionStore(db *sql.DB) *ActionStore {
	return &ActionStore{db: db}
}

const (
	uniqueViolation  = pq.ErrorCode("23505")
	idempotencyIndex = "idx_actions_idem"
)

const actionColumns = `id, account, kind, amount, status, failure_reason, tx_hash, idempotency_key, created_at, updated_at`

// Insert writes a new action row.
func (s *ActionStore) Insert(ctx context.Context, a action.Action) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions.actions (`+actionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID,
		strings.ToLower(a.Account.Hex()),
		a.Kind.String(),
		a.Amount.Dec(),
		a.Status.String(),
		nullString(a.FailureReason),
		nullString(a.TxHash),
		nullString(a.IdempotencyKey),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if isIdempotencyConflict(err) {
		return fmt.Errorf("insert action %s: %w", a.ID, action.ErrDuplicateRequest)
	}
	if err != nil {
		return fmt.Errorf("insert action %s: %w", a.ID, err)
	}
	return nil
}

// isIdempotencyConflict reports a unique violation on the idempotency key
// index, i.e. a concurrent request already claimed the key.
func isIdempotencyConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && pqErr.Constraint == idempotencyIndex
}

// RecordTransition updates the action row and appends to the transition log
// in one transaction. The update is conditional on the row still being in
// status from.
func (s *ActionStore) RecordTransition(ctx context.Context, a action.Action, from action.Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE actions.actions
		SET status = $2, failure_reason = $3, tx_hash = $4, updated_at = $5
		WHERE id = $1 AND status = $6`,
		a.ID, a.Status.String(), nullString(a.FailureReason), nullString(a.TxHash), a.UpdatedAt, from.String(),
	)
	if err != nil {
		return fmt.Errorf("update action %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s expected %s", ErrStaleTransition, a.ID, from)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO actions.transitions (action_id, from_status, to_status, reason, tx_hash, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, from.String(), a.Status.String(), nullString(a.FailureReason), nullString(a.TxHash), a.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert transition %s: %w", a.ID, err)
	}

	return tx.Commit()
}

// Get loads one action. A missing row is action.ErrUnknownAction.
func (s *ActionStore) Get(ctx context.Context, id uuid.UUID) (action.Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions.actions WHERE id = $1`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Action{}, fmt.Errorf("%w: %s", action.ErrUnknownAction, id)
	}
	return a, err
}

// Transition is one row of the lifecycle log.
type Transition struct {
	From   action.Status
	To     action.Status
	Reason string
	TxHash string
	At     time.Time
}

// Transitions returns the lifecycle log of an action, oldest first.
func (s *ActionStore) Transitions(ctx context.Context, id uuid.UUID) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_status, to_status, COALESCE(reason, ''), COALESCE(tx_hash, ''), at
		FROM actions.transitions
		WHERE action_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var from, to string
		var t Transition
		if err := rows.Scan(&from, &to, &t.Reason, &t.TxHash, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		var ok bool
		if t.From, ok = action.ParseStatus(from); !ok {
			return nil, fmt.Errorf("unknown status %q", from)
		}
		if t.To, ok = action.ParseStatus(to); !ok {
			return nil, fmt.Errorf("unknown status %q", to)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (action.Action, error) {
	var (
		a                       action.Action
		account, kind, amount   string
		status                  string
		reason, txHash, idemKey sql.NullString
	)
	if err := row.Scan(&a.ID, &account, &kind, &amount, &status, &reason, &txHash, &idemKey, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return action.Action{}, err
	}

	acct, err := ledger.ParseAccount(account)
	if err != nil {
		return action.Action{}, fmt.Errorf("stored account: %w", err)
	}
	a.Account = acct

	if a.Kind, err = state.ParseActionKind(kind); err != nil {
		return action.Action{}, fmt.Errorf("stored kind: %w", err)
	}

	v, err := uint256.FromDecimal(amount)
	if err != nil {
		return action.Action{}, fmt.Errorf("stored amount %q: %w", amount, err)
	}
	a.Amount = *v

	st, ok := action.ParseStatus(status)
	if !ok {
		return action.Action{}, fmt.Errorf("stored status %q", status)
	}
	a.Status = st
	a.FailureReason = reason.String
	a.TxHash = txHash.String
	a.IdempotencyKey = idemKey.String
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
