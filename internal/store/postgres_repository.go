/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * for strategies, user accounts, allocation entries and the singleton ledger state.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stratvault/ledger-service/internal/domain"
)

var (
	// ErrAccountNotFound is internal to the store layer: the service treats a
	// missing account as a zero-balance account with the default risk profile.
	ErrAccountNotFound = errors.New("user account not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetLedgerState returns the singleton global-state row.
func (r *PostgresRepository) GetLedgerState(ctx context.Context) (*domain.LedgerState, error) {
	var state domain.LedgerState
	query := `SELECT next_strategy_id, total_funds_locked, asset_contract, paused FROM ledger_state WHERE id = 1`
	err := r.db.QueryRow(ctx, query).Scan(&state.NextStrategyID, &state.TotalFundsLocked, &state.AssetContract, &state.Paused)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger state: %w", err)
	}
	return &state, nil
}

// SetPaused overwrites the global pause flag.
func (r *PostgresRepository) SetPaused(ctx context.Context, paused bool) error {
	_, err := r.db.Exec(ctx, `UPDATE ledger_state SET paused = $1 WHERE id = 1`, paused)
	if err != nil {
		return fmt.Errorf("failed to set paused flag: %w", err)
	}
	return nil
}

// SetAssetContract overwrites the configured asset handle.
func (r *PostgresRepository) SetAssetContract(ctx context.Context, asset string) error {
	_, err := r.db.Exec(ctx, `UPDATE ledger_state SET asset_contract = $1 WHERE id = 1`, asset)
	if err != nil {
		return fmt.Errorf("failed to set asset contract: %w", err)
	}
	return nil
}

// CreateStrategy assigns the next sequential id and stores the strategy as
// active with zero allocated funds. The id counter and the insert commit
// together so ids stay monotonic and are never reused.
func (r *PostgresRepository) CreateStrategy(ctx context.Context, protocol string, apyBps int64, riskScore int) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	// Lock the state row so concurrent registrations serialize on the counter.
	err = tx.QueryRow(ctx, `SELECT next_strategy_id FROM ledger_state WHERE id = 1 FOR UPDATE`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read strategy counter: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO strategies (id, protocol, apy_bps, risk_score, active, allocated_funds) VALUES ($1, $2, $3, $4, TRUE, 0)`,
		id, protocol, apyBps, riskScore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert strategy: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE ledger_state SET next_strategy_id = next_strategy_id + 1 WHERE id = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to advance strategy counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit strategy creation: %w", err)
	}
	return id, nil
}

// FindStrategyByID retrieves a strategy by its id.
func (r *PostgresRepository) FindStrategyByID(ctx context.Context, id int64) (*domain.Strategy, error) {
	var s domain.Strategy
	query := `SELECT id, protocol, apy_bps, risk_score, active, allocated_funds, created_at, updated_at FROM strategies WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.Protocol, &s.APYBps, &s.RiskScore, &s.Active, &s.AllocatedFunds, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrUnknownStrategy
		}
		return nil, err
	}
	return &s, nil
}

// FindStrategiesByIDs retrieves the strategies for a set of ids, keyed by id.
// Ids absent from the result were never assigned.
func (r *PostgresRepository) FindStrategiesByIDs(ctx context.Context, ids []int64) (map[int64]domain.Strategy, error) {
	result := make(map[int64]domain.Strategy, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT id, protocol, apy_bps, risk_score, active, allocated_funds, created_at, updated_at FROM strategies WHERE id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.Strategy
		if err := rows.Scan(&s.ID, &s.Protocol, &s.APYBps, &s.RiskScore, &s.Active, &s.AllocatedFunds, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		result[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategies: %w", err)
	}
	return result, nil
}

// UpdateStrategyAPY overwrites the APY, leaving other fields untouched.
func (r *PostgresRepository) UpdateStrategyAPY(ctx context.Context, id int64, apyBps int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE strategies SET apy_bps = $2, updated_at = NOW() WHERE id = $1`, id, apyBps)
	if err != nil {
		return fmt.Errorf("failed to update strategy apy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUnknownStrategy
	}
	return nil
}

// SetStrategyActive overwrites the active flag. Idempotent: setting the same
// value twice leaves the row in the same state as once.
func (r *PostgresRepository) SetStrategyActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE strategies SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update strategy active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUnknownStrategy
	}
	return nil
}

// StrategyCount returns the number of strategies ever registered, which equals
// the next id to assign.
func (r *PostgresRepository) StrategyCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT next_strategy_id FROM ledger_state WHERE id = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read strategy count: %w", err)
	}
	return count, nil
}

// FindUserAccount retrieves a user account by id.
func (r *PostgresRepository) FindUserAccount(ctx context.Context, userID uuid.UUID) (*domain.UserAccount, error) {
	var account domain.UserAccount
	query := `SELECT user_id, risk_profile, total_value, created_at, updated_at FROM user_accounts WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&account.UserID, &account.RiskProfile, &account.TotalValue, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpsertRiskProfile lazily materializes the account and overwrites the profile,
// preserving the balance.
func (r *PostgresRepository) UpsertRiskProfile(ctx context.Context, userID uuid.UUID, profile domain.RiskProfile) (*domain.UserAccount, error) {
	var account domain.UserAccount
	query := `
		INSERT INTO user_accounts (user_id, risk_profile, total_value)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET risk_profile = EXCLUDED.risk_profile, updated_at = NOW()
		RETURNING user_id, risk_profile, total_value, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, userID, profile).Scan(&account.UserID, &account.RiskProfile, &account.TotalValue, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert risk profile: %w", err)
	}
	return &account, nil
}

// ApplyDeposit credits the user balance and total-funds-locked and replaces the
// user's allocation set, all inside one transaction.
func (r *PostgresRepository) ApplyDeposit(ctx context.Context, userID uuid.UUID, amount int64, profile domain.RiskProfile, entries []domain.AllocationEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO user_accounts (user_id, risk_profile, total_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET total_value = user_accounts.total_value + EXCLUDED.total_value, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, query, userID, profile, amount); err != nil {
		return fmt.Errorf("failed to credit user balance: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE ledger_state SET total_funds_locked = total_funds_locked + $1 WHERE id = 1`, amount); err != nil {
		return fmt.Errorf("failed to credit total funds locked: %w", err)
	}

	if err := replaceAllocationsTx(ctx, tx, userID, entries); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit deposit: %w", err)
	}
	return nil
}

// ApplyWithdrawal debits the user balance and total-funds-locked in one
// transaction. The allocation table is intentionally left untouched.
func (r *PostgresRepository) ApplyWithdrawal(ctx context.Context, userID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, `SELECT total_value FROM user_accounts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrInsufficientBalance
		}
		return err
	}
	if balance < amount {
		return domain.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, `UPDATE user_accounts SET total_value = total_value - $2, updated_at = NOW() WHERE user_id = $1`, userID, amount); err != nil {
		return fmt.Errorf("failed to debit user balance: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE ledger_state SET total_funds_locked = total_funds_locked - $1 WHERE id = 1`, amount); err != nil {
		return fmt.Errorf("failed to debit total funds locked: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit withdrawal: %w", err)
	}
	return nil
}

// RevertWithdrawal restores a debited amount after the external transfer-out failed.
func (r *PostgresRepository) RevertWithdrawal(ctx context.Context, userID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE user_accounts SET total_value = total_value + $2, updated_at = NOW() WHERE user_id = $1`, userID, amount); err != nil {
		return fmt.Errorf("failed to restore user balance: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE ledger_state SET total_funds_locked = total_funds_locked + $1 WHERE id = 1`, amount); err != nil {
		return fmt.Errorf("failed to restore total funds locked: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit withdrawal revert: %w", err)
	}
	return nil
}

// ReplaceAllocations clears every prior entry for the user and stores the given
// set in one transaction.
func (r *PostgresRepository) ReplaceAllocations(ctx context.Context, userID uuid.UUID, entries []domain.AllocationEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := replaceAllocationsTx(ctx, tx, userID, entries); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit allocation replacement: %w", err)
	}
	return nil
}

// replaceAllocationsTx performs the full-replacement write within an open
// transaction. A strategy omitted from the new set must not retain a stale share,
// so all prior entries are deleted first.
func replaceAllocationsTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, entries []domain.AllocationEntry) error {
	if _, err := tx.Exec(ctx, `DELETE FROM allocations WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear prior allocations: %w", err)
	}
	for _, entry := range entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO allocations (user_id, strategy_id, share_bps) VALUES ($1, $2, $3)`,
			userID, entry.StrategyID, entry.ShareBps,
		)
		if err != nil {
			return fmt.Errorf("failed to insert allocation entry: %w", err)
		}
	}
	return nil
}

// FindAllocationsByUser returns the user's stored allocation entries ordered by
// strategy id.
func (r *PostgresRepository) FindAllocationsByUser(ctx context.Context, userID uuid.UUID) ([]domain.AllocationEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id, strategy_id, share_bps FROM allocations WHERE user_id = $1 ORDER BY strategy_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var entries []domain.AllocationEntry
	for rows.Next() {
		var entry domain.AllocationEntry
		if err := rows.Scan(&entry.UserID, &entry.StrategyID, &entry.ShareBps); err != nil {
			return nil, fmt.Errorf("failed to scan allocation entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocations: %w", err)
	}
	return entries, nil
}

// FindAllocationShare returns the stored share for the pair, or zero when no
// entry exists.
func (r *PostgresRepository) FindAllocationShare(ctx context.Context, userID uuid.UUID, strategyID int64) (int, error) {
	var share int
	err := r.db.QueryRow(ctx, `SELECT share_bps FROM allocations WHERE user_id = $1 AND strategy_id = $2`, userID, strategyID).Scan(&share)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return share, nil
}
