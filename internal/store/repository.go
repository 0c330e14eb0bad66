/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For user identity handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/stratvault/ledger-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
//
// Transition methods (ApplyDeposit, ApplyWithdrawal, ReplaceAllocations,
// CreateStrategy) execute all of their row changes inside a single database
// transaction: a failure leaves no partial write behind.
type Repository interface {
	// Global ledger state
	GetLedgerState(ctx context.Context) (*domain.LedgerState, error)
	SetPaused(ctx context.Context, paused bool) error
	SetAssetContract(ctx context.Context, asset string) error

	// Strategy registry
	// CreateStrategy assigns the next sequential id, stores the strategy as
	// active with zero allocated funds, and advances the id counter atomically.
	CreateStrategy(ctx context.Context, protocol string, apyBps int64, riskScore int) (int64, error)
	FindStrategyByID(ctx context.Context, id int64) (*domain.Strategy, error)
	FindStrategiesByIDs(ctx context.Context, ids []int64) (map[int64]domain.Strategy, error)
	UpdateStrategyAPY(ctx context.Context, id int64, apyBps int64) error
	SetStrategyActive(ctx context.Context, id int64, active bool) error
	StrategyCount(ctx context.Context) (int64, error)

	// User ledger
	FindUserAccount(ctx context.Context, userID uuid.UUID) (*domain.UserAccount, error)
	// UpsertRiskProfile lazily materializes the account with a zero balance if
	// absent and overwrites the risk profile, preserving the balance.
	UpsertRiskProfile(ctx context.Context, userID uuid.UUID, profile domain.RiskProfile) (*domain.UserAccount, error)

	// Balance transitions
	// ApplyDeposit credits the user's balance and total-funds-locked and replaces
	// the user's allocation set, all in one transaction. The profile is used only
	// when the account row does not exist yet.
	ApplyDeposit(ctx context.Context, userID uuid.UUID, amount int64, profile domain.RiskProfile, entries []domain.AllocationEntry) error
	// ApplyWithdrawal debits the user's balance and total-funds-locked in one
	// transaction, failing with domain.ErrInsufficientBalance before any write
	// when the balance does not cover the amount. Allocation entries are left
	// untouched: shares are percentages of whatever the balance is, so they
	// remain meaningful (and a zero balance keeps its last written set).
	ApplyWithdrawal(ctx context.Context, userID uuid.UUID, amount int64) error
	// RevertWithdrawal credits a previously debited amount back after the
	// external transfer-out failed.
	RevertWithdrawal(ctx context.Context, userID uuid.UUID, amount int64) error

	// Allocation table
	// ReplaceAllocations clears every prior entry for the user and stores the
	// given set in one transaction (full replacement, never an incremental merge).
	ReplaceAllocations(ctx context.Context, userID uuid.UUID, entries []domain.AllocationEntry) error
	FindAllocationsByUser(ctx context.Context, userID uuid.UUID) ([]domain.AllocationEntry, error)
	// FindAllocationShare returns the stored share for the pair, or zero when no
	// entry exists.
	FindAllocationShare(ctx context.Context, userID uuid.UUID, strategyID int64) (int, error)
}
