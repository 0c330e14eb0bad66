/**
 * @description
 * This file defines the core domain models for the ledger-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest unit of the configured asset,
 *   which avoids floating-point inaccuracies with financial data.
 * - Allocation shares are integers in basis points out of 10000.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TotalShareBps is the exact sum every full allocation set must reach.
const TotalShareBps = 10000

// MaxRiskScore is the inclusive upper bound for a strategy's risk score.
const MaxRiskScore = 100

// RiskProfile is a user's declared appetite for risk, driving the default
// allocation split across the registered strategies.
type RiskProfile string

const (
	RiskConservative RiskProfile = "conservative"
	RiskModerate     RiskProfile = "moderate"
	RiskAggressive   RiskProfile = "aggressive"
)

// ParseRiskProfile normalizes and validates a profile string from the API layer.
func ParseRiskProfile(s string) (RiskProfile, error) {
	switch RiskProfile(s) {
	case RiskConservative, RiskModerate, RiskAggressive:
		return RiskProfile(s), nil
	}
	return "", ErrInvalidRiskProfile
}

// Strategy is a registered external yield-bearing protocol the ledger can
// allocate user funds to. Ids are assigned sequentially from zero and are
// never reused; deactivation is the soft-delete path.
type Strategy struct {
	ID        int64  `json:"id" db:"id"`
	Protocol  string `json:"protocol" db:"protocol"`
	APYBps    int64  `json:"apy_bps" db:"apy_bps"`
	RiskScore int    `json:"risk_score" db:"risk_score"`
	Active    bool   `json:"active" db:"active"`
	// AllocatedFunds is written once at creation and never updated by any
	// transition. It is a placeholder column kept for future accounting.
	AllocatedFunds int64     `json:"allocated_funds" db:"allocated_funds"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// UserAccount tracks a single user's risk profile and total deposited value.
// Accounts materialize lazily on first interaction; a zero-balance account is
// indistinguishable from a never-seen one on the read surface.
type UserAccount struct {
	UserID      uuid.UUID   `json:"user_id" db:"user_id"`
	RiskProfile RiskProfile `json:"risk_profile" db:"risk_profile"`
	TotalValue  int64       `json:"total_value" db:"total_value"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// AllocationEntry is the basis-point share a user has assigned to a strategy.
// For any funded user the shares of the most recent allocation write sum to
// exactly TotalShareBps.
type AllocationEntry struct {
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	StrategyID int64     `json:"strategy_id" db:"strategy_id"`
	ShareBps   int       `json:"share_bps" db:"share_bps"`
}

// LedgerState holds the global scalars persisted alongside the tables.
// TotalFundsLocked must equal the sum of every account's TotalValue at all times.
type LedgerState struct {
	NextStrategyID   int64  `json:"next_strategy_id" db:"next_strategy_id"`
	TotalFundsLocked int64  `json:"total_funds_locked" db:"total_funds_locked"`
	AssetContract    string `json:"asset_contract" db:"asset_contract"`
	Paused           bool   `json:"paused" db:"paused"`
}

// AddStrategyRequest is the DTO for registering a new strategy.
type AddStrategyRequest struct {
	Protocol  string `json:"protocol"`
	APYBps    int64  `json:"apy_bps"`
	RiskScore int    `json:"risk_score"`
}

// UpdateAPYRequest is the DTO for an administrator APY update.
type UpdateAPYRequest struct {
	APYBps int64 `json:"apy_bps"`
}

// SetActiveRequest is the DTO for toggling a strategy's active flag.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SetAssetContractRequest is the DTO for configuring the accepted asset.
type SetAssetContractRequest struct {
	Asset string `json:"asset"`
}

// RecoverTokensRequest is the DTO for the emergency custody sweep.
type RecoverTokensRequest struct {
	Recipient string `json:"recipient"`
}

// DepositRequest is the DTO for a user deposit.
type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// WithdrawRequest is the DTO for a user withdrawal.
type WithdrawRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// SetRiskProfileRequest is the DTO for a user risk-profile change.
type SetRiskProfileRequest struct {
	Profile string `json:"profile"`
}

// ReallocateRequest is the DTO for a manual reallocation. StrategyIDs and
// SharesBps are parallel slices; together they describe the full replacement set.
type ReallocateRequest struct {
	StrategyIDs []int64 `json:"strategy_ids"`
	SharesBps   []int   `json:"shares_bps"`
}
