/**
 * @description
 * This file defines the business error taxonomy for the ledger-service. Every
 * state-changing operation fails with exactly one of these kinds, detected
 * before any mutation for that call; handlers map them to HTTP statuses with
 * errors.Is.
 */

package domain

import "errors"

var (
	// ErrUnauthorized is returned when a non-administrator invokes an
	// administrator-only operation.
	ErrUnauthorized = errors.New("caller is not the administrator")

	// ErrUnknownStrategy is returned when an operation references a strategy
	// id that was never assigned.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrInvalidProtocol is returned for a forbidden protocol handle on
	// strategy registration, and for a deposit or withdrawal naming an asset
	// other than the configured one (the name is inherited from the source
	// system; on the transfer path it means "wrong asset").
	ErrInvalidProtocol = errors.New("invalid protocol")

	// ErrInvalidAmount is returned for non-positive transfer amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidRiskScore is returned when a strategy's risk score exceeds
	// MaxRiskScore.
	ErrInvalidRiskScore = errors.New("risk score out of range")

	// ErrInvalidRiskProfile is returned for a profile outside the enumerated set.
	ErrInvalidRiskProfile = errors.New("invalid risk profile")

	// ErrInvalidAllocation is returned for a length mismatch, a duplicate
	// strategy id, or shares not summing to exactly TotalShareBps.
	ErrInvalidAllocation = errors.New("invalid allocation set")

	// ErrStrategyInactive is returned when an allocation write references a
	// deactivated strategy.
	ErrStrategyInactive = errors.New("strategy is inactive")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the user's
	// balance, or a manual reallocation is attempted with no deposited funds.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPaused is returned by every mutating user operation while the global
	// pause flag is set.
	ErrPaused = errors.New("ledger is paused")
)
