/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Service`
 * struct orchestrates every ledger transition, coordinating between the database
 * repository, the asset-custody API client, and the message broker.
 *
 * Key features:
 * - Strategy registry operations guarded by the configured administrator identity.
 * - Deposit/withdraw/reallocate transitions with all-or-nothing semantics: every
 *   precondition is checked before any write, and external transfer failures are
 *   compensated by restoring the debited balance.
 * - The allocation invariant: any full allocation write sums to exactly 10000
 *   basis points across active strategies only.
 * - A single mutex serializes all mutating operations, since the invariants span
 *   several tables and must never be observed mid-update.
 *
 * @dependencies
 * - context, errors, fmt, log, sync, time: Standard Go libraries.
 * - github.com/google/uuid: For user identity handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/assetclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stratvault/ledger-service/internal/domain"
	"github.com/stratvault/ledger-service/internal/store"
	"github.com/stratvault/ledger-service/pkg/assetclient"
	"github.com/stratvault/ledger-service/pkg/rabbitmq"
)

// ErrRateLimited is returned when a user exceeds the configured write rate limit.
// It is an operational guard, not part of the ledger's business error taxonomy.
var ErrRateLimited = errors.New("rate limit exceeded")

// rateLimitWindow is the fixed window for the per-user write limiter.
const rateLimitWindow = time.Minute

// Service provides the core business logic for the fund-allocation ledger.
type Service struct {
	// mu serializes every mutating operation. The sum-to-10000 and
	// total-funds-locked invariants span multiple tables, so transitions must
	// not interleave.
	mu sync.Mutex

	repo           store.Repository
	assets         *assetclient.Client
	events         rabbitmq.Publisher
	adminID        string
	custodyAccount string

	limiter        RateLimiter
	limitPerMinute int
}

// NewService creates a new ledger service instance. The administrator identity
// is fixed here and never transferable.
func NewService(repo store.Repository, assets *assetclient.Client, events rabbitmq.Publisher, adminID, custodyAccount string) *Service {
	return &Service{
		repo:           repo,
		assets:         assets,
		events:         events,
		adminID:        adminID,
		custodyAccount: custodyAccount,
	}
}

// SetWriteRateLimiter enables per-user rate limiting on deposit, withdraw and
// reallocate. A nil limiter or non-positive limit disables it.
func (s *Service) SetWriteRateLimiter(limiter RateLimiter, perMinute int) {
	s.limiter = limiter
	s.limitPerMinute = perMinute
}

// requireAdmin enforces the administrator guard on the administrative surface.
func (s *Service) requireAdmin(caller string) error {
	if s.adminID == "" || caller != s.adminID {
		return domain.ErrUnauthorized
	}
	return nil
}

func (s *Service) consumeWriteLimit(ctx context.Context, op string, userID uuid.UUID) error {
	if s.limiter == nil || s.limitPerMinute <= 0 {
		return nil
	}
	count, _, err := s.limiter.ConsumeRateLimit(ctx, "ledger_write:"+op, userID.String(), s.limitPerMinute, rateLimitWindow)
	if err != nil {
		// Fail open: losing redis must not take the ledger down.
		log.Printf("level=warn component=ledger_service op=%s msg=\"rate limiter unavailable; allowing request\" user_id=%s err=%v", op, userID, err)
		return nil
	}
	if count > s.limitPerMinute {
		return ErrRateLimited
	}
	return nil
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, rabbitmq.LedgerEventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=ledger_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// AddStrategy registers a new yield strategy and returns its assigned id.
// Administrator only.
func (s *Service) AddStrategy(ctx context.Context, caller string, req domain.AddStrategyRequest) (int64, error) {
	if err := s.requireAdmin(caller); err != nil {
		return 0, err
	}
	if req.Protocol == "" {
		return 0, domain.ErrInvalidProtocol
	}
	if req.RiskScore < 0 || req.RiskScore > domain.MaxRiskScore {
		return 0, domain.ErrInvalidRiskScore
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.repo.CreateStrategy(ctx, req.Protocol, req.APYBps, req.RiskScore)
	if err != nil {
		return 0, fmt.Errorf("failed to create strategy: %w", err)
	}

	s.publish(ctx, "ledger.strategy.added", rabbitmq.StrategyEvent{
		StrategyID: id,
		Protocol:   req.Protocol,
		APYBps:     req.APYBps,
		RiskScore:  req.RiskScore,
		Timestamp:  time.Now().UTC(),
	})
	return id, nil
}

// UpdateStrategyAPY overwrites a strategy's APY. Administrator only.
func (s *Service) UpdateStrategyAPY(ctx context.Context, caller string, id int64, apyBps int64) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.UpdateStrategyAPY(ctx, id, apyBps)
}

// SetStrategyActive toggles a strategy's active flag. Administrator only.
// Deactivation does not purge existing allocation entries pointing at the
// strategy; it only blocks future allocation writes that include it.
func (s *Service) SetStrategyActive(ctx context.Context, caller string, id int64, active bool) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SetStrategyActive(ctx, id, active)
}

// SetAssetContract configures the one asset type the ledger accepts.
// Administrator only.
func (s *Service) SetAssetContract(ctx context.Context, caller string, asset string) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	if asset == "" {
		return domain.ErrInvalidProtocol
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SetAssetContract(ctx, asset)
}

// SetPaused toggles the global pause flag. Administrator only.
func (s *Service) SetPaused(ctx context.Context, caller string, paused bool) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.SetPaused(ctx, paused); err != nil {
		return err
	}
	s.publish(ctx, "ledger.paused.changed", rabbitmq.PauseEvent{Paused: paused, Timestamp: time.Now().UTC()})
	return nil
}

// RecoverTokens sweeps the ledger's entire custody balance of the configured
// asset to the recipient. Administrator only. This is an emergency escape
// hatch: it performs no ledger accounting and can desynchronize
// total-funds-locked from actual custody.
func (s *Service) RecoverTokens(ctx context.Context, caller string, recipient string) (int64, error) {
	if err := s.requireAdmin(caller); err != nil {
		return 0, err
	}

	balance, err := s.assets.BalanceOf(ctx, s.custodyAccount)
	if err != nil {
		return 0, fmt.Errorf("failed to read custody balance: %w", err)
	}
	if balance <= 0 {
		return 0, nil
	}
	if _, err := s.assets.TransferOut(ctx, recipient, balance); err != nil {
		return 0, fmt.Errorf("custody sweep transfer failed: %w", err)
	}
	log.Printf("level=warn component=ledger_service op=recover_tokens msg=\"custody balance swept\" recipient=%s amount=%d", recipient, balance)
	return balance, nil
}

// Deposit moves funds from the user into ledger custody, credits the user's
// balance and total-funds-locked, and rewrites the user's allocation set from
// the policy for their risk profile. A missing or deactivated default strategy
// surfaces as a typed failure of the deposit itself, before any value moves.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, req domain.DepositRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.GetLedgerState(ctx)
	if err != nil {
		return err
	}
	if state.Paused {
		return domain.ErrPaused
	}
	if req.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if req.Asset != state.AssetContract {
		return domain.ErrInvalidProtocol
	}
	if err := s.consumeWriteLimit(ctx, "deposit", userID); err != nil {
		return err
	}

	profile := domain.RiskModerate
	account, err := s.repo.FindUserAccount(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
		return err
	}
	if account != nil {
		profile = account.RiskProfile
	}

	// Validate the policy target before any value moves.
	entries, err := s.policyEntries(ctx, userID, profile)
	if err != nil {
		return err
	}

	if _, err := s.assets.TransferIn(ctx, userID.String(), req.Amount); err != nil {
		return fmt.Errorf("asset transfer-in failed: %w", err)
	}

	if err := s.repo.ApplyDeposit(ctx, userID, req.Amount, profile, entries); err != nil {
		// Return the custody-held funds since the ledger write failed.
		if _, refundErr := s.assets.TransferOut(ctx, userID.String(), req.Amount); refundErr != nil {
			log.Printf("level=error component=ledger_service op=deposit msg=\"CRITICAL: refund after failed deposit write also failed\" user_id=%s amount=%d err=%v", userID, req.Amount, refundErr)
		}
		return fmt.Errorf("failed to apply deposit: %w", err)
	}

	newState, stateErr := s.repo.GetLedgerState(ctx)
	var tvl int64
	if stateErr == nil {
		tvl = newState.TotalFundsLocked
	}
	s.publish(ctx, "ledger.deposit.completed", rabbitmq.BalanceEvent{
		UserID:           userID,
		Amount:           req.Amount,
		TotalFundsLocked: tvl,
		Timestamp:        time.Now().UTC(),
	})
	s.publishAllocation(ctx, userID, entries, "policy")
	return nil
}

// Withdraw debits the user's balance and total-funds-locked, then moves funds
// out of custody to the user. The allocation table is deliberately untouched:
// shares are percentages of whatever the balance is, and a balance reaching
// exactly zero keeps its last written set.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, req domain.WithdrawRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.GetLedgerState(ctx)
	if err != nil {
		return err
	}
	if state.Paused {
		return domain.ErrPaused
	}
	if req.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if req.Asset != state.AssetContract {
		return domain.ErrInvalidProtocol
	}
	if err := s.consumeWriteLimit(ctx, "withdraw", userID); err != nil {
		return err
	}

	if err := s.repo.ApplyWithdrawal(ctx, userID, req.Amount); err != nil {
		return err
	}

	if _, err := s.assets.TransferOut(ctx, userID.String(), req.Amount); err != nil {
		// Restore the debited amount since the custody transfer failed.
		if revertErr := s.repo.RevertWithdrawal(ctx, userID, req.Amount); revertErr != nil {
			log.Printf("level=error component=ledger_service op=withdraw msg=\"CRITICAL: balance restore after failed transfer-out also failed\" user_id=%s amount=%d err=%v", userID, req.Amount, revertErr)
		}
		return fmt.Errorf("asset transfer-out failed: %w", err)
	}

	newState, stateErr := s.repo.GetLedgerState(ctx)
	var tvl int64
	if stateErr == nil {
		tvl = newState.TotalFundsLocked
	}
	s.publish(ctx, "ledger.withdrawal.completed", rabbitmq.BalanceEvent{
		UserID:           userID,
		Amount:           req.Amount,
		TotalFundsLocked: tvl,
		Timestamp:        time.Now().UTC(),
	})
	return nil
}

// SetRiskProfile overwrites the user's risk profile, lazily materializing the
// account. A funded user's allocation set is re-derived from the policy; a
// zero-balance profile change has no allocation side effect.
func (s *Service) SetRiskProfile(ctx context.Context, userID uuid.UUID, profile domain.RiskProfile) error {
	if _, err := domain.ParseRiskProfile(string(profile)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.GetLedgerState(ctx)
	if err != nil {
		return err
	}
	if state.Paused {
		return domain.ErrPaused
	}

	// Validate the new policy target first so a funded user's profile change
	// aborts cleanly, leaving both profile and allocations untouched.
	account, err := s.repo.FindUserAccount(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
		return err
	}
	var entries []domain.AllocationEntry
	if account != nil && account.TotalValue > 0 {
		entries, err = s.policyEntries(ctx, userID, profile)
		if err != nil {
			return err
		}
	}

	updated, err := s.repo.UpsertRiskProfile(ctx, userID, profile)
	if err != nil {
		return err
	}

	if updated.TotalValue > 0 && entries != nil {
		if err := s.repo.ReplaceAllocations(ctx, userID, entries); err != nil {
			return fmt.Errorf("failed to rewrite allocations: %w", err)
		}
		s.publishAllocation(ctx, userID, entries, "policy")
	}
	return nil
}

// Reallocate writes a caller-supplied allocation set, bypassing the policy.
// This is the only path letting a user choose an arbitrary active-strategy
// subset and split. Requires a positive deposited balance.
func (s *Service) Reallocate(ctx context.Context, userID uuid.UUID, req domain.ReallocateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.GetLedgerState(ctx)
	if err != nil {
		return err
	}
	if state.Paused {
		return domain.ErrPaused
	}
	if err := s.consumeWriteLimit(ctx, "reallocate", userID); err != nil {
		return err
	}

	account, err := s.repo.FindUserAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return domain.ErrInsufficientBalance
		}
		return err
	}
	if account.TotalValue <= 0 {
		return domain.ErrInsufficientBalance
	}

	entries, err := s.validateAllocationSet(ctx, userID, req.StrategyIDs, req.SharesBps)
	if err != nil {
		return err
	}
	if err := s.repo.ReplaceAllocations(ctx, userID, entries); err != nil {
		return fmt.Errorf("failed to rewrite allocations: %w", err)
	}
	s.publishAllocation(ctx, userID, entries, "manual")
	return nil
}

// policyEntries derives the policy split for a profile and validates it against
// the registry, so a missing or inactive default strategy fails with a typed error.
func (s *Service) policyEntries(ctx context.Context, userID uuid.UUID, profile domain.RiskProfile) ([]domain.AllocationEntry, error) {
	ids, shares := deriveAllocation(profile)
	return s.validateAllocationSet(ctx, userID, ids, shares)
}

// validateAllocationSet enforces the shared preconditions of every full
// allocation write: parallel slices, shares summing to exactly 10000 basis
// points, and every referenced strategy registered and active. It performs no
// writes; any violation aborts before the replacement happens.
func (s *Service) validateAllocationSet(ctx context.Context, userID uuid.UUID, strategyIDs []int64, sharesBps []int) ([]domain.AllocationEntry, error) {
	if len(strategyIDs) != len(sharesBps) || len(strategyIDs) == 0 {
		return nil, domain.ErrInvalidAllocation
	}

	sum := 0
	seen := make(map[int64]bool, len(strategyIDs))
	for i, id := range strategyIDs {
		if sharesBps[i] < 0 || seen[id] {
			return nil, domain.ErrInvalidAllocation
		}
		seen[id] = true
		sum += sharesBps[i]
	}
	// Exact integer equality, no tolerance band.
	if sum != domain.TotalShareBps {
		return nil, domain.ErrInvalidAllocation
	}

	strategies, err := s.repo.FindStrategiesByIDs(ctx, strategyIDs)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.AllocationEntry, 0, len(strategyIDs))
	for i, id := range strategyIDs {
		strategy, ok := strategies[id]
		if !ok {
			return nil, domain.ErrUnknownStrategy
		}
		if !strategy.Active {
			return nil, domain.ErrStrategyInactive
		}
		entries = append(entries, domain.AllocationEntry{
			UserID:     userID,
			StrategyID: id,
			ShareBps:   sharesBps[i],
		})
	}
	return entries, nil
}

func (s *Service) publishAllocation(ctx context.Context, userID uuid.UUID, entries []domain.AllocationEntry, source string) {
	ids := make([]int64, len(entries))
	shares := make([]int, len(entries))
	for i, entry := range entries {
		ids[i] = entry.StrategyID
		shares[i] = entry.ShareBps
	}
	s.publish(ctx, "ledger.allocation.updated", rabbitmq.AllocationEvent{
		UserID:      userID,
		StrategyIDs: ids,
		SharesBps:   shares,
		Source:      source,
		Timestamp:   time.Now().UTC(),
	})
}

// GetStrategy returns a strategy by id.
func (s *Service) GetStrategy(ctx context.Context, id int64) (*domain.Strategy, error) {
	return s.repo.FindStrategyByID(ctx, id)
}

// StrategyCount returns the number of strategies ever registered.
func (s *Service) StrategyCount(ctx context.Context) (int64, error) {
	return s.repo.StrategyCount(ctx)
}

// UserTotalValue returns the user's deposited value. A never-seen user reads as
// zero, indistinguishable from a drained account.
func (s *Service) UserTotalValue(ctx context.Context, userID uuid.UUID) (int64, error) {
	account, err := s.repo.FindUserAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.TotalValue, nil
}

// UserRiskProfile returns the user's risk profile, defaulting to moderate for a
// never-seen user.
func (s *Service) UserRiskProfile(ctx context.Context, userID uuid.UUID) (domain.RiskProfile, error) {
	account, err := s.repo.FindUserAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return domain.RiskModerate, nil
		}
		return "", err
	}
	return account.RiskProfile, nil
}

// UserAllocations returns the user's stored allocation entries.
func (s *Service) UserAllocations(ctx context.Context, userID uuid.UUID) ([]domain.AllocationEntry, error) {
	return s.repo.FindAllocationsByUser(ctx, userID)
}

// UserAllocation returns the basis-point share for one (user, strategy) pair,
// zero when no entry exists.
func (s *Service) UserAllocation(ctx context.Context, userID uuid.UUID, strategyID int64) (int, error) {
	return s.repo.FindAllocationShare(ctx, userID, strategyID)
}

// TotalFundsLocked returns the aggregate deposited value across all users.
func (s *Service) TotalFundsLocked(ctx context.Context) (int64, error) {
	state, err := s.repo.GetLedgerState(ctx)
	if err != nil {
		return 0, err
	}
	return state.TotalFundsLocked, nil
}

// IsPaused reports the global pause flag.
func (s *Service) IsPaused(ctx context.Context) (bool, error) {
	state, err := s.repo.GetLedgerState(ctx)
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}
