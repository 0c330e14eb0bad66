/**
 * @description
 * This file contains the allocation policy: the pure function mapping a user's
 * risk profile to a target allocation split. The policy is deliberately a fixed
 * two-way split over the first two registered strategies and ignores live APY
 * and risk-score data; it does not optimize by strategy economics.
 */

package app

import "github.com/stratvault/ledger-service/internal/domain"

// The policy always targets the first two registered strategies.
const (
	policyPrimaryStrategyID   = 0
	policySecondaryStrategyID = 1
)

// deriveAllocation returns the target strategy ids and basis-point shares for a
// risk profile. The result always sums to domain.TotalShareBps.
func deriveAllocation(profile domain.RiskProfile) (strategyIDs []int64, sharesBps []int) {
	strategyIDs = []int64{policyPrimaryStrategyID, policySecondaryStrategyID}
	switch profile {
	case domain.RiskConservative:
		sharesBps = []int{7000, 3000}
	case domain.RiskAggressive:
		sharesBps = []int{3000, 7000}
	default:
		// Moderate, and the default for accounts that have never set a profile.
		sharesBps = []int{5000, 5000}
	}
	return strategyIDs, sharesBps
}
