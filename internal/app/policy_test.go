package app

import (
	"testing"

	"github.com/stratvault/ledger-service/internal/domain"
)

func TestDeriveAllocation(t *testing.T) {
	tests := []struct {
		name    string
		profile domain.RiskProfile
		want    []int
	}{
		{
			name:    "conservative favors the primary strategy",
			profile: domain.RiskConservative,
			want:    []int{7000, 3000},
		},
		{
			name:    "moderate splits evenly",
			profile: domain.RiskModerate,
			want:    []int{5000, 5000},
		},
		{
			name:    "aggressive favors the secondary strategy",
			profile: domain.RiskAggressive,
			want:    []int{3000, 7000},
		},
		{
			name:    "unknown profile falls back to the moderate split",
			profile: domain.RiskProfile("daredevil"),
			want:    []int{5000, 5000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, shares := deriveAllocation(tt.profile)
			if len(ids) != 2 || ids[0] != policyPrimaryStrategyID || ids[1] != policySecondaryStrategyID {
				t.Fatalf("expected strategy ids [0 1], got %v", ids)
			}
			sum := 0
			for i, share := range shares {
				if share != tt.want[i] {
					t.Fatalf("expected shares %v, got %v", tt.want, shares)
				}
				sum += share
			}
			if sum != domain.TotalShareBps {
				t.Fatalf("expected shares to sum to %d, got %d", domain.TotalShareBps, sum)
			}
		})
	}
}
