package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stratvault/ledger-service/internal/domain"
	"github.com/stratvault/ledger-service/internal/store"
	"github.com/stratvault/ledger-service/pkg/assetclient"
	"github.com/stratvault/ledger-service/pkg/rabbitmq"
)

type ledgerRepoStub struct {
	store.Repository

	state      domain.LedgerState
	strategies map[int64]domain.Strategy
	account    *domain.UserAccount

	applyDepositCalled bool
	depositedAmount    int64
	depositEntries     []domain.AllocationEntry

	applyWithdrawalCalled bool
	applyWithdrawalErr    error
	withdrawnAmount       int64

	revertCalled   bool
	revertedAmount int64

	replaceCalled  bool
	replaceEntries []domain.AllocationEntry

	upsertCalled  bool
	upsertProfile domain.RiskProfile

	setPausedCalled bool
	setActiveCalled bool
	createCalled    bool
}

func (s *ledgerRepoStub) GetLedgerState(ctx context.Context) (*domain.LedgerState, error) {
	state := s.state
	return &state, nil
}

func (s *ledgerRepoStub) SetPaused(ctx context.Context, paused bool) error {
	s.setPausedCalled = true
	s.state.Paused = paused
	return nil
}

func (s *ledgerRepoStub) CreateStrategy(ctx context.Context, protocol string, apyBps int64, riskScore int) (int64, error) {
	s.createCalled = true
	id := s.state.NextStrategyID
	s.state.NextStrategyID++
	return id, nil
}

func (s *ledgerRepoStub) SetStrategyActive(ctx context.Context, id int64, active bool) error {
	s.setActiveCalled = true
	strategy, ok := s.strategies[id]
	if !ok {
		return domain.ErrUnknownStrategy
	}
	strategy.Active = active
	s.strategies[id] = strategy
	return nil
}

func (s *ledgerRepoStub) FindStrategiesByIDs(ctx context.Context, ids []int64) (map[int64]domain.Strategy, error) {
	found := make(map[int64]domain.Strategy, len(ids))
	for _, id := range ids {
		if strategy, ok := s.strategies[id]; ok {
			found[id] = strategy
		}
	}
	return found, nil
}

func (s *ledgerRepoStub) FindUserAccount(ctx context.Context, userID uuid.UUID) (*domain.UserAccount, error) {
	if s.account == nil {
		return nil, store.ErrAccountNotFound
	}
	account := *s.account
	return &account, nil
}

func (s *ledgerRepoStub) UpsertRiskProfile(ctx context.Context, userID uuid.UUID, profile domain.RiskProfile) (*domain.UserAccount, error) {
	s.upsertCalled = true
	s.upsertProfile = profile
	if s.account == nil {
		s.account = &domain.UserAccount{UserID: userID, RiskProfile: profile}
	} else {
		s.account.RiskProfile = profile
	}
	account := *s.account
	return &account, nil
}

func (s *ledgerRepoStub) ApplyDeposit(ctx context.Context, userID uuid.UUID, amount int64, profile domain.RiskProfile, entries []domain.AllocationEntry) error {
	s.applyDepositCalled = true
	s.depositedAmount = amount
	s.depositEntries = entries
	if s.account == nil {
		s.account = &domain.UserAccount{UserID: userID, RiskProfile: profile}
	}
	s.account.TotalValue += amount
	s.state.TotalFundsLocked += amount
	return nil
}

func (s *ledgerRepoStub) ApplyWithdrawal(ctx context.Context, userID uuid.UUID, amount int64) error {
	s.applyWithdrawalCalled = true
	if s.applyWithdrawalErr != nil {
		return s.applyWithdrawalErr
	}
	s.withdrawnAmount = amount
	s.account.TotalValue -= amount
	s.state.TotalFundsLocked -= amount
	return nil
}

func (s *ledgerRepoStub) RevertWithdrawal(ctx context.Context, userID uuid.UUID, amount int64) error {
	s.revertCalled = true
	s.revertedAmount = amount
	s.account.TotalValue += amount
	s.state.TotalFundsLocked += amount
	return nil
}

func (s *ledgerRepoStub) ReplaceAllocations(ctx context.Context, userID uuid.UUID, entries []domain.AllocationEntry) error {
	s.replaceCalled = true
	s.replaceEntries = entries
	return nil
}

func twoStrategyRepo() *ledgerRepoStub {
	return &ledgerRepoStub{
		state: domain.LedgerState{NextStrategyID: 2, AssetContract: "USDV"},
		strategies: map[int64]domain.Strategy{
			0: {ID: 0, Protocol: "aave-v3", Active: true},
			1: {ID: 1, Protocol: "compound-v3", Active: true},
		},
	}
}

// custodyFake is an in-memory stand-in for the asset-custody API.
type custodyFake struct {
	failTransfers bool
	failDirection string // when set, only this direction fails

	transferIns  int
	transferOuts int
	lastOut      assetclient.TransferRequest
	balance      int64
}

func (f *custodyFake) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		var req assetclient.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if f.failTransfers && (f.failDirection == "" || f.failDirection == req.Direction) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errors": []map[string]string{{"title": "Transfer rejected", "detail": "simulated failure"}},
			})
			return
		}
		switch req.Direction {
		case "in":
			f.transferIns++
		case "out":
			f.transferOuts++
			f.lastOut = req
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"id": "tr_test", "status": "completed"},
		})
	})
	mux.HandleFunc("/api/v1/balances/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]int64{"balance": f.balance},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, repo *ledgerRepoStub, fake *custodyFake) *Service {
	t.Helper()
	srv := fake.server(t)
	assets := assetclient.NewClient(srv.URL, "test-key", "USDV")
	return NewService(repo, assets, &rabbitmq.EventProducerFallback{}, "admin-1", "custody-main")
}

func TestDeposit_AppliesPolicyAllocationForNewUser(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)
	userID := uuid.New()

	err := svc.Deposit(context.Background(), userID, domain.DepositRequest{Asset: "USDV", Amount: 1_000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.transferIns != 1 {
		t.Fatalf("expected 1 transfer-in, got %d", fake.transferIns)
	}
	if !repo.applyDepositCalled || repo.depositedAmount != 1_000 {
		t.Fatalf("expected deposit of 1000 applied, got called=%t amount=%d", repo.applyDepositCalled, repo.depositedAmount)
	}
	if len(repo.depositEntries) != 2 {
		t.Fatalf("expected 2 policy entries, got %d", len(repo.depositEntries))
	}
	sum := 0
	for _, entry := range repo.depositEntries {
		sum += entry.ShareBps
		if entry.ShareBps != 5000 {
			t.Fatalf("expected moderate 5000/5000 split for new user, got %d on strategy %d", entry.ShareBps, entry.StrategyID)
		}
	}
	if sum != domain.TotalShareBps {
		t.Fatalf("expected shares to sum to %d, got %d", domain.TotalShareBps, sum)
	}
}

func TestDeposit_UsesStoredRiskProfile(t *testing.T) {
	repo := twoStrategyRepo()
	userID := uuid.New()
	repo.account = &domain.UserAccount{UserID: userID, RiskProfile: domain.RiskAggressive, TotalValue: 500}
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	if err := svc.Deposit(context.Background(), userID, domain.DepositRequest{Asset: "USDV", Amount: 200}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[int64]int{0: 3000, 1: 7000}
	for _, entry := range repo.depositEntries {
		if want[entry.StrategyID] != entry.ShareBps {
			t.Fatalf("expected aggressive split %v, got %d bps on strategy %d", want, entry.ShareBps, entry.StrategyID)
		}
	}
}

func TestDeposit_RejectsWrongAsset(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	err := svc.Deposit(context.Background(), uuid.New(), domain.DepositRequest{Asset: "WETH", Amount: 100})
	if !errors.Is(err, domain.ErrInvalidProtocol) {
		t.Fatalf("expected ErrInvalidProtocol, got %v", err)
	}
	if fake.transferIns != 0 || repo.applyDepositCalled {
		t.Fatal("expected no transfer and no ledger write for wrong asset")
	}
}

func TestDeposit_RejectsNonPositiveAmount(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	for _, amount := range []int64{0, -5} {
		err := svc.Deposit(context.Background(), uuid.New(), domain.DepositRequest{Asset: "USDV", Amount: amount})
		if !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if fake.transferIns != 0 {
		t.Fatal("expected no transfers for invalid amounts")
	}
}

func TestDeposit_RejectsWhenPaused(t *testing.T) {
	repo := twoStrategyRepo()
	repo.state.Paused = true
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	err := svc.Deposit(context.Background(), uuid.New(), domain.DepositRequest{Asset: "USDV", Amount: 100})
	if !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if fake.transferIns != 0 || repo.applyDepositCalled {
		t.Fatal("expected no side effects while paused")
	}
}

func TestDeposit_FailsTypedWhenPolicyStrategyInactive(t *testing.T) {
	repo := twoStrategyRepo()
	inactive := repo.strategies[1]
	inactive.Active = false
	repo.strategies[1] = inactive
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	err := svc.Deposit(context.Background(), uuid.New(), domain.DepositRequest{Asset: "USDV", Amount: 100})
	if !errors.Is(err, domain.ErrStrategyInactive) {
		t.Fatalf("expected ErrStrategyInactive, got %v", err)
	}
	if fake.transferIns != 0 {
		t.Fatal("expected no custody transfer when the policy target is invalid")
	}
}

func TestDeposit_FailsTypedWhenPolicyStrategyMissing(t *testing.T) {
	repo := twoStrategyRepo()
	delete(repo.strategies, 1)
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	err := svc.Deposit(context.Background(), uuid.New(), domain.DepositRequest{Asset: "USDV", Amount: 100})
	if !errors.Is(err, domain.ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
	if fake.transferIns != 0 {
		t.Fatal("expected no custody transfer when the policy target is missing")
	}
}

type failingDepositRepo struct {
	*ledgerRepoStub
}

func (s *failingDepositRepo) ApplyDeposit(ctx context.Context, userID uuid.UUID, amount int64, profile domain.RiskProfile, entries []domain.AllocationEntry) error {
	return errors.New("connection reset")
}

func TestDeposit_RefundsWhenLedgerWriteFails(t *testing.T) {
	repo := &failingDepositRepo{ledgerRepoStub: twoStrategyRepo()}
	fake := &custodyFake{}
	srv := fake.server(t)
	assets := assetclient.NewClient(srv.URL, "test-key", "USDV")
	svc := NewService(repo, assets, &rabbitmq.EventProducerFallback{}, "admin-1", "custody-main")
	userID := uuid.New()

	err := svc.Deposit(context.Background(), userID, domain.DepositRequest{Asset: "USDV", Amount: 750})
	if err == nil {
		t.Fatal("expected error when ledger write fails")
	}
	if fake.transferIns != 1 {
		t.Fatalf("expected the transfer-in to have happened, got %d", fake.transferIns)
	}
	if fake.transferOuts != 1 {
		t.Fatalf("expected a compensating refund transfer-out, got %d", fake.transferOuts)
	}
	if fake.lastOut.Holder != userID.String() || fake.lastOut.Amount != 750 {
		t.Fatalf("expected refund of 750 to %s, got %+v", userID, fake.lastOut)
	}
}

func TestWithdraw_DebitsAndTransfersOut(t *testing.T) {
	repo := twoStrategyRepo()
	userID := uuid.New()
	repo.account = &domain.UserAccount{UserID: userID, RiskProfile: domain.RiskModerate, TotalValue: 1_000}
	repo.state.TotalFundsLocked = 1_000
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	if err := svc.Withdraw(context.Background(), userID, domain.WithdrawRequest{Asset: "USDV", Amount: 400}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.withdrawnAmount != 400 {
		t.Fatalf("expected debit of 400, got %d", repo.withdrawnAmount)
	}
	if fake.transferOuts != 1 || fake.lastOut.Amount != 400 {
		t.Fatalf("expected one transfer-out of 400, got %d transfers, last %+v", fake.transferOuts, fake.lastOut)
	}
	if repo.replaceCalled {
		t.Fatal("withdrawal must not touch the allocation table")
	}
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	repo := twoStrategyRepo()
	repo.applyWithdrawalErr = domain.ErrInsufficientBalance
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	err := svc.Withdraw(context.Background(), uuid.New(), domain.WithdrawRequest{Asset: "USDV", Amount: 400})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if fake.transferOuts != 0 {
		t.Fatal("expected no custody transfer when the debit is rejected")
	}
}

func TestWithdraw_RestoresBalanceWhenTransferFails(t *testing.T) {
	repo := twoStrategyRepo()
	userID := uuid.New()
	repo.account = &domain.UserAccount{UserID: userID, RiskProfile: domain.RiskModerate, TotalValue: 1_000}
	repo.state.TotalFundsLocked = 1_000
	fake := &custodyFake{failTransfers: true, failDirection: "out"}
	svc := newTestService(t, repo, fake)

	err := svc.Withdraw(context.Background(), userID, domain.WithdrawRequest{Asset: "USDV", Amount: 300})
	if err == nil {
		t.Fatal("expected error when transfer-out fails")
	}
	if !repo.revertCalled || repo.revertedAmount != 300 {
		t.Fatalf("expected revert of 300, got called=%t amount=%d", repo.revertCalled, repo.revertedAmount)
	}
	if repo.account.TotalValue != 1_000 || repo.state.TotalFundsLocked != 1_000 {
		t.Fatalf("expected balances restored, got account=%d tvl=%d", repo.account.TotalValue, repo.state.TotalFundsLocked)
	}
}

func TestReallocate_WritesFullReplacement(t *testing.T) {
	repo := twoStrategyRepo()
	userID := uuid.New()
	repo.account = &domain.UserAccount{UserID: userID, RiskProfile: domain.RiskModerate, TotalValue: 900}
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	err := svc.Reallocate(context.Background(), userID, domain.ReallocateRequest{
		StrategyIDs: []int64{0, 1},
		SharesBps:   []int{2500, 7500},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.replaceCalled || len(repo.replaceEntries) != 2 {
		t.Fatalf("expected full replacement with 2 entries, got called=%t entries=%d", repo.replaceCalled, len(repo.replaceEntries))
	}
}

func TestReallocate_RejectsInvalidSets(t *testing.T) {
	repo := twoStrategyRepo()
	userID := uuid.New()
	repo.account = &domain.UserAccount{UserID: userID, RiskProfile: domain.RiskModerate, TotalValue: 900}
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	tests := []struct {
		name   string
		ids    []int64
		shares []int
	}{
		{name: "sum below 10000", ids: []int64{0, 1}, shares: []int{4000, 5000}},
		{name: "sum above 10000", ids: []int64{0, 1}, shares: []int{6000, 5000}},
		{name: "negative share", ids: []int64{0, 1}, shares: []int{-1000, 11000}},
		{name: "duplicate strategy", ids: []int64{0, 0}, shares: []int{5000, 5000}},
		{name: "length mismatch", ids: []int64{0, 1}, shares: []int{10000}},
		{name: "empty set", ids: []int64{}, shares: []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Reallocate(context.Background(), userID, domain.ReallocateRequest{StrategyIDs: tt.ids, SharesBps: tt.shares})
			if !errors.Is(err, domain.ErrInvalidAllocation) {
				t.Fatalf("expected ErrInvalidAllocation, got %v", err)
			}
			if repo.replaceCalled {
				t.Fatal("expected prior allocation set to remain untouched")
			}
		})
	}
}

func TestReallocate_RejectsUnknownAndInactiveStrategies(t *testing.T) {
	repo := twoStrategyRepo()
	userID := uuid.New()
	repo.account = &domain.UserAccount{UserID: userID, RiskProfile: domain.RiskModerate, TotalValue: 900}
	inactive := repo.strategies[1]
	inactive.Active = false
	repo.strategies[1] = inactive
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	err := svc.Reallocate(context.Background(), userID, domain.ReallocateRequest{StrategyIDs: []int64{0, 7}, SharesBps: []int{5000, 5000}})
	if !errors.Is(err, domain.ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}

	err = svc.Reallocate(context.Background(), userID, domain.ReallocateRequest{StrategyIDs: []int64{0, 1}, SharesBps: []int{5000, 5000}})
	if !errors.Is(err, domain.ErrStrategyInactive) {
		t.Fatalf("expected ErrStrategyInactive, got %v", err)
	}
	if repo.replaceCalled {
		t.Fatal("expected no allocation write for rejected sets")
	}
}

func TestReallocate_RequiresFundedAccount(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	err := svc.Reallocate(context.Background(), uuid.New(), domain.ReallocateRequest{StrategyIDs: []int64{0, 1}, SharesBps: []int{5000, 5000}})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance for never-seen user, got %v", err)
	}

	userID := uuid.New()
	repo.account = &domain.UserAccount{UserID: userID, RiskProfile: domain.RiskModerate, TotalValue: 0}
	err = svc.Reallocate(context.Background(), userID, domain.ReallocateRequest{StrategyIDs: []int64{0, 1}, SharesBps: []int{5000, 5000}})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance for drained account, got %v", err)
	}
}

func TestSetRiskProfile_ZeroBalanceSkipsAllocationWrite(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	if err := svc.SetRiskProfile(context.Background(), uuid.New(), domain.RiskConservative); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.upsertCalled || repo.upsertProfile != domain.RiskConservative {
		t.Fatalf("expected profile upsert to conservative, got called=%t profile=%s", repo.upsertCalled, repo.upsertProfile)
	}
	if repo.replaceCalled {
		t.Fatal("expected no allocation write for a zero-balance profile change")
	}
}

func TestSetRiskProfile_FundedAccountRewritesFromPolicy(t *testing.T) {
	repo := twoStrategyRepo()
	userID := uuid.New()
	repo.account = &domain.UserAccount{UserID: userID, RiskProfile: domain.RiskModerate, TotalValue: 2_000}
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	if err := svc.SetRiskProfile(context.Background(), userID, domain.RiskConservative); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.replaceCalled {
		t.Fatal("expected allocation rewrite for a funded profile change")
	}
	want := map[int64]int{0: 7000, 1: 3000}
	for _, entry := range repo.replaceEntries {
		if want[entry.StrategyID] != entry.ShareBps {
			t.Fatalf("expected conservative split %v, got %d bps on strategy %d", want, entry.ShareBps, entry.StrategyID)
		}
	}
}

func TestSetRiskProfile_FundedAbortWhenPolicyTargetInvalid(t *testing.T) {
	repo := twoStrategyRepo()
	userID := uuid.New()
	repo.account = &domain.UserAccount{UserID: userID, RiskProfile: domain.RiskModerate, TotalValue: 2_000}
	delete(repo.strategies, 1)
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	err := svc.SetRiskProfile(context.Background(), userID, domain.RiskAggressive)
	if !errors.Is(err, domain.ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
	if repo.upsertCalled || repo.replaceCalled {
		t.Fatal("expected profile and allocations untouched on aborted change")
	}
}

func TestAdminGuard_RejectsNonAdminWithoutStateChange(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	if _, err := svc.AddStrategy(context.Background(), "user-2", domain.AddStrategyRequest{Protocol: "aave-v3"}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.SetPaused(context.Background(), "user-2", true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.SetStrategyActive(context.Background(), "user-2", 0, false); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if repo.createCalled || repo.setPausedCalled || repo.setActiveCalled {
		t.Fatal("expected no state change from rejected admin calls")
	}
}

func TestAdminGuard_RejectsEveryoneWhenUnconfigured(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	srv := fake.server(t)
	assets := assetclient.NewClient(srv.URL, "test-key", "USDV")
	svc := NewService(repo, assets, &rabbitmq.EventProducerFallback{}, "", "custody-main")

	if err := svc.SetPaused(context.Background(), "", true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized with empty admin config, got %v", err)
	}
}

func TestAddStrategy_Validations(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	if _, err := svc.AddStrategy(context.Background(), "admin-1", domain.AddStrategyRequest{Protocol: ""}); !errors.Is(err, domain.ErrInvalidProtocol) {
		t.Fatalf("expected ErrInvalidProtocol, got %v", err)
	}
	if _, err := svc.AddStrategy(context.Background(), "admin-1", domain.AddStrategyRequest{Protocol: "aave-v3", RiskScore: 101}); !errors.Is(err, domain.ErrInvalidRiskScore) {
		t.Fatalf("expected ErrInvalidRiskScore, got %v", err)
	}

	id, err := svc.AddStrategy(context.Background(), "admin-1", domain.AddStrategyRequest{Protocol: "aave-v3", APYBps: 420, RiskScore: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected sequential id 2, got %d", id)
	}
}

func TestSetStrategyActive_Idempotent(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)

	if err := svc.SetStrategyActive(context.Background(), "admin-1", 0, true); err != nil {
		t.Fatalf("unexpected error activating an active strategy: %v", err)
	}
	if err := svc.SetStrategyActive(context.Background(), "admin-1", 0, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SetStrategyActive(context.Background(), "admin-1", 0, false); err != nil {
		t.Fatalf("unexpected error deactivating an inactive strategy: %v", err)
	}
}

func TestRecoverTokens_SweepsCustodyBalance(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{balance: 5_000}
	svc := newTestService(t, repo, fake)

	amount, err := svc.RecoverTokens(context.Background(), "admin-1", "treasury-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 5_000 {
		t.Fatalf("expected swept amount 5000, got %d", amount)
	}
	if fake.transferOuts != 1 || fake.lastOut.Holder != "treasury-9" {
		t.Fatalf("expected one sweep to treasury-9, got %d transfers, last %+v", fake.transferOuts, fake.lastOut)
	}
}

type fixedRateLimiter struct {
	count int
	err   error
}

func (l *fixedRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, 0, l.err
}

func TestWriteRateLimit_RejectsOverLimit(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)
	svc.SetWriteRateLimiter(&fixedRateLimiter{count: 11}, 10)

	err := svc.Deposit(context.Background(), uuid.New(), domain.DepositRequest{Asset: "USDV", Amount: 100})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if fake.transferIns != 0 {
		t.Fatal("expected no custody transfer for a rate-limited deposit")
	}
}

func TestWriteRateLimit_FailsOpenOnLimiterError(t *testing.T) {
	repo := twoStrategyRepo()
	fake := &custodyFake{}
	svc := newTestService(t, repo, fake)
	svc.SetWriteRateLimiter(&fixedRateLimiter{err: errors.New("redis down")}, 10)

	if err := svc.Deposit(context.Background(), uuid.New(), domain.DepositRequest{Asset: "USDV", Amount: 100}); err != nil {
		t.Fatalf("expected limiter failure to be ignored, got %v", err)
	}
	if fake.transferIns != 1 {
		t.Fatalf("expected the deposit to proceed, got %d transfers", fake.transferIns)
	}
}
