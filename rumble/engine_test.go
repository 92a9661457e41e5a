package rumble

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeTransfer records calls and can be told to fail, standing in for the
// treasury service.
type fakeTransfer struct {
	payouts map[string]uint64
	burned  uint64

	failPayAfter int // fail the Nth payout call (0 = never)
	failBurn     bool
	calls        int
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{payouts: map[string]uint64{}}
}

func (f *fakeTransfer) PayWinner(_ context.Context, id string, amount uint64) error {
	f.calls++
	if f.failPayAfter > 0 && f.calls >= f.failPayAfter {
		return errors.New("treasury unavailable")
	}
	f.payouts[id] += amount
	return nil
}

func (f *fakeTransfer) Burn(_ context.Context, amount uint64) error {
	if f.failBurn {
		return errors.New("burner unavailable")
	}
	f.burned += amount
	return nil
}

func openTestRound(t *testing.T) *models.Round {
	t.Helper()
	r := NewRound("round-1", "Friday Night Rumble", "friday-night-rumble")
	require.NoError(t, OpenRound(r, testNow, testNow.Add(time.Hour)))
	return r
}

func TestOpenRoundOnlyFromIdle(t *testing.T) {
	r := NewRound("round-1", "Test", "test")
	require.NoError(t, OpenRound(r, testNow, testNow.Add(time.Hour)))
	assert.Equal(t, models.RoundStateOpen, r.State)

	err := OpenRound(r, testNow, testNow.Add(time.Hour))
	assert.ErrorIs(t, err, ErrRoundNotIdle)
}

func TestDepositCreatesAndAccumulates(t *testing.T) {
	r := openTestRound(t)

	event, err := Deposit(r, "alice", 1000, testNow)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, models.EventDepositMade, event.Kind)

	later := testNow.Add(10 * time.Minute)
	_, err = Deposit(r, "alice", 500, later)
	require.NoError(t, err)
	_, err = Deposit(r, "bob", 250, later)
	require.NoError(t, err)

	require.Len(t, r.Participants, 2)
	assert.Equal(t, uint64(1500), r.Participants[0].Deposit)
	assert.Equal(t, testNow, r.Participants[0].JoinedAt, "join time is fixed by the first deposit")
	assert.Equal(t, uint64(1750), r.TotalPool)
}

func TestDepositPoolConservation(t *testing.T) {
	r := openTestRound(t)

	amounts := []uint64{1000, 250, 13, 999, 1, 500}
	ids := []string{"a", "b", "a", "c", "b", "a"}
	var want uint64
	for i, amount := range amounts {
		_, err := Deposit(r, ids[i], amount, testNow.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		want += amount
	}

	var sum uint64
	for _, p := range r.Participants {
		sum += p.Deposit
	}
	assert.Equal(t, want, r.TotalPool)
	assert.Equal(t, sum, r.TotalPool, "pool must equal the sum of participant deposits")
}

func TestDepositGuards(t *testing.T) {
	idle := NewRound("round-1", "Test", "test")
	_, err := Deposit(idle, "alice", 100, testNow)
	assert.ErrorIs(t, err, ErrRoundNotOpen)

	r := openTestRound(t)
	_, err = Deposit(r, "alice", 0, testNow)
	assert.ErrorIs(t, err, ErrInvalidDeposit)
	assert.Empty(t, r.Participants)
	assert.Zero(t, r.TotalPool)
}

func TestDepositOverflowLeavesRoundUnchanged(t *testing.T) {
	r := openTestRound(t)
	_, err := Deposit(r, "alice", math.MaxUint64, testNow)
	require.NoError(t, err)

	_, err = Deposit(r, "bob", 1, testNow)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.Equal(t, uint64(math.MaxUint64), r.TotalPool)
	assert.Len(t, r.Participants, 1)
}

func TestApplyActivityScores(t *testing.T) {
	r := openTestRound(t)
	_, err := Deposit(r, "alice", 100, testNow)
	require.NoError(t, err)

	event, err := ApplyActivityScores(r, map[string]int64{
		"alice":    150,
		"stranger": 900, // not in the round — ignored, batch still succeeds
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, models.EventActivityEvaluated, event.Kind)
	assert.Equal(t, models.RoundStateEvaluating, r.State)
	assert.Equal(t, int64(150), r.Participants[0].ActivityScore)

	var payload struct {
		Applied int `json:"applied"`
	}
	require.NoError(t, json.Unmarshal([]byte(event.Payload), &payload))
	assert.Equal(t, 1, payload.Applied)

	// Overwrite, never accumulate: the same batch twice is idempotent.
	_, err = ApplyActivityScores(r, map[string]int64{"alice": 150}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(150), r.Participants[0].ActivityScore)

	// An empty batch is a no-op on scores but still transitions state.
	r2 := openTestRound(t)
	_, err = ApplyActivityScores(r2, map[string]int64{}, testNow)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStateEvaluating, r2.State)
}

func TestApplyActivityScoresGuards(t *testing.T) {
	idle := NewRound("round-1", "Test", "test")
	_, err := ApplyActivityScores(idle, map[string]int64{"alice": 1}, testNow)
	assert.ErrorIs(t, err, ErrRoundNotOpen)
}

func TestApplyHoldings(t *testing.T) {
	r := openTestRound(t)
	_, err := Deposit(r, "alice", 100, testNow)
	require.NoError(t, err)
	_, err = Deposit(r, "bob", 100, testNow)
	require.NoError(t, err)

	require.NoError(t, ApplyHoldings(r, map[string]uint64{
		"alice":    9000,
		"stranger": 1,
	}))
	assert.Equal(t, uint64(9000), r.Participants[0].Holdings)
	assert.Equal(t, uint64(0), r.Participants[1].Holdings)
	assert.Equal(t, models.RoundStateOpen, r.State, "holdings never transition state")
}

func settleScenarioRound(t *testing.T) *models.Round {
	t.Helper()
	r := openTestRound(t)
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := Deposit(r, id, 1000, testNow)
		require.NoError(t, err)
	}
	_, err := ApplyActivityScores(r, map[string]int64{"A": 150, "B": 200, "C": 100, "D": 180}, testNow)
	require.NoError(t, err)
	return r
}

func TestSettleScenarioArithmetic(t *testing.T) {
	r := settleScenarioRound(t)
	transfer := newFakeTransfer()

	event, err := Settle(context.Background(), r, transfer, testNow.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, models.RoundStateSettled, r.State)
	assert.Zero(t, r.TotalPool)
	assert.Equal(t, 1, r.WinnerCount, "ceil(4 * 0.10) = 1")
	assert.Equal(t, uint64(3600), r.PayoutPerWinner, "floor(4000*90/100) / 1")
	assert.Equal(t, uint64(400), r.BurnAmount, "floor(4000*10/100)")
	require.Len(t, r.Winners, 1)
	assert.Equal(t, uint64(3600), r.Winners[0].Payout)
	assert.Equal(t, 1, r.Winners[0].Rank)
	assert.NotEmpty(t, r.SettleSeed)

	assert.Equal(t, uint64(3600), transfer.payouts[r.Winners[0].ExternalUserID])
	assert.Equal(t, uint64(400), transfer.burned)

	assert.Equal(t, models.EventRoundSettled, event.Kind)
	var payload struct {
		Winners         []string `json:"winners"`
		PayoutPerWinner uint64   `json:"payout_per_winner"`
		BurnAmount      uint64   `json:"burn_amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(event.Payload), &payload))
	assert.Equal(t, []string{r.Winners[0].ExternalUserID}, payload.Winners)
	assert.Equal(t, uint64(3600), payload.PayoutPerWinner)
	assert.Equal(t, uint64(400), payload.BurnAmount)
}

func TestSettleDeterministic(t *testing.T) {
	first := settleScenarioRound(t)
	second := settleScenarioRound(t)

	_, err := Settle(context.Background(), first, newFakeTransfer(), testNow.Add(time.Hour))
	require.NoError(t, err)
	_, err = Settle(context.Background(), second, newFakeTransfer(), testNow.Add(time.Hour))
	require.NoError(t, err)

	require.Equal(t, len(first.Winners), len(second.Winners))
	for i := range first.Winners {
		assert.Equal(t, first.Winners[i].ExternalUserID, second.Winners[i].ExternalUserID)
		assert.Equal(t, first.Winners[i].CompositeScore, second.Winners[i].CompositeScore)
	}
	assert.Equal(t, first.SettleSeed, second.SettleSeed)
}

func TestSettleMinimumWinnerRule(t *testing.T) {
	for _, tt := range []struct {
		participants int
		winners      int
	}{
		{1, 1}, {9, 1}, {10, 1}, {11, 2},
	} {
		r := openTestRound(t)
		for i := 0; i < tt.participants; i++ {
			_, err := Deposit(r, "player-"+string(rune('a'+i)), 1000, testNow)
			require.NoError(t, err)
		}
		_, err := Settle(context.Background(), r, newFakeTransfer(), testNow.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, r.Winners, tt.winners, "participants=%d", tt.participants)
	}
}

func TestSettleGuards(t *testing.T) {
	empty := openTestRound(t)
	_, err := Settle(context.Background(), empty, newFakeTransfer(), testNow)
	assert.ErrorIs(t, err, ErrNoDeposits)

	r := settleScenarioRound(t)
	_, err = Settle(context.Background(), r, newFakeTransfer(), testNow.Add(time.Hour))
	require.NoError(t, err)
	_, err = Settle(context.Background(), r, newFakeTransfer(), testNow.Add(time.Hour))
	assert.ErrorIs(t, err, ErrRoundAlreadySettled)
}

func TestSettleWithHoldingsFoldsBalances(t *testing.T) {
	r := settleScenarioRound(t)
	_, err := SettleWithHoldings(context.Background(), r, map[string]uint64{"A": 9000}, newFakeTransfer(), testNow.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, models.RoundStateSettled, r.State)
	assert.Equal(t, uint64(9000), r.Participants[0].Holdings)
}

func TestSettleWithHoldingsOnSettledRound(t *testing.T) {
	// Participants survive settlement until reset, so the retry arrives with a
	// non-empty balance map; it must still report the settlement error kind.
	r := settleScenarioRound(t)
	_, err := SettleWithHoldings(context.Background(), r, map[string]uint64{"A": 9000}, newFakeTransfer(), testNow.Add(time.Hour))
	require.NoError(t, err)

	_, err = SettleWithHoldings(context.Background(), r, map[string]uint64{"A": 9000}, newFakeTransfer(), testNow.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrRoundAlreadySettled)
}

func TestSettleTransferFailureIsAtomic(t *testing.T) {
	r := settleScenarioRound(t)
	transfer := newFakeTransfer()
	transfer.failPayAfter = 1

	_, err := Settle(context.Background(), r, transfer, testNow.Add(time.Hour))
	require.ErrorIs(t, err, ErrWinnerTransferFailed)

	// Pre-settle state is fully intact so the caller may retry.
	assert.Equal(t, models.RoundStateEvaluating, r.State)
	assert.Equal(t, uint64(4000), r.TotalPool)
	assert.Empty(t, r.Winners)
	assert.Empty(t, r.SettleSeed)

	// A retry with a healthy transferer succeeds.
	_, err = Settle(context.Background(), r, newFakeTransfer(), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.RoundStateSettled, r.State)
}

func TestSettleBurnFailureIsAtomic(t *testing.T) {
	r := settleScenarioRound(t)
	transfer := newFakeTransfer()
	transfer.failBurn = true

	_, err := Settle(context.Background(), r, transfer, testNow.Add(time.Hour))
	require.ErrorIs(t, err, ErrWinnerTransferFailed)
	assert.Equal(t, uint64(4000), r.TotalPool)
	assert.Empty(t, r.Winners)
}

func TestResetReturnsRoundToIdle(t *testing.T) {
	r := settleScenarioRound(t)
	_, err := Settle(context.Background(), r, newFakeTransfer(), testNow.Add(time.Hour))
	require.NoError(t, err)

	event, err := Reset(r, testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.EventRoundReset, event.Kind)

	assert.Equal(t, models.RoundStateIdle, r.State)
	assert.Zero(t, r.TotalPool)
	assert.Empty(t, r.Participants)
	assert.Empty(t, r.Winners)
	assert.Empty(t, r.SettleSeed)
	assert.Nil(t, r.OpensAt)

	// The round is re-usable for the next cycle.
	require.NoError(t, OpenRound(r, testNow.Add(3*time.Hour), testNow.Add(4*time.Hour)))
	_, err = Deposit(r, "alice", 10, testNow.Add(3*time.Hour))
	require.NoError(t, err)
}

func TestResetGuards(t *testing.T) {
	r := openTestRound(t)
	_, err := Reset(r, testNow)
	assert.ErrorIs(t, err, ErrRoundNotSettled)

	idle := NewRound("round-1", "Test", "test")
	_, err = Reset(idle, testNow)
	assert.ErrorIs(t, err, ErrRoundNotSettled)
}
