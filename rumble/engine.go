// rumble/engine.go — round lifecycle state machine.
//
// The engine works on an explicit *models.Round snapshot and never reaches
// for ambient state: the service layer loads the round, calls one operation,
// and writes the round back. Only code in this file transitions Round.State,
// which is what keeps the guard table honest.
package rumble

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/models"
)

// Transferer executes value movement during settlement: one call per winner
// plus one burn. A failure aborts the whole settle attempt, so implementations
// must be safe to retry after the caller fixes the cause.
type Transferer interface {
	PayWinner(ctx context.Context, externalUserID string, amount uint64) error
	Burn(ctx context.Context, amount uint64) error
}

// NewRound returns a fresh Idle round with empty collections.
func NewRound(id, name, slug string) *models.Round {
	return &models.Round{
		ID:    id,
		Name:  name,
		Slug:  slug,
		State: models.RoundStateIdle,
	}
}

// OpenRound transitions Idle → Open and fixes the deposit window. The open
// timestamp also anchors the speed sub-score and the settlement seed.
func OpenRound(r *models.Round, opensAt, closesAt time.Time) error {
	if r.State != models.RoundStateIdle {
		return ErrRoundNotIdle
	}
	r.State = models.RoundStateOpen
	r.OpensAt = &opensAt
	r.ClosesAt = &closesAt
	return nil
}

// Deposit records a stake for externalUserID. First deposit by an identity
// creates its participant record with JoinedAt = now; later deposits
// accumulate. The pool and the participant's deposit move in lockstep through
// checked addition, so a failed add leaves both untouched.
func Deposit(r *models.Round, externalUserID string, amount uint64, now time.Time) (*models.RoundEvent, error) {
	if r.State != models.RoundStateOpen {
		return nil, ErrRoundNotOpen
	}
	if amount == 0 {
		return nil, ErrInvalidDeposit
	}

	newPool, err := CheckedAdd(r.TotalPool, amount)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range r.Participants {
		if r.Participants[i].ExternalUserID == externalUserID {
			idx = i
			break
		}
	}

	if idx >= 0 {
		newDeposit, err := CheckedAdd(r.Participants[idx].Deposit, amount)
		if err != nil {
			return nil, err
		}
		r.Participants[idx].Deposit = newDeposit
	} else {
		r.Participants = append(r.Participants, models.RoundParticipant{
			ID:             uuid.NewString(),
			RoundID:        r.ID,
			ExternalUserID: externalUserID,
			Deposit:        amount,
			JoinedAt:       now,
		})
	}
	r.TotalPool = newPool

	return newEvent(r.ID, models.EventDepositMade, map[string]interface{}{
		"external_user_id": externalUserID,
		"amount":           amount,
		"total_pool":       r.TotalPool,
		"timestamp":        now.UTC(),
	}), nil
}

// ApplyActivityScores overwrites the externally computed activity signal for
// every id present in the round; unknown ids are skipped silently so a late
// or duplicate batch from the model service never fails the whole call.
// Scores are overwritten, never accumulated — feeding the same batch twice is
// idempotent. The round moves to Evaluating even when the batch is empty.
func ApplyActivityScores(r *models.Round, scores map[string]int64, now time.Time) (*models.RoundEvent, error) {
	if r.State != models.RoundStateOpen && r.State != models.RoundStateEvaluating {
		return nil, ErrRoundNotOpen
	}

	applied := 0
	for i := range r.Participants {
		if score, ok := scores[r.Participants[i].ExternalUserID]; ok {
			if score < 0 {
				score = 0
			}
			r.Participants[i].ActivityScore = score
			applied++
		}
	}
	r.State = models.RoundStateEvaluating

	return newEvent(r.ID, models.EventActivityEvaluated, map[string]interface{}{
		"round_id":  r.ID,
		"applied":   applied,
		"timestamp": now.UTC(),
	}), nil
}

// ApplyHoldings folds mirrored token balances into the participant set with
// the same overwrite/skip-unknown semantics as activity scores. It does not
// transition state and emits no event; holdings only matter at settlement.
func ApplyHoldings(r *models.Round, balances map[string]uint64) error {
	if r.State != models.RoundStateOpen && r.State != models.RoundStateEvaluating {
		return ErrRoundNotOpen
	}
	for i := range r.Participants {
		if balance, ok := balances[r.Participants[i].ExternalUserID]; ok {
			r.Participants[i].Holdings = balance
		}
	}
	return nil
}

// SettleWithHoldings folds mirrored balances into the participant set and then
// settles. The settled guard runs before the fold: retrying an already settled
// round must report ErrRoundAlreadySettled, not the holdings state guard.
func SettleWithHoldings(ctx context.Context, r *models.Round, balances map[string]uint64, transfer Transferer, now time.Time) (*models.RoundEvent, error) {
	if r.State == models.RoundStateSettled {
		return nil, ErrRoundAlreadySettled
	}
	if len(balances) > 0 {
		if err := ApplyHoldings(r, balances); err != nil {
			return nil, err
		}
	}
	return Settle(ctx, r, transfer, now)
}

// Settle ranks every participant by composite score, pays the top decile from
// 90% of the pool, burns the remaining 10% plus any truncation residual, and
// moves the round to Settled.
//
// The whole attempt is atomic: scores, split arithmetic, and winner records
// are computed on the side, transfers run against the computed amounts, and
// the round is mutated only after every transfer succeeded. Any failure —
// arithmetic or a Transferer error — returns with the round exactly as it was.
func Settle(ctx context.Context, r *models.Round, transfer Transferer, now time.Time) (*models.RoundEvent, error) {
	if r.State == models.RoundStateSettled {
		return nil, ErrRoundAlreadySettled
	}
	if r.TotalPool == 0 {
		return nil, ErrNoDeposits
	}

	seed := SettlementSeed(r)
	scores := CompositeScores(r, RandomFactors(r, seed))

	winnerCount := WinnerCount(len(scores))
	payoutPool, burn, err := PayoutSplit(r.TotalPool)
	if err != nil {
		return nil, err
	}
	perWinner, err := CheckedDiv(payoutPool, uint64(winnerCount))
	if err != nil {
		return nil, err
	}

	winners := make([]models.RoundWinner, 0, winnerCount)
	for rank, s := range scores[:winnerCount] {
		winners = append(winners, models.RoundWinner{
			ID:             uuid.NewString(),
			RoundID:        r.ID,
			ExternalUserID: s.ExternalUserID,
			Rank:           rank + 1,
			Payout:         perWinner,
			CompositeScore: s.Composite,
		})
	}

	// Value transfer runs after the arithmetic is final but before any state
	// is committed; a failed transfer aborts the entire attempt.
	for _, w := range winners {
		if err := transfer.PayWinner(ctx, w.ExternalUserID, w.Payout); err != nil {
			return nil, wrapTransferErr(err)
		}
	}
	if err := transfer.Burn(ctx, burn); err != nil {
		return nil, wrapTransferErr(err)
	}

	settledAt := now
	r.Winners = winners
	r.TotalPool = 0
	r.State = models.RoundStateSettled
	r.SettleSeed = seed
	r.WinnerCount = winnerCount
	r.PayoutPerWinner = perWinner
	r.BurnAmount = burn
	r.SettledAt = &settledAt

	winnerIDs := make([]string, 0, len(winners))
	for _, w := range winners {
		winnerIDs = append(winnerIDs, w.ExternalUserID)
	}

	return newEvent(r.ID, models.EventRoundSettled, map[string]interface{}{
		"round_id":          r.ID,
		"winners":           winnerIDs,
		"payout_per_winner": perWinner,
		"burn_amount":       burn,
		"settle_seed":       seed,
		"timestamp":         now.UTC(),
	}), nil
}

// Reset clears participants, winners, and the audit fields and returns the
// round to Idle for re-use. It is the only operation permitted from Settled.
func Reset(r *models.Round, now time.Time) (*models.RoundEvent, error) {
	if r.State != models.RoundStateSettled {
		return nil, ErrRoundNotSettled
	}

	r.State = models.RoundStateIdle
	r.TotalPool = 0
	r.Participants = nil
	r.Winners = nil
	r.OpensAt = nil
	r.ClosesAt = nil
	r.SettleSeed = ""
	r.WinnerCount = 0
	r.PayoutPerWinner = 0
	r.BurnAmount = 0
	r.SettledAt = nil

	return newEvent(r.ID, models.EventRoundReset, map[string]interface{}{
		"round_id":  r.ID,
		"timestamp": now.UTC(),
	}), nil
}

func wrapTransferErr(err error) error {
	return &transferError{cause: err}
}

// transferError carries the collaborator failure while still matching
// ErrWinnerTransferFailed in errors.Is.
type transferError struct {
	cause error
}

func (e *transferError) Error() string {
	return ErrWinnerTransferFailed.Error() + ": " + e.cause.Error()
}

func (e *transferError) Is(target error) bool { return target == ErrWinnerTransferFailed }

func (e *transferError) Unwrap() error { return e.cause }

func newEvent(roundID, kind string, payload map[string]interface{}) *models.RoundEvent {
	data, _ := json.Marshal(payload)
	return &models.RoundEvent{
		ID:      uuid.NewString(),
		RoundID: roundID,
		Kind:    kind,
		Payload: string(data),
	}
}
