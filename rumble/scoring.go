package rumble

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/bits"
	"sort"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/models"
)

// Sub-scores live on a common fixed-point scale so settlement never touches
// floating point. Weights are versioned policy constants, not per-round
// parameters; changing them changes payout outcomes across the whole system.
const (
	ScoreScale uint64 = 1_000_000

	weightHoldings uint64 = 40
	weightActivity uint64 = 30
	weightSpeed    uint64 = 20
	weightRandom   uint64 = 10

	// MaxActivityScore is the cap of the external model's output range.
	// Scores above it are clamped rather than rejected.
	MaxActivityScore int64 = 10_000
)

// ParticipantScore is one ranked entry of a settlement computation.
type ParticipantScore struct {
	ExternalUserID string
	Composite      uint64
	Holdings       uint64
	Activity       uint64
	Speed          uint64
	Random         uint64
}

// mulDiv computes a*b/c without overflowing, via a 128-bit intermediate.
// Callers guarantee a <= c, which bounds the quotient by b.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, c)
	return q
}

// SettlementSeed derives the random-factor seed for one settlement. It mixes
// identity the caller cannot steer after deposits exist (round id, the open
// timestamp fixed at OpenRound, the pool at settlement time), so recomputing
// scores mid-settlement cannot change results and participants cannot grind
// their own factor. The seed is recorded on the round for after-the-fact audit.
func SettlementSeed(r *models.Round) string {
	var opensAt int64
	if r.OpensAt != nil {
		opensAt = r.OpensAt.UnixNano()
	}
	h := sha256.New()
	h.Write([]byte(r.ID))
	binary.Write(h, binary.BigEndian, opensAt)
	binary.Write(h, binary.BigEndian, r.TotalPool)
	return hex.EncodeToString(h.Sum(nil))
}

// RandomFactors expands a settlement seed into one stable factor per
// participant on the common scale.
func RandomFactors(r *models.Round, seed string) map[string]uint64 {
	factors := make(map[string]uint64, len(r.Participants))
	for _, p := range r.Participants {
		sum := sha256.Sum256([]byte(seed + ":" + p.ExternalUserID))
		factors[p.ExternalUserID] = binary.BigEndian.Uint64(sum[:8]) % (ScoreScale + 1)
	}
	return factors
}

// CompositeScores computes the ranked scoreboard for a round:
//
//	composite = 0.40*holdings + 0.30*activity + 0.20*speed + 0.10*random
//
// Holdings are normalized against the maximum holdings in the current
// participant set (relative, recomputed every settlement). Activity is scaled
// against the model cap. Speed is linear in the deposit window: a join at
// open scores the ceiling, a join at close scores zero. Entries come back
// sorted descending by composite with ascending id as the tie-break, which
// gives a total order and reproducible output for equal scores.
func CompositeScores(r *models.Round, random map[string]uint64) []ParticipantScore {
	var maxHoldings uint64
	for _, p := range r.Participants {
		if p.Holdings > maxHoldings {
			maxHoldings = p.Holdings
		}
	}

	var window, opens int64
	if r.OpensAt != nil && r.ClosesAt != nil {
		opens = r.OpensAt.UnixNano()
		window = r.ClosesAt.UnixNano() - opens
	}

	scores := make([]ParticipantScore, 0, len(r.Participants))
	for _, p := range r.Participants {
		s := ParticipantScore{ExternalUserID: p.ExternalUserID}

		if maxHoldings > 0 {
			s.Holdings = mulDiv(p.Holdings, ScoreScale, maxHoldings)
		}

		activity := p.ActivityScore
		if activity < 0 {
			activity = 0
		}
		if activity > MaxActivityScore {
			activity = MaxActivityScore
		}
		s.Activity = mulDiv(uint64(activity), ScoreScale, uint64(MaxActivityScore))

		s.Speed = speedScore(p.JoinedAt.UnixNano(), opens, window)
		s.Random = random[p.ExternalUserID]

		s.Composite = (weightHoldings*s.Holdings +
			weightActivity*s.Activity +
			weightSpeed*s.Speed +
			weightRandom*s.Random) / 100

		scores = append(scores, s)
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Composite != scores[j].Composite {
			return scores[i].Composite > scores[j].Composite
		}
		return scores[i].ExternalUserID < scores[j].ExternalUserID
	})

	return scores
}

// speedScore is deterministic given the join time and the round window; no
// wall-clock reads happen here.
func speedScore(joined, opens, window int64) uint64 {
	if window <= 0 {
		// Degenerate or missing window: everyone joined "at open".
		return ScoreScale
	}
	elapsed := joined - opens
	if elapsed <= 0 {
		return ScoreScale
	}
	if elapsed >= window {
		return 0
	}
	return mulDiv(uint64(window-elapsed), ScoreScale, uint64(window))
}

// WinnerCount selects the top decile, with a floor of one winner whenever the
// round has participants at all.
func WinnerCount(participants int) int {
	if participants <= 0 {
		return 0
	}
	n := (participants + 9) / 10 // ceil(participants * 0.10)
	if n < 1 {
		n = 1
	}
	return n
}

// PayoutSplit computes the 90/10 payout/burn split. The two floors need not
// sum to the pool; the truncation residual is folded into the burn so no
// value is silently lost.
func PayoutSplit(pool uint64) (payoutPool, burn uint64, err error) {
	payoutPool, err = SplitPercent(pool, 90)
	if err != nil {
		return 0, 0, err
	}
	burn, err = SplitPercent(pool, 10)
	if err != nil {
		return 0, 0, err
	}
	residual, err := CheckedSub(pool, payoutPool+burn)
	if err != nil {
		return 0, 0, err
	}
	burn, err = CheckedAdd(burn, residual)
	if err != nil {
		return 0, 0, err
	}
	return payoutPool, burn, nil
}
