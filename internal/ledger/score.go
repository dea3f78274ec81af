package ledger

import (
	"fmt"
	"math/big"
	"time"
)

// Trust score bounds. Scores live on a basis-point style scale.
const (
	BaseScore uint64 = 1000
	MaxScore  uint64 = 10000
)

// attestationsPerActivityStep is the batch-of-attestations granularity of
// the activity bonus: every full ten attestations earns one activity step.
const attestationsPerActivityStep = 10

// ScoreConfig is the singleton trust-score configuration. It is replaced
// wholesale by the administrator and validated so the cap is unreachable
// even before the final clamp.
type ScoreConfig struct {
	LongevityWeight   uint64   `json:"longevity_weight"`    // per full week since registration
	MaxLongevityBonus uint64   `json:"max_longevity_bonus"`
	ActivityWeight    uint64   `json:"activity_weight"`     // per ten attestations
	MaxActivityBonus  uint64   `json:"max_activity_bonus"`
	StakeWeight       uint64   `json:"stake_weight"`        // per full StakeUnit staked
	MaxStakeBonus     uint64   `json:"max_stake_bonus"`
	StakeUnit         *big.Int `json:"stake_unit"`
}

// DefaultScoreConfig returns the production defaults: the three max bonuses
// sum to exactly MaxScore − BaseScore.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		LongevityWeight:   10,
		MaxLongevityBonus: 2000,
		ActivityWeight:    50,
		MaxActivityBonus:  3000,
		StakeWeight:       100,
		MaxStakeBonus:     4000,
		StakeUnit:         big.NewInt(100),
	}
}

// Validate rejects configurations whose combined maximum bonuses could
// exceed MaxScore − BaseScore.
func (c ScoreConfig) Validate() error {
	if c.StakeUnit == nil || c.StakeUnit.Sign() <= 0 {
		return fmt.Errorf("%w: stake unit must be positive", ErrInvalidParameter)
	}
	if c.MaxLongevityBonus+c.MaxActivityBonus+c.MaxStakeBonus > MaxScore-BaseScore {
		return fmt.Errorf("%w: max bonuses sum above %d", ErrInvalidParameter, MaxScore-BaseScore)
	}
	return nil
}

// Compute derives the trust score from the agent's longevity, activity, and
// collateral. Pure and deterministic; all divisions floor.
func (c ScoreConfig) Compute(registeredAt, now time.Time, attestationCount uint64, stake *big.Int) uint64 {
	var weeks uint64
	if now.After(registeredAt) {
		weeks = uint64(now.Sub(registeredAt) / (7 * 24 * time.Hour))
	}
	longevity := min(weeks*c.LongevityWeight, c.MaxLongevityBonus)

	activity := min(attestationCount/attestationsPerActivityStep*c.ActivityWeight, c.MaxActivityBonus)

	var stakeBonus uint64
	if stake != nil && stake.Sign() > 0 {
		units := new(big.Int).Div(stake, c.StakeUnit)
		raw := new(big.Int).Mul(units, new(big.Int).SetUint64(c.StakeWeight))
		if raw.IsUint64() {
			stakeBonus = min(raw.Uint64(), c.MaxStakeBonus)
		} else {
			stakeBonus = c.MaxStakeBonus
		}
	}

	return min(BaseScore+longevity+activity+stakeBonus, MaxScore)
}
