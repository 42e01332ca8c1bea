package progression

import (
	"errors"
	"fmt"

	"github.com/okian/bitgalaxy/internal/domain/model"
)

// ErrRejected is the kind of every expected, non-retriable rejection of a run.
var ErrRejected = errors.New("transition rejected")

// Rejections returned by Evaluate.
var (
	ErrScoreTooLow         = fmt.Errorf("%w: score too low", ErrRejected)
	ErrTierAlreadyRecorded = fmt.Errorf("%w: tier already recorded this week", ErrRejected)
	ErrNoXPDelta           = fmt.Errorf("%w: no xp delta", ErrRejected)
)

// RejectionCode returns a stable machine code for a rejection, or "" when
// err is not one.
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrScoreTooLow):
		return "score_too_low"
	case errors.Is(err, ErrTierAlreadyRecorded):
		return "tier_already_recorded"
	case errors.Is(err, ErrNoXPDelta):
		return "no_xp_delta"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return ""
	}
}

// Scoring is the reward configuration of one quest.
type Scoring struct {
	Thresholds []int
	Levels     []model.Level
	BaseXP     int
}

// Run is one completed arcade attempt.
type Run struct {
	Score int
	Stats model.RunStats
}

// EvaluateInput carries everything needed to decide a transition.
type EvaluateInput struct {
	// Previous is the stored record; nil when the player never played.
	Previous *model.ArcadeBest
	WeekKey  string
	Run      Run
	Scoring  Scoring
}

// Transition is an accepted improvement of a player's weekly best tier.
type Transition struct {
	PreviousTier  int
	Tier          int
	PreviousXP    int
	TierXP        int
	XPDelta       int
	WeekKey       string
	Next          model.ArcadeBest
	WeekRolledOut bool
}

// Evaluate decides whether run strictly improves the player's best tier for
// the current week and, if so, returns the XP delta and the next record.
// The comparison is against the current week's best only; a record from an
// older week counts as tier 0.
func Evaluate(in EvaluateInput) (Transition, error) {
	score := max(0, in.Run.Score)

	var prev model.ArcadeBest
	if in.Previous != nil {
		prev = *in.Previous
	}
	sameWeek := in.Previous != nil && prev.WeekKey == in.WeekKey

	prevTier := 0
	prevWeekScore := 0
	if sameWeek {
		prevTier = max(0, prev.BestTier)
		prevWeekScore = max(0, prev.BestScore)
	}

	tier := TierForScore(score, in.Scoring.Thresholds)
	if tier == 0 {
		return Transition{}, ErrScoreTooLow
	}
	if tier <= prevTier {
		return Transition{}, ErrTierAlreadyRecorded
	}

	prevXP := 0
	if prevTier > 0 {
		prevXP = XPForLevel(prevTier, in.Scoring.Levels, in.Scoring.BaseXP)
	}
	tierXP := XPForLevel(tier, in.Scoring.Levels, in.Scoring.BaseXP)
	delta := max(0, tierXP-prevXP)
	if delta == 0 {
		return Transition{}, ErrNoXPDelta
	}

	next := model.ArcadeBest{
		WeekKey:          in.WeekKey,
		BestTier:         tier,
		BestScore:        max(score, prevWeekScore),
		BestScoreAllTime: max(score, prev.BestScoreAllTime),
		Runs:             max(0, prev.Runs) + 1,
		LastResult: &model.LastResult{
			Tier:     tier,
			Score:    score,
			TimeMs:   clampStat(in.Run.Stats.TimeMs),
			Jumps:    clampStat(in.Run.Stats.Jumps),
			Speedups: clampStat(in.Run.Stats.Speedups),
		},
	}

	return Transition{
		PreviousTier:  prevTier,
		Tier:          tier,
		PreviousXP:    prevXP,
		TierXP:        tierXP,
		XPDelta:       delta,
		WeekKey:       in.WeekKey,
		Next:          next,
		WeekRolledOut: in.Previous != nil && !sameWeek,
	}, nil
}

func clampStat(v *int) *int {
	if v == nil {
		return nil
	}
	n := max(0, *v)
	return &n
}
