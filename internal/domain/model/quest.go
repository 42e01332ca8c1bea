package model

import (
	"slices"
	"time"
)

// Level is one entry of a quest's tiered reward schedule.
type Level struct {
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	XP          int    `json:"xp" yaml:"xp"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// QuestMeta holds optional scoring configuration.
type QuestMeta struct {
	// ScoreThresholds is [t1Min, t2Min, t3Min].
	ScoreThresholds []int   `json:"scoreThresholds,omitempty" yaml:"score_thresholds,omitempty"`
	Levels          []Level `json:"levels,omitempty" yaml:"levels,omitempty"`
}

// LoyaltyReward configures loyalty points granted per completion.
type LoyaltyReward struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	PointsPerCompletion int  `json:"pointsPerCompletion" yaml:"points_per_completion"`
}

// Quest is a quest definition scoped to one org.
type Quest struct {
	ID                    string        `json:"id" yaml:"id"`
	OrgID                 string        `json:"orgId" yaml:"-"`
	Title                 string        `json:"title" yaml:"title"`
	Description           string        `json:"description" yaml:"description"`
	Type                  string        `json:"type" yaml:"type"`
	XP                    int           `json:"xp" yaml:"xp"`
	Levels                []Level       `json:"levels,omitempty" yaml:"levels,omitempty"`
	Meta                  QuestMeta     `json:"meta" yaml:"meta"`
	IsActive              bool          `json:"isActive" yaml:"is_active"`
	MaxCompletionsPerUser *int          `json:"maxCompletionsPerUser" yaml:"max_completions_per_user,omitempty"`
	RequiresStaffApproval bool          `json:"requiresStaffApproval" yaml:"requires_staff_approval"`
	LoyaltyReward         LoyaltyReward `json:"loyaltyReward" yaml:"loyalty_reward"`
	CreatedAt             time.Time     `json:"createdAt" yaml:"-"`
	UpdatedAt             time.Time     `json:"updatedAt" yaml:"-"`
}

// Quest types.
const (
	QuestTypeArcade = "arcade"
	QuestTypeCustom = "custom"
)

// LevelTable returns the tier table, preferring top-level levels over meta.levels.
func (q Quest) LevelTable() []Level {
	if len(q.Levels) > 0 {
		return q.Levels
	}
	return q.Meta.Levels
}

// Clone returns a deep copy.
func (q Quest) Clone() Quest {
	out := q
	out.Levels = slices.Clone(q.Levels)
	out.Meta.Levels = slices.Clone(q.Meta.Levels)
	out.Meta.ScoreThresholds = slices.Clone(q.Meta.ScoreThresholds)
	if q.MaxCompletionsPerUser != nil {
		n := *q.MaxCompletionsPerUser
		out.MaxCompletionsPerUser = &n
	}
	return out
}
