package progression

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/okian/bitgalaxy/internal/domain/model"
)

// Default tier thresholds, applied per missing or negative entry.
const (
	DefaultTier1Min = 750
	DefaultTier2Min = 2500
	DefaultTier3Min = 7500
)

// MaxTier is the highest arcade tier.
const MaxTier = 3

// TierForScore maps a raw score to a tier in [0, MaxTier] using
// thresholds [t1Min, t2Min, t3Min]. Each threshold falls back to its
// default independently.
func TierForScore(score int, thresholds []int) int {
	if score < 0 {
		score = 0
	}
	t1 := thresholdAt(thresholds, 0, DefaultTier1Min)
	t2 := thresholdAt(thresholds, 1, DefaultTier2Min)
	t3 := thresholdAt(thresholds, 2, DefaultTier3Min)

	switch {
	case score < t1:
		return 0
	case score >= t3:
		return 3
	case score >= t2:
		return 2
	default:
		return 1
	}
}

func thresholdAt(thresholds []int, i, def int) int {
	if i >= len(thresholds) || thresholds[i] < 0 {
		return def
	}
	return thresholds[i]
}

// XPForLevel returns the reward for reaching tier. The tier is clamped to
// [1, MaxTier]; callers handle "no tier" as 0 XP themselves. A level table
// long enough to cover the tier wins, otherwise the reward scales linearly
// from fallbackBase.
func XPForLevel(tier int, levels []model.Level, fallbackBase int) int {
	tier = max(1, min(MaxTier, tier))
	if len(levels) >= tier {
		return max(0, levels[tier-1].XP)
	}
	return max(0, fallbackBase*tier)
}

// WeekKey returns the ISO-8601 week of t (UTC) as "YYYY-Www".
func WeekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// MaxQuestIDLen bounds arcade quest ids.
const MaxQuestIDLen = 64

// Segments after the first start with a letter, so the capital letters of
// a slug mark segment boundaries and EventSlug stays one-to-one.
var arcadeQuestID = regexp.MustCompile(`^[a-z0-9][a-z0-9]*(-[a-z][a-z0-9]*)*$`)

// ValidQuestID reports whether questID is a canonical arcade quest id:
// lowercase ASCII kebab-case such as "lunchbox-run".
func ValidQuestID(questID string) bool {
	return len(questID) <= MaxQuestIDLen && arcadeQuestID.MatchString(questID)
}

// EventSlug converts a kebab-case quest id into the lowerCamel key under
// which its best-result record lives in a player's special events.
func EventSlug(questID string) string {
	parts := strings.FieldsFunc(strings.TrimSpace(questID), func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	if len(parts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(parts[0]))
	for _, p := range parts[1:] {
		p = strings.ToLower(p)
		r, n := utf8.DecodeRuneInString(p)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(p[n:])
	}
	return b.String()
}
