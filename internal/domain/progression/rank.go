// Package progression holds the pure progression rules: rank and level from
// cumulative XP, tiers from arcade scores, tiered XP rewards and the
// best-result transition that decides whether a run earns XP.
package progression

import "math"

// levelCoef is the XP curve constant: reaching level L+1 requires
// ceil(levelCoef * L^1.5) total XP.
const levelCoef = 100.0

// maxLevelSearch bounds the exponential search in levelForXP.
const maxLevelSearch = 1 << 20

// RankTier is one rung of the rank ladder.
type RankTier struct {
	Name  string
	MinXP int
}

// ranks is ordered by MinXP ascending; the first entry must start at 0.
var ranks = []RankTier{
	{Name: "Rookie", MinXP: 0},
	{Name: "Cadet", MinXP: 250},
	{Name: "Pilot", MinXP: 750},
	{Name: "Navigator", MinXP: 1500},
	{Name: "Commander", MinXP: 3000},
	{Name: "Captain", MinXP: 6000},
	{Name: "Admiral", MinXP: 12000},
	{Name: "Legend", MinXP: 25000},
}

// DefaultRank is the rank of a player with no XP.
const DefaultRank = "Rookie"

// RankLevelResult is the display-facing progression derived from XP.
type RankLevelResult struct {
	Rank  string `json:"rank"`
	Level int    `json:"level"`
}

// RankProgress describes how far a player is toward the next rank.
type RankProgress struct {
	Rank        string  `json:"rank"`
	Level       int     `json:"level"`
	NextRank    string  `json:"nextRank,omitempty"`
	CurrentMin  int     `json:"currentMin"`
	NextMin     int     `json:"nextMin,omitempty"`
	XPToNext    int     `json:"xpToNext"`
	Percent     float64 `json:"percent"`
	IsMaxRank   bool    `json:"isMaxRank"`
	TotalXP     int     `json:"totalXP"`
	NextLevelXP int     `json:"nextLevelXP"`
}

// Ranks returns a copy of the rank ladder.
func Ranks() []RankTier {
	out := make([]RankTier, len(ranks))
	copy(out, ranks)
	return out
}

// RankLevel derives rank and level from cumulative XP.
func RankLevel(totalXP int) RankLevelResult {
	if totalXP < 0 {
		totalXP = 0
	}
	idx := rankIndex(totalXP)
	return RankLevelResult{Rank: ranks[idx].Name, Level: levelForXP(totalXP)}
}

// Progress reports rank progress for totalXP.
func Progress(totalXP int) RankProgress {
	if totalXP < 0 {
		totalXP = 0
	}
	idx := rankIndex(totalXP)
	level := levelForXP(totalXP)
	p := RankProgress{
		Rank:        ranks[idx].Name,
		Level:       level,
		CurrentMin:  ranks[idx].MinXP,
		TotalXP:     totalXP,
		NextLevelXP: XPRequiredForLevel(level + 1),
	}
	if idx == len(ranks)-1 {
		p.IsMaxRank = true
		p.Percent = 100
		return p
	}
	next := ranks[idx+1]
	p.NextRank = next.Name
	p.NextMin = next.MinXP
	p.XPToNext = next.MinXP - totalXP
	span := float64(next.MinXP - p.CurrentMin)
	p.Percent = math.Floor(float64(totalXP-p.CurrentMin)/span*10000) / 100
	return p
}

func rankIndex(totalXP int) int {
	idx := 0
	for i, r := range ranks {
		if totalXP >= r.MinXP {
			idx = i
		}
	}
	return idx
}

// XPRequiredForLevel returns the total XP needed to be at level.
// Level 1 requires 0 XP.
func XPRequiredForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	req := levelCoef * math.Pow(float64(level-1), 1.5)
	return int(math.Ceil(req))
}

// levelForXP returns the highest level whose requirement is met by totalXP.
func levelForXP(totalXP int) int {
	if totalXP <= 0 {
		return 1
	}
	low, high := 1, 2
	for XPRequiredForLevel(high) <= totalXP {
		low = high
		high *= 2
		if high > maxLevelSearch {
			break
		}
	}
	for low+1 < high {
		mid := low + (high-low)/2
		if XPRequiredForLevel(mid) <= totalXP {
			low = mid
		} else {
			high = mid
		}
	}
	return low
}
