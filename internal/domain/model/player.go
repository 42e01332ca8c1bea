// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"
)

// InventoryItem is an item granted to a player by a quest or staff.
type InventoryItem struct {
	ItemID      string     `json:"itemId"`
	Quantity    int        `json:"quantity"`
	Label       string     `json:"label,omitempty"`
	Description string     `json:"description,omitempty"`
	Source      string     `json:"source,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// Player is the canonical progression document of one player in one org.
// Rank and Level are cached copies derived from TotalXP and may be stale
// when read straight from storage.
type Player struct {
	UserID string `json:"userId"`
	OrgID  string `json:"orgId"`

	Name      string `json:"name,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`

	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	PhoneDigits     string `json:"phoneDigits,omitempty"`
	PhoneNormalized string `json:"phoneNormalized,omitempty"`

	TotalXP       int    `json:"totalXP"`
	Rank          string `json:"rank"`
	Level         int    `json:"level"`
	WeeklyXP      int    `json:"weeklyXP"`
	WeeklyWeekKey string `json:"weeklyWeekKey"`

	CurrentProgramID  *string         `json:"currentProgramId"`
	ActiveQuestIDs    []string        `json:"activeQuestIds"`
	CompletedQuestIDs []string        `json:"completedQuestIds"`
	SpecialEvents     SpecialEvents   `json:"specialEvents,omitempty"`
	Inventory         []InventoryItem `json:"inventory"`

	LastCheckinAt *time.Time `json:"lastCheckinAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	// Extra holds top-level document keys this struct does not model.
	// They are written back unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

// playerKeys are the JSON keys Player models itself.
var playerKeys = func() map[string]struct{} {
	keys := map[string]struct{}{}
	t := reflect.TypeOf(Player{})
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = struct{}{}
		}
	}
	return keys
}()

type playerDoc Player

// UnmarshalJSON decodes the modelled fields and keeps the rest in Extra.
func (p *Player) UnmarshalJSON(data []byte) error {
	var doc playerDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range all {
		if _, ok := playerKeys[k]; ok {
			delete(all, k)
		}
	}
	doc.Extra = nil
	if len(all) > 0 {
		doc.Extra = all
	}
	*p = Player(doc)
	return nil
}

// MarshalJSON encodes the modelled fields plus Extra. Modelled fields win
// over an Extra key of the same name.
func (p Player) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(playerDoc(p))
	if err != nil || len(p.Extra) == 0 {
		return data, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, ok := playerKeys[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// AddActiveQuest appends questID to the active set if absent.
// It reports whether the set changed.
func (p *Player) AddActiveQuest(questID string) bool {
	if slices.Contains(p.ActiveQuestIDs, questID) {
		return false
	}
	p.ActiveQuestIDs = append(p.ActiveQuestIDs, questID)
	return true
}

// AddCompletedQuest appends questID to the completed set if absent.
// It reports whether the set changed.
func (p *Player) AddCompletedQuest(questID string) bool {
	if slices.Contains(p.CompletedQuestIDs, questID) {
		return false
	}
	p.CompletedQuestIDs = append(p.CompletedQuestIDs, questID)
	return true
}

// Clone returns a deep copy so callers can mutate without aliasing storage.
func (p Player) Clone() Player {
	out := p
	out.ActiveQuestIDs = slices.Clone(p.ActiveQuestIDs)
	out.CompletedQuestIDs = slices.Clone(p.CompletedQuestIDs)
	out.Inventory = slices.Clone(p.Inventory)
	out.SpecialEvents = p.SpecialEvents.Clone()
	if p.Extra != nil {
		out.Extra = maps.Clone(p.Extra)
		for k, v := range out.Extra {
			out.Extra[k] = slices.Clone(v)
		}
	}
	if p.CurrentProgramID != nil {
		id := *p.CurrentProgramID
		out.CurrentProgramID = &id
	}
	if p.LastCheckinAt != nil {
		ts := *p.LastCheckinAt
		out.LastCheckinAt = &ts
	}
	return out
}

// EnsureCollections replaces nil slices and maps with empty ones so the
// document always serializes with the same shape.
func (p *Player) EnsureCollections() {
	if p.ActiveQuestIDs == nil {
		p.ActiveQuestIDs = []string{}
	}
	if p.CompletedQuestIDs == nil {
		p.CompletedQuestIDs = []string{}
	}
	if p.Inventory == nil {
		p.Inventory = []InventoryItem{}
	}
	if p.SpecialEvents == nil {
		p.SpecialEvents = SpecialEvents{}
	}
}

// SpecialEvents maps an event slug to its event-specific sub-record.
// Unknown slugs are kept as raw JSON so a write to one slug never clobbers
// a sibling this process does not understand.
type SpecialEvents map[string]json.RawMessage

// Clone copies the map and every raw value.
func (s SpecialEvents) Clone() SpecialEvents {
	if s == nil {
		return nil
	}
	out := make(SpecialEvents, len(s))
	for k, v := range s {
		out[k] = slices.Clone(v)
	}
	return out
}

// ArcadeBest decodes the best-result record stored under slug.
// The boolean is false when no record exists.
func (s SpecialEvents) ArcadeBest(slug string) (ArcadeBest, bool, error) {
	raw, ok := s[slug]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return ArcadeBest{}, false, nil
	}
	var rec ArcadeBest
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ArcadeBest{}, false, fmt.Errorf("decode special event %q: %w", slug, err)
	}
	return rec, true, nil
}

// SetArcadeBest stores rec under slug, leaving every other key untouched.
func (s *SpecialEvents) SetArcadeBest(slug string, rec ArcadeBest) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode special event %q: %w", slug, err)
	}
	if *s == nil {
		*s = SpecialEvents{}
	}
	(*s)[slug] = raw
	return nil
}

// ArcadeBest is the best-result record of one arcade quest.
type ArcadeBest struct {
	WeekKey          string      `json:"weekKey"`
	BestTier         int         `json:"bestTier"`
	BestScore        int         `json:"bestScore"`
	BestScoreAllTime int         `json:"bestScoreAllTime"`
	Runs             int         `json:"runs"`
	LastResult       *LastResult `json:"lastResult,omitempty"`
}

// LastResult is a diagnostic snapshot of the most recent accepted run.
type LastResult struct {
	Tier     int  `json:"tier"`
	Score    int  `json:"score"`
	TimeMs   *int `json:"timeMs"`
	Jumps    *int `json:"jumps"`
	Speedups *int `json:"speedups"`
}

// RunStats are optional per-run statistics reported by the game layer.
type RunStats struct {
	TimeMs   *int `json:"timeMs,omitempty"`
	Jumps    *int `json:"jumps,omitempty"`
	Speedups *int `json:"speedups,omitempty"`
}
