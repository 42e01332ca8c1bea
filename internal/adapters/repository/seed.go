package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/okian/bitgalaxy/internal/domain/model"
)

// Seed is the quest catalog seed file layout:
//
//	orgs:
//	  org-1:
//	    - id: lunchbox-run
//	      type: arcade
//	      xp: 50
//	      meta:
//	        score_thresholds: [250, 900, 1800]
type Seed struct {
	Orgs map[string][]model.Quest `yaml:"orgs"`
}

// LoadSeed reads and decodes a seed file.
func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(raw []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	for org, quests := range s.Orgs {
		for i, q := range quests {
			if q.ID == "" {
				return Seed{}, fmt.Errorf("decode seed: org %s quest #%d has no id", org, i)
			}
		}
	}
	return s, nil
}

// Apply inserts every seeded quest that is not yet in catalog. Existing
// definitions are never overwritten. It returns how many were created.
func (s Seed) Apply(ctx context.Context, catalog QuestCatalog, now time.Time) (int, error) {
	orgs := make([]string, 0, len(s.Orgs))
	for org := range s.Orgs {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)

	created := 0
	for _, org := range orgs {
		for _, q := range s.Orgs[org] {
			q.OrgID = org
			if q.Type == "" {
				q.Type = model.QuestTypeCustom
			}
			q.CreatedAt, q.UpdatedAt = now, now
			_, ok, err := catalog.EnsureQuest(ctx, q)
			if err != nil {
				return created, fmt.Errorf("seed quest %s/%s: %w", org, q.ID, err)
			}
			if ok {
				created++
			}
		}
	}
	return created, nil
}
