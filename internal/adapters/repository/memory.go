package repository

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/metrics"
)

const memoryStoreName = "memory"

// playerDoc is a stored player plus its optimistic version.
type playerDoc struct {
	player  model.Player
	version uint64
}

// MemoryStore keeps players, quests and audit records in process memory.
// Every read and write goes through a deep copy so callers never alias
// stored state. Update commits with a version check, which makes it behave
// like the optimistic transactions of a document database.
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]playerDoc
	quests  map[string]model.Quest
	audit   []model.AuditRecord
}

var (
	_ PlayerStore  = (*MemoryStore)(nil)
	_ QuestCatalog = (*MemoryStore)(nil)
	_ AuditSink    = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players: make(map[string]playerDoc),
		quests:  make(map[string]model.Quest),
	}
}

func docKey(orgID, id string) string {
	return orgID + "\x00" + id
}

func checkKey(orgID, id string) error {
	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: org %q id %q", ErrInvalidKey, orgID, id)
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(memoryStoreName, op, float64(time.Since(start).Microseconds())/1000)
}

// Get implements PlayerStore.
func (s *MemoryStore) Get(ctx context.Context, orgID, userID string) (model.Player, error) {
	defer observe("get", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Player{}, err
	}
	s.mu.RLock()
	doc, ok := s.players[docKey(orgID, userID)]
	s.mu.RUnlock()
	if !ok {
		return model.Player{}, ErrNotFound
	}
	return doc.player.Clone(), nil
}

// Create implements PlayerStore.
func (s *MemoryStore) Create(ctx context.Context, p model.Player) (model.Player, bool, error) {
	defer observe("create", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Player{}, false, err
	}
	if err := checkKey(p.OrgID, p.UserID); err != nil {
		return model.Player{}, false, err
	}
	k := docKey(p.OrgID, p.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.players[k]; ok {
		return doc.player.Clone(), false, nil
	}
	stored := p.Clone()
	stored.EnsureCollections()
	s.players[k] = playerDoc{player: stored, version: 1}
	return stored.Clone(), true, nil
}

// Update implements PlayerStore. fn runs without holding the lock; the
// commit fails with ErrConflict if another writer committed meanwhile.
func (s *MemoryStore) Update(ctx context.Context, orgID, userID string, fn func(*model.Player) error) (model.Player, error) {
	defer observe("update", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Player{}, err
	}
	k := docKey(orgID, userID)

	s.mu.RLock()
	doc, ok := s.players[k]
	s.mu.RUnlock()
	if !ok {
		return model.Player{}, ErrNotFound
	}

	working := doc.player.Clone()
	if err := fn(&working); err != nil {
		return model.Player{}, err
	}
	working.OrgID, working.UserID = orgID, userID
	working.EnsureCollections()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.players[k]
	if !ok {
		return model.Player{}, ErrNotFound
	}
	if current.version != doc.version {
		metrics.RecordTxConflict(memoryStoreName)
		return model.Player{}, ErrConflict
	}
	s.players[k] = playerDoc{player: working.Clone(), version: current.version + 1}
	return working, nil
}

// FindByContact implements PlayerStore. Among several matches the oldest
// record wins.
func (s *MemoryStore) FindByContact(ctx context.Context, orgID string, field ContactField, value string) (model.Player, error) {
	defer observe("find_by_contact", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Player{}, err
	}
	if !field.Valid() {
		return model.Player{}, fmt.Errorf("%w: %q", ErrInvalidContactField, field)
	}
	if value == "" {
		return model.Player{}, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  model.Player
		found bool
	)
	for _, doc := range s.players {
		p := doc.player
		if p.OrgID != orgID || field.Value(p) != value {
			continue
		}
		if !found || p.CreatedAt.Before(best.CreatedAt) ||
			(p.CreatedAt.Equal(best.CreatedAt) && p.UserID < best.UserID) {
			best, found = p, true
		}
	}
	if !found {
		return model.Player{}, ErrNotFound
	}
	return best.Clone(), nil
}

// GetQuest implements QuestCatalog.
func (s *MemoryStore) GetQuest(ctx context.Context, orgID, questID string) (model.Quest, error) {
	defer observe("get_quest", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Quest{}, err
	}
	s.mu.RLock()
	q, ok := s.quests[docKey(orgID, questID)]
	s.mu.RUnlock()
	if !ok {
		return model.Quest{}, ErrNotFound
	}
	return q.Clone(), nil
}

// EnsureQuest implements QuestCatalog.
func (s *MemoryStore) EnsureQuest(ctx context.Context, q model.Quest) (model.Quest, bool, error) {
	defer observe("ensure_quest", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Quest{}, false, err
	}
	if err := checkKey(q.OrgID, q.ID); err != nil {
		return model.Quest{}, false, err
	}
	k := docKey(q.OrgID, q.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.quests[k]; ok {
		return existing.Clone(), false, nil
	}
	s.quests[k] = q.Clone()
	return q.Clone(), true, nil
}

// Append implements AuditSink.
func (s *MemoryStore) Append(ctx context.Context, rec model.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.Meta = maps.Clone(rec.Meta)
	s.mu.Lock()
	s.audit = append(s.audit, rec)
	s.mu.Unlock()
	return nil
}

// AuditRecords returns the audit records of orgID in append order.
func (s *MemoryStore) AuditRecords(orgID string) []model.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AuditRecord
	for _, rec := range s.audit {
		if rec.OrgID == orgID {
			out = append(out, rec)
		}
	}
	return out
}

// Count returns the number of stored players.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}
