package service

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/bitgalaxy/internal/adapters/repository"
	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/internal/domain/progression"
	"github.com/okian/bitgalaxy/pkg/logger"
	"github.com/okian/bitgalaxy/pkg/metrics"
)

// phoneKeyLen is the number of trailing digits compared in phone lookups.
const phoneKeyLen = 10

// Snapshot is a player as returned to callers, with rank and level
// recomputed from XP.
type Snapshot struct {
	Player   model.Player             `json:"player"`
	Progress progression.RankProgress `json:"progress"`
}

// Origin describes what caused an XP grant.
type Origin struct {
	Source  string
	QuestID string
	Meta    map[string]any
}

// LookupRequest identifies a player by contact details.
type LookupRequest struct {
	OrgID string
	Email string
	Phone string
}

// LookupResult is a matched player and, when sessions are enabled, a token
// bound to it.
type LookupResult struct {
	UserID string   `json:"userId"`
	Player Snapshot `json:"player"`
	Token  string   `json:"-"`
}

// JoinRequest registers a player or reuses one with the same contact.
type JoinRequest struct {
	OrgID     string
	UserID    string
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// JoinResult is the outcome of JoinPlayer.
type JoinResult struct {
	UserID string   `json:"userId"`
	Player Snapshot `json:"player"`
	Reused bool     `json:"reused"`
	Token  string   `json:"-"`
}

// normalize fills empty collections and recomputes the derived rank and
// level. Stored copies of those fields are never trusted.
func normalize(p model.Player) Snapshot {
	p.EnsureCollections()
	rl := progression.RankLevel(p.TotalXP)
	p.Rank = rl.Rank
	p.Level = rl.Level
	return Snapshot{Player: p, Progress: progression.Progress(p.TotalXP)}
}

func (s *Service) newPlayer(orgID, userID string) model.Player {
	now := s.now().UTC()
	p := model.Player{
		UserID:        userID,
		OrgID:         orgID,
		Rank:          progression.DefaultRank,
		Level:         1,
		WeeklyWeekKey: progression.WeekKey(now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p.EnsureCollections()
	return p
}

// ensurePlayer returns the stored player, creating an empty one if absent.
func (s *Service) ensurePlayer(ctx context.Context, orgID, userID string) (model.Player, error) {
	p, err := s.players.Get(ctx, orgID, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.Player{}, storeError("get player", err, ErrPlayerNotFound)
	}

	stored, created, err := s.players.Create(ctx, s.newPlayer(orgID, userID))
	if err != nil {
		return model.Player{}, storeError("create player", err, ErrPlayerNotFound)
	}
	if created {
		metrics.RecordPlayerCreated()
		s.logger.Info(ctx, "player created",
			logger.String("orgId", orgID),
			logger.String("userId", userID),
		)
	}
	return stored, nil
}

// GetPlayer returns the player, lazily creating an empty record.
func (s *Service) GetPlayer(ctx context.Context, orgID, userID string) (Snapshot, error) {
	orgID, userID = strings.TrimSpace(orgID), strings.TrimSpace(userID)
	if orgID == "" || userID == "" {
		return Snapshot{}, invalidf("orgId and playerId are required")
	}
	p, err := s.ensurePlayer(ctx, orgID, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return normalize(p), nil
}

// normalizeEmail lowercases and trims email.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// phoneDigits returns every digit of phone and its last ten digits.
func phoneDigits(phone string) (digits, last10 string) {
	digits = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	last10 = digits
	if len(last10) > phoneKeyLen {
		last10 = last10[len(last10)-phoneKeyLen:]
	}
	return digits, last10
}

type contactCandidate struct {
	field repository.ContactField
	value string
}

// contactCandidates lists the lookups tried for a contact, in order.
// Historical records stored phones under several field names and formats.
func contactCandidates(email, phone string) []contactCandidate {
	var out []contactCandidate
	if email != "" {
		out = append(out, contactCandidate{repository.ContactEmail, email})
	}
	raw := strings.TrimSpace(phone)
	if raw == "" {
		return out
	}
	digits, last10 := phoneDigits(raw)
	for _, c := range []contactCandidate{
		{repository.ContactPhone, last10},
		{repository.ContactPhone, raw},
		{repository.ContactPhoneNormalized, last10},
		{repository.ContactPhoneDigits, last10},
		{repository.ContactPhoneDigits, digits},
	} {
		if c.value == "" || containsCandidate(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containsCandidate(list []contactCandidate, c contactCandidate) bool {
	for _, existing := range list {
		if existing == c {
			return true
		}
	}
	return false
}

// findByContact returns the first player matching any candidate.
func (s *Service) findByContact(ctx context.Context, orgID string, candidates []contactCandidate) (model.Player, bool, error) {
	for _, c := range candidates {
		p, err := s.players.FindByContact(ctx, orgID, c.field, c.value)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return model.Player{}, false, storeError("find player", err, ErrPlayerNotFound)
		}
	}
	return model.Player{}, false, nil
}

func (s *Service) mintFor(p model.Player) (string, error) {
	if s.sessions == nil {
		return "", nil
	}
	return s.sessions.Mint(model.Session{UserID: p.UserID, OrgID: p.OrgID})
}

// LookupPlayer finds an existing player by email or phone.
func (s *Service) LookupPlayer(ctx context.Context, req LookupRequest) (_ LookupResult, err error) {
	ctx, end := s.startSpan(ctx, "LookupPlayer")
	defer func() { end(err) }()

	orgID := strings.TrimSpace(req.OrgID)
	if orgID == "" {
		return LookupResult{}, invalidf("orgId is required")
	}
	email := normalizeEmail(req.Email)
	if email == "" && strings.TrimSpace(req.Phone) == "" {
		return LookupResult{}, invalidf("an email or a phone number is required")
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("org.id", orgID))

	p, ok, err := s.findByContact(ctx, orgID, contactCandidates(email, req.Phone))
	if err != nil {
		metrics.RecordLookup("error")
		return LookupResult{}, err
	}
	if !ok {
		metrics.RecordLookup("miss")
		return LookupResult{}, ErrPlayerNotFound
	}
	metrics.RecordLookup("hit")

	token, err := s.mintFor(p)
	if err != nil {
		return LookupResult{}, err
	}
	return LookupResult{UserID: p.UserID, Player: normalize(p), Token: token}, nil
}

// JoinPlayer reuses the player matching the contact details or registers a
// new one.
func (s *Service) JoinPlayer(ctx context.Context, req JoinRequest) (_ JoinResult, err error) {
	ctx, end := s.startSpan(ctx, "JoinPlayer")
	defer func() { end(err) }()

	orgID := strings.TrimSpace(req.OrgID)
	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	email := normalizeEmail(req.Email)
	phone := strings.TrimSpace(req.Phone)
	switch {
	case orgID == "":
		return JoinResult{}, invalidf("orgId is required")
	case first == "" || last == "":
		return JoinResult{}, invalidf("first and last name are required")
	case email == "" && phone == "":
		return JoinResult{}, invalidf("at least a phone or email is required")
	}

	existing, ok, err := s.findByContact(ctx, orgID, contactCandidates(email, phone))
	if err != nil {
		return JoinResult{}, err
	}
	if ok {
		token, err := s.mintFor(existing)
		if err != nil {
			return JoinResult{}, err
		}
		return JoinResult{UserID: existing.UserID, Player: normalize(existing), Reused: true, Token: token}, nil
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = uuid.NewString()
	}
	digits, last10 := phoneDigits(phone)
	p := s.newPlayer(orgID, userID)
	p.FirstName = first
	p.LastName = last
	p.Name = strings.TrimSpace(first + " " + last)
	p.Email = email
	p.Phone = phone
	p.PhoneDigits = digits
	p.PhoneNormalized = last10

	stored, created, err := s.players.Create(ctx, p)
	if err != nil {
		return JoinResult{}, storeError("create player", err, ErrPlayerNotFound)
	}
	if created {
		metrics.RecordPlayerCreated()
		s.audit(ctx, model.AuditRecord{
			OrgID:     orgID,
			UserID:    userID,
			EventType: model.AuditPlayerJoined,
			Source:    "join",
		})
	}

	token, err := s.mintFor(stored)
	if err != nil {
		return JoinResult{}, err
	}
	return JoinResult{UserID: stored.UserID, Player: normalize(stored), Reused: !created, Token: token}, nil
}

// GrantXP adds amount to the player's total and weekly XP. It does not
// deduplicate; callers invoke it once per accepted event.
func (s *Service) GrantXP(ctx context.Context, orgID, userID string, amount int, origin Origin) (_ Snapshot, err error) {
	ctx, end := s.startSpan(ctx, "GrantXP")
	defer func() { end(err) }()

	if amount < 0 {
		return Snapshot{}, invalidf("xp amount must not be negative, got %d", amount)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("org.id", orgID),
		attribute.String("player.id", userID),
		attribute.Int("xp.amount", amount),
	)

	p, err := s.grant(ctx, orgID, userID, amount)
	if err != nil {
		return Snapshot{}, err
	}

	s.audit(ctx, model.AuditRecord{
		OrgID:     orgID,
		UserID:    userID,
		EventType: model.AuditXPGranted,
		QuestID:   origin.QuestID,
		XPChange:  amount,
		Source:    origin.Source,
		Meta:      origin.Meta,
	})
	return normalize(p), nil
}

// grant applies an XP grant and recomputes rank and level. The weekly
// counter restarts when the stored week key is not the current one.
func (s *Service) grant(ctx context.Context, orgID, userID string, amount int) (model.Player, error) {
	now := s.now().UTC()
	week := progression.WeekKey(now)
	p, err := s.players.Update(ctx, orgID, userID, func(p *model.Player) error {
		p.TotalXP = max(0, p.TotalXP) + amount
		if p.WeeklyWeekKey != week {
			p.WeeklyXP = amount
			p.WeeklyWeekKey = week
		} else {
			p.WeeklyXP = max(0, p.WeeklyXP) + amount
		}
		rl := progression.RankLevel(p.TotalXP)
		p.Rank = rl.Rank
		p.Level = rl.Level
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		metrics.RecordXPGrantFailure()
		return model.Player{}, storeError("grant xp", err, ErrPlayerNotFound)
	}
	metrics.RecordXPGranted(amount)
	return p, nil
}
