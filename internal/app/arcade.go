package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/bitgalaxy/internal/adapters/repository"
	"github.com/okian/bitgalaxy/internal/domain/dedupe"
	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/internal/domain/progression"
	"github.com/okian/bitgalaxy/pkg/logger"
	"github.com/okian/bitgalaxy/pkg/metrics"
)

// Run modes.
const (
	ModePlayer = "player"
	ModeGuest  = "guest"
)

// CompleteRequest is one finished arcade run of a known player.
type CompleteRequest struct {
	OrgID   string
	UserID  string
	QuestID string
	Score   int
	Stats   model.RunStats
	// RunID optionally identifies the run so replays are rejected.
	RunID string
}

// CompleteResult is an accepted tier transition.
type CompleteResult struct {
	WeekKey      string        `json:"weekKey"`
	Tier         int           `json:"tier"`
	PreviousTier int           `json:"previousTier"`
	XPAwarded    int           `json:"xpAwarded"`
	XPGranted    bool          `json:"xpGranted"`
	Player       *Snapshot     `json:"player,omitempty"`
	ActiveQuests []model.Quest `json:"activeQuests,omitempty"`
}

// RunSubmission is a finished run that may come from a guest.
type RunSubmission struct {
	CompleteRequest
	Guest bool
}

// RunResult is the outcome of SubmitArcadeRun.
type RunResult struct {
	Mode string `json:"mode"`
	CompleteResult
}

// SubmitArcadeRun routes a run to CompleteArcadeQuest, or for guests
// computes the display tier without touching any store.
func (s *Service) SubmitArcadeRun(ctx context.Context, sub RunSubmission) (RunResult, error) {
	if !sub.Guest {
		res, err := s.CompleteArcadeQuest(ctx, sub.CompleteRequest)
		if err != nil {
			return RunResult{}, err
		}
		return RunResult{Mode: ModePlayer, CompleteResult: res}, nil
	}

	questID := strings.TrimSpace(sub.QuestID)
	if err := validateArcadeQuestID(questID); err != nil {
		return RunResult{}, err
	}
	thresholds, err := s.guestThresholds(ctx, strings.TrimSpace(sub.OrgID), questID)
	if err != nil {
		return RunResult{}, err
	}
	metrics.RecordGuestRun()
	return RunResult{
		Mode: ModeGuest,
		CompleteResult: CompleteResult{
			WeekKey: progression.WeekKey(s.now().UTC()),
			Tier:    progression.TierForScore(max(0, sub.Score), thresholds),
		},
	}, nil
}

// guestThresholds resolves thresholds like scoringFor without creating the
// quest. Without an org only the arcade defaults apply.
func (s *Service) guestThresholds(ctx context.Context, orgID, questID string) ([]int, error) {
	if orgID == "" {
		return s.arcade.Quests[questID].ScoreThresholds, nil
	}
	q, err := s.catalog.GetQuest(ctx, orgID, questID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return s.arcade.Quests[questID].ScoreThresholds, nil
	case err != nil:
		return nil, storeError("guest quest", err, ErrQuestNotFound)
	}
	return s.scoringFor(q).Thresholds, nil
}

func validateArcadeQuestID(questID string) error {
	if questID == "" {
		return invalidf("questId is required")
	}
	if !progression.ValidQuestID(questID) {
		return invalidf("questId %q must be lowercase kebab-case", questID)
	}
	return nil
}

// arcadeQuest returns the stored definition of questID, creating it from
// the arcade defaults when absent.
func (s *Service) arcadeQuest(ctx context.Context, orgID, questID string) (model.Quest, error) {
	def, ok := s.arcade.Quests[questID]
	if !ok {
		def = ArcadeQuest{Title: questID, XP: s.arcade.BaseXP}
	}
	now := s.now().UTC()
	q := model.Quest{
		ID:          questID,
		OrgID:       orgID,
		Title:       def.Title,
		Description: def.Description,
		Type:        model.QuestTypeArcade,
		XP:          def.XP,
		Meta:        model.QuestMeta{ScoreThresholds: def.ScoreThresholds},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	stored, created, err := s.catalog.EnsureQuest(ctx, q)
	if err != nil {
		return model.Quest{}, storeError("ensure quest", err, ErrQuestNotFound)
	}
	if created {
		metrics.RecordQuestCreated()
		s.logger.Info(ctx, "arcade quest created",
			logger.String("orgId", orgID),
			logger.String("questId", questID),
		)
	}
	return stored, nil
}

// scoringFor resolves thresholds and XP of q, falling back to the arcade
// defaults for fields the stored definition leaves empty.
func (s *Service) scoringFor(q model.Quest) progression.Scoring {
	sc := progression.Scoring{
		Thresholds: q.Meta.ScoreThresholds,
		Levels:     q.LevelTable(),
		BaseXP:     q.XP,
	}
	if len(sc.Thresholds) == 0 {
		sc.Thresholds = s.arcade.Quests[q.ID].ScoreThresholds
	}
	if sc.BaseXP <= 0 {
		sc.BaseXP = s.arcade.BaseXP
	}
	return sc
}

// CompleteArcadeQuest commits a run that strictly improves the player's
// best tier for the current week and grants the XP difference. The
// best-result update is atomic; the XP grant and the audit record follow
// the commit and never undo it.
func (s *Service) CompleteArcadeQuest(ctx context.Context, req CompleteRequest) (_ CompleteResult, err error) {
	ctx, end := s.startSpan(ctx, "CompleteArcadeQuest")
	defer func() { end(err) }()

	orgID := strings.TrimSpace(req.OrgID)
	userID := strings.TrimSpace(req.UserID)
	questID := strings.TrimSpace(req.QuestID)
	if orgID == "" || userID == "" || questID == "" {
		return CompleteResult{}, invalidf("orgId, userId and questId are required")
	}
	if err := validateArcadeQuestID(questID); err != nil {
		return CompleteResult{}, err
	}
	score := max(0, req.Score)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("org.id", orgID),
		attribute.String("player.id", userID),
		attribute.String("quest.id", questID),
		attribute.Int("run.score", score),
	)

	if runID := strings.TrimSpace(req.RunID); runID != "" {
		key := dedupe.RunKey(orgID, userID, questID, runID)
		if s.deduper.SeenAndRecord(ctx, key) {
			metrics.RecordCompletionRejected(RejectionCode(ErrDuplicateRun))
			return CompleteResult{}, ErrDuplicateRun
		}
		defer func() {
			if err != nil && !errors.Is(err, progression.ErrRejected) {
				s.deduper.Unrecord(ctx, key)
			}
		}()
	}

	quest, err := s.arcadeQuest(ctx, orgID, questID)
	if err != nil {
		return CompleteResult{}, err
	}
	scoring := s.scoringFor(quest)
	slug := progression.EventSlug(questID)

	var tr progression.Transition
	committed, err := s.players.Update(ctx, orgID, userID, func(p *model.Player) error {
		now := s.now().UTC()
		prev, ok, err := p.SpecialEvents.ArcadeBest(slug)
		if err != nil {
			return err
		}
		in := progression.EvaluateInput{
			WeekKey: progression.WeekKey(now),
			Run:     progression.Run{Score: score, Stats: req.Stats},
			Scoring: scoring,
		}
		if ok {
			in.Previous = &prev
		}
		t, err := progression.Evaluate(in)
		if err != nil {
			return err
		}
		if err := p.SpecialEvents.SetArcadeBest(slug, t.Next); err != nil {
			return err
		}
		p.AddCompletedQuest(questID)
		p.UpdatedAt = now
		tr = t
		return nil
	})
	if err != nil {
		if code := RejectionCode(err); code != "" {
			metrics.RecordCompletionRejected(code)
			s.logger.Debug(ctx, "arcade run rejected",
				logger.String("orgId", orgID),
				logger.String("userId", userID),
				logger.String("questId", questID),
				logger.Int("score", score),
				logger.String("reason", code),
			)
			return CompleteResult{}, fmt.Errorf("complete %s: %w", questID, err)
		}
		return CompleteResult{}, storeError("complete "+questID, err, ErrPlayerNotFound)
	}
	metrics.RecordCompletionAccepted()
	span.SetAttributes(attribute.Int("tier", tr.Tier), attribute.Int("xp.delta", tr.XPDelta))

	res := CompleteResult{
		WeekKey:      tr.WeekKey,
		Tier:         tr.Tier,
		PreviousTier: tr.PreviousTier,
		XPAwarded:    tr.XPDelta,
	}

	player := committed
	granted, gerr := s.grant(ctx, orgID, userID, tr.XPDelta)
	if gerr != nil {
		s.logger.Error(ctx, "xp grant failed after arcade commit",
			logger.String("orgId", orgID),
			logger.String("userId", userID),
			logger.String("questId", questID),
			logger.Int("xpDelta", tr.XPDelta),
			logger.Error(gerr),
		)
	} else {
		res.XPGranted = true
		player = granted
	}

	s.audit(ctx, model.AuditRecord{
		OrgID:     orgID,
		UserID:    userID,
		EventType: model.AuditArcadeTierComplete,
		QuestID:   questID,
		XPChange:  tr.XPDelta,
		Source:    "arcade",
		Meta: map[string]any{
			"tier":          tr.Tier,
			"previousTier":  tr.PreviousTier,
			"weekKey":       tr.WeekKey,
			"score":         score,
			"xpGranted":     res.XPGranted,
			"weekRolledOut": tr.WeekRolledOut,
		},
	})

	snap := normalize(player)
	res.Player = &snap
	active, aerr := s.ActiveQuests(ctx, orgID, userID)
	if aerr != nil {
		s.logger.Warn(ctx, "loading active quests failed", logger.Error(aerr))
	}
	res.ActiveQuests = active

	s.logger.Info(ctx, "arcade tier recorded",
		logger.String("orgId", orgID),
		logger.String("userId", userID),
		logger.String("questId", questID),
		logger.Int("tier", tr.Tier),
		logger.Int("previousTier", tr.PreviousTier),
		logger.Int("xpDelta", tr.XPDelta),
	)
	return res, nil
}
