package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/okian/bitgalaxy/internal/adapters/repository"
	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/logger"
	"github.com/okian/bitgalaxy/pkg/metrics"
)

// StartResult is the refreshed state after a quest start.
type StartResult struct {
	Player       Snapshot      `json:"player"`
	Quest        model.Quest   `json:"quest"`
	ActiveQuests []model.Quest `json:"activeQuests"`
}

// StartQuest marks questID active for the session's player. Starting an
// already active quest is not an error.
func (s *Service) StartQuest(ctx context.Context, sess *model.Session, orgID, questID string) (_ StartResult, err error) {
	ctx, end := s.startSpan(ctx, "StartQuest")
	defer func() { end(err) }()

	if sess == nil || strings.TrimSpace(sess.UserID) == "" {
		return StartResult{}, ErrUnauthenticated
	}
	orgID, questID = strings.TrimSpace(orgID), strings.TrimSpace(questID)
	if orgID == "" || questID == "" {
		return StartResult{}, invalidf("orgId and questId are required")
	}
	if sess.OrgID != orgID {
		return StartResult{}, ErrSessionMismatch
	}
	userID := sess.UserID
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("org.id", orgID),
		attribute.String("player.id", userID),
		attribute.String("quest.id", questID),
	)

	if _, err := s.catalog.GetQuest(ctx, orgID, questID); err != nil {
		return StartResult{}, storeError("get quest", err, ErrQuestNotFound)
	}
	if _, err := s.ensurePlayer(ctx, orgID, userID); err != nil {
		return StartResult{}, err
	}

	var added bool
	_, err = s.players.Update(ctx, orgID, userID, func(p *model.Player) error {
		added = p.AddActiveQuest(questID)
		if added {
			p.UpdatedAt = s.now().UTC()
		}
		return nil
	})
	if err != nil {
		return StartResult{}, storeError("start quest", err, ErrPlayerNotFound)
	}
	metrics.RecordQuestStart()
	if added {
		s.audit(ctx, model.AuditRecord{
			OrgID:     orgID,
			UserID:    userID,
			EventType: model.AuditQuestStarted,
			QuestID:   questID,
			Source:    "quest_start",
		})
	}

	var res StartResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := s.GetPlayer(gctx, orgID, userID)
		res.Player = snap
		return err
	})
	g.Go(func() error {
		q, err := s.catalog.GetQuest(gctx, orgID, questID)
		if err != nil {
			return storeError("get quest", err, ErrQuestNotFound)
		}
		res.Quest = q
		return nil
	})
	g.Go(func() error {
		active, err := s.ActiveQuests(gctx, orgID, userID)
		res.ActiveQuests = active
		return err
	})
	if err := g.Wait(); err != nil {
		return StartResult{}, err
	}

	s.logger.Debug(ctx, "quest started",
		logger.String("orgId", orgID),
		logger.String("userId", userID),
		logger.String("questId", questID),
		logger.Bool("added", added),
	)
	return res, nil
}

// ActiveQuests returns the definitions of the player's active quests.
// Ids without a stored definition are skipped.
func (s *Service) ActiveQuests(ctx context.Context, orgID, userID string) ([]model.Quest, error) {
	p, err := s.players.Get(ctx, orgID, userID)
	if err != nil {
		return nil, storeError("get player", err, ErrPlayerNotFound)
	}

	quests := make([]model.Quest, 0, len(p.ActiveQuestIDs))
	for _, id := range p.ActiveQuestIDs {
		q, err := s.catalog.GetQuest(ctx, orgID, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storeError("get quest", err, ErrQuestNotFound)
		}
		quests = append(quests, q)
	}
	return quests, nil
}
