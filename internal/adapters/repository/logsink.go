package repository

import (
	"context"

	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/logger"
)

// LogSink is an AuditSink that writes each record as a structured log line.
type LogSink struct {
	log logger.Logger
}

// NewLogSink returns a sink logging through log.
func NewLogSink(log logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogSink{log: log}
}

// Append implements AuditSink.
func (s *LogSink) Append(ctx context.Context, rec model.AuditRecord) error {
	s.log.Info(ctx, "audit",
		logger.String("id", rec.ID),
		logger.String("org_id", rec.OrgID),
		logger.String("user_id", rec.UserID),
		logger.String("event_type", rec.EventType),
		logger.String("quest_id", rec.QuestID),
		logger.Int("xp_change", rec.XPChange),
		logger.String("source", rec.Source),
		logger.Any("meta", rec.Meta),
		logger.Any("created_at", rec.CreatedAt),
	)
	return nil
}
