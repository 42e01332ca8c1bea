package model

import "time"

// Session binds a request to a verified player in an org.
type Session struct {
	UserID string
	OrgID  string
}

// Audit event types.
const (
	AuditArcadeTierComplete = "arcade_tier_complete"
	AuditQuestStarted       = "quest_started"
	AuditXPGranted          = "xp_granted"
	AuditPlayerJoined       = "player_joined"
)

// AuditRecord is an append-only record of an XP-affecting event.
type AuditRecord struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"orgId"`
	UserID    string         `json:"userId"`
	EventType string         `json:"eventType"`
	QuestID   string         `json:"questId,omitempty"`
	XPChange  int            `json:"xpChange"`
	Source    string         `json:"source"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
