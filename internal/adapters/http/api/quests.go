package api

import (
	"net/http"

	service "github.com/okian/bitgalaxy/internal/app"
	"github.com/okian/bitgalaxy/internal/domain/model"
)

type startRequest struct {
	OrgID   string `json:"orgId"`
	QuestID string `json:"questId"`
}

type startResponse struct {
	Success      bool             `json:"success"`
	OrgID        string           `json:"orgId"`
	QuestID      string           `json:"questId"`
	PlayerID     string           `json:"playerId"`
	Player       service.Snapshot `json:"player"`
	Quest        model.Quest      `json:"quest"`
	ActiveQuests []model.Quest    `json:"activeQuests"`
}

// QuestsHandler handles quest start requests.
type QuestsHandler struct {
	deps     Dependencies
	verifier SessionVerifier
	out      responder
}

// HandleStart handles POST /v1/quests/start requests. The player comes from
// the session, never from the body.
func (h *QuestsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_quest"
	var req startRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.out.fail(w, r, op, err)
		return
	}
	if req.OrgID == "" || req.QuestID == "" {
		h.out.fail(w, r, op, NewKind(op, ErrMissingParams))
		return
	}
	if h.verifier == nil {
		h.out.fail(w, r, op, NewKind(op, ErrSessionsOff))
		return
	}
	sess, err := sessionFromRequest(r, h.verifier)
	if err != nil {
		h.out.fail(w, r, op, err)
		return
	}

	res, err := h.deps.StartQuest(r.Context(), sess, req.OrgID, req.QuestID)
	if err != nil {
		h.out.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		Success:      true,
		OrgID:        req.OrgID,
		QuestID:      req.QuestID,
		PlayerID:     sess.UserID,
		Player:       res.Player,
		Quest:        res.Quest,
		ActiveQuests: res.ActiveQuests,
	})
}
