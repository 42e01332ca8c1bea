package api

import (
	"net/http"

	service "github.com/okian/bitgalaxy/internal/app"
	"github.com/okian/bitgalaxy/internal/domain/model"
)

type completeRequest struct {
	OrgID  string         `json:"orgId"`
	UserID string         `json:"userId"`
	Score  int            `json:"score"`
	Stats  model.RunStats `json:"stats"`
	RunID  string         `json:"runId"`
	Guest  bool           `json:"guest"`
}

type completeResponse struct {
	Success bool `json:"success"`
	service.RunResult
}

// ArcadeHandler handles arcade run submissions.
type ArcadeHandler struct {
	deps     Dependencies
	verifier SessionVerifier
	out      responder
}

// HandleComplete handles POST /v1/arcade/{questId}/complete requests.
// A verified session fills in a missing org or player and must agree with
// the ones given.
func (h *ArcadeHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	const op = "api.complete_arcade"
	var req completeRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.out.fail(w, r, op, err)
		return
	}

	if !req.Guest {
		sess, err := sessionFromRequest(r, h.verifier)
		if err != nil {
			h.out.fail(w, r, op, err)
			return
		}
		if sess != nil {
			if req.OrgID == "" {
				req.OrgID = sess.OrgID
			}
			if req.UserID == "" {
				req.UserID = sess.UserID
			}
			if req.OrgID != sess.OrgID || req.UserID != sess.UserID {
				h.out.fail(w, r, op, service.ErrSessionMismatch)
				return
			}
		}
		if req.OrgID == "" || req.UserID == "" {
			h.out.fail(w, r, op, NewKind(op, ErrMissingParams))
			return
		}
	}

	res, err := h.deps.SubmitArcadeRun(r.Context(), service.RunSubmission{
		Guest: req.Guest,
		CompleteRequest: service.CompleteRequest{
			OrgID:   req.OrgID,
			UserID:  req.UserID,
			QuestID: r.PathValue("questId"),
			Score:   req.Score,
			Stats:   req.Stats,
			RunID:   req.RunID,
		},
	})
	if err != nil {
		h.out.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{Success: true, RunResult: res})
}
