package api

import (
	"net/http"

	service "github.com/okian/bitgalaxy/internal/app"
)

type lookupRequest struct {
	OrgID string `json:"orgId"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type lookupResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
}

type joinRequest struct {
	OrgID     string `json:"orgId"`
	UserID    string `json:"userId"`
	UID       string `json:"uid"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type joinResponse struct {
	Success bool             `json:"success"`
	UserID  string           `json:"userId"`
	Player  service.Snapshot `json:"player"`
	Reused  bool             `json:"reused"`
}

// PlayersHandler handles player lookup, join and read requests.
type PlayersHandler struct {
	deps    Dependencies
	cookies cookieJar
	out     responder
}

// HandleLookup handles POST /v1/players/lookup requests.
func (h *PlayersHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	const op = "api.lookup_player"
	var req lookupRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.out.fail(w, r, op, err)
		return
	}
	res, err := h.deps.LookupPlayer(r.Context(), service.LookupRequest(req))
	if err != nil {
		h.out.fail(w, r, op, err)
		return
	}
	h.cookies.set(w, res.Token)
	writeJSON(w, http.StatusOK, lookupResponse{Success: true, UserID: res.UserID})
}

// HandleJoin handles POST /v1/players/join requests.
func (h *PlayersHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	const op = "api.join_player"
	var req joinRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.out.fail(w, r, op, err)
		return
	}
	uid := req.UserID
	if uid == "" {
		uid = req.UID
	}
	res, err := h.deps.JoinPlayer(r.Context(), service.JoinRequest{
		OrgID:     req.OrgID,
		UserID:    uid,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		h.out.fail(w, r, op, err)
		return
	}
	h.cookies.set(w, res.Token)
	writeJSON(w, http.StatusOK, joinResponse{Success: true, UserID: res.UserID, Player: res.Player, Reused: res.Reused})
}

// HandleGetPlayer handles GET /v1/orgs/{orgId}/players/{playerId} requests.
func (h *PlayersHandler) HandleGetPlayer(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_player"
	snap, err := h.deps.GetPlayer(r.Context(), r.PathValue("orgId"), r.PathValue("playerId"))
	if err != nil {
		h.out.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
