package users

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"poolmatch/pkg/apperr"
	"poolmatch/pkg/httpx"
)

// maxMatchesLimit caps the max_matches query parameter.
const maxMatchesLimit = 50

type Handler struct {
	facade *Facade
}

func NewHandler(f *Facade) *Handler {
	return &Handler{facade: f}
}

// Routes mounts the user-centric routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/pool", h.getPool)
		r.Post("/pool", h.joinPool)
		r.Patch("/pool", h.movePool)
		r.Delete("/pool", h.leavePool)

		r.Post("/matches", h.generateMatches)
		r.Get("/matches", h.listMatches)
		r.Post("/matches/{matchID}/decisions", h.submitDecision)

		r.Get("/decisions", h.listDecisions)
	})
}

func pathID(r *http.Request, key, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, key)
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("invalid %s %q", name, raw)
	}
	return id, nil
}

func (h *Handler) getPool(w http.ResponseWriter, r *http.Request) {
	user, err := pathID(r, "userID", "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.facade.GetUserPool(r.Context(), user)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

// joinRequest accepts location from the body or, for older clients, the query.
func joinRequest(r *http.Request) (JoinRequest, error) {
	var req JoinRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			return JoinRequest{}, err
		}
	}
	if req.Location == "" {
		req.Location = r.URL.Query().Get("location")
	}
	return req, nil
}

func (h *Handler) joinPool(w http.ResponseWriter, r *http.Request) {
	user, err := pathID(r, "userID", "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := joinRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.facade.JoinPool(r.Context(), user, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, out)
}

func (h *Handler) movePool(w http.ResponseWriter, r *http.Request) {
	user, err := pathID(r, "userID", "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := joinRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.facade.MovePool(r.Context(), user, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) leavePool(w http.ResponseWriter, r *http.Request) {
	user, err := pathID(r, "userID", "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.facade.LeavePool(r.Context(), user)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) generateMatches(w http.ResponseWriter, r *http.Request) {
	user, err := pathID(r, "userID", "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("max_matches"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxMatchesLimit {
			httpx.RespondError(w, apperr.InvalidInput("max_matches must be between 1 and %d", maxMatchesLimit))
			return
		}
	}
	out, err := h.facade.GenerateMatches(r.Context(), user, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, out)
}

func (h *Handler) listMatches(w http.ResponseWriter, r *http.Request) {
	user, err := pathID(r, "userID", "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.facade.ListUserMatches(r.Context(), user)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) submitDecision(w http.ResponseWriter, r *http.Request) {
	user, err := pathID(r, "userID", "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	match, err := pathID(r, "matchID", "match_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req DecisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.facade.SubmitDecision(r.Context(), user, match, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, out)
}

func (h *Handler) listDecisions(w http.ResponseWriter, r *http.Request) {
	user, err := pathID(r, "userID", "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.facade.ListUserDecisions(r.Context(), user)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}
