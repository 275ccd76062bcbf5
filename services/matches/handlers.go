package matches

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"poolmatch/pkg/apperr"
	"poolmatch/pkg/httpx"
)

// Handler exposes the Engine over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler builds a Handler for engine.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes mounts the match, decision and internal cleanup routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/matches", func(r chi.Router) {
		r.Post("/", h.createMatch)
		r.Get("/", h.listMatches)

		r.Delete("/internal/cleanup/user/{userID}/pool/{poolID}", h.cleanupUserPool)
		r.Delete("/internal/cleanup/pool/{poolID}", h.cleanupPool)

		r.Route("/{matchID}", func(r chi.Router) {
			r.Get("/", h.getMatch)
			r.Patch("/", h.patchMatch)
			r.Delete("/", h.deleteMatch)
			r.Post("/decisions", h.submitDecision)
			r.Get("/decisions", h.listDecisions)
			r.Get("/decisions/{userID}", h.getDecision)
		})
	})
	r.Get("/decisions", h.listUserDecisions)
}

type createMatchRequest struct {
	PoolID  uuid.UUID `json:"pool_id"`
	User1ID uuid.UUID `json:"user1_id"`
	User2ID uuid.UUID `json:"user2_id"`
}

type decisionRequest struct {
	MatchID  *uuid.UUID `json:"match_id,omitempty"`
	UserID   uuid.UUID  `json:"user_id"`
	Decision string     `json:"decision"`
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("invalid %s %q", name, raw)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.InvalidInput("invalid %s %q", name, raw)
	}
	return &id, nil
}

func (h *Handler) createMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	m, err := h.engine.CreateMatch(r.Context(), req.PoolID, req.User1ID, req.User2ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, m)
}

func (h *Handler) listMatches(w http.ResponseWriter, r *http.Request) {
	var (
		f   Filter
		err error
	)
	if f.PoolID, err = queryID(r, "pool_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if f.UserID, err = queryID(r, "user_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	raw := r.URL.Query().Get("status_filter")
	if raw == "" {
		raw = r.URL.Query().Get("status")
	}
	if raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		f.Status = &status
	}

	out, err := h.engine.ListMatches(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) getMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "matchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.engine.GetMatch(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, m)
}

func (h *Handler) patchMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "matchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var p Patch
	if err := httpx.DecodeJSON(r, &p); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.engine.PatchMatch(r.Context(), id, p)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "matchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.engine.DeleteMatch(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitDecision(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "matchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.MatchID != nil && *req.MatchID != id {
		httpx.RespondError(w, apperr.InvalidInput("match_id in body does not match path"))
		return
	}
	value, err := ParseValue(req.Decision)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	m, err := h.engine.SubmitDecision(r.Context(), id, req.UserID, value)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, m)
}

func (h *Handler) listDecisions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "matchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.engine.ListDecisions(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) getDecision(w http.ResponseWriter, r *http.Request) {
	matchID, err := pathID(r, "matchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.engine.GetDecision(r.Context(), matchID, userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, d)
}

func (h *Handler) listUserDecisions(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if userID == nil {
		httpx.RespondError(w, apperr.InvalidInput("user_id query parameter is required"))
		return
	}
	out, err := h.engine.ListUserDecisions(r.Context(), *userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) cleanupUserPool(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	poolID, err := pathID(r, "poolID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.engine.CleanupUserPoolMatches(r.Context(), userID, poolID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, report)
}

func (h *Handler) cleanupPool(w http.ResponseWriter, r *http.Request) {
	poolID, err := pathID(r, "poolID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.engine.CleanupPoolMatches(r.Context(), poolID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, report)
}
