package pools

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"poolmatch/pkg/apperr"
	"poolmatch/pkg/httpx"
)

// Handler exposes pool and membership CRUD over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the pool routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/pools", func(r chi.Router) {
		r.Post("/", h.createPool)
		r.Get("/", h.listPools)

		r.Get("/members", h.userMemberships)
		r.Delete("/members/{userID}", h.removeUser)

		r.Route("/{poolID}", func(r chi.Router) {
			r.Get("/", h.getPool)
			r.Patch("/", h.updatePool)
			r.Delete("/", h.deletePool)
			r.Post("/members", h.addMember)
			r.Get("/members", h.listMembers)
			r.Get("/members/{userID}", h.getMember)
			r.Delete("/members/{userID}", h.removeMember)
		})
	})
}

func parseID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("invalid %s %q", name, raw)
	}
	return id, nil
}

func (h *Handler) createPool(w http.ResponseWriter, r *http.Request) {
	var req NewPool
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.svc.CreatePool(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, p)
}

func (h *Handler) listPools(w http.ResponseWriter, r *http.Request) {
	var location *string
	if r.URL.Query().Has("location") {
		loc := r.URL.Query().Get("location")
		location = &loc
	}
	out, err := h.svc.ListPools(r.Context(), location)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) getPool(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "poolID"), "pool_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.svc.GetPool(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) updatePool(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "poolID"), "pool_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch PoolPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.svc.UpdatePool(r.Context(), id, patch)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) deletePool(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "poolID"), "pool_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	del := h.svc.DeletePool
	if r.URL.Query().Get("if_empty") == "true" {
		del = h.svc.DeleteEmptyPool
	}
	if err := del(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "poolID"), "pool_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req NewMember
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.svc.AddMember(r.Context(), id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, m)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "poolID"), "pool_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.svc.ListMembers(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) getMember(w http.ResponseWriter, r *http.Request) {
	pool, err := parseID(chi.URLParam(r, "poolID"), "pool_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := parseID(chi.URLParam(r, "userID"), "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.svc.GetMember(r.Context(), pool, user)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, m)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	pool, err := parseID(chi.URLParam(r, "poolID"), "pool_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := parseID(chi.URLParam(r, "userID"), "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.svc.RemoveMember(r.Context(), pool, user)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, m)
}

func (h *Handler) userMemberships(w http.ResponseWriter, r *http.Request) {
	user, err := parseID(r.URL.Query().Get("user_id"), "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.svc.UserMemberships(r.Context(), user)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) removeUser(w http.ResponseWriter, r *http.Request) {
	user, err := parseID(chi.URLParam(r, "userID"), "user_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	removed, err := h.svc.RemoveUser(r.Context(), user)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
