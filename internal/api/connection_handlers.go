package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/martinsuchenak/nmconsole/internal/model"
	"github.com/martinsuchenak/nmconsole/internal/nm"
	"github.com/martinsuchenak/nmconsole/internal/settings"
)

// PendingRequest stages one settings leaf
type PendingRequest struct {
	Group string `json:"group"`
	Key   string `json:"key"`
	Value any    `json:"value"`
	// Unset removes the staged value instead of setting it
	Unset bool `json:"unset,omitempty"`
}

// listConnections handles GET /api/connections
func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	conns := h.model.Connections()
	out := make([]model.Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, h.overlay.View(c))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// lookupConnection resolves {id} (path, UUID or name), writing 404 if unknown
func (h *Handler) lookupConnection(w http.ResponseWriter, r *http.Request) (model.Connection, bool) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "connection ID required")
		return model.Connection{}, false
	}

	c, err := h.model.Connection(id)
	if err != nil {
		if errors.Is(err, nm.ErrConnectionNotFound) {
			h.writeError(w, http.StatusNotFound, "connection not found")
			return model.Connection{}, false
		}
		h.internalError(w, err)
		return model.Connection{}, false
	}
	return c, true
}

// getConnection handles GET /api/connections/{id}
func (h *Handler) getConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookupConnection(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.overlay.View(c))
}

// setPending handles PUT /api/connections/{id}/pending
func (h *Handler) setPending(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookupConnection(w, r)
	if !ok {
		return
	}

	var req PendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	if req.Unset {
		err = h.overlay.Unset(r.Context(), c.Path, req.Group, req.Key)
	} else {
		err = h.overlay.Set(r.Context(), c.Path, req.Group, req.Key, req.Value)
	}
	if err != nil {
		if errors.Is(err, settings.ErrEmptyGroup) || errors.Is(err, settings.ErrEmptyKey) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.overlay.View(c))
}

// discardPending handles DELETE /api/connections/{id}/pending
func (h *Handler) discardPending(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookupConnection(w, r)
	if !ok {
		return
	}
	if err := h.overlay.Discard(r.Context(), c.Path); err != nil {
		h.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// applyConnection handles POST /api/connections/{id}/apply
func (h *Handler) applyConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookupConnection(w, r)
	if !ok {
		return
	}

	if err := h.overlay.Apply(r.Context(), c.Path); err != nil {
		h.remoteError(w, err)
		return
	}

	// Re-read so the response carries the tree the remote accepted.
	if fresh, err := h.model.Connection(c.Path); err == nil {
		c = fresh
	}
	h.writeJSON(w, http.StatusOK, h.overlay.View(c))
}
