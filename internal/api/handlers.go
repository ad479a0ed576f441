package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/model"
	"github.com/martinsuchenak/nmconsole/internal/nm"
	"github.com/martinsuchenak/nmconsole/internal/settings"
	"github.com/martinsuchenak/nmconsole/internal/storage"
)

// Model is the read side of the reconciled NetworkManager state
type Model interface {
	Devices() []model.Device
	FindDevice(iface string) (model.Device, error)
	Connections() []model.Connection
	Connection(ref string) (model.Connection, error)
	Subscribe(fn func([]model.Device)) func()
}

// Handler handles HTTP requests
type Handler struct {
	model     Model
	overlay   *settings.Overlay
	snapshots storage.SnapshotStorage
	events    *eventHub
}

// NewHandler creates a new API handler. snapshots may be nil.
func NewHandler(m Model, overlay *settings.Overlay, snapshots storage.SnapshotStorage) *Handler {
	return &Handler{
		model:     m,
		overlay:   overlay,
		snapshots: snapshots,
		events:    newEventHub(m),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Devices
	mux.HandleFunc("GET /api/devices", h.listDevices)
	mux.HandleFunc("GET /api/devices/{iface}", h.getDevice)

	// Connections
	mux.HandleFunc("GET /api/connections", h.listConnections)
	mux.HandleFunc("GET /api/connections/{id}", h.getConnection)
	mux.HandleFunc("PUT /api/connections/{id}/pending", h.setPending)
	mux.HandleFunc("DELETE /api/connections/{id}/pending", h.discardPending)
	mux.HandleFunc("POST /api/connections/{id}/apply", h.applyConnection)

	// Last seen devices
	mux.HandleFunc("GET /api/snapshots", h.listSnapshots)

	// Change notifications
	mux.HandleFunc("GET /api/events", h.events.serve)
}

// Close disconnects every event subscriber
func (h *Handler) Close() {
	h.events.close()
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// internalError logs the error and writes a generic 500 response
func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.Error("Internal server error", "error", err)
	h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// remoteError maps a failed NetworkManager call to the generic error the
// console shows. Local state is left as it is.
func (h *Handler) remoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, nm.ErrConnectionNotFound):
		h.writeError(w, http.StatusNotFound, "connection not found")
	default:
		log.Warn("NetworkManager call failed", "error", err)
		h.writeError(w, http.StatusBadGateway, "unexpected error")
	}
}
