package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/martinsuchenak/nmconsole/internal/model"
	"github.com/martinsuchenak/nmconsole/internal/nm"
	"github.com/martinsuchenak/nmconsole/internal/storage"
)

// listDevices handles GET /api/devices. Loopback is hidden unless all=1.
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "1"
	h.writeJSON(w, http.StatusOK, FilterDevices(h.model.Devices(), all))
}

// getDevice handles GET /api/devices/{iface}
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	iface := r.PathValue("iface")
	if iface == "" {
		h.writeError(w, http.StatusBadRequest, "interface name required")
		return
	}

	device, err := h.model.FindDevice(iface)
	if err != nil {
		if errors.Is(err, nm.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, DeviceDetail{
		Device:      device,
		Connections: h.deviceConnections(device),
	})
}

// DeviceDetail is a device with its available connections expanded
type DeviceDetail struct {
	model.Device
	Connections []model.Connection `json:"connections"`
}

func (h *Handler) deviceConnections(d model.Device) []model.Connection {
	out := make([]model.Connection, 0, len(d.AvailableConnections))
	for _, path := range d.AvailableConnections {
		c, err := h.model.Connection(path)
		if err != nil {
			continue
		}
		out = append(out, h.overlay.View(c))
	}
	return out
}

// listSnapshots handles GET /api/snapshots
func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.writeJSON(w, http.StatusOK, []storage.DeviceSnapshot{})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snaps, err := h.snapshots.ListDeviceSnapshots(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshotData) {
			h.writeJSON(w, http.StatusOK, []storage.DeviceSnapshot{})
			return
		}
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snaps)
}

// FilterDevices drops the loopback device unless all is set
func FilterDevices(devices []model.Device, all bool) []model.Device {
	out := make([]model.Device, 0, len(devices))
	for _, d := range devices {
		if !all && d.Loopback() {
			continue
		}
		out = append(out, d)
	}
	return out
}
