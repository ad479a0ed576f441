package mcp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/martinsuchenak/nmconsole/internal/model"
	"github.com/martinsuchenak/nmconsole/internal/nm"
	"github.com/martinsuchenak/nmconsole/internal/settings"
)

func newTestServer(token string) *Server {
	m := nm.NewModel(nil)
	return NewServer(m, settings.NewOverlay(nm.NewRemote(nil), nil), token)
}

func TestHandleRequest_Auth(t *testing.T) {
	s := newTestServer("secret-token")

	tests := []struct {
		name   string
		header string
	}{
		{"Missing header", ""},
		{"Wrong scheme", "Basic secret-token"},
		{"Wrong token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/mcp", strings.NewReader(`{}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.GetHTTPHandler().ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestFormatDeviceSummary(t *testing.T) {
	d := model.Device{
		Interface: "eth0",
		State:     "Activated",
		HwAddress: "52:54:00:12:34:56",
		IdVendor:  "Intel Corporation",
		IdModel:   "82540EM",
		IP4:       []model.IPAddress{{Address: "10.0.0.1", Prefix: 24}},
	}

	out := formatDeviceSummary(d)
	assert.Contains(t, out, "eth0\n")
	assert.Contains(t, out, "State: Activated")
	assert.Contains(t, out, "Hardware: Intel Corporation 82540EM")
	assert.Contains(t, out, "10.0.0.1/24")

	bare := formatDeviceSummary(model.Device{Interface: "lo"})
	assert.Equal(t, "lo\n", bare)
}

func TestFormatConnection(t *testing.T) {
	c := model.Connection{
		Path: "/org/freedesktop/NetworkManager/Settings/1",
		ID:   "Wired 1",
		UUID: "3c1d8e2a-7c5b-4a53-9d0e-0f6f2d3f0a11",
		Type: "802-3-ethernet",
		Effective: model.Settings{
			"ipv4":     {"method": "manual"},
			"ethernet": {"mtu": uint32(1500)},
		},
		Pending: model.Settings{"ipv4": {"method": "manual"}},
	}

	out := formatConnection(c)
	assert.Contains(t, out, "Wired 1 (3c1d8e2a-7c5b-4a53-9d0e-0f6f2d3f0a11, 802-3-ethernet)")
	assert.Less(t, strings.Index(out, "ethernet.mtu = 1500"), strings.Index(out, "ipv4.method = manual"))
	assert.Contains(t, out, "Pending edits:")
	assert.NotContains(t, out, "Unsaved")
}
