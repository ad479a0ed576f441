package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/martinsuchenak/nmconsole/internal/bus"
	"github.com/martinsuchenak/nmconsole/internal/bus/bustest"
	"github.com/martinsuchenak/nmconsole/internal/model"
	"github.com/martinsuchenak/nmconsole/internal/nm"
	"github.com/martinsuchenak/nmconsole/internal/settings"
	"github.com/martinsuchenak/nmconsole/internal/storage"
)

const (
	testDevEth0 = bus.DevicesPath + "1"
	testDevLo   = bus.DevicesPath + "2"
	testIP4     = "/org/freedesktop/NetworkManager/IP4Config/1"
	testConn    = nm.SettingsPath + "1"
	testUUID    = "6b1a4f1e-7d33-4d1c-9a57-3c1f0e0f6a11"
)

type inlineJobs struct{}

func (inlineJobs) Go(id string, fn func(context.Context) error) {
	_ = fn(context.Background())
}

type testEnv struct {
	bus     *bustest.Fake
	watcher *nm.Watcher
	handler *Handler
}

// setupTestHandler creates a Handler over a synced model of a fake bus
func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()

	f := bustest.New()
	f.AddObject(bus.ManagerPath, bus.ManagerInterface, map[string]any{
		"Devices": []string{testDevEth0, testDevLo},
	})
	f.AddObject(testDevEth0, bus.DeviceInterface, map[string]any{
		"Interface":            "eth0",
		"DeviceType":           uint32(1),
		"State":                uint32(100),
		"HwAddress":            "52:54:00:12:34:56",
		"Ip4Config":            testIP4,
		"AvailableConnections": []string{testConn},
	})
	f.AddObject(testDevLo, bus.DeviceInterface, map[string]any{
		"Interface":  "lo",
		"DeviceType": uint32(model.DeviceTypeLoopback),
		"State":      uint32(10),
	})
	f.AddObject(testIP4, bus.IP4ConfigInterface, map[string]any{
		"Addresses": [][]uint32{{0x0A000001, 24, 0}},
	})
	f.AddObject(testConn, bus.ConnectionInterface, map[string]any{"Unsaved": false})
	f.SetSettings(testConn, model.Settings{
		"connection": {"id": "Wired 1", "uuid": testUUID, "type": "802-3-ethernet"},
		"ipv4":       {"method": "auto"},
		"ethernet":   {"mtu": uint32(0)},
	})

	w := nm.NewWatcher(f, nm.NewModel(f.ByteOrder()), inlineJobs{})
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	overlay := settings.NewOverlay(nm.NewRemote(w), nil)

	return &testEnv{
		bus:     f,
		watcher: w,
		handler: NewHandler(w.Model(), overlay, nil),
	}
}

func decodeConnection(t *testing.T, w *httptest.ResponseRecorder) model.Connection {
	t.Helper()
	var c model.Connection
	if err := json.NewDecoder(w.Result().Body).Decode(&c); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return c
}

func TestHandler_RegisterRoutes(t *testing.T) {
	env := setupTestHandler(t)

	mux := http.NewServeMux()
	env.handler.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	defer server.Close()

	for _, path := range []string{"/api/devices", "/api/devices/eth0", "/api/connections", "/api/snapshots"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestHandler_ListDevices(t *testing.T) {
	env := setupTestHandler(t)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"hides loopback", "", []string{"eth0"}},
		{"all", "?all=1", []string{"eth0", "lo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/devices"+tt.query, nil)
			w := httptest.NewRecorder()

			env.handler.listDevices(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}
			var devices []model.Device
			if err := json.NewDecoder(w.Body).Decode(&devices); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			var got []string
			for _, d := range devices {
				got = append(got, d.Interface)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestHandler_GetDevice(t *testing.T) {
	env := setupTestHandler(t)

	req := httptest.NewRequest("GET", "/api/devices/eth0", nil)
	req.SetPathValue("iface", "eth0")
	w := httptest.NewRecorder()

	env.handler.getDevice(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var detail DeviceDetail
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if detail.State != "Active" {
		t.Errorf("Expected state Active, got %q", detail.State)
	}
	if len(detail.IP4) != 1 || detail.IP4[0].CIDR() != "10.0.0.1/24" {
		t.Errorf("Unexpected addresses %+v", detail.IP4)
	}
	if len(detail.Connections) != 1 || detail.Connections[0].ID != "Wired 1" {
		t.Errorf("Expected the available connection, got %+v", detail.Connections)
	}
}

func TestHandler_GetDevice_NotFound(t *testing.T) {
	env := setupTestHandler(t)

	req := httptest.NewRequest("GET", "/api/devices/wlan0", nil)
	req.SetPathValue("iface", "wlan0")
	w := httptest.NewRecorder()

	env.handler.getDevice(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandler_GetConnection(t *testing.T) {
	env := setupTestHandler(t)

	for _, id := range []string{testConn, testUUID, "Wired 1"} {
		req := httptest.NewRequest("GET", "/api/connections/x", nil)
		req.SetPathValue("id", id)
		w := httptest.NewRecorder()

		env.handler.getConnection(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", id, w.Code)
		}
		c := decodeConnection(t, w)
		if c.Path != testConn {
			t.Errorf("%s: expected path %s, got %s", id, testConn, c.Path)
		}
	}

	req := httptest.NewRequest("GET", "/api/connections/missing", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()
	env.handler.getConnection(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func putPending(t *testing.T, env *testEnv, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("PUT", "/api/connections/x/pending", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("id", testConn)
	w := httptest.NewRecorder()
	env.handler.setPending(w, req)
	return w
}

func TestHandler_SetPending(t *testing.T) {
	env := setupTestHandler(t)

	w := putPending(t, env, `{"group":"ipv4","key":"method","value":"manual"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	c := decodeConnection(t, w)
	if c.Pending["ipv4"]["method"] != "manual" {
		t.Errorf("Expected pending method manual, got %v", c.Pending)
	}
	if c.Effective["ipv4"]["method"] != "manual" {
		t.Errorf("Expected effective method manual, got %v", c.Effective)
	}
	if c.Settings["ipv4"]["method"] != "auto" {
		t.Errorf("Authoritative tree must not change, got %v", c.Settings)
	}

	if w := putPending(t, env, `{"group":"","key":"method","value":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty group, got %d", w.Code)
	}
	if w := putPending(t, env, `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid body, got %d", w.Code)
	}

	w = putPending(t, env, `{"group":"ipv4","key":"method","unset":true}`)
	if c := decodeConnection(t, w); len(c.Pending) != 0 {
		t.Errorf("Expected no pending edits after unset, got %v", c.Pending)
	}
}

func TestHandler_ApplySuccess(t *testing.T) {
	env := setupTestHandler(t)
	putPending(t, env, `{"group":"ethernet","key":"mtu","value":1500}`)

	req := httptest.NewRequest("POST", "/api/connections/x/apply", nil)
	req.SetPathValue("id", testConn)
	w := httptest.NewRecorder()

	env.handler.applyConnection(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	c := decodeConnection(t, w)
	if len(c.Pending) != 0 {
		t.Errorf("Expected pending edits to be cleared, got %v", c.Pending)
	}

	stored := env.bus.Settings(testConn)
	if stored["ethernet"]["mtu"] != uint32(1500) {
		t.Errorf("Expected mtu to be submitted as uint32 1500, got %#v", stored["ethernet"]["mtu"])
	}
	if stored["connection"]["id"] != "Wired 1" {
		t.Errorf("Expected the full tree to be submitted, got %v", stored)
	}
}

func TestHandler_ApplyRejected(t *testing.T) {
	env := setupTestHandler(t)
	putPending(t, env, `{"group":"ipv4","key":"method","value":"manual"}`)

	env.bus.UpdateErr = bustest.ErrRejected
	reads := len(env.bus.SettingsRead)

	req := httptest.NewRequest("POST", "/api/connections/x/apply", nil)
	req.SetPathValue("id", testConn)
	w := httptest.NewRecorder()

	env.handler.applyConnection(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] != "unexpected error" {
		t.Errorf("Expected generic error, got %v", body)
	}

	if len(env.bus.SettingsRead) != reads+1 {
		t.Errorf("Expected the authoritative tree to be re-read")
	}

	req = httptest.NewRequest("GET", "/api/connections/x", nil)
	req.SetPathValue("id", testConn)
	w = httptest.NewRecorder()
	env.handler.getConnection(w, req)
	if c := decodeConnection(t, w); c.Pending["ipv4"]["method"] != "manual" {
		t.Errorf("Expected pending edit to survive, got %v", c.Pending)
	}
}

func TestHandler_DiscardPending(t *testing.T) {
	env := setupTestHandler(t)
	putPending(t, env, `{"group":"ipv4","key":"method","value":"manual"}`)

	req := httptest.NewRequest("DELETE", "/api/connections/x/pending", nil)
	req.SetPathValue("id", testConn)
	w := httptest.NewRecorder()

	env.handler.discardPending(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}
	if env.handler.overlay.HasPending(testConn) {
		t.Error("Expected pending edits to be discarded")
	}
}

type fakeSnapshots struct {
	snaps []storage.DeviceSnapshot
	err   error
}

func (f *fakeSnapshots) SaveDeviceSnapshot(ctx context.Context, devices []model.Device) error {
	return nil
}

func (f *fakeSnapshots) ListDeviceSnapshots(ctx context.Context) ([]storage.DeviceSnapshot, error) {
	return f.snaps, f.err
}

func TestHandler_ListSnapshots(t *testing.T) {
	env := setupTestHandler(t)
	env.handler.snapshots = &fakeSnapshots{err: storage.ErrNoSnapshotData}

	req := httptest.NewRequest("GET", "/api/snapshots", nil)
	w := httptest.NewRecorder()
	env.handler.listSnapshots(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var snaps []storage.DeviceSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 0 {
		t.Errorf("Expected no snapshots, got %d", len(snaps))
	}

	env.handler.snapshots = &fakeSnapshots{snaps: []storage.DeviceSnapshot{{Interface: "eth0"}}}
	w = httptest.NewRecorder()
	env.handler.listSnapshots(w, req)
	json.NewDecoder(w.Body).Decode(&snaps)
	if len(snaps) != 1 || snaps[0].Interface != "eth0" {
		t.Errorf("Unexpected snapshots %+v", snaps)
	}
}
