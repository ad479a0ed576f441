package nm

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/martinsuchenak/nmconsole/internal/bus"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

const (
	devEth0 = bus.DevicesPath + "1"
	devLo   = bus.DevicesPath + "2"
	ip4Eth0 = "/org/freedesktop/NetworkManager/IP4Config/1"
	ip6Eth0 = "/org/freedesktop/NetworkManager/IP6Config/1"
	connOne = SettingsPath + "1"
)

func deviceProps() *rapid.Generator[map[string]any] {
	return rapid.Custom(func(t *rapid.T) map[string]any {
		props := map[string]any{}
		if rapid.Bool().Draw(t, "has_iface") {
			props["Interface"] = rapid.StringMatching(`[a-z]{2,4}[0-9]`).Draw(t, "iface")
		}
		if rapid.Bool().Draw(t, "has_hw") {
			props["HwAddress"] = rapid.StringMatching(`([0-9A-F]{2}:){5}[0-9A-F]{2}`).Draw(t, "hw")
		}
		if rapid.Bool().Draw(t, "has_state") {
			props["State"] = rapid.Uint32Range(0, 130).Draw(t, "state")
		}
		if rapid.Bool().Draw(t, "has_type") {
			props["DeviceType"] = rapid.Uint32Range(0, 32).Draw(t, "type")
		}
		return props
	})
}

func TestMerge_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewModel(binary.BigEndian)
		props := deviceProps().Draw(t, "props")

		m.Merge(devEth0, bus.DeviceInterface, props)
		once, err := m.object(devEth0)
		require.NoError(t, err)

		m.Merge(devEth0, bus.DeviceInterface, props)
		twice, err := m.object(devEth0)
		require.NoError(t, err)

		assert.Equal(t, once, twice)
	})
}

func TestMerge_KeepsFieldsAcrossInterfaces(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewModel(binary.BigEndian)
		first := deviceProps().Draw(t, "first")
		second := map[string]any{}
		if rapid.Bool().Draw(t, "has_udi") {
			second["Udi"] = rapid.StringMatching(`/sys/devices/[a-z0-9/]{1,20}`).Draw(t, "udi")
		}
		if rapid.Bool().Draw(t, "has_vendor") {
			second["IdVendor"] = rapid.StringMatching(`[A-Za-z ]{1,12}`).Draw(t, "vendor")
		}

		m.Merge(devEth0, bus.DeviceInterface, first)
		before, err := m.object(devEth0)
		require.NoError(t, err)

		m.Merge(devEth0, bus.DeviceInterface+".Wired", second)
		after, err := m.object(devEth0)
		require.NoError(t, err)

		for k, v := range before {
			if _, overwritten := second[k]; overwritten {
				continue
			}
			assert.Equal(t, v, after[k], "field %s dropped", k)
		}
		for k, v := range second {
			assert.Equal(t, v, after[k])
		}
	})
}

func TestMerge_AbsentPropertyUntouched(t *testing.T) {
	m := NewModel(binary.BigEndian)
	m.Merge(devEth0, bus.DeviceInterface, map[string]any{"Interface": "eth0", "State": uint32(100)})
	m.Merge(devEth0, bus.DeviceInterface, map[string]any{"HwAddress": ""})

	obj, err := m.object(devEth0)
	require.NoError(t, err)
	assert.Equal(t, "eth0", obj.String("Interface"))
	assert.Equal(t, "Active", obj.String("State"))
	assert.Equal(t, "", obj.String("HwAddress"))
	_, present := obj["HwAddress"]
	assert.True(t, present, "empty value should still be merged")
}

func TestMerge_MalformedStateIgnored(t *testing.T) {
	m := NewModel(binary.BigEndian)
	m.Merge(devEth0, bus.DeviceInterface, map[string]any{"Interface": "eth0", "State": "up"})

	obj, err := m.object(devEth0)
	require.NoError(t, err)
	assert.Equal(t, "", obj.String("State"), "no label for a state that is not a number")
	_, present := obj["StateCode"]
	assert.False(t, present)

	m.Merge(devEth0, bus.DeviceInterface, map[string]any{"State": uint32(100)})
	m.Merge(devEth0, bus.DeviceInterface, map[string]any{"State": []string{"bogus"}})
	obj, err = m.object(devEth0)
	require.NoError(t, err)
	assert.Equal(t, "Active", obj.String("State"), "last good state is kept")
}

func TestMerge_DecodesAddressesAndResolvesLazily(t *testing.T) {
	m := NewModel(binary.BigEndian)
	m.Merge(bus.ManagerPath, bus.ManagerInterface, map[string]any{"Devices": []string{devEth0}})
	m.Merge(devEth0, bus.DeviceInterface, map[string]any{
		"Interface": "eth0",
		"Ip4Config": ip4Eth0,
		"Ip6Config": "/",
	})

	devices := m.Devices()
	require.Len(t, devices, 1)
	assert.Empty(t, devices[0].IP4, "config not known yet")

	m.Merge(ip4Eth0, bus.IP4ConfigInterface, map[string]any{
		"Addresses": [][]uint32{{0x0A000001, 24, 0}},
	})

	devices = m.Devices()
	require.Len(t, devices, 1)
	require.Len(t, devices[0].IP4, 1)
	assert.Equal(t, "10.0.0.1/24", devices[0].IP4[0].CIDR())

	// A later change to the config bag is visible through the device.
	m.Merge(ip4Eth0, bus.IP4ConfigInterface, map[string]any{
		"Addresses": [][]uint32{{0x0A000002, 16, 0}},
	})
	assert.Equal(t, "10.0.0.2/16", m.Devices()[0].IP4[0].CIDR())
}

func TestMerge_AddressData(t *testing.T) {
	m := NewModel(binary.BigEndian)
	m.Merge(ip6Eth0, bus.IP6ConfigInterface, map[string]any{
		"AddressData": []map[string]any{{"address": "fd00::5", "prefix": uint32(64)}},
	})
	obj, err := m.object(ip6Eth0)
	require.NoError(t, err)
	assert.Equal(t, []model.IPAddress{{Address: "fd00::5", Prefix: 64}}, obj.Addresses())
}

func TestRemove(t *testing.T) {
	m := NewModel(binary.BigEndian)
	m.Merge(bus.ManagerPath, bus.ManagerInterface, map[string]any{"Devices": []string{devEth0, devLo}})
	m.Merge(devEth0, bus.DeviceInterface, map[string]any{"Interface": "eth0", "Ip4Config": ip4Eth0})
	m.Merge(devLo, bus.DeviceInterface, map[string]any{"Interface": "lo", "DeviceType": uint32(model.DeviceTypeLoopback)})
	m.Merge(ip4Eth0, bus.IP4ConfigInterface, map[string]any{"Addresses": [][]uint32{{0x0A000001, 24, 0}}})
	m.Notifier().Flush()

	m.Remove(ip4Eth0)
	_, err := m.object(ip4Eth0)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.True(t, m.Notifier().isPending(), "removal schedules a notification")

	d, err := m.FindDevice("eth0")
	require.NoError(t, err)
	assert.Empty(t, d.IP4)

	m.Remove(devLo)
	assert.Len(t, m.Devices(), 1)

	// Re-adding the same path is picked up by the manager reference again.
	m.Merge(devLo, bus.DeviceInterface, map[string]any{"Interface": "lo"})
	assert.Len(t, m.Devices(), 2)

	_, err = m.FindDevice("wlan0")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestRemove_Unknown(t *testing.T) {
	m := NewModel(binary.BigEndian)
	m.Remove("/nope")
	assert.False(t, m.Notifier().isPending())
}

func TestDevices_OrderFollowsManager(t *testing.T) {
	m := NewModel(binary.BigEndian)
	paths := []string{bus.DevicesPath + "3", bus.DevicesPath + "1", bus.DevicesPath + "2"}
	for i, p := range paths {
		m.Merge(p, bus.DeviceInterface, map[string]any{"Interface": fmt.Sprintf("eth%d", i)})
	}
	m.Merge(bus.ManagerPath, bus.ManagerInterface, map[string]any{"Devices": paths})

	var got []string
	for _, d := range m.Devices() {
		got = append(got, d.Interface)
	}
	assert.Equal(t, []string{"eth0", "eth1", "eth2"}, got)
}

func TestConnections(t *testing.T) {
	m := NewModel(binary.BigEndian)
	m.Merge(connOne, bus.ConnectionInterface, map[string]any{
		"Unsaved": false,
		"Settings": model.Settings{
			"connection": {"id": "Wired 1", "uuid": "6b1a4f1e-7d33-4d1c-9a57-3c1f0e0f6a11", "type": "802-3-ethernet"},
		},
	})

	conns := m.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "Wired 1", conns[0].ID)

	for _, ref := range []string{connOne, "Wired 1", "6B1A4F1E-7D33-4D1C-9A57-3C1F0E0F6A11"} {
		c, err := m.Connection(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, connOne, c.Path)
	}

	_, err := m.Connection("missing")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestOnUdi(t *testing.T) {
	m := NewModel(binary.BigEndian)
	var calls []string
	m.OnUdi(func(path, udi string) { calls = append(calls, udi) })

	m.Merge(devEth0, bus.DeviceInterface, map[string]any{"Udi": "/sys/devices/a"})
	m.Merge(devEth0, bus.DeviceInterface, map[string]any{"Udi": "/sys/devices/a"})
	m.Merge(devEth0, bus.DeviceInterface, map[string]any{"Udi": "/sys/devices/b"})

	assert.Equal(t, []string{"/sys/devices/a", "/sys/devices/b"}, calls)
}
