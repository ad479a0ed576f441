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

func TestNotifier_OneNotificationPerBurst(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "n")

		m := NewModel(binary.BigEndian)
		paths := make([]string, n)
		for i := range paths {
			paths[i] = fmt.Sprintf("%s%d", bus.DevicesPath, i)
		}

		var got [][]model.Device
		m.Subscribe(func(d []model.Device) { got = append(got, d) })

		m.Merge(bus.ManagerPath, bus.ManagerInterface, map[string]any{"Devices": paths})
		for i, p := range paths {
			m.Merge(p, bus.DeviceInterface, map[string]any{
				"Interface": fmt.Sprintf("eth%d", i),
				"State":     uint32(100),
			})
		}

		require.True(t, m.Notifier().Flush())
		require.Len(t, got, 1)
		require.Len(t, got[0], n)
		for i, d := range got[0] {
			assert.Equal(t, fmt.Sprintf("eth%d", i), d.Interface)
			assert.Equal(t, "Active", d.State)
		}

		assert.False(t, m.Notifier().Flush(), "nothing merged since the last flush")
		assert.Equal(t, 1, m.Notifier().firedCount())
	})
}

func TestNotifier_NoSkippedNotification(t *testing.T) {
	n := NewNotifier(func() []model.Device { return nil })

	count := 0
	n.Subscribe(func([]model.Device) { count++ })

	n.Schedule()
	n.Flush()
	n.Schedule()
	n.Flush()
	n.Flush()

	assert.Equal(t, 2, count)
}

func TestNotifier_ScheduleDuringFlush(t *testing.T) {
	var n *Notifier
	first := true
	n = NewNotifier(func() []model.Device {
		if first {
			first = false
			// A merge landing while the list is computed must not be lost.
			n.Schedule()
		}
		return nil
	})

	n.Schedule()
	assert.True(t, n.Flush())
	assert.True(t, n.isPending())
	assert.True(t, n.Flush())
	assert.False(t, n.isPending())
}

func TestNotifier_KickSignalledOnce(t *testing.T) {
	n := NewNotifier(func() []model.Device { return nil })
	n.Schedule()
	n.Schedule()

	select {
	case <-n.Kick():
	default:
		t.Fatal("Expected a kick")
	}
	select {
	case <-n.Kick():
		t.Fatal("Expected a single kick per pending notification")
	default:
	}
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier(func() []model.Device { return nil })
	count := 0
	cancel := n.Subscribe(func([]model.Device) { count++ })
	cancel()

	n.Schedule()
	n.Flush()
	assert.Equal(t, 0, count)
}
