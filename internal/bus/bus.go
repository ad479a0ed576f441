// Package bus is the thin client layer between the console and the
// NetworkManager service on the system message bus.
package bus

import (
	"context"
	"encoding/binary"

	"github.com/martinsuchenak/nmconsole/internal/model"
)

// Well-known names used by NetworkManager.
const (
	Service     = "org.freedesktop.NetworkManager"
	ManagerPath = "/org/freedesktop/NetworkManager"
	RootPath    = "/org/freedesktop"
	DevicesPath = "/org/freedesktop/NetworkManager/Devices/"

	ManagerInterface    = "org.freedesktop.NetworkManager"
	DeviceInterface     = "org.freedesktop.NetworkManager.Device"
	IP4ConfigInterface  = "org.freedesktop.NetworkManager.IP4Config"
	IP6ConfigInterface  = "org.freedesktop.NetworkManager.IP6Config"
	ConnectionInterface = "org.freedesktop.NetworkManager.Settings.Connection"

	PropertiesInterface    = "org.freedesktop.DBus.Properties"
	ObjectManagerInterface = "org.freedesktop.DBus.ObjectManager"

	SignalPropertiesChanged = "PropertiesChanged"
	SignalUpdated           = "Updated"
)

// EventKind tells which bus notification an Event carries.
type EventKind int

const (
	ObjectAdded EventKind = iota
	ObjectRemoved
	InterfaceAdded
	InterfaceRemoved
	SignalEmitted
)

func (k EventKind) String() string {
	switch k {
	case ObjectAdded:
		return "object-added"
	case ObjectRemoved:
		return "object-removed"
	case InterfaceAdded:
		return "interface-added"
	case InterfaceRemoved:
		return "interface-removed"
	case SignalEmitted:
		return "signal-emitted"
	}
	return "unknown"
}

// Event is one notification from the bus, already stripped of wire types.
type Event struct {
	Kind EventKind
	Path string

	// Interfaces holds interface -> properties for ObjectAdded and
	// ObjectRemoved (the latter with nil property maps).
	Interfaces map[string]map[string]any

	// Interface is set for InterfaceAdded, InterfaceRemoved and SignalEmitted.
	Interface string

	// Properties carries the interface properties of InterfaceAdded and the
	// changed properties of a PropertiesChanged signal.
	Properties map[string]any

	// Member and Body describe any other signal.
	Member string
	Body   []any
}

// ManagedObjects is path -> interface -> properties.
type ManagedObjects map[string]map[string]map[string]any

// Bus is what the model needs from the message bus client.
type Bus interface {
	// Events delivers notifications until the bus is closed.
	Events() <-chan Event

	// ManagedObjects returns every object the service currently exports.
	ManagedObjects(ctx context.Context) (ManagedObjects, error)

	// GetAll fetches all properties of one interface of one object.
	GetAll(ctx context.Context, path, iface string) (map[string]any, error)

	// GetSettings calls Settings.Connection.GetSettings.
	GetSettings(ctx context.Context, path string) (model.Settings, error)

	// UpdateSettings calls Settings.Connection.Update with a full tree.
	UpdateSettings(ctx context.Context, path string, settings model.Settings) error

	// ByteOrder is the byte order of integers on the transport.
	ByteOrder() binary.ByteOrder

	Close() error
}

// HostByteOrder returns the byte order of this machine. Local bus peers
// marshal packed addresses in it.
func HostByteOrder() binary.ByteOrder {
	if binary.NativeEndian.Uint16([]byte{0x00, 0x01}) == 0x0001 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
