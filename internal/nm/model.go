// Package nm reconciles NetworkManager's per-interface property
// notifications into one merged view per object and derives the device and
// connection lists the console shows.
package nm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/martinsuchenak/nmconsole/internal/bus"
	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrConnectionNotFound = errors.New("connection not found")
)

// SettingsPath prefixes every settings connection object.
const SettingsPath = "/org/freedesktop/NetworkManager/Settings/"

// link remembers the raw paths behind a reference property so it can be
// re-resolved when the target object appears or goes away.
type link struct {
	targets []string
	list    bool
}

// Model is the path -> merged bag mapping.
type Model struct {
	mu      sync.RWMutex
	objects map[string]model.Object
	links   map[string]map[string]link
	order   binary.ByteOrder

	notifier *Notifier

	// onUdi is called, outside the lock, when a device reports a new Udi.
	onUdi func(path, udi string)
}

// NewModel creates an empty model decoding packed addresses with order.
func NewModel(order binary.ByteOrder) *Model {
	if order == nil {
		order = bus.HostByteOrder()
	}
	m := &Model{
		objects: make(map[string]model.Object),
		links:   make(map[string]map[string]link),
		order:   order,
	}
	m.notifier = NewNotifier(m.Devices)
	return m
}

// Notifier returns the change notifier fed by Merge and Remove.
func (m *Model) Notifier() *Notifier {
	return m.notifier
}

// Subscribe registers fn to receive the device list after each burst of
// changes. The returned func unregisters it.
func (m *Model) Subscribe(fn func([]model.Device)) func() {
	return m.notifier.Subscribe(fn)
}

// OnUdi installs the hook called when a device's Udi property changes.
func (m *Model) OnUdi(fn func(path, udi string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUdi = fn
}

// Merge folds a partial property set reported by iface into the bag of path.
// Properties not present in props are left untouched.
func (m *Model) Merge(path, iface string, props map[string]any) {
	var udiChanged string

	m.mu.Lock()
	obj, exists := m.objects[path]
	if !exists {
		obj = model.Object{model.PathKey: path}
		m.objects[path] = obj
	}

	switch {
	case iface == bus.ManagerInterface:
		if v, ok := props["Devices"]; ok {
			m.setLink(path, obj, "Devices", toPaths(v), true)
		}

	case iface == bus.DeviceInterface || strings.HasPrefix(iface, bus.DeviceInterface+"."):
		for _, name := range []string{"Interface", "HwAddress", "IdVendor", "IdModel"} {
			if v, ok := props[name]; ok {
				obj[name] = v
			}
		}
		if v, ok := props["DeviceType"]; ok {
			obj["DeviceType"] = v
		}
		if v, ok := props["State"]; ok {
			if code, err := toUint32(v); err == nil {
				obj["StateCode"] = code
				obj["State"] = DeviceStateLabel(code)
			} else {
				log.Warn("Ignoring device state", "path", path, "error", err)
			}
		}
		if v, ok := props["Ip4Config"]; ok {
			m.setLink(path, obj, "Ip4Config", toPaths(v), false)
		}
		if v, ok := props["Ip6Config"]; ok {
			m.setLink(path, obj, "Ip6Config", toPaths(v), false)
		}
		if v, ok := props["AvailableConnections"]; ok {
			m.setLink(path, obj, "AvailableConnections", toPaths(v), true)
		}
		if v, ok := props["Udi"].(string); ok {
			if obj.String("Udi") != v && v != "" {
				udiChanged = v
			}
			obj["Udi"] = v
		}

	case iface == bus.IP4ConfigInterface:
		if v, ok := props["Addresses"]; ok {
			if addrs, err := DecodeIP4Addresses(m.order, v); err != nil {
				log.Warn("Cannot decode IPv4 addresses", "path", path, "error", err)
			} else {
				obj["Addresses"] = addrs
			}
		}
		m.mergeAddressData(path, obj, props)

	case iface == bus.IP6ConfigInterface:
		if v, ok := props["Addresses"]; ok {
			if addrs, err := DecodeIP6Addresses(v); err != nil {
				log.Warn("Cannot decode IPv6 addresses", "path", path, "error", err)
			} else {
				obj["Addresses"] = addrs
			}
		}
		m.mergeAddressData(path, obj, props)

	case iface == bus.ConnectionInterface:
		if v, ok := props["Unsaved"]; ok {
			obj["Unsaved"] = v
		}
		if v, ok := props["Settings"]; ok {
			switch s := v.(type) {
			case model.Settings:
				obj["Settings"] = s
			case map[string]map[string]any:
				obj["Settings"] = model.Settings(s)
			default:
				log.Warn("Ignoring settings of unexpected type", "path", path, "type", fmt.Sprintf("%T", v))
			}
		}
	}

	if !exists {
		m.relinkTargeting(path)
	}
	hook := m.onUdi
	m.mu.Unlock()

	m.notifier.Schedule()

	if udiChanged != "" && hook != nil {
		hook(path, udiChanged)
	}
}

// mergeAddressData lets AddressData replace the decoded Addresses when a
// newer NetworkManager no longer fills the legacy property.
func (m *Model) mergeAddressData(path string, obj model.Object, props map[string]any) {
	v, ok := props["AddressData"]
	if !ok {
		return
	}
	if _, legacy := props["Addresses"]; legacy {
		return
	}
	addrs, err := DecodeAddressData(v)
	if err != nil {
		log.Warn("Cannot decode address data", "path", path, "error", err)
		return
	}
	obj["Addresses"] = addrs
}

// Remove deletes the bag of path. References held by other objects drop it.
func (m *Model) Remove(path string) {
	m.mu.Lock()
	_, exists := m.objects[path]
	delete(m.objects, path)
	delete(m.links, path)
	if exists {
		m.relinkTargeting(path)
	}
	m.mu.Unlock()

	if exists {
		m.notifier.Schedule()
	}
}

// setLink stores the raw targets of a reference property and resolves it.
// Caller holds the write lock.
func (m *Model) setLink(holder string, obj model.Object, prop string, targets []string, list bool) {
	l := link{targets: targets, list: list}
	if m.links[holder] == nil {
		m.links[holder] = make(map[string]link)
	}
	m.links[holder][prop] = l
	m.resolveLink(holder, obj, prop, l, true)
}

// resolveLink points obj[prop] at the live bags of its targets. Targets that
// are not known are left out (single references are deleted).
func (m *Model) resolveLink(holder string, obj model.Object, prop string, l link, report bool) {
	if l.list {
		resolved := make([]model.Object, 0, len(l.targets))
		for _, t := range l.targets {
			if o := m.lookup(holder, t, report); o != nil {
				resolved = append(resolved, o)
			}
		}
		obj[prop] = resolved
		return
	}

	if len(l.targets) == 0 {
		delete(obj, prop)
		return
	}
	if o := m.lookup(holder, l.targets[0], report); o != nil {
		obj[prop] = o
	} else {
		delete(obj, prop)
	}
}

// lookup resolves one object path. "/" is NetworkManager's null reference.
func (m *Model) lookup(holder, target string, report bool) model.Object {
	if target == "/" || target == "" {
		return nil
	}
	if o, ok := m.objects[target]; ok {
		return o
	}
	if report {
		log.Debug("Unresolved object reference", "holder", holder, "target", target)
	}
	return nil
}

// relinkTargeting re-resolves every reference that names path.
func (m *Model) relinkTargeting(path string) {
	for holder, props := range m.links {
		obj, ok := m.objects[holder]
		if !ok {
			continue
		}
		for prop, l := range props {
			if slices.Contains(l.targets, path) {
				m.resolveLink(holder, obj, prop, l, false)
			}
		}
	}
}

// object returns a shallow copy of the bag of path.
func (m *Model) object(path string) (model.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, ErrObjectNotFound
	}
	out := make(model.Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out, nil
}

// Devices returns the devices referenced by the manager's Devices property,
// in that order. Devices whose objects are not known yet are skipped.
func (m *Model) Devices() []model.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	manager, ok := m.objects[bus.ManagerPath]
	if !ok {
		return []model.Device{}
	}
	refs := manager.Refs("Devices")
	out := make([]model.Device, 0, len(refs))
	for _, o := range refs {
		if o == nil {
			continue
		}
		out = append(out, model.NewDevice(o.String(model.PathKey), o))
	}
	return out
}

// FindDevice returns the device whose interface name is iface.
func (m *Model) FindDevice(iface string) (model.Device, error) {
	for _, d := range m.Devices() {
		if d.Interface == iface {
			return d, nil
		}
	}
	return model.Device{}, ErrDeviceNotFound
}

// DevicePaths returns the paths of every object below the Devices namespace.
func (m *Model) DevicePaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for p := range m.objects {
		if strings.HasPrefix(p, bus.DevicesPath) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Connections returns every known settings connection, sorted by path.
func (m *Model) Connections() []model.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Connection
	for p, o := range m.objects {
		if strings.HasPrefix(p, SettingsPath) {
			out = append(out, model.NewConnection(p, o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Connection finds a connection by object path, UUID or id.
func (m *Model) Connection(ref string) (model.Connection, error) {
	conns := m.Connections()
	for _, c := range conns {
		if c.Path == ref {
			return c, nil
		}
	}
	if _, err := uuid.Parse(ref); err == nil {
		for _, c := range conns {
			if strings.EqualFold(c.UUID, ref) {
				return c, nil
			}
		}
	}
	for _, c := range conns {
		if c.ID == ref {
			return c, nil
		}
	}
	return model.Connection{}, ErrConnectionNotFound
}

// Settings returns the last known settings tree of a connection path.
func (m *Model) Settings(path string) (model.Settings, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, false
	}
	s, ok := obj["Settings"].(model.Settings)
	return s, ok
}

func toPaths(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
