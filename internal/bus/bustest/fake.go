// Package bustest provides an in-memory bus.Bus for tests.
package bustest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/martinsuchenak/nmconsole/internal/bus"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

// ErrRejected is returned by UpdateSettings when the fake is told to fail.
var ErrRejected = errors.New("update rejected")

// Fake is an in-memory bus. Objects and settings are plain maps that tests
// fill directly; events are pushed with Emit.
type Fake struct {
	mu       sync.Mutex
	objects  bus.ManagedObjects
	settings map[string]model.Settings
	order    binary.ByteOrder
	events   chan bus.Event
	closed   bool

	// UpdateErr, when set, makes UpdateSettings fail without storing.
	UpdateErr error
	// GetAllErr, when set, makes GetAll fail.
	GetAllErr error

	Updates      []Update
	GetAllCalls  []string
	SettingsRead []string
}

// Update records one UpdateSettings call.
type Update struct {
	Path     string
	Settings model.Settings
}

// New creates an empty fake using big-endian packing.
func New() *Fake {
	return &Fake{
		objects:  bus.ManagedObjects{},
		settings: map[string]model.Settings{},
		order:    binary.BigEndian,
		events:   make(chan bus.Event, 256),
	}
}

// SetByteOrder overrides the reported transport byte order.
func (f *Fake) SetByteOrder(order binary.ByteOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = order
}

// AddObject registers an interface of an object for ManagedObjects and GetAll.
func (f *Fake) AddObject(path, iface string, props map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects[path] == nil {
		f.objects[path] = map[string]map[string]any{}
	}
	f.objects[path][iface] = props
}

// SetSettings sets the authoritative settings of a connection.
func (f *Fake) SetSettings(path string, s model.Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[path] = s.Clone()
}

// Settings returns the stored settings of a connection.
func (f *Fake) Settings(path string) model.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings[path].Clone()
}

// Emit queues an event.
func (f *Fake) Emit(ev bus.Event) {
	f.events <- ev
}

// Events implements bus.Bus.
func (f *Fake) Events() <-chan bus.Event {
	return f.events
}

// ManagedObjects implements bus.Bus.
func (f *Fake) ManagedObjects(ctx context.Context) (bus.ManagedObjects, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(bus.ManagedObjects, len(f.objects))
	for p, ifaces := range f.objects {
		m := make(map[string]map[string]any, len(ifaces))
		for i, props := range ifaces {
			m[i] = copyMap(props)
		}
		out[p] = m
	}
	return out, nil
}

// GetAll implements bus.Bus.
func (f *Fake) GetAll(ctx context.Context, path, iface string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetAllCalls = append(f.GetAllCalls, path)
	if f.GetAllErr != nil {
		return nil, f.GetAllErr
	}
	props, ok := f.objects[path][iface]
	if !ok {
		return nil, fmt.Errorf("no interface %s on %s", iface, path)
	}
	return copyMap(props), nil
}

// GetSettings implements bus.Bus.
func (f *Fake) GetSettings(ctx context.Context, path string) (model.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SettingsRead = append(f.SettingsRead, path)
	s, ok := f.settings[path]
	if !ok {
		return nil, fmt.Errorf("no settings for %s", path)
	}
	return s.Clone(), nil
}

// UpdateSettings implements bus.Bus.
func (f *Fake) UpdateSettings(ctx context.Context, path string, s model.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates = append(f.Updates, Update{Path: path, Settings: s.Clone()})
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.settings[path] = s.Clone()
	return nil
}

// ByteOrder implements bus.Bus.
func (f *Fake) ByteOrder() binary.ByteOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order
}

// Close implements bus.Bus.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
