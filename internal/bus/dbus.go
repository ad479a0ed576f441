package bus

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

// Kinds of bus the client can connect to.
const (
	KindSystem  = "system"
	KindSession = "session"
)

// DBus implements Bus on top of godbus.
type DBus struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	events  chan Event
	order   binary.ByteOrder

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the system or session bus and subscribes to every signal
// NetworkManager emits.
func Dial(ctx context.Context, kind string) (*DBus, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch kind {
	case KindSession:
		conn, err = dbus.ConnectSessionBus(dbus.WithContext(ctx))
	case KindSystem, "":
		conn, err = dbus.ConnectSystemBus(dbus.WithContext(ctx))
	default:
		return nil, fmt.Errorf("unknown bus kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s bus: %w", kind, err)
	}

	if err := conn.AddMatchSignalContext(ctx, dbus.WithMatchSender(Service)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribing to %s signals: %w", Service, err)
	}

	b := &DBus{
		conn:    conn,
		signals: make(chan *dbus.Signal, 64),
		events:  make(chan Event, 64),
		order:   HostByteOrder(),
		done:    make(chan struct{}),
	}
	conn.Signal(b.signals)
	go b.pump()

	log.Info("Connected to message bus", "kind", kind, "service", Service)
	return b, nil
}

// Events implements Bus.
func (b *DBus) Events() <-chan Event {
	return b.events
}

// ByteOrder implements Bus.
func (b *DBus) ByteOrder() binary.ByteOrder {
	return b.order
}

// Close implements Bus.
func (b *DBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.conn.RemoveSignal(b.signals)
		err = b.conn.Close()
	})
	return err
}

// ManagedObjects implements Bus.
func (b *DBus) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	var raw map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := b.conn.Object(Service, RootPath)
	if err := obj.CallWithContext(ctx, ObjectManagerInterface+".GetManagedObjects", 0).Store(&raw); err != nil {
		return nil, fmt.Errorf("listing managed objects: %w", err)
	}

	out := make(ManagedObjects, len(raw))
	for path, ifaces := range raw {
		m := make(map[string]map[string]any, len(ifaces))
		for iface, props := range ifaces {
			m[iface] = plainMap(props)
		}
		out[string(path)] = m
	}
	return out, nil
}

// GetAll implements Bus.
func (b *DBus) GetAll(ctx context.Context, path, iface string) (map[string]any, error) {
	var raw map[string]dbus.Variant
	obj := b.conn.Object(Service, dbus.ObjectPath(path))
	if err := obj.CallWithContext(ctx, PropertiesInterface+".GetAll", 0, iface).Store(&raw); err != nil {
		return nil, fmt.Errorf("getting %s properties of %s: %w", iface, path, err)
	}
	return plainMap(raw), nil
}

// GetSettings implements Bus.
func (b *DBus) GetSettings(ctx context.Context, path string) (model.Settings, error) {
	var raw map[string]map[string]dbus.Variant
	obj := b.conn.Object(Service, dbus.ObjectPath(path))
	if err := obj.CallWithContext(ctx, ConnectionInterface+".GetSettings", 0).Store(&raw); err != nil {
		return nil, fmt.Errorf("getting settings of %s: %w", path, err)
	}
	return plainSettings(raw), nil
}

// UpdateSettings implements Bus.
func (b *DBus) UpdateSettings(ctx context.Context, path string, settings model.Settings) error {
	obj := b.conn.Object(Service, dbus.ObjectPath(path))
	call := obj.CallWithContext(ctx, ConnectionInterface+".Update", 0, wireSettings(settings))
	if call.Err != nil {
		return fmt.Errorf("updating settings of %s: %w", path, call.Err)
	}
	return nil
}

// pump turns raw signals into Events until the connection goes away.
func (b *DBus) pump() {
	defer close(b.events)
	for {
		select {
		case <-b.done:
			return
		case sig, ok := <-b.signals:
			if !ok {
				return
			}
			for _, ev := range translateSignal(sig) {
				select {
				case b.events <- ev:
				case <-b.done:
					return
				}
			}
		}
	}
}

// translateSignal maps one D-Bus signal to zero or more Events.
func translateSignal(sig *dbus.Signal) []Event {
	if sig == nil {
		return nil
	}
	dot := strings.LastIndex(sig.Name, ".")
	if dot < 0 {
		return nil
	}
	iface, member := sig.Name[:dot], sig.Name[dot+1:]
	path := string(sig.Path)

	switch {
	case iface == ObjectManagerInterface && member == "InterfacesAdded":
		var objPath dbus.ObjectPath
		var ifaces map[string]map[string]dbus.Variant
		if err := dbus.Store(sig.Body, &objPath, &ifaces); err != nil {
			log.Warn("Malformed InterfacesAdded signal", "error", err)
			return nil
		}
		m := make(map[string]map[string]any, len(ifaces))
		for name, props := range ifaces {
			m[name] = plainMap(props)
		}
		return []Event{{Kind: ObjectAdded, Path: string(objPath), Interfaces: m}}

	case iface == ObjectManagerInterface && member == "InterfacesRemoved":
		var objPath dbus.ObjectPath
		var names []string
		if err := dbus.Store(sig.Body, &objPath, &names); err != nil {
			log.Warn("Malformed InterfacesRemoved signal", "error", err)
			return nil
		}
		events := make([]Event, 0, len(names))
		for _, name := range names {
			events = append(events, Event{Kind: InterfaceRemoved, Path: string(objPath), Interface: name})
		}
		return events

	case iface == PropertiesInterface && member == SignalPropertiesChanged:
		var target string
		var changed map[string]dbus.Variant
		var invalidated []string
		if err := dbus.Store(sig.Body, &target, &changed, &invalidated); err != nil {
			log.Warn("Malformed PropertiesChanged signal", "path", path, "error", err)
			return nil
		}
		return []Event{{
			Kind:       SignalEmitted,
			Path:       path,
			Interface:  target,
			Member:     SignalPropertiesChanged,
			Properties: plainMap(changed),
		}}

	case member == SignalPropertiesChanged:
		// NetworkManager also emits its own per-interface PropertiesChanged
		// with a single a{sv} argument.
		var changed map[string]dbus.Variant
		if err := dbus.Store(sig.Body, &changed); err != nil {
			log.Warn("Malformed PropertiesChanged signal", "path", path, "interface", iface, "error", err)
			return nil
		}
		return []Event{{
			Kind:       SignalEmitted,
			Path:       path,
			Interface:  iface,
			Member:     SignalPropertiesChanged,
			Properties: plainMap(changed),
		}}
	}

	body := make([]any, len(sig.Body))
	for i, v := range sig.Body {
		body[i] = plain(v)
	}
	return []Event{{Kind: SignalEmitted, Path: path, Interface: iface, Member: member, Body: body}}
}
