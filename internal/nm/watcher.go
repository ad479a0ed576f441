package nm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/martinsuchenak/nmconsole/internal/bus"
	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/model"
	"github.com/martinsuchenak/nmconsole/internal/udev"
	"github.com/martinsuchenak/nmconsole/internal/worker"
)

// ErrBusClosed is returned by Run when the bus stops delivering events.
var ErrBusClosed = errors.New("bus closed")

// Enricher looks up hardware metadata for a device Udi.
type Enricher interface {
	Lookup(ctx context.Context, sysfsPath string) (udev.Info, error)
}

// Submitter runs background jobs. *worker.Pool implements it.
type Submitter interface {
	Go(id string, fn func(context.Context) error)
}

// Watcher feeds bus events into a Model. All events are applied on the
// goroutine running Run; remote refreshes run on the job pool and merge
// their results back when they complete.
type Watcher struct {
	bus      bus.Bus
	model    *Model
	jobs     Submitter
	enricher Enricher
	timeout  time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithEnricher enables udev enrichment of devices.
func WithEnricher(e Enricher) Option {
	return func(w *Watcher) { w.enricher = e }
}

// WithCallTimeout bounds each remote call made by the watcher.
func WithCallTimeout(d time.Duration) Option {
	return func(w *Watcher) { w.timeout = d }
}

// NewWatcher wires b into m. Background calls are submitted to jobs.
func NewWatcher(b bus.Bus, m *Model, jobs Submitter, opts ...Option) *Watcher {
	w := &Watcher{
		bus:     b,
		model:   m,
		jobs:    jobs,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.enricher != nil {
		m.OnUdi(w.enrich)
	}
	return w
}

// Model returns the model the watcher feeds.
func (w *Watcher) Model() *Model {
	return w.model
}

// Sync loads every object the service currently exports, as if each had just
// been added, and delivers one notification for the lot.
func (w *Watcher) Sync(ctx context.Context) error {
	objects, err := w.bus.ManagedObjects(ctx)
	if err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}
	for path, ifaces := range objects {
		w.objectAdded(path, ifaces)
	}
	w.model.notifier.Flush()
	log.Info("Initial sync complete", "objects", len(objects), "devices", len(w.model.Devices()))
	return nil
}

// Run applies events until ctx is done or the bus closes. After each
// scheduling turn (the event that woke the loop plus everything already
// queued behind it) pending changes are flushed as one notification.
func (w *Watcher) Run(ctx context.Context) error {
	events := w.bus.Events()
	kick := w.model.notifier.Kick()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrBusClosed
			}
			w.handle(ev)
		case <-kick:
		}

		if !w.drain(events) {
			w.model.notifier.Flush()
			return ErrBusClosed
		}
		w.model.notifier.Flush()
	}
}

// drain applies every event already queued without blocking. It reports
// false if the event channel closed.
func (w *Watcher) drain(events <-chan bus.Event) bool {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			w.handle(ev)
		default:
			return true
		}
	}
}

func (w *Watcher) handle(ev bus.Event) {
	log.Trace("Bus event", "kind", ev.Kind.String(), "path", ev.Path, "interface", ev.Interface, "member", ev.Member)

	switch ev.Kind {
	case bus.ObjectAdded:
		w.objectAdded(ev.Path, ev.Interfaces)
	case bus.ObjectRemoved, bus.InterfaceRemoved:
		w.model.Remove(ev.Path)
	case bus.InterfaceAdded:
		w.interfaceAdded(ev.Path, ev.Interface, ev.Properties)
	case bus.SignalEmitted:
		w.signal(ev)
	}
}

func (w *Watcher) objectAdded(path string, ifaces map[string]map[string]any) {
	for iface, props := range ifaces {
		w.interfaceAdded(path, iface, props)
	}
}

func (w *Watcher) interfaceAdded(path, iface string, props map[string]any) {
	w.model.Merge(path, iface, props)
	if iface == bus.ConnectionInterface {
		w.refreshSettings(path)
	}
}

func (w *Watcher) signal(ev bus.Event) {
	switch ev.Member {
	case bus.SignalPropertiesChanged:
		w.model.Merge(ev.Path, ev.Interface, ev.Properties)
	case bus.SignalUpdated:
		w.refreshSettings(ev.Path)
		// Some NetworkManager versions do not announce Ip4Config changes
		// that follow a connection update, so re-read every device.
		w.refreshAllDevices()
	}
}

func (w *Watcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.timeout > 0 {
		return context.WithTimeout(ctx, w.timeout)
	}
	return context.WithCancel(ctx)
}

// refreshSettings re-reads the settings tree of a connection in the
// background and merges it when it arrives.
func (w *Watcher) refreshSettings(path string) {
	w.jobs.Go("settings:"+path, func(ctx context.Context) error {
		_, err := w.RefreshSettings(ctx, path)
		return err
	})
}

// RefreshSettings fetches and merges the settings of one connection.
func (w *Watcher) RefreshSettings(ctx context.Context, path string) (model.Settings, error) {
	ctx, cancel := w.callContext(ctx)
	defer cancel()
	s, err := w.bus.GetSettings(ctx, path)
	if err != nil {
		return nil, &RemoteError{Op: "GetSettings", Path: path, Err: err}
	}
	w.model.Merge(path, bus.ConnectionInterface, map[string]any{"Settings": s})
	return s, nil
}

func (w *Watcher) refreshAllDevices() {
	for _, path := range w.model.DevicePaths() {
		path := path
		w.jobs.Go("device:"+path, func(ctx context.Context) error {
			return w.refreshDevice(ctx, path)
		})
	}
}

func (w *Watcher) refreshDevice(ctx context.Context, path string) error {
	ctx, cancel := w.callContext(ctx)
	defer cancel()
	props, err := w.bus.GetAll(ctx, path, bus.DeviceInterface)
	if err != nil {
		return &RemoteError{Op: "GetAll", Path: path, Err: err}
	}
	w.model.Merge(path, bus.DeviceInterface, props)
	return nil
}

// Resync re-reads every device synchronously. The scheduler calls it
// periodically to catch notifications NetworkManager never sent.
func (w *Watcher) Resync(ctx context.Context) error {
	var errs []error
	for _, path := range w.model.DevicePaths() {
		if err := w.refreshDevice(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enrich runs udev for a device whose Udi changed. Failures only log; the
// vendor and model simply stay unset.
func (w *Watcher) enrich(path, udi string) {
	w.jobs.Go("udev:"+path, func(ctx context.Context) error {
		ctx, cancel := w.callContext(ctx)
		defer cancel()
		info, err := w.enricher.Lookup(ctx, udi)
		if err != nil {
			log.Warn("Device enrichment failed", "path", path, "udi", udi, "error", err)
			return nil
		}
		if props := info.Props(); len(props) > 0 {
			w.model.Merge(path, bus.DeviceInterface, props)
		}
		return nil
	})
}

var _ Submitter = (*worker.Pool)(nil)
