package nm

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

// RemoteError wraps a failed call to NetworkManager.
type RemoteError struct {
	Op   string
	Path string
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Remote submits and re-reads connection settings through the bus.
type Remote struct {
	watcher *Watcher
}

// NewRemote returns the settings remote backed by w's bus and model.
func NewRemote(w *Watcher) *Remote {
	return &Remote{watcher: w}
}

// Authoritative returns the last settings tree the model received for path.
func (r *Remote) Authoritative(path string) (model.Settings, error) {
	s, ok := r.watcher.model.Settings(path)
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return s, nil
}

// Update submits a complete settings tree to the connection at path. On
// success the tree is re-read at once rather than waiting for the Updated
// signal, so callers see what NetworkManager actually stored.
func (r *Remote) Update(ctx context.Context, path string, s model.Settings) error {
	callCtx, cancel := r.watcher.callContext(ctx)
	err := r.watcher.bus.UpdateSettings(callCtx, path, s)
	cancel()
	if err != nil {
		return &RemoteError{Op: "Update", Path: path, Err: err}
	}
	if _, err := r.watcher.RefreshSettings(ctx, path); err != nil {
		log.Warn("Re-reading applied settings failed", "path", path, "error", err)
	}
	return nil
}

// Refresh re-reads the settings of path and merges them into the model.
func (r *Remote) Refresh(ctx context.Context, path string) (model.Settings, error) {
	return r.watcher.RefreshSettings(ctx, path)
}

// Resolve returns the current object path of the connection with uuid.
func (r *Remote) Resolve(uuid string) (string, error) {
	c, err := r.watcher.model.Connection(uuid)
	if err != nil || !strings.EqualFold(c.UUID, uuid) {
		return "", ErrConnectionNotFound
	}
	return c.Path, nil
}
