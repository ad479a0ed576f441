// Package settings stages edits to connection settings as sparse overlays
// until they are applied to NetworkManager.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

var (
	ErrEmptyGroup = errors.New("settings group is required")
	ErrEmptyKey   = errors.New("settings key is required")
)

// Remote is the authoritative side of a connection's settings.
type Remote interface {
	// Authoritative returns the last known good tree of conn.
	Authoritative(conn string) (model.Settings, error)
	// Update replaces the remote tree of conn.
	Update(ctx context.Context, conn string, s model.Settings) error
	// Refresh re-reads the remote tree of conn.
	Refresh(ctx context.Context, conn string) (model.Settings, error)
	// Resolve returns the current object path of the connection with uuid.
	Resolve(uuid string) (string, error)
}

// Store persists drafts across restarts, keyed by connection UUID. Object
// paths are not stable across NetworkManager restarts.
type Store interface {
	SaveDraft(ctx context.Context, uuid string, s model.Settings) error
	DeleteDraft(ctx context.Context, uuid string) error
	LoadDrafts(ctx context.Context) (map[string]model.Settings, error)
}

type draft struct {
	tree    model.Settings
	uuid    string
	version uint64
}

// Overlay holds the pending edits of every connection, keyed by object path.
type Overlay struct {
	mu     sync.Mutex
	drafts map[string]*draft
	seq    uint64 // only grows; stamps every draft change
	remote Remote
	store  Store
}

// NewOverlay creates an overlay applying through remote. store may be nil.
func NewOverlay(remote Remote, store Store) *Overlay {
	return &Overlay{
		drafts: make(map[string]*draft),
		remote: remote,
		store:  store,
	}
}

// Load restores the drafts saved in the store.
func (o *Overlay) Load(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	saved, err := o.store.LoadDrafts(ctx)
	if err != nil {
		return fmt.Errorf("loading drafts: %w", err)
	}
	restored := 0
	for uuid, tree := range saved {
		if len(tree) == 0 {
			continue
		}
		conn, err := o.remote.Resolve(uuid)
		if err != nil {
			log.Warn("Keeping draft of unknown connection", "uuid", uuid, "error", err)
			continue
		}
		o.mu.Lock()
		o.seq++
		o.drafts[conn] = &draft{tree: tree, uuid: uuid, version: o.seq}
		o.mu.Unlock()
		restored++
	}
	log.Info("Restored pending edits", "connections", restored)
	return nil
}

// identity returns the UUID of conn from its authoritative tree, or "".
func (o *Overlay) identity(conn string) string {
	auth, err := o.remote.Authoritative(conn)
	if err != nil {
		return ""
	}
	v, _ := auth.Get("connection", "uuid")
	uuid, _ := v.(string)
	return uuid
}

// Set stages one leaf value, creating the group on demand.
func (o *Overlay) Set(ctx context.Context, conn, group, key string, value any) error {
	if group == "" {
		return ErrEmptyGroup
	}
	if key == "" {
		return ErrEmptyKey
	}

	uuid := o.identity(conn)

	o.mu.Lock()
	d, ok := o.drafts[conn]
	if !ok {
		d = &draft{tree: model.Settings{}}
		o.drafts[conn] = d
	}
	if d.uuid == "" {
		d.uuid = uuid
	}
	g, ok := d.tree[group]
	if !ok {
		g = make(map[string]any)
		d.tree[group] = g
	}
	g[key] = value
	o.seq++
	d.version = o.seq
	snapshot, stored := d.tree.Clone(), d.uuid
	o.mu.Unlock()

	log.Debug("Staged setting", "connection", conn, "group", group, "key", key)
	return o.save(ctx, stored, snapshot)
}

// Unset drops one staged leaf. Empty groups and drafts are removed.
func (o *Overlay) Unset(ctx context.Context, conn, group, key string) error {
	o.mu.Lock()
	d, ok := o.drafts[conn]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	if g, ok := d.tree[group]; ok {
		delete(g, key)
		if len(g) == 0 {
			delete(d.tree, group)
		}
	}
	o.seq++
	d.version = o.seq
	snapshot, uuid := d.tree.Clone(), d.uuid
	if len(snapshot) == 0 {
		delete(o.drafts, conn)
	}
	o.mu.Unlock()

	return o.save(ctx, uuid, snapshot)
}

// Pending returns a copy of the staged edits of conn, or nil.
func (o *Overlay) Pending(conn string) model.Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.drafts[conn]
	if !ok {
		return nil
	}
	return d.tree.Clone()
}

// HasPending reports whether conn has staged edits.
func (o *Overlay) HasPending(conn string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.drafts[conn]
	return ok
}

// Effective returns authoritative with the staged edits of conn on top.
// Staged values take the type of the authoritative value they replace.
func (o *Overlay) Effective(conn string, authoritative model.Settings) model.Settings {
	pending := o.Pending(conn)
	for group, keys := range pending {
		for k, v := range keys {
			if like, ok := authoritative.Get(group, k); ok {
				keys[k] = Coerce(v, like)
			}
		}
	}
	return authoritative.Merge(pending)
}

// View fills in the pending and effective trees of c.
func (o *Overlay) View(c model.Connection) model.Connection {
	c.Pending = o.Pending(c.Path)
	c.Effective = o.Effective(c.Path, c.Settings)
	return c
}

// Discard drops every staged edit of conn.
func (o *Overlay) Discard(ctx context.Context, conn string) error {
	o.mu.Lock()
	var uuid string
	if d, ok := o.drafts[conn]; ok {
		uuid = d.uuid
		delete(o.drafts, conn)
	}
	o.mu.Unlock()

	if o.store == nil {
		return nil
	}
	if uuid == "" {
		uuid = o.identity(conn)
	}
	if uuid == "" {
		return nil
	}
	if err := o.store.DeleteDraft(ctx, uuid); err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	return nil
}

// Apply submits the effective tree of conn. The staged edits are cleared
// only once the remote accepts them; on failure they are kept and the
// authoritative tree is re-read so the caller sees the real remote state.
// Edits staged while the update was in flight survive either way.
func (o *Overlay) Apply(ctx context.Context, conn string) error {
	o.mu.Lock()
	d, ok := o.drafts[conn]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	version, uuid := d.version, d.uuid
	o.mu.Unlock()

	authoritative, err := o.remote.Authoritative(conn)
	if err != nil {
		return err
	}
	effective := o.Effective(conn, authoritative)

	if err := o.remote.Update(ctx, conn, effective); err != nil {
		log.Warn("Applying settings failed", "connection", conn, "error", err)
		if _, rerr := o.remote.Refresh(ctx, conn); rerr != nil {
			log.Warn("Refreshing settings failed", "connection", conn, "error", rerr)
		}
		return err
	}

	o.mu.Lock()
	cleared := false
	if cur, ok := o.drafts[conn]; ok && cur == d && cur.version == version {
		delete(o.drafts, conn)
		cleared = true
	}
	o.mu.Unlock()

	log.Info("Applied settings", "connection", conn)
	if cleared && o.store != nil && uuid != "" {
		if err := o.store.DeleteDraft(ctx, uuid); err != nil {
			log.Warn("Deleting applied draft failed", "connection", conn, "error", err)
		}
	}
	return nil
}

func (o *Overlay) save(ctx context.Context, uuid string, tree model.Settings) error {
	if o.store == nil {
		return nil
	}
	if uuid == "" {
		log.Debug("Not persisting draft of a connection without a UUID")
		return nil
	}
	var err error
	if len(tree) == 0 {
		err = o.store.DeleteDraft(ctx, uuid)
	} else {
		err = o.store.SaveDraft(ctx, uuid, tree)
	}
	if err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	return nil
}
