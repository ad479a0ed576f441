package model

// Settings is a connection settings tree: group -> key -> value.
type Settings map[string]map[string]any

// Clone returns a copy of the tree. Leaf values are shared.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	out := make(Settings, len(s))
	for group, keys := range s {
		g := make(map[string]any, len(keys))
		for k, v := range keys {
			g[k] = v
		}
		out[group] = g
	}
	return out
}

// Merge returns base with overlay applied on top. Neither input is modified.
func (s Settings) Merge(overlay Settings) Settings {
	out := s.Clone()
	if out == nil {
		out = Settings{}
	}
	for group, keys := range overlay {
		g, ok := out[group]
		if !ok {
			g = make(map[string]any, len(keys))
			out[group] = g
		}
		for k, v := range keys {
			g[k] = v
		}
	}
	return out
}

// Get returns a leaf and whether it is set.
func (s Settings) Get(group, key string) (any, bool) {
	g, ok := s[group]
	if !ok {
		return nil, false
	}
	v, ok := g[key]
	return v, ok
}

// Connection is the view of a NetworkManager settings connection.
type Connection struct {
	Path      string   `json:"path"`
	ID        string   `json:"id"`
	UUID      string   `json:"uuid"`
	Type      string   `json:"type"`
	Unsaved   bool     `json:"unsaved"`
	Settings  Settings `json:"settings,omitempty"`
	Pending   Settings `json:"pending,omitempty"`
	Effective Settings `json:"effective,omitempty"`
}

// NewConnection builds the connection view of a merged settings bag.
func NewConnection(path string, o Object) Connection {
	c := Connection{Path: path, Unsaved: o.Bool("Unsaved")}
	if s, ok := o["Settings"].(Settings); ok {
		c.Settings = s
		if v, ok := s.Get("connection", "id"); ok {
			c.ID, _ = v.(string)
		}
		if v, ok := s.Get("connection", "uuid"); ok {
			c.UUID, _ = v.(string)
		}
		if v, ok := s.Get("connection", "type"); ok {
			c.Type, _ = v.(string)
		}
	}
	return c
}
