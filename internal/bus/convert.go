package bus

import (
	"github.com/godbus/dbus/v5"

	"github.com/martinsuchenak/nmconsole/internal/model"
)

// plain strips variants and object path types so the rest of the program
// only sees ordinary Go values.
func plain(v any) any {
	switch t := v.(type) {
	case dbus.Variant:
		return plain(t.Value())
	case dbus.ObjectPath:
		return string(t)
	case []dbus.ObjectPath:
		out := make([]string, len(t))
		for i, p := range t {
			out[i] = string(p)
		}
		return out
	case map[string]dbus.Variant:
		return plainMap(t)
	case []map[string]dbus.Variant:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = plainMap(m)
		}
		return out
	case []dbus.Variant:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case [][]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	}
	return v
}

func plainMap(m map[string]dbus.Variant) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func plainSettings(raw map[string]map[string]dbus.Variant) model.Settings {
	out := make(model.Settings, len(raw))
	for group, keys := range raw {
		out[group] = plainMap(keys)
	}
	return out
}

// structuredLegacy lists settings that NetworkManager types as arrays of
// structs. They come back from GetSettings as untyped lists and cannot be
// re-marshalled with their original signature, so they are left out of an
// Update whenever the typed replacement is present.
var structuredLegacy = map[string]map[string]string{
	"ipv6": {"addresses": "address-data", "routes": "route-data"},
}

// wireSettings wraps every leaf in a variant for Settings.Connection.Update.
func wireSettings(s model.Settings) map[string]map[string]dbus.Variant {
	out := make(map[string]map[string]dbus.Variant, len(s))
	for group, keys := range s {
		g := make(map[string]dbus.Variant, len(keys))
		for k, v := range keys {
			if replacement, ok := structuredLegacy[group][k]; ok {
				if _, has := keys[replacement]; has {
					continue
				}
			}
			g[k] = dbus.MakeVariant(v)
		}
		out[group] = g
	}
	return out
}
