package model

// Object is the merged property bag of one bus object. Property values are
// plain Go values: strings, unsigned integers, bools, slices, nested maps, or
// another Object for resolved references.
type Object map[string]any

// String returns the named property as a string, or "" when absent or of
// another type.
func (o Object) String(name string) string {
	if o == nil {
		return ""
	}
	s, _ := o[name].(string)
	return s
}

// Uint32 returns the named property as a uint32.
func (o Object) Uint32(name string) uint32 {
	if o == nil {
		return 0
	}
	switch v := o[name].(type) {
	case uint32:
		return v
	case int:
		return uint32(v)
	case int32:
		return uint32(v)
	case uint64:
		return uint32(v)
	case int64:
		return uint32(v)
	case float64:
		return uint32(v)
	}
	return 0
}

// Bool returns the named property as a bool.
func (o Object) Bool(name string) bool {
	if o == nil {
		return false
	}
	b, _ := o[name].(bool)
	return b
}

// Ref returns the resolved object a reference property points at. A nil
// result means the reference is unset or not yet resolved.
func (o Object) Ref(name string) Object {
	if o == nil {
		return nil
	}
	r, _ := o[name].(Object)
	return r
}

// Refs returns a list of resolved references. Unresolved entries are nil.
func (o Object) Refs(name string) []Object {
	if o == nil {
		return nil
	}
	r, _ := o[name].([]Object)
	return r
}

// Addresses returns the decoded address list of an IP config object.
func (o Object) Addresses() []IPAddress {
	if o == nil {
		return nil
	}
	a, _ := o["Addresses"].([]IPAddress)
	return a
}
