package nm

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/martinsuchenak/nmconsole/internal/model"
)

// NM_DEVICE_STATE_* labels. Codes not in the table map to "".
var deviceStateLabels = map[uint32]string{
	0:   "?",
	10:  "",
	20:  "Not available",
	30:  "Disconnected",
	40:  "Preparing",
	50:  "Configuring",
	60:  "Authenticating",
	70:  "Configuring IP",
	80:  "Checking IP",
	90:  "Waiting",
	100: "Active",
	110: "Deactivating",
	120: "Failed",
}

// DeviceStateLabel returns the display label of a device state code.
func DeviceStateLabel(code uint32) string {
	return deviceStateLabels[code]
}

// DecodeIP4 turns a packed IPv4 address into dotted decimal. NetworkManager
// stores the address bytes in network order inside a native integer, so the
// transport byte order tells which end of the integer holds the first octet.
func DecodeIP4(order binary.ByteOrder, packed uint32) string {
	var b [4]byte
	order.PutUint32(b[:], packed)
	return netip.AddrFrom4(b).String()
}

// DecodeIP6 turns a 16 byte array into the canonical text form of RFC 5952:
// lower case hex, leading zeros dropped and the first longest run of zero
// groups collapsed to "::". This is not a per-byte hex dump.
func DecodeIP6(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	if len(raw) != 16 {
		return "", fmt.Errorf("ipv6 address has %d bytes", len(raw))
	}
	return netip.AddrFrom16([16]byte(raw)).String(), nil
}

// DecodeIP4Addresses decodes the aau Addresses property of IP4Config. Each
// entry is [address, prefix, gateway].
func DecodeIP4Addresses(order binary.ByteOrder, v any) ([]model.IPAddress, error) {
	var entries [][]uint32
	switch t := v.(type) {
	case [][]uint32:
		entries = t
	case []any:
		for _, e := range t {
			words, err := toUint32s(e)
			if err != nil {
				return nil, err
			}
			entries = append(entries, words)
		}
	default:
		return nil, fmt.Errorf("unexpected ip4 address list type %T", v)
	}

	out := make([]model.IPAddress, 0, len(entries))
	for _, e := range entries {
		if len(e) < 2 {
			return nil, fmt.Errorf("ip4 address entry has %d fields", len(e))
		}
		a := model.IPAddress{Address: DecodeIP4(order, e[0]), Prefix: e[1]}
		if len(e) > 2 && e[2] != 0 {
			a.Gateway = DecodeIP4(order, e[2])
		}
		out = append(out, a)
	}
	return out, nil
}

// DecodeIP6Addresses decodes the a(ayuay) Addresses property of IP6Config.
func DecodeIP6Addresses(v any) ([]model.IPAddress, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected ip6 address list type %T", v)
	}

	out := make([]model.IPAddress, 0, len(list))
	for _, e := range list {
		fields, ok := e.([]any)
		if !ok || len(fields) < 2 {
			return nil, fmt.Errorf("malformed ip6 address entry %v", e)
		}
		raw, _ := fields[0].([]byte)
		addr, err := DecodeIP6(raw)
		if err != nil {
			return nil, err
		}
		prefix, err := toUint32(fields[1])
		if err != nil {
			return nil, err
		}
		a := model.IPAddress{Address: addr, Prefix: prefix}
		if len(fields) > 2 {
			gw, _ := fields[2].([]byte)
			if g, err := DecodeIP6(gw); err == nil && g != "::" {
				a.Gateway = g
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// DecodeAddressData decodes the aa{sv} AddressData property that newer
// NetworkManager versions publish next to Addresses.
func DecodeAddressData(v any) ([]model.IPAddress, error) {
	list, ok := v.([]map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected address data type %T", v)
	}
	out := make([]model.IPAddress, 0, len(list))
	for _, m := range list {
		addr, _ := m["address"].(string)
		prefix, err := toUint32(m["prefix"])
		if err != nil {
			return nil, err
		}
		out = append(out, model.IPAddress{Address: addr, Prefix: prefix})
	}
	return out, nil
}

func toUint32s(v any) ([]uint32, error) {
	switch t := v.(type) {
	case []uint32:
		return t, nil
	case []any:
		out := make([]uint32, len(t))
		for i, e := range t {
			n, err := toUint32(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected word array type %T", v)
}

func toUint32(v any) (uint32, error) {
	switch t := v.(type) {
	case uint32:
		return t, nil
	case int:
		return uint32(t), nil
	case int32:
		return uint32(t), nil
	case uint64:
		return uint32(t), nil
	case int64:
		return uint32(t), nil
	case float64:
		return uint32(t), nil
	}
	return 0, fmt.Errorf("unexpected integer type %T", v)
}
