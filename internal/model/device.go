package model

import "strconv"

// DeviceTypeLoopback is NM_DEVICE_TYPE_LOOPBACK. The console hides it from the
// interface table.
const DeviceTypeLoopback = 14

// IPAddress is one decoded address entry of an IP4Config or IP6Config object.
type IPAddress struct {
	Address string `json:"address"`
	Prefix  uint32 `json:"prefix"`
	Gateway string `json:"gateway,omitempty"`
}

// CIDR renders the address as "addr/prefix".
func (a IPAddress) CIDR() string {
	return a.Address + "/" + strconv.FormatUint(uint64(a.Prefix), 10)
}

// Device is the flattened view of a device object handed to the API, the MCP
// tools and the UI.
type Device struct {
	Path                 string      `json:"path"`
	Interface            string      `json:"interface"`
	DeviceType           uint32      `json:"device_type"`
	State                string      `json:"state"`
	HwAddress            string      `json:"hw_address,omitempty"`
	Udi                  string      `json:"udi,omitempty"`
	IdVendor             string      `json:"vendor,omitempty"`
	IdModel              string      `json:"model,omitempty"`
	IP4                  []IPAddress `json:"ip4,omitempty"`
	IP6                  []IPAddress `json:"ip6,omitempty"`
	AvailableConnections []string    `json:"available_connections,omitempty"`
}

// Loopback reports whether the device is the loopback interface.
func (d Device) Loopback() bool {
	return d.DeviceType == DeviceTypeLoopback
}

// Addresses returns every IPv4 then IPv6 address in CIDR form.
func (d Device) Addresses() []string {
	out := make([]string, 0, len(d.IP4)+len(d.IP6))
	for _, a := range d.IP4 {
		out = append(out, a.CIDR())
	}
	for _, a := range d.IP6 {
		out = append(out, a.CIDR())
	}
	return out
}

// NewDevice builds the device view of a merged bag. IP configs that have not
// been resolved yet simply contribute no addresses.
func NewDevice(path string, o Object) Device {
	d := Device{
		Path:       path,
		Interface:  o.String("Interface"),
		DeviceType: o.Uint32("DeviceType"),
		State:      o.String("State"),
		HwAddress:  o.String("HwAddress"),
		Udi:        o.String("Udi"),
		IdVendor:   o.String("IdVendor"),
		IdModel:    o.String("IdModel"),
		IP4:        o.Ref("Ip4Config").Addresses(),
		IP6:        o.Ref("Ip6Config").Addresses(),
	}
	for _, c := range o.Refs("AvailableConnections") {
		if p := c.String(PathKey); p != "" {
			d.AvailableConnections = append(d.AvailableConnections, p)
		}
	}
	return d
}

// PathKey is the property under which every merged bag records its own object
// path, so a resolved reference can be traced back to it.
const PathKey = "$path"
