// Package privacy masks client identifiers before they reach request logs.
package privacy

import (
	"fmt"
	"net/netip"
)

// AnonymizeIP drops the host-identifying bits of an address so log lines
// cannot be tied back to a single device: IPv4 keeps the /24 network and
// IPv6 the /48 prefix. Empty input maps to "unknown", unparseable input
// to "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}

	if addr.Is4() || addr.Is4In6() {
		v4 := addr.As4()
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}

	v6 := addr.As16()
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		v6[0], v6[1], v6[2], v6[3], v6[4], v6[5])
}
