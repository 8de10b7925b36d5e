package iputils

import (
	"fmt"
	"net"
)

// IPToUint32 converts a net.IP to its uint32 representation.
// Uses BigEndian encoding for consistent network byte order.
// Returns 0 for anything that is not an IPv4 address.
func IPToUint32(ip net.IP) uint32 {
	ipv4 := ip.To4()
	if ipv4 == nil {
		return 0
	}
	return uint32(ipv4[0])<<24 | uint32(ipv4[1])<<16 | uint32(ipv4[2])<<8 | uint32(ipv4[3])
}

// Uint32ToIP converts a uint32 back to net.IP
func Uint32ToIP(ip uint32) net.IP {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// ParseIPv4 parses a dotted-quad string into a uint32. The second return
// value is false for malformed input or anything that is not IPv4.
func ParseIPv4(s string) (uint32, bool) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return 0, false
	}
	return IPToUint32(ip), true
}

// FormatIPv4 renders a uint32 as a dotted-quad string.
func FormatIPv4(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}
