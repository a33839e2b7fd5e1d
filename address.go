package netloop

import (
	"fmt"
	"net"
)

// InetAddress is an IPv4 (port, dotted-ip) endpoint, matching spec.md
// §6's address format. Grounded on the original_source InetAddress
// interface (ToIp/ToIpPort/ToPort), re-expressed with net.IP/net.TCPAddr
// underneath instead of hand-rolled inet_ntop/inet_ntoa.
type InetAddress struct {
	addr net.TCPAddr
}

// NewInetAddress constructs an endpoint from a port and dotted-quad IP.
func NewInetAddress(port uint16, ip string) InetAddress {
	return InetAddress{addr: net.TCPAddr{IP: net.ParseIP(ip).To4(), Port: int(port)}}
}

// NewInetAddressFromTCPAddr wraps an existing *net.TCPAddr, as returned
// by getsockname/Accept.
func NewInetAddressFromTCPAddr(a *net.TCPAddr) InetAddress {
	if a == nil {
		return InetAddress{}
	}
	return InetAddress{addr: *a}
}

// ToIP returns the dotted-quad IP.
func (a InetAddress) ToIP() string {
	if a.addr.IP == nil {
		return ""
	}
	return a.addr.IP.String()
}

// ToIPPort returns "ip:port".
func (a InetAddress) ToIPPort() string {
	return fmt.Sprintf("%s:%d", a.ToIP(), a.addr.Port)
}

// ToPort returns the port in host byte order.
func (a InetAddress) ToPort() uint16 { return uint16(a.addr.Port) }

// TCPAddr exposes the underlying net.TCPAddr for callers that need to
// interoperate with the standard library.
func (a InetAddress) TCPAddr() net.TCPAddr { return a.addr }
