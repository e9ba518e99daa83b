package types

import (
	"fmt"
	"net"
	"strconv"
)

// Transport kind of a Locator.
type LocatorKind int32

const (
	LocatorKindInvalid LocatorKind = -1
	LocatorKindUDPv4   LocatorKind = 1
	LocatorKindUDPv6   LocatorKind = 2
)

// Address where an entity can be reached.
type Locator struct {
	Kind LocatorKind
	Port uint32

	// IPv4 addresses are stored on the last four bytes.
	Address [16]byte
}

func NewUDPv4Locator(ip net.IP, port int) Locator {
	l := Locator{Kind: LocatorKindUDPv4, Port: uint32(port)}
	if v4 := ip.To4(); v4 != nil {
		copy(l.Address[12:], v4)
	}
	return l
}

// Parses a `host:port` representation into an UDPv4 locator.
func ParseLocator(value string) (Locator, error) {
	host, port, err := net.SplitHostPort(value)
	if err != nil {
		return Locator{}, fmt.Errorf("invalid locator %q: %w", value, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Locator{}, fmt.Errorf("invalid locator port %q: %w", value, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return Locator{}, fmt.Errorf("invalid locator address %q", value)
	}
	return NewUDPv4Locator(ip, p), nil
}

func (l Locator) IP() net.IP {
	if l.Kind == LocatorKindUDPv4 {
		return net.IPv4(l.Address[12], l.Address[13], l.Address[14], l.Address[15])
	}
	return net.IP(l.Address[:])
}

func (l Locator) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: l.IP(), Port: int(l.Port)}
}

func (l Locator) String() string {
	return net.JoinHostPort(l.IP().String(), strconv.Itoa(int(l.Port)))
}
