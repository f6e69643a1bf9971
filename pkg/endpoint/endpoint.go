// Package endpoint decodes datagram source addresses into family-tagged
// (address, port) pairs that can be compared, indexed and printed.
package endpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrUnsupportedFamily is returned for addresses that are neither a 4-byte
// nor a 16-byte IP endpoint.
var ErrUnsupportedFamily = errors.New("endpoint: unsupported address family")

type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Endpoint is an immutable address/port pair tagged with its family.
//
// A v4-mapped IPv6 address (::ffff:a.b.c.d) stays FamilyIPv6: it is what a
// dual-stack socket reports for IPv4 peers and it never equals the plain
// IPv4 endpoint built from the same four bytes.
type Endpoint struct {
	ap netip.AddrPort
}

// New wraps ap. The zero AddrPort is rejected.
func New(ap netip.AddrPort) (Endpoint, error) {
	if !ap.IsValid() {
		return Endpoint{}, ErrUnsupportedFamily
	}
	return Endpoint{ap: ap}, nil
}

// Parse reads "host:port" or "[host]:port".
func Parse(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: parse %q: %w", s, err)
	}
	return New(ap)
}

// FromAddr decodes the source address handed back by a PacketConn.
func FromAddr(a net.Addr) (Endpoint, error) {
	switch v := a.(type) {
	case *net.UDPAddr:
		if v == nil {
			return Endpoint{}, ErrUnsupportedFamily
		}
		return New(v.AddrPort())
	default:
		return Endpoint{}, fmt.Errorf("%w: %T", ErrUnsupportedFamily, a)
	}
}

// Decode returns the printable address and numeric port of a.
func Decode(a net.Addr) (string, uint16, error) {
	ep, err := FromAddr(a)
	if err != nil {
		return "", 0, err
	}
	return ep.Host(), ep.Port(), nil
}

func (e Endpoint) Family() Family {
	switch {
	case !e.ap.IsValid():
		return FamilyUnknown
	case e.ap.Addr().Is4():
		return FamilyIPv4
	default:
		return FamilyIPv6
	}
}

func (e Endpoint) IsValid() bool { return e.ap.IsValid() }

func (e Endpoint) AddrPort() netip.AddrPort { return e.ap }

// Host is the textual address without brackets or port.
func (e Endpoint) Host() string { return e.ap.Addr().String() }

func (e Endpoint) Port() uint16 { return e.ap.Port() }

// Equal compares the family first, then address bytes, zone and port.
func (e Endpoint) Equal(o Endpoint) bool {
	if e.Family() != o.Family() {
		return false
	}
	return e.ap == o.ap
}

// Key is a canonical byte-string encoding: family tag, address bytes, port
// (big endian), then the zone if any.
func (e Endpoint) Key() string {
	var buf [1 + 16 + 2]byte
	buf[0] = byte(e.Family())
	n := 1
	switch e.Family() {
	case FamilyIPv4:
		a := e.ap.Addr().As4()
		n += copy(buf[n:], a[:])
	case FamilyIPv6:
		a := e.ap.Addr().As16()
		n += copy(buf[n:], a[:])
	}
	binary.BigEndian.PutUint16(buf[n:], e.ap.Port())
	n += 2
	return string(buf[:n]) + e.ap.Addr().Zone()
}

// UDPAddr is the destination form used when sending to this endpoint.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(e.ap)
}

// String renders "[host]:port" for both families.
func (e Endpoint) String() string {
	return fmt.Sprintf("[%s]:%d", e.Host(), e.Port())
}
