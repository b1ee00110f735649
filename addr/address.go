// Package addr implements the FidoNet address value type shared by the bso,
// session, and mailer packages. The original source redefined this struct in
// several places; this unifies it into a single immutable value.
package addr

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a FidoNet node address: zone:net/node[.point][@domain].
type Address struct {
	Zone   uint16
	Net    uint16
	Node   uint16
	Point  uint16
	Domain string
}

// New builds an Address from its numeric fields with no domain.
func New(zone, net, node, point uint16) Address {
	return Address{Zone: zone, Net: net, Node: node, Point: point}
}

// Valid reports whether the address has a non-zero zone and net.
func (a Address) Valid() bool {
	return a.Zone != 0 && a.Net != 0
}

// Equal compares two addresses field-wise, ignoring Domain unless both sides
// carry one.
func (a Address) Equal(o Address) bool {
	if a.Zone != o.Zone || a.Net != o.Net || a.Node != o.Node || a.Point != o.Point {
		return false
	}
	if a.Domain == "" || o.Domain == "" {
		return true
	}
	return a.Domain == o.Domain
}

// String renders the address as Z:N/F[.P][@domain].
func (a Address) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d/%d", a.Zone, a.Net, a.Node)
	if a.Point != 0 {
		fmt.Fprintf(&b, ".%d", a.Point)
	}
	if a.Domain != "" {
		fmt.Fprintf(&b, "@%s", a.Domain)
	}
	return b.String()
}

// Parse reads Z:N/F[.P][@domain] into an Address. It rejects malformed
// addresses but does not itself enforce Valid(); callers check that
// separately.
func Parse(s string) (Address, error) {
	var a Address
	rest := s

	if at := strings.IndexByte(rest, '@'); at >= 0 {
		a.Domain = rest[at+1:]
		rest = rest[:at]
		if a.Domain == "" {
			return Address{}, fmt.Errorf("addr: empty domain in %q", s)
		}
	}

	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return Address{}, fmt.Errorf("addr: missing zone separator in %q", s)
	}
	zone, err := parseUint16(rest[:colon])
	if err != nil {
		return Address{}, fmt.Errorf("addr: bad zone in %q: %w", s, err)
	}
	a.Zone = zone
	rest = rest[colon+1:]

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return Address{}, fmt.Errorf("addr: missing net separator in %q", s)
	}
	netPart, nodePart := rest[:slash], rest[slash+1:]

	net, err := parseUint16(netPart)
	if err != nil {
		return Address{}, fmt.Errorf("addr: bad net in %q: %w", s, err)
	}
	a.Net = net

	if dot := strings.IndexByte(nodePart, '.'); dot >= 0 {
		node, err := parseUint16(nodePart[:dot])
		if err != nil {
			return Address{}, fmt.Errorf("addr: bad node in %q: %w", s, err)
		}
		point, err := parseUint16(nodePart[dot+1:])
		if err != nil {
			return Address{}, fmt.Errorf("addr: bad point in %q: %w", s, err)
		}
		a.Node = node
		a.Point = point
	} else {
		node, err := parseUint16(nodePart)
		if err != nil {
			return Address{}, fmt.Errorf("addr: bad node in %q: %w", s, err)
		}
		a.Node = node
	}

	return a, nil
}

func parseUint16(s string) (uint16, error) {
	if s == "" {
		return 0, fmt.Errorf("empty field")
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
