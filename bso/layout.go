// Package bso implements the BinkleyTerm Style Outbound filesystem
// convention of FTS-5005: path derivation, hex addressing, flow
// file parsing and ordering, and the atomic control-file locks that
// interlock concurrent mailers.
package bso

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xx25/binkd-go/addr"
)

// Layout derives BSO paths from a base outbound directory, per FTS-5005.
type Layout struct {
	Base string
}

// NewLayout returns a Layout rooted at base.
func NewLayout(base string) *Layout {
	return &Layout{Base: base}
}

// HexAddr renders (net<<16)|node as lowercase 8 hex digits, per FTS-5005.
func HexAddr(net, node uint16) string {
	return fmt.Sprintf("%08x", (uint32(net)<<16)|uint32(node))
}

// ParseHexAddr reverses HexAddr, rejecting anything that is not exactly 8
// hex digits.
func ParseHexAddr(s string) (net, node uint16, err error) {
	if len(s) != 8 {
		return 0, 0, fmt.Errorf("bso: hex address must be 8 digits, got %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bso: invalid hex address %q: %w", s, err)
	}
	return uint16(v >> 16), uint16(v), nil
}

// ZoneDir returns the directory for addresses in a's zone: the base
// directory itself for zone 1, or "<base>.zzz" (three lowercase hex digits)
// for any other zone.
func (l *Layout) ZoneDir(zone uint16) string {
	if zone == 1 {
		return l.Base
	}
	return fmt.Sprintf("%s.%03x", l.Base, zone)
}

// LinkDir returns the directory a's control and flow files live in: the
// zone directory itself for a non-point address, or the zone directory's
// "<netnode_hex>.pnt/" subdirectory for a point address.
func (l *Layout) LinkDir(a addr.Address) string {
	zoneDir := l.ZoneDir(a.Zone)
	if a.Point == 0 {
		return zoneDir
	}
	return filepath.Join(zoneDir, HexAddr(a.Net, a.Node)+".pnt")
}

// Flavor is the priority class encoded as a flow filename's leading
// character, per FTS-5005.
type Flavor byte

const (
	FlavorImmediate Flavor = 'i'
	FlavorContinuous Flavor = 'c'
	FlavorDirect     Flavor = 'd'
	FlavorNormal     Flavor = 0 // no leading character
	FlavorHold       Flavor = 'h'
)

// Priority maps a flavor to its sort priority: lower sorts first. Invalid
// flavor bytes are treated as Normal.
func (f Flavor) Priority() int {
	switch f {
	case FlavorImmediate:
		return 1
	case FlavorContinuous:
		return 2
	case FlavorDirect:
		return 3
	case FlavorHold:
		return 5
	default:
		return 4
	}
}

// FileKind distinguishes a reference (.flo) flow file from a netmail (.out) one.
type FileKind int

const (
	KindReference FileKind = iota
	KindNetmail
)

func (k FileKind) ext() string {
	if k == KindNetmail {
		return "out"
	}
	return "flo"
}

// FlowFileName builds the "[flavor]<hex>.<ext>" filename for a non-point
// address's flow file of the given kind and flavor, per FTS-5005.
func FlowFileName(net, node uint16, flavor Flavor, kind FileKind) string {
	prefix := ""
	if flavor != FlavorNormal {
		prefix = string(rune(flavor))
	}
	return fmt.Sprintf("%s%s.%s", prefix, HexAddr(net, node), kind.ext())
}

// ControlFileName builds the "<hex>.<ext>" filename for a control file kind.
func ControlFileName(net, node uint16, kind ControlKind) string {
	return fmt.Sprintf("%s.%s", HexAddr(net, node), kind.ext())
}

// PointFlowFileName builds a point's flow-file entry name inside its
// ".pnt/" subdirectory: "[flavor]<pointhex>.<ext>", per FTS-5005.
func PointFlowFileName(point uint16, flavor Flavor, kind FileKind) string {
	prefix := ""
	if flavor != FlavorNormal {
		prefix = string(rune(flavor))
	}
	return fmt.Sprintf("%s%08x.%s", prefix, point, kind.ext())
}

// Entry describes one filesystem entry returned by Scan.
type Entry struct {
	Name    string
	Path    string
	ModTime int64
	Size    int64
	IsDir   bool
}

// Scan lists the entries of dir, optionally filtered by predicate (nil
// means no filtering). Missing directories yield an empty, non-error result
// since an outbound directory that hasn't been created yet simply has no
// pending work, per FTS-5005's directory-scanning description.
func Scan(dir string, predicate func(name string) bool) ([]Entry, error) {
	infos, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("bso: scan %s: %w", dir, err)
	}
	var out []Entry
	for _, de := range infos {
		if predicate != nil && !predicate(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:    de.Name(),
			Path:    filepath.Join(dir, de.Name()),
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
			IsDir:   de.IsDir(),
		})
	}
	return out, nil
}
