package bso

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xx25/binkd-go/pkg/errkind"
)

// Directive is the action associated with one reference-file entry, encoded
// by the leading character of its line, per FTS-5005.
type Directive int

const (
	DirectiveSend Directive = iota
	DirectiveTruncate
	DirectiveDelete
	DirectiveSkip
)

// entryDirective maps a reference line's leading byte to a Directive; the
// default (no recognized prefix) is DirectiveSend.
func entryDirective(line string) (Directive, string) {
	if line == "" {
		return DirectiveSend, line
	}
	switch line[0] {
	case '#':
		return DirectiveTruncate, line[1:]
	case '^', '-':
		return DirectiveDelete, line[1:]
	case '~', '!':
		return DirectiveSkip, line[1:]
	case '@':
		return DirectiveSend, line[1:]
	default:
		return DirectiveSend, line
	}
}

// FlowEntry is one file queued for transfer by a flow file.
type FlowEntry struct {
	Path      string
	Directive Directive
	Processed bool
}

// FlowFile is a parsed reference (.flo) or netmail (.out) flow file, per
// FTS-5005.
type FlowFile struct {
	Target  Address
	Kind    FileKind
	Flavor  Flavor
	Path    string
	ModTime int64
	Entries []FlowEntry
}

// Address is a minimal net/node/point tuple identifying which link a flow
// file targets, distinct from addr.Address because flow files never carry a
// zone or domain (those are implied by the directory the file lives in).
type Address struct {
	Net   uint16
	Node  uint16
	Point uint16
}

// ParseFlowFileName extracts flavor, net/node (or point), and kind from a
// flow filename like "i0102abcd.flo" or "0000000a.out" (inside a .pnt dir).
func ParseFlowFileName(name string) (flavor Flavor, hexPart string, kind FileKind, err error) {
	base := name
	ext := filepath.Ext(base)
	switch ext {
	case ".flo":
		kind = KindReference
	case ".out":
		kind = KindNetmail
	default:
		return 0, "", 0, fmt.Errorf("bso: not a flow file: %q", name)
	}
	stem := strings.TrimSuffix(base, ext)
	flavor = FlavorNormal
	if len(stem) == 9 {
		switch Flavor(stem[0]) {
		case FlavorImmediate, FlavorContinuous, FlavorDirect, FlavorHold:
			flavor = Flavor(stem[0])
			stem = stem[1:]
		default:
			return 0, "", 0, fmt.Errorf("bso: unrecognized flavor in %q", name)
		}
	} else if len(stem) != 8 {
		return 0, "", 0, fmt.Errorf("bso: malformed flow filename %q", name)
	}
	return flavor, stem, kind, nil
}

// ParseReferenceFile reads a .flo file: one non-empty line per entry,
// directive from the leading character, remainder is the path, per
// FTS-5005.
func ParseReferenceFile(path string) ([]FlowEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.New(errkind.FileIO, "bso.parseref", err)
	}
	var entries []FlowEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		directive, p := entryDirective(line)
		entries = append(entries, FlowEntry{Path: p, Directive: directive})
	}
	return entries, nil
}

// NetmailEntry wraps a netmail (.out) file itself as its single entry, with
// the DirectiveSend action, per FTS-5005.
func NetmailEntry(path string) FlowEntry {
	return FlowEntry{Path: path, Directive: DirectiveSend}
}

// LoadFlowFile parses a flow file at path (name must end in .flo or .out)
// targeting net/node (and point, 0 for a boss node), tagging it with the
// flow file's own mtime as its ordering key.
func LoadFlowFile(path string, net, node, point uint16) (*FlowFile, error) {
	name := filepath.Base(path)
	flavor, _, kind, err := ParseFlowFileName(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errkind.New(errkind.FileIO, "bso.loadflow", err)
	}
	var entries []FlowEntry
	if kind == KindReference {
		entries, err = ParseReferenceFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		entries = []FlowEntry{NetmailEntry(path)}
	}
	return &FlowFile{
		Target:  Address{Net: net, Node: node, Point: point},
		Kind:    kind,
		Flavor:  flavor,
		Path:    path,
		ModTime: info.ModTime().Unix(),
		Entries: entries,
	}, nil
}

// SortFlows orders flow files by (priority(flavor), mtime) ascending,
// stably, per FTS-5005: immediate before continuous before direct
// before normal before hold. Hold-flavored flows remain in the slice (the
// caller decides whether to skip them, per the "loaded but never sent
// unless explicitly flushed" rule) but always sort last.
func SortFlows(flows []*FlowFile) {
	sort.SliceStable(flows, func(i, j int) bool {
		pi, pj := flows[i].Flavor.Priority(), flows[j].Flavor.Priority()
		if pi != pj {
			return pi < pj
		}
		return flows[i].ModTime < flows[j].ModTime
	})
}
