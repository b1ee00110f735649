package bso

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xx25/binkd-go/pkg/errkind"
)

// ControlKind is one of the four BSO control file types, per FTS-5005.
type ControlKind int

const (
	KindBSY ControlKind = iota
	KindCSY
	KindHLD
	KindTRY
)

func (k ControlKind) ext() string {
	switch k {
	case KindCSY:
		return "csy"
	case KindHLD:
		return "hld"
	case KindTRY:
		return "try"
	default:
		return "bsy"
	}
}

// Lock is an acquired (or inspected) control file.
type Lock struct {
	Kind    ControlKind
	Path    string
	Payload string
}

// AcquireBSY attempts an exclusive create of the BSY lock for net/node in
// dir, with the given payload ("<ident> <pid>\n" by convention), per
// FTS-5005. A pre-existing lock yields an *errkind.Error of kind Busy;
// any other failure yields kind FileIO.
func AcquireBSY(dir string, net, node uint16, payload string) (*Lock, error) {
	return acquireExclusive(dir, net, node, KindBSY, payload)
}

// AcquireCSY behaves like AcquireBSY for the call-in-progress lock.
func AcquireCSY(dir string, net, node uint16, payload string) (*Lock, error) {
	return acquireExclusive(dir, net, node, KindCSY, payload)
}

func acquireExclusive(dir string, net, node uint16, kind ControlKind, payload string) (*Lock, error) {
	path := filepath.Join(dir, ControlFileName(net, node, kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.New(errkind.FileIO, "bso.acquire", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errkind.New(errkind.Busy, "bso.acquire", err)
		}
		return nil, errkind.New(errkind.FileIO, "bso.acquire", err)
	}
	defer f.Close()
	if _, err := f.WriteString(payload); err != nil {
		return nil, errkind.New(errkind.FileIO, "bso.acquire", err)
	}
	return &Lock{Kind: kind, Path: path, Payload: payload}, nil
}

// Release removes the lock file. A missing file is treated as success
// (idempotent release), per FTS-5005.
func Release(l *Lock) error {
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return errkind.New(errkind.FileIO, "bso.release", err)
	}
	return nil
}

// ReleasePath is Release by explicit path, for callers that only kept the path.
func ReleasePath(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errkind.New(errkind.FileIO, "bso.release", err)
	}
	return nil
}

// Hold is a parsed HLD control file: hold this link until Until, for Reason.
type Hold struct {
	Until  time.Time
	Reason string
}

// CreateHold writes a HLD file backing a link off until `until`, with an
// optional human-readable reason, per FTS-5005.
func CreateHold(dir string, net, node uint16, until time.Time, reason string) error {
	payload := strconv.FormatInt(until.Unix(), 10)
	if reason != "" {
		payload += " " + reason
	}
	payload += "\n"
	path := filepath.Join(dir, ControlFileName(net, node, KindHLD))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.New(errkind.FileIO, "bso.createhold", err)
	}
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		return errkind.New(errkind.FileIO, "bso.createhold", err)
	}
	return nil
}

// CheckHold reads and parses the HLD file for net/node, if present. ok is
// false (with a nil error) when there is no hold in effect.
func CheckHold(dir string, net, node uint16) (hold Hold, ok bool, err error) {
	path := filepath.Join(dir, ControlFileName(net, node, KindHLD))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Hold{}, false, nil
		}
		return Hold{}, false, errkind.New(errkind.FileIO, "bso.checkhold", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return Hold{}, false, fmt.Errorf("bso: empty HLD file %s", path)
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Hold{}, false, fmt.Errorf("bso: bad HLD timestamp in %s: %w", path, err)
	}
	reason := ""
	if len(fields) > 1 {
		reason = strings.Join(fields[1:], " ")
	}
	return Hold{Until: time.Unix(ts, 0), Reason: reason}, true, nil
}

// CheckBSY reports whether a BSY lock is currently held for net/node, and
// its payload if so.
func CheckBSY(dir string, net, node uint16) (payload string, held bool, err error) {
	path := filepath.Join(dir, ControlFileName(net, node, KindBSY))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errkind.New(errkind.FileIO, "bso.checkbsy", err)
	}
	return string(data), true, nil
}

// IncrementTry increments the retry counter stored in the TRY file for
// net/node and returns the new count.
func IncrementTry(dir string, net, node uint16) (int, error) {
	path := filepath.Join(dir, ControlFileName(net, node, KindTRY))
	count := 0
	if data, err := os.ReadFile(path); err == nil {
		count, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	} else if !os.IsNotExist(err) {
		return 0, errkind.New(errkind.FileIO, "bso.incrementtry", err)
	}
	count++
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errkind.New(errkind.FileIO, "bso.incrementtry", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(count)), 0o644); err != nil {
		return 0, errkind.New(errkind.FileIO, "bso.incrementtry", err)
	}
	return count, nil
}

// ClearTry removes the TRY counter file, e.g. after a successful session.
func ClearTry(dir string, net, node uint16) error {
	return ReleasePath(filepath.Join(dir, ControlFileName(net, node, KindTRY)))
}

// ReapStale scans dir for .bsy/.csy/.hld/.try files older than maxAge and
// removes them, per FTS-5005's staleness-detection invariant. Returns
// the paths removed.
func ReapStale(dir string, maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := Scan(dir, func(name string) bool {
		return hasControlExt(name)
	})
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		age := now.Sub(time.Unix(e.ModTime, 0))
		if age > maxAge {
			if err := ReleasePath(e.Path); err != nil {
				return removed, err
			}
			removed = append(removed, e.Path)
		}
	}
	return removed, nil
}

func hasControlExt(name string) bool {
	for _, ext := range []string{".bsy", ".csy", ".hld", ".try"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
