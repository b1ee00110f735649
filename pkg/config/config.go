// Package config loads the mailer configuration from an INI file via
// gopkg.in/ini.v1: a [mailer] section for the system identity and global
// defaults, plus one [link "Z:N/F"] section per peer.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/xx25/binkd-go/addr"
	"github.com/xx25/binkd-go/binkopt"
	"github.com/xx25/binkd-go/cram"
)

// Mailer holds the [mailer] section: system identity, listen address,
// default outbound directory, and protocol timing/staleness defaults.
type Mailer struct {
	SystemName string
	Sysop      string
	Listen     string

	// MetricsListen, when non-empty, is the host:port the Prometheus
	// /metrics endpoint binds to.
	MetricsListen string

	OutboundBase string
	InboundDir   string

	FrameDeadline   time.Duration
	SessionDeadline time.Duration
	StaleLockMaxAge time.Duration

	PollInterval time.Duration
	PollJitter   time.Duration

	// MaxTries is how many consecutive failed calls a link tolerates before
	// it is held off via an HLD file for HoldTime.
	MaxTries int
	HoldTime time.Duration

	// Addresses are the local AKAs advertised in M_ADR.
	Addresses []addr.Address
}

// Link holds one `[link "Z:N/F"]` section: everything needed to dial or
// authenticate a single peer.
type Link struct {
	Address addr.Address

	OutboundBase string // overrides Mailer.OutboundBase when non-empty
	InboundHost  string // host:port to dial; empty means inbound-only (never polled)

	Password  string
	CRAMMode  string // "off", "md5", "sha1", "auto" (both, SHA1 preferred)
	AcceptSet []addr.Address

	NR  binkopt.Mode
	CRC binkopt.Mode
	PLZ binkopt.Mode
}

// CRAMAlgorithms maps a link's configured CRAMMode to the cram.Algorithm
// preference list a session.Config expects.
func (l Link) CRAMAlgorithms() []cram.Algorithm {
	switch l.CRAMMode {
	case "md5":
		return []cram.Algorithm{cram.MD5}
	case "sha1":
		return []cram.Algorithm{cram.SHA1}
	case "off":
		return nil
	default: // "auto" or unset: both, SHA1 preferred
		return []cram.Algorithm{cram.SHA1, cram.MD5}
	}
}

// Config is the fully parsed mailer configuration: the [mailer] section plus
// every configured [link] section.
type Config struct {
	Mailer Mailer
	Links  []Link
}

// Load reads and parses an INI configuration file at path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return parse(f)
}

func parse(f *ini.File) (*Config, error) {
	cfg := &Config{}

	m := f.Section("mailer")
	cfg.Mailer = Mailer{
		SystemName:      m.Key("system_name").String(),
		Sysop:           m.Key("sysop").String(),
		Listen:          m.Key("listen").MustString(":24554"),
		MetricsListen:   m.Key("metrics_listen").String(),
		OutboundBase:    m.Key("outbound").String(),
		InboundDir:      m.Key("inbound").MustString("inbound"),
		FrameDeadline:   m.Key("frame_deadline").MustDuration(30 * time.Second),
		SessionDeadline: m.Key("session_deadline").MustDuration(300 * time.Second),
		StaleLockMaxAge: m.Key("stale_lock_max_age").MustDuration(2 * time.Hour),
		PollInterval:    m.Key("poll_interval").MustDuration(5 * time.Minute),
		PollJitter:      m.Key("poll_jitter").MustDuration(30 * time.Second),
		MaxTries:        m.Key("max_tries").MustInt(5),
		HoldTime:        m.Key("hold_time").MustDuration(30 * time.Minute),
	}
	for _, tok := range m.Key("address").Strings(",") {
		a, err := addr.Parse(tok)
		if err != nil {
			return nil, fmt.Errorf("config: [mailer] address %q: %w", tok, err)
		}
		cfg.Mailer.Addresses = append(cfg.Mailer.Addresses, a)
	}
	if cfg.Mailer.OutboundBase == "" {
		return nil, fmt.Errorf("config: [mailer] outbound is required")
	}

	for _, sec := range f.Sections() {
		addrStr, ok := linkAddress(sec.Name())
		if !ok {
			continue
		}
		a, err := addr.Parse(addrStr)
		if err != nil {
			return nil, fmt.Errorf("config: [link %q]: %w", addrStr, err)
		}
		link := Link{
			Address:      a,
			OutboundBase: sec.Key("outbound").String(),
			InboundHost:  sec.Key("inbound").String(),
			Password:     sec.Key("password").String(),
			CRAMMode:     sec.Key("cram").MustString("auto"),
			NR:           parseMode(sec.Key("nr").MustString("none")),
			CRC:          parseMode(sec.Key("crc").MustString("none")),
			PLZ:          parseMode(sec.Key("plz").MustString("none")),
		}
		for _, tok := range sec.Key("accept").Strings(",") {
			aa, err := addr.Parse(tok)
			if err != nil {
				return nil, fmt.Errorf("config: [link %q] accept %q: %w", addrStr, tok, err)
			}
			link.AcceptSet = append(link.AcceptSet, aa)
		}
		cfg.Links = append(cfg.Links, link)
	}
	return cfg, nil
}

// linkAddress extracts the address token from a `[link "Z:N/F"]` section
// name. ini.v1 keeps the raw bracket contents as the section name verbatim,
// so "link \"1:2/3\"" (quotes included) is what Sections() reports; any
// section not shaped like "link <token>" (mailer, DEFAULT, ...) is not a
// link section.
func linkAddress(name string) (string, bool) {
	const prefix = "link"
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	rest := strings.TrimSpace(name[len(prefix):])
	if rest == "" {
		return "", false
	}
	return strings.Trim(rest, `"`), true
}

func parseMode(s string) binkopt.Mode {
	switch s {
	case "supported":
		return binkopt.ModeSupported
	case "required":
		return binkopt.ModeRequired
	default:
		return binkopt.ModeNone
	}
}

// OutboundBaseFor returns the link's own outbound override if set, else the
// mailer-wide default.
func (c *Config) OutboundBaseFor(l Link) string {
	if l.OutboundBase != "" {
		return l.OutboundBase
	}
	return c.Mailer.OutboundBase
}
