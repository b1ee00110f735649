package session

import (
	"time"

	"github.com/xx25/binkd-go/addr"
	"github.com/xx25/binkd-go/binkopt"
	"github.com/xx25/binkd-go/cram"
	"github.com/xx25/binkd-go/transfer"
)

// DefaultFrameDeadline and DefaultSessionDeadline are the binkp/1.0 defaults
// from FTS-1026's "Tie-breaks and timing" paragraph.
const (
	DefaultFrameDeadline   = 30 * time.Second
	DefaultSessionDeadline = 300 * time.Second
)

// LinkConfig carries the per-peer policy a Session needs: password/CRAM
// requirements, option stances, and which remote addresses to accept.
// Mirrors the `[link "Z:N/F"]` section pkg/config loads from the mailer's
// INI file.
type LinkConfig struct {
	// Password, if non-empty, is required from the peer (answerer role) or
	// sent to the peer (originator role). Empty means no password auth.
	Password string

	// CRAMAlgorithms lists the algorithms this side is willing to use for
	// CRAM auth, most preferred first. A nil/empty list disables issuing a
	// CRAM challenge (answerer) but a received challenge is still answered
	// if Password is set (originator).
	CRAMAlgorithms []cram.Algorithm

	NR  binkopt.Mode
	CRC binkopt.Mode
	PLZ binkopt.Mode

	// AcceptAddress reports whether a remote-advertised address is an
	// acceptable peer identity for this link. Only the originator consults
	// it (S4_AUTH_REMOTE); the answerer does not check remote addresses
	// against it. A nil func accepts anything.
	AcceptAddress func(addr.Address) bool
}

// ResolvedLink is a ResolveLink callback's answer: the per-peer policy to
// apply for the rest of the session, plus any outbound work queued for that
// peer and where its inbound files should land.
type ResolvedLink struct {
	Link       LinkConfig
	Outbound   []transfer.SendRequest
	InboundDir string
}

// Config is everything a Session needs to run one connection to completion.
type Config struct {
	Role Role

	// LocalAddresses are advertised in M_ADR.
	LocalAddresses []addr.Address

	// SystemName and Sysop populate the M_NUL SYS/ZYZ info lines. Both may
	// be empty.
	SystemName string
	Sysop      string

	Link LinkConfig

	// ResolveLink, when non-nil on an answerer, is consulted once the
	// caller's M_ADR arrives: the returned password and AcceptAddress
	// replace Link's, its CRAMAlgorithms replace Link's when non-empty, a
	// non-empty InboundDir replaces InboundDir, and its Outbound queue is
	// appended. The NR/CRC/PLZ stances already advertised stay. Returning
	// ok=false rejects the caller with M_BSY (the link is locked by
	// another session, or the caller is unwelcome right now). Callers that
	// match no configured link pass a zero-value insecure policy instead
	// of rejecting, so unlisted nodes can still deliver mail.
	ResolveLink func(remote []addr.Address) (rl ResolvedLink, ok bool)

	// FrameDeadline bounds a single frame read/write; SessionDeadline bounds
	// the whole session from Run's first call, per FTS-1026.
	FrameDeadline   time.Duration
	SessionDeadline time.Duration

	// Outbound, if non-empty, queues files to send once T0 is reached
	// (already ordered per bso.SortFlows by the caller, e.g. via
	// transfer.RequestsFromFlow).
	Outbound []transfer.SendRequest

	// InboundDir is the directory inbound files are written to.
	InboundDir string
}

func (c *Config) frameDeadline() time.Duration {
	if c.FrameDeadline > 0 {
		return c.FrameDeadline
	}
	return DefaultFrameDeadline
}

func (c *Config) sessionDeadline() time.Duration {
	if c.SessionDeadline > 0 {
		return c.SessionDeadline
	}
	return DefaultSessionDeadline
}
