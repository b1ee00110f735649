// Package binkopt implements the binkp per-feature option negotiation table
// of FTS-1026: each of NR, CRC, and PLZ has a local Mode chosen by
// configuration, and a remote Mode inferred from the peer's M_NUL OPT line.
package binkopt

import "errors"

// Mode is the three-state local/remote stance on one optional feature.
type Mode int

const (
	ModeNone Mode = iota
	ModeSupported
	ModeRequired
)

// Feature identifies one of the three optional binkp features.
type Feature string

const (
	FeatureNR  Feature = "NR"
	FeatureCRC Feature = "CRC"
	FeaturePLZ Feature = "PLZ"
)

// ErrAuthFailed is returned by Negotiate when a REQUIRED feature cannot be
// satisfied, per FTS-1026 (a failed mandatory-option negotiation is an
// AuthFailed condition, same error kind as a failed password check).
var ErrAuthFailed = errors.New("binkopt: required option not offered by peer")

// Negotiate applies the table from FTS-1026 to one feature's local and
// remote modes and returns whether the feature ends up negotiated on.
func Negotiate(local, remote Mode) (on bool, err error) {
	switch local {
	case ModeNone:
		switch remote {
		case ModeRequired:
			return false, ErrAuthFailed
		default:
			return false, nil
		}
	case ModeSupported:
		return remote != ModeNone, nil
	case ModeRequired:
		if remote == ModeNone {
			return false, ErrAuthFailed
		}
		return true, nil
	default:
		return false, nil
	}
}

// Negotiator holds the local stance for all three features and finalizes
// the outcome against a peer's advertised remote stance, accumulated from
// the M_NUL OPT keywords it sent (FTS-1026 S7_OPTS / R5_OPTS).
type Negotiator struct {
	Local map[Feature]Mode
}

// NewNegotiator returns a Negotiator with every feature defaulting to
// ModeNone (not advertised).
func NewNegotiator() *Negotiator {
	return &Negotiator{Local: map[Feature]Mode{
		FeatureNR:  ModeNone,
		FeatureCRC: ModeNone,
		FeaturePLZ: ModeNone,
	}}
}

// Outcome is the finalized on/off state for every negotiated feature.
type Outcome map[Feature]bool

// Finalize negotiates every tracked feature against remote, a full
// (local, remote) Mode table, and returns the on/off outcome for each.
func (n *Negotiator) Finalize(remote map[Feature]Mode) (Outcome, error) {
	out := make(Outcome, len(n.Local))
	for feature, localMode := range n.Local {
		on, err := Negotiate(localMode, remote[feature])
		if err != nil {
			return nil, err
		}
		out[feature] = on
	}
	return out, nil
}

// RemoteModesFromKeywords builds a remote Mode map from the OPT keywords a
// peer advertised in its M_NUL. A bare keyword's presence can only signal
// ModeSupported: the wire format has no way for a peer to additionally mark
// a feature as ModeRequired (that only becomes observable if the peer
// itself refuses the session for lacking it). Absence maps to ModeNone.
func RemoteModesFromKeywords(keywords map[Feature]bool) map[Feature]Mode {
	out := make(map[Feature]Mode, len(keywords))
	for feature, present := range keywords {
		if present {
			out[feature] = ModeSupported
		} else {
			out[feature] = ModeNone
		}
	}
	return out
}
