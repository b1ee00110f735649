// Package cram implements CRAM-MD5/SHA1 challenge/response authentication
// for binkp, per FTS-1027, on top of the standard library's crypto/hmac,
// crypto/md5, and crypto/sha1.
package cram

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Algorithm identifies a supported HMAC hash.
type Algorithm string

const (
	MD5  Algorithm = "MD5"
	SHA1 Algorithm = "SHA1"
)

func (a Algorithm) newHash() func() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New
	default:
		return md5.New
	}
}

// ChallengeLen is the number of random bytes in a CRAM challenge.
const ChallengeLen = 32

// Context carries one side's CRAM state for a single session: the
// algorithms it is willing to use, the challenge it generated (if it is the
// side offering one), and the selected algorithm once negotiated.
type Context struct {
	// Supported lists algorithms accepted in preference order. SHA1 is
	// preferred over MD5 when both peers support it, per FTS-1027.
	Supported []Algorithm

	challenge    []byte
	challengeHex string
	selected     Algorithm
}

// NewContext returns a Context supporting MD5 and SHA1, SHA1 preferred.
func NewContext() *Context {
	return &Context{Supported: []Algorithm{SHA1, MD5}}
}

// GenerateChallenge draws ChallengeLen cryptographically strong random bytes
// and returns the advertised "CRAM-<ALG>-<hex>" option string using the
// context's first (most preferred) algorithm.
func (c *Context) GenerateChallenge() (string, error) {
	buf := make([]byte, ChallengeLen)
	if _, err := rand.Read(buf); err != nil {
		log.WithError(err).Warn("cram: OS entropy source unavailable, falling back")
		return "", fmt.Errorf("cram: generate challenge: %w", err)
	}
	alg := MD5
	if len(c.Supported) > 0 {
		alg = c.Supported[0]
	}
	c.challenge = buf
	c.challengeHex = hex.EncodeToString(buf)
	c.selected = alg
	return fmt.Sprintf("CRAM-%s-%s", alg, c.challengeHex), nil
}

// ParseChallenge parses a peer-advertised "CRAM-<ALG>-<hex>" option string
// (as seen in an M_NUL OPT line) and records it as the challenge to respond
// to. It returns false if opt is not a CRAM option at all (not an error: the
// peer simply may not have offered one).
func ParseChallenge(opt string) (alg Algorithm, challenge []byte, ok bool, err error) {
	if !strings.HasPrefix(opt, "CRAM-") {
		return "", nil, false, nil
	}
	rest := opt[len("CRAM-"):]
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return "", nil, false, fmt.Errorf("cram: malformed option %q", opt)
	}
	algStr, hexStr := rest[:dash], rest[dash+1:]
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", nil, false, fmt.Errorf("cram: bad challenge hex in %q: %w", opt, err)
	}
	return Algorithm(strings.ToUpper(algStr)), raw, true, nil
}

// Respond computes "CRAM-<ALG>-<hmac_hex>" for the given password and
// challenge bytes, per FTS-1027.
func Respond(alg Algorithm, password string, challenge []byte) string {
	mac := hmac.New(alg.newHash(), []byte(password))
	mac.Write(challenge)
	return fmt.Sprintf("CRAM-%s-%s", alg, hex.EncodeToString(mac.Sum(nil)))
}

// Verify recomputes the expected response from password and the context's
// stored challenge, and compares it against the peer-supplied response
// ("CRAM-<ALG>-<hex>") using a constant-time comparison. It returns nil on a
// match and ErrAuthFailed otherwise.
func (c *Context) Verify(password string, peerResponse string) error {
	alg, mac, ok, err := ParseChallenge(peerResponse)
	if err != nil {
		return fmt.Errorf("cram: %w: %v", ErrAuthFailed, err)
	}
	if !ok {
		return fmt.Errorf("cram: %w: not a CRAM response", ErrAuthFailed)
	}
	expected := hmac.New(alg.newHash(), []byte(password))
	expected.Write(c.challenge)
	expectedSum := expected.Sum(nil)
	if ConstantTimeEqual(expectedSum, mac) {
		return nil
	}
	return ErrAuthFailed
}

// ConstantTimeEqual compares two byte slices for equality in time that does
// not depend on the position of the first differing byte. Unequal-length
// slices are never equal but still scanned fully to avoid a length-based
// timing short-circuit, per FTS-1027 / §8.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		// Still perform a full-length comparison against a throwaway buffer
		// so callers cannot distinguish a length mismatch from a content
		// mismatch by timing.
		longer := a
		if len(b) > len(a) {
			longer = b
		}
		subtle.ConstantTimeCompare(longer, longer)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
