package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xx25/binkd-go/addr"
	"github.com/xx25/binkd-go/binkopt"
	"github.com/xx25/binkd-go/command"
	"github.com/xx25/binkd-go/compress"
	"github.com/xx25/binkd-go/cram"
	"github.com/xx25/binkd-go/frame"
	"github.com/xx25/binkd-go/pkg/errkind"
	"github.com/xx25/binkd-go/transfer"

	log "github.com/sirupsen/logrus"
)

// Result summarizes a completed or failed session.
type Result struct {
	State         State
	BytesSent     uint64
	BytesReceived uint64
	FilesSent     int
	FilesReceived int
	CRCFailures   int
	RemoteAddrs   []addr.Address
	Err           error
}

// Session drives one binkp/1.0 connection to completion. It owns its frame
// codec, CRAM context, option negotiator, compressor, and in-flight
// transfers exclusively, per FTS-1026's ownership rules; the Config it was
// built from is immutable shared data, never mutated or written back to.
type Session struct {
	cfg  Config
	conn *frame.Conn
	log  *log.Entry

	state State

	cram       *cram.Context
	negotiator *binkopt.Negotiator
	compressor *compress.Compressor
	engine     *transfer.Engine

	localOptLine   string
	remoteKeywords map[binkopt.Feature]bool
	remoteCRAMAlg  cram.Algorithm
	remoteCRAM     []byte
	haveRemoteCRAM bool
	optionsOn      binkopt.Outcome

	remoteAddrs []addr.Address
	pwdVerified bool // password exchange (if any) completed successfully

	localEOBSent  bool
	remoteEOBSent bool
	errSent       bool

	bytesSent     uint64
	bytesReceived uint64

	deadline time.Time
}

// New builds a Session for rw (a net.Conn, or any io.ReadWriter such as
// net.Pipe for tests) per cfg.Role. logger defaults to the standard logger
// if nil.
func New(rw io.ReadWriter, cfg Config, logger *log.Entry) *Session {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	s := &Session{
		cfg:        cfg,
		conn:       frame.NewConn(rw),
		log:        logger.WithField("role", cfg.Role.String()),
		cram:       cram.NewContext(),
		negotiator: binkopt.NewNegotiator(),
		compressor: compress.New(),
	}
	s.cram.Supported = cfg.Link.CRAMAlgorithms
	s.negotiator.Local[binkopt.FeatureNR] = cfg.Link.NR
	s.negotiator.Local[binkopt.FeatureCRC] = cfg.Link.CRC
	s.negotiator.Local[binkopt.FeaturePLZ] = cfg.Link.PLZ
	if cfg.Role == RoleAnswerer {
		s.state = R0WaitConn
	} else {
		s.state = S0ConnInit
	}
	return s
}

// SendCommand implements transfer.Sender: encode and write one command frame.
func (s *Session) SendCommand(cmd command.Command) error {
	return s.writeCommand(context.Background(), cmd)
}

// SendData implements transfer.Sender: write one data frame, compressing it
// first if PLZ negotiated on.
func (s *Session) SendData(data []byte) error {
	return s.writeData(context.Background(), data)
}

func (s *Session) writeCommand(ctx context.Context, cmd command.Command) error {
	payload := command.Encode(cmd)
	f := frame.Frame{IsCommand: true, Payload: payload}
	if err := s.conn.WriteFrame(ctx, f, s.cfg.frameDeadline()); err != nil {
		return s.wrapIOErr(err)
	}
	s.bytesSent += uint64(len(payload))
	s.log.WithField("cmd", cmd.Op).Debug("session: sent command")
	return nil
}

func (s *Session) writeData(ctx context.Context, data []byte) error {
	out := data
	if s.optionsOn[binkopt.FeaturePLZ] {
		if compressed, ok := s.compressor.EncodeFrame(data); ok {
			out = compressed
		}
	}
	f := frame.Frame{IsCommand: false, Payload: out}
	if err := s.conn.WriteFrame(ctx, f, s.cfg.frameDeadline()); err != nil {
		return s.wrapIOErr(err)
	}
	// Counted at wire length, matching the receive side: with PLZ on, the
	// compressed payload is what crossed the socket.
	s.bytesSent += uint64(len(out))
	return nil
}

func (s *Session) readFrame(ctx context.Context, deadline time.Duration) (frame.Frame, error) {
	// A per-frame read never overshoots the session deadline carried by ctx.
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < deadline {
			deadline = remaining
		}
	}
	f, err := s.conn.ReadFrame(ctx, deadline)
	if err != nil {
		return frame.Frame{}, s.wrapIOErr(err)
	}
	if f.IsCommand {
		s.bytesReceived += uint64(len(f.Payload))
	} else {
		payload := f.Payload
		if s.optionsOn[binkopt.FeaturePLZ] {
			// The wire does not flag per-frame whether compression actually
			// happened (the sender's silent-fallback rule in FTS-1026),
			// so a decompress failure falls back to treating it as raw.
			if decoded, derr := s.compressor.DecodeFrame(payload, true); derr == nil {
				payload = decoded
			}
		}
		s.bytesReceived += uint64(len(f.Payload))
		f.Payload = payload
	}
	return f, nil
}

func (s *Session) wrapIOErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errIsTimeout(err):
		return errkind.New(errkind.Timeout, "session.io", err)
	default:
		return errkind.New(errkind.Network, "session.io", err)
	}
}

func errIsTimeout(err error) bool {
	return err == frame.ErrTimeout || isWrapped(err, frame.ErrTimeout)
}

func isWrapped(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Run drives the session to completion: the handshake appropriate to cfg.Role,
// then the shared T0 transfer phase, per FTS-1026. It returns once the
// session reaches DONE or a fatal error, honoring ctx cancellation and the
// configured session deadline.
func (s *Session) Run(ctx context.Context) Result {
	s.deadline = time.Now().Add(s.cfg.sessionDeadline())
	ctx, cancel := context.WithDeadline(ctx, s.deadline)
	defer cancel()

	// s.engine is built by setEngineCRC once options negotiate in S7/R5,
	// since whether CRC applies isn't known until then.
	var err error
	if s.cfg.Role == RoleOriginator {
		err = s.runOriginator(ctx)
	} else {
		err = s.runAnswerer(ctx)
	}
	if err == nil {
		err = s.runTransfer(ctx)
	}
	if err != nil {
		s.state = ErrorState
		if !isBenignClose(err) {
			s.sendErrBestEffort(ctx, err)
		}
	} else {
		s.state = Done
	}
	res := Result{
		State:         s.state,
		BytesSent:     s.bytesSent,
		BytesReceived: s.bytesReceived,
		RemoteAddrs:   s.remoteAddrs,
		Err:           err,
	}
	if s.engine != nil {
		res.FilesSent = s.engine.FilesSent()
		res.FilesReceived = s.engine.FilesReceived()
		res.CRCFailures = s.engine.CRCFailures()
	}
	return res
}

func isBenignClose(err error) bool {
	return errkind.Is(err, errkind.Network) || errkind.Is(err, errkind.Timeout)
}

func (s *Session) sendErrBestEffort(ctx context.Context, cause error) {
	if s.errSent {
		return
	}
	s.errSent = true
	_ = s.writeCommand(ctx, command.Command{Op: command.OpERR, Text: cause.Error()})
}

func (s *Session) setEngineCRC(useCRC bool) {
	s.engine = transfer.New(s.cfg.InboundDir, useCRC, s.log)
	if len(s.cfg.Outbound) > 0 {
		s.engine.Queue(s.cfg.Outbound...)
	}
}

// --- M_NUL / M_ADR helpers -------------------------------------------------

func (s *Session) buildOptLine() string {
	var kws []string
	if s.cfg.Link.NR != binkopt.ModeNone {
		kws = append(kws, string(binkopt.FeatureNR))
	}
	if s.cfg.Link.CRC != binkopt.ModeNone {
		kws = append(kws, string(binkopt.FeatureCRC))
	}
	if s.cfg.Link.PLZ != binkopt.ModeNone {
		kws = append(kws, string(binkopt.FeaturePLZ))
	}
	// The answerer issues the CRAM challenge it will verify the originator's
	// M_PWD response against, per FTS-1027. The
	// originator does not issue its own challenge: FidoNet password auth is
	// one-directional, answerer verifying originator.
	if s.cfg.Role == RoleAnswerer && (s.cfg.Link.Password != "" || s.cfg.ResolveLink != nil) && len(s.cram.Supported) > 0 {
		challenge, err := s.cram.GenerateChallenge()
		if err == nil {
			kws = append(kws, challenge)
		} else {
			s.log.WithError(err).Warn("session: CRAM challenge generation failed, continuing without it")
		}
	}
	if len(kws) == 0 {
		return ""
	}
	return "OPT " + strings.Join(kws, " ")
}

func (s *Session) sendInfoAndAddr(ctx context.Context) error {
	lines := []string{"VER binkd-go/1.0 binkp/1.0"}
	if s.cfg.SystemName != "" {
		lines = append(lines, "SYS "+s.cfg.SystemName)
	}
	if s.cfg.Sysop != "" {
		lines = append(lines, "ZYZ "+s.cfg.Sysop)
	}
	if opt := s.buildOptLine(); opt != "" {
		lines = append(lines, opt)
	}
	for _, l := range lines {
		if err := s.writeCommand(ctx, command.Command{Op: command.OpNUL, Text: l}); err != nil {
			return err
		}
	}
	addrs := make([]string, len(s.cfg.LocalAddresses))
	for i, a := range s.cfg.LocalAddresses {
		addrs[i] = a.String()
	}
	return s.writeCommand(ctx, command.Command{Op: command.OpADR, Text: strings.Join(addrs, " ")})
}

// processNUL records option keywords and any CRAM challenge carried in an
// M_NUL info line, per FTS-1026's OPT grammar. Unrecognized sub-commands
// (VER, SYS, ZYZ, ...) are logged and otherwise ignored.
func (s *Session) processNUL(text string) {
	if !strings.HasPrefix(text, "OPT") {
		s.log.WithField("info", text).Debug("session: received M_NUL info line")
		return
	}
	rest := strings.TrimSpace(strings.TrimPrefix(text, "OPT"))
	if s.remoteKeywords == nil {
		s.remoteKeywords = map[binkopt.Feature]bool{}
	}
	for _, kw := range strings.Fields(rest) {
		if alg, challenge, ok, err := cram.ParseChallenge(kw); err == nil && ok {
			s.remoteCRAMAlg = alg
			s.remoteCRAM = challenge
			s.haveRemoteCRAM = true
			continue
		}
		switch binkopt.Feature(kw) {
		case binkopt.FeatureNR, binkopt.FeatureCRC, binkopt.FeaturePLZ:
			s.remoteKeywords[binkopt.Feature(kw)] = true
		}
	}
}

func (s *Session) parseAddrLine(text string) error {
	for _, tok := range strings.Fields(text) {
		a, err := addr.Parse(tok)
		if err != nil {
			return fmt.Errorf("session: bad address in M_ADR %q: %w", text, err)
		}
		s.remoteAddrs = append(s.remoteAddrs, a)
	}
	return nil
}

func (s *Session) remoteAccepted() error {
	if s.cfg.Link.AcceptAddress == nil {
		return nil
	}
	for _, a := range s.remoteAddrs {
		if s.cfg.Link.AcceptAddress(a) {
			return nil
		}
	}
	return errkind.New(errkind.AuthFailed, "session.authremote", fmt.Errorf("no acceptable remote address among %v", s.remoteAddrs))
}

func (s *Session) finalizeOptions() error {
	remote := binkopt.RemoteModesFromKeywords(s.remoteKeywords)
	outcome, err := s.negotiator.Finalize(remote)
	if err != nil {
		return errkind.New(errkind.AuthFailed, "session.opts", err)
	}
	s.optionsOn = outcome
	s.setEngineCRC(outcome[binkopt.FeatureCRC])
	s.log.WithField("options", outcome).Debug("session: options negotiated")
	return nil
}
