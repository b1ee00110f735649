package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/xx25/binkd-go/command"
	"github.com/xx25/binkd-go/pkg/errkind"
)

// runAnswerer drives states R0-R5 of FTS-1026.
func (s *Session) runAnswerer(ctx context.Context) error {
	s.state = R0WaitConn
	if err := s.sendInfoAndAddr(ctx); err != nil {
		return err
	}

	s.state = R1WaitAddr
	if err := s.readUntilAddr(ctx); err != nil {
		return err
	}
	if s.cfg.ResolveLink != nil {
		rl, ok := s.cfg.ResolveLink(s.remoteAddrs)
		if !ok {
			_ = s.writeCommand(ctx, command.Command{Op: command.OpBSY, Text: "link busy, try again later"})
			s.errSent = true
			return errkind.New(errkind.Busy, "session.resolve", fmt.Errorf("link busy for %v", s.remoteAddrs))
		}
		s.applyResolvedLink(rl)
	}

	s.state = R2IsPasswd
	if s.cfg.Link.Password != "" {
		s.state = R3WaitPwd
		if err := s.waitPassword(ctx); err != nil {
			return err
		}
	}

	s.state = R4PwdAck
	if err := s.writeCommand(ctx, command.Command{Op: command.OpOK, Text: ""}); err != nil {
		return err
	}

	s.state = R5Opts
	return s.finalizeOptions()
}

// applyResolvedLink swaps in the per-peer policy a ResolveLink callback
// chose after the caller identified itself. Option stances stay whatever
// the answerer advertised in its own M_NUL OPT line (changing them now
// would desynchronize the two negotiators), so only the authentication and
// transfer fields are taken.
func (s *Session) applyResolvedLink(rl ResolvedLink) {
	s.cfg.Link.Password = rl.Link.Password
	s.cfg.Link.AcceptAddress = rl.Link.AcceptAddress
	if len(rl.Link.CRAMAlgorithms) > 0 {
		s.cram.Supported = rl.Link.CRAMAlgorithms
	}
	if rl.InboundDir != "" {
		s.cfg.InboundDir = rl.InboundDir
	}
	if len(rl.Outbound) > 0 {
		s.cfg.Outbound = append(s.cfg.Outbound, rl.Outbound...)
	}
}

// waitPassword reads until the peer's M_PWD arrives, verifies it (CRAM if
// the response is tagged "CRAM-...", otherwise plaintext compare), and
// either proceeds or sends M_ERR and fails with AuthFailed.
func (s *Session) waitPassword(ctx context.Context) error {
	for {
		f, err := s.readFrame(ctx, s.cfg.frameDeadline())
		if err != nil {
			return err
		}
		if !f.IsCommand {
			return errkind.New(errkind.ProtocolError, "session.handshake", fmt.Errorf("unexpected data frame before M_PWD"))
		}
		cmd, err := command.Decode(f.Payload)
		if err != nil {
			return errkind.New(errkind.InvalidCommand, "session.handshake", err)
		}
		switch cmd.Op {
		case command.OpNUL:
			s.processNUL(cmd.Text)
		case command.OpPWD:
			return s.verifyPassword(ctx, cmd.Text)
		case command.OpBSY:
			return errkind.New(errkind.Busy, "session.handshake", fmt.Errorf("peer M_BSY: %s", cmd.Text))
		default:
			s.log.WithField("cmd", cmd.Op).Debug("session: ignoring unexpected command before M_PWD")
		}
	}
}

func (s *Session) verifyPassword(ctx context.Context, pwd string) error {
	var verifyErr error
	if strings.HasPrefix(pwd, "CRAM-") {
		verifyErr = s.cram.Verify(s.cfg.Link.Password, pwd)
	} else if pwd != s.cfg.Link.Password {
		verifyErr = fmt.Errorf("plaintext password mismatch")
	}
	if verifyErr != nil {
		_ = s.writeCommand(ctx, command.Command{Op: command.OpERR, Text: "password mismatch"})
		s.errSent = true
		return errkind.New(errkind.AuthFailed, "session.verifypwd", verifyErr)
	}
	s.pwdVerified = true
	return nil
}
