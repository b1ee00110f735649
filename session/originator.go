package session

import (
	"context"
	"fmt"

	"github.com/xx25/binkd-go/command"
	"github.com/xx25/binkd-go/cram"
	"github.com/xx25/binkd-go/pkg/errkind"
)

// runOriginator drives states S0-S7 of FTS-1026. Because the peer's
// M_NUL option/CRAM-challenge lines and its M_ADR arrive as one contiguous
// run of frames (both sides emit their info+address block immediately on
// connect), S1_WAIT_CONN/S3_WAIT_ADDR collapse into a single read loop that
// gathers everything needed before S2_SEND_PASSWD can compute a CRAM
// response. The wire behavior is unchanged.
func (s *Session) runOriginator(ctx context.Context) error {
	s.state = S0ConnInit
	if err := s.sendInfoAndAddr(ctx); err != nil {
		return err
	}

	s.state = S1WaitConn
	if err := s.readUntilAddr(ctx); err != nil {
		return err
	}

	s.state = S2SendPasswd
	if s.cfg.Link.Password != "" {
		pwdText := s.cfg.Link.Password
		if s.haveRemoteCRAM {
			pwdText = cram.Respond(s.remoteCRAMAlg, s.cfg.Link.Password, s.remoteCRAM)
		}
		if err := s.writeCommand(ctx, command.Command{Op: command.OpPWD, Text: pwdText}); err != nil {
			return err
		}
	}

	s.state = S3WaitAddr // satisfied by the read loop above
	s.state = S4AuthRemote
	if err := s.remoteAccepted(); err != nil {
		return err
	}

	s.state = S5IfSecure
	if s.cfg.Link.Password != "" {
		s.state = S6WaitOK
		if err := s.waitOK(ctx); err != nil {
			return err
		}
	}

	s.state = S7Opts
	return s.finalizeOptions()
}

// readUntilAddr processes incoming command frames until the peer's M_ADR is
// seen, recording M_NUL option/CRAM info and remote addresses as they
// arrive. A data frame here is a protocol violation (the handshake is
// command-only).
func (s *Session) readUntilAddr(ctx context.Context) error {
	for {
		f, err := s.readFrame(ctx, s.cfg.frameDeadline())
		if err != nil {
			return err
		}
		if !f.IsCommand {
			return errkind.New(errkind.ProtocolError, "session.handshake", fmt.Errorf("unexpected data frame before M_ADR"))
		}
		cmd, err := command.Decode(f.Payload)
		if err != nil {
			return errkind.New(errkind.InvalidCommand, "session.handshake", err)
		}
		switch cmd.Op {
		case command.OpNUL:
			s.processNUL(cmd.Text)
		case command.OpADR:
			if err := s.parseAddrLine(cmd.Text); err != nil {
				return errkind.New(errkind.InvalidCommand, "session.handshake", err)
			}
			return nil
		case command.OpERR:
			return errkind.New(errkind.AuthFailed, "session.handshake", fmt.Errorf("peer M_ERR: %s", cmd.Text))
		case command.OpBSY:
			return errkind.New(errkind.Busy, "session.handshake", fmt.Errorf("peer M_BSY: %s", cmd.Text))
		default:
			s.log.WithField("cmd", cmd.Op).Debug("session: ignoring unexpected command before M_ADR")
		}
	}
}

// waitOK blocks for the peer's M_OK acknowledgement of our M_PWD, per
// FTS-1026's S6_WAIT_OK.
func (s *Session) waitOK(ctx context.Context) error {
	for {
		f, err := s.readFrame(ctx, s.cfg.frameDeadline())
		if err != nil {
			return err
		}
		if !f.IsCommand {
			return errkind.New(errkind.ProtocolError, "session.handshake", fmt.Errorf("unexpected data frame before M_OK"))
		}
		cmd, err := command.Decode(f.Payload)
		if err != nil {
			return errkind.New(errkind.InvalidCommand, "session.handshake", err)
		}
		switch cmd.Op {
		case command.OpOK:
			s.pwdVerified = true
			return nil
		case command.OpERR:
			return errkind.New(errkind.AuthFailed, "session.handshake", fmt.Errorf("peer M_ERR: %s", cmd.Text))
		case command.OpBSY:
			return errkind.New(errkind.Busy, "session.handshake", fmt.Errorf("peer M_BSY: %s", cmd.Text))
		case command.OpNUL:
			s.processNUL(cmd.Text)
		default:
			s.log.WithField("cmd", cmd.Op).Debug("session: ignoring unexpected command before M_OK")
		}
	}
}
