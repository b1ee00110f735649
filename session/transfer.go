package session

import (
	"context"
	"fmt"
	"time"

	"github.com/xx25/binkd-go/command"
	"github.com/xx25/binkd-go/pkg/errkind"
)

// Short read deadlines used while local work is still outstanding: benign
// timeouts loop back to the send side, so the single reader/writer
// goroutine stays responsive to its own queue without a second goroutine.
// streamPoll applies while file bytes are actively being pumped (the read
// is then just a peek for interleaved M_GOT/M_GET/M_SKIP); idlePoll
// applies while only waiting for acknowledgements.
const (
	streamPoll = 10 * time.Millisecond
	idlePoll   = time.Second
)

// runTransfer drives the shared T0_TRANSFER phase: dispatches M_FILE/M_GET/
// M_SKIP/M_GOT/data frames to the transfer engine, sends our own M_EOB once
// the outbound queue drains, and completes once both sides have sent and
// received M_EOB and nothing is in flight, per FTS-1026.
func (s *Session) runTransfer(ctx context.Context) error {
	s.state = T0Transfer
	for {
		if s.localEOBSent && s.remoteEOBSent && !s.engine.Pending() && !s.engine.Receiving() {
			return nil
		}

		// Idle timeouts below are benign and loop, so the hard session
		// deadline has to be enforced here or a peer that goes silent
		// without M_EOB would keep the session alive forever.
		if time.Now().After(s.deadline) || ctx.Err() != nil {
			return errkind.New(errkind.Timeout, "session.transfer", fmt.Errorf("session deadline exceeded"))
		}

		if !s.localEOBSent {
			if _, err := s.engine.AdvanceSend(s); err != nil {
				return err
			}
			if _, err := s.engine.PumpSend(s); err != nil {
				return err
			}
			if !s.engine.Pending() {
				if err := s.writeCommand(ctx, command.Command{Op: command.OpEOB}); err != nil {
					return err
				}
				s.localEOBSent = true
				continue
			}
		}

		deadline := s.cfg.frameDeadline()
		if s.engine.Streaming() {
			deadline = streamPoll
		} else if !s.localEOBSent {
			deadline = idlePoll
		}
		f, err := s.readFrame(ctx, deadline)
		if err != nil {
			if errkind.Is(err, errkind.Timeout) {
				continue // idle/poll timeout in T0 is benign, per FTS-1026
			}
			return err
		}

		if !f.IsCommand {
			if _, err := s.engine.WriteData(f.Payload, s); err != nil {
				return err
			}
			continue
		}

		cmd, err := command.Decode(f.Payload)
		if err != nil {
			return errkind.New(errkind.InvalidCommand, "session.transfer", err)
		}
		if err := s.dispatchTransferCommand(cmd); err != nil {
			return err
		}
	}
}

func (s *Session) dispatchTransferCommand(cmd command.Command) error {
	switch cmd.Op {
	case command.OpFILE:
		return s.engine.HandleFile(cmd.File, s)
	case command.OpGET:
		return s.engine.HandleGet(cmd.File, s)
	case command.OpSKIP:
		return s.engine.HandleSkip(cmd.File)
	case command.OpGOT:
		return s.engine.HandleGot(cmd.File)
	case command.OpEOB:
		s.remoteEOBSent = true
		return nil
	case command.OpERR:
		return errkind.New(errkind.ProtocolError, "session.transfer", fmt.Errorf("peer M_ERR: %s", cmd.Text))
	case command.OpBSY:
		return errkind.New(errkind.Busy, "session.transfer", fmt.Errorf("peer M_BSY: %s", cmd.Text))
	case command.OpNUL:
		s.processNUL(cmd.Text)
		return nil
	default:
		// Unknown commands (including unrecognized opcodes) are logged and
		// ignored to preserve forward compatibility, per FTS-1026.
		s.log.WithField("opcode", cmd.RawOpcode).Debug("session: ignoring unknown command in T0")
		return nil
	}
}
