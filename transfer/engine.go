// Package transfer implements the file-transfer engine layered on top of
// the session machine: send/receive queues, resume negotiation, chunked
// I/O, CRC verification, and post-transfer actions, per FTS-1026.
package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xx25/binkd-go/bso"
	"github.com/xx25/binkd-go/command"
	"github.com/xx25/binkd-go/internal/crc"
	"github.com/xx25/binkd-go/internal/fifo"
	"github.com/xx25/binkd-go/pkg/errkind"
	log "github.com/sirupsen/logrus"
)

// maxChunk is the largest number of file bytes packed into one data frame,
// bounded by frame.MaxPayload.
const maxChunk = 32767

// diskChunk is how much is read from disk per read; frames are packed from
// the staging buffer up to maxChunk bytes regardless of disk-read size.
const diskChunk = 8192

// PostAction is what to do with a local file after it has been fully sent
// and acknowledged, per FTS-1026.
type PostAction int

const (
	PostNone PostAction = iota
	PostDelete
	PostTruncate
)

// SendRequest describes one file queued for sending: its wire name, local
// path, and what to do with the local file once the peer has acked it.
type SendRequest struct {
	Name       string
	LocalPath  string
	PostAction PostAction
}

type outFile struct {
	req         SendRequest
	size        int64
	modTime     int64
	offset      int64 // starting offset for this attempt
	transferred int64
	handle      *os.File
	stage       *fifo.Fifo // disk bytes staged for framing
	readEOF     bool
	done        bool // all bytes sent, awaiting M_GOT
}

type inFile struct {
	name        string
	size        int64
	timestamp   int64
	offset      int64
	tempPath    string
	finalPath   string
	transferred int64
	handle      *os.File
	crcState    crc.CRC32
	peerCRC     *uint32
	useCRC      bool

	// discard marks a receive waiting on our M_GET resume request: the
	// sender's already-in-flight offset-0 data frames are dropped until it
	// re-offers the file at the requested offset.
	discard bool
}

// Sender is the narrow interface the engine needs from the session layer to
// emit commands and data, decoupling the engine from the frame/session
// machinery itself.
type Sender interface {
	SendCommand(cmd command.Command) error
	SendData(data []byte) error
}

// Engine drives one session's outbound queue and at most one inbound file,
// per the concurrency model of FTS-1026 (one reader, one writer, no
// internal locking needed).
type Engine struct {
	DestDir string // directory inbound files land in, e.g. the link's inbound path
	UseCRC  bool   // whether CRC negotiated on for this session

	queue    []*outFile
	inflight map[string]*outFile // name -> in-flight send, for M_GOT/M_GET/M_SKIP matching independent of arrival order
	in       *inFile

	filesSent     int
	filesReceived int
	crcFailures   int

	log *log.Entry
}

// FilesSent counts files fully sent and acknowledged this session.
func (e *Engine) FilesSent() int { return e.filesSent }

// FilesReceived counts files fully received and renamed into place.
func (e *Engine) FilesReceived() int { return e.filesReceived }

// CRCFailures counts inbound files rejected for a CRC mismatch.
func (e *Engine) CRCFailures() int { return e.crcFailures }

// New returns an Engine writing inbound files under destDir.
func New(destDir string, useCRC bool, logger *log.Entry) *Engine {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Engine{DestDir: destDir, UseCRC: useCRC, inflight: map[string]*outFile{}, log: logger}
}

// Queue adds files to the send queue in order; callers are responsible for
// having already applied bso flow ordering (bso.SortFlows).
func (e *Engine) Queue(reqs ...SendRequest) {
	for _, r := range reqs {
		e.queue = append(e.queue, &outFile{req: r})
	}
}

// Pending reports whether there is more outbound work (queued or in flight).
func (e *Engine) Pending() bool {
	return len(e.queue) > 0 || len(e.inflight) > 0
}

// Receiving reports whether a file is currently being received.
func (e *Engine) Receiving() bool {
	return e.in != nil
}

// Streaming reports whether an in-flight send still has bytes left to pump.
func (e *Engine) Streaming() bool {
	for _, of := range e.inflight {
		if !of.done {
			return true
		}
	}
	return false
}

// AdvanceSend starts the next queued file by statting it, emitting M_FILE,
// and opening it for read. It is a no-op while a file is still streaming:
// data frames carry no filename, so exactly one file's bytes may be on the
// wire at a time (files merely awaiting M_GOT do not block the next send).
func (e *Engine) AdvanceSend(sender Sender) (started bool, err error) {
	if len(e.queue) == 0 || e.Streaming() {
		return false, nil
	}
	of := e.queue[0]
	e.queue = e.queue[1:]

	info, statErr := os.Stat(of.req.LocalPath)
	if statErr != nil {
		return false, errkind.New(errkind.NotFound, "transfer.send", statErr)
	}
	of.size = info.Size()
	of.modTime = info.ModTime().Unix()

	f, openErr := os.Open(of.req.LocalPath)
	if openErr != nil {
		return false, errkind.New(errkind.FileIO, "transfer.send", openErr)
	}
	of.handle = f

	fileArgs := command.FileArgs{
		Name:      of.req.Name,
		Size:      of.size,
		Timestamp: of.modTime,
		Offset:    of.offset,
	}
	if e.UseCRC {
		sum, crcErr := crc.File(of.req.LocalPath)
		if crcErr != nil {
			f.Close()
			return false, errkind.New(errkind.FileIO, "transfer.send", crcErr)
		}
		fileArgs.CRC32 = &sum
	}

	if err := sender.SendCommand(command.Command{Op: command.OpFILE, File: fileArgs}); err != nil {
		f.Close()
		return false, err
	}
	if of.offset > 0 {
		if _, err := f.Seek(of.offset, io.SeekStart); err != nil {
			f.Close()
			return false, errkind.New(errkind.FileIO, "transfer.send", err)
		}
	}
	of.transferred = of.offset
	e.inflight[of.req.Name] = of
	e.log.WithField("file", of.req.Name).Debug("transfer: started send")
	return true, nil
}

// PumpSend streams up to one chunk (≤32767 bytes) from an in-flight send
// that still has bytes left, and returns the name of the file that
// reached EOF (if any) so the caller can send M_EOB bookkeeping once the
// whole queue has drained. It is a no-op if nothing is mid-stream.
func (e *Engine) PumpSend(sender Sender) (fileFinishedName string, err error) {
	for name, of := range e.inflight {
		if of.done {
			continue
		}
		if of.stage == nil {
			of.stage = fifo.New(maxChunk + diskChunk + 1)
		}
		scratch := make([]byte, diskChunk)
		for !of.readEOF && of.stage.Space() >= diskChunk {
			n, readErr := of.handle.Read(scratch)
			if n > 0 {
				of.stage.Write(scratch[:n])
			}
			if readErr == io.EOF {
				of.readEOF = true
				break
			}
			if readErr != nil {
				of.handle.Close()
				delete(e.inflight, name)
				return "", errkind.New(errkind.FileIO, "transfer.send", readErr)
			}
		}
		if of.stage.Occupied() > 0 {
			out := make([]byte, maxChunk)
			n := of.stage.Read(out)
			if err := sender.SendData(out[:n]); err != nil {
				return "", err
			}
			of.transferred += int64(n)
		}
		if of.readEOF && of.stage.Occupied() == 0 {
			of.done = true
			of.handle.Close()
			e.log.WithField("file", name).Debug("transfer: finished streaming, awaiting M_GOT")
			return name, nil
		}
		return "", nil
	}
	return "", nil
}

// HandleGot applies the post-action for an acknowledged file and removes it
// from the in-flight set, matching by name rather than arrival order since
// M_GOT for file F may arrive interleaved with data frames for F+1 (FTS-1026).
func (e *Engine) HandleGot(fa command.FileArgs) error {
	of, ok := e.inflight[fa.Name]
	if !ok {
		e.log.WithField("file", fa.Name).Warn("transfer: M_GOT for unknown file, ignoring")
		return nil
	}
	delete(e.inflight, fa.Name)
	e.filesSent++
	switch of.req.PostAction {
	case PostDelete:
		if err := os.Remove(of.req.LocalPath); err != nil && !os.IsNotExist(err) {
			return errkind.New(errkind.FileIO, "transfer.postaction", err)
		}
	case PostTruncate:
		f, err := os.OpenFile(of.req.LocalPath, os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return errkind.New(errkind.FileIO, "transfer.postaction", err)
		}
		f.Close()
	}
	return nil
}

// HandleGet restarts sending a file from the requested offset, per FTS-1026.
func (e *Engine) HandleGet(fa command.FileArgs, sender Sender) error {
	of, ok := e.inflight[fa.Name]
	if !ok {
		e.log.WithField("file", fa.Name).Warn("transfer: M_GET for file not in flight, ignoring")
		return nil
	}
	if of.handle != nil {
		of.handle.Close()
	}
	f, err := os.Open(of.req.LocalPath)
	if err != nil {
		return errkind.New(errkind.FileIO, "transfer.get", err)
	}
	if _, err := f.Seek(fa.Offset, io.SeekStart); err != nil {
		f.Close()
		return errkind.New(errkind.FileIO, "transfer.get", err)
	}
	fileArgs := command.FileArgs{
		Name: of.req.Name, Size: of.size, Timestamp: of.modTime, Offset: fa.Offset,
	}
	if e.UseCRC {
		sum, crcErr := crc.File(of.req.LocalPath)
		if crcErr != nil {
			f.Close()
			return errkind.New(errkind.FileIO, "transfer.get", crcErr)
		}
		fileArgs.CRC32 = &sum
	}
	of.handle = f
	of.offset = fa.Offset
	of.transferred = fa.Offset
	of.readEOF = false
	if of.stage != nil {
		of.stage.Reset()
	}
	of.done = false
	return sender.SendCommand(command.Command{Op: command.OpFILE, File: fileArgs})
}

// HandleSkip stops sending a file and drops it from the in-flight set,
// per FTS-1026.
func (e *Engine) HandleSkip(fa command.FileArgs) error {
	of, ok := e.inflight[fa.Name]
	if !ok {
		return nil
	}
	if of.handle != nil {
		of.handle.Close()
	}
	delete(e.inflight, fa.Name)
	return nil
}

// HandleFile processes a peer's M_FILE offer. If a partial temp file for
// this name already exists, the engine requests resume via M_GET rather
// than accepting at the offered offset, per FTS-1026's resume
// negotiation; otherwise it opens the temp file (truncated for an offer at
// offset 0, appended to for an offer at a positive offset) and begins
// receiving.
func (e *Engine) HandleFile(fa command.FileArgs, sender Sender) error {
	tempPath := filepath.Join(e.DestDir, fa.Name+".tmp")
	finalPath := filepath.Join(e.DestDir, fa.Name)

	if info, err := os.Stat(tempPath); err == nil && info.Size() > 0 && info.Size() < fa.Size && fa.Offset == 0 {
		// The sender may already be streaming from offset 0; those frames
		// stay on the wire ahead of its answer to our M_GET, so park a
		// discarding receive that swallows them until the re-offer lands.
		e.in = &inFile{name: fa.Name, size: fa.Size, discard: true}
		return sender.SendCommand(command.Command{Op: command.OpGET, File: command.FileArgs{
			Name: fa.Name, Size: fa.Size, Offset: info.Size(),
		}})
	}

	if err := os.MkdirAll(e.DestDir, 0o755); err != nil {
		return errkind.New(errkind.FileIO, "transfer.recv", err)
	}
	var f *os.File
	var err error
	if fa.Offset > 0 {
		f, err = os.OpenFile(tempPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	} else {
		f, err = os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return errkind.New(errkind.FileIO, "transfer.recv", err)
	}
	in := &inFile{
		name: fa.Name, size: fa.Size, timestamp: fa.Timestamp, offset: fa.Offset,
		tempPath: tempPath, finalPath: finalPath, transferred: fa.Offset,
		handle: f, useCRC: e.UseCRC, peerCRC: fa.CRC32,
	}
	if e.UseCRC {
		in.crcState = crc.Start()
		if fa.Offset > 0 {
			// Resume with CRC enabled requires re-reading the bytes already
			// on disk to fold them into the running CRC so the final check
			// covers the whole file, not just the resumed tail.
			existing, readErr := os.ReadFile(tempPath)
			if readErr == nil {
				in.crcState = crc.Update(in.crcState, existing[:min64(int64(len(existing)), fa.Offset)])
			}
		}
	}
	e.in = in
	e.log.WithField("file", fa.Name).WithField("offset", fa.Offset).Debug("transfer: receiving")
	if in.transferred >= in.size {
		// Zero-length file, or an offer resumed at EOF: no data frames follow.
		_, err := e.completeInbound(sender)
		return err
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// WriteData feeds one inbound data frame to the file currently being
// received. When the file is complete it is verified, renamed into place
// (or rejected via M_SKIP on CRC mismatch), and cleared as the current
// inbound transfer, per FTS-1026.
func (e *Engine) WriteData(data []byte, sender Sender) (finishedName string, err error) {
	if e.in == nil {
		return "", fmt.Errorf("transfer: data frame with no file in progress")
	}
	in := e.in
	if in.discard {
		return "", nil
	}
	if _, err := in.handle.Write(data); err != nil {
		in.handle.Close()
		e.in = nil
		return "", errkind.New(errkind.FileIO, "transfer.recv", err)
	}
	in.transferred += int64(len(data))
	if in.useCRC {
		in.crcState = crc.Update(in.crcState, data)
	}
	if in.transferred < in.size {
		return "", nil
	}
	return e.completeInbound(sender)
}

// completeInbound closes out the file currently being received: verify its
// CRC if negotiated, rename the temp file into place and ack with M_GOT, or
// discard and reject with M_SKIP on mismatch.
func (e *Engine) completeInbound(sender Sender) (finishedName string, err error) {
	in := e.in
	in.handle.Close()
	e.in = nil

	if in.useCRC && in.peerCRC != nil {
		got := crc.Finish(in.crcState)
		if got != *in.peerCRC {
			e.log.WithField("file", in.name).WithField("want", *in.peerCRC).WithField("got", got).Warn("transfer: CRC mismatch, rejecting file")
			e.crcFailures++
			os.Remove(in.tempPath)
			if sendErr := sender.SendCommand(command.Command{Op: command.OpSKIP, File: command.FileArgs{Name: in.name, Size: in.size, Offset: 0}}); sendErr != nil {
				return "", sendErr
			}
			return "", nil
		}
	}

	if err := os.Rename(in.tempPath, in.finalPath); err != nil {
		return "", errkind.New(errkind.FileIO, "transfer.recv", err)
	}
	if err := sender.SendCommand(command.Command{Op: command.OpGOT, File: command.FileArgs{Name: in.name, Size: in.size}}); err != nil {
		return "", err
	}
	e.filesReceived++
	return in.name, nil
}

// RequestsFromFlow converts resolved flow entries (paths that passed
// existence validation) into SendRequests, applying each entry's directive
// as a post-action, per FTS-1026.
func RequestsFromFlow(entries []bso.FlowEntry) []SendRequest {
	out := make([]SendRequest, 0, len(entries))
	for _, e := range entries {
		if e.Directive == bso.DirectiveSkip {
			continue
		}
		post := PostNone
		switch e.Directive {
		case bso.DirectiveDelete:
			post = PostDelete
		case bso.DirectiveTruncate:
			post = PostTruncate
		}
		out = append(out, SendRequest{
			Name:       filepath.Base(e.Path),
			LocalPath:  e.Path,
			PostAction: post,
		})
	}
	return out
}
