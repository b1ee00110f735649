package session

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xx25/binkd-go/addr"
	"github.com/xx25/binkd-go/binkopt"
	"github.com/xx25/binkd-go/cram"
	"github.com/xx25/binkd-go/transfer"
)

func testAddr(net_, node uint16) addr.Address {
	return addr.New(2, net_, node, 0)
}

// runPair drives an originator/answerer pair over a loopback TCP
// connection. Real sockets rather than net.Pipe: both sides emit their
// greeting block before their first read, which needs the kernel's socket
// buffering to absorb, exactly as on a real link.
func runPair(t *testing.T, originatorCfg, answererCfg Config) (Result, Result) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	originatorCfg.Role = RoleOriginator
	answererCfg.Role = RoleAnswerer

	resultCh := make(chan Result, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			resultCh <- Result{State: ErrorState, Err: err}
			return
		}
		defer conn.Close()
		resultCh <- New(conn, answererCfg, nil).Run(context.Background())
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	originResult := New(conn, originatorCfg, nil).Run(context.Background())
	answerResult := <-resultCh
	return originResult, answerResult
}

// Unauthenticated session: both sides advertise
// OPT CRC, session reaches DONE with matching byte counters.
func TestUnauthenticatedSuccess(t *testing.T) {
	cfg := Config{
		LocalAddresses: []addr.Address{testAddr(1, 1)},
		Link:           LinkConfig{CRC: binkopt.ModeSupported},
	}
	originResult, answerResult := runPair(t, cfg, cfg)

	require.NoError(t, originResult.Err)
	require.NoError(t, answerResult.Err)
	assert.Equal(t, Done, originResult.State)
	assert.Equal(t, Done, answerResult.State)
	assert.Equal(t, originResult.BytesSent, answerResult.BytesReceived)
	assert.Equal(t, answerResult.BytesSent, originResult.BytesReceived)
}

// Plaintext password auth succeeds.
func TestPlaintextAuth(t *testing.T) {
	originCfg := Config{
		LocalAddresses: []addr.Address{testAddr(1, 1)},
		Link:           LinkConfig{Password: "secret"},
	}
	answerCfg := Config{
		LocalAddresses: []addr.Address{testAddr(2, 2)},
		Link:           LinkConfig{Password: "secret"},
	}
	originResult, answerResult := runPair(t, originCfg, answerCfg)

	require.NoError(t, originResult.Err)
	require.NoError(t, answerResult.Err)
	assert.Equal(t, Done, originResult.State)
	assert.Equal(t, Done, answerResult.State)
	require.Len(t, answerResult.RemoteAddrs, 1)
	assert.True(t, answerResult.RemoteAddrs[0].Equal(testAddr(1, 1)))
}

// Wrong password is rejected with AuthFailed on
// both ends (the answerer detects it; the originator sees its M_ERR).
func TestPlaintextAuthWrongPassword(t *testing.T) {
	originCfg := Config{
		LocalAddresses: []addr.Address{testAddr(1, 1)},
		Link:           LinkConfig{Password: "wrong"},
	}
	answerCfg := Config{
		LocalAddresses: []addr.Address{testAddr(2, 2)},
		Link:           LinkConfig{Password: "secret"},
	}
	_, answerResult := runPair(t, originCfg, answerCfg)
	require.Error(t, answerResult.Err)
	assert.Equal(t, ErrorState, answerResult.State)
}

// CRAM challenge/response auth end to end.
func TestCRAMAuth(t *testing.T) {
	originCfg := Config{
		LocalAddresses: []addr.Address{testAddr(1, 1)},
		Link:           LinkConfig{Password: "secret"},
	}
	answerCfg := Config{
		LocalAddresses: []addr.Address{testAddr(2, 2)},
		Link:           LinkConfig{Password: "secret", CRAMAlgorithms: []cram.Algorithm{cram.MD5}},
	}
	originResult, answerResult := runPair(t, originCfg, answerCfg)

	require.NoError(t, originResult.Err)
	require.NoError(t, answerResult.Err)
	assert.Equal(t, Done, originResult.State)
	assert.Equal(t, Done, answerResult.State)
}

// A whole file is transferred end to end.
func TestFileTransferEndToEnd(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	content := []byte("the quick brown fox jumps over the lazy dog, repeated a bit to pad the file out")
	srcPath := filepath.Join(srcDir, "data.txt")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	originCfg := Config{
		LocalAddresses: []addr.Address{testAddr(1, 1)},
		Link:           LinkConfig{CRC: binkopt.ModeSupported},
		Outbound: []transfer.SendRequest{
			{Name: "data.txt", LocalPath: srcPath, PostAction: transfer.PostNone},
		},
	}
	answerCfg := Config{
		LocalAddresses: []addr.Address{testAddr(2, 2)},
		Link:           LinkConfig{CRC: binkopt.ModeSupported},
		InboundDir:     dstDir,
	}
	originResult, answerResult := runPair(t, originCfg, answerCfg)

	require.NoError(t, originResult.Err)
	require.NoError(t, answerResult.Err)
	got, err := os.ReadFile(filepath.Join(dstDir, "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

// A required option the peer does not offer fails the session with
// AuthFailed, per FTS-1026's negotiation table.
func TestRequiredOptionRejectsSession(t *testing.T) {
	originCfg := Config{
		LocalAddresses:  []addr.Address{testAddr(1, 1)},
		Link:            LinkConfig{PLZ: binkopt.ModeRequired},
		SessionDeadline: 100 * time.Millisecond,
		FrameDeadline:   50 * time.Millisecond,
	}
	answerCfg := Config{
		LocalAddresses:  []addr.Address{testAddr(2, 2)},
		SessionDeadline: 100 * time.Millisecond,
		FrameDeadline:   50 * time.Millisecond,
		// answerer does not itself require PLZ, but never advertised
		// support for it either (Local.PLZ stays ModeNone), so the
		// originator's own REQUIRED stance is what fails.
	}
	originResult, answerResult := runPair(t, originCfg, answerCfg)
	assert.Error(t, originResult.Err)
	// The answerer's own negotiation succeeds (it never required PLZ), but
	// the originator's best-effort M_ERR (or, failing that, the session
	// deadline) still ends its session in an error state.
	assert.Error(t, answerResult.Err)
}

func TestSessionDeadlineHonored(t *testing.T) {
	cfg := Config{
		LocalAddresses:  []addr.Address{testAddr(1, 1)},
		FrameDeadline:   50 * time.Millisecond,
		SessionDeadline: 50 * time.Millisecond,
	}
	originConn, answerConn := net.Pipe()
	defer originConn.Close()
	defer answerConn.Close()

	cfg.Role = RoleAnswerer
	// Only start the answerer; never run an originator, so nothing reads the
	// unbuffered pipe and the answerer's first greeting write blocks until
	// its deadline fires.
	s := New(answerConn, cfg, nil)
	result := s.Run(context.Background())
	assert.Error(t, result.Err)
	assert.Equal(t, ErrorState, result.State)
}
