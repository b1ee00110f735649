package mailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xx25/binkd-go/addr"
	"github.com/xx25/binkd-go/binkopt"
	"github.com/xx25/binkd-go/bso"
	"github.com/xx25/binkd-go/pkg/config"
)

func mailerConfig(t *testing.T, self addr.Address, peer config.Link) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		Mailer: config.Mailer{
			SystemName:      "Test System",
			OutboundBase:    filepath.Join(base, "out"),
			InboundDir:      filepath.Join(base, "in"),
			FrameDeadline:   5 * time.Second,
			SessionDeadline: 30 * time.Second,
			StaleLockMaxAge: time.Hour,
			MaxTries:        3,
			HoldTime:        time.Minute,
			Addresses:       []addr.Address{self},
		},
		Links: []config.Link{peer},
	}
}

// A full poll cycle against our own listener: the caller's queued flow file
// is delivered into the answerer's inbound directory, the flow file and TRY
// counter are cleaned up, and the BSY lock is released.
func TestPollDeliversQueuedFile(t *testing.T) {
	callerAddr := addr.New(1, 10, 1, 0)
	receiverAddr := addr.New(1, 20, 2, 0)

	receiverCfg := mailerConfig(t, receiverAddr, config.Link{
		Address:  callerAddr,
		Password: "s3cret",
		CRAMMode: "auto",
		CRC:      binkopt.ModeSupported,
	})
	receiver := New(receiverCfg, prometheus.NewRegistry(), nil)
	ln, err := newListener(receiver, "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.run(ctx)

	callerCfg := mailerConfig(t, callerAddr, config.Link{
		Address:     receiverAddr,
		InboundHost: ln.ln.Addr().String(),
		Password:    "s3cret",
		CRAMMode:    "auto",
		CRC:         binkopt.ModeSupported,
	})
	caller := New(callerCfg, prometheus.NewRegistry(), nil)

	// Queue one file for the receiver in the caller's outbound.
	outDir := caller.links[0].outDir()
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	payload := []byte("netmail bundle bytes")
	bundlePath := filepath.Join(t.TempDir(), "bundle.su0")
	require.NoError(t, os.WriteFile(bundlePath, payload, 0o644))
	floName := bso.FlowFileName(receiverAddr.Net, receiverAddr.Node, bso.FlavorNormal, bso.KindReference)
	floPath := filepath.Join(outDir, floName)
	require.NoError(t, os.WriteFile(floPath, []byte(bundlePath+"\n"), 0o644))

	require.NoError(t, caller.links[0].pollOnce(ctx, false))

	got, err := os.ReadFile(filepath.Join(receiverCfg.Mailer.InboundDir, "bundle.su0"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, statErr := os.Stat(floPath)
	assert.True(t, os.IsNotExist(statErr), "shipped flow file should be removed")
	_, held, err := bso.CheckBSY(outDir, receiverAddr.Net, receiverAddr.Node)
	require.NoError(t, err)
	assert.False(t, held, "BSY lock should be released after the session")
}

// A held link is skipped without dialing.
func TestPollHonorsHold(t *testing.T) {
	peer := addr.New(1, 20, 2, 0)
	cfg := mailerConfig(t, addr.New(1, 10, 1, 0), config.Link{
		Address:     peer,
		InboundHost: "127.0.0.1:1", // nothing listens here; a dial attempt would fail
	})
	m := New(cfg, prometheus.NewRegistry(), nil)
	link := m.links[0]
	dir := link.outDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, bso.CreateHold(dir, peer.Net, peer.Node, time.Now().Add(time.Hour), "testing"))

	require.NoError(t, link.pollOnce(context.Background(), false))
	_, err := os.Stat(filepath.Join(dir, bso.ControlFileName(peer.Net, peer.Node, bso.KindTRY)))
	assert.True(t, os.IsNotExist(err), "held poll must not record a try")
}

// A BSY lock held by someone else defers the poll without error.
func TestPollDefersOnBusy(t *testing.T) {
	peer := addr.New(1, 20, 2, 0)
	cfg := mailerConfig(t, addr.New(1, 10, 1, 0), config.Link{
		Address:     peer,
		InboundHost: "127.0.0.1:1",
	})
	m := New(cfg, prometheus.NewRegistry(), nil)
	link := m.links[0]
	dir := link.outDir()
	lock, err := bso.AcquireBSY(dir, peer.Net, peer.Node, "other 123\n")
	require.NoError(t, err)
	defer bso.Release(lock)

	require.NoError(t, link.pollOnce(context.Background(), false))
}

// Repeated failed calls accumulate TRY counts and finally hold the link.
func TestFailuresEscalateToHold(t *testing.T) {
	peer := addr.New(1, 20, 2, 0)
	cfg := mailerConfig(t, addr.New(1, 10, 1, 0), config.Link{
		Address:     peer,
		InboundHost: "127.0.0.1:1", // connection refused
	})
	cfg.Mailer.MaxTries = 2
	m := New(cfg, prometheus.NewRegistry(), nil)
	link := m.links[0]
	ctx := context.Background()

	require.Error(t, link.pollOnce(ctx, false))
	require.Error(t, link.pollOnce(ctx, false))

	_, ok, err := bso.CheckHold(link.outDir(), peer.Net, peer.Node)
	require.NoError(t, err)
	assert.True(t, ok, "link should be held after MaxTries failures")
}

func TestPollUnknownLink(t *testing.T) {
	cfg := mailerConfig(t, addr.New(1, 10, 1, 0), config.Link{
		Address:     addr.New(1, 20, 2, 0),
		InboundHost: "127.0.0.1:1",
	})
	m := New(cfg, prometheus.NewRegistry(), nil)
	assert.Error(t, m.PollLink(context.Background(), "9:9/9"))
}
