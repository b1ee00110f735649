package mailer

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xx25/binkd-go/addr"
	"github.com/xx25/binkd-go/bso"
	"github.com/xx25/binkd-go/pkg/config"
	"github.com/xx25/binkd-go/pkg/errkind"
	"github.com/xx25/binkd-go/session"
	"github.com/xx25/binkd-go/transfer"
)

// Link is one configured peer plus its poll bookkeeping. All BSO state for
// the link lives under outDir(); the BSY lock there is the only thing
// serializing this mailer against other mailers (or our own listener)
// working the same peer.
type Link struct {
	m   *Mailer
	cfg config.Link
	log *log.Entry
}

func newLink(m *Mailer, cfg config.Link) *Link {
	return &Link{
		m:   m,
		cfg: cfg,
		log: m.log.WithField("link", cfg.Address.String()),
	}
}

func errUnknownLink(target string) error {
	return errkind.New(errkind.NotFound, "mailer.poll", fmt.Errorf("no configured link %q", target))
}

// outDir is the directory this link's flow and control files live in.
func (l *Link) outDir() string {
	layout := bso.NewLayout(l.m.cfg.OutboundBaseFor(l.cfg))
	return layout.LinkDir(l.cfg.Address)
}

func (l *Link) lockPayload() string {
	ident := l.m.cfg.Mailer.SystemName
	if ident == "" {
		ident = "binkd-go"
	}
	return fmt.Sprintf("%s %d\n", ident, os.Getpid())
}

// sessionLink translates the parsed config.Link into the per-session policy.
// An empty accept set means only the link's own address is acceptable.
func (l *Link) sessionLink() session.LinkConfig {
	accept := l.cfg.AcceptSet
	if len(accept) == 0 {
		accept = []addr.Address{l.cfg.Address}
	}
	return session.LinkConfig{
		Password:       l.cfg.Password,
		CRAMAlgorithms: l.cfg.CRAMAlgorithms(),
		NR:             l.cfg.NR,
		CRC:            l.cfg.CRC,
		PLZ:            l.cfg.PLZ,
		AcceptAddress: func(a addr.Address) bool {
			for _, want := range accept {
				if want.Equal(a) {
					return true
				}
			}
			return false
		},
	}
}

// pollLoop dials the link on the configured interval (plus jitter) whenever
// BSO shows pending work, until ctx is canceled.
func (l *Link) pollLoop(ctx context.Context) {
	for {
		wait := l.m.cfg.Mailer.PollInterval
		if j := l.m.cfg.Mailer.PollJitter; j > 0 {
			wait += time.Duration(rand.Int63n(int64(j)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		flows, _, err := l.collectFlows(false)
		if err != nil {
			l.log.WithError(err).Warn("mailer: outbound scan failed")
			continue
		}
		if len(flows) == 0 {
			continue
		}
		if err := l.pollOnce(ctx, false); err != nil {
			l.log.WithError(err).Warn("mailer: poll failed")
		}
	}
}

// collectFlows scans the link's outbound directory for its flow files,
// orders them by flavor priority and mtime, and flattens their sendable
// entries. Hold-flavored flows are dropped unless flushHolds is set; flow
// entries whose local file no longer exists are skipped.
func (l *Link) collectFlows(flushHolds bool) ([]*bso.FlowFile, []transfer.SendRequest, error) {
	dir := l.outDir()
	a := l.cfg.Address
	wantHex := bso.HexAddr(a.Net, a.Node)
	if a.Point > 0 {
		wantHex = fmt.Sprintf("%08x", a.Point)
	}

	entries, err := bso.Scan(dir, func(name string) bool {
		_, hexPart, _, perr := bso.ParseFlowFileName(name)
		return perr == nil && hexPart == wantHex
	})
	if err != nil {
		return nil, nil, err
	}

	var flows []*bso.FlowFile
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		ff, err := bso.LoadFlowFile(e.Path, a.Net, a.Node, a.Point)
		if err != nil {
			l.log.WithError(err).WithField("file", e.Name).Warn("mailer: skipping unreadable flow file")
			continue
		}
		if ff.Flavor == bso.FlavorHold && !flushHolds {
			continue
		}
		flows = append(flows, ff)
	}
	bso.SortFlows(flows)

	var valid []bso.FlowEntry
	for _, ff := range flows {
		for _, fe := range ff.Entries {
			if _, err := os.Stat(fe.Path); err != nil {
				l.log.WithField("path", fe.Path).Warn("mailer: flow entry missing on disk, skipping")
				continue
			}
			valid = append(valid, fe)
		}
	}
	return flows, transfer.RequestsFromFlow(valid), nil
}

// pollOnce makes one call to the link: reap stale control files, honor any
// HLD in effect, take the BSY and CSY locks, dial, run an originator
// session, then settle the books (clear or bump the TRY counter, hold the
// link off after too many failures, drop fully shipped flow files).
func (l *Link) pollOnce(ctx context.Context, flushHolds bool) error {
	if l.cfg.InboundHost == "" {
		return errkind.New(errkind.NotFound, "mailer.poll", fmt.Errorf("link %s has no inbound host to dial", l.cfg.Address))
	}
	dir := l.outDir()
	a := l.cfg.Address

	if removed, err := bso.ReapStale(dir, l.m.cfg.Mailer.StaleLockMaxAge, time.Now()); err == nil && len(removed) > 0 {
		l.log.WithField("count", len(removed)).Info("mailer: reaped stale control files")
	}

	if hold, ok, err := bso.CheckHold(dir, a.Net, a.Node); err == nil && ok && !flushHolds {
		if time.Now().Before(hold.Until) {
			l.log.WithField("until", hold.Until).Debug("mailer: link held, skipping poll")
			return nil
		}
		_ = bso.ReleasePath(filepath.Join(dir, bso.ControlFileName(a.Net, a.Node, bso.KindHLD)))
	}

	flows, outbound, err := l.collectFlows(flushHolds)
	if err != nil {
		return err
	}

	bsy, err := bso.AcquireBSY(dir, a.Net, a.Node, l.lockPayload())
	if err != nil {
		if errkind.Is(err, errkind.Busy) {
			l.m.metrics.BSYContention.Inc()
			l.log.Debug("mailer: link busy, deferring poll")
			return nil
		}
		return err
	}
	defer bso.Release(bsy)

	csy, err := bso.AcquireCSY(dir, a.Net, a.Node, l.lockPayload())
	if err != nil {
		if errkind.Is(err, errkind.Busy) {
			l.m.metrics.BSYContention.Inc()
			return nil
		}
		return err
	}
	defer bso.Release(csy)

	res, err := l.call(ctx, outbound)
	if err != nil || res.State != session.Done {
		l.recordFailure(dir, a, err, res)
		return err
	}

	_ = bso.ClearTry(dir, a.Net, a.Node)
	for _, ff := range flows {
		if err := removeFlowFile(ff); err != nil {
			l.log.WithError(err).WithField("file", ff.Path).Warn("mailer: could not remove shipped flow file")
		}
	}
	l.log.WithField("files_sent", res.FilesSent).WithField("files_received", res.FilesReceived).Info("mailer: session complete")
	return nil
}

// call dials the peer and runs one originator session over the connection.
func (l *Link) call(ctx context.Context, outbound []transfer.SendRequest) (session.Result, error) {
	dialer := net.Dialer{Timeout: l.m.cfg.Mailer.FrameDeadline}
	conn, err := dialer.DialContext(ctx, "tcp", l.cfg.InboundHost)
	if err != nil {
		return session.Result{State: session.ErrorState}, errkind.New(errkind.Network, "mailer.dial", err)
	}
	defer conn.Close()

	scfg := session.Config{
		Role:            session.RoleOriginator,
		LocalAddresses:  l.m.cfg.Mailer.Addresses,
		SystemName:      l.m.cfg.Mailer.SystemName,
		Sysop:           l.m.cfg.Mailer.Sysop,
		Link:            l.sessionLink(),
		FrameDeadline:   l.m.cfg.Mailer.FrameDeadline,
		SessionDeadline: l.m.cfg.Mailer.SessionDeadline,
		Outbound:        outbound,
		InboundDir:      l.m.cfg.Mailer.InboundDir,
	}

	l.m.metrics.SessionsStarted.Inc()
	l.m.metrics.ActiveSessions.Inc()
	res := session.New(conn, scfg, l.log).Run(ctx)
	l.m.metrics.ActiveSessions.Dec()
	l.m.recordResult(res)
	return res, res.Err
}

// recordFailure bumps the TRY counter and, once the link has failed
// MaxTries calls in a row, writes an HLD file backing it off for HoldTime.
func (l *Link) recordFailure(dir string, a addr.Address, err error, res session.Result) {
	tries, terr := bso.IncrementTry(dir, a.Net, a.Node)
	if terr != nil {
		l.log.WithError(terr).Warn("mailer: could not record try")
		return
	}
	l.log.WithError(err).WithField("tries", tries).Warn("mailer: session failed")
	if max := l.m.cfg.Mailer.MaxTries; max > 0 && tries >= max {
		reason := "too many failed calls"
		if err != nil {
			reason = err.Error()
		}
		until := time.Now().Add(l.m.cfg.Mailer.HoldTime)
		if herr := bso.CreateHold(dir, a.Net, a.Node, until, reason); herr != nil {
			l.log.WithError(herr).Warn("mailer: could not create hold")
		} else {
			_ = bso.ClearTry(dir, a.Net, a.Node)
			l.log.WithField("until", until).Info("mailer: link held after repeated failures")
		}
	}
}
