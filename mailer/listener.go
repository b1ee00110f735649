package mailer

import (
	"context"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/xx25/binkd-go/addr"
	"github.com/xx25/binkd-go/binkopt"
	"github.com/xx25/binkd-go/bso"
	"github.com/xx25/binkd-go/cram"
	"github.com/xx25/binkd-go/session"
)

// maxInboundSessions bounds how many accepted connections run concurrently;
// per-peer serialization is still the BSY lock's job.
const maxInboundSessions = 16

type listener struct {
	m   *Mailer
	ln  net.Listener
	log *log.Entry
	sem chan struct{}
}

func newListener(m *Mailer, bind string) (*listener, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	return &listener{
		m:   m,
		ln:  ln,
		log: m.log.WithField("component", "listener"),
		sem: make(chan struct{}, maxInboundSessions),
	}, nil
}

// run accepts inbound connections until ctx is canceled, answering each in
// its own goroutine.
func (l *listener) run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	l.log.WithField("addr", l.ln.Addr().String()).Info("mailer: listening")
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.WithError(err).Warn("mailer: accept failed")
			continue
		}
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return
		}
		l.m.wg.Add(1)
		go func() {
			defer l.m.wg.Done()
			defer func() { <-l.sem }()
			l.handle(ctx, conn)
		}()
	}
}

// handle answers one inbound connection. The per-peer policy is not known
// until the caller's M_ADR arrives, so the session starts with a permissive
// baseline (all options advertised, CRAM challenge issued) and a
// ResolveLink callback that swaps in the matching configured link — taking
// its BSY lock and queueing its pending outbound — once the caller
// identifies itself. Unlisted callers proceed unsecured, receive-only.
func (l *listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	clog := l.log.WithField("remote", conn.RemoteAddr().String())

	var locks []*bso.Lock
	var shipped []*bso.FlowFile
	resolve := func(remote []addr.Address) (session.ResolvedLink, bool) {
		link := l.m.linkFor(remote)
		if link == nil {
			clog.Debug("mailer: caller matches no configured link")
			return session.ResolvedLink{}, true
		}
		dir := link.outDir()
		a := link.cfg.Address
		bsy, err := bso.AcquireBSY(dir, a.Net, a.Node, link.lockPayload())
		if err != nil {
			l.m.metrics.BSYContention.Inc()
			clog.WithError(err).Debug("mailer: inbound caller's link is busy")
			return session.ResolvedLink{}, false
		}
		locks = append(locks, bsy)
		flows, outbound, err := link.collectFlows(false)
		if err != nil {
			clog.WithError(err).Warn("mailer: outbound scan for inbound caller failed")
		}
		shipped = flows
		return session.ResolvedLink{
			Link:       link.sessionLink(),
			Outbound:   outbound,
			InboundDir: l.m.cfg.Mailer.InboundDir,
		}, true
	}

	scfg := session.Config{
		Role:           session.RoleAnswerer,
		LocalAddresses: l.m.cfg.Mailer.Addresses,
		SystemName:     l.m.cfg.Mailer.SystemName,
		Sysop:          l.m.cfg.Mailer.Sysop,
		Link: session.LinkConfig{
			CRAMAlgorithms: []cram.Algorithm{cram.SHA1, cram.MD5},
			NR:             binkopt.ModeSupported,
			CRC:            binkopt.ModeSupported,
			PLZ:            binkopt.ModeSupported,
		},
		ResolveLink:     resolve,
		FrameDeadline:   l.m.cfg.Mailer.FrameDeadline,
		SessionDeadline: l.m.cfg.Mailer.SessionDeadline,
		InboundDir:      l.m.cfg.Mailer.InboundDir,
	}

	l.m.metrics.SessionsStarted.Inc()
	l.m.metrics.ActiveSessions.Inc()
	res := session.New(conn, scfg, clog).Run(ctx)
	l.m.metrics.ActiveSessions.Dec()
	l.m.recordResult(res)

	if res.State == session.Done {
		for _, ff := range shipped {
			if err := removeFlowFile(ff); err != nil {
				clog.WithError(err).WithField("file", ff.Path).Warn("mailer: could not remove shipped flow file")
			}
		}
	}
	for _, lk := range locks {
		if err := bso.Release(lk); err != nil {
			clog.WithError(err).Warn("mailer: lock release failed")
		}
	}
	if res.Err != nil {
		clog.WithError(res.Err).Warn("mailer: inbound session failed")
	} else {
		clog.WithField("files_sent", res.FilesSent).WithField("files_received", res.FilesReceived).Info("mailer: inbound session complete")
	}
}
