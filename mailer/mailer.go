// Package mailer implements the top-level scheduler tying the pieces
// together: for each configured link, poll BSO for pending work, acquire
// the BSY lock, dial or accept, run a session.Session to completion,
// release the lock, and apply post-transfer actions.
package mailer

import (
	"context"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/xx25/binkd-go/addr"
	"github.com/xx25/binkd-go/bso"
	"github.com/xx25/binkd-go/pkg/config"
	"github.com/xx25/binkd-go/pkg/metrics"
	"github.com/xx25/binkd-go/session"
)

// Mailer owns every configured Link and the inbound listener. Different
// peers may run sessions in parallel; the same peer is serialized by its
// BSY lock.
type Mailer struct {
	cfg     *config.Config
	log     *log.Entry
	metrics *metrics.Metrics

	links []*Link

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Mailer from a parsed configuration, registering its metrics
// against reg (typically prometheus.NewRegistry() or
// prometheus.DefaultRegisterer).
func New(cfg *config.Config, reg prometheus.Registerer, logger *log.Entry) *Mailer {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	m := &Mailer{
		cfg:     cfg,
		log:     logger.WithField("component", "mailer"),
		metrics: metrics.New(reg),
	}
	for _, l := range cfg.Links {
		m.links = append(m.links, newLink(m, l))
	}
	return m
}

// Run starts the inbound listener (if cfg.Mailer.Listen is set) and a poll
// loop per configured link, blocking until ctx is canceled.
func (m *Mailer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	defer cancel()

	if m.cfg.Mailer.Listen != "" {
		listener, err := newListener(m, m.cfg.Mailer.Listen)
		if err != nil {
			return err
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			listener.run(ctx)
		}()
	}

	for _, l := range m.links {
		l := l
		if l.cfg.InboundHost == "" {
			continue // inbound-only link, nothing to poll
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			l.pollLoop(ctx)
		}()
	}

	<-ctx.Done()
	m.wg.Wait()
	return nil
}

// Stop cancels Run's context and waits for every goroutine it started to
// exit.
func (m *Mailer) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// linkFor finds the configured link matching any of the remote's advertised
// addresses, or nil if the caller is unlisted.
func (m *Mailer) linkFor(remote []addr.Address) *Link {
	for _, l := range m.links {
		for _, ra := range remote {
			if l.cfg.Address.Equal(ra) {
				return l
			}
		}
	}
	return nil
}

// recordResult folds one finished session into the mailer's counters.
func (m *Mailer) recordResult(res session.Result) {
	state := "done"
	if res.State != session.Done {
		state = "error"
	}
	m.metrics.SessionsCompleted.WithLabelValues(state).Inc()
	m.metrics.BytesSent.Add(float64(res.BytesSent))
	m.metrics.BytesReceived.Add(float64(res.BytesReceived))
	m.metrics.FilesSent.Add(float64(res.FilesSent))
	m.metrics.FilesReceived.Add(float64(res.FilesReceived))
	m.metrics.CRCFailures.Add(float64(res.CRCFailures))
}

// removeFlowFile drops a flow file whose entries have all been shipped.
func removeFlowFile(ff *bso.FlowFile) error {
	if err := os.Remove(ff.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FlushHolds runs one poll pass against every link ignoring HLD files and
// sending hold-flavored flows too, for the `binkd flush-holds` CLI verb.
func (m *Mailer) FlushHolds(ctx context.Context) error {
	for _, l := range m.links {
		if err := l.pollOnce(ctx, true); err != nil {
			m.log.WithError(err).WithField("link", l.cfg.Address).Warn("mailer: flush-holds poll failed")
		}
	}
	return nil
}

// PollLink runs one immediate poll pass against a single configured link by
// address, for the `binkd poll <link>` CLI verb.
func (m *Mailer) PollLink(ctx context.Context, target string) error {
	for _, l := range m.links {
		if l.cfg.Address.String() == target {
			return l.pollOnce(ctx, false)
		}
	}
	return errUnknownLink(target)
}
