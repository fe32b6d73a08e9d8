package kiosk

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeInterval = 5 * time.Second
	DefaultDrainInterval = 30 * time.Second
)

// Watcher follows connectivity. Going from offline to online logs in again
// and drains the queue. The server is checked on every tick and after every
// enqueue; a slower loop drains periodically in case a transition was
// missed.
type Watcher struct {
	k             *Kiosk
	probeInterval time.Duration
	drainInterval time.Duration
	probeTimeout  time.Duration
}

func NewWatcher(k *Kiosk, probe, drain time.Duration) *Watcher {
	if probe <= 0 {
		probe = DefaultProbeInterval
	}
	if drain <= 0 {
		drain = DefaultDrainInterval
	}
	timeout := probe
	if timeout > 3*time.Second {
		timeout = 3 * time.Second
	}
	return &Watcher{k: k, probeInterval: probe, drainInterval: drain, probeTimeout: timeout}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.probeLoop(ctx) })
	g.Go(func() error { return w.drainLoop(ctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Probe checks the server once and handles a transition.
func (w *Watcher) Probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, w.probeTimeout)
	err := w.k.API.Health(pctx)
	cancel()

	was := w.k.Online()
	if err != nil {
		if was {
			log.WithError(err).Warn("server went offline")
		}
		w.k.online.Store(false)
		return
	}
	if was {
		return
	}

	log.Info("server is back online")
	if err := w.k.connect(ctx); err != nil {
		log.WithError(err).Warn("reconnect failed")
	}
}

func (w *Watcher) probeLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Probe(ctx)
		case <-w.k.enqueued:
			w.Probe(ctx)
		}
	}
}

func (w *Watcher) drainLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !w.k.Online() {
				continue
			}
			if _, err := w.k.Queue.Drain(ctx); err != nil {
				log.WithError(err).Error("periodic drain failed")
			}
		}
	}
}
