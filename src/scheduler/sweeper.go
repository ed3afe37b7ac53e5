// Package scheduler runs the periodic reconciliation sweep that settles
// decision items whose deadline has passed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
	"github.com/stake-plus/govdecisions/src/metrics"
	"github.com/stake-plus/govdecisions/src/types"
	"golang.org/x/sync/errgroup"
)

// Lister finds voting items whose deadline is at or before now.
type Lister interface {
	ListExpiring(ctx context.Context, now time.Time) ([]string, error)
}

// Reconciler settles one expired item.
type Reconciler interface {
	Reconcile(ctx context.Context, pollID string) (types.PollStage, error)
}

type Options struct {
	Interval time.Duration
	// IdleTimeout suspends the cron after this long without Touch. Zero
	// keeps it running.
	IdleTimeout time.Duration
	BatchSize   int
}

// Report summarizes one sweep.
type Report struct {
	Checked  int
	Ratified int
	Closed   int
	Failed   int
}

type Sweeper struct {
	lister  Lister
	recon   Reconciler
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	armed   bool
	idle    *time.Timer
	idleGen uint64
	baseCtx context.Context
	cancel  context.CancelFunc
	touches atomic.Int64
}

func New(lister Lister, recon Reconciler, m *metrics.Metrics, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	return &Sweeper{lister: lister, recon: recon, metrics: m, opts: opts, now: time.Now}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) Name() string { return "scheduler" }

// Start schedules the sweep and arms it.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	logger := cronLogger{}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.opts.Interval), s.tick); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron = c
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.armLocked()
	log.Info("sweep scheduled", "interval", s.opts.Interval, "idleTimeout", s.opts.IdleTimeout)
	return nil
}

// Stop halts the cron and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	s.armed = false
	s.cron = nil
	cancel := s.cancel
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()
}

// Touch re-arms a suspended sweep and pushes back the idle deadline.
func (s *Sweeper) Touch() {
	s.touches.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.armLocked()
}

// Armed reports whether the cron is currently scheduling sweeps.
func (s *Sweeper) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

func (s *Sweeper) armLocked() {
	if !s.armed {
		s.cron.Start()
		s.armed = true
		log.Debug("sweep armed")
	}
	if s.opts.IdleTimeout <= 0 {
		return
	}
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idleGen++
	gen := s.idleGen
	s.idle = time.AfterFunc(s.opts.IdleTimeout, func() { s.suspend(gen) })
}

// suspend stops the cron unless a Touch re-armed the idle timer after the
// one that fired; a fired timer may be waiting on mu while Touch runs.
func (s *Sweeper) suspend(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil || !s.armed || gen != s.idleGen {
		return
	}
	s.cron.Stop()
	s.armed = false
	s.idle = nil
	log.Info("sweep suspended after idle period", "idleTimeout", s.opts.IdleTimeout)
}

func (s *Sweeper) tick() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Interval)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		log.Error("sweep failed", "err", err)
	}
}

// RunOnce settles every expired item, BatchSize at a time. Per-item failures
// are logged and counted; only a failure to list items is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	s.metrics.Sweep()
	ids, err := s.lister.ListExpiring(ctx, s.now())
	if err != nil {
		return Report{}, err
	}

	var ratified, closed, failed atomic.Int64
	for start := 0; start < len(ids); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(ids))
		var g errgroup.Group
		for _, id := range ids[start:end] {
			id := id
			g.Go(func() error {
				stage, err := s.recon.Reconcile(ctx, id)
				switch {
				case err != nil:
					failed.Add(1)
					s.metrics.SweepFailure()
					log.Warn("reconcile failed", "poll", id, "err", err)
				case stage == types.StageRatified:
					ratified.Add(1)
				case stage == types.StageClosed:
					closed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			break
		}
	}

	r := Report{
		Checked:  len(ids),
		Ratified: int(ratified.Load()),
		Closed:   int(closed.Load()),
		Failed:   int(failed.Load()),
	}
	if r.Checked > 0 {
		log.Info("sweep finished", "checked", r.Checked, "ratified", r.Ratified, "closed", r.Closed, "failed", r.Failed)
	}
	return r, nil
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error(msg, append(keysAndValues, "err", err)...)
}
