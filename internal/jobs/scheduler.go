package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ArCaneSec/watcher/internal/notifs"
	"github.com/ArCaneSec/watcher/internal/store"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const (
	ReconcileInterval         = 5 * time.Minute
	defaultMaxConcurrentPolls = 16
)

var ErrSchedulerStopped = errors.New("scheduler is stopped")

type job struct {
	interval time.Duration
	cronJob  gocron.Job
}

type JobInfo struct {
	Interval time.Duration `json:"interval"`
	NextRun  time.Time     `json:"next_run"`
	Running  bool          `json:"running"`
}

// Scheduler keeps one repeating timer per enabled target and reconciles
// that set against the store on reload signals and every ReconcileInterval.
type Scheduler struct {
	core    gocron.Scheduler
	store   store.Store
	poller  *Poller
	notify  notifs.Notify
	metrics *metrics

	mu   sync.Mutex
	jobs map[uint]*job

	reconcileMu sync.Mutex

	stateMu sync.Mutex
	running bool
	stopped bool
	wg      sync.WaitGroup

	reloadCh chan struct{}
	quit     chan struct{}
	loopWg   sync.WaitGroup

	inflight *inflight
	runAll   singleflight.Group
}

type config struct {
	poller        *Poller
	notify        notifs.Notify
	registry      prometheus.Registerer
	clock         clockwork.Clock
	maxConcurrent uint
}

type Option func(*config)

func WithPoller(p *Poller) Option {
	return func(c *config) {
		c.poller = p
	}
}

func WithNotifier(n notifs.Notify) Option {
	return func(c *config) {
		c.notify = n
	}
}

func WithRegistry(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registry = reg
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

func WithMaxConcurrentPolls(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxConcurrent = uint(n)
		}
	}
}

func NewScheduler(s store.Store, opts ...Option) (*Scheduler, error) {
	cfg := config{maxConcurrent: defaultMaxConcurrentPolls}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.poller == nil {
		cfg.poller = NewPoller()
	}
	if cfg.notify == nil {
		cfg.notify = notifs.Nop{}
	}

	schedOpts := []gocron.SchedulerOption{
		gocron.WithLimitConcurrentJobs(cfg.maxConcurrent, gocron.LimitModeWait),
		gocron.WithStopTimeout(PollTimeout + 5*time.Second),
	}
	if cfg.clock != nil {
		schedOpts = append(schedOpts, gocron.WithClock(cfg.clock))
	}

	core, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &Scheduler{
		core:     core,
		store:    s,
		poller:   cfg.poller,
		notify:   cfg.notify,
		metrics:  newMetrics(cfg.registry),
		jobs:     make(map[uint]*job),
		reloadCh: make(chan struct{}, 1),
		quit:     make(chan struct{}),
		inflight: newInflight(),
	}, nil
}

// Start begins firing timers, registers the periodic reconcile and queues
// an initial one.
func (s *Scheduler) Start() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.running {
		return nil
	}

	_, err := s.core.NewJob(
		gocron.DurationJob(ReconcileInterval),
		gocron.NewTask(s.Reload),
		gocron.WithName("reconcile"),
	)
	if err != nil {
		return fmt.Errorf("register reconcile job: %w", err)
	}

	s.core.Start()
	s.running = true

	s.loopWg.Add(1)
	go s.reloadLoop()

	s.Reload()
	log.Info("Scheduler started.", "reconcile_every", ReconcileInterval)
	return nil
}

// Reload asks for a reconcile without waiting for it. Calls made while one
// is pending collapse into it.
func (s *Scheduler) Reload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) reloadLoop() {
	defer s.loopWg.Done()

	for {
		select {
		case <-s.quit:
			return
		case <-s.reloadCh:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			_ = s.Reconcile(ctx)
			cancel()
		}
	}
}

// Reconcile makes the timer set match the enabled targets in the store.
// When the store can't be read the current timers are kept.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	if s.isStopped() {
		return ErrSchedulerStopped
	}

	targets, err := s.store.ListTargets(ctx, store.EnabledOnly())
	if err != nil {
		s.metrics.reconciles.WithLabelValues(outcomeFailure).Inc()
		log.Error("Couldn't list targets, keeping current schedules.", "err", err)
		return fmt.Errorf("list enabled targets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	seen := make(map[uint]struct{}, len(targets))
	for _, t := range targets {
		seen[t.ID] = struct{}{}
		if err := s.schedule(t.ID, t.Interval()); err != nil {
			log.Error("Couldn't schedule target.", "target_id", t.ID, "url", t.URL, "err", err)
			errs = append(errs, err)
		}
	}

	for id, j := range s.jobs {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := s.core.RemoveJob(j.cronJob.ID()); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			log.Warn("Couldn't remove timer.", "target_id", id, "err", err)
		}
		delete(s.jobs, id)
		log.Debug("Unscheduled target.", "target_id", id)
	}

	s.metrics.scheduledTargets.Set(float64(len(s.jobs)))

	if err := errors.Join(errs...); err != nil {
		s.metrics.reconciles.WithLabelValues(outcomeFailure).Inc()
		return err
	}

	s.metrics.reconciles.WithLabelValues(outcomeSuccess).Inc()
	log.Debug("Schedules reconciled.", "targets", len(s.jobs))
	return nil
}

// schedule installs a fresh timer for id. An unchanged interval keeps the
// pending fire time so periodic reconciles don't postpone long intervals.
// Callers hold s.mu.
func (s *Scheduler) schedule(id uint, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("target %d has non-positive interval %s", id, interval)
	}

	def := gocron.DurationJob(interval)
	task := gocron.NewTask(s.fire, id)
	name := gocron.WithName(fmt.Sprintf("target-%d", id))

	existing, ok := s.jobs[id]
	if !ok {
		cronJob, err := s.core.NewJob(def, task, name)
		if err != nil {
			return err
		}
		s.jobs[id] = &job{interval: interval, cronJob: cronJob}
		log.Debug("Scheduled target.", "target_id", id, "interval", interval)
		return nil
	}

	opts := []gocron.JobOption{name}
	if existing.interval == interval {
		if next, err := existing.cronJob.NextRun(); err == nil && !next.IsZero() {
			opts = append(opts, gocron.WithStartAt(gocron.WithStartDateTime(next)))
		}
	}

	cronJob, err := s.core.Update(existing.cronJob.ID(), def, task, opts...)
	if err != nil && len(opts) > 1 {
		// the pending fire time is already due; restart the interval instead
		cronJob, err = s.core.Update(existing.cronJob.ID(), def, task, name)
	}
	if err != nil {
		return err
	}

	s.jobs[id] = &job{interval: interval, cronJob: cronJob}
	return nil
}

// Jobs reports the current timer set keyed by target id.
func (s *Scheduler) Jobs() map[uint]JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uint]JobInfo, len(s.jobs))
	for id, j := range s.jobs {
		next, _ := j.cronJob.NextRun()
		out[id] = JobInfo{
			Interval: j.interval,
			NextRun:  next,
			Running:  s.inflight.running(id),
		}
	}
	return out
}

// Stop cancels every timer and waits for in-flight checks to finish.
// A stopped scheduler can't be restarted.
func (s *Scheduler) Stop() error {
	s.stateMu.Lock()
	if s.stopped {
		s.stateMu.Unlock()
		return nil
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	s.stateMu.Unlock()

	close(s.quit)
	s.loopWg.Wait()

	// waits out a reconcile that was already past its stopped check
	s.reconcileMu.Lock()
	s.mu.Lock()
	for id, j := range s.jobs {
		_ = s.core.RemoveJob(j.cronJob.ID())
		delete(s.jobs, id)
	}
	s.metrics.scheduledTargets.Set(0)
	s.mu.Unlock()
	s.reconcileMu.Unlock()

	var err error
	if wasRunning {
		err = s.core.Shutdown()
	}

	s.wg.Wait()
	s.poller.Close()

	log.Info("Scheduler stopped.")
	return err
}

func (s *Scheduler) isStopped() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.stopped
}

// track registers work that Stop must wait for. It fails once Stop has begun.
func (s *Scheduler) track() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}
