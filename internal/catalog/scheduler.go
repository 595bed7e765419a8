package catalog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/VenkatGGG/lendflow/internal/lease"
)

const (
	DefaultSyncInterval = 30 * time.Minute

	syncLeaseResource = "catalog-sync"
)

type syncer interface {
	Sync(ctx context.Context) SyncResult
}

type SchedulerConfig struct {
	Interval time.Duration
	// Leases, when set, lets schedulers in several processes sharing one
	// store take turns: a cycle runs only while Owner holds the sync lease.
	Leases lease.Manager
	Owner  string
}

// Scheduler runs Sync immediately and then on a fixed interval, broadcasting
// every result to subscribers. At most one loop runs at a time.
type Scheduler struct {
	engine   syncer
	interval time.Duration
	holder   *lease.Holder
	logger   *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[int]chan SyncResult
	nextSub int
}

func NewScheduler(engine *Engine, cfg SchedulerConfig, logger *log.Logger) *Scheduler {
	return newScheduler(engine, cfg, logger)
}

func newScheduler(engine syncer, cfg SchedulerConfig, logger *log.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSyncInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		engine:   engine,
		interval: cfg.Interval,
		logger:   logger,
		subs:     make(map[int]chan SyncResult),
	}
	if cfg.Leases != nil {
		s.holder = lease.NewHolder(cfg.Leases, syncLeaseResource, cfg.Owner)
	}
	return s
}

// Start launches the loop. It returns false when a loop is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(runCtx, cancel, done)
	return true
}

// Stop cancels the loop and waits for it to exit. No broadcast happens after
// Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Subscribe returns a channel receiving each cycle's result. A subscriber
// whose buffer is full misses that update. The returned func unsubscribes and
// closes the channel.
func (s *Scheduler) Subscribe(buffer int) (<-chan SyncResult, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan SyncResult, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer func() {
		cancel()
		s.releaseLease()
		s.mu.Lock()
		if s.done == done {
			s.cancel = nil
			s.done = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Printf("catalog scheduler started: interval=%s", s.interval)
	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("catalog scheduler stopped")
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	if !s.holdLease(ctx) {
		return
	}
	result := s.engine.Sync(ctx)
	if ctx.Err() != nil {
		return
	}
	s.broadcast(result)
}

func (s *Scheduler) broadcast(result SyncResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- result:
		default:
		}
	}
}

// holdLease reports whether this cycle may sync. A lease backend error lets
// the cycle run, since a duplicate sync only costs one redundant fetch.
func (s *Scheduler) holdLease(ctx context.Context) bool {
	if s.holder == nil {
		return true
	}
	held, err := s.holder.Hold(ctx, s.interval+s.interval/2)
	if err != nil {
		s.logger.Printf("catalog sync lease unavailable, syncing anyway: err=%v", err)
		return true
	}
	if !held {
		s.logger.Printf("catalog sync skipped: lease held by another scheduler")
	}
	return held
}

func (s *Scheduler) releaseLease() {
	if s.holder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.holder.Release(ctx); err != nil {
		s.logger.Printf("catalog sync lease not released: err=%v", err)
	}
}
