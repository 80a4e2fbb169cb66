package ironlaw

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MonitorConfig configures the compliance monitor.
type MonitorConfig struct {
	// Snapshotter collects repository state for law checks (required)
	Snapshotter SnapshotProvider
	// Store persists the violation audit trail (required)
	Store ViolationStore
	// Laws to enforce; DefaultLaws() when empty
	Laws []Law
	// CheckInterval between compliance sweeps (default 60s)
	CheckInterval time.Duration
	// OnViolations is invoked with newly detected violations (may be nil)
	OnViolations func([]Violation)
	// Now overrides the clock for tests
	Now func() time.Time
}

// Monitor runs periodic compliance sweeps over the repository, tracking
// each law's open violation and resolving it when the law passes again.
type Monitor struct {
	cfg      MonitorConfig
	interval time.Duration
	now      func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	checking atomic.Bool

	mu   sync.Mutex
	open map[int]Violation // law ID -> currently open violation
}

// NewMonitor creates a compliance monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Snapshotter == nil {
		return nil, fmt.Errorf("snapshotter is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("violation store is required")
	}
	if len(cfg.Laws) == 0 {
		cfg.Laws = DefaultLaws()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		cfg:      cfg,
		interval: cfg.CheckInterval,
		now:      now,
		open:     make(map[int]Violation),
	}, nil
}

// Start seeds the open-violation set from the store and begins the
// periodic sweep loop.
func (m *Monitor) Start(ctx context.Context) error {
	if m.cancel != nil {
		return fmt.Errorf("monitor already started")
	}

	openViolations, err := m.cfg.Store.Open(ctx)
	if err != nil {
		return fmt.Errorf("loading open violations: %w", err)
	}
	m.mu.Lock()
	for _, v := range openViolations {
		m.open[v.Law] = v
	}
	m.mu.Unlock()

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.sweepLoop()

	fmt.Printf("Compliance monitor: started (interval %s, %d laws, %d open violations)\n",
		m.interval, len(m.cfg.Laws), len(openViolations))
	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
	fmt.Printf("Compliance monitor: stopped\n")
}

// OpenViolations returns a copy of the currently open violations,
// ordered by law ID.
func (m *Monitor) OpenViolations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Violation, 0, len(m.open))
	for _, law := range m.cfg.Laws {
		if v, ok := m.open[law.ID()]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (m *Monitor) sweepLoop() {
	defer m.wg.Done()

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
			if err := m.CheckNow(m.ctx); err != nil && m.ctx.Err() == nil {
				fmt.Printf("Compliance monitor: sweep failed: %v\n", err)
			}
			timer.Reset(m.interval)
		}
	}
}

// CheckNow runs a single compliance sweep. Overlapping sweeps are
// skipped rather than queued: if a sweep is still running when the next
// one is requested, the request returns immediately.
func (m *Monitor) CheckNow(ctx context.Context) error {
	if !m.checking.CompareAndSwap(false, true) {
		return nil
	}
	defer m.checking.Store(false)

	snap, err := m.cfg.Snapshotter.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting repository snapshot: %w", err)
	}

	type result struct {
		law    Law
		pass   bool
		detail string
	}
	results := make([]result, len(m.cfg.Laws))

	g, gctx := errgroup.WithContext(ctx)
	for i, law := range m.cfg.Laws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pass, detail := law.Check(snap)
			results[i] = result{law: law, pass: pass, detail: detail}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := m.now()
	var fresh []Violation

	m.mu.Lock()
	for _, r := range results {
		existing, wasOpen := m.open[r.law.ID()]
		switch {
		case !r.pass && !wasOpen:
			v := Violation{
				ID:         uuid.New().String(),
				Law:        r.law.ID(),
				Type:       r.law.Name(),
				Message:    r.detail,
				DetectedAt: now,
			}
			if err := m.cfg.Store.Record(ctx, &v); err != nil {
				fmt.Printf("Compliance monitor: failed to record violation: %v\n", err)
				continue
			}
			m.open[r.law.ID()] = v
			fresh = append(fresh, v)
			fmt.Printf("Compliance monitor: law %d (%s) violated: %s\n", r.law.ID(), r.law.Name(), r.detail)

		case r.pass && wasOpen:
			if err := m.cfg.Store.Resolve(ctx, existing.ID, now); err != nil {
				fmt.Printf("Compliance monitor: failed to resolve violation: %v\n", err)
				continue
			}
			delete(m.open, r.law.ID())
			fmt.Printf("Compliance monitor: law %d (%s) violation resolved\n", r.law.ID(), r.law.Name())
		}
	}
	m.mu.Unlock()

	if len(fresh) > 0 && m.cfg.OnViolations != nil {
		m.cfg.OnViolations(fresh)
	}
	return nil
}
