package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/billing"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/env"
)

const defaultReconcileIntervalMinutes = 360

// Runner is the job the manager schedules.
type Runner interface {
	Run(ctx context.Context) (*billing.RunSummary, error)
}

// Manager runs the billing reconciler on a schedule inside the web process.
// The run loop is strictly sequential; a tick that fires while a run is
// still in flight is skipped.
type Manager struct {
	runner          Runner
	reconcileTicker *time.Ticker
	stopCh          chan struct{}
	runCtx          context.Context
	cancelRuns      context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

// NewManager creates a job manager around the given runner.
func NewManager(runner Runner) *Manager {
	return &Manager{
		runner: runner,
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic reconciliation loop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel and run context for each start cycle so the
	// manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.runCtx, m.cancelRuns = context.WithCancel(context.Background())
	m.running = true

	interval := reconcileInterval()
	m.reconcileTicker = time.NewTicker(interval)
	log.Infof("[JobQueue Manager] Starting reconcile loop (every %v)", interval)

	m.wg.Add(1)
	go m.reconcileLoop()
}

// Stop halts the loop and waits for an in-flight run to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	// Cancel any in-flight run; the reconciler winds down at the next
	// between-profile check instead of holding Stop for the full timeout.
	if m.cancelRuns != nil {
		m.cancelRuns()
	}
	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	m.mu.Unlock()

	m.wg.Wait()
	log.Info("[JobQueue Manager] Stopped")
}

func (m *Manager) reconcileLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.reconcileTicker.C:
			m.runReconciliation()
		}
	}
}

func (m *Manager) runReconciliation() {
	m.mu.Lock()
	base := m.runCtx
	m.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	ctx, cancel := context.WithTimeout(base, 30*time.Minute)
	defer cancel()

	summary, err := m.runner.Run(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Scheduled reconciliation failed: %v", err)
		return
	}
	if len(summary.Errors) > 0 {
		log.Warnf("[JobQueue Manager] Reconciliation run %s finished with %d item errors", summary.RunID, len(summary.Errors))
	}
}

func reconcileInterval() time.Duration {
	raw := env.GetEnv("RECONCILE_INTERVAL_MINUTES", "")
	if raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
		log.Warnf("[JobQueue Manager] Invalid RECONCILE_INTERVAL_MINUTES %q, using default", raw)
	}
	return defaultReconcileIntervalMinutes * time.Minute
}
