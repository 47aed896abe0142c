package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/billing"
)

// blockingRunner runs until its context is canceled.
type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context) (*billing.RunSummary, error) {
	close(r.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStopCancelsInFlightRun(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{})}
	m := NewManager(runner)
	m.Start()

	runDone := make(chan struct{})
	go func() {
		m.runReconciliation()
		close(runDone)
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}

	stopDone := make(chan struct{})
	go func() {
		m.Stop()
		close(stopDone)
	}()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the in-flight run")
	}
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStartStopAreRestartable(t *testing.T) {
	m := NewManager(&blockingRunner{started: make(chan struct{})})
	m.Start()
	m.Start() // second start is a no-op
	m.Stop()
	m.Stop() // second stop is a no-op

	m.Start()
	m.Stop()
}
