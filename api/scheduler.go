/*
scheduler.go - Periodic ledger reporter

PURPOSE:
  Periodically recomputes the ledger summary from tasks and publishes it as
  the questpoints_ledger_points gauges. Nothing is stored: the report is a
  read, like every balance.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Reports once immediately on start
  - Errors are logged and the next tick tries again

USAGE:
  reporter := NewLedgerReporter(store)
  reporter.Start()
  // ... later
  reporter.Stop()

SEE ALSO:
  - metrics/metrics.go: Ledger gauge
  - economy/ledger.go: Summarize
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/questpoints/economy"
	"github.com/warp/questpoints/metrics"
)

// TaskLister is the read the reporter needs.
type TaskLister interface {
	ListTasks(ctx context.Context, filter economy.TaskFilter) ([]economy.Task, error)
}

// LedgerReporter publishes ledger gauges on an interval.
type LedgerReporter struct {
	Store    TaskLister
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewLedgerReporter(store TaskLister) *LedgerReporter {
	return &LedgerReporter{
		Store:    store,
		Interval: time.Minute,
		Enabled:  true,
	}
}

// Start begins reporting. Calling Start on a running reporter does nothing.
func (lr *LedgerReporter) Start() {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if !lr.Enabled {
		log.Println("[Reporter] Disabled, not starting")
		return
	}
	if lr.ticker != nil {
		return
	}

	lr.ticker = time.NewTicker(lr.Interval)
	lr.stop = make(chan struct{})
	lr.wg.Add(1)
	go lr.run(lr.ticker, lr.stop)

	log.Printf("[Reporter] Started with interval: %v", lr.Interval)
}

// Stop stops the reporter and waits for an in-flight report.
func (lr *LedgerReporter) Stop() {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.ticker == nil {
		return
	}
	lr.ticker.Stop()
	close(lr.stop)
	lr.wg.Wait()
	lr.ticker = nil
	log.Println("[Reporter] Stopped")
}

func (lr *LedgerReporter) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer lr.wg.Done()

	lr.Report(context.Background())
	for {
		select {
		case <-ticker.C:
			lr.Report(context.Background())
		case <-stop:
			return
		}
	}
}

// Report computes the summary once and sets the gauges.
func (lr *LedgerReporter) Report(ctx context.Context) (economy.LedgerSummary, error) {
	tasks, err := lr.Store.ListTasks(ctx, economy.TaskFilter{})
	if err != nil {
		log.Printf("[Reporter] Error listing tasks: %v", err)
		return economy.LedgerSummary{}, err
	}

	s := economy.Summarize(tasks)
	metrics.Ledger.WithLabelValues("earned").Set(float64(s.Earned))
	metrics.Ledger.WithLabelValues("penalties").Set(float64(s.Penalties))
	metrics.Ledger.WithLabelValues("spent").Set(float64(s.Spent))
	metrics.Ledger.WithLabelValues("balance").Set(float64(s.Balance))
	return s, nil
}
