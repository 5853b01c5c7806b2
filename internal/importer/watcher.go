package importer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/snanayakkara/operator-sub003/pkg/config"
	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// Watcher polls the inbox for batch directories and hands them to the
// processor. It can be paused while a stack of cards is being placed in the
// inbox, resumed afterwards, and kicked for an immediate rescan.
type Watcher struct {
	cfg       config.ImporterConfig
	processor *Processor
	logger    *logger.Logger

	rescan chan struct{}

	mu       sync.Mutex
	paused   bool
	lastScan time.Time
	outcomes []types.ImportBatchStatus
}

// NewWatcher creates an inbox watcher.
func NewWatcher(cfg config.ImporterConfig, processor *Processor, log *logger.Logger) *Watcher {
	return &Watcher{
		cfg:       cfg,
		processor: processor,
		logger:    log,
		rescan:    make(chan struct{}, 1),
		paused:    !cfg.AutoProcessEnabled,
	}
}

// Run polls until the context is cancelled. A rescan request wakes the loop
// immediately and scans even while paused, so a manual kick always works.
func (w *Watcher) Run(ctx context.Context) {
	interval := time.Duration(w.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.WithField("interval", interval.String()).Info("Inbox watcher started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Inbox watcher stopped")
			return
		case <-ticker.C:
			if w.Paused() {
				continue
			}
			w.scan(ctx)
		case <-w.rescan:
			w.scan(ctx)
		}
	}
}

// Pause suspends scheduled scans.
func (w *Watcher) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
	w.logger.Info("Inbox watcher paused")
}

// Resume re-enables scheduled scans.
func (w *Watcher) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	w.logger.Info("Inbox watcher resumed")
}

// Paused reports whether scheduled scans are suspended.
func (w *Watcher) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// TriggerRescan requests an immediate scan. Non-blocking; a scan already
// queued absorbs the request.
func (w *Watcher) TriggerRescan() {
	select {
	case w.rescan <- struct{}{}:
	default:
	}
}

// LastScan reports the last scan's completion time and batch outcomes.
func (w *Watcher) LastScan() (time.Time, []types.ImportBatchStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastScan, append([]types.ImportBatchStatus(nil), w.outcomes...)
}

// scan processes every batch directory currently in the inbox, oldest name
// first. Batches that fail stay in the inbox and will be retried on the
// next scan.
func (w *Watcher) scan(ctx context.Context) {
	batches, err := w.listBatches()
	if err != nil {
		w.logger.WithError(err).Error("Failed to read inbox")
		return
	}

	var outcomes []types.ImportBatchStatus
	for _, batch := range batches {
		if ctx.Err() != nil {
			return
		}
		status, err := w.processor.ProcessBatch(ctx, filepath.Join(w.cfg.InboxPath, batch))
		if err != nil {
			w.logger.WithError(err).WithField("batch", batch).Error("Batch processing failed")
			continue
		}
		if status != nil {
			outcomes = append(outcomes, *status)
		}
	}

	w.mu.Lock()
	w.lastScan = time.Now().UTC()
	if len(outcomes) > 0 {
		w.outcomes = outcomes
	}
	w.mu.Unlock()
}

func (w *Watcher) listBatches() ([]string, error) {
	entries, err := os.ReadDir(w.cfg.InboxPath)
	if err != nil {
		return nil, err
	}

	var batches []string
	for _, entry := range entries {
		if entry.IsDir() {
			batches = append(batches, entry.Name())
		}
	}
	sort.Strings(batches)
	return batches, nil
}
