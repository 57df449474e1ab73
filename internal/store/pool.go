package store

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/blueberrycongee/agentgate/internal/metrics"
)

// PoolReporter periodically publishes connection pool statistics.
type PoolReporter struct {
	db       *sql.DB
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPoolReporter creates a reporter for db. The default interval is 15s.
func NewPoolReporter(db *sql.DB, interval time.Duration, logger *slog.Logger) *PoolReporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolReporter{
		db:       db,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the reporter in the background.
func (p *PoolReporter) Start() {
	go p.run()
}

// Stop stops the reporter. It is safe to call more than once.
func (p *PoolReporter) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *PoolReporter) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	metrics.RecordDBPool(p.db.Stats())
	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPool(p.db.Stats())
		case <-p.stopCh:
			p.logger.Debug("pool reporter stopped")
			return
		}
	}
}
