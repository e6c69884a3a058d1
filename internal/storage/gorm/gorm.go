// Package gormstorage implements the storage.Backend interface on any
// gorm-supported database. Observations are queued in memory and written
// in batches by a background writer.
package gormstorage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tabletrack/tracker/internal/model"
	"github.com/tabletrack/tracker/internal/queue"
)

const defaultFlushInterval = 2 * time.Second

// Backend writes session history through gorm.
type Backend struct {
	db            *gorm.DB
	logger        *slog.Logger
	flushInterval time.Duration

	observations *queue.Queue[model.TokenObservation]

	mu       sync.Mutex
	stopChan chan struct{}
	stopped  bool
}

// New creates a backend on an open gorm connection.
func New(db *gorm.DB, logger *slog.Logger) *Backend {
	return &Backend{
		db:            db,
		logger:        logger,
		flushInterval: defaultFlushInterval,
		observations:  queue.New[model.TokenObservation](),
		stopChan:      make(chan struct{}),
	}
}

// DB exposes the underlying connection for queries outside the Backend
// interface, mainly the session history CLI and tests.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init migrates the schema and starts the background writer.
func (b *Backend) Init() error {
	if err := b.db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate history schema: %w", err)
	}
	go b.writeLoop()
	return nil
}

// Close flushes pending observations and stops the writer.
func (b *Backend) Close() error {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.stopChan)
	}
	b.mu.Unlock()

	if err := b.Flush(); err != nil {
		return err
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartSession inserts the session row.
func (b *Backend) StartSession(s *model.TrackingSession) error {
	if err := b.db.Create(s).Error; err != nil {
		return fmt.Errorf("failed to create session row: %w", err)
	}
	return nil
}

// EndSession stamps the session row with its end time and final counters.
func (b *Backend) EndSession(sessionID string, endedAt time.Time, frames, tokensSeen uint) error {
	err := b.db.Model(&model.TrackingSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"ended_at":    endedAt,
			"frames":      frames,
			"tokens_seen": tokensSeen,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	return nil
}

// RecordCalibration writes a calibration row immediately; calibrations
// are rare and worth having on disk right away.
func (b *Backend) RecordCalibration(c *model.CalibrationRecord) error {
	if err := b.db.Create(c).Error; err != nil {
		return fmt.Errorf("failed to record calibration: %w", err)
	}
	return nil
}

// RecordObservation queues one observation for the next batch write.
func (b *Backend) RecordObservation(o model.TokenObservation) {
	b.observations.Push(o)
}

// Flush writes all queued observations in one batch.
func (b *Backend) Flush() error {
	batch := b.observations.Drain()
	if len(batch) == 0 {
		return nil
	}
	if err := b.db.CreateInBatches(batch, 500).Error; err != nil {
		// Requeue so a transient DB error does not lose the batch.
		b.observations.Push(batch...)
		return fmt.Errorf("failed to write %d observations: %w", len(batch), err)
	}
	return nil
}

func (b *Backend) writeLoop() {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.logger.Warn("History flush failed", "error", err)
			}
		}
	}
}
