package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/periodledger/internal/backup"
	"github.com/odyssey-erp/periodledger/internal/observability"
)

// Exporter snapshots every period. *backup.Service satisfies it.
type Exporter interface {
	Export(ctx context.Context) (backup.Archive, error)
}

// Uploader persists an archive and returns its object key.
type Uploader interface {
	Upload(ctx context.Context, a backup.Archive) (string, error)
}

// BackupJob exports and uploads the ledger.
type BackupJob struct {
	Exporter Exporter
	Uploader Uploader
	Logger   *slog.Logger
	Metrics  *observability.JobMetrics
}

// NewBackupJob constructs the job handler. uploader may be nil when no
// bucket is configured, in which case tasks are dropped.
func NewBackupJob(exporter Exporter, uploader Uploader, logger *slog.Logger, metrics *observability.JobMetrics) *BackupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupJob{Exporter: exporter, Uploader: uploader, Logger: logger, Metrics: metrics}
}

// Handle executes the backup.
func (j *BackupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Exporter == nil {
		return errors.New("backup: dependencies not configured")
	}
	if j.Uploader == nil {
		return fmt.Errorf("%w: %w", backup.ErrUploadDisabled, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskBackupUpload)
	defer func() { err = tracker.End(err) }()

	archive, err := j.Exporter.Export(ctx)
	if err != nil {
		return fmt.Errorf("backup: export: %w", err)
	}
	key, err := j.Uploader.Upload(ctx, archive)
	if err != nil {
		return fmt.Errorf("backup: upload: %w", err)
	}
	j.Logger.Info("backup uploaded", slog.String("key", key), slog.Int("periods", len(archive.Periods)))
	return nil
}
