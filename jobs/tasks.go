package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries period migrations ahead of housekeeping.
	QueueCritical = "critical"

	// TaskIntegrityScan checks one period, or every period, for drift.
	TaskIntegrityScan = "ledger:integrity"
	// TaskCarryForward migrates balances between two periods.
	TaskCarryForward = "ledger:carry_forward"
	// TaskBackupUpload exports every period and uploads the archive.
	TaskBackupUpload = "ledger:backup"
)

// AllPeriods selects every catalog period in an integrity scan.
const AllPeriods = "all"

// IntegrityPayload scopes an integrity scan. Period accepts an id, "active" or "all".
type IntegrityPayload struct {
	Period string `json:"period"`
}

// CarryForwardPayload names the periods of a migration.
type CarryForwardPayload struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// NewIntegrityScanTask creates the scan task. An empty period scans all.
func NewIntegrityScanTask(period string) (*asynq.Task, error) {
	if period == "" {
		period = AllPeriods
	}
	return newTask(TaskIntegrityScan, IntegrityPayload{Period: period}, asynq.Queue(QueueDefault))
}

// NewCarryForwardTask creates a migration task. Repeating a committed
// migration moves nothing, so a retried task is harmless.
func NewCarryForwardTask(source, dest string) (*asynq.Task, error) {
	if source == "" || dest == "" {
		return nil, fmt.Errorf("jobs: carry forward needs source and dest")
	}
	return newTask(TaskCarryForward, CarryForwardPayload{Source: source, Dest: dest},
		asynq.Queue(QueueCritical), asynq.MaxRetry(5))
}

// NewBackupTask creates the backup upload task.
func NewBackupTask() (*asynq.Task, error) {
	return newTask(TaskBackupUpload, struct{}{}, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

func newTask(kind string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(kind, body, opts...), nil
}

// decode unmarshals a task payload. Malformed payloads are never retried.
func decode(task *asynq.Task, dest any) error {
	if err := json.Unmarshal(task.Payload(), dest); err != nil {
		return fmt.Errorf("%s: decode payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return nil
}
