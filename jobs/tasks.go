package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity recomputes every item balance and reports drift.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskReplayWarmup rebuilds replay reports so the first reader hits cache.
	TaskReplayWarmup = "ledger:replay_warmup"
)

// ReplayWarmupPayload names the item whose report should be prebuilt.
// An empty item code warms every registered item.
type ReplayWarmupPayload struct {
	ItemCode string `json:"item_code"`
}

// NewLedgerIntegrityTask constructs the integrity-check task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}

// NewReplayWarmupTask constructs a replay warmup task.
func NewReplayWarmupTask(payload ReplayWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplayWarmup, data), nil
}
