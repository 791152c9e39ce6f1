package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRolesSync backfills the role taxonomies of one tenant.
	TaskRolesSync = "roles:sync"
)

// RolesSyncPayload mirrors the sync command flags.
type RolesSyncPayload struct {
	TenantID     int64 `json:"tenant_id"`
	BatchSize    int   `json:"batch_size"`
	Offset       int   `json:"offset"`
	Limit        int   `json:"limit"`
	FastPopulate bool  `json:"fast_populate"`
}

// NewRolesSyncTask constructs an Asynq task.
func NewRolesSyncTask(payload RolesSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRolesSync, data), nil
}
