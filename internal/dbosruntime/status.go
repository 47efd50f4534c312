package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrUnknownWorkflow is returned when no status row exists for a workflow id.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// WorkflowStatusInfo is one row of the DBOS workflow status table. Times are
// epoch milliseconds.
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	CreatedAt    int64
	UpdatedAt    int64
}

const statusQuery = `
	SELECT workflow_uuid, status, name, created_at, updated_at
	FROM dbos.workflow_status
	WHERE workflow_uuid = $1
`

// GetWorkflowStatus retrieves the status of a workflow from the DBOS status table
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	return queryStatus(ctx, r.db, workflowUUID)
}

func queryStatus(ctx context.Context, db *sql.DB, workflowUUID string) (*WorkflowStatusInfo, error) {
	var info WorkflowStatusInfo
	err := db.QueryRowContext(ctx, statusQuery, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow status: %w", err)
	}

	return &info, nil
}
