package api

import (
	"errors"

	"github.com/xraph/forge"

	"github.com/xraph/foreman"
)

// ListInstancesRequest filters the instance listing.
type ListInstancesRequest struct {
	Phase    string `query:"phase" description:"Filter by phase (running, succeeded, failed, error, cancelled)"`
	WorkUnit string `query:"workUnit" description:"Filter by work unit ID"`
	Selector string `query:"selector" description:"Label selector, e.g. team=infra,priority=high"`
	Limit    int    `query:"limit" description:"Maximum number of results (default 50)"`
	Offset   int    `query:"offset" description:"Pagination offset"`
}

// GetInstanceRequest identifies a single instance.
type GetInstanceRequest struct {
	InstanceID string `path:"instanceId" description:"Instance ID"`
}

// DispatchInstanceRequest creates a new workflow instance.
type DispatchInstanceRequest struct {
	Pipeline   string            `json:"pipeline" description:"Pipeline name"`
	WorkUnitID string            `json:"work_unit_id" description:"External work unit identifier"`
	Repository string            `json:"repository,omitempty" description:"Repository the agents operate on"`
	BranchRef  string            `json:"branch_ref,omitempty" description:"Branch the agents operate on"`
	Labels     map[string]string `json:"labels,omitempty" description:"Initial instance labels"`
}

// PatchInstanceLabelsRequest merges labels onto a running instance.
type PatchInstanceLabelsRequest struct {
	InstanceID string            `path:"instanceId" description:"Instance ID"`
	Labels     map[string]string `json:"labels" description:"Labels to merge; empty values delete keys"`
}

// CancelInstanceRequest cancels a running instance.
type CancelInstanceRequest struct {
	InstanceID string `path:"instanceId" description:"Instance ID"`
	Reason     string `json:"reason,omitempty" description:"Human-readable cancellation reason"`
}

// ListArchivesRequest filters the archive listing.
type ListArchivesRequest struct {
	Pipeline string `query:"pipeline" description:"Filter by pipeline name"`
	WorkUnit string `query:"workUnit" description:"Filter by work unit ID"`
	Selector string `query:"selector" description:"Label selector over archived labels"`
	Limit    int    `query:"limit" description:"Maximum number of results (default 50)"`
	Offset   int    `query:"offset" description:"Pagination offset"`
}

// GetArchiveRequest identifies a single archive record.
type GetArchiveRequest struct {
	ArchiveID string `path:"archiveId" description:"Archive record ID"`
}

// ListDeliveriesRequest filters the delivery audit listing.
type ListDeliveriesRequest struct {
	Kind     string `query:"kind" description:"Filter by event kind"`
	WorkUnit string `query:"workUnit" description:"Filter by work unit ID"`
	Limit    int    `query:"limit" description:"Maximum number of results (default 50)"`
	Offset   int    `query:"offset" description:"Pagination offset"`
}

// ListPipelinesResponse lists registered pipeline names.
type ListPipelinesResponse struct {
	Names []string `json:"names"`
}

// InstanceCounts breaks instance totals down by phase.
type InstanceCounts struct {
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Error     int64 `json:"error"`
	Cancelled int64 `json:"cancelled"`
}

// StatsResponse aggregates system-wide statistics.
type StatsResponse struct {
	Instances    InstanceCounts `json:"instances"`
	HeldLocks    int            `json:"held_locks"`
	ArchiveCount int            `json:"archive_count"`
	WorkerCount  int            `json:"worker_count"`
}

// defaultLimit caps unset limits so unbounded listings stay bounded.
func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

// mapStoreError converts foreman sentinel errors to forge HTTP errors.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return forge.NotFound(err.Error())
	}
	if isConflict(err) {
		return forge.BadRequest(err.Error())
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, foreman.ErrInstanceNotFound) ||
		errors.Is(err, foreman.ErrArchiveNotFound) ||
		errors.Is(err, foreman.ErrDeliveryNotFound) ||
		errors.Is(err, foreman.ErrLockNotFound) ||
		errors.Is(err, foreman.ErrWorkerNotFound) ||
		errors.Is(err, foreman.ErrPipelineNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, foreman.ErrActiveInstance) ||
		errors.Is(err, foreman.ErrInstanceTerminal) ||
		errors.Is(err, foreman.ErrInstanceExists)
}
