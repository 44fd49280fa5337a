package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/foreman/engine"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
)

func (a *API) listPipelines(ctx forge.Context) error {
	names := a.eng.Pipelines().Names()
	return ctx.JSON(http.StatusOK, ListPipelinesResponse{Names: names})
}

func (a *API) listInstances(ctx forge.Context, req *ListInstancesRequest) ([]*instance.Instance, error) {
	opts := instance.ListOpts{
		Phase:      instance.Phase(req.Phase),
		WorkUnitID: req.WorkUnit,
		Limit:      defaultLimit(req.Limit),
		Offset:     req.Offset,
	}
	if req.Selector != "" {
		opts.Selector = instance.ParseSelector(req.Selector)
	}

	instances, err := a.eng.Instances().ListInstances(ctx.Context(), opts)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	return instances, ctx.JSON(http.StatusOK, instances)
}

func (a *API) getInstance(ctx forge.Context, _ *GetInstanceRequest) (*instance.Instance, error) {
	instanceID, err := id.ParseInstanceID(ctx.Param("instanceId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid instance ID: %v", err))
	}

	in, err := a.eng.Instances().GetInstance(ctx.Context(), instanceID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return in, ctx.JSON(http.StatusOK, in)
}

func (a *API) dispatchInstance(ctx forge.Context, req *DispatchInstanceRequest) (*instance.Instance, error) {
	if req.Pipeline == "" {
		return nil, forge.BadRequest("pipeline is required")
	}
	if req.WorkUnitID == "" {
		return nil, forge.BadRequest("work_unit_id is required")
	}

	in, err := a.eng.Dispatch(ctx.Context(), engine.DispatchRequest{
		Pipeline:   req.Pipeline,
		WorkUnitID: req.WorkUnitID,
		Repository: req.Repository,
		BranchRef:  req.BranchRef,
		Labels:     req.Labels,
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	return in, ctx.JSON(http.StatusCreated, in)
}

func (a *API) patchInstanceLabels(ctx forge.Context, req *PatchInstanceLabelsRequest) (*instance.Instance, error) {
	instanceID, err := id.ParseInstanceID(ctx.Param("instanceId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid instance ID: %v", err))
	}
	if len(req.Labels) == 0 {
		return nil, forge.BadRequest("labels is required")
	}

	in, err := a.eng.PatchLabels(ctx.Context(), instanceID, req.Labels)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return in, ctx.JSON(http.StatusOK, in)
}

func (a *API) cancelInstance(ctx forge.Context, req *CancelInstanceRequest) (*instance.Instance, error) {
	instanceID, err := id.ParseInstanceID(ctx.Param("instanceId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid instance ID: %v", err))
	}

	reason := req.Reason
	if reason == "" {
		reason = "cancelled via API"
	}

	in, err := a.eng.Cancel(ctx.Context(), instanceID, reason)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return in, ctx.JSON(http.StatusOK, in)
}
