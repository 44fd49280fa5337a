package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/event"
)

func (a *API) listDeliveries(ctx forge.Context, req *ListDeliveriesRequest) ([]*event.Record, error) {
	records, err := a.eng.Events().ListDeliveries(ctx.Context(), event.ListOpts{
		Kind:       event.Kind(req.Kind),
		WorkUnitID: req.WorkUnit,
		Limit:      defaultLimit(req.Limit),
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}

	return records, ctx.JSON(http.StatusOK, records)
}

func (a *API) listWorkers(ctx forge.Context) error {
	workers, err := a.eng.Cluster().ListWorkers(ctx.Context())
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	if workers == nil {
		workers = []*cluster.Worker{}
	}
	return ctx.JSON(http.StatusOK, workers)
}
