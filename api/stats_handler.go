// Package api provides HTTP handlers for the Foreman operator API.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/instance"
)

func (a *API) stats(ctx forge.Context) error {
	c := ctx.Context()

	// Instance counts across all pipelines, broken down by phase.
	var counts InstanceCounts
	for _, phase := range []instance.Phase{
		instance.PhaseRunning, instance.PhaseSucceeded, instance.PhaseFailed,
		instance.PhaseError, instance.PhaseCancelled,
	} {
		count, err := a.eng.Instances().CountInstances(c, instance.CountOpts{Phase: phase})
		if err != nil {
			return err
		}
		switch phase {
		case instance.PhaseRunning:
			counts.Running = count
		case instance.PhaseSucceeded:
			counts.Succeeded = count
		case instance.PhaseFailed:
			counts.Failed = count
		case instance.PhaseError:
			counts.Error = count
		case instance.PhaseCancelled:
			counts.Cancelled = count
		}
	}

	locks, err := a.eng.Locks().ListLocks(c)
	if err != nil {
		return err
	}

	archives, err := a.eng.Archives().ListArchives(c, archive.ListOpts{})
	if err != nil {
		return err
	}

	workers, err := a.eng.Cluster().ListWorkers(c)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, StatsResponse{
		Instances:    counts,
		HeldLocks:    len(locks),
		ArchiveCount: len(archives),
		WorkerCount:  len(workers),
	})
}
