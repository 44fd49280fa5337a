package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
)

func (a *API) listArchives(ctx forge.Context, req *ListArchivesRequest) ([]*archive.Record, error) {
	opts := archive.ListOpts{
		Pipeline:   req.Pipeline,
		WorkUnitID: req.WorkUnit,
		Limit:      defaultLimit(req.Limit),
		Offset:     req.Offset,
	}
	if req.Selector != "" {
		opts.Selector = instance.ParseSelector(req.Selector)
	}

	records, err := a.eng.Archives().ListArchives(ctx.Context(), opts)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}

	return records, ctx.JSON(http.StatusOK, records)
}

func (a *API) getArchive(ctx forge.Context, _ *GetArchiveRequest) (*archive.Record, error) {
	archiveID, err := id.ParseArchiveID(ctx.Param("archiveId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid archive ID: %v", err))
	}

	rec, err := a.eng.Archives().GetArchive(ctx.Context(), archiveID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return rec, ctx.JSON(http.StatusOK, rec)
}

func (a *API) restoreArchive(ctx forge.Context, _ *GetArchiveRequest) (*instance.Instance, error) {
	archiveID, err := id.ParseArchiveID(ctx.Param("archiveId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid archive ID: %v", err))
	}

	in, err := a.eng.Archiver().Restore(ctx.Context(), archiveID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return in, ctx.JSON(http.StatusOK, in)
}
