package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/engine"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/instance"
)

// API wires all Forge-style HTTP handlers together for the foreman system.
type API struct {
	eng    *engine.Engine
	router forge.Router
}

// New creates an API from a foreman Engine.
func New(eng *engine.Engine, router forge.Router) *API {
	return &API{eng: eng, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all foreman API routes into the given Forge
// router with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerInstanceRoutes(router)
	a.registerArchiveRoutes(router)
	a.registerDeliveryRoutes(router)
	a.registerClusterRoutes(router)
	a.registerStatsRoutes(router)
}

// registerInstanceRoutes registers workflow instance management routes.
func (a *API) registerInstanceRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("instances"))

	_ = g.GET("/pipelines", a.listPipelines,
		forge.WithSummary("List pipelines"),
		forge.WithDescription("Returns the names of all registered pipelines."),
		forge.WithOperationID("listPipelines"),
		forge.WithResponseSchema(http.StatusOK, "Pipeline names", ListPipelinesResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/instances", a.listInstances,
		forge.WithSummary("List instances"),
		forge.WithDescription("Returns workflow instances filtered by phase, work unit, and label selector."),
		forge.WithOperationID("listInstances"),
		forge.WithRequestSchema(ListInstancesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Instance list", []*instance.Instance{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/instances/:instanceId", a.getInstance,
		forge.WithSummary("Get instance"),
		forge.WithDescription("Returns details of a specific workflow instance."),
		forge.WithOperationID("getInstance"),
		forge.WithResponseSchema(http.StatusOK, "Instance details", &instance.Instance{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/instances", a.dispatchInstance,
		forge.WithSummary("Dispatch instance"),
		forge.WithDescription("Creates a new workflow instance for a work unit and invokes the first agent."),
		forge.WithOperationID("dispatchInstance"),
		forge.WithRequestSchema(DispatchInstanceRequest{}),
		forge.WithCreatedResponse(&instance.Instance{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/instances/:instanceId/labels", a.patchInstanceLabels,
		forge.WithSummary("Patch instance labels"),
		forge.WithDescription("Merges labels onto a running instance; empty values delete keys. Engine-managed labels are rejected."),
		forge.WithOperationID("patchInstanceLabels"),
		forge.WithRequestSchema(PatchInstanceLabelsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated instance", &instance.Instance{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/instances/:instanceId/cancel", a.cancelInstance,
		forge.WithSummary("Cancel instance"),
		forge.WithDescription("Cancels a running workflow instance and releases its role locks."),
		forge.WithOperationID("cancelInstance"),
		forge.WithRequestSchema(CancelInstanceRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Cancelled instance", &instance.Instance{}),
		forge.WithErrorResponses(),
	)
}

// registerArchiveRoutes registers archive management routes.
func (a *API) registerArchiveRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("archives"))

	_ = g.GET("/archives", a.listArchives,
		forge.WithSummary("List archives"),
		forge.WithDescription("Returns archive records filtered by pipeline, work unit, and label selector."),
		forge.WithOperationID("listArchives"),
		forge.WithRequestSchema(ListArchivesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Archive list", []*archive.Record{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/archives/:archiveId", a.getArchive,
		forge.WithSummary("Get archive"),
		forge.WithDescription("Returns details of a specific archive record."),
		forge.WithOperationID("getArchive"),
		forge.WithResponseSchema(http.StatusOK, "Archive details", &archive.Record{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/archives/:archiveId/restore", a.restoreArchive,
		forge.WithSummary("Restore archive"),
		forge.WithDescription("Decompresses an archived instance snapshot and returns the full instance."),
		forge.WithOperationID("restoreArchive"),
		forge.WithResponseSchema(http.StatusOK, "Restored instance", &instance.Instance{}),
		forge.WithErrorResponses(),
	)
}

// registerDeliveryRoutes registers delivery audit routes.
func (a *API) registerDeliveryRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("deliveries"))

	_ = g.GET("/deliveries", a.listDeliveries,
		forge.WithSummary("List deliveries"),
		forge.WithDescription("Returns the webhook delivery audit trail, newest first."),
		forge.WithOperationID("listDeliveries"),
		forge.WithRequestSchema(ListDeliveriesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Delivery list", []*event.Record{}),
		forge.WithErrorResponses(),
	)
}

// registerClusterRoutes registers cluster inspection routes.
func (a *API) registerClusterRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("cluster"))

	_ = g.GET("/workers", a.listWorkers,
		forge.WithSummary("List workers"),
		forge.WithDescription("Returns all registered engine workers."),
		forge.WithOperationID("listWorkers"),
		forge.WithResponseSchema(http.StatusOK, "Worker list", []*cluster.Worker{}),
		forge.WithErrorResponses(),
	)
}

// registerStatsRoutes registers aggregate statistics routes.
func (a *API) registerStatsRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("stats"))

	_ = g.GET("/stats", a.stats,
		forge.WithSummary("Foreman stats"),
		forge.WithDescription("Returns aggregate statistics for instances, locks, and archives."),
		forge.WithOperationID("foremanStats"),
		forge.WithResponseSchema(http.StatusOK, "Foreman statistics", StatsResponse{}),
		forge.WithErrorResponses(),
	)
}
