package pipeline

// Agent role names used by the default coding pipeline.
const (
	RoleImplementer = "implementer"
	RoleGuardian    = "guardian"
	RoleValidator   = "validator"
	RoleIntegrator  = "integrator"
)

// Stage names used by the default coding pipeline.
const (
	StageCreated               = "created"
	StageImplementerInProgress = "implementer-in-progress"
	StageWaitingArtifact       = "waiting-artifact"
	StageGuardianInProgress    = "guardian-in-progress"
	StageWaitingQuality        = "waiting-quality"
	StageValidatorInProgress   = "validator-in-progress"
	StageWaitingReview         = "waiting-review"
	StageIntegratorInProgress  = "integrator-in-progress"
	StageWaitingMerge          = "waiting-merge"
	StageCompleted             = "completed"
)

// DefaultCoding returns the standard four-agent coding pipeline:
// implementer writes code, guardian reviews quality, validator runs the
// test suite, integrator merges. Each agent stage is followed by a
// waiting stage that suspends the instance until the matching external
// signal arrives. Cancellation restarts at the implementer stage.
func DefaultCoding() *Pipeline {
	return &Pipeline{
		Name: "coding",
		Stages: []Stage{
			{Name: StageCreated, Kind: KindInitial, Next: StageImplementerInProgress},
			{Name: StageImplementerInProgress, Kind: KindAgent, Role: RoleImplementer, Next: StageWaitingArtifact},
			{Name: StageWaitingArtifact, Kind: KindWaiting, Next: StageGuardianInProgress},
			{Name: StageGuardianInProgress, Kind: KindAgent, Role: RoleGuardian, Next: StageWaitingQuality},
			{Name: StageWaitingQuality, Kind: KindWaiting, Next: StageValidatorInProgress},
			{Name: StageValidatorInProgress, Kind: KindAgent, Role: RoleValidator, Next: StageWaitingReview},
			{Name: StageWaitingReview, Kind: KindWaiting, Next: StageIntegratorInProgress},
			{Name: StageIntegratorInProgress, Kind: KindAgent, Role: RoleIntegrator, Next: StageWaitingMerge},
			{Name: StageWaitingMerge, Kind: KindWaiting, Next: StageCompleted},
			{Name: StageCompleted, Kind: KindTerminal},
		},
		Restart: RestartPolicy{
			Enabled: true,
			Stage:   StageImplementerInProgress,
		},
	}
}
