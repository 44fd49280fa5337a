package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/agent"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
	"github.com/xraph/foreman/pipeline"
)

// DispatchRequest describes a work unit entering a pipeline.
type DispatchRequest struct {
	Pipeline   string
	WorkUnitID string
	Repository string
	BranchRef  string
	Labels     map[string]string
}

// Dispatch creates a new instance for the work unit and advances it out
// of the initial stage, invoking the first agent. At most one running
// instance may exist per (pipeline, work unit); a second dispatch fails
// with foreman.ErrActiveInstance.
func (eng *Engine) Dispatch(ctx context.Context, req DispatchRequest) (*instance.Instance, error) {
	pl, ok := eng.pipelines.Get(req.Pipeline)
	if !ok {
		return nil, fmt.Errorf("dispatch %q: %w", req.Pipeline, foreman.ErrPipelineNotFound)
	}

	now := time.Now().UTC()
	labels := make(map[string]string, len(req.Labels)+3)
	for k, v := range req.Labels {
		labels[k] = v
	}
	labels[instance.LabelPipeline] = pl.Name
	labels[instance.LabelWorkUnit] = req.WorkUnitID
	labels[instance.LabelStage] = pl.Initial().Name

	in := &instance.Instance{
		Entity:     foreman.NewEntity(),
		ID:         id.NewInstanceID(),
		Pipeline:   pl.Name,
		WorkUnitID: req.WorkUnitID,
		Repository: req.Repository,
		BranchRef:  req.BranchRef,
		Labels:     labels,
		Phase:      instance.PhaseRunning,
		StartedAt:  now,
	}
	if eng.cfg.InstanceDeadline > 0 {
		in.Deadline = now.Add(eng.cfg.InstanceDeadline)
	}

	if err := eng.instances.CreateInstance(ctx, in); err != nil {
		return nil, fmt.Errorf("dispatch %q for %q: %w", pl.Name, req.WorkUnitID, err)
	}
	eng.extensions.EmitInstanceCreated(ctx, in)

	eng.logger.Info("instance dispatched",
		slog.String("instance_id", in.ID.String()),
		slog.String("pipeline", pl.Name),
		slog.String("work_unit", req.WorkUnitID),
	)

	if err := eng.Advance(ctx, in.ID, pl.Initial().Name); err != nil {
		return in, err
	}
	return eng.instances.GetInstance(ctx, in.ID)
}

// Advance moves an instance whose current stage is exactly fromStage to
// the next stage via a conditional label patch. A stale or misrouted
// signal (stage already moved on) fails with foreman.ErrStageMismatch
// and must be dropped, not retried. Losing a conditional-update race
// triggers a bounded re-read/re-validate retry; exhausting retries
// forces the Error phase with the conflict recorded.
//
// When the next stage is an agent stage, the role lock is acquired and
// the agent invoked as a side effect; a held lock means a duplicate
// signal, which records the stage but skips the invocation.
func (eng *Engine) Advance(ctx context.Context, instanceID id.InstanceID, fromStage string) error {
	var (
		in   *instance.Instance
		next pipeline.Stage
		pl   *pipeline.Pipeline
		now  time.Time
	)

	for attempt := 0; ; attempt++ {
		cur, err := eng.instances.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if cur.Phase.Terminal() {
			return fmt.Errorf("advance %s: instance is %s: %w", instanceID, cur.Phase, foreman.ErrStageMismatch)
		}
		if cur.Stage() != fromStage {
			return fmt.Errorf("advance %s: stage is %q, not %q: %w",
				instanceID, cur.Stage(), fromStage, foreman.ErrStageMismatch)
		}

		var ok bool
		pl, ok = eng.pipelines.Get(cur.Pipeline)
		if !ok {
			return fmt.Errorf("advance %s: %w", instanceID, foreman.ErrPipelineNotFound)
		}
		next, ok = pl.Next(fromStage)
		if !ok {
			return fmt.Errorf("advance %s: stage %q has no successor", instanceID, fromStage)
		}

		now = time.Now().UTC()
		updated := cur.Clone()
		updated.Labels[instance.LabelStage] = next.Name
		tr := instance.Transition{From: fromStage, To: next.Name, At: now}
		if st, _ := pl.Stage(fromStage); st.Kind == pipeline.KindWaiting {
			tr.ResumedAt = &now
		}
		updated.History = append(updated.History, tr)
		if next.Kind == pipeline.KindTerminal {
			updated.Phase = instance.PhaseSucceeded
			updated.TerminalAt = &now
		}

		err = eng.instances.UpdateInstance(ctx, updated)
		if err == nil {
			in = updated
			break
		}
		if !errors.Is(err, foreman.ErrTransitionConflict) {
			return fmt.Errorf("advance %s: %w", instanceID, err)
		}
		if attempt+1 >= eng.cfg.TransitionMaxRetries {
			eng.failWithError(ctx, instanceID,
				fmt.Sprintf("transition %s -> %s lost %d conditional updates", fromStage, next.Name, attempt+1))
			return fmt.Errorf("advance %s: retries exhausted: %w", instanceID, foreman.ErrTransitionConflict)
		}

		delay := eng.bo.Delay(attempt + 1)
		eng.logger.Debug("transition conflict, re-validating",
			slog.String("instance_id", instanceID.String()),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	// The signal's result is now durably recorded. If we resumed out of
	// a waiting stage, the role that was being waited on may release its
	// lock.
	if st, _ := pl.Stage(fromStage); st.Kind == pipeline.KindWaiting {
		if role, ok := roleWaitingOn(pl, fromStage); ok {
			key := lock.Key{WorkUnitID: in.WorkUnitID, Role: role}
			if err := eng.locks.ReleaseLock(ctx, key); err != nil {
				eng.logger.Warn("role lock release failed",
					slog.String("key", key.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	eng.extensions.EmitStageAdvanced(ctx, in, fromStage, next.Name)
	eng.logger.Info("stage advanced",
		slog.String("instance_id", in.ID.String()),
		slog.String("work_unit", in.WorkUnitID),
		slog.String("from", fromStage),
		slog.String("to", next.Name),
	)

	switch next.Kind {
	case pipeline.KindTerminal:
		eng.extensions.EmitInstanceCompleted(ctx, in, now.Sub(in.StartedAt))
		return nil
	case pipeline.KindAgent:
		return eng.dispatchAgent(ctx, in, pl, next)
	default:
		return nil
	}
}

// dispatchAgent acquires the role lock and schedules the agent, then
// suspends the instance into the stage's waiting successor. A held lock
// indicates a duplicate signal: the stage is still recorded but the
// invocation is skipped.
func (eng *Engine) dispatchAgent(ctx context.Context, in *instance.Instance, pl *pipeline.Pipeline, stage pipeline.Stage) error {
	runner, ok := eng.runners[stage.Role]
	if !ok {
		eng.failTerminal(ctx, in.ID, instance.PhaseFailed,
			fmt.Sprintf("no runner bound for role %q", stage.Role))
		return fmt.Errorf("dispatch agent %q: no runner bound", stage.Role)
	}

	key := lock.Key{WorkUnitID: in.WorkUnitID, Role: stage.Role}
	g, err := lock.Acquire(ctx, eng.locks, key, in.ID, eng.WorkerID(), eng.cfg.LockTTL)
	if lock.IsHeld(err) {
		eng.logger.Debug("role lock held, invocation deferred",
			slog.String("instance_id", in.ID.String()),
			slog.String("key", key.String()),
		)
		return eng.suspend(ctx, in.ID, stage, nil)
	}
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key.String(), err)
	}

	inv := agent.NewInvocation(in.ID, in.WorkUnitID, stage.Role, stage.Name)
	inv.Repository = in.Repository
	inv.BranchRef = in.BranchRef

	if err := runner.Invoke(ctx, inv); err != nil {
		// The lock protects an invocation that never started.
		if relErr := g.Release(ctx); relErr != nil {
			eng.logger.Warn("role lock release failed",
				slog.String("key", key.String()),
				slog.String("error", relErr.Error()),
			)
		}
		eng.failTerminal(ctx, in.ID, instance.PhaseFailed,
			fmt.Sprintf("agent %q invocation failed: %v", stage.Role, err))
		return fmt.Errorf("invoke %q for %s: %w", stage.Role, in.ID, err)
	}

	eng.extensions.EmitAgentInvoked(ctx, inv)

	rec := &instance.Invocation{
		ID:        inv.ID,
		Role:      stage.Role,
		Stage:     stage.Name,
		StartedAt: time.Now().UTC(),
	}
	return eng.suspend(ctx, in.ID, stage, rec)
}

// suspend moves the instance from an agent stage into its waiting
// successor and records the invocation, if any. A concurrent move of
// the stage is a no-op: someone else already recorded progress.
func (eng *Engine) suspend(ctx context.Context, instanceID id.InstanceID, agentStage pipeline.Stage, inv *instance.Invocation) error {
	for attempt := 0; ; attempt++ {
		cur, err := eng.instances.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if cur.Phase.Terminal() || cur.Stage() != agentStage.Name {
			return nil
		}

		pl, ok := eng.pipelines.Get(cur.Pipeline)
		if !ok {
			return fmt.Errorf("suspend %s: %w", instanceID, foreman.ErrPipelineNotFound)
		}
		waiting, ok := pl.Next(agentStage.Name)
		if !ok {
			return fmt.Errorf("suspend %s: stage %q has no successor", instanceID, agentStage.Name)
		}

		now := time.Now().UTC()
		updated := cur.Clone()
		updated.Labels[instance.LabelStage] = waiting.Name
		updated.History = append(updated.History, instance.Transition{
			From:        agentStage.Name,
			To:          waiting.Name,
			SuspendedAt: &now,
			At:          now,
		})
		if inv != nil {
			updated.Invocations = append(updated.Invocations, *inv)
		}

		err = eng.instances.UpdateInstance(ctx, updated)
		if err == nil {
			eng.extensions.EmitStageAdvanced(ctx, updated, agentStage.Name, waiting.Name)
			return nil
		}
		if !errors.Is(err, foreman.ErrTransitionConflict) {
			return fmt.Errorf("suspend %s: %w", instanceID, err)
		}
		if attempt+1 >= eng.cfg.TransitionMaxRetries {
			return fmt.Errorf("suspend %s: retries exhausted: %w", instanceID, foreman.ErrTransitionConflict)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(eng.bo.Delay(attempt + 1)):
		}
	}
}

// Reserved labels only the engine itself may write. Stage moves through
// Advance; pipeline and work-unit labels anchor event correlation.
var engineManagedLabels = []string{
	instance.LabelStage,
	instance.LabelPipeline,
	instance.LabelWorkUnit,
}

// PatchLabels merges the given labels onto a running instance via the
// conditional label patch, retrying lost races like any other
// transition. Empty values delete keys. Engine-managed labels (stage,
// pipeline, work unit) are rejected.
func (eng *Engine) PatchLabels(ctx context.Context, instanceID id.InstanceID, patch map[string]string) (*instance.Instance, error) {
	for _, reserved := range engineManagedLabels {
		if _, ok := patch[reserved]; ok {
			return nil, fmt.Errorf("patch labels %s: label %q is engine-managed", instanceID, reserved)
		}
	}

	for attempt := 0; ; attempt++ {
		cur, err := eng.instances.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		updated, err := eng.instances.PatchInstanceLabels(ctx, instanceID, cur.ResourceVersion, patch)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, foreman.ErrTransitionConflict) {
			return nil, fmt.Errorf("patch labels %s: %w", instanceID, err)
		}
		if attempt+1 >= eng.cfg.TransitionMaxRetries {
			return nil, fmt.Errorf("patch labels %s: retries exhausted: %w", instanceID, foreman.ErrTransitionConflict)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(eng.bo.Delay(attempt + 1)):
		}
	}
}

// Cancel forcibly terminates a running instance: phase becomes
// Cancelled, every role lock held on its behalf is released, and — if
// the pipeline's restart policy allows — a fresh instance is created at
// the restart stage with its generation counter bumped. Locks are
// always released before the restart re-acquires them.
func (eng *Engine) Cancel(ctx context.Context, instanceID id.InstanceID, reason string) (*instance.Instance, error) {
	in, err := eng.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if in.Phase.Terminal() {
		return nil, fmt.Errorf("cancel %s: %w", instanceID, foreman.ErrInstanceTerminal)
	}

	cancelled, err := eng.markTerminal(ctx, instanceID, instance.PhaseCancelled, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel %s: %w", instanceID, err)
	}

	eng.releaseInstanceLocks(ctx, cancelled)
	eng.extensions.EmitInstanceCancelled(ctx, cancelled, reason)

	eng.logger.Info("instance cancelled",
		slog.String("instance_id", instanceID.String()),
		slog.String("work_unit", cancelled.WorkUnitID),
		slog.String("reason", reason),
	)

	pl, ok := eng.pipelines.Get(cancelled.Pipeline)
	if !ok || !pl.Restart.Enabled {
		return nil, nil
	}
	return eng.restart(ctx, cancelled, pl)
}

// restart creates the replacement instance at the pipeline's restart
// stage. In-flight partial output from the cancelled generation is
// discarded; the restarted agent begins from the last durable state.
func (eng *Engine) restart(ctx context.Context, prev *instance.Instance, pl *pipeline.Pipeline) (*instance.Instance, error) {
	restartStage, ok := pl.RestartStage()
	if !ok {
		return nil, fmt.Errorf("restart %s: %w", prev.WorkUnitID, foreman.ErrRestartDisabled)
	}

	generation := 1
	if v := prev.Labels[instance.LabelRestartCount]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			generation = n + 1
		}
	}

	now := time.Now().UTC()
	labels := make(map[string]string, len(prev.Labels))
	for k, v := range prev.Labels {
		labels[k] = v
	}
	labels[instance.LabelStage] = restartStage.Name
	labels[instance.LabelRestartCount] = strconv.Itoa(generation)
	delete(labels, instance.LabelRetentionClass)

	fresh := &instance.Instance{
		Entity:     foreman.NewEntity(),
		ID:         id.NewInstanceID(),
		Pipeline:   prev.Pipeline,
		WorkUnitID: prev.WorkUnitID,
		Repository: prev.Repository,
		BranchRef:  prev.BranchRef,
		Labels:     labels,
		Phase:      instance.PhaseRunning,
		StartedAt:  now,
	}
	if eng.cfg.InstanceDeadline > 0 {
		fresh.Deadline = now.Add(eng.cfg.InstanceDeadline)
	}

	if err := eng.instances.CreateInstance(ctx, fresh); err != nil {
		return nil, fmt.Errorf("restart %s: %w", prev.WorkUnitID, err)
	}
	eng.extensions.EmitInstanceCreated(ctx, fresh)

	eng.logger.Info("instance restarted from checkpoint",
		slog.String("instance_id", fresh.ID.String()),
		slog.String("replaces", prev.ID.String()),
		slog.String("work_unit", fresh.WorkUnitID),
		slog.String("stage", restartStage.Name),
		slog.Int("generation", generation),
	)

	if err := eng.dispatchAgent(ctx, fresh, pl, restartStage); err != nil {
		return fresh, err
	}
	return eng.instances.GetInstance(ctx, fresh.ID)
}

// markTerminal transitions the instance to a terminal phase via the
// same conditional-update discipline as stage advances. Failed and
// errored instances get the error retention class so they outlive
// successful ones in active storage.
func (eng *Engine) markTerminal(ctx context.Context, instanceID id.InstanceID, phase instance.Phase, reason string) (*instance.Instance, error) {
	for attempt := 0; ; attempt++ {
		cur, err := eng.instances.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if cur.Phase.Terminal() {
			return cur, foreman.ErrInstanceTerminal
		}

		now := time.Now().UTC()
		updated := cur.Clone()
		updated.Phase = phase
		updated.Reason = reason
		updated.TerminalAt = &now
		if phase == instance.PhaseFailed || phase == instance.PhaseError {
			updated.Labels[instance.LabelRetentionClass] = "error"
		}

		err = eng.instances.UpdateInstance(ctx, updated)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, foreman.ErrTransitionConflict) {
			return nil, err
		}
		if attempt+1 >= eng.cfg.TransitionMaxRetries {
			return nil, foreman.ErrTransitionConflict
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(eng.bo.Delay(attempt + 1)):
		}
	}
}

// failTerminal is markTerminal plus hook emission, for agent failures.
func (eng *Engine) failTerminal(ctx context.Context, instanceID id.InstanceID, phase instance.Phase, reason string) {
	in, err := eng.markTerminal(ctx, instanceID, phase, reason)
	if err != nil {
		eng.logger.Error("failed to record terminal phase",
			slog.String("instance_id", instanceID.String()),
			slog.String("phase", string(phase)),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	eng.releaseInstanceLocks(ctx, in)
	eng.extensions.EmitInstanceFailed(ctx, in, errors.New(reason))
}

// failWithError records retry exhaustion as phase=Error with the
// conflicting state noted for operator diagnosis.
func (eng *Engine) failWithError(ctx context.Context, instanceID id.InstanceID, reason string) {
	in, err := eng.markTerminal(ctx, instanceID, instance.PhaseError, reason)
	if err != nil {
		eng.logger.Error("failed to record error phase",
			slog.String("instance_id", instanceID.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	eng.releaseInstanceLocks(ctx, in)
	eng.extensions.EmitInstanceFailed(ctx, in, errors.New(reason))
}

// releaseInstanceLocks frees every role lock held on the instance's
// behalf. Release is idempotent, so lock-less instances are a no-op.
func (eng *Engine) releaseInstanceLocks(ctx context.Context, in *instance.Instance) {
	locks, err := eng.locks.ListLocks(ctx)
	if err != nil {
		eng.logger.Warn("lock listing failed during release",
			slog.String("instance_id", in.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, l := range locks {
		if l.HolderID != in.ID {
			continue
		}
		if err := eng.locks.ReleaseLock(ctx, l.Key); err != nil {
			eng.logger.Warn("role lock release failed",
				slog.String("key", l.Key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// EnforceDeadlines forces instances past their overall deadline into
// the Error phase and releases their locks. Run by the maintenance
// scheduler on the cluster leader.
func (eng *Engine) EnforceDeadlines(ctx context.Context) error {
	running, err := eng.instances.ListInstances(ctx, instance.ListOpts{Phase: instance.PhaseRunning})
	if err != nil {
		return fmt.Errorf("enforce deadlines: %w", err)
	}

	now := time.Now().UTC()
	for _, in := range running {
		if in.Deadline.IsZero() || now.Before(in.Deadline) {
			continue
		}
		expired, mErr := eng.markTerminal(ctx, in.ID, instance.PhaseError, foreman.ErrDeadlineExceeded.Error())
		if mErr != nil {
			if errors.Is(mErr, foreman.ErrInstanceTerminal) {
				continue
			}
			eng.logger.Error("deadline enforcement failed",
				slog.String("instance_id", in.ID.String()),
				slog.String("error", mErr.Error()),
			)
			continue
		}
		eng.releaseInstanceLocks(ctx, expired)
		eng.extensions.EmitInstanceFailed(ctx, expired, foreman.ErrDeadlineExceeded)
		eng.extensions.EmitDeadlineExceeded(ctx, expired)
		eng.logger.Warn("instance deadline exceeded",
			slog.String("instance_id", in.ID.String()),
			slog.String("work_unit", in.WorkUnitID),
			slog.String("stage", in.Stage()),
			slog.Time("deadline", in.Deadline),
		)
	}
	return nil
}

// ScanStuck alerts on instances that have sat in one stage past the
// stuck threshold. Alerting only: a slow agent is not an error, and the
// scan never cancels anything on its own.
func (eng *Engine) ScanStuck(ctx context.Context) error {
	running, err := eng.instances.ListInstances(ctx, instance.ListOpts{Phase: instance.PhaseRunning})
	if err != nil {
		return fmt.Errorf("scan stuck stages: %w", err)
	}

	now := time.Now().UTC()
	for _, in := range running {
		idle := now.Sub(in.LastTransitionAt())
		if idle < eng.cfg.StuckStageThreshold {
			continue
		}
		eng.logger.Warn("instance stuck in stage",
			slog.String("instance_id", in.ID.String()),
			slog.String("work_unit", in.WorkUnitID),
			slog.String("stage", in.Stage()),
			slog.Duration("idle", idle),
		)
	}
	return nil
}

// roleWaitingOn returns the role of the agent stage whose completion
// the waiting stage suspends on.
func roleWaitingOn(pl *pipeline.Pipeline, waiting string) (string, bool) {
	for _, s := range pl.Stages {
		if s.Kind == pipeline.KindAgent && s.Next == waiting {
			return s.Role, true
		}
	}
	return "", false
}
