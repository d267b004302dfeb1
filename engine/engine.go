package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/blob"
	"github.com/awantoch/flowhook/config"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/errs"
	"github.com/awantoch/flowhook/event"
	"github.com/awantoch/flowhook/executor"
	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/resolver"
	"github.com/awantoch/flowhook/storage"
	"github.com/awantoch/flowhook/telemetry"
	"github.com/awantoch/flowhook/utils"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var (
	ErrExecutionFinished = errors.New("execution already finished")
	ErrUnknownStep       = errors.New("step not found in flow")
	ErrNoSample          = errors.New("trigger produced no sample item")
)

// ReconnectMarker flags connections that need the user to reconnect.
type ReconnectMarker interface {
	MarkReconnectRequired(ctx context.Context, connectionID uuid.UUID) error
}

// RetryPolicy bounds retries of retryable step failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryPolicyFromConfig reads the runner section of cfg.
func RetryPolicyFromConfig(cfg config.RunnerConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, InitialBackoff: cfg.InitialBackoff, MaxBackoff: cfg.MaxBackoff}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = constants.DefaultInitialBackoff
	}
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = constants.DefaultMaxBackoff
	}
	b.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = constants.DefaultMaxAttempts
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Options carries the runner's optional collaborators.
type Options struct {
	Retry     RetryPolicy
	Reconnect ReconnectMarker
	Events    event.EventBus
	Archive   blob.BlobStore
}

// ExecutionEvent is published on the execution lifecycle topics.
type ExecutionEvent struct {
	ExecutionID       uuid.UUID             `json:"execution_id"`
	FlowID            uuid.UUID             `json:"flow_id"`
	Status            model.ExecutionStatus `json:"status"`
	TestRun           bool                  `json:"test_run,omitempty"`
	ReconnectRequired bool                  `json:"reconnect_required,omitempty"`
	Error             string                `json:"error,omitempty"`
	ArchiveURL        string                `json:"archive_url,omitempty"`
}

// Runner executes the steps of one Execution in position order.
type Runner struct {
	store storage.Storage
	exec  *executor.Executor
	opts  Options
	wg    sync.WaitGroup
}

func NewRunner(store storage.Storage, exec *executor.Executor, opts Options) *Runner {
	return &Runner{store: store, exec: exec, opts: opts}
}

func (r *Runner) Executor() *executor.Executor { return r.exec }

// Start runs exec in the background. The run is detached from ctx
// cancellation so it always reaches a terminal state.
func (r *Runner) Start(ctx context.Context, flow *model.Flow, exec *model.Execution) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Run(context.WithoutCancel(ctx), flow, exec); err != nil {
			utils.ErrorCtx(ctx, "execution failed to run", "execution", exec.ID, "flow", flow.ID, "error", err)
		}
	}()
}

// Wait blocks until every execution started with Start has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run executes exec to a terminal state. Step failures are recorded on the
// execution; the returned error reports storage failures only.
func (r *Runner) Run(ctx context.Context, flow *model.Flow, exec *model.Execution) (*model.Execution, error) {
	return r.run(ctx, flow, exec, "")
}

func (r *Runner) run(ctx context.Context, flow *model.Flow, exec *model.Execution, untilStepID string) (*model.Execution, error) {
	if exec.Status.Terminal() {
		return exec, ErrExecutionFinished
	}
	trigger := flow.Trigger()
	if trigger == nil {
		return exec, utils.Errorf("flow %s has no trigger step", flow.ID)
	}
	now := time.Now().UTC()
	exec.Status = model.ExecutionRunning
	exec.StartedAt = &now
	if err := r.store.SaveExecution(ctx, exec); err != nil {
		return exec, utils.Errorf("failed to mark execution %s running: %w", exec.ID, err)
	}
	r.publish(ctx, constants.TopicExecutionStarted, exec, "")
	utils.DebugCtx(ctx, "execution started", "execution", exec.ID, "flow", flow.ID)

	scope := resolver.NewScope()
	if err := r.recordTrigger(ctx, trigger, exec, scope); err != nil {
		return exec, err
	}

	status := model.ExecutionSuccess
	if trigger.ID != untilStepID {
		for _, step := range orderedActions(flow) {
			outcome, err := r.runStep(ctx, flow, exec, step, scope)
			if err != nil {
				return exec, err
			}
			if outcome != model.ExecutionSuccess {
				status = outcome
				break
			}
			if step.ID == untilStepID {
				break
			}
		}
	}
	return exec, r.finish(ctx, exec, status)
}

func orderedActions(flow *model.Flow) []*model.Step {
	actions := flow.Actions()
	out := make([]*model.Step, len(actions))
	for i := range actions {
		out[i] = &actions[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// recordTrigger stores the trigger output as the first execution step.
func (r *Runner) recordTrigger(ctx context.Context, trigger *model.Step, exec *model.Execution, scope *resolver.Scope) error {
	output := exec.TriggerOutput
	if output == nil {
		output = map[string]any{}
	}
	es := model.NewExecutionStep(exec.ID, trigger)
	es.Attempts = 1
	if err := es.Finish(model.StepSuccess, output, nil); err != nil {
		return err
	}
	if err := r.store.SaveExecutionStep(ctx, es); err != nil {
		return utils.Errorf("failed to record trigger step: %w", err)
	}
	return scope.Set(trigger.ID, output)
}

// runStep executes one action with retries and reports how the execution
// should continue: success to go on, failure or incomplete to halt.
func (r *Runner) runStep(ctx context.Context, flow *model.Flow, exec *model.Execution, step *model.Step, scope *resolver.Scope) (model.ExecutionStatus, error) {
	es := model.NewExecutionStep(exec.ID, step)
	if err := r.store.SaveExecutionStep(ctx, es); err != nil {
		return "", utils.Errorf("failed to record step %s: %w", step.ID, err)
	}

	var res *executor.Result
	op := func() error {
		es.Attempts++
		res = r.exec.Run(ctx, executor.Invocation{
			Flow: flow, Step: step, Execution: exec, Scope: scope, Mode: app.ModeAction,
		})
		if res.Err == nil {
			return nil
		}
		if errs.Classify(res.Err) == errs.Fatal {
			return backoff.Permanent(res.Err)
		}
		return res.Err
	}
	notify := func(err error, wait time.Duration) {
		utils.WarnCtx(ctx, "retrying step", "execution", exec.ID, "step", step.ID,
			"attempt", es.Attempts, "wait", wait, "error", err)
	}
	retryErr := backoff.RetryNotify(op, r.opts.Retry.backOff(ctx), notify)

	stepErr := res.Err
	if stepErr == nil && retryErr != nil {
		// cancelled between attempts
		stepErr = retryErr
	}
	es.Input = res.Input
	if stepErr == nil {
		if err := es.Finish(model.StepSuccess, res.Output, nil); err != nil {
			return "", err
		}
		if err := r.store.SaveExecutionStep(ctx, es); err != nil {
			return "", utils.Errorf("failed to record step %s: %w", step.ID, err)
		}
		if err := scope.Set(step.ID, res.Output); err != nil {
			return "", err
		}
		if res.Stopped {
			utils.InfoCtx(ctx, "execution stopped by filter", "execution", exec.ID, "step", step.ID, "reason", res.StopReason)
			return model.ExecutionIncomplete, nil
		}
		return model.ExecutionSuccess, nil
	}

	if err := es.Finish(model.StepFailure, nil, &model.StepError{
		Kind:    string(errs.KindOf(stepErr)),
		Message: stepErr.Error(),
		Raw:     errs.RawPayload(stepErr),
	}); err != nil {
		return "", err
	}
	if err := r.store.SaveExecutionStep(ctx, es); err != nil {
		return "", utils.Errorf("failed to record step %s: %w", step.ID, err)
	}
	exec.Error = fmt.Sprintf("step %s: %v", step.ID, stepErr)
	if errs.IsReauthenticationRequired(stepErr) {
		exec.ReconnectRequired = true
		if step.ConnectionID != nil && r.opts.Reconnect != nil {
			if err := r.opts.Reconnect.MarkReconnectRequired(ctx, *step.ConnectionID); err != nil {
				utils.WarnCtx(ctx, "failed to mark connection for reconnect", "connection", *step.ConnectionID, "error", err)
			}
		}
	}
	utils.WarnCtx(ctx, "step failed", "execution", exec.ID, "step", step.ID, "attempts", es.Attempts,
		"kind", errs.KindOf(stepErr), "error", stepErr)
	return model.ExecutionFailure, nil
}

func (r *Runner) finish(ctx context.Context, exec *model.Execution, status model.ExecutionStatus) error {
	now := time.Now().UTC()
	exec.Status = status
	exec.FinishedAt = &now
	if err := r.store.SaveExecution(ctx, exec); err != nil {
		return utils.Errorf("failed to finish execution %s: %w", exec.ID, err)
	}
	telemetry.CountExecution(string(status))
	url := r.archive(ctx, exec)
	r.publish(ctx, constants.TopicExecutionCompleted, exec, url)
	utils.InfoCtx(ctx, "execution finished", "execution", exec.ID, "flow", exec.FlowID, "status", status)
	return nil
}

// archive writes the finished execution with its steps to the blob store.
func (r *Runner) archive(ctx context.Context, exec *model.Execution) string {
	if r.opts.Archive == nil {
		return ""
	}
	full, err := r.store.GetExecution(ctx, exec.ID)
	if err != nil {
		utils.WarnCtx(ctx, "failed to load execution for archive", "execution", exec.ID, "error", err)
		return ""
	}
	data, err := json.MarshalIndent(full, "", constants.JSONIndent)
	if err != nil {
		utils.WarnCtx(ctx, "failed to encode execution archive", "execution", exec.ID, "error", err)
		return ""
	}
	key := fmt.Sprintf("executions/%s/%s.json", exec.FlowID, exec.ID)
	url, err := r.opts.Archive.Put(ctx, data, constants.ContentTypeJSON, key)
	if err != nil {
		utils.WarnCtx(ctx, "failed to archive execution", "execution", exec.ID, "error", err)
		return ""
	}
	return url
}

func (r *Runner) publish(ctx context.Context, topic string, exec *model.Execution, archiveURL string) {
	if r.opts.Events == nil {
		return
	}
	ev := ExecutionEvent{
		ExecutionID:       exec.ID,
		FlowID:            exec.FlowID,
		Status:            exec.Status,
		TestRun:           exec.TestRun,
		ReconnectRequired: exec.ReconnectRequired,
		Error:             exec.Error,
		ArchiveURL:        archiveURL,
	}
	if err := r.opts.Events.Publish(ctx, topic, ev); err != nil {
		utils.WarnCtx(ctx, "failed to publish execution event", "topic", topic, "execution", exec.ID, "error", err)
	}
}

// Replay runs a new execution of the same flow with the recorded trigger
// output of executionID.
func (r *Runner) Replay(ctx context.Context, executionID uuid.UUID) (*model.Execution, error) {
	orig, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	flow, err := r.store.GetFlow(ctx, orig.FlowID)
	if err != nil {
		return nil, err
	}
	exec := model.NewExecution(flow.ID, orig.TriggerItemID, orig.TriggerOutput)
	exec.ReplayOf = &orig.ID
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return r.Run(ctx, flow, exec)
}

// TestRun executes flow up to and including untilStepID without touching the
// poll watermark. With no triggerOutput the trigger is invoked once and its
// newest item is used as the sample. An empty untilStepID runs every step.
func (r *Runner) TestRun(ctx context.Context, flow *model.Flow, untilStepID string, triggerOutput map[string]any) (*model.Execution, error) {
	if untilStepID != "" {
		if _, ok := flow.StepByID(untilStepID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStep, untilStepID)
		}
	}
	trigger := flow.Trigger()
	if trigger == nil {
		return nil, utils.Errorf("flow %s has no trigger step", flow.ID)
	}
	if triggerOutput == nil {
		sample, err := r.sample(ctx, flow, trigger)
		if err != nil {
			return nil, err
		}
		triggerOutput = sample
	}
	exec := model.NewExecution(flow.ID, "", triggerOutput)
	exec.TestRun = true
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return r.run(ctx, flow, exec, untilStepID)
}

func (r *Runner) sample(ctx context.Context, flow *model.Flow, trigger *model.Step) (map[string]any, error) {
	res := r.exec.Run(ctx, executor.Invocation{Flow: flow, Step: trigger, Mode: app.ModePoll})
	if res.Err != nil {
		return nil, res.Err
	}
	if len(res.Items) == 0 {
		return nil, ErrNoSample
	}
	return res.Items[len(res.Items)-1].Output(), nil
}
