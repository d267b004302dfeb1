// Package executor runs a single trigger or action handler under the common
// invocation contract: parameter resolution, a provisioned context, a time
// budget and panic isolation.
package executor

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/errs"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/resolver"
	"github.com/awantoch/flowhook/telemetry"
	"github.com/awantoch/flowhook/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Connections provisions handler clients and credentials.
type Connections interface {
	Client(ctx context.Context, appKey string, connectionID *uuid.UUID) (*httpclient.Client, error)
	Credentials(ctx context.Context, connectionID uuid.UUID) (credentials.Data, error)
	SetCredentials(ctx context.Context, connectionID uuid.UUID, updates credentials.Data) error
}

type Invocation struct {
	Flow      *model.Flow
	Step      *model.Step
	Execution *model.Execution
	Scope     *resolver.Scope
	Mode      app.Mode
	Webhook   *app.WebhookRequest
	// CallbackURL is set when registering provider webhooks.
	CallbackURL string
}

type Result struct {
	Input      map[string]any
	Output     map[string]any
	Items      []app.TriggerItem
	Stopped    bool
	StopReason string
	Duration   time.Duration
	Err        error
}

type Executor struct {
	registry *app.Registry
	conns    Connections
	timeout  time.Duration
}

func New(registry *app.Registry, conns Connections, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = constants.DefaultStepTimeout
	}
	return &Executor{registry: registry, conns: conns, timeout: timeout}
}

func (e *Executor) Registry() *app.Registry { return e.registry }

// Prepare resolves the step's handler and builds its context.
func (e *Executor) Prepare(ctx context.Context, inv Invocation) (*app.Context, app.Runnable, error) {
	step := inv.Step
	runnable, err := e.registry.Runnable(step)
	if err != nil {
		return nil, nil, &errs.HandlerError{AppKey: step.AppKey, Key: step.Key, Err: err, Malformed: true}
	}
	appDef, err := e.registry.App(step.AppKey)
	if err != nil {
		return nil, nil, &errs.HandlerError{AppKey: step.AppKey, Key: step.Key, Err: err, Malformed: true}
	}
	scope := inv.Scope
	if scope == nil {
		scope = resolver.NewScope()
	}
	params, err := resolver.Resolve(runnable.Schema(), step.Parameters, scope)
	if err != nil {
		return nil, nil, err
	}
	client, err := e.conns.Client(ctx, step.AppKey, step.ConnectionID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, nil, errs.NewAuthError(errs.ReauthenticationRequired, step.AppKey, err)
		}
		return nil, nil, err
	}
	c := &app.Context{
		Mode:        inv.Mode,
		App:         appDef,
		Flow:        inv.Flow,
		Step:        step,
		Execution:   inv.Execution,
		Params:      params,
		HTTP:        client,
		Webhook:     inv.Webhook,
		CallbackURL: inv.CallbackURL,
	}
	if step.ConnectionID != nil {
		id := *step.ConnectionID
		c.Auth = &app.AuthHandle{
			ConnectionID: &id,
			Load: func(ctx context.Context) (credentials.Data, error) {
				return e.conns.Credentials(ctx, id)
			},
			Store: func(ctx context.Context, updates credentials.Data) error {
				return e.conns.SetCredentials(ctx, id, updates)
			},
		}
	}
	return c, runnable, nil
}

// Run invokes the step's handler once. Errors are returned in Result.Err,
// already mapped onto the error taxonomy.
func (e *Executor) Run(ctx context.Context, inv Invocation) *Result {
	step := inv.Step
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "step "+step.AppKey+"."+step.Key, trace.WithAttributes(
		attribute.String("flowhook.step_id", step.ID),
		attribute.String("flowhook.app", step.AppKey),
		attribute.String("flowhook.key", step.Key),
	))
	defer span.End()

	res := &Result{}
	c, runnable, err := e.Prepare(ctx, inv)
	if err == nil {
		res.Input = c.Params
		err = e.invoke(ctx, runnable, c)
	}
	res.Err = e.classify(step, err)
	res.Duration = time.Since(start)

	if res.Err == nil {
		e.collect(inv, c, res)
	}

	status := string(model.StepSuccess)
	if res.Err != nil {
		status = string(model.StepFailure)
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		utils.DebugCtx(ctx, "step failed", "step", step.ID, "app", step.AppKey, "key", step.Key, "error", res.Err)
	}
	telemetry.ObserveStep(step.AppKey, step.Key, status, res.Duration)
	return res
}

// invoke runs the handler in its own goroutine so a runaway handler cannot
// hold the caller past the budget.
func (e *Executor) invoke(ctx context.Context, runnable app.Runnable, c *app.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &errs.HandlerError{AppKey: c.Step.AppKey, Key: c.Step.Key, Panic: r, Stack: debug.Stack()}
			}
		}()
		done <- runnable.Run(runCtx, c)
	}()

	select {
	case err := <-done:
		if err != nil && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return &errs.TimeoutError{Budget: e.timeout}
		}
		return err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errs.TimeoutError{Budget: e.timeout}
	}
}

func (e *Executor) classify(step *model.Step, err error) error {
	if err == nil {
		return nil
	}
	var (
		authErr    *errs.AuthError
		unresolved *errs.UnresolvedVariableError
		missing    *errs.MissingArgumentError
		handlerErr *errs.HandlerError
		timeoutErr *errs.TimeoutError
	)
	switch {
	case errors.As(err, &authErr), errors.As(err, &unresolved), errors.As(err, &missing),
		errors.As(err, &handlerErr), errors.As(err, &timeoutErr):
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		// provider failures keep their classification through Unwrap
		return &errs.HandlerError{AppKey: step.AppKey, Key: step.Key, Err: err}
	}
}

func (e *Executor) collect(inv Invocation, c *app.Context, res *Result) {
	res.Stopped, res.StopReason = c.Stopped()
	switch inv.Mode {
	case app.ModePoll, app.ModeWebhook:
		res.Items = c.TriggerItems()
		if len(res.Items) > 0 {
			res.Output = res.Items[len(res.Items)-1].Output()
		}
	default:
		if out, ok := c.ActionItem(); ok {
			res.Output = out
		}
	}
	if res.Output == nil {
		res.Output = map[string]any{}
	}
}
