// Package dispatch turns trigger activity into executions: it schedules
// polls for active flows, registers provider webhooks and hands new trigger
// items to the runner.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/engine"
	"github.com/awantoch/flowhook/event"
	"github.com/awantoch/flowhook/executor"
	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/storage"
	"github.com/awantoch/flowhook/telemetry"
	"github.com/awantoch/flowhook/utils"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
)

type State string

const (
	StateInactive          State = "inactive"
	StatePolling           State = "polling"
	StateWebhookRegistered State = "webhook_registered"
)

var (
	ErrNotActive  = errors.New("flow is not active")
	ErrNoTrigger  = errors.New("flow has no trigger step")
	ErrNotWebhook = errors.New("flow trigger is not a webhook")
)

// Delivery is an inbound webhook request addressed to one flow.
type Delivery struct {
	FlowID  uuid.UUID   `json:"flow_id"`
	Method  string      `json:"method"`
	Headers http.Header `json:"headers"`
	Query   url.Values  `json:"query"`
	Body    []byte      `json:"body"`
}

type Options struct {
	// PublicURL prefixes webhook callback URLs.
	PublicURL string
	// PollInterval applies to triggers without their own interval.
	PollInterval time.Duration
	// DeliveryWorkers bounds the webhook deliveries interpreted at once.
	DeliveryWorkers int
}

type flowState struct {
	state State
	entry cron.EntryID
}

type Dispatcher struct {
	store  storage.Storage
	runner *engine.Runner
	exec   *executor.Executor
	bus    event.EventBus
	opts   Options
	cron   *cron.Cron

	mu         sync.Mutex
	flows      map[uuid.UUID]*flowState
	activating map[uuid.UUID]bool
	pollLocks  sync.Map
	ctx        context.Context
	cancel     context.CancelFunc

	deliveries sync.WaitGroup
	workers    *semaphore.Weighted
}

func New(store storage.Storage, runner *engine.Runner, bus event.EventBus, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.DefaultPollInterval
	}
	if opts.DeliveryWorkers <= 0 {
		opts.DeliveryWorkers = constants.DefaultDeliveryWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:      store,
		runner:     runner,
		exec:       runner.Executor(),
		bus:        bus,
		opts:       opts,
		cron:       cron.New(cron.WithLogger(cronLogger{})),
		flows:      make(map[uuid.UUID]*flowState),
		activating: make(map[uuid.UUID]bool),
		ctx:        ctx,
		cancel:     cancel,
		workers:    semaphore.NewWeighted(int64(opts.DeliveryWorkers)),
	}
}

// Start activates every active flow, consumes webhook deliveries and resumes
// executions left pending by a previous process.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.bus != nil {
		if err := d.bus.Subscribe(d.ctx, constants.TopicWebhookDelivered, d.handleDelivery); err != nil {
			return err
		}
	}
	d.cron.Start()

	flows, err := d.store.ListFlows(ctx, true)
	if err != nil {
		return utils.Errorf("failed to list active flows: %w", err)
	}
	for _, f := range flows {
		if err := d.Activate(ctx, f.ID); err != nil {
			utils.ErrorCtx(ctx, "failed to activate flow", "flow", f.ID, "error", err)
		}
	}
	return d.resumePending(ctx)
}

func (d *Dispatcher) resumePending(ctx context.Context) error {
	pending, err := d.store.ListPendingExecutions(ctx)
	if err != nil {
		return utils.Errorf("failed to list pending executions: %w", err)
	}
	for _, exec := range pending {
		flow, err := d.store.GetFlow(ctx, exec.FlowID)
		if err != nil {
			utils.WarnCtx(ctx, "pending execution has no flow", "execution", exec.ID, "flow", exec.FlowID, "error", err)
			continue
		}
		if !d.startIfActive(ctx, flow, exec) {
			continue
		}
		utils.InfoCtx(ctx, "resumed pending execution", "execution", exec.ID, "flow", flow.ID)
	}
	return nil
}

// Stop halts scheduling and waits for in-flight executions until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()
	stopped := d.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		d.deliveries.Wait()
		d.runner.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the dispatch state of a flow.
func (d *Dispatcher) State(flowID uuid.UUID) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.flows[flowID]; ok {
		return st.state
	}
	return StateInactive
}

// CallbackURL is the webhook URL of a flow.
func (d *Dispatcher) CallbackURL(flowID uuid.UUID) string {
	return strings.TrimRight(d.opts.PublicURL, "/") + fmt.Sprintf(constants.WebhookPathFmt, flowID)
}

func (d *Dispatcher) trigger(flow *model.Flow) (*model.Step, *app.Trigger, error) {
	step := flow.Trigger()
	if step == nil {
		return nil, nil, ErrNoTrigger
	}
	def, err := d.exec.Registry().Trigger(step.AppKey, step.Key)
	if err != nil {
		return nil, nil, err
	}
	return step, def, nil
}

// Activate marks the flow active and starts its trigger: a poll schedule or
// a registered webhook.
func (d *Dispatcher) Activate(ctx context.Context, flowID uuid.UUID) error {
	d.mu.Lock()
	if _, ok := d.flows[flowID]; ok || d.activating[flowID] {
		d.mu.Unlock()
		return nil
	}
	d.activating[flowID] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.activating, flowID)
		d.mu.Unlock()
	}()

	flow, err := d.store.GetFlow(ctx, flowID)
	if err != nil {
		return err
	}
	step, def, err := d.trigger(flow)
	if err != nil {
		return err
	}

	st := &flowState{}
	switch def.Type {
	case app.TriggerPoll:
		st.state = StatePolling
	case app.TriggerWebhook:
		if err := d.registerHook(ctx, flow, step, def); err != nil {
			return err
		}
		st.state = StateWebhookRegistered
	default:
		return utils.Errorf("unknown trigger type %q", def.Type)
	}

	if !flow.Active {
		flow.Active = true
		flow.UpdatedAt = time.Now().UTC()
		if err := d.store.SaveFlow(ctx, flow); err != nil {
			return err
		}
	}

	d.mu.Lock()
	if st.state == StatePolling {
		interval := def.Interval
		if interval <= 0 {
			interval = d.opts.PollInterval
		}
		job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
			d.pollTick(flowID)
		}))
		st.entry = d.cron.Schedule(cron.Every(interval), job)
	}
	d.flows[flowID] = st
	d.mu.Unlock()
	utils.InfoCtx(ctx, "flow activated", "flow", flowID, "state", st.state)

	if st.state == StatePolling {
		d.baseline(ctx, flowID)
	}
	return nil
}

// baseline records the current cursor of a flow that has never been polled,
// so items that existed before activation never fire.
func (d *Dispatcher) baseline(ctx context.Context, flowID uuid.UUID) {
	if _, err := d.store.GetWatermark(ctx, flowID); !errors.Is(err, storage.ErrNotFound) {
		return
	}
	if _, err := d.Poll(ctx, flowID); err != nil {
		utils.WarnCtx(ctx, "baseline poll failed", "flow", flowID, "error", err)
	}
}

func (d *Dispatcher) registerHook(ctx context.Context, flow *model.Flow, step *model.Step, def *app.Trigger) error {
	reg := &model.WebhookRegistration{
		FlowID:      flow.ID,
		AppKey:      step.AppKey,
		TriggerKey:  step.Key,
		CallbackURL: d.CallbackURL(flow.ID),
		CreatedAt:   time.Now().UTC(),
	}
	if def.RegisterHook != nil {
		c, _, err := d.exec.Prepare(ctx, executor.Invocation{
			Flow: flow, Step: step, Mode: app.ModeHook, CallbackURL: reg.CallbackURL,
		})
		if err != nil {
			return err
		}
		hookID, err := def.RegisterHook(ctx, c)
		if err != nil {
			return utils.Errorf("failed to register webhook for flow %s: %w", flow.ID, err)
		}
		reg.HookID = hookID
	}
	return d.store.SaveWebhookRegistration(ctx, reg)
}

// Deactivate stops future triggering of the flow. In-flight executions run
// to completion; none start after Deactivate returns.
func (d *Dispatcher) Deactivate(ctx context.Context, flowID uuid.UUID) error {
	d.mu.Lock()
	st, ok := d.flows[flowID]
	delete(d.flows, flowID)
	if ok && st.state == StatePolling {
		d.cron.Remove(st.entry)
	}
	d.mu.Unlock()

	flow, err := d.store.GetFlow(ctx, flowID)
	if err != nil {
		return err
	}
	if ok && st.state == StateWebhookRegistered {
		d.unregisterHook(ctx, flow)
	}
	if flow.Active {
		flow.Active = false
		flow.UpdatedAt = time.Now().UTC()
		if err := d.store.SaveFlow(ctx, flow); err != nil {
			return err
		}
	}
	utils.InfoCtx(ctx, "flow deactivated", "flow", flowID)
	return nil
}

// unregisterHook removes the provider webhook. Failures are logged only.
func (d *Dispatcher) unregisterHook(ctx context.Context, flow *model.Flow) {
	reg, err := d.store.GetWebhookRegistration(ctx, flow.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			utils.WarnCtx(ctx, "failed to load webhook registration", "flow", flow.ID, "error", err)
		}
		return
	}
	step, def, err := d.trigger(flow)
	if err == nil && def.UnregisterHook != nil && reg.HookID != "" {
		c, _, perr := d.exec.Prepare(ctx, executor.Invocation{
			Flow: flow, Step: step, Mode: app.ModeHook, CallbackURL: reg.CallbackURL,
		})
		if perr == nil {
			perr = def.UnregisterHook(ctx, c, reg.HookID)
		}
		if perr != nil {
			utils.WarnCtx(ctx, "failed to unregister webhook", "flow", flow.ID, "hook", reg.HookID, "error", perr)
		}
	}
	if err := d.store.DeleteWebhookRegistration(ctx, flow.ID); err != nil {
		utils.WarnCtx(ctx, "failed to delete webhook registration", "flow", flow.ID, "error", err)
	}
}

// startIfActive starts exec unless the flow was deactivated. The check and
// the start happen under the dispatcher lock.
func (d *Dispatcher) startIfActive(ctx context.Context, flow *model.Flow, exec *model.Execution) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.flows[flow.ID]; !ok {
		return false
	}
	d.runner.Start(ctx, flow, exec)
	return true
}

func (d *Dispatcher) pollTick(flowID uuid.UUID) {
	if d.State(flowID) != StatePolling {
		return
	}
	if _, err := d.Poll(d.ctx, flowID); err != nil && d.ctx.Err() == nil {
		utils.ErrorCtx(d.ctx, "poll failed", "flow", flowID, "error", err)
	}
}

type candidate struct {
	item   app.TriggerItem
	cursor string
}

// pollLock serializes polls of one flow.
func (d *Dispatcher) pollLock(flowID uuid.UUID) *sync.Mutex {
	l, _ := d.pollLocks.LoadOrStore(flowID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Poll runs the flow's trigger once and promotes items newer than the
// watermark to executions. It returns the number of executions created.
// The first poll of a flow without a watermark only records the cursor; an
// empty feed records the empty cursor, which every later item is newer than.
func (d *Dispatcher) Poll(ctx context.Context, flowID uuid.UUID) (int, error) {
	lock := d.pollLock(flowID)
	lock.Lock()
	defer lock.Unlock()

	flow, err := d.store.GetFlow(ctx, flowID)
	if err != nil {
		return 0, err
	}
	step, def, err := d.trigger(flow)
	if err != nil {
		return 0, err
	}
	if def.Type != app.TriggerPoll {
		return 0, utils.Errorf("trigger %s.%s does not poll", step.AppKey, step.Key)
	}

	res := d.exec.Run(ctx, executor.Invocation{Flow: flow, Step: step, Mode: app.ModePoll})
	if res.Err != nil {
		telemetry.CountPoll(step.AppKey, "error")
		return 0, res.Err
	}

	candidates := make([]candidate, 0, len(res.Items))
	for _, item := range res.Items {
		cursor, err := def.Dedup.Cursor(item)
		if err != nil {
			utils.WarnCtx(ctx, "skipping trigger item without cursor", "flow", flowID, "error", err)
			continue
		}
		candidates = append(candidates, candidate{item: item, cursor: cursor})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return def.Dedup.Compare(candidates[i].cursor, candidates[j].cursor) < 0
	})

	wm, err := d.store.GetWatermark(ctx, flowID)
	if errors.Is(err, storage.ErrNotFound) {
		cursor := emptyCursor
		if len(candidates) > 0 {
			cursor = candidates[len(candidates)-1].cursor
		}
		if _, err := d.store.PromoteTriggerItems(ctx, flowID, cursor, nil); err != nil {
			return 0, err
		}
		telemetry.CountPoll(step.AppKey, "baseline")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var execs []*model.Execution
	for _, c := range candidates {
		if wm.Cursor != emptyCursor && def.Dedup.Compare(c.cursor, wm.Cursor) <= 0 {
			continue
		}
		id := c.item.Meta.InternalID
		if id == "" {
			id = fallbackItemID(def.Dedup, c.cursor, c.item)
		}
		execs = append(execs, model.NewExecution(flowID, id, c.item.Output()))
	}
	if len(execs) == 0 {
		telemetry.CountPoll(step.AppKey, "empty")
		return 0, nil
	}
	created, err := d.store.PromoteTriggerItems(ctx, flowID, candidates[len(candidates)-1].cursor, execs)
	if err != nil {
		return 0, err
	}
	if skipped := len(execs) - len(created); skipped > 0 {
		utils.DebugCtx(ctx, "skipped trigger items that already have executions", "flow", flowID, "count", skipped)
	}
	telemetry.CountPoll(step.AppKey, "items")
	telemetry.CountTriggerItems("poll", len(created))
	utils.InfoCtx(ctx, "poll promoted trigger items", "flow", flowID, "count", len(created))

	for _, exec := range created {
		d.startIfActive(ctx, flow, exec)
	}
	return len(created), nil
}

// emptyCursor is the watermark of a flow whose feed was empty when it was
// baselined.
const emptyCursor = ""

// fallbackItemID identifies an item without a provider ID. Unless the
// cursor is unique on its own, a digest of the content is appended so
// distinct items sharing a timestamp stay apart.
func fallbackItemID(policy app.DedupPolicy, cursor string, item app.TriggerItem) string {
	if u, ok := policy.(app.UniqueCursor); ok && u.UniqueCursor() {
		return cursor
	}
	data, err := json.Marshal(item.Raw)
	if err != nil {
		return cursor
	}
	sum := sha256.Sum256(data)
	return cursor + ":" + hex.EncodeToString(sum[:8])
}

// handleDelivery hands the delivery to a worker and returns, so a slow
// trigger of one flow never holds up deliveries to the others.
func (d *Dispatcher) handleDelivery(ctx context.Context, msg *event.Message) error {
	var delivery Delivery
	if err := msg.Decode(&delivery); err != nil {
		return utils.Errorf("invalid webhook delivery: %w", err)
	}
	if err := d.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	d.deliveries.Add(1)
	go func() {
		defer d.deliveries.Done()
		defer d.workers.Release(1)
		if _, err := d.Deliver(ctx, delivery); err != nil && !errors.Is(err, ErrNotActive) {
			utils.ErrorCtx(ctx, "webhook delivery failed", "flow", delivery.FlowID, "message_id", msg.ID, "error", err)
		}
	}()
	return nil
}

// Deliver interprets an inbound webhook with the flow's trigger and starts
// one execution for the item it yields. Redelivered items are ignored.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery) (*model.Execution, error) {
	if d.State(delivery.FlowID) != StateWebhookRegistered {
		return nil, ErrNotActive
	}
	flow, err := d.store.GetFlow(ctx, delivery.FlowID)
	if err != nil {
		return nil, err
	}
	step, def, err := d.trigger(flow)
	if err != nil {
		return nil, err
	}
	if def.Type != app.TriggerWebhook {
		return nil, ErrNotWebhook
	}

	res := d.exec.Run(ctx, executor.Invocation{
		Flow: flow,
		Step: step,
		Mode: app.ModeWebhook,
		Webhook: &app.WebhookRequest{
			Method:  delivery.Method,
			Headers: delivery.Headers,
			Query:   delivery.Query,
			Body:    delivery.Body,
		},
		CallbackURL: d.CallbackURL(flow.ID),
	})
	if res.Err != nil {
		return nil, res.Err
	}
	if len(res.Items) == 0 {
		utils.DebugCtx(ctx, "webhook produced no trigger item", "flow", flow.ID)
		return nil, nil
	}
	item := res.Items[0]
	id := item.Meta.InternalID
	if id == "" && def.Dedup != nil {
		if cursor, err := def.Dedup.Cursor(item); err == nil {
			id = fallbackItemID(def.Dedup, cursor, item)
		}
	}

	exec := model.NewExecution(flow.ID, id, item.Output())
	if err := d.store.CreateExecution(ctx, exec); err != nil {
		if errors.Is(err, storage.ErrDuplicateTriggerItem) {
			utils.DebugCtx(ctx, "ignoring redelivered webhook item", "flow", flow.ID, "item", id)
			return nil, nil
		}
		return nil, err
	}
	telemetry.CountTriggerItems("webhook", 1)
	if !d.startIfActive(ctx, flow, exec) {
		return exec, ErrNotActive
	}
	return exec, nil
}

// cronLogger routes cron's logs to the internal zap logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	utils.Logger().Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	utils.Logger().Errorw(msg, append(keysAndValues, "error", err)...)
}
