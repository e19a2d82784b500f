// Package agentruntime drives a single agent from its loaded AgentSpec
// through the lifecycle state machine to completion, failure, or
// termination: Initializing, Planning, Executing, ReportingProgress,
// AwaitingDependency, Completed, Failed, Terminated.
package agentruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"

	"github.com/toka-systems/toka/internal/gateway"
	"github.com/toka-systems/toka/internal/gateway/provider"
	"github.com/toka-systems/toka/internal/metrics"
	"github.com/toka-systems/toka/internal/telemetry"
	"github.com/toka-systems/toka/internal/tools"
	"github.com/toka-systems/toka/internal/types"
)

// State is one stage of an agent runtime's lifecycle.
type State string

const (
	StateInitializing       State = "initializing"
	StatePlanning           State = "planning"
	StateExecuting          State = "executing"
	StateReportingProgress  State = "reporting_progress"
	StateAwaitingDependency State = "awaiting_dependency"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
	StateTerminated         State = "terminated"
)

// defaultRetryBudget is the per-task retry count before a transient error
// becomes fatal, per the agent runtime's retry policy.
const defaultRetryBudget = 3

// KernelSubmitter is the subset of the kernel's entry point an agent
// runtime needs.
type KernelSubmitter interface {
	Submit(ctx context.Context, msg types.Message) (types.KernelEvent, error)
}

// DependencyTracker reports whether a named task this agent's tasks depend
// on has already been observed complete. The orchestration engine supplies
// the concrete implementation; agentruntime only consumes it.
type DependencyTracker interface {
	IsComplete(name string) bool
}

// alwaysSatisfied is the default DependencyTracker for an agent run in
// isolation (no orchestration session), treating every dependency as
// already met.
type alwaysSatisfied struct{}

func (alwaysSatisfied) IsComplete(string) bool { return true }

// Runtime drives one agent's lifecycle.
type Runtime struct {
	log          logr.Logger
	self         types.EntityId
	capability   string
	spec         types.AgentSpec
	kernel       KernelSubmitter
	gw           *gateway.Gateway
	toolRegistry *tools.Registry
	deps         DependencyTracker
	clock        func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	state            State
	currentTask      string
	completedTasks   map[string]struct{}
	retryCounts      map[string]int
	lastReportedAt   time.Time
	granted          map[string]struct{}
	terminateSignal  bool
	lastErr          error
	startedAt        time.Time
	terminalRecorded bool
	runSpan          trace.Span
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

func WithLogger(log logr.Logger) Option { return func(r *Runtime) { r.log = log } }

func WithClock(clock func() time.Time) Option { return func(r *Runtime) { r.clock = clock } }

func WithDependencyTracker(deps DependencyTracker) Option {
	return func(r *Runtime) { r.deps = deps }
}

// New constructs a Runtime for self, authenticated with capability, driven
// by spec.
func New(self types.EntityId, capability string, spec types.AgentSpec, kernel KernelSubmitter, gw *gateway.Gateway, toolRegistry *tools.Registry, opts ...Option) *Runtime {
	granted := make(map[string]struct{}, len(spec.Capabilities.Primary)+len(spec.Capabilities.Secondary))
	for _, p := range spec.Capabilities.Primary {
		granted[p] = struct{}{}
	}
	for _, p := range spec.Capabilities.Secondary {
		granted[p] = struct{}{}
	}

	r := &Runtime{
		log:            logr.Discard(),
		self:           self,
		capability:     capability,
		spec:           spec,
		kernel:         kernel,
		gw:             gw,
		toolRegistry:   toolRegistry,
		deps:           alwaysSatisfied{},
		clock:          time.Now,
		completedTasks: make(map[string]struct{}),
		retryCounts:    make(map[string]int),
		granted:        granted,
		state:          StateInitializing,
	}
	r.sleep = r.defaultSleep
	for _, opt := range opts {
		opt(r)
	}
	r.startedAt = r.clock()
	return r
}

func (r *Runtime) defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State reports the runtime's current lifecycle state.
func (r *Runtime) State() State { return r.state }

// Terminate requests a graceful shutdown; the next state evaluation drains
// the current step and transitions to Terminated.
func (r *Runtime) Terminate() { r.terminateSignal = true }

// Run drives the state machine until it reaches Completed, Failed, or
// Terminated. It returns nil only on Completed.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, r.runSpan = telemetry.StartAgentRunSpan(ctx, r.spec.Name, int64(r.self))

	for {
		if ctx.Err() != nil || r.terminateSignal {
			r.runTerminated(ctx)
			return ctx.Err()
		}

		switch r.state {
		case StateInitializing:
			r.runInitializing(ctx)
		case StatePlanning:
			r.runPlanning(ctx)
		case StateExecuting:
			r.runExecuting(ctx)
		case StateReportingProgress:
			r.runReportingProgress(ctx)
		case StateAwaitingDependency:
			if err := r.runAwaitingDependency(ctx); err != nil {
				return err
			}
		case StateCompleted:
			r.recordTerminal("Completed")
			return nil
		case StateFailed:
			r.recordTerminal("Failed")
			return fmt.Errorf("agentruntime: agent %q failed: %w", r.spec.Name, r.lastErr)
		case StateTerminated:
			r.recordTerminal("Terminated")
			return context.Canceled
		default:
			return fmt.Errorf("agentruntime: unknown state %q", r.state)
		}
	}
}

func (r *Runtime) submit(ctx context.Context, op types.Operation) (types.KernelEvent, error) {
	return r.kernel.Submit(ctx, types.Message{Origin: r.self, Capability: r.capability, Op: op})
}

func (r *Runtime) runInitializing(ctx context.Context) {
	if r.spec.Name == "" {
		r.fail(fmt.Errorf("agentruntime: spec missing name"))
		return
	}
	if _, err := r.submit(ctx, types.NewEmitObservation(r.self, observationPayload("agent_ready", nil))); err != nil {
		r.fail(fmt.Errorf("agentruntime: announce ready: %w", err))
		return
	}
	r.log.V(1).Info("agent initialized", "agent", r.spec.Name)
	r.state = StatePlanning
}

// selectNextTask returns the highest-priority task name whose dependencies
// are all reported complete, or "" if none is currently runnable.
func (r *Runtime) selectNextTask() (string, bool) {
	bestName := ""
	bestRank := -1
	for name, task := range r.spec.Tasks {
		if _, done := r.completedTasks[name]; done {
			continue
		}
		if !r.dependenciesMet(task) {
			continue
		}
		if rank := task.Priority.Rank(); rank > bestRank {
			bestRank = rank
			bestName = name
		}
	}
	return bestName, bestName != ""
}

func (r *Runtime) dependenciesMet(task types.TaskSpec) bool {
	for dep := range task.DependsOn {
		if !r.deps.IsComplete(dep) {
			return false
		}
	}
	return true
}

func (r *Runtime) allTasksDone() bool {
	return len(r.completedTasks) >= len(r.spec.Tasks)
}

func (r *Runtime) hasBlockedTask() bool {
	for name, task := range r.spec.Tasks {
		if _, done := r.completedTasks[name]; done {
			continue
		}
		if !r.dependenciesMet(task) {
			return true
		}
	}
	return false
}

func (r *Runtime) runPlanning(ctx context.Context) {
	if r.allTasksDone() {
		r.complete(ctx)
		return
	}
	if name, ok := r.selectNextTask(); ok {
		r.currentTask = name
		r.state = StateExecuting
		return
	}
	if r.hasBlockedTask() {
		r.state = StateAwaitingDependency
		return
	}
	// No task is runnable and none is blocked: nothing left to schedule.
	r.complete(ctx)
}

func (r *Runtime) complete(ctx context.Context) {
	if _, err := r.submit(ctx, types.NewEmitObservation(r.self, observationPayload("completed", nil))); err != nil {
		r.fail(fmt.Errorf("agentruntime: announce completion: %w", err))
		return
	}
	r.state = StateCompleted
}

func (r *Runtime) fail(err error) {
	r.lastErr = err
	r.state = StateFailed
}

// recordTerminal emits the run-duration and run-count metrics exactly once
// per runtime, at whichever terminal state Run ultimately reaches.
func (r *Runtime) recordTerminal(state string) {
	if r.terminalRecorded {
		return
	}
	r.terminalRecorded = true
	metrics.RecordAgentRun(r.spec.Name, state, r.clock().Sub(r.startedAt))
	if r.runSpan != nil {
		telemetry.EndAgentRunSpan(r.runSpan, state)
	}
}

// backoffDelay returns the capped exponential delay for the given attempt
// count (0-indexed), used by both Executing's retry loop and
// AwaitingDependency's bounded back-off.
func backoffDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.Reset()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = policy.NextBackOff()
	}
	return d
}

func (r *Runtime) runAwaitingDependency(ctx context.Context) error {
	if err := r.sleep(ctx, backoffDelay(0)); err != nil {
		return err
	}
	r.state = StatePlanning
	return nil
}

func (r *Runtime) runExecuting(ctx context.Context) {
	task := r.spec.Tasks[r.currentTask]

	if _, err := r.submit(ctx, types.NewScheduleAgentTask(r.self, task)); err != nil {
		r.fail(fmt.Errorf("agentruntime: schedule task %q: %w", r.currentTask, err))
		return
	}

	req := r.buildRequest(task)
	llmCtx, llmSpan := telemetry.StartLLMCallSpan(ctx, req.ModelHint, "gateway")
	resp, err := r.gw.Complete(llmCtx, req)
	if err != nil {
		telemetry.EndLLMCallSpan(llmSpan, 0, 0)
		r.handleExecutionError(ctx, err)
		return
	}
	telemetry.EndLLMCallSpan(llmSpan, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	metrics.RecordTokensUsed(r.spec.Name, req.ModelHint, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	payload := observationPayload("task_result", map[string]string{
		"task":    r.currentTask,
		"content": resp.Content,
	})
	if _, err := r.submit(ctx, types.NewEmitObservation(r.self, payload)); err != nil {
		r.fail(fmt.Errorf("agentruntime: emit task result: %w", err))
		return
	}

	r.completedTasks[r.currentTask] = struct{}{}
	delete(r.retryCounts, r.currentTask)
	r.state = StateReportingProgress
}

// isTransient reports whether err is a class of error the retry policy
// should retry (rate limiting, timeouts, upstream 5xx); logic errors like
// sensitive content or capability denial are not retried.
func isTransient(err error) bool {
	if errors.Is(err, types.ErrRateLimited) || errors.Is(err, types.ErrGatewayTimeout) {
		return true
	}
	var provErr *types.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Status >= 500
	}
	return false
}

func (r *Runtime) handleExecutionError(ctx context.Context, err error) {
	if !isTransient(err) {
		r.fail(fmt.Errorf("agentruntime: task %q failed (non-retryable): %w", r.currentTask, err))
		return
	}

	r.retryCounts[r.currentTask]++
	attempt := r.retryCounts[r.currentTask]
	metrics.RecordRetry(r.spec.Name)
	if attempt > defaultRetryBudget {
		r.fail(fmt.Errorf("agentruntime: task %q exhausted retry budget: %w", r.currentTask, err))
		return
	}

	if sleepErr := r.sleep(ctx, backoffDelay(attempt-1)); sleepErr != nil {
		r.fail(fmt.Errorf("agentruntime: retry wait cancelled: %w", sleepErr))
		return
	}
	// Stay in Executing; the next loop iteration retries the same task.
}

func (r *Runtime) buildRequest(task types.TaskSpec) *gateway.Request {
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: r.systemPrompt()},
		{Role: provider.RoleUser, Content: task.Description},
	}
	return &gateway.Request{
		ModelHint: r.spec.Name,
		Messages:  messages,
	}
}

func (r *Runtime) systemPrompt() string {
	prompt := fmt.Sprintf("You are agent %q in domain %q, workstream %q.", r.spec.Name, r.spec.Domain, r.spec.Workstream)
	for _, obj := range r.spec.Objectives {
		prompt += fmt.Sprintf(" Objective: %s (deliverable: %s).", obj.Description, obj.Deliverable)
	}
	return prompt
}

func (r *Runtime) runReportingProgress(ctx context.Context) {
	progress := float64(len(r.completedTasks)) / float64(maxInt(len(r.spec.Tasks), 1))
	payload := observationPayload("progress", map[string]string{
		"completed": fmt.Sprintf("%d", len(r.completedTasks)),
		"total":     fmt.Sprintf("%d", len(r.spec.Tasks)),
		"progress":  fmt.Sprintf("%.2f", progress),
	})
	if _, err := r.submit(ctx, types.NewEmitObservation(r.self, payload)); err != nil {
		r.fail(fmt.Errorf("agentruntime: report progress: %w", err))
		return
	}
	r.lastReportedAt = r.clock()
	r.state = StatePlanning
}

func (r *Runtime) runTerminated(ctx context.Context) {
	if r.state == StateTerminated {
		return
	}
	_, _ = r.submit(ctx, types.NewEmitObservation(r.self, observationPayload("terminated", nil)))
	r.state = StateTerminated
}

// InvokeTool runs a registered tool on the agent's behalf, mediated by a
// capability check against the agent's granted permissions.
func (r *Runtime) InvokeTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	toolCtx, span := telemetry.StartToolCallSpan(ctx, name)
	result, err := r.toolRegistry.ExecuteWithCapabilities(toolCtx, name, args, r.granted)

	outcome := "ok"
	switch {
	case errors.Is(err, types.ErrToolCapabilityDenied):
		outcome = "denied"
	case err != nil:
		outcome = "error"
	}
	metrics.RecordToolInvocation(name, outcome)
	telemetry.EndToolCallSpan(span, outcome)
	return result, err
}

func observationPayload(kind string, fields map[string]string) []byte {
	record := struct {
		Kind   string            `json:"kind"`
		Fields map[string]string `json:"fields,omitempty"`
	}{Kind: kind, Fields: fields}
	data, err := json.Marshal(record)
	if err != nil {
		return []byte(kind)
	}
	return data
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
