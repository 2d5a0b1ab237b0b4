//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-agent-go/graph/internal/channel"
	"trpc.group/trpc-go/trpc-agent-go/store"
)

const (
	// AuthorGraphExecutor identifies the executor as the source of
	// lifecycle/debug stream events.
	AuthorGraphExecutor = "graph-executor"

	// DefaultRecursionLimit bounds the number of supersteps a run may
	// take before it is aborted with a GraphRecursionError.
	DefaultRecursionLimit = 100
)

// Executor runs a compiled Graph to completion (or to an interrupt) using
// Pregel-style bulk-synchronous supersteps: prepareNextTasks picks the
// tasks runnable this step, the runner executes them concurrently,
// applyWrites commits their writes, and - if a CheckpointSaver is
// configured - the resulting state is persisted before the next step
// begins.
type Executor struct {
	graph *Graph

	channelBufferSize int
	recursionLimit    int
	concurrency       int
	streamModes       []StreamMode

	checkpointSaver CheckpointSaver
	metrics         *Metrics
	store           store.Store
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithChannelBufferSize sets the buffer size for the stream event channel.
func WithChannelBufferSize(size int) ExecutorOption {
	return func(e *Executor) { e.channelBufferSize = size }
}

// WithRecursionLimit sets the maximum number of supersteps a run may take.
func WithRecursionLimit(limit int) ExecutorOption {
	return func(e *Executor) { e.recursionLimit = limit }
}

// WithConcurrency bounds how many tasks within a single superstep run at
// once. Non-positive means unbounded (one goroutine per runnable task).
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) { e.concurrency = n }
}

// WithCheckpointSaver configures persistence between supersteps. Without
// one, a run executes entirely in memory and cannot be resumed or
// inspected after it returns.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(e *Executor) { e.checkpointSaver = saver }
}

// WithStreamModes selects which StreamEvent kinds Execute emits. Without
// it, every mode is emitted.
func WithStreamModes(modes ...StreamMode) ExecutorOption {
	return func(e *Executor) { e.streamModes = modes }
}

// WithMetrics attaches a Metrics collector, enabling Prometheus
// instrumentation of superstep queue depth, task latency, retries,
// interrupts, and merge conflicts. Without it, Execute/Invoke run with no
// metrics overhead.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithStore attaches a long-term memory Store, reachable by node functions
// through ExecContext(state).Store. Unlike the CheckpointSaver, a Store is
// not scoped to a single thread: it holds facts a node wants to persist
// across runs and threads (user preferences, extracted entities).
func WithStore(s store.Store) ExecutorOption {
	return func(e *Executor) { e.store = s }
}

// NewExecutor compiles-checks g and returns an Executor ready to run it.
func NewExecutor(g *Graph, opts ...ExecutorOption) (*Executor, error) {
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	e := &Executor{
		graph:             g,
		channelBufferSize: 256,
		recursionLimit:    DefaultRecursionLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs the graph from initialState to completion or interrupt,
// streaming events on the returned channel. The channel is closed when the
// run ends; callers that only want the final outcome can drain it and
// check the error sent (if any) via the last StreamEvent's Err.
func (e *Executor) Execute(
	ctx context.Context,
	initialState State,
	invocationID string,
	threadID string,
) (<-chan *StreamEvent, error) {
	em := newEmitter(e.channelBufferSize, e.streamModes...)
	go func() {
		defer em.close()
		if err := e.run(ctx, em, initialState, invocationID, threadID); err != nil {
			em.emit(ctx, &StreamEvent{
				Mode:         StreamModeMessages,
				InvocationID: invocationID,
				Timestamp:    time.Now().UTC(),
				Data:         NodeLifecycle{Phase: NodeLifecycleErrored, Err: err},
				Err:          err,
			})
		}
	}()
	return em.events(), nil
}

// Invoke runs the graph synchronously and returns the final state (or the
// first interrupt/error encountered), without a caller needing to drain a
// stream channel.
func (e *Executor) Invoke(
	ctx context.Context,
	initialState State,
	invocationID string,
	threadID string,
) (State, error) {
	em := newEmitter(1)
	defer em.close()
	var final State
	done := make(chan error, 1)
	go func() {
		done <- e.runCapturing(ctx, em, initialState, invocationID, threadID, &final)
	}()
	go func() {
		for range em.events() {
		}
	}()
	err := <-done
	return final, err
}

func (e *Executor) runCapturing(
	ctx context.Context,
	em *emitter,
	initialState State,
	invocationID, threadID string,
	final *State,
) error {
	state, err := e.runReturningState(ctx, em, initialState, invocationID, threadID)
	*final = state
	return err
}

// run drives Execute's async form.
func (e *Executor) run(ctx context.Context, em *emitter, initialState State, invocationID, threadID string) error {
	_, err := e.runReturningState(ctx, em, initialState, invocationID, threadID)
	return err
}

// runReturningState is the actual Pregel loop: seed channels from
// initialState, then alternate prepareNextTasks / interrupt checks / task
// execution / applyWrites / checkpoint until no tasks remain, an interrupt
// is raised, or the recursion limit is exceeded.
func (e *Executor) runReturningState(
	ctx context.Context,
	em *emitter,
	initialState State,
	invocationID string,
	threadID string,
) (State, error) {
	mgr := e.graph.buildChannels()
	versions := make(map[string]any)
	versionsSeen := make(map[string]map[string]any)

	if initialState != nil {
		for k, v := range initialState {
			if ch, ok := mgr.Get(k); ok {
				if _, err := ch.Update([]any{v}); err == nil {
					versions[k] = nextVersion(versions[k])
				}
			}
		}
	}

	entry := e.graph.EntryPoint()
	entryChannel := ChannelBranchPrefix + entry
	if ch, ok := mgr.Get(entryChannel); ok {
		if _, err := ch.Update([]any{entry}); err == nil {
			versions[entryChannel] = nextVersion(versions[entryChannel])
		}
	}

	return e.loop(ctx, em, mgr, versions, versionsSeen, nil, 0, invocationID, threadID)
}

// ResumeFromCheckpoint continues a previously interrupted run from a saved
// checkpoint tuple instead of seeding fresh channels from an initial state.
// It rebuilds every channel via FromCheckpoint, restores versions and
// versionsSeen verbatim, and resumes pending Sends, so a node already
// marked as seen in the saved checkpoint is not re-triggered merely because
// this is a new process invocation. update, if non-nil, is merged onto the
// restored state before the loop resumes (e.g. a human's response to an
// Interrupt, delivered via the reserved ResumeChannel).
func (e *Executor) ResumeFromCheckpoint(
	ctx context.Context,
	tuple *CheckpointTuple,
	update any,
	invocationID string,
	threadID string,
) (State, error) {
	em := newEmitter(e.channelBufferSize, e.streamModes...)
	defer em.close()
	return e.resumeReturningState(ctx, em, tuple, update, invocationID, threadID)
}

func (e *Executor) resumeReturningState(
	ctx context.Context,
	em *emitter,
	tuple *CheckpointTuple,
	update any,
	invocationID string,
	threadID string,
) (State, error) {
	if tuple == nil || tuple.Checkpoint == nil {
		return nil, fmt.Errorf("resume from checkpoint: nil checkpoint tuple")
	}
	cp := tuple.Checkpoint

	mgr := e.graph.buildChannels()
	for name, raw := range cp.ChannelValues {
		ch, ok := mgr.Get(name)
		if !ok {
			continue
		}
		restored, err := ch.FromCheckpoint(raw)
		if err != nil {
			return nil, fmt.Errorf("restore channel %q: %w", name, err)
		}
		mgr.Set(name, restored)
	}

	versions := cloneVersionMap(cp.ChannelVersions)
	versionsSeen := cloneVersionsSeen(cp.VersionsSeen)

	if update != nil {
		for _, w := range stateWrites(update) {
			ch, ok := mgr.Get(w.Channel)
			if !ok {
				continue
			}
			changed, err := ch.Update([]any{w.Value})
			if err != nil {
				return nil, fmt.Errorf("apply resume update to %q: %w", w.Channel, err)
			}
			if changed {
				versions[w.Channel] = nextVersion(versions[w.Channel])
			}
		}
	}
	if ch, ok := mgr.Get(ResumeChannel); ok && update != nil {
		_, _ = ch.Update([]any{update})
		versions[ResumeChannel] = nextVersion(versions[ResumeChannel])
	}

	startStep := 0
	if meta, err := e.checkpointStep(tuple); err == nil {
		startStep = meta + 1
	}

	return e.loop(ctx, em, mgr, versions, versionsSeen, cp.PendingSends, startStep, invocationID, threadID)
}

// checkpointStep recovers the superstep a checkpoint tuple was written at
// from its metadata, falling back to an error when the metadata (or the
// tuple itself) carries none, so callers can default to resuming at step 0.
func (e *Executor) checkpointStep(tuple *CheckpointTuple) (int, error) {
	if tuple == nil || tuple.Metadata == nil {
		return 0, fmt.Errorf("checkpoint tuple has no metadata")
	}
	return tuple.Metadata.Step, nil
}

// loop is the shared Pregel superstep driver: alternate prepareNextTasks /
// interrupt checks / task execution / applyWrites / checkpoint until no
// tasks remain, an interrupt is raised, or the recursion limit is exceeded.
// Both a fresh run (runReturningState) and a checkpoint resume
// (resumeReturningState) funnel through this, parameterized only by their
// starting (mgr, versions, versionsSeen, pendingSends, step) tuple.
func (e *Executor) loop(
	ctx context.Context,
	em *emitter,
	mgr *channel.Manager,
	versions map[string]any,
	versionsSeen map[string]map[string]any,
	pendingSends []PendingSend,
	startStep int,
	invocationID string,
	threadID string,
) (State, error) {
	execCtx := &ExecutionContext{
		Graph:        e.graph,
		InvocationID: invocationID,
		ThreadID:     threadID,
		Store:        e.store,
	}

	rn := newRunner(e.graph, e.concurrency, e.metrics)
	report := newStepExecutionReport(e.graph.Schema().Fields)

	runCtx, watcher := newExternalInterruptWatcher(ctx, graphInterruptFromContext(ctx))
	defer watcher.stop()

	for step := startStep; ; step++ {
		select {
		case <-runCtx.Done():
			if watcher.forced(runCtx) {
				state, _ := localRead(e.graph, mgr)
				intr := newExternalInterruptError(true)
				e.metrics.IncrementInterrupts("external")
				e.persistInterrupt(ctx, mgr, versions, versionsSeen, threadID, step, intr, report.pendingInputs())
				return state, intr
			}
			return localRead(e.graph, mgr)
		default:
		}

		if watcher.requested() {
			state, _ := localRead(e.graph, mgr)
			intr := newExternalInterruptError(false)
			e.metrics.IncrementInterrupts("external")
			e.persistInterrupt(ctx, mgr, versions, versionsSeen, threadID, step, intr, nil)
			return state, intr
		}

		tasks, err := prepareNextTasks(e.graph, mgr, versions, versionsSeen, pendingSends, threadID, step)
		if err != nil {
			return nil, err
		}
		pendingSends = nil
		if len(tasks) == 0 {
			break
		}
		if step-startStep >= e.recursionLimit {
			return nil, &GraphRecursionError{Limit: e.recursionLimit}
		}

		e.metrics.SetQueueDepth(threadID, len(tasks))
		stepCtx, span := startSuperstepSpan(runCtx, threadID, step, len(tasks))

		execCtx.Step = step
		state, err := localRead(e.graph, mgr)
		if err != nil {
			endSpan(span, err)
			return nil, err
		}
		execCtx.State = state
		for _, task := range tasks {
			if task.Input != nil {
				task.Input[StateKeyExecContext] = execCtx
			}
		}

		if intr := shouldInterrupt(e, execCtx, tasks, step, true); intr != nil {
			e.persistInterrupt(ctx, mgr, versions, versionsSeen, threadID, step, intr, nil)
			endSpan(span, intr)
			return state, intr
		}

		for _, task := range tasks {
			report.recordInput(task, task.Input)
		}

		results, err := rn.run(stepCtx, tasks)
		if err != nil {
			endSpan(span, err)
			return nil, err
		}

		forcedCancel := false
		for _, res := range results {
			if res.err != nil {
				if watcher.forced(stepCtx) && errors.Is(res.err, context.Canceled) {
					// This task was cut short by WithGraphInterruptTimeout,
					// not a genuine node failure: fold it into the forced
					// external interrupt handled below instead of failing
					// the run.
					forcedCancel = true
					continue
				}
				endSpan(span, res.err)
				return nil, res.err
			}
			report.markCompleted(res.task)
			if res.interrupt != nil {
				e.metrics.IncrementInterrupts("dynamic")
				e.persistInterrupt(ctx, mgr, versions, versionsSeen, threadID, step, res.interrupt, nil)
				endSpan(span, res.interrupt)
				return state, res.interrupt
			}
			if !res.explicitRoute {
				routed, err := e.graph.routeWrites(stepCtx, res.task.NodeID, observedState(state, res.task.Writes))
				if err != nil {
					endSpan(span, err)
					return nil, err
				}
				res.task.Writes = append(res.task.Writes, routed...)
			}
			em.emit(ctx, &StreamEvent{
				Mode:         StreamModeMessages,
				InvocationID: invocationID,
				Step:         step,
				NodeID:       res.task.NodeID,
				TaskID:       res.task.ID,
				Timestamp:    time.Now().UTC(),
				Data:         NodeLifecycle{Phase: NodeLifecycleCompleted},
			})
		}

		if forcedCancel {
			intr := newExternalInterruptError(true)
			e.metrics.IncrementInterrupts("external")
			e.persistInterrupt(ctx, mgr, versions, versionsSeen, threadID, step, intr, report.pendingInputs())
			endSpan(span, intr)
			return state, intr
		}

		touched, newSends, err := applyWrites(mgr, versions, versionsSeen, tasksOf(results))
		if err != nil {
			if conflict, ok := err.(*NodeError); ok {
				e.metrics.IncrementMergeConflicts(conflict.NodeID)
			}
			endSpan(span, err)
			return nil, err
		}
		pendingSends = append(pendingSends, newSends...)

		if intr := shouldInterrupt(e, execCtx, tasks, step, false); intr != nil {
			e.persistInterrupt(ctx, mgr, versions, versionsSeen, threadID, step, intr, nil)
			endSpan(span, intr)
			return state, intr
		}

		newState, err := localRead(e.graph, mgr)
		if err != nil {
			endSpan(span, err)
			return nil, err
		}
		em.emit(ctx, &StreamEvent{
			Mode:         StreamModeValues,
			InvocationID: invocationID,
			Step:         step,
			Timestamp:    time.Now().UTC(),
			Data:         newState,
		})
		em.emit(ctx, &StreamEvent{
			Mode:         StreamModeUpdates,
			InvocationID: invocationID,
			Step:         step,
			Timestamp:    time.Now().UTC(),
			Data:         touched,
		})

		if e.checkpointSaver != nil {
			if err := e.checkpoint(ctx, mgr, versions, versionsSeen, pendingSends, threadID, step, CheckpointSourceLoop, nil); err != nil {
				endSpan(span, err)
				return nil, err
			}
		}
		endSpan(span, nil)
	}

	return localRead(e.graph, mgr)
}

// observedState layers a task's own writes onto the state it was given as
// input, so a conditional edge's Condition function sees the node's output
// rather than the state from before it ran. Control writes (branch/tasks
// channels) are skipped; only schema-field writes are visible as state.
func observedState(base State, writes []ChannelWrite) State {
	out := base.Clone()
	for _, w := range writes {
		if w.Channel == TasksChannel || isInternalChannel(w.Channel) {
			continue
		}
		out[w.Channel] = w.Value
	}
	return out
}

func isInternalChannel(name string) bool {
	if strings.HasPrefix(name, ChannelBranchPrefix) {
		return true
	}
	switch name {
	case InterruptChannel, ResumeChannel, ErrorChannel, ScheduledChannel, TasksChannel:
		return true
	default:
		return false
	}
}

func tasksOf(results []runnerResult) []*Task {
	out := make([]*Task, 0, len(results))
	for _, r := range results {
		out = append(out, r.task)
	}
	return out
}

// checkpoint snapshots every channel into a Checkpoint and persists it via
// the configured saver. extra, when non-nil, is merged onto the checkpoint
// metadata's Extra map (e.g. CheckpointMetaKeyGraphInterruptInputs).
func (e *Executor) checkpoint(
	ctx context.Context,
	mgr *channel.Manager,
	versions map[string]any,
	versionsSeen map[string]map[string]any,
	pendingSends []PendingSend,
	threadID string,
	step int,
	source string,
	extra map[string]any,
) error {
	if e.checkpointSaver == nil {
		return nil
	}
	values := make(map[string]any)
	for _, name := range mgr.Names() {
		ch, ok := mgr.Get(name)
		if !ok {
			continue
		}
		v, err := ch.Checkpoint()
		if err != nil {
			continue
		}
		values[name] = v
	}
	cp := NewCheckpoint(values, cloneVersionMap(versions), cloneVersionsSeen(versionsSeen))
	cp.PendingSends = pendingSends
	meta := NewCheckpointMetadata(source, step)
	for k, v := range extra {
		meta.Extra[k] = v
	}
	cfg := NewCheckpointConfig(threadID).ToMap()
	_, err := e.checkpointSaver.Put(ctx, PutRequest{
		Config:      cfg,
		Checkpoint:  cp,
		Metadata:    meta,
		NewVersions: versions,
	})
	return err
}

// persistInterrupt writes the interrupt payload onto the reserved
// InterruptChannel before checkpointing, so IsInterrupted/GetInterruptValue
// can read it back from the saved checkpoint. pendingInputs, when non-empty,
// is attached under CheckpointMetaKeyGraphInterruptInputs so a forced
// external interrupt records which nodes were still in flight.
func (e *Executor) persistInterrupt(
	ctx context.Context,
	mgr *channel.Manager,
	versions map[string]any,
	versionsSeen map[string]map[string]any,
	threadID string,
	step int,
	intr *InterruptError,
	pendingInputs map[string]State,
) {
	if ch, ok := mgr.Get(InterruptChannel); ok {
		_, _ = ch.Update([]any{intr.Value})
		versions[InterruptChannel] = nextVersion(versions[InterruptChannel])
	}
	if e.checkpointSaver == nil {
		return
	}
	var extra map[string]any
	if len(pendingInputs) > 0 {
		extra = map[string]any{CheckpointMetaKeyGraphInterruptInputs: pendingInputs}
	}
	_ = e.checkpoint(ctx, mgr, versions, versionsSeen, nil, threadID, step, CheckpointSourceInterrupt, extra)
}

func cloneVersionMap(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func cloneVersionsSeen(v map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(v))
	for k, val := range v {
		out[k] = cloneVersionMap(val)
	}
	return out
}

// restoreStateFromCheckpoint rebuilds a State from a saved checkpoint tuple,
// dropping internal wiring keys, for use by TimeTravel.GetState.
func (e *Executor) restoreStateFromCheckpoint(tuple *CheckpointTuple) State {
	if tuple == nil || tuple.Checkpoint == nil {
		return nil
	}
	state := make(State, len(tuple.Checkpoint.ChannelValues))
	for k, v := range tuple.Checkpoint.ChannelValues {
		if isInternalStateKey(k) {
			continue
		}
		state[k] = v
	}
	return state
}

// restoreCheckpointValueWithSchema coerces a raw checkpoint value back into
// the Go type implied by field, used when TimeTravel.EditState patches a
// value that round-tripped through JSON as e.g. float64 instead of int.
func (e *Executor) restoreCheckpointValueWithSchema(value any, field StateField) any {
	if field.Type == nil {
		return value
	}
	if f, ok := value.(float64); ok {
		switch field.Type.Kind().String() {
		case "int", "int32", "int64":
			return int(f)
		}
	}
	return value
}
