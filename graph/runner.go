//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// runnerResult is what a single task produces: either writes to commit, a
// routing Command, an interrupt, or a terminal error. Exactly one of
// Interrupt/Err is non-nil on failure paths.
type runnerResult struct {
	task *Task
	// explicitRoute is true when the node's result named its own next
	// node (a Command.GoTo other than Self), which replaces the static
	// edges' trigger writes rather than supplementing them.
	explicitRoute bool
	command       *Command
	interrupt     *InterruptError
	err           error
}

// taskRunParam is pooled to avoid an allocation per task per superstep,
// following the same ants.PoolWithFunc + sync.Pool pattern used by the
// evaluation service's worker pools.
type taskRunParam struct {
	ctx     context.Context
	runner  *runner
	task    *Task
	results []runnerResult
	idx     int
	wg      *sync.WaitGroup
}

func (p *taskRunParam) reset() {
	p.ctx = nil
	p.runner = nil
	p.task = nil
	p.results = nil
	p.idx = 0
	p.wg = nil
}

var taskRunParamPool = &sync.Pool{New: func() any { return new(taskRunParam) }}

// runner executes a superstep's tasks concurrently, bounded by a worker
// pool, honoring each node's retry policy and three independent
// cancellation signals: the caller's context, an external interrupt
// (WithGraphInterrupt), and a per-run recursion/deadline timeout carried on
// ctx itself.
type runner struct {
	graph       *Graph
	concurrency int
	metrics     *Metrics
}

// newRunner creates a runner bounded to concurrency simultaneous tasks. A
// non-positive concurrency means "unbounded" (one goroutine per task).
// metrics may be nil, in which case the runner records no instrumentation.
func newRunner(g *Graph, concurrency int, metrics *Metrics) *runner {
	return &runner{graph: g, concurrency: concurrency, metrics: metrics}
}

// run executes every task in tasks, returning one runnerResult per task in
// the same order. It returns early with an error only if the worker pool
// itself cannot be constructed; individual task failures are reported
// through each result's Err/Interrupt field instead of aborting the batch,
// so a sibling task's write is never silently dropped because another task
// in the same superstep failed.
func (r *runner) run(ctx context.Context, tasks []*Task) ([]runnerResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	results := make([]runnerResult, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))

	size := r.concurrency
	if size <= 0 || size > len(tasks) {
		size = len(tasks)
	}
	pool, err := ants.NewPoolWithFunc(size, func(args any) {
		param, ok := args.(*taskRunParam)
		if !ok {
			panic("graph runner pool args type error")
		}
		defer func() {
			param.wg.Done()
			param.reset()
			taskRunParamPool.Put(param)
		}()
		param.results[param.idx] = param.runner.runOne(param.ctx, param.task)
	})
	if err != nil {
		return nil, fmt.Errorf("create task runner pool: %w", err)
	}
	defer pool.Release()

	for i, task := range tasks {
		param, _ := taskRunParamPool.Get().(*taskRunParam)
		param.ctx = ctx
		param.runner = r
		param.task = task
		param.results = results
		param.idx = i
		param.wg = &wg
		if err := pool.Invoke(param); err != nil {
			wg.Done()
			results[i] = runnerResult{task: task, err: fmt.Errorf("schedule task: %w", err)}
		}
	}
	wg.Wait()
	return results, nil
}

// runOne executes a single task, applying its node's retry policy on
// transient failures and translating the node function's return value into
// writes, a Command, or an interrupt.
func (r *runner) runOne(ctx context.Context, task *Task) runnerResult {
	node, ok := r.graph.Node(task.NodeID)
	if !ok || node == nil || node.Function == nil {
		return runnerResult{task: task, err: fmt.Errorf("node %q has no function", task.NodeID)}
	}

	policy := node.RetryPolicy
	attempts := 1
	if policy != nil && policy.MaxAttempts > 1 {
		attempts = policy.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			r.metrics.IncrementRetries(task.NodeID, "error")
			if err := sleepBackoff(ctx, policy, attempt); err != nil {
				return runnerResult{task: task, err: err}
			}
		}
		select {
		case <-ctx.Done():
			return runnerResult{task: task, err: ctx.Err()}
		default:
		}

		taskCtx, span := startTaskSpan(ctx, task, attempt)
		start := time.Now()
		result, err := node.Function(taskCtx, task.Input)
		if err == nil {
			endSpan(span, nil)
			r.metrics.ObserveStepLatency(task.NodeID, "success", time.Since(start))
			return translateResult(task, node, result)
		}

		var interruptErr *InterruptError
		if errors.As(err, &interruptErr) {
			endSpan(span, nil)
			r.metrics.ObserveStepLatency(task.NodeID, "interrupt", time.Since(start))
			return runnerResult{task: task, interrupt: interruptErr}
		}
		var graphInterrupt *GraphInterrupt
		if errors.As(err, &graphInterrupt) {
			endSpan(span, nil)
			r.metrics.ObserveStepLatency(task.NodeID, "interrupt", time.Since(start))
			return runnerResult{task: task, interrupt: NewInterruptError(graphInterrupt.Value)}
		}

		endSpan(span, err)
		r.metrics.ObserveStepLatency(task.NodeID, "error", time.Since(start))
		lastErr = err
		if policy != nil && policy.RetryOn != nil && !policy.RetryOn(err) {
			break
		}
	}
	return runnerResult{task: task, err: NewNodeError(task.NodeID, task.ID, lastErr)}
}

// translateResult fills task.Writes with the node's state updates, any
// Sends, and, when the node named an explicit next node via Command.GoTo,
// the single branch write that routes there. It never adds the edge
// routing writes itself: the loop in executor.go appends
// Graph.routeWrites for the node whenever explicitRoute is false, since
// only the executor knows the graph's edges.
func translateResult(task *Task, node *Node, result any) runnerResult {
	switch v := result.(type) {
	case nil:
		return runnerResult{task: task}
	case *Command:
		if v.Update != nil {
			task.Writes = append(task.Writes, stateWrites(v.Update)...)
		}
		for _, s := range v.Sends {
			task.Writes = append(task.Writes, ChannelWrite{Channel: TasksChannel, Value: s})
		}
		explicit := false
		if v.GoTo != "" && v.GoTo != Self {
			task.Writes = append(task.Writes, ChannelWrite{Channel: ChannelBranchPrefix + v.GoTo, Value: v.GoTo})
			explicit = true
		}
		return runnerResult{task: task, command: v, explicitRoute: explicit}
	case State:
		task.Writes = append(task.Writes, stateWrites(v)...)
		return runnerResult{task: task}
	case map[string]any:
		task.Writes = append(task.Writes, stateWrites(State(v))...)
		return runnerResult{task: task}
	default:
		return runnerResult{task: task, err: fmt.Errorf("node %q returned unsupported result type %T", node.ID, result)}
	}
}

func stateWrites(update any) []ChannelWrite {
	var writes []ChannelWrite
	switch m := update.(type) {
	case State:
		for k, v := range m {
			writes = append(writes, ChannelWrite{Channel: k, Value: v})
		}
	case map[string]any:
		for k, v := range m {
			writes = append(writes, ChannelWrite{Channel: k, Value: v})
		}
	}
	return writes
}

func sleepBackoff(ctx context.Context, policy *RetryPolicy, attempt int) error {
	if policy == nil || policy.InitialInterval <= 0 {
		return nil
	}
	delay := policy.InitialInterval
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	for i := 1; i < attempt; i++ {
		delay *= factor
	}
	timer := time.NewTimer(time.Duration(delay * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
