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
	"sort"

	"trpc.group/trpc-go/trpc-agent-go/graph/internal/channel"
	"trpc.group/trpc-go/trpc-agent-go/store"
)

// ExecutionContext carries the state shared by every task within a single
// run of the loop. It is stored under StateKeyExecContext so node closures
// that only receive a State can still reach the ambient callbacks and
// identifiers of the run that invoked them.
type ExecutionContext struct {
	// Graph is the compiled graph being executed.
	Graph *Graph
	// State is the authoritative, merged state as of the last completed
	// superstep. Node functions observe a private copy; writes flow back
	// through channel updates, never through direct mutation of this map.
	State State
	// InvocationID identifies this run for logging, tracing and events.
	InvocationID string
	// ThreadID identifies the checkpoint lineage this run persists to.
	ThreadID string
	// Step is the superstep currently executing.
	Step int
	// Store is the long-term memory surface configured on the Executor via
	// WithStore, or nil when none was configured. Unlike State, it is not
	// scoped to ThreadID: nodes use it for facts that should survive and be
	// shared across threads (user preferences, extracted entities).
	Store store.Store
}

// ExecContext extracts the *ExecutionContext a running node was invoked
// under from its state, for node functions that only receive a State and
// need to reach the ambient Store or run identifiers. Returns nil if state
// carries none (e.g. called outside of Executor.loop).
func ExecContext(state State) *ExecutionContext {
	if state == nil {
		return nil
	}
	execCtx, _ := state[StateKeyExecContext].(*ExecutionContext)
	return execCtx
}

// ChannelWrite is a single (channel, value) pair produced by a task. A task
// produces one write per state field it updates, plus control writes such
// as a PUSH to TasksChannel for a Send, or to a branch channel to trigger a
// downstream node.
type ChannelWrite struct {
	Channel string
	Value   any
}

// Send represents a message pushed to a node outside the static edge set,
// as returned from a Command.Update value implementing this behavior. It
// mirrors Pregel's PUSH task kind: the target node runs once per Send, with
// Value as its triggering input, regardless of the static graph topology.
type Send struct {
	Node  string
	Value any
}

// Task is one unit of work scheduled for a superstep: a single node
// invocation with the input state it should observe and the writes it
// produced once it completes.
type Task struct {
	// ID is a deterministic identifier derived from the thread, step,
	// node, and trigger path, so retries and resumed runs reproduce the
	// same ID for the same logical unit of work.
	ID string
	// NodeID is the node this task executes.
	NodeID string
	// Input is the state snapshot the node observes.
	Input State
	// Triggers lists the channels whose update caused this task to run.
	Triggers []string
	// Path records how this task was reached (PULL from static edges, or
	// PUSH from a Send), used for deterministic ID generation and replay.
	Path []string
	// Writes accumulates the channel writes produced by running the task.
	Writes []ChannelWrite
}

func (t *Task) deepCopyInput(fields map[string]StateField) State {
	if t == nil || t.Input == nil {
		return nil
	}
	return t.Input.deepCopy(false, fields)
}

// prepareNextTasks inspects the channel manager's versions against what
// each node has already seen and returns the set of tasks runnable in the
// next superstep: PULL tasks for nodes whose trigger channel advanced past
// the version last recorded in versionsSeen, plus one PUSH task per pending
// Send queued on TasksChannel.
func prepareNextTasks(
	g *Graph,
	mgr *channel.Manager,
	versions map[string]any,
	versionsSeen map[string]map[string]any,
	pendingSends []PendingSend,
	threadID string,
	step int,
) ([]*Task, error) {
	var tasks []*Task

	nodeIDs := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		triggerChannel := ChannelBranchPrefix + nodeID
		ch, ok := mgr.Get(triggerChannel)
		if !ok || !ch.IsAvailable() {
			continue
		}
		version := versions[triggerChannel]
		if seen := versionsSeen[nodeID]; seen != nil {
			if sv, ok := seen[triggerChannel]; ok && versionGTE(sv, version) {
				continue
			}
		}
		input, err := localRead(g, mgr)
		if err != nil {
			return nil, err
		}
		task := &Task{
			ID:       deterministicTaskID(threadID, step, nodeID, []string{triggerChannel}),
			NodeID:   nodeID,
			Input:    input,
			Triggers: []string{triggerChannel},
			Path:     []string{string(TaskPathPull), nodeID},
		}
		tasks = append(tasks, task)
	}

	for i, send := range pendingSends {
		input, err := localRead(g, mgr)
		if err != nil {
			return nil, err
		}
		if input == nil {
			input = make(State)
		}
		input[StateKeySendValue] = send.Value
		task := &Task{
			ID:       deterministicTaskID(threadID, step, send.Channel, []string{TasksChannel, itoa(i)}),
			NodeID:   send.Channel,
			Input:    input,
			Triggers: []string{TasksChannel},
			Path:     []string{string(TaskPathPush), send.Channel},
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// TaskPathKind distinguishes how a task entered the schedule.
type TaskPathKind string

const (
	// TaskPathPull marks a task scheduled because a static edge's trigger
	// channel advanced.
	TaskPathPull TaskPathKind = "pull"
	// TaskPathPush marks a task scheduled from a Send.
	TaskPathPush TaskPathKind = "push"
)

// StateKeySendValue is the key under which a PUSH task's Send.Value is
// exposed to the node function that handles it.
const StateKeySendValue = "__send_value__"

// localRead materializes the current State by reading every channel the
// schema knows about, falling back to the field's default when the channel
// has never been written.
func localRead(g *Graph, mgr *channel.Manager) (State, error) {
	schema := g.Schema()
	state := make(State, len(schema.Fields))
	for name, field := range schema.Fields {
		ch, ok := mgr.Get(name)
		if !ok {
			if field.Default != nil {
				state[name] = field.Default()
			}
			continue
		}
		if !ch.IsAvailable() {
			if field.Default != nil {
				state[name] = field.Default()
			}
			continue
		}
		v, err := ch.Get()
		if err != nil {
			if err == channel.ErrEmpty {
				continue
			}
			return nil, err
		}
		state[name] = v
	}
	return state, nil
}

// applyWrites commits every task's accumulated writes to the channel
// manager, advances each written channel's version, and records for each
// task's node the versions its triggers had at the start of the superstep
// (so a trigger written during this step, by any task, fires the node again
// in the next one). Writes targeting TasksChannel are
// PUSH requests (Send): they bypass the channel manager entirely and are
// returned as pending sends for the next superstep's prepareNextTasks,
// mirroring how PendingSends is persisted on Checkpoint rather than as
// channel state. It returns the channels touched this superstep and the
// accumulated pending sends.
func applyWrites(
	mgr *channel.Manager,
	versions map[string]any,
	versionsSeen map[string]map[string]any,
	tasks []*Task,
) ([]string, []PendingSend, error) {
	touched := make(map[string]struct{})
	var pendingSends []PendingSend
	start := cloneVersionMap(versions)
	for _, task := range tasks {
		for _, w := range task.Writes {
			if w.Channel == TasksChannel {
				if send, ok := w.Value.(Send); ok {
					pendingSends = append(pendingSends, PendingSend{
						Channel: send.Node,
						Value:   send.Value,
						TaskID:  task.ID,
					})
				}
				continue
			}
			ch, ok := mgr.Get(w.Channel)
			if !ok {
				continue
			}
			changed, err := ch.Update([]any{w.Value})
			if err != nil {
				return nil, nil, NewNodeError(task.NodeID, task.ID, err)
			}
			if changed {
				touched[w.Channel] = struct{}{}
				versions[w.Channel] = nextVersion(versions[w.Channel])
			}
		}
		seen := versionsSeen[task.NodeID]
		if seen == nil {
			seen = make(map[string]any)
			versionsSeen[task.NodeID] = seen
		}
		for _, trigger := range task.Triggers {
			seen[trigger] = start[trigger]
		}
	}
	out := make([]string, 0, len(touched))
	for k := range touched {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, pendingSends, nil
}

// shouldInterrupt decides whether the loop must pause before or after
// running tasks, delegating to the executor's static/external interrupt
// checks. It exists as a seam so the loop's control flow reads as a
// sequence of pure decisions rather than inline branching.
func shouldInterrupt(
	e *Executor,
	execCtx *ExecutionContext,
	tasks []*Task,
	step int,
	before bool,
) *InterruptError {
	if before {
		return e.maybeStaticInterruptBefore(execCtx, tasks, step)
	}
	return e.maybeStaticInterruptAfter(tasks, step)
}

func versionGTE(seen, current any) bool {
	s, sok := toInt(seen)
	c, cok := toInt(current)
	if !sok || !cok {
		return false
	}
	return s >= c
}

func nextVersion(v any) any {
	n, ok := toInt(v)
	if !ok {
		return DefaultChannelVersion
	}
	return n + 1
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
