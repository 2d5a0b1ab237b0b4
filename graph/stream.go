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
	"time"
)

// StreamMode selects which kinds of events a run emits on its event
// channel. Multiple modes may be requested together; a run with no modes
// set emits every mode.
type StreamMode string

// Supported stream modes.
const (
	// StreamModeValues emits the full state after every superstep.
	StreamModeValues StreamMode = "values"
	// StreamModeUpdates emits only the per-node state deltas produced
	// during a superstep.
	StreamModeUpdates StreamMode = "updates"
	// StreamModeMessages emits node-level lifecycle notifications
	// (started/completed/errored), one per task.
	StreamModeMessages StreamMode = "messages"
	// StreamModeDebug emits verbose tracing: every channel write, version
	// bump, and interrupt decision.
	StreamModeDebug StreamMode = "debug"
	// StreamModeCustom emits application-defined events a node writes via
	// EmitCustom.
	StreamModeCustom StreamMode = "custom"
)

// StreamEvent is the envelope every run emits on its event channel,
// independent of any particular mode. Consumers filter on Mode.
type StreamEvent struct {
	Mode         StreamMode
	InvocationID string
	Step         int
	NodeID       string
	TaskID       string
	Timestamp    time.Time
	// Data carries the mode-specific payload: State for Values, a State
	// delta for Updates, a NodeLifecycle for Messages, a DebugRecord for
	// Debug, or the node-supplied value for Custom.
	Data any
	// Err is set on error/interrupt notifications.
	Err error
}

// NodeLifecyclePhase distinguishes the three points in a task's life a
// StreamModeMessages event can report.
type NodeLifecyclePhase string

// Supported lifecycle phases.
const (
	NodeLifecycleStarted   NodeLifecyclePhase = "started"
	NodeLifecycleCompleted NodeLifecyclePhase = "completed"
	NodeLifecycleErrored   NodeLifecyclePhase = "errored"
)

// NodeLifecycle is the Data payload of a StreamModeMessages event.
type NodeLifecycle struct {
	Phase NodeLifecyclePhase
	Err   error
}

// DebugRecord is the Data payload of a StreamModeDebug event.
type DebugRecord struct {
	Kind    string
	Channel string
	Version any
	Detail  string
}

// emitter fans a run's events out to a buffered channel, dropping events
// whose mode the caller didn't request. When the buffer is full, emit waits
// for the consumer to read or for the run's context to be cancelled, so a
// slow consumer slows the loop down.
type emitter struct {
	ch    chan *StreamEvent
	modes map[StreamMode]bool
}

// newEmitter creates an emitter delivering only the requested modes over a
// channel buffered to size. An empty modes set accepts every mode.
func newEmitter(size int, modes ...StreamMode) *emitter {
	if size <= 0 {
		size = 256
	}
	m := make(map[StreamMode]bool, len(modes))
	for _, mode := range modes {
		m[mode] = true
	}
	return &emitter{ch: make(chan *StreamEvent, size), modes: m}
}

func (e *emitter) accepts(mode StreamMode) bool {
	if e == nil {
		return false
	}
	if len(e.modes) == 0 {
		return true
	}
	return e.modes[mode]
}

// emit sends evt if its mode is accepted and the emitter isn't closed,
// without blocking past ctx cancellation.
func (e *emitter) emit(ctx context.Context, evt *StreamEvent) {
	if e == nil || !e.accepts(evt.Mode) {
		return
	}
	select {
	case e.ch <- evt:
	case <-ctx.Done():
	}
}

func (e *emitter) events() <-chan *StreamEvent {
	if e == nil {
		return nil
	}
	return e.ch
}

func (e *emitter) close() {
	if e == nil {
		return
	}
	close(e.ch)
}
