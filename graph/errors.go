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
	"errors"
	"fmt"
)

// Errors.
var (
	ErrThreadIDRequired                = errors.New("thread_id is required")
	ErrThreadIDEmpty                   = errors.New("thread_id cannot be empty")
	ErrThreadIDAndCheckpointIDRequired = errors.New("thread_id and checkpoint_id are required")
	ErrCheckpointNotFound              = errors.New("checkpoint not found")
	ErrLineageIDRequired               = errors.New("lineage_id is required")

	// ErrChannelEmpty is returned when a channel is read before it has ever
	// been written.
	ErrChannelEmpty = errors.New("channel is empty")
	// ErrInvalidUpdate is returned when a channel receives an update it
	// cannot apply (e.g. more than one value written to a LastValue
	// channel within a single superstep).
	ErrInvalidUpdate = errors.New("invalid channel update")
	// ErrParentCommand is returned when a Command targets a parent graph
	// from a context that has no parent to route to.
	ErrParentCommand = errors.New("command targets parent graph but no parent is available")
	// ErrCancellationAbort is returned when a run is aborted by an
	// external cancellation signal rather than completing or interrupting.
	ErrCancellationAbort = errors.New("graph execution aborted by cancellation")
)

// GraphRecursionError is returned when a run exceeds its configured
// recursion limit (the maximum number of supersteps).
type GraphRecursionError struct {
	Limit int
}

func (e *GraphRecursionError) Error() string {
	return fmt.Sprintf("graph recursion limit (%d) reached without hitting a finish point", e.Limit)
}

// IsGraphRecursionError reports whether err is a *GraphRecursionError.
func IsGraphRecursionError(err error) bool {
	var recErr *GraphRecursionError
	return errors.As(err, &recErr)
}

// NodeError wraps an error raised by a node function with the context
// needed to attribute it to a specific task.
type NodeError struct {
	NodeID string
	TaskID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (task %s) failed: %v", e.NodeID, e.TaskID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// NewNodeError wraps err with the node and task that produced it. Returns
// nil if err is nil.
func NewNodeError(nodeID, taskID string, err error) error {
	if err == nil {
		return nil
	}
	return &NodeError{NodeID: nodeID, TaskID: taskID, Err: err}
}
