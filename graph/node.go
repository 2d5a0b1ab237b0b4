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
	"fmt"

	"trpc.group/trpc-go/trpc-agent-go/graph/internal/channel"
)

// buildChannels constructs the channel.Manager backing a compiled graph: one
// channel per state field (a BinaryOperatorAggregate when the field has a
// reducer, a LastValue otherwise), one AnyValue branch-trigger channel per
// node (so several static edges firing into the same target within a
// superstep don't race each other out), and the reserved interrupt/resume
// control channels.
func (g *Graph) buildChannels() *channel.Manager {
	mgr := channel.NewManager()

	schema := g.Schema()
	for name, field := range schema.Fields {
		if field.Reducer != nil {
			reducer := field.Reducer
			mgr.Set(name, channel.NewBinaryOperatorAggregate(channel.BinaryOperator(reducer)))
			continue
		}
		mgr.Set(name, channel.NewLastValue())
	}

	for _, nodeID := range g.order {
		mgr.Set(ChannelBranchPrefix+nodeID, channel.NewAnyValue())
	}

	mgr.Set(InterruptChannel, channel.NewLastValue())
	mgr.Set(ResumeChannel, channel.NewLastValue())

	return mgr
}

// triggerWrites returns the ChannelWrite entries that fire every node
// reachable from nodeID's unconditional static edges. End targets are
// dropped: reaching End terminates the run rather than scheduling a task,
// which the loop detects directly from the edge list (see executor.go).
func (g *Graph) triggerWrites(nodeID string) []ChannelWrite {
	var writes []ChannelWrite
	for _, e := range g.Edges(nodeID) {
		if e.To == End {
			continue
		}
		writes = append(writes, ChannelWrite{Channel: ChannelBranchPrefix + e.To, Value: e.To})
	}
	return writes
}

// routeWrites decides which downstream node(s) nodeID's completion should
// trigger. A conditional edge takes priority over static edges: its
// Condition observes state (the node's merged output) and the PathMap
// entry it selects becomes the sole trigger write, exactly as a single
// static edge would, mirroring how only one of a node's possible
// conditional branches fires per superstep. Nodes with neither a
// conditional edge nor static edges (a true sink with no SetFinishPoint)
// simply produce no trigger writes, which the loop's "zero tasks
// scheduled" check already treats as run completion.
func (g *Graph) routeWrites(ctx context.Context, nodeID string, state State) ([]ChannelWrite, error) {
	cond, ok := g.ConditionalEdge(nodeID)
	if !ok {
		return g.triggerWrites(nodeID), nil
	}
	key, err := cond.Condition(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("conditional edge from %q: %w", nodeID, err)
	}
	target, ok := cond.PathMap[key]
	if !ok {
		return nil, fmt.Errorf("conditional edge from %q: no path for key %q", nodeID, key)
	}
	if target == End {
		return nil, nil
	}
	return []ChannelWrite{{Channel: ChannelBranchPrefix + target, Value: target}}, nil
}
