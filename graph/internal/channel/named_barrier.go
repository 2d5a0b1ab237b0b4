//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package channel

import (
	"sort"
	"sync"
)

// NamedBarrierValue waits until every name in a fixed set has written to it
// before becoming available. It backs fan-in joins where a node must wait
// for all of a known set of upstream branches, not merely "at least one".
// Each write is expected to carry the name of the branch that produced it.
type NamedBarrierValue struct {
	mu      sync.RWMutex
	names   map[string]struct{}
	seen    map[string]struct{}
	lastSet []string
}

// NewNamedBarrierValue creates a barrier that waits for a write tagged with
// every name in names.
func NewNamedBarrierValue(names []string) *NamedBarrierValue {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &NamedBarrierValue{names: set, seen: make(map[string]struct{})}
}

// Type implements Channel.
func (c *NamedBarrierValue) Type() Type { return TypeNamedBarrierValue }

// Update implements Channel. Each value must be a string naming the branch
// that arrived.
func (c *NamedBarrierValue) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for _, v := range values {
		name, ok := v.(string)
		if !ok {
			return false, ErrInvalidUpdate
		}
		if _, known := c.names[name]; !known {
			continue
		}
		if _, already := c.seen[name]; !already {
			c.seen[name] = struct{}{}
			changed = true
		}
	}
	return changed, nil
}

// Get implements Channel. It returns the sorted list of names seen so far
// once the barrier is complete.
func (c *NamedBarrierValue) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.complete() {
		return nil, ErrEmpty
	}
	out := make([]string, 0, len(c.seen))
	for n := range c.seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Consume implements Channel; the barrier resets so it can be reused by the
// next superstep that targets the same join.
func (c *NamedBarrierValue) Consume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.seen) == 0 {
		return false
	}
	c.seen = make(map[string]struct{})
	return true
}

// Finish implements Channel.
func (c *NamedBarrierValue) Finish(bool) (bool, error) { return false, nil }

// IsAvailable implements Channel.
func (c *NamedBarrierValue) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.complete()
}

func (c *NamedBarrierValue) complete() bool {
	if len(c.names) == 0 {
		return false
	}
	for n := range c.names {
		if _, ok := c.seen[n]; !ok {
			return false
		}
	}
	return true
}

// Checkpoint implements Channel.
func (c *NamedBarrierValue) Checkpoint() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.seen))
	for n := range c.seen {
		out = append(out, n)
	}
	return out, nil
}

// FromCheckpoint implements Channel.
func (c *NamedBarrierValue) FromCheckpoint(value any) (Channel, error) {
	names := make([]string, 0, len(c.names))
	for n := range c.names {
		names = append(names, n)
	}
	out := NewNamedBarrierValue(names)
	if seen, ok := value.([]string); ok {
		for _, n := range seen {
			out.seen[n] = struct{}{}
		}
	} else if seenAny, ok := value.([]any); ok {
		for _, n := range seenAny {
			if s, ok := n.(string); ok {
				out.seen[s] = struct{}{}
			}
		}
	}
	return out, nil
}
