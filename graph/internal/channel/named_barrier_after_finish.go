//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package channel

import "sync"

// NamedBarrierValueAfterFinish behaves like NamedBarrierValue but, in
// addition to requiring every named branch to arrive, only becomes
// available once the channel has been marked finished. It is used for
// barriers gating work that must run strictly after the graph's terminal
// superstep (final fan-in aggregation nodes).
type NamedBarrierValueAfterFinish struct {
	mu       sync.RWMutex
	names    map[string]struct{}
	seen     map[string]struct{}
	finished bool
}

// NewNamedBarrierValueAfterFinish creates a barrier over names that only
// becomes readable after Finish(true).
func NewNamedBarrierValueAfterFinish(names []string) *NamedBarrierValueAfterFinish {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &NamedBarrierValueAfterFinish{names: set, seen: make(map[string]struct{})}
}

// Type implements Channel.
func (c *NamedBarrierValueAfterFinish) Type() Type { return TypeNamedBarrierValueAfterFinish }

// Update implements Channel.
func (c *NamedBarrierValueAfterFinish) Update(values []any) (bool, error) {
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

// Get implements Channel.
func (c *NamedBarrierValueAfterFinish) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.finished || !c.complete() {
		return nil, ErrEmpty
	}
	out := make([]string, 0, len(c.seen))
	for n := range c.seen {
		out = append(out, n)
	}
	return out, nil
}

// Consume implements Channel.
func (c *NamedBarrierValueAfterFinish) Consume() bool { return false }

// Finish implements Channel.
func (c *NamedBarrierValueAfterFinish) Finish(finished bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.finished != finished
	c.finished = finished
	return changed, nil
}

// IsAvailable implements Channel.
func (c *NamedBarrierValueAfterFinish) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finished && c.complete()
}

func (c *NamedBarrierValueAfterFinish) complete() bool {
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
func (c *NamedBarrierValueAfterFinish) Checkpoint() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make([]string, 0, len(c.seen))
	for n := range c.seen {
		seen = append(seen, n)
	}
	return map[string]any{"seen": seen, "finished": c.finished}, nil
}

// FromCheckpoint implements Channel.
func (c *NamedBarrierValueAfterFinish) FromCheckpoint(value any) (Channel, error) {
	names := make([]string, 0, len(c.names))
	for n := range c.names {
		names = append(names, n)
	}
	out := NewNamedBarrierValueAfterFinish(names)
	m, ok := value.(map[string]any)
	if !ok {
		return out, nil
	}
	if finished, ok := m["finished"].(bool); ok {
		out.finished = finished
	}
	switch seen := m["seen"].(type) {
	case []string:
		for _, n := range seen {
			out.seen[n] = struct{}{}
		}
	case []any:
		for _, n := range seen {
			if s, ok := n.(string); ok {
				out.seen[s] = struct{}{}
			}
		}
	}
	return out, nil
}
