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

// LastValueAfterFinish keeps the most recent value written to it, like
// LastValue, but Get returns ErrEmpty until the channel has been marked
// finished. It is used for values that must not be observed by conditional
// routing mid-run, e.g. a final aggregate only meaningful once the graph
// reaches its terminal superstep.
type LastValueAfterFinish struct {
	mu       sync.RWMutex
	value    any
	written  bool
	finished bool
}

// NewLastValueAfterFinish creates an empty LastValueAfterFinish channel.
func NewLastValueAfterFinish() *LastValueAfterFinish {
	return &LastValueAfterFinish{}
}

// Type implements Channel.
func (c *LastValueAfterFinish) Type() Type { return TypeLastValueAfterFinish }

// Update implements Channel.
func (c *LastValueAfterFinish) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	if len(values) > 1 {
		return false, ErrInvalidUpdate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = values[0]
	c.written = true
	return true, nil
}

// Get implements Channel.
func (c *LastValueAfterFinish) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.written || !c.finished {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// Consume implements Channel.
func (c *LastValueAfterFinish) Consume() bool { return false }

// Finish implements Channel.
func (c *LastValueAfterFinish) Finish(finished bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.finished != finished
	c.finished = finished
	return changed, nil
}

// IsAvailable implements Channel.
func (c *LastValueAfterFinish) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.written && c.finished
}

// Checkpoint implements Channel.
func (c *LastValueAfterFinish) Checkpoint() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.written {
		return nil, ErrEmpty
	}
	return map[string]any{"value": c.value, "finished": c.finished}, nil
}

// FromCheckpoint implements Channel.
func (c *LastValueAfterFinish) FromCheckpoint(value any) (Channel, error) {
	out := &LastValueAfterFinish{written: true}
	if m, ok := value.(map[string]any); ok {
		out.value = m["value"]
		if finished, ok := m["finished"].(bool); ok {
			out.finished = finished
		}
		return out, nil
	}
	out.value = value
	return out, nil
}
