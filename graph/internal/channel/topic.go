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

// Topic accumulates every value written to it since it was last consumed.
// It is the fan-in channel for nodes that want to observe every write made
// by their upstream triggers in a step, e.g. message lists.
//
// When ResetOnConsume is true the accumulated values are cleared the next
// time the channel is updated after a Consume call (the classic "topic"
// semantics used for per-step scratch channels); otherwise values persist
// across steps until explicitly cleared.
type Topic struct {
	mu             sync.RWMutex
	values         []any
	resetOnConsume bool
	consumed       bool
}

// NewTopic creates an empty Topic channel. When resetOnConsume is true the
// channel drops its history the first time it is updated after a Consume.
func NewTopic(resetOnConsume bool) *Topic {
	return &Topic{resetOnConsume: resetOnConsume}
}

// Type implements Channel.
func (c *Topic) Type() Type { return TypeTopic }

// Update implements Channel.
func (c *Topic) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resetOnConsume && c.consumed {
		c.values = nil
		c.consumed = false
	}
	c.values = append(c.values, values...)
	return true, nil
}

// Get implements Channel.
func (c *Topic) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.values) == 0 {
		return nil, ErrEmpty
	}
	out := make([]any, len(c.values))
	copy(out, c.values)
	return out, nil
}

// Consume implements Channel.
func (c *Topic) Consume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resetOnConsume {
		return false
	}
	c.consumed = true
	return true
}

// Finish implements Channel.
func (c *Topic) Finish(bool) (bool, error) { return false, nil }

// IsAvailable implements Channel.
func (c *Topic) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values) > 0
}

// Checkpoint implements Channel.
func (c *Topic) Checkpoint() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]any, len(c.values))
	copy(out, c.values)
	return out, nil
}

// FromCheckpoint implements Channel.
func (c *Topic) FromCheckpoint(value any) (Channel, error) {
	out := &Topic{resetOnConsume: c.resetOnConsume}
	if values, ok := value.([]any); ok {
		out.values = append(out.values, values...)
	}
	return out, nil
}
