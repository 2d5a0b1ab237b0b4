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

// LastValue keeps the single most recent value written to it. A step that
// writes more than one value to a LastValue channel is a programmer error
// (two nodes wrote to the same non-fan-in channel in the same step) and is
// rejected with ErrInvalidUpdate.
type LastValue struct {
	mu        sync.RWMutex
	value     any
	available bool
}

// NewLastValue creates an empty LastValue channel.
func NewLastValue() *LastValue {
	return &LastValue{}
}

// Type implements Channel.
func (c *LastValue) Type() Type { return TypeLastValue }

// Update implements Channel.
func (c *LastValue) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	if len(values) > 1 {
		return false, ErrInvalidUpdate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = values[0]
	c.available = true
	return true, nil
}

// Get implements Channel.
func (c *LastValue) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// Consume implements Channel. LastValue survives consumption.
func (c *LastValue) Consume() bool { return false }

// Finish implements Channel. LastValue ignores finish notifications.
func (c *LastValue) Finish(bool) (bool, error) { return false, nil }

// IsAvailable implements Channel.
func (c *LastValue) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Checkpoint implements Channel.
func (c *LastValue) Checkpoint() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// FromCheckpoint implements Channel.
func (c *LastValue) FromCheckpoint(value any) (Channel, error) {
	return &LastValue{value: value, available: true}, nil
}
