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

// UntrackedValue keeps the last value written to it (an Update may carry
// several values; the last one wins) until Consume clears it, and is
// invisible to the checkpointing system: its Checkpoint call always reports
// ErrEmpty and it is never restored from a saved checkpoint. It backs transient control
// channels, such as the reserved push-task queue, whose contents are only
// meaningful within the superstep that produced them and must never leak
// into a resumed run.
type UntrackedValue struct {
	mu        sync.RWMutex
	value     any
	available bool
}

// NewUntrackedValue creates an empty UntrackedValue channel.
func NewUntrackedValue() *UntrackedValue {
	return &UntrackedValue{}
}

// Type implements Channel.
func (c *UntrackedValue) Type() Type { return TypeUntrackedValue }

// Update implements Channel.
func (c *UntrackedValue) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = values[len(values)-1]
	c.available = true
	return true, nil
}

// Get implements Channel.
func (c *UntrackedValue) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// Consume implements Channel.
func (c *UntrackedValue) Consume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.available {
		return false
	}
	c.value = nil
	c.available = false
	return true
}

// Finish implements Channel.
func (c *UntrackedValue) Finish(bool) (bool, error) { return false, nil }

// IsAvailable implements Channel.
func (c *UntrackedValue) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Checkpoint implements Channel. Untracked channels never persist.
func (c *UntrackedValue) Checkpoint() (any, error) {
	return nil, ErrEmpty
}

// FromCheckpoint implements Channel.
func (c *UntrackedValue) FromCheckpoint(any) (Channel, error) {
	return &UntrackedValue{}, nil
}
