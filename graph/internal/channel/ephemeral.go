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

// EphemeralValue stores the single value of its last Update call until
// Consume clears it. An Update carrying more than one value is rejected with
// ErrInvalidUpdate, and the value is never written to a checkpoint.
type EphemeralValue struct {
	mu        sync.RWMutex
	value     any
	available bool
}

// NewEphemeralValue creates an empty EphemeralValue channel.
func NewEphemeralValue() *EphemeralValue {
	return &EphemeralValue{}
}

// Type implements Channel.
func (c *EphemeralValue) Type() Type { return TypeEphemeralValue }

// Update implements Channel.
func (c *EphemeralValue) Update(values []any) (bool, error) {
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
func (c *EphemeralValue) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// Consume implements Channel.
func (c *EphemeralValue) Consume() bool {
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
func (c *EphemeralValue) Finish(bool) (bool, error) { return false, nil }

// IsAvailable implements Channel.
func (c *EphemeralValue) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Checkpoint implements Channel. Ephemeral channels never persist their
// value across checkpoints: by definition anything they hold belongs to a
// step that has already finished by the time a checkpoint is written.
func (c *EphemeralValue) Checkpoint() (any, error) {
	return nil, ErrEmpty
}

// FromCheckpoint implements Channel.
func (c *EphemeralValue) FromCheckpoint(any) (Channel, error) {
	return &EphemeralValue{}, nil
}
