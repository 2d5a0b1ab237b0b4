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

// AnyValue stores the last of possibly many values written to it within a
// step, without treating concurrent writers as an error the way LastValue
// does. It is used for channels where any one of several equivalent
// branches may produce the value and the others are redundant (e.g. a
// "done" signal raised by the first of several parallel tasks to finish).
type AnyValue struct {
	mu        sync.RWMutex
	value     any
	available bool
}

// NewAnyValue creates an empty AnyValue channel.
func NewAnyValue() *AnyValue {
	return &AnyValue{}
}

// Type implements Channel.
func (c *AnyValue) Type() Type { return TypeAnyValue }

// Update implements Channel.
func (c *AnyValue) Update(values []any) (bool, error) {
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
func (c *AnyValue) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// Consume implements Channel.
func (c *AnyValue) Consume() bool { return false }

// Finish implements Channel.
func (c *AnyValue) Finish(bool) (bool, error) { return false, nil }

// IsAvailable implements Channel.
func (c *AnyValue) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Checkpoint implements Channel.
func (c *AnyValue) Checkpoint() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// FromCheckpoint implements Channel.
func (c *AnyValue) FromCheckpoint(value any) (Channel, error) {
	return &AnyValue{value: value, available: true}, nil
}
