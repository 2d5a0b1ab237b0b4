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

// BinaryOperator folds a new value into an existing aggregate.
type BinaryOperator func(existing, update any) any

// BinaryOperatorAggregate keeps a running aggregate of every value written
// to it, folded with a user-supplied associative operator (sum, max,
// append, set-union, ...). Unlike Topic it never exposes the individual
// writes, only the current fold.
type BinaryOperatorAggregate struct {
	mu        sync.RWMutex
	op        BinaryOperator
	value     any
	available bool
}

// NewBinaryOperatorAggregate creates an aggregate channel using op to fold
// writes. op must be associative so that write order within a step does
// not change the result in the presence of concurrent task ordering.
func NewBinaryOperatorAggregate(op BinaryOperator) *BinaryOperatorAggregate {
	return &BinaryOperatorAggregate{op: op}
}

// Type implements Channel.
func (c *BinaryOperatorAggregate) Type() Type { return TypeBinaryOperatorAggregate }

// Update implements Channel.
func (c *BinaryOperatorAggregate) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	if c.op == nil {
		return false, ErrInvalidUpdate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range values {
		if !c.available {
			c.value = v
			c.available = true
			continue
		}
		c.value = c.op(c.value, v)
	}
	return true, nil
}

// Get implements Channel.
func (c *BinaryOperatorAggregate) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// Consume implements Channel.
func (c *BinaryOperatorAggregate) Consume() bool { return false }

// Finish implements Channel.
func (c *BinaryOperatorAggregate) Finish(bool) (bool, error) { return false, nil }

// IsAvailable implements Channel.
func (c *BinaryOperatorAggregate) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Checkpoint implements Channel.
func (c *BinaryOperatorAggregate) Checkpoint() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// FromCheckpoint implements Channel.
func (c *BinaryOperatorAggregate) FromCheckpoint(value any) (Channel, error) {
	return &BinaryOperatorAggregate{op: c.op, value: value, available: true}, nil
}
