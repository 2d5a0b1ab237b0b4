//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package channel implements the Pregel channel data model: the nine
// channel variants used to move values between supersteps and to
// checkpoint them.
package channel

import "errors"

// Errors returned by channel variants.
var (
	// ErrEmpty is returned by Get when a channel has never been updated
	// (or has been consumed and not updated since).
	ErrEmpty = errors.New("channel: empty")
	// ErrInvalidUpdate is returned when a channel receives an update it
	// cannot apply, e.g. more than one value delivered to a LastValue
	// channel within a single step.
	ErrInvalidUpdate = errors.New("channel: invalid update")
)
