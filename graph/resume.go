//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//

package graph

import (
	"context"
)

// resumeMap returns the per-key resume values stashed in state under
// StateKeyResumeMap, or nil if none were provided for this resume.
func resumeMap(state State) map[string]any {
	raw, exists := state[StateKeyResumeMap]
	if !exists {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

// takeResumeValue looks up a resume value for key, preferring the blanket
// ResumeChannel value (used by Suspend's single-value form) and falling
// back to the per-key resume map. The matched entry is deleted so a second
// call against the same state does not replay it.
func takeResumeValue(state State, key string) (any, bool) {
	if v, exists := state[ResumeChannel]; exists {
		delete(state, ResumeChannel)
		return v, true
	}
	m := resumeMap(state)
	if m == nil {
		return nil, false
	}
	v, exists := m[key]
	if !exists {
		return nil, false
	}
	delete(m, key)
	return v, true
}

// Suspend suspends execution at the current node and returns the provided prompt value.
// On resume, it will return the resume value that was provided.
func Suspend(ctx context.Context, state State, key string, prompt any) (any, error) {
	if resumeValue, ok := takeResumeValue(state, key); ok {
		return resumeValue, nil
	}
	return nil, NewInterrupt(prompt)
}

// ResumeValue extracts a resume value from the state with type safety.
func ResumeValue[T any](ctx context.Context, state State, key string) (T, bool) {
	var zero T

	resumeValue, ok := takeResumeValue(state, key)
	if !ok {
		return zero, false
	}
	typedValue, ok := resumeValue.(T)
	if !ok {
		return zero, false
	}
	return typedValue, true
}

// ResumeValueOrDefault extracts a resume value from the state with a default fallback.
func ResumeValueOrDefault[T any](ctx context.Context, state State, key string, defaultValue T) T {
	if value, ok := ResumeValue[T](ctx, state, key); ok {
		return value
	}
	return defaultValue
}

// HasResumeValue checks if there's a resume value available for the given key.
func HasResumeValue(state State, key string) bool {
	if _, exists := state[ResumeChannel]; exists {
		return true
	}
	m := resumeMap(state)
	if m == nil {
		return false
	}
	_, exists := m[key]
	return exists
}

// ClearResumeValue clears a specific resume value from the state.
func ClearResumeValue(state State, key string) {
	if m := resumeMap(state); m != nil {
		delete(m, key)
	}
}

// ClearAllResumeValues clears all resume values from the state.
func ClearAllResumeValues(state State) {
	delete(state, ResumeChannel)
	delete(state, StateKeyResumeMap)
}
