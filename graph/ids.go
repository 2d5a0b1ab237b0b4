//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// taskNamespace is the fixed namespace UUID deterministic task IDs are
// derived from. Any valid UUID works as long as it never changes, since
// changing it would change every task ID produced by a prior run.
var taskNamespace = uuid.MustParse("5e5e5e5e-0000-4000-8000-000000000001")

// deterministicTaskID derives a stable task ID from the thread, the
// superstep, the node, and the channels that triggered it. The same
// (thread, step, node, triggers) tuple always yields the same ID, so a
// resumed or retried run reconstructs identical task identities instead of
// minting fresh ones - this is what lets PutWrites dedupe a task's writes
// across a retry.
func deterministicTaskID(threadID string, step int, nodeID string, triggers []string) string {
	parts := make([]string, 0, len(triggers)+3)
	parts = append(parts, threadID, strconv.Itoa(step), nodeID)
	parts = append(parts, triggers...)
	name := strings.Join(parts, "|")
	return uuid.NewSHA1(taskNamespace, []byte(name)).String()
}
