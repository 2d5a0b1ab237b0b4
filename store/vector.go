//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package store

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// EmbeddingText renders the dotted fields of value into the text an
// Embedder indexes, joined by newlines in field order. A "$" field embeds
// the whole value as "key: value" pairs in sorted key order.
func EmbeddingText(value map[string]any, fields []string) string {
	if len(fields) == 0 {
		fields = []string{"$"}
	}
	var parts []string
	for _, field := range fields {
		if field == "$" {
			parts = append(parts, wholeValueText(value))
			continue
		}
		if v, ok := dottedLookup(value, field); ok {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return strings.Join(parts, "\n")
}

func wholeValueText(value map[string]any) string {
	keys := make([]string, 0, len(value))
	for k := range value {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, value[k]))
	}
	return strings.Join(parts, "\n")
}

// Similarity scores a against b under dt; higher is always more similar,
// so callers can rank results with a single descending sort regardless of
// which metric is configured.
func Similarity(dt DistanceType, a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrEmbeddingDimMismatch, len(a), len(b))
	}
	switch dt {
	case DistanceL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return -math.Sqrt(sum), nil
	case DistanceIP:
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return sum, nil
	case DistanceCosine, "":
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0, nil
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
	default:
		return 0, fmt.Errorf("store: unsupported distance type %q", dt)
	}
}
