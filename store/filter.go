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
	"strconv"
	"strings"
)

// Filter is a set of dotted-path clauses ANDed together. Each clause value
// is either a plain value (shorthand for $eq) or an Ops map.
//
//	Filter{"status": "active"}                 // status == "active"
//	Filter{"score": Ops{"$gte": 10}}            // score >= 10
//	Filter{"tags.0": Ops{"$exists": true}}      // tags[0] is present
type Filter map[string]any

// Ops is the set of comparison operators supported within one clause.
// Unknown keys are rejected by Match.
type Ops map[string]any

// Supported operator names.
const (
	OpEq     = "$eq"
	OpNe     = "$ne"
	OpGt     = "$gt"
	OpGte    = "$gte"
	OpLt     = "$lt"
	OpLte    = "$lte"
	OpIn     = "$in"
	OpNin    = "$nin"
	OpExists = "$exists"
)

// Match reports whether value satisfies every clause in f.
func (f Filter) Match(value map[string]any) (bool, error) {
	for path, want := range f {
		ops, isOps := want.(Ops)
		if !isOps {
			ops = Ops{OpEq: want}
		}
		got, exists := dottedLookup(value, path)
		ok, err := matchOps(ops, got, exists)
		if err != nil {
			return false, fmt.Errorf("filter %q: %w", path, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchOps(ops Ops, got any, exists bool) (bool, error) {
	for op, want := range ops {
		var ok bool
		var err error
		switch op {
		case OpEq:
			ok = exists && equalValues(got, want)
		case OpNe:
			ok = !exists || !equalValues(got, want)
		case OpExists:
			wantExists, _ := want.(bool)
			ok = exists == wantExists
		case OpIn:
			ok = exists && containsValue(want, got)
		case OpNin:
			ok = !exists || !containsValue(want, got)
		case OpGt, OpGte, OpLt, OpLte:
			if !exists {
				ok = false
				break
			}
			ok, err = compareOp(op, got, want)
		default:
			return false, fmt.Errorf("unsupported operator %q", op)
		}
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func compareOp(op string, got, want any) (bool, error) {
	gf, ok1 := toFloat(got)
	wf, ok2 := toFloat(want)
	if !ok1 || !ok2 {
		return false, fmt.Errorf("operator %q requires numeric operands, got %T and %T", op, got, want)
	}
	switch op {
	case OpGt:
		return gf > wf, nil
	case OpGte:
		return gf >= wf, nil
	case OpLt:
		return gf < wf, nil
	case OpLte:
		return gf <= wf, nil
	}
	return false, fmt.Errorf("unreachable operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func containsValue(set any, want any) bool {
	items, ok := set.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equalValues(item, want) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// dottedLookup resolves a dotted path ("a.b.0") against a value tree of
// map[string]any / []any, mirroring how JSON decodes into Go.
func dottedLookup(value map[string]any, path string) (any, bool) {
	if path == "$" {
		return value, true
	}
	var cur any = value
	for _, segment := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
