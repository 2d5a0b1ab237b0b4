//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package graph implements a Pregel-style, bulk-synchronous-parallel graph
// execution engine: a fixed set of nodes communicate exclusively through
// named channels, execution proceeds in discrete supersteps, and progress
// is checkpointed between supersteps so a run can be paused, inspected, and
// resumed - including by a human reviewing an interrupted run.
package graph

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Reserved node names, used as sentinels in edges and path maps.
const (
	// Start is the virtual node every entry edge originates from.
	Start = "__start__"
	// End is the virtual node every finish edge terminates at.
	End = "__end__"
	// Self lets a node route back to itself from a Command.
	Self = "__self__"
	// Previous refers to the node that produced the task currently
	// executing, used by PUSH tasks created via Send/call.
	Previous = "__previous__"
)

// State is the map of named values that flows between nodes. Each key
// corresponds to a channel; how concurrent writes to a key are combined is
// governed by that channel's variant (see internal/channel).
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// deepCopy returns a JSON-safe deep copy of the state. Keys considered
// internal wiring (isInternalStateKey) are dropped unless includeInternal is
// true; fields is the schema used to decide which reducer-bearing keys need
// custom copy handling (currently unused beyond presence checks, reserved
// for reducer-aware cloning of non-JSON-safe values).
func (s State) deepCopy(includeInternal bool, fields map[string]StateField) State {
	out := make(State, len(s))
	for k, v := range s {
		if !includeInternal && isInternalStateKey(k) {
			continue
		}
		out[k] = deepCopy(v)
	}
	return out
}

// NodeFunc is the function a graph node executes. It receives the current
// state and returns either a State (a partial update merged via the
// schema's reducers), a *Command (an update plus explicit routing), or nil.
type NodeFunc func(ctx context.Context, state State) (any, error)

// ConditionalFunc inspects state and returns the key used to look up the
// next node in a ConditionalEdge's path map.
type ConditionalFunc func(ctx context.Context, state State) (string, error)

// ConditionFunc is an alias of ConditionalFunc kept for call sites that
// predate path-map based conditional routing.
type ConditionFunc = ConditionalFunc

// RetryPolicy configures how many times, and with what backoff, a node's
// task is retried after a transient failure.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval float64
	// BackoffFactor multiplies InitialInterval after each retry.
	BackoffFactor float64
	// RetryOn reports whether err should be retried; nil retries every
	// error.
	RetryOn func(err error) bool
}

// CachePolicy configures node-level memoization of task results.
type CachePolicy struct {
	// KeyFunc derives a cache key from a node's input state. Tasks with
	// the same key and the same node skip re-execution within TTL.
	KeyFunc func(state State) (string, error)
	// TTLSeconds is how long a cached result remains valid; zero means
	// indefinitely.
	TTLSeconds int64
}

// Node is a single unit of work in the graph: a name, the function it
// executes, which channels trigger it and which it may write to, and the
// policies governing its retries, caching, and interruption.
type Node struct {
	ID          string
	Name        string
	Description string
	Function    NodeFunc

	// Triggers lists the channel names whose update makes this node
	// runnable in prepareNextTasks. An empty Triggers list is populated
	// from the graph's edges/conditional edges at Compile time.
	Triggers []string
	// Writers lists the channel names this node is allowed to write to,
	// beyond the implicit per-node trigger/branch channels wired by
	// edges. Used for Command.Update validation.
	Writers []string

	RetryPolicy *RetryPolicy
	CachePolicy *CachePolicy

	Tags     []string
	Metadata map[string]any

	// Subgraph, when set, makes this node a nested graph executed as a
	// single Pregel task; Ends restricts which of the subgraph's
	// finish points are reachable from here.
	Subgraph *Graph
	Ends     []string

	interruptBefore bool
	interruptAfter  bool
}

// WithInterruptBefore marks the node to interrupt before it runs.
func WithInterruptBefore() Option {
	return func(n *Node) { n.interruptBefore = true }
}

// WithInterruptAfter marks the node to interrupt after it runs.
func WithInterruptAfter() Option {
	return func(n *Node) { n.interruptAfter = true }
}

// WithRetryPolicy attaches a retry policy to the node.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(n *Node) { n.RetryPolicy = &policy }
}

// WithCachePolicy attaches a cache policy to the node.
func WithCachePolicy(policy CachePolicy) Option {
	return func(n *Node) { n.CachePolicy = &policy }
}

// WithTags attaches tags to the node, surfaced in debug stream events.
func WithTags(tags ...string) Option {
	return func(n *Node) { n.Tags = append(n.Tags, tags...) }
}

// WithMetadata attaches metadata to the node.
func WithMetadata(metadata map[string]any) Option {
	return func(n *Node) { n.Metadata = metadata }
}

// Edge is an unconditional transition from one node to another.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes from one node to one of several possible
// destinations, chosen by evaluating Condition against the state after the
// source node ran.
type ConditionalEdge struct {
	From      string
	Condition ConditionalFunc
	PathMap   map[string]string
}

// Command lets a node combine a state update with explicit routing in a
// single return value, bypassing the graph's static edges for this step.
type Command struct {
	// Update is merged into state via the schema's reducers, exactly as
	// if the node had returned a State.
	Update any
	// GoTo names the next node (or Start/End/Self) to run.
	GoTo string
	// Graph optionally names a parent/sibling graph namespace the
	// command's GoTo is resolved against. Empty means "this graph".
	Graph string
	// Resume makes the command resumable later if it interrupts.
	Resume any
	// Sends queues PUSH tasks (see Send) to run in the next superstep,
	// independent of GoTo/the static edge set.
	Sends []Send
}

// Graph is an immutable, compiled description of a Pregel program: nodes,
// the channels backing the state schema, and the edges wiring them
// together.
type Graph struct {
	mu sync.RWMutex

	schema *StateSchema

	nodes            map[string]*Node
	edges            map[string][]*Edge
	conditionalEdges map[string]*ConditionalEdge

	entryPoint    string
	finishPoints  map[string]bool
	order         []string // node IDs in insertion order, for deterministic iteration
}

// New creates an empty graph bound to schema.
func New(schema *StateSchema) *Graph {
	if schema == nil {
		schema = NewStateSchema()
	}
	return &Graph{
		schema:           schema,
		nodes:            make(map[string]*Node),
		edges:            make(map[string][]*Edge),
		conditionalEdges: make(map[string]*ConditionalEdge),
		finishPoints:     make(map[string]bool),
	}
}

// Schema returns the graph's state schema.
func (g *Graph) Schema() *StateSchema {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.schema
}

// addNode registers a node, rejecting duplicate IDs.
func (g *Graph) addNode(node *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node.ID == "" {
		return fmt.Errorf("graph: node ID cannot be empty")
	}
	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("graph: node %q already exists", node.ID)
	}
	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	return nil
}

// addEdge registers an unconditional edge.
func (g *Graph) addEdge(edge *Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if edge.From == "" || edge.To == "" {
		return fmt.Errorf("graph: edge from/to cannot be empty")
	}
	g.edges[edge.From] = append(g.edges[edge.From], edge)
	return nil
}

// addConditionalEdge registers conditional routing from a node.
func (g *Graph) addConditionalEdge(edge *ConditionalEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if edge.From == "" {
		return fmt.Errorf("graph: conditional edge from cannot be empty")
	}
	g.conditionalEdges[edge.From] = edge
	return nil
}

// setEntryPoint records the node the run starts from.
func (g *Graph) setEntryPoint(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entryPoint = nodeID
}

// EntryPoint returns the configured entry point node ID.
func (g *Graph) EntryPoint() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entryPoint
}

// Node returns the node registered under id.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the unconditional edges leaving nodeID.
func (g *Graph) Edges(nodeID string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[nodeID]
}

// ConditionalEdge returns the conditional edge leaving nodeID, if any.
func (g *Graph) ConditionalEdge(nodeID string) (*ConditionalEdge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.conditionalEdges[nodeID]
	return e, ok
}

// validate checks structural invariants: an entry point is set, every edge
// references a known node, and every node can eventually reach End.
func (g *Graph) validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entryPoint == "" {
		return fmt.Errorf("graph: no entry point set")
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return fmt.Errorf("graph: entry point %q is not a registered node", g.entryPoint)
	}
	for from, edges := range g.edges {
		if from != Start {
			if _, ok := g.nodes[from]; !ok {
				return fmt.Errorf("graph: edge source %q does not exist", from)
			}
		}
		for _, e := range edges {
			if e.To != End {
				if _, ok := g.nodes[e.To]; !ok {
					return fmt.Errorf("graph: edge target %q does not exist", e.To)
				}
			}
		}
	}
	for from, cond := range g.conditionalEdges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("graph: conditional edge source %q does not exist", from)
		}
		targets := make([]string, 0, len(cond.PathMap))
		for _, to := range cond.PathMap {
			targets = append(targets, to)
		}
		sort.Strings(targets)
		for _, to := range targets {
			if to == End || to == Self {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return fmt.Errorf("graph: conditional edge target %q does not exist", to)
			}
		}
	}
	return nil
}

// StateField describes one key of a graph's state schema: its Go type (for
// documentation/validation), the reducer used to combine concurrent writes,
// and the default value used to seed a fresh run.
type StateField struct {
	Type    reflect.Type
	Reducer func(existing, update any) any
	Default func() any
}

// StateSchema is the set of named fields a graph's state is made of. It is
// the bridge between the user-facing State map and the channel model: each
// field becomes a LastValue channel unless its Reducer implies otherwise
// (see Graph.buildChannels in node.go).
type StateSchema struct {
	mu     sync.RWMutex
	Fields map[string]StateField
	order  []string
}

// NewStateSchema creates an empty schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{Fields: make(map[string]StateField)}
}

// AddField registers a field, returning the schema for chaining.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.Fields[name]; !exists {
		s.order = append(s.order, name)
	}
	s.Fields[name] = field
	return s
}

// FieldNames returns field names in registration order.
func (s *StateSchema) FieldNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// InitialState builds a fresh State populated with each field's default.
func (s *StateSchema) InitialState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := make(State, len(s.Fields))
	for name, field := range s.Fields {
		if field.Default != nil {
			state[name] = field.Default()
		}
	}
	return state
}

// ApplyUpdate merges update into state using each touched field's reducer,
// falling back to DefaultReducer (overwrite) for fields with none.
func (s *StateSchema) ApplyUpdate(state State, update any) State {
	if state == nil {
		state = make(State)
	}
	patch, ok := update.(State)
	if !ok {
		if m, ok := update.(map[string]any); ok {
			patch = State(m)
		} else {
			return state
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range patch {
		field, known := s.Fields[k]
		if known && field.Reducer != nil {
			state[k] = field.Reducer(state[k], v)
			continue
		}
		state[k] = DefaultReducer(state[k], v)
	}
	return state
}

// DefaultReducer overwrites the existing value with the update.
func DefaultReducer(_, update any) any { return update }

// MergeReducer shallow-merges two map[string]any values, with update's keys
// taking precedence.
func MergeReducer(existing, update any) any {
	out := make(map[string]any)
	if m, ok := existing.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	if m, ok := update.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// AppendReducer concatenates two slices of any, treating a non-slice update
// as a single element to append.
func AppendReducer(existing, update any) any {
	base, _ := existing.([]any)
	switch u := update.(type) {
	case []any:
		return append(append([]any(nil), base...), u...)
	default:
		return append(append([]any(nil), base...), u)
	}
}

// Option configures a Node at construction time (see state_graph.go).
type Option func(*Node)
