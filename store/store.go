//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package store defines the ancillary key/value surface exposed to graph
// nodes: a namespaced, optionally TTL'd, optionally vector-indexed store
// independent of checkpointing. A Store durably remembers things across
// threads (user preferences, long-term facts); a CheckpointSaver only
// remembers one thread's superstep history.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// reservedRootLabel is the only namespace label forbidden at the root.
const reservedRootLabel = "langgraph"

// Namespace is a non-empty sequence of non-empty labels. "." is forbidden
// inside a label since it is reserved for dotted-path filters.
type Namespace []string

// Validate checks the namespace against the label rules.
func (n Namespace) Validate() error {
	if len(n) == 0 {
		return ErrEmptyNamespace
	}
	for i, label := range n {
		if label == "" {
			return fmt.Errorf("%w: label %d is empty", ErrInvalidNamespace, i)
		}
		if strings.Contains(label, ".") {
			return fmt.Errorf("%w: label %q contains \".\"", ErrInvalidNamespace, label)
		}
		if i == 0 && label == reservedRootLabel {
			return fmt.Errorf("%w: root label %q is reserved", ErrInvalidNamespace, reservedRootLabel)
		}
	}
	return nil
}

// String renders the namespace as a dotted path, for logging only.
func (n Namespace) String() string {
	return strings.Join(n, ".")
}

// HasPrefix reports whether n starts with prefix.
func (n Namespace) HasPrefix(prefix Namespace) bool {
	if len(prefix) > len(n) {
		return false
	}
	for i, label := range prefix {
		if n[i] != label {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the namespace.
func (n Namespace) Clone() Namespace {
	out := make(Namespace, len(n))
	copy(out, n)
	return out
}

// Item is a single stored value along with its bookkeeping.
type Item struct {
	// Namespace the item lives under.
	Namespace Namespace
	// Key uniquely identifies the item within its namespace.
	Key string
	// Value is the stored payload.
	Value map[string]any
	// Vector is the optional embedding associated with Value, set when the
	// store is configured with a VectorIndexConfig.
	Vector []float32
	// CreatedAt is set by the store on first Put.
	CreatedAt time.Time
	// UpdatedAt is refreshed on every Put.
	UpdatedAt time.Time
	// ExpiresAt is the absolute expiry time, zero meaning no expiry.
	ExpiresAt time.Time
}

// Expired reports whether the item's TTL has elapsed as of now.
func (it *Item) Expired(now time.Time) bool {
	return !it.ExpiresAt.IsZero() && !now.Before(it.ExpiresAt)
}

// PutOptions customizes a single Put call.
type PutOptions struct {
	// TTL overrides the store-level default TTL for this item. A zero value
	// means "use the store default"; use NoTTL to persist the item forever
	// regardless of the store default.
	TTL *time.Duration
	// Index controls which dotted fields of Value get embedded, overriding
	// the store-level VectorIndexConfig.Fields for this item only.
	Index []string
}

// NoTTL disables expiry for a single Put, overriding the store default.
var NoTTL = -1 * time.Second

// SearchOptions customizes Search.
type SearchOptions struct {
	// Filter restricts results to items whose Value matches every clause.
	Filter Filter
	// Query, when non-empty and the store has a vector index configured,
	// ranks results by embedding similarity to Query instead of recency.
	Query string
	// Limit caps the number of returned items; 0 means unlimited.
	Limit int
	// Offset skips the first N matches, applied after ranking.
	Offset int
}

// SearchResult is an Item annotated with its similarity score, populated
// only when SearchOptions.Query was set and the store has a vector index.
type SearchResult struct {
	Item
	Score float64
}

// ListNamespacesOptions customizes ListNamespaces.
type ListNamespacesOptions struct {
	// Prefix restricts results to namespaces starting with this path.
	Prefix Namespace
	// Suffix restricts results to namespaces ending with this path.
	Suffix Namespace
	// MaxDepth truncates returned namespaces to at most this many labels,
	// deduplicating the truncated results. 0 means unlimited.
	MaxDepth int
	// Limit caps the number of returned namespaces; 0 means unlimited.
	Limit int
	// Offset skips the first N namespaces in sorted order.
	Offset int
}

// Op is one operation within a Batch call.
type Op struct {
	// Get, when true, reads Namespace/Key into the matching Result slot.
	Get bool
	// Put, when true, writes Value (and Vector, if computed) to
	// Namespace/Key. PutOptions customizes TTL/indexing for this op.
	Put        bool
	PutOptions PutOptions
	// Delete, when true, removes Namespace/Key.
	Delete bool

	Namespace Namespace
	Key       string
	Value     map[string]any
}

// OpResult carries the outcome of one Op within a Batch call. Only the
// field relevant to the op's kind is populated.
type OpResult struct {
	Item *Item
}

// Embedder computes a vector embedding for free text, used by stores
// configured with a VectorIndexConfig.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DistanceType selects the similarity metric used by a vector index.
type DistanceType string

// Supported distance metrics.
const (
	DistanceCosine DistanceType = "cosine"
	DistanceL2     DistanceType = "l2"
	DistanceIP     DistanceType = "ip"
)

// VectorIndexConfig turns on similarity search for a store.
type VectorIndexConfig struct {
	// Dims is the embedding dimensionality; Embed results of a different
	// length are rejected.
	Dims int
	// Embed computes embeddings for indexed fields and search queries.
	Embed Embedder
	// DistanceType selects the metric used to rank search results.
	DistanceType DistanceType
	// Fields lists the dotted Value paths to embed; "$" embeds the whole
	// Value serialized as text. Defaults to {"$"} when empty.
	Fields []string
	// SimilarityThreshold drops results whose similarity falls below this
	// bound from Search results. Zero disables the cutoff.
	SimilarityThreshold float64
}

// Store is the ancillary key/value surface exposed to graph nodes,
// independent of checkpointing: namespaced, optionally TTL'd values with
// metadata filters and optional vector similarity search.
type Store interface {
	// Get retrieves one item, returning (nil, nil) if absent or expired.
	// If the store has RefreshOnRead enabled, a successful Get extends the
	// item's TTL from now.
	Get(ctx context.Context, namespace Namespace, key string) (*Item, error)

	// Put creates or replaces the item at namespace/key.
	Put(ctx context.Context, namespace Namespace, key string, value map[string]any, opts ...PutOptions) error

	// Delete removes the item at namespace/key. Deleting an absent item is
	// not an error.
	Delete(ctx context.Context, namespace Namespace, key string) error

	// Search returns items under namespacePrefix matching opts, ordered by
	// similarity to opts.Query when a vector index is configured and a
	// query is given, or by UpdatedAt (newest first) otherwise.
	Search(ctx context.Context, namespacePrefix Namespace, opts SearchOptions) ([]SearchResult, error)

	// ListNamespaces enumerates distinct namespaces currently holding at
	// least one live item, in lexical order.
	ListNamespaces(ctx context.Context, opts ListNamespacesOptions) ([]Namespace, error)

	// Batch executes ops in order, returning one OpResult per op. The
	// batch is not atomic with respect to other Store callers.
	Batch(ctx context.Context, ops []Op) ([]OpResult, error)
}

// Sentinel errors returned by Store implementations and Namespace.Validate.
var (
	ErrEmptyNamespace    = errors.New("store: namespace must have at least one label")
	ErrInvalidNamespace  = errors.New("store: invalid namespace")
	ErrKeyRequired       = errors.New("store: key is required")
	ErrVectorIndexUnset  = errors.New("store: query search requires a vector index")
	ErrEmbeddingDimMismatch = errors.New("store: embedding dimensionality mismatch")
)
