//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory implementation of store.Store.
// This is suitable for testing and single-process deployments but does not
// persist across restarts.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-agent-go/store"
)

var _ store.Store = (*Store)(nil)

// Opt configures a Store at construction time.
type Opt func(*Store)

// WithDefaultTTL sets the TTL applied to items whose Put call did not
// specify one. Zero (the default) means items never expire.
func WithDefaultTTL(ttl time.Duration) Opt {
	return func(s *Store) { s.defaultTTL = ttl }
}

// WithRefreshOnRead extends an item's TTL to now+ttl every time it is read
// through Get, keeping frequently accessed items alive.
func WithRefreshOnRead() Opt {
	return func(s *Store) { s.refreshOnRead = true }
}

// WithVectorIndex turns on similarity search. Items are embedded on Put
// using cfg.Embed and ranked in Search when a query is supplied.
func WithVectorIndex(cfg store.VectorIndexConfig) Opt {
	return func(s *Store) { s.vector = &cfg }
}

// Store is a mutex-guarded, map-backed store.Store implementation.
type Store struct {
	mu            sync.RWMutex
	items         map[string]map[string]*store.Item // namespace path -> key -> item
	defaultTTL    time.Duration
	refreshOnRead bool
	vector        *store.VectorIndexConfig
}

// New creates an empty in-memory store.
func New(opts ...Opt) *Store {
	s := &Store{items: make(map[string]map[string]*store.Item)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func nsKey(ns store.Namespace) string {
	return strings.Join(ns, "\x00")
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, namespace store.Namespace, key string) (*store.Item, error) {
	if err := validateKey(namespace, key); err != nil {
		return nil, err
	}
	now := time.Now()

	s.mu.RLock()
	bucket, ok := s.items[nsKey(namespace)]
	var item *store.Item
	if ok {
		item, ok = bucket[key]
	}
	s.mu.RUnlock()
	if !ok || item == nil {
		return nil, nil
	}
	if item.Expired(now) {
		s.mu.Lock()
		delete(s.items[nsKey(namespace)], key)
		s.mu.Unlock()
		return nil, nil
	}

	if s.refreshOnRead && !item.ExpiresAt.IsZero() {
		s.mu.Lock()
		if item, ok = s.items[nsKey(namespace)][key]; ok {
			item.ExpiresAt = now.Add(item.ExpiresAt.Sub(item.UpdatedAt))
		}
		s.mu.Unlock()
	}

	out := *item
	return &out, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, namespace store.Namespace, key string, value map[string]any, opts ...store.PutOptions) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}
	var opt store.PutOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	ttl := s.defaultTTL
	if opt.TTL != nil {
		ttl = *opt.TTL
	}

	var vec []float32
	if s.vector != nil {
		fields := opt.Index
		if len(fields) == 0 {
			fields = s.vector.Fields
		}
		text := store.EmbeddingText(value, fields)
		v, err := s.vector.Embed.Embed(ctx, text)
		if err != nil {
			return err
		}
		if len(v) != s.vector.Dims {
			return store.ErrEmbeddingDimMismatch
		}
		vec = v
	}

	now := time.Now()
	item := &store.Item{
		Namespace: namespace.Clone(),
		Key:       key,
		Value:     cloneValue(value),
		Vector:    vec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ttl == store.NoTTL {
		// Explicit opt-out: item never expires.
	} else if ttl > 0 {
		item.ExpiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key2 := nsKey(namespace)
	if existing, ok := s.items[key2]; ok {
		if prior, ok := existing[key]; ok {
			item.CreatedAt = prior.CreatedAt
		}
	} else {
		s.items[key2] = make(map[string]*store.Item)
	}
	s.items[key2][key] = item
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, namespace store.Namespace, key string) error {
	if key == "" {
		return store.ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[nsKey(namespace)], key)
	return nil
}

// Search implements store.Store.
func (s *Store) Search(ctx context.Context, namespacePrefix store.Namespace, opts store.SearchOptions) ([]store.SearchResult, error) {
	now := time.Now()
	var queryVec []float32
	if opts.Query != "" {
		if s.vector == nil {
			return nil, store.ErrVectorIndexUnset
		}
		v, err := s.vector.Embed.Embed(ctx, opts.Query)
		if err != nil {
			return nil, err
		}
		queryVec = v
	}

	s.mu.RLock()
	var candidates []*store.Item
	for path, bucket := range s.items {
		if !namespacePathHasPrefix(path, namespacePrefix) {
			continue
		}
		for _, item := range bucket {
			if item.Expired(now) {
				continue
			}
			candidates = append(candidates, item)
		}
	}
	s.mu.RUnlock()

	var results []store.SearchResult
	for _, item := range candidates {
		if opts.Filter != nil {
			ok, err := opts.Filter.Match(item.Value)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out := *item
		res := store.SearchResult{Item: out}
		if queryVec != nil {
			score, err := store.Similarity(s.vector.DistanceType, queryVec, item.Vector)
			if err != nil {
				return nil, err
			}
			if s.vector.SimilarityThreshold > 0 && score < s.vector.SimilarityThreshold {
				continue
			}
			res.Score = score
		}
		results = append(results, res)
	}

	if queryVec != nil {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	} else {
		sort.SliceStable(results, func(i, j int) bool { return results[i].UpdatedAt.After(results[j].UpdatedAt) })
	}

	results = paginate(results, opts.Offset, opts.Limit)
	return results, nil
}

func paginate(results []store.SearchResult, offset, limit int) []store.SearchResult {
	if offset > 0 {
		if offset >= len(results) {
			return nil
		}
		results = results[offset:]
	}
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

// ListNamespaces implements store.Store.
func (s *Store) ListNamespaces(ctx context.Context, opts store.ListNamespacesOptions) ([]store.Namespace, error) {
	now := time.Now()

	s.mu.RLock()
	seen := make(map[string]store.Namespace)
	for path, bucket := range s.items {
		live := false
		for _, item := range bucket {
			if !item.Expired(now) {
				live = true
				break
			}
		}
		if !live {
			continue
		}
		ns := store.Namespace(strings.Split(path, "\x00"))
		if len(opts.Prefix) > 0 && !ns.HasPrefix(opts.Prefix) {
			continue
		}
		if len(opts.Suffix) > 0 && !hasSuffix(ns, opts.Suffix) {
			continue
		}
		if opts.MaxDepth > 0 && len(ns) > opts.MaxDepth {
			ns = ns[:opts.MaxDepth]
		}
		seen[ns.String()] = ns
	}
	s.mu.RUnlock()

	out := make([]store.Namespace, 0, len(seen))
	for _, ns := range seen {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Batch implements store.Store by running each op in order through Get,
// Put or Delete, stopping at the first error. Each op takes the store's
// lock on its own, so the batch is not atomic: other callers can observe
// the state between two ops, and ops before a failing one stay applied.
func (s *Store) Batch(ctx context.Context, ops []store.Op) ([]store.OpResult, error) {
	results := make([]store.OpResult, len(ops))
	for i, op := range ops {
		switch {
		case op.Get:
			item, err := s.Get(ctx, op.Namespace, op.Key)
			if err != nil {
				return nil, err
			}
			results[i] = store.OpResult{Item: item}
		case op.Put:
			if err := s.Put(ctx, op.Namespace, op.Key, op.Value, op.PutOptions); err != nil {
				return nil, err
			}
		case op.Delete:
			if err := s.Delete(ctx, op.Namespace, op.Key); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

func validateKey(namespace store.Namespace, key string) error {
	if err := namespace.Validate(); err != nil {
		return err
	}
	if key == "" {
		return store.ErrKeyRequired
	}
	return nil
}

func namespacePathHasPrefix(path string, prefix store.Namespace) bool {
	if len(prefix) == 0 {
		return true
	}
	ns := store.Namespace(strings.Split(path, "\x00"))
	return ns.HasPrefix(prefix)
}

func hasSuffix(ns, suffix store.Namespace) bool {
	if len(suffix) > len(ns) {
		return false
	}
	offset := len(ns) - len(suffix)
	for i, label := range suffix {
		if ns[offset+i] != label {
			return false
		}
	}
	return true
}

func cloneValue(value map[string]any) map[string]any {
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = v
	}
	return out
}
