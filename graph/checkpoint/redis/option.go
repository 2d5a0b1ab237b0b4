//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides Redis-based checkpoint storage implementation
// for graph execution state persistence and recovery.
package redis

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = time.Hour * 24 * 7 // 7 days
)

var (
	defaultOptions = Options{
		ttl: defaultTTL,
	}
)

// Options is the options for the redis checkpoint service.
type Options struct {
	url    string
	client redis.UniversalClient
	ttl    time.Duration
}

// Option is the option for the redis checkpoint service.
type Option func(*Options)

// WithRedisClientURL creates a redis client from URL and sets it to the service.
func WithRedisClientURL(url string) Option {
	return func(opts *Options) {
		opts.url = url
	}
}

// WithRedisClient injects an already-constructed client, bypassing URL
// parsing entirely. WithRedisClientURL is ignored when this is set.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(opts *Options) {
		opts.client = client
	}
}

// WithTTL sets the TTL for the checkpoint data in redis.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		if ttl <= 0 {
			ttl = defaultTTL
		}
		opts.ttl = ttl
	}
}
