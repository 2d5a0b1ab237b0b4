//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-go/graph"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewSaverRejectsNilDB(t *testing.T) {
	_, err := NewSaver(nil)
	assert.Error(t, err)
}

func TestNewSaverCreatesSchema(t *testing.T) {
	saver, err := NewSaver(openTestDB(t))
	require.NoError(t, err)
	defer saver.Close()
}

func TestPutAndGetTupleRoundTrips(t *testing.T) {
	saver, err := NewSaver(openTestDB(t))
	require.NoError(t, err)
	defer saver.Close()

	cfg := graph.NewCheckpointConfig("thread-1").ToMap()
	ckpt := graph.NewCheckpoint(
		map[string]any{"count": 1},
		map[string]any{"count": "1"},
		map[string]map[string]any{},
	)

	updatedCfg, err := saver.Put(context.Background(), graph.PutRequest{
		Config:     cfg,
		Checkpoint: ckpt,
		Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceInput, Step: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, ckpt.ID, graph.GetCheckpointID(updatedCfg))

	tuple, err := saver.GetTuple(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, ckpt.ID, tuple.Checkpoint.ID)
	assert.Equal(t, float64(1), tuple.Checkpoint.ChannelValues["count"])
}

func TestGetTupleReturnsNilWithoutAnyCheckpoints(t *testing.T) {
	saver, err := NewSaver(openTestDB(t))
	require.NoError(t, err)
	defer saver.Close()

	tuple, err := saver.GetTuple(context.Background(), graph.NewCheckpointConfig("nope").ToMap())
	require.NoError(t, err)
	assert.Nil(t, tuple)
}

func TestGetTupleRequiresThreadID(t *testing.T) {
	saver, err := NewSaver(openTestDB(t))
	require.NoError(t, err)
	defer saver.Close()

	_, err = saver.GetTuple(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestPutWritesAttachesPendingWritesToTuple(t *testing.T) {
	saver, err := NewSaver(openTestDB(t))
	require.NoError(t, err)
	defer saver.Close()

	cfg := graph.NewCheckpointConfig("thread-2").ToMap()
	ckpt := graph.NewCheckpoint(map[string]any{}, map[string]any{}, map[string]map[string]any{})
	updatedCfg, err := saver.Put(context.Background(), graph.PutRequest{
		Config:     cfg,
		Checkpoint: ckpt,
		Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceLoop, Step: 1},
	})
	require.NoError(t, err)

	err = saver.PutWrites(context.Background(), graph.PutWritesRequest{
		Config: updatedCfg,
		TaskID: "task-1",
		Writes: []graph.PendingWrite{{Channel: "count", Value: 5}},
	})
	require.NoError(t, err)

	tuple, err := saver.GetTuple(context.Background(), updatedCfg)
	require.NoError(t, err)
	require.Len(t, tuple.PendingWrites, 1)
	assert.Equal(t, "count", tuple.PendingWrites[0].Channel)
}

func TestListAppliesLimitAcrossAllCheckpoints(t *testing.T) {
	saver, err := NewSaver(openTestDB(t))
	require.NoError(t, err)
	defer saver.Close()

	threadID := "thread-3"
	var lastCfg map[string]any
	for i := 0; i < 3; i++ {
		ckpt := graph.NewCheckpoint(map[string]any{"step": i}, map[string]any{}, map[string]map[string]any{})
		ckpt.Timestamp = time.Now().Add(time.Duration(i) * time.Second)
		cfg := graph.NewCheckpointConfig(threadID).ToMap()
		if lastCfg != nil {
			cfg = lastCfg
		}
		lastCfg, err = saver.Put(context.Background(), graph.PutRequest{
			Config:     cfg,
			Checkpoint: ckpt,
			Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceLoop, Step: i},
		})
		require.NoError(t, err)
	}

	tuples, err := saver.List(context.Background(), graph.NewCheckpointConfig(threadID).ToMap(), &graph.CheckpointFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, tuples, 2)
}

func TestDeleteThreadRemovesCheckpointsAndWrites(t *testing.T) {
	saver, err := NewSaver(openTestDB(t))
	require.NoError(t, err)
	defer saver.Close()

	cfg := graph.NewCheckpointConfig("thread-4").ToMap()
	ckpt := graph.NewCheckpoint(map[string]any{}, map[string]any{}, map[string]map[string]any{})
	_, err = saver.Put(context.Background(), graph.PutRequest{
		Config:     cfg,
		Checkpoint: ckpt,
		Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceInput, Step: 0},
	})
	require.NoError(t, err)

	require.NoError(t, saver.DeleteThread(context.Background(), "thread-4"))

	tuple, err := saver.GetTuple(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, tuple)
}

func TestCopyThreadDuplicatesCheckpointsUnderNewThreadID(t *testing.T) {
	saver, err := NewSaver(openTestDB(t))
	require.NoError(t, err)
	defer saver.Close()

	srcCfg := graph.NewCheckpointConfig("thread-src").ToMap()
	ckpt := graph.NewCheckpoint(map[string]any{"v": 1}, map[string]any{}, map[string]map[string]any{})
	_, err = saver.Put(context.Background(), graph.PutRequest{
		Config:     srcCfg,
		Checkpoint: ckpt,
		Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceInput, Step: 0},
	})
	require.NoError(t, err)

	require.NoError(t, saver.CopyThread(context.Background(), "thread-src", "thread-dst"))

	tuple, err := saver.GetTuple(context.Background(), graph.NewCheckpointConfig("thread-dst").ToMap())
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, float64(1), tuple.Checkpoint.ChannelValues["v"])
}

func TestPutRejectsNilCheckpoint(t *testing.T) {
	saver, err := NewSaver(openTestDB(t))
	require.NoError(t, err)
	defer saver.Close()

	_, err = saver.Put(context.Background(), graph.PutRequest{Config: graph.NewCheckpointConfig("t").ToMap()})
	assert.Error(t, err)
}
