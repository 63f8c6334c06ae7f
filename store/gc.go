// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"errors"
	"sync"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"colonnade.io/colonnade/internal/sync2"
)

// reclaimItem identifies rows awaiting reclamation. AllVersions covers a
// deleted object, otherwise only the named version is swept.
type reclaimItem struct {
	ObjectID    gocql.UUID
	Version     int64
	AllVersions bool
}

// reclaimQueue collects deleted objects and aborted uploads until the next
// sweep picks them up.
type reclaimQueue struct {
	mu    sync.Mutex
	items []reclaimItem
}

func (queue *reclaimQueue) push(item reclaimItem) {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	queue.items = append(queue.items, item)
}

func (queue *reclaimQueue) drain() []reclaimItem {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	items := queue.items
	queue.items = nil
	return items
}

func (queue *reclaimQueue) requeue(items []reclaimItem) {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	queue.items = append(items, queue.items...)
}

// SweepDeleted reclaims version, part and chunk rows for everything queued
// since the previous sweep. Items that could not be processed are put back
// for the next run.
func (db *DB) SweepDeleted(ctx context.Context) (reclaimed int, err error) {
	defer mon.Task()(&ctx)(&err)

	items := db.gc.drain()
	for i, item := range items {
		n, err := db.reclaim(ctx, item)
		reclaimed += n
		if err != nil {
			db.gc.requeue(items[i:])
			return reclaimed, err
		}
	}

	mon.Meter("reclaimed_versions").Mark(reclaimed)
	return reclaimed, nil
}

func (db *DB) reclaim(ctx context.Context, item reclaimItem) (reclaimed int, err error) {
	var versions []VersionHeader
	if item.AllVersions {
		versions, err = db.adapter.VersionHeaders(ctx, item.ObjectID)
		if err != nil {
			return 0, Error.Wrap(err)
		}
	} else {
		version, ok, err := db.adapter.VersionHeader(ctx, item.ObjectID, item.Version)
		if err != nil {
			return 0, Error.Wrap(err)
		}
		if !ok {
			return 0, nil
		}
		versions = append(versions, version)
	}

	for _, version := range versions {
		parts, err := db.adapter.PartHeaders(ctx, version.ObjectID, version.Version)
		if err != nil {
			return reclaimed, Error.Wrap(err)
		}

		geometry := version.Geometry()
		if geometry.Verify() != nil {
			geometry = db.geometry
		}

		for _, part := range parts {
			if err := db.adapter.DeleteBlob(ctx, part.BlobID, geometry.Partitions(part.Size)); err != nil {
				return reclaimed, Error.Wrap(err)
			}
		}
		if err := db.adapter.DeletePartHeaders(ctx, version.ObjectID, version.Version); err != nil {
			return reclaimed, Error.Wrap(err)
		}
		if err := db.adapter.DeleteVersionHeader(ctx, version.ObjectID, version.Version); err != nil {
			return reclaimed, Error.Wrap(err)
		}
		reclaimed++
	}
	return reclaimed, nil
}

// RunGC runs the reclamation sweep on the configured interval until ctx is
// canceled. A zero or negative interval disables the sweep.
func (db *DB) RunGC(ctx context.Context) error {
	if db.config.GC.Interval <= 0 {
		return nil
	}

	cycle := sync2.NewCycle(db.config.GC.Interval)
	err := cycle.Run(ctx, func(ctx context.Context) error {
		reclaimed, err := db.SweepDeleted(ctx)
		if err != nil {
			db.log.Warn("sweep failed", zap.Error(err))
			return nil
		}
		if reclaimed > 0 {
			db.log.Debug("sweep reclaimed versions", zap.Int("count", reclaimed))
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
