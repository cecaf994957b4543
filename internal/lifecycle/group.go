// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package lifecycle supervises the Shipper's long-lived workers, grounded on
// storj's private/lifecycle.Group pattern: named items with a Run and an
// optional Close, run under an errgroup, closed in reverse registration
// order so the most recently started worker is the first one torn down.
package lifecycle

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Item is one supervised worker.
type Item struct {
	Name  string
	Run   func(ctx context.Context) error
	Close func() error
}

// Group owns a set of Items and runs/closes them together.
type Group struct {
	log   *zap.Logger
	items []Item
}

// NewGroup returns an empty Group.
func NewGroup(log *zap.Logger) *Group {
	return &Group{log: log.Named("lifecycle")}
}

// Add registers an item. Items are closed in the reverse of Add order.
func (g *Group) Add(item Item) {
	g.items = append(g.items, item)
}

// Run starts every item with a non-nil Run function inside g, under the
// given errgroup, so the caller can wait on the group and observe the first
// error from any item.
func (g *Group) Run(ctx context.Context, eg *errgroup.Group) {
	for _, item := range g.items {
		item := item
		if item.Run == nil {
			continue
		}
		eg.Go(func() error {
			g.log.Debug("starting", zap.String("name", item.Name))
			err := item.Run(ctx)
			if err != nil && ctx.Err() == nil {
				g.log.Error("worker exited with error", zap.String("name", item.Name), zap.Error(err))
			}
			return err
		})
	}
}

// Close calls every item's Close function, in reverse registration order,
// collecting and returning the first error encountered while still
// attempting every Close.
func (g *Group) Close() error {
	var firstErr error
	for i := len(g.items) - 1; i >= 0; i-- {
		item := g.items[i]
		if item.Close == nil {
			continue
		}
		g.log.Debug("closing", zap.String("name", item.Name))
		if err := item.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
