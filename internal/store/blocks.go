package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// BlockSets holds the two directions of a viewer's block relationships.
type BlockSets struct {
	BlockedByViewer map[string]struct{} // users the viewer has blocked
	BlockedViewer   map[string]struct{} // users who have blocked the viewer
}

// Excludes reports whether userID appears in either direction.
func (b BlockSets) Excludes(userID string) bool {
	if _, ok := b.BlockedByViewer[userID]; ok {
		return true
	}
	_, ok := b.BlockedViewer[userID]
	return ok
}

// IDs returns the union of both sets.
func (b BlockSets) IDs() []string {
	out := make([]string, 0, len(b.BlockedByViewer)+len(b.BlockedViewer))
	for id := range b.BlockedByViewer {
		out = append(out, id)
	}
	for id := range b.BlockedViewer {
		if _, dup := b.BlockedByViewer[id]; !dup {
			out = append(out, id)
		}
	}
	return out
}

// BlockLookup resolves block relationships for a viewer.
type BlockLookup interface {
	Blocks(ctx context.Context, viewerID string) (BlockSets, error)
}

// DocumentBlockLookup reads block records ({blocker, blocked}) from the
// user-blocks collection of a DocumentStore.
type DocumentBlockLookup struct {
	store DocumentStore
}

// NewDocumentBlockLookup creates a BlockLookup backed by s.
func NewDocumentBlockLookup(s DocumentStore) *DocumentBlockLookup {
	return &DocumentBlockLookup{store: s}
}

// Blocks queries both directions concurrently.
func (l *DocumentBlockLookup) Blocks(ctx context.Context, viewerID string) (BlockSets, error) {
	sets := BlockSets{
		BlockedByViewer: map[string]struct{}{},
		BlockedViewer:   map[string]struct{}{},
	}
	if viewerID == "" {
		return sets, nil
	}

	var byViewer, ofViewer []Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs, err := l.store.Find(gctx, Query{Collection: CollectionBlocks, Where: []Condition{Eq("blocker", viewerID)}})
		byViewer = docs
		return err
	})
	g.Go(func() error {
		docs, err := l.store.Find(gctx, Query{Collection: CollectionBlocks, Where: []Condition{Eq("blocked", viewerID)}})
		ofViewer = docs
		return err
	})
	if err := g.Wait(); err != nil {
		return sets, fmt.Errorf("failed to load blocks: %w", err)
	}

	for _, d := range byViewer {
		if id, _ := d.Ref("blocked"); id != "" {
			sets.BlockedByViewer[id] = struct{}{}
		}
	}
	for _, d := range ofViewer {
		if id, _ := d.Ref("blocker"); id != "" {
			sets.BlockedViewer[id] = struct{}{}
		}
	}
	return sets, nil
}
