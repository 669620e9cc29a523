// Package queue resolves the work queue for a run.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/zsyeh/coursepilot/internal/connectors"
	"github.com/zsyeh/coursepilot/internal/models"
)

// Source tells which resolution rule produced a queue.
type Source string

const (
	SourceExplicit  Source = "explicit"
	SourceManifest  Source = "manifest"
	SourceDiscovery Source = "discovery"
	// SourceNone means nothing resolved; the run falls back to exhaustive mode.
	SourceNone Source = "none"
)

// Queue is an immutable snapshot of the courses to process.
type Queue struct {
	Items  []models.WorkItem
	Source Source
}

// Empty reports whether the queue has no items.
func (q *Queue) Empty() bool {
	return q == nil || len(q.Items) == 0
}

// IDs returns the item ids in queue order.
func (q *Queue) IDs() []string {
	ids := make([]string, len(q.Items))
	for i, it := range q.Items {
		ids[i] = it.ID
	}
	return ids
}

// Resolver determines the work queue: explicit ids first, then the cached
// manifest, then discovery.
type Resolver struct {
	client       connectors.CourseClient
	manifestPath string
	logger       *slog.Logger
}

// NewResolver creates a resolver reading the manifest at manifestPath.
func NewResolver(client connectors.CourseClient, manifestPath string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, manifestPath: manifestPath, logger: logger}
}

// Resolve returns the queue for explicit. Manifest problems and discovery
// failures fall through; a queue with SourceNone means exhaustive mode. Only
// context cancellation is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, explicit []string) (*Queue, error) {
	if items := fromIDs(explicit); len(items) > 0 {
		return &Queue{Items: items, Source: SourceExplicit}, nil
	}

	if r.manifestPath != "" {
		entries, err := LoadManifest(r.manifestPath)
		switch {
		case err == nil && len(fromManifest(entries)) > 0:
			return &Queue{Items: fromManifest(entries), Source: SourceManifest}, nil
		case err == nil:
			r.logger.Debug("manifest is empty", "path", r.manifestPath)
		case errors.Is(err, os.ErrNotExist):
		default:
			r.logger.Debug("ignoring unreadable manifest", "path", r.manifestPath, "error", err)
		}
	}

	catalog, err := r.client.DiscoverCatalog(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("course discovery failed", "error", err)
		return &Queue{Source: SourceNone}, nil
	}
	if entries := Normalize(catalog); len(entries) > 0 {
		return &Queue{Items: fromManifest(entries), Source: SourceDiscovery}, nil
	}
	return &Queue{Source: SourceNone}, nil
}

// FetchAndSave discovers the catalog and writes it to the manifest without
// processing anything.
func (r *Resolver) FetchAndSave(ctx context.Context) ([]ManifestEntry, error) {
	catalog, err := r.client.DiscoverCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering courses: %w", err)
	}
	entries := Normalize(catalog)
	if err := SaveManifest(r.manifestPath, entries); err != nil {
		return nil, err
	}
	r.logger.Info("manifest saved", "path", r.manifestPath, "courses", len(entries))
	return entries, nil
}

func fromIDs(ids []string) []models.WorkItem {
	seen := make(map[string]bool, len(ids))
	var items []models.WorkItem
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, models.Course(id))
	}
	return items
}

func fromManifest(entries []ManifestEntry) []models.WorkItem {
	seen := make(map[string]bool, len(entries))
	items := make([]models.WorkItem, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		item := models.Course(e.ID)
		item.Name = e.Name
		items = append(items, item)
	}
	return items
}
