// Package sources defines the Source capability — the core's view of a
// local data adapter — and SourceManager, which routes file-change events
// into ledger enqueues. Concrete source adapters (Claude stats, Apple
// Notes, ...) are out of scope per spec.md §1; this package pins down the
// capability contract they must satisfy.
package sources

import (
	"context"
	"encoding/json"
	"time"
)

// PropertyDef describes one configurable property a source exposes.
type PropertyDef struct {
	Key         string
	Label       string
	Description string
}

// PreviewField is one labeled value in a transparency preview.
type PreviewField struct {
	Label     string
	Value     string
	Sensitive bool
}

// Preview is a human-readable summary of what a source will send.
type Preview struct {
	Title       string
	Summary     string
	Fields      []PreviewField
	LastUpdated time.Time
}

// Source is the capability the core consumes to turn a file change into a
// delivery payload.
type Source interface {
	ID() string
	Name() string
	// WatchPath is the path to watch for changes, or "" if not file-based.
	WatchPath() string
	Parse(ctx context.Context) (json.RawMessage, error)
	Preview(ctx context.Context) (Preview, error)
	// WatchRecursive reports whether WatchPath should be watched
	// recursively — true for directory-backed sources.
	WatchRecursive() bool
	AvailableProperties() []PropertyDef
}

// BaseSource is embeddable by adapters that don't need recursive watching
// or configurable properties.
type BaseSource struct {
	IDValue        string
	NameValue      string
	WatchPathValue string
}

func (b *BaseSource) ID() string                       { return b.IDValue }
func (b *BaseSource) Name() string                     { return b.NameValue }
func (b *BaseSource) WatchPath() string                { return b.WatchPathValue }
func (b *BaseSource) WatchRecursive() bool              { return false }
func (b *BaseSource) AvailableProperties() []PropertyDef { return nil }
