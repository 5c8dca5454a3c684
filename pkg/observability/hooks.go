// Package observability provides hooks for metrics and tracing.
//
// Libraries emit events through the registered hooks; the defaults do
// nothing. A binary that wants metrics registers its own implementations
// once at startup:
//
//	observability.SetPreviewHooks(&myPreviewHooks{})
//
// and library code calls:
//
//	observability.Preview().OnRender(ctx, fingerprint, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Preview Hooks
// =============================================================================

// PreviewHooks receives events from diagram reconciliation.
type PreviewHooks interface {
	// OnReconcileStart fires when a pass begins over n containers.
	OnReconcileStart(ctx context.Context, containers int)
	// OnReconcileComplete fires when a pass ends; attached counts new
	// controllers, failed counts containers that errored.
	OnReconcileComplete(ctx context.Context, attached, failed int, duration time.Duration)

	OnRender(ctx context.Context, fingerprint string, duration time.Duration, err error)
	OnRestore(ctx context.Context, key string, restored bool)
	OnSave(ctx context.Context, key string)
	OnTeardown(ctx context.Context, key string, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache backends.
type CacheHooks interface {
	OnCacheHit(ctx context.Context, keyType string)
	OnCacheMiss(ctx context.Context, keyType string)
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// Export Hooks
// =============================================================================

// ExportHooks receives events from diagram export.
type ExportHooks interface {
	OnExportStart(ctx context.Context, format string)
	OnExportComplete(ctx context.Context, format string, size int, duration time.Duration, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopPreviewHooks ignores every event.
type NoopPreviewHooks struct{}

func (NoopPreviewHooks) OnReconcileStart(context.Context, int)                        {}
func (NoopPreviewHooks) OnReconcileComplete(context.Context, int, int, time.Duration) {}
func (NoopPreviewHooks) OnRender(context.Context, string, time.Duration, error)       {}
func (NoopPreviewHooks) OnRestore(context.Context, string, bool)                      {}
func (NoopPreviewHooks) OnSave(context.Context, string)                               {}
func (NoopPreviewHooks) OnTeardown(context.Context, string, error)                    {}

// NoopCacheHooks ignores every event.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopExportHooks ignores every event.
type NoopExportHooks struct{}

func (NoopExportHooks) OnExportStart(context.Context, string)                               {}
func (NoopExportHooks) OnExportComplete(context.Context, string, int, time.Duration, error) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	hooksMu      sync.RWMutex
	previewHooks PreviewHooks = NoopPreviewHooks{}
	cacheHooks   CacheHooks   = NoopCacheHooks{}
	exportHooks  ExportHooks  = NoopExportHooks{}
)

// SetPreviewHooks registers preview hooks. Nil is ignored.
func SetPreviewHooks(h PreviewHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		previewHooks = h
	}
}

// SetCacheHooks registers cache hooks. Nil is ignored.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetExportHooks registers export hooks. Nil is ignored.
func SetExportHooks(h ExportHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		exportHooks = h
	}
}

// Preview returns the registered preview hooks.
func Preview() PreviewHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return previewHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Export returns the registered export hooks.
func Export() ExportHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return exportHooks
}

// Reset restores the no-op defaults. Tests use it to isolate hooks.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	previewHooks = NoopPreviewHooks{}
	cacheHooks = NoopCacheHooks{}
	exportHooks = NoopExportHooks{}
}
