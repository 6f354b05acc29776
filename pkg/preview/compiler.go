package preview

import "context"

// Compiler is the external typesetting engine collaborator (§6). The
// supervisor requires exactly this surface of it; compilation, layout and
// the span model themselves are out of scope for this module (§1).
type Compiler interface {
	// Compile runs one compile attempt against the current shadow overlay
	// plus on-disk files. A non-nil Diagnostics means the attempt failed;
	// Document is only valid when err is nil and diag is nil.
	Compile(ctx context.Context) (Document, Diagnostics, error)

	// ResolveSrcToDocJump maps a source location to a page position, for
	// both editor cursor moves and explicit jump requests.
	ResolveSrcToDocJump(path string, line, col uint32) (DocumentPosition, bool)

	// ResolveSpanAndOffset maps a single span offset to its enclosing
	// source range. Used for both endpoints of a jump resolution and for
	// the enclosing-element clamp probe (§4.1).
	ResolveSpanAndOffset(span SpanOffset) (DocToSrcJumpInfo, bool)

	// AddMemoryChanges applies a shadow VFS mutation and marks the next
	// Compile call as needing to observe it.
	AddMemoryChanges(event MemoryEvent)
}

// MemoryEventKind distinguishes a full shadow-overlay replace from an
// incremental upsert/remove.
type MemoryEventKind int

const (
	// MemorySync replaces the entire shadow overlay.
	MemorySync MemoryEventKind = iota
	// MemoryUpdate upserts (or, when Removed is set, deletes) entries.
	MemoryUpdate
)

// MemoryEvent is one shadow VFS mutation request, as produced by
// SyncMemoryFiles / UpdateMemoryFiles / RemoveMemoryFiles (§4.1).
type MemoryEvent struct {
	Kind    MemoryEventKind
	Files   map[string]string // path -> text content, for Sync/Update
	Removed []string          // paths to delete, for Update-as-remove
}

// RenderSession is the per-viewer incremental serializer collaborator
// (§6). It is owned by exactly one Render Actor and must never be shared
// across goroutines (§4.2, §5).
type RenderSession interface {
	// PackDelta encodes the difference between the previously sent view
	// and doc.
	PackDelta(doc Document) []byte
	// PackCurrent returns a self-sufficient bootstrap payload, if the
	// session has enough state to produce one without a prior delta.
	PackCurrent() ([]byte, bool)
	// SourceSpan maps a render-local element path back to the span range
	// that produced it, for click-to-source resolution (§4.2 step 5).
	SourceSpan(path []SpanPathSegment) (SpanRange, bool)
	// SetAttachDebugInfo toggles whether packed payloads carry span debug
	// annotations (needed for SourceSpan to work at all).
	SetAttachDebugInfo(attach bool)
	// Evict hints the session to release cached incremental work beyond
	// budget recently-used entries.
	Evict(budget int)
}
