// Package preview implements the live-preview coordination fabric: a
// compiler supervisor, per-viewer render/outline/webview actors, and a
// singleton editor actor, connected by channels.
package preview

// DocumentPosition is a resolved point on a laid-out page, in points.
type DocumentPosition struct {
	PageNo uint32  `json:"page_no"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
}

// SourcePosition is a 0-based, UTF-8-byte-derived line/column pair.
type SourcePosition struct {
	Line   uint32 `json:"line"`
	Column uint32 `json:"character"`
}

// DocToSrcJumpInfo is the result of resolving a document click back to a
// source range.
type DocToSrcJumpInfo struct {
	Filepath string          `json:"filepath"`
	Start    *SourcePosition `json:"start,omitempty"`
	End      *SourcePosition `json:"end,omitempty"`
}

// Less reports whether p sorts strictly before other, lexicographically by
// (line, column).
func (p SourcePosition) Less(other SourcePosition) bool {
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Column < other.Column
}

// SpanOffset identifies an opaque document element plus a byte offset
// within the source text that produced it. It is the unit the render
// session and the compiler collaborator exchange to resolve document
// clicks back to source locations.
type SpanOffset struct {
	Span   uint64
	Offset uint32
}

// SpanRange is a (start, end) pair of span offsets, as produced by the
// render session's SourceSpan lookup.
type SpanRange struct {
	Start SpanOffset
	End   SpanOffset
}

// SpanPathSegment is one element of a viewer-reported render-local path:
// a (major, minor) coordinate pair plus an opaque render element kind.
type SpanPathSegment struct {
	Major uint32
	Minor uint32
	Kind  string
}

// Document is an opaque handle to a compiled, laid-out document. It is
// immutable once produced by the compiler and is shared by reference
// among every viewer via the Document Cell.
type Document interface {
	// PageCount returns the number of laid-out pages.
	PageCount() int
	// Introspector returns the query surface used to resolve headings and
	// positions for this document.
	Introspector() Introspector
	// Version is a monotonically increasing compile sequence number; it is
	// used only to enforce invariant §3.2, never exposed on the wire.
	Version() uint64
}

// Introspector answers heading and position queries against a compiled
// document. Implemented by the external compiler collaborator; the
// Outline Extractor (outline.go) and the supervisor's cursor resolution
// are the only callers.
type Introspector interface {
	// Headings returns every heading element in document order.
	Headings() []Heading
	// Position resolves a heading's location to a page coordinate.
	Position(h Heading) DocumentPosition
}

// Heading is one heading element as seen by the introspector.
type Heading struct {
	Title string
	Level int
	// Bookmarked mirrors the compiler's own "bookmarked ?? outlined"
	// fallback: a heading not meant for the outline is skipped by the
	// Outline Extractor but still constrains the depth of subsequent
	// headings (§4.3).
	Bookmarked bool
	SpanHex    string
	// Loc is the opaque engine-side handle Introspector.Position needs to
	// resolve this heading's page coordinate. Callers never inspect it.
	Loc any
}

// Diagnostics is the compiler's opaque error report for a failed compile
// attempt. The supervisor only needs to know whether it is empty; the
// actual contents are logged, never parsed.
type Diagnostics interface {
	Error() string
}
