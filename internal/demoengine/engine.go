// Package demoengine is a minimal reference implementation of the
// preview.Compiler/preview.RenderSession collaborator pair, standing in
// for the real typesetting engine that this module treats as an
// external dependency (never implemented here). It treats every shadow
// file as a page of plain text and markdown-style `#` headings, just
// enough to exercise the supervisor, outline extraction, and render
// pipeline end to end without a real engine wired in.
package demoengine

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vito/previewd/pkg/preview"
)

// Engine is a process-wide demo compiler: it holds the current shadow
// overlay and produces a new Document on every Compile call.
type Engine struct {
	mu      sync.Mutex
	files   map[string]string
	version atomic.Uint64
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{files: make(map[string]string)}
}

// AddMemoryChanges implements preview.Compiler.
func (e *Engine) AddMemoryChanges(event preview.MemoryEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch event.Kind {
	case preview.MemorySync:
		e.files = make(map[string]string, len(event.Files))
		for path, content := range event.Files {
			e.files[path] = content
		}
	case preview.MemoryUpdate:
		for path, content := range event.Files {
			e.files[path] = content
		}
		for _, path := range event.Removed {
			delete(e.files, path)
		}
	}
}

// Compile implements preview.Compiler. It builds one page per shadow
// file, sorted by path for determinism.
func (e *Engine) Compile(ctx context.Context) (preview.Document, preview.Diagnostics, error) {
	e.mu.Lock()
	files := make(map[string]string, len(e.files))
	for k, v := range e.files {
		files[k] = v
	}
	e.mu.Unlock()

	if len(files) == 0 {
		return nil, emptyDiagnostics{}, nil
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	doc := &document{version: e.version.Add(1)}
	for pageIdx, path := range paths {
		page := &pageText{path: path, pageNo: uint32(pageIdx + 1)}
		var spanCounter uint64

		var lastSkippedDepth = -1
		scanner := bufio.NewScanner(strings.NewReader(files[path]))
		lineNo := uint32(0)
		for scanner.Scan() {
			line := scanner.Text()
			spanCounter++
			trimmed := strings.TrimLeft(line, "#")
			level := len(line) - len(trimmed)
			if level > 0 && strings.HasPrefix(trimmed, " ") {
				title := strings.TrimSpace(trimmed)
				bookmarked := lastSkippedDepth == -1 || level <= lastSkippedDepth
				page.headings = append(page.headings, preview.Heading{
					Title:      title,
					Level:      level,
					Bookmarked: bookmarked,
					SpanHex:    fmt.Sprintf("%x", spanCounter),
					Loc:        headingLoc{path: path, line: lineNo, span: spanCounter},
				})
				if !bookmarked {
					lastSkippedDepth = level
				} else {
					lastSkippedDepth = -1
				}
			}
			page.lines = append(page.lines, lineRecord{text: line, span: spanCounter})
			lineNo++
		}
		doc.pages = append(doc.pages, page)
	}

	return doc, nil, nil
}

// ResolveSrcToDocJump implements preview.Compiler by locating the page
// whose path matches and mapping the line to a synthetic y-coordinate.
func (e *Engine) ResolveSrcToDocJump(path string, line, col uint32) (preview.DocumentPosition, bool) {
	e.mu.Lock()
	_, ok := e.files[path]
	// Pages are laid out in sorted path order, so the page number is the
	// count of paths sorting at or before this one.
	var pageNo uint32
	for p := range e.files {
		if p <= path {
			pageNo++
		}
	}
	e.mu.Unlock()
	if !ok {
		return preview.DocumentPosition{}, false
	}
	return preview.DocumentPosition{PageNo: pageNo, X: float32(col), Y: float32(line) * 12}, true
}

// ResolveSpanAndOffset implements preview.Compiler by treating the span
// id as a line number within the sole synthetic source file it was
// produced from; the offset is used as the column, and both endpoints of
// the returned range are that same position.
func (e *Engine) ResolveSpanAndOffset(span preview.SpanOffset) (preview.DocToSrcJumpInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for path, content := range e.files {
		lineNo := uint32(0)
		scanner := bufio.NewScanner(strings.NewReader(content))
		counter := uint64(0)
		for scanner.Scan() {
			counter++
			if counter == span.Span {
				pos := preview.SourcePosition{Line: lineNo, Column: span.Offset}
				return preview.DocToSrcJumpInfo{Filepath: path, Start: &pos, End: &pos}, true
			}
			lineNo++
		}
	}
	return preview.DocToSrcJumpInfo{}, false
}

// NewSession implements preview.SessionFactory.
func (e *Engine) NewSession() preview.RenderSession {
	return &session{}
}

type emptyDiagnostics struct{}

func (emptyDiagnostics) Error() string { return "no shadow files" }

type headingLoc struct {
	path string
	line uint32
	span uint64
}

type lineRecord struct {
	text string
	span uint64
}

type pageText struct {
	path     string
	pageNo   uint32
	lines    []lineRecord
	headings []preview.Heading
}

type document struct {
	version uint64
	pages   []*pageText
}

func (d *document) PageCount() int  { return len(d.pages) }
func (d *document) Version() uint64 { return d.version }

func (d *document) Introspector() preview.Introspector {
	return &introspector{doc: d}
}

type introspector struct {
	doc *document
}

func (i *introspector) Headings() []preview.Heading {
	var all []preview.Heading
	for _, page := range i.doc.pages {
		all = append(all, page.headings...)
	}
	return all
}

func (i *introspector) Position(h preview.Heading) preview.DocumentPosition {
	loc, ok := h.Loc.(headingLoc)
	if !ok {
		return preview.DocumentPosition{}
	}
	for _, page := range i.doc.pages {
		if page.path == loc.path {
			return preview.DocumentPosition{PageNo: page.pageNo, X: 0, Y: float32(loc.line) * 12}
		}
	}
	return preview.DocumentPosition{}
}

// wirePayload is the demo engine's self-describing render payload: a
// length-prefixed JSON document so PackCurrent and PackDelta share one
// wire shape.
type wirePayload struct {
	Version uint64   `json:"version"`
	Pages   []string `json:"pages"`
}

type session struct {
	mu          sync.Mutex
	lastVersion uint64
	attachDebug bool
}

func (s *session) PackCurrent() ([]byte, bool) {
	return nil, false
}

func (s *session) PackDelta(doc preview.Document) []byte {
	d, ok := doc.(*document)
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.lastVersion = d.version
	s.mu.Unlock()

	pages := make([]string, 0, len(d.pages))
	for _, page := range d.pages {
		var b strings.Builder
		for _, line := range page.lines {
			b.WriteString(line.text)
			b.WriteString("\n")
		}
		pages = append(pages, b.String())
	}

	payload, err := json.Marshal(wirePayload{Version: d.version, Pages: pages})
	if err != nil {
		return nil
	}

	framed := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(framed[:8], d.version)
	copy(framed[8:], payload)
	return framed
}

func (s *session) SourceSpan(path []preview.SpanPathSegment) (preview.SpanRange, bool) {
	if len(path) == 0 {
		return preview.SpanRange{}, false
	}
	last := path[len(path)-1]
	offset := preview.SpanOffset{Span: uint64(last.Major), Offset: last.Minor}
	return preview.SpanRange{Start: offset, End: offset}, true
}

func (s *session) SetAttachDebugInfo(attach bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachDebug = attach
}

func (s *session) Evict(budget int) {}
