package preview

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vito/previewd/internal/dashboard"
	"github.com/vito/previewd/internal/telemetry"
)

var tracer = otel.Tracer("github.com/vito/previewd/pkg/preview")

// Supervisor is the Compiler Supervisor actor (§4.1): the sole owner of
// the compile driver and shadow VFS, draining the Compiler Queue on one
// goroutine.
type Supervisor struct {
	compiler Compiler
	shadow   *shadowVFS
	cell     *DocumentCell

	queue           *Queue[CompilerRequest]
	renderBroadcast *Broadcast[RenderTrigger]
	viewerBroadcast *Broadcast[ViewerEvent]
	editorQueue     *Queue[EditorEvent]

	metrics    *telemetry.Metrics
	statusFeed *dashboard.Feed
	log        *slog.Logger
}

// SetStatusFeed attaches the operator dashboard's status sink. nil (the
// default) disables dashboard pushes entirely.
func (s *Supervisor) SetStatusFeed(feed *dashboard.Feed) {
	s.statusFeed = feed
}

// NewSupervisor wires a Supervisor to its collaborators. The caller owns
// construction of the shared channels so Webview/Render actors can be
// wired to the same instances. metrics may be nil, in which case no
// counters are recorded.
func NewSupervisor(
	compiler Compiler,
	cell *DocumentCell,
	renderBroadcast *Broadcast[RenderTrigger],
	viewerBroadcast *Broadcast[ViewerEvent],
	editorQueue *Queue[EditorEvent],
	metrics *telemetry.Metrics,
	log *slog.Logger,
) *Supervisor {
	return &Supervisor{
		compiler:        compiler,
		shadow:          newShadowVFS(),
		cell:            cell,
		queue:           NewQueue[CompilerRequest](),
		renderBroadcast: renderBroadcast,
		viewerBroadcast: viewerBroadcast,
		editorQueue:     editorQueue,
		metrics:         metrics,
		log:             log.With("actor", "supervisor"),
	}
}

// Queue returns the Compiler Queue producers send requests to.
func (s *Supervisor) Queue() *Queue[CompilerRequest] {
	return s.queue
}

// Run drains the Compiler Queue until it is closed. A panic from the
// compile driver is logged with a stack trace and re-panicked so the
// process crashes (§7.6) rather than leaving the supervisor silently
// dead with every other actor blocked forever on its channels.
func (s *Supervisor) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("supervisor panicked", "panic", r, "stack", string(debug.Stack()))
			panic(r)
		}
	}()

	for {
		req, ok := s.queue.Recv()
		if !ok {
			return
		}
		s.handle(ctx, req)
	}
}

func (s *Supervisor) handle(ctx context.Context, req CompilerRequest) {
	switch req.Kind {
	case ReqSyncMemoryFiles:
		event := s.shadow.sync(req.Files, time.Now())
		s.compiler.AddMemoryChanges(event)
		s.recompile(ctx)

	case ReqUpdateMemoryFiles:
		event := s.shadow.update(req.Files, time.Now())
		s.compiler.AddMemoryChanges(event)
		s.recompile(ctx)

	case ReqRemoveMemoryFiles:
		event := s.shadow.remove(req.Paths)
		s.compiler.AddMemoryChanges(event)
		s.recompile(ctx)

	case ReqChangeCursorPosition:
		pos, ok := s.compiler.ResolveSrcToDocJump(req.Path, req.Line, req.Col)
		if !ok {
			s.log.Info("cursor position did not resolve", "path", req.Path)
			return
		}
		s.countJumpResolved(ctx)
		s.viewerBroadcast.Publish(ViewerEvent{Kind: ViewerCursorPosition, Pos: pos})

	case ReqSrcToDocJumpResolve:
		pos, ok := s.compiler.ResolveSrcToDocJump(req.Path, req.Line, req.Col)
		if !ok {
			s.log.Info("src-to-doc jump did not resolve", "path", req.Path)
			return
		}
		s.countJumpResolved(ctx)
		s.viewerBroadcast.Publish(ViewerEvent{Kind: ViewerSrcToDocJump, Pos: pos})

	case ReqDocToSrcJumpResolve:
		info, ok := s.resolveSpanRange(req.Range)
		if !ok {
			s.log.Info("doc-to-src jump did not resolve")
			return
		}
		s.countJumpResolved(ctx)
		s.editorQueue.Send(EditorEvent{Kind: EditorDocToSrcJump, Jump: info})
	}
}

func (s *Supervisor) countJumpResolved(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.JumpResolvedTotal.Add(ctx, 1)
	}
}

// recompile runs exactly one compile attempt, pushing the Compiling
// status first and exactly one of Success/Error on completion (§4.1,
// §8's exactly-one-terminal-status property).
func (s *Supervisor) recompile(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "preview.compile")
	defer span.End()

	if s.metrics != nil {
		s.metrics.CompileTotal.Add(ctx, 1)
	}

	s.editorQueue.Send(EditorEvent{Kind: EditorCompileStatus, Status: Compiling})
	s.pushCompileStatus(Compiling, 0)

	doc, diag, err := s.compiler.Compile(ctx)
	if err != nil {
		s.log.Error("compile failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		if s.metrics != nil {
			s.metrics.CompileErrorTotal.Add(ctx, 1)
		}
		s.editorQueue.Send(EditorEvent{Kind: EditorCompileStatus, Status: CompileError})
		s.pushCompileStatus(CompileError, 0)
		return
	}
	if diag != nil {
		s.log.Warn("compile produced diagnostics", "diagnostics", diag.Error())
		span.SetAttributes(attribute.Bool("preview.compile.has_diagnostics", true))
		if s.metrics != nil {
			s.metrics.CompileErrorTotal.Add(ctx, 1)
		}
		s.editorQueue.Send(EditorEvent{Kind: EditorCompileStatus, Status: CompileError})
		s.pushCompileStatus(CompileError, 0)
		return
	}

	span.SetAttributes(attribute.Int64("preview.compile.version", int64(doc.Version())))
	s.cell.Set(doc)
	s.editorQueue.Send(EditorEvent{Kind: EditorCompileStatus, Status: CompileSuccess})
	s.pushCompileStatus(CompileSuccess, doc.Version())
	s.renderBroadcast.Publish(RenderTrigger{Kind: RenderIncremental})
}

func (s *Supervisor) pushCompileStatus(status CompileStatus, version uint64) {
	if s.statusFeed == nil {
		return
	}
	s.statusFeed.Push(dashboard.Status{
		LastCompile:     status.String(),
		DocumentVersion: version,
		LastEvent:       "compile " + status.String(),
		UpdatedAt:       time.Now(),
	})
}

// resolveSpanRange implements the three-probe algorithm of §4.1: resolve
// the range's start offset, its end offset, and the span's enclosing
// element, then combine them. Same-file in-order results are returned
// verbatim; a same-file reversed pair is swapped; a cross-file or
// single-sided result is passed through as-is. When the enclosing probe
// resolves in the same file, both endpoints are clamped into its bounds
// so a jump never lands outside the element that produced the click.
func (s *Supervisor) resolveSpanRange(r SpanRange) (DocToSrcJumpInfo, bool) {
	startInfo, startOK := s.compiler.ResolveSpanAndOffset(r.Start)
	endInfo, endOK := s.compiler.ResolveSpanAndOffset(r.End)
	enclosing, hasEnclosing := s.compiler.ResolveSpanAndOffset(SpanOffset{Span: r.Start.Span})

	var result DocToSrcJumpInfo
	switch {
	case startOK && endOK && startInfo.Filepath == endInfo.Filepath:
		start, end := startInfo.Start, endInfo.Start
		if start != nil && end != nil && end.Less(*start) {
			start, end = end, start
		}
		result = DocToSrcJumpInfo{Filepath: startInfo.Filepath, Start: start, End: end}
	case startOK:
		result = startInfo
	case endOK:
		result = endInfo
	default:
		return DocToSrcJumpInfo{}, false
	}

	if hasEnclosing && enclosing.Filepath == result.Filepath {
		if enclosing.Start != nil && result.Start != nil && result.Start.Less(*enclosing.Start) {
			result.Start = enclosing.Start
		}
		if enclosing.End != nil && result.End != nil && enclosing.End.Less(*result.End) {
			result.End = enclosing.End
		}
		if enclosing.End != nil && result.Start != nil && enclosing.End.Less(*result.Start) {
			result.Start = enclosing.End
		}
		if enclosing.Start != nil && result.End != nil && result.End.Less(*enclosing.Start) {
			result.End = enclosing.Start
		}
	}

	return result, true
}
