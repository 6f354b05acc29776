package preview

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDiagnostics struct{ msg string }

func (d fakeDiagnostics) Error() string { return d.msg }

// fakeCompiler lets each test script exactly what ResolveSpanAndOffset and
// Compile should return, keyed by the request's intent.
type fakeCompiler struct {
	compileDoc   Document
	compileDiag  Diagnostics
	compileErr   error
	resolveFn    func(SpanOffset) (DocToSrcJumpInfo, bool)
	srcToDocFn   func(path string, line, col uint32) (DocumentPosition, bool)
	memoryEvents []MemoryEvent
}

func (f *fakeCompiler) Compile(ctx context.Context) (Document, Diagnostics, error) {
	return f.compileDoc, f.compileDiag, f.compileErr
}

func (f *fakeCompiler) ResolveSrcToDocJump(path string, line, col uint32) (DocumentPosition, bool) {
	if f.srcToDocFn == nil {
		return DocumentPosition{}, false
	}
	return f.srcToDocFn(path, line, col)
}

func (f *fakeCompiler) ResolveSpanAndOffset(span SpanOffset) (DocToSrcJumpInfo, bool) {
	if f.resolveFn == nil {
		return DocToSrcJumpInfo{}, false
	}
	return f.resolveFn(span)
}

func (f *fakeCompiler) AddMemoryChanges(event MemoryEvent) {
	f.memoryEvents = append(f.memoryEvents, event)
}

func newTestSupervisor(compiler Compiler) (*Supervisor, *Queue[EditorEvent]) {
	cell := NewDocumentCell()
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	editorQueue := NewQueue[EditorEvent]()
	sup := NewSupervisor(compiler, cell, renderBroadcast, viewerBroadcast, editorQueue, nil, testLogger())
	return sup, editorQueue
}

func TestSupervisorRunExitsWhenQueueClosed(t *testing.T) {
	compiler := &fakeCompiler{compileDoc: &fakeDocument{version: 1}}
	sup, _ := newTestSupervisor(compiler)

	done := make(chan struct{})
	go func() {
		sup.Run(context.Background())
		close(done)
	}()

	sup.Queue().Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Supervisor.Run never exited after its queue closed")
	}
}

func TestRecompileSendsExactlyOneTerminalStatus(t *testing.T) {
	compiler := &fakeCompiler{compileDoc: &fakeDocument{version: 1}}
	sup, editorQueue := newTestSupervisor(compiler)

	sup.recompile(context.Background())

	first, ok := editorQueue.Recv()
	require.True(t, ok)
	require.Equal(t, EditorCompileStatus, first.Kind)
	require.Equal(t, Compiling, first.Status)

	second, ok := editorQueue.Recv()
	require.True(t, ok)
	require.Equal(t, EditorCompileStatus, second.Kind)
	require.Equal(t, CompileSuccess, second.Status)
}

func TestRecompileErrorSendsCompileError(t *testing.T) {
	compiler := &fakeCompiler{compileErr: context.DeadlineExceeded}
	sup, editorQueue := newTestSupervisor(compiler)

	sup.recompile(context.Background())

	_, _ = editorQueue.Recv() // Compiling
	status, ok := editorQueue.Recv()
	require.True(t, ok)
	require.Equal(t, CompileError, status.Status)
}

func TestRecompileDiagnosticsSendsCompileError(t *testing.T) {
	compiler := &fakeCompiler{compileDiag: fakeDiagnostics{msg: "bad syntax"}}
	sup, editorQueue := newTestSupervisor(compiler)

	sup.recompile(context.Background())

	_, _ = editorQueue.Recv() // Compiling
	status, ok := editorQueue.Recv()
	require.True(t, ok)
	require.Equal(t, CompileError, status.Status)
}

func TestRecompileSuccessPublishesDocumentCellAndRenderTrigger(t *testing.T) {
	doc := &fakeDocument{version: 7}
	compiler := &fakeCompiler{compileDoc: doc}
	sup, editorQueue := newTestSupervisor(compiler)
	triggers := sup.renderBroadcast.Subscribe()

	sup.recompile(context.Background())
	_, _ = editorQueue.Recv()
	_, _ = editorQueue.Recv()

	got, _ := sup.cell.Snapshot()
	require.Equal(t, doc, got)

	received := triggers.Recv()
	require.Equal(t, RenderIncremental, received.Value.Kind)
}

func TestResolveSpanRangeSameFileInOrder(t *testing.T) {
	start := SourcePosition{Line: 1, Column: 0}
	end := SourcePosition{Line: 2, Column: 0}
	rangeStart := SpanOffset{Span: 1, Offset: 1}
	rangeEnd := SpanOffset{Span: 2, Offset: 1}
	compiler := &fakeCompiler{
		resolveFn: func(span SpanOffset) (DocToSrcJumpInfo, bool) {
			switch span {
			case rangeStart:
				return DocToSrcJumpInfo{Filepath: "a.typ", Start: &start, End: &start}, true
			case rangeEnd:
				return DocToSrcJumpInfo{Filepath: "a.typ", Start: &end, End: &end}, true
			}
			return DocToSrcJumpInfo{}, false // enclosing probe (Offset 0) has no match: no clamp
		},
	}
	sup, _ := newTestSupervisor(compiler)

	result, ok := sup.resolveSpanRange(SpanRange{Start: rangeStart, End: rangeEnd})
	require.True(t, ok)
	require.Equal(t, "a.typ", result.Filepath)
	require.Equal(t, start, *result.Start)
	require.Equal(t, end, *result.End)
}

func TestResolveSpanRangeSameFileSwapsReversedPair(t *testing.T) {
	earlier := SourcePosition{Line: 1, Column: 0}
	later := SourcePosition{Line: 5, Column: 0}
	rangeStart := SpanOffset{Span: 1, Offset: 1}
	rangeEnd := SpanOffset{Span: 2, Offset: 1}
	compiler := &fakeCompiler{
		resolveFn: func(span SpanOffset) (DocToSrcJumpInfo, bool) {
			switch span {
			case rangeStart: // the "start" probe resolves to the later position
				return DocToSrcJumpInfo{Filepath: "a.typ", Start: &later, End: &later}, true
			case rangeEnd: // the "end" probe resolves to the earlier position
				return DocToSrcJumpInfo{Filepath: "a.typ", Start: &earlier, End: &earlier}, true
			}
			return DocToSrcJumpInfo{}, false
		},
	}
	sup, _ := newTestSupervisor(compiler)

	result, ok := sup.resolveSpanRange(SpanRange{Start: rangeStart, End: rangeEnd})
	require.True(t, ok)
	require.Equal(t, earlier, *result.Start)
	require.Equal(t, later, *result.End)
}

func TestResolveSpanRangeDegenerateRangeResolves(t *testing.T) {
	pos := SourcePosition{Line: 3, Column: 4}
	compiler := &fakeCompiler{
		resolveFn: func(span SpanOffset) (DocToSrcJumpInfo, bool) {
			return DocToSrcJumpInfo{Filepath: "a.typ", Start: &pos, End: &pos}, true
		},
	}
	sup, _ := newTestSupervisor(compiler)

	offset := SpanOffset{Span: 9}
	result, ok := sup.resolveSpanRange(SpanRange{Start: offset, End: offset})
	require.True(t, ok)
	require.Equal(t, pos, *result.Start)
	require.Equal(t, pos, *result.End)
}

func TestResolveSpanRangeClampsToEnclosingElement(t *testing.T) {
	enclosingStart := SourcePosition{Line: 2, Column: 0}
	enclosingEnd := SourcePosition{Line: 10, Column: 0}
	outOfBoundsStart := SourcePosition{Line: 0, Column: 0} // before enclosing.Start
	outOfBoundsEnd := SourcePosition{Line: 20, Column: 0}  // after enclosing.End

	rangeStart := SpanOffset{Span: 1, Offset: 5}
	rangeEnd := SpanOffset{Span: 2, Offset: 5}
	enclosingProbe := SpanOffset{Span: 1} // SpanOffset{Span: r.Start.Span}, offset zeroed

	compiler := &fakeCompiler{
		resolveFn: func(span SpanOffset) (DocToSrcJumpInfo, bool) {
			switch span {
			case rangeStart:
				return DocToSrcJumpInfo{Filepath: "a.typ", Start: &outOfBoundsStart, End: &outOfBoundsStart}, true
			case rangeEnd:
				return DocToSrcJumpInfo{Filepath: "a.typ", Start: &outOfBoundsEnd, End: &outOfBoundsEnd}, true
			case enclosingProbe:
				return DocToSrcJumpInfo{Filepath: "a.typ", Start: &enclosingStart, End: &enclosingEnd}, true
			}
			return DocToSrcJumpInfo{}, false
		},
	}
	sup, _ := newTestSupervisor(compiler)

	result, ok := sup.resolveSpanRange(SpanRange{Start: rangeStart, End: rangeEnd})
	require.True(t, ok)
	// Both endpoints fell outside the enclosing element's bounds, so both
	// get pulled back in: Start raised up to enclosingStart, End lowered
	// down to enclosingEnd.
	require.Equal(t, enclosingStart, *result.Start)
	require.Equal(t, enclosingEnd, *result.End)
}

func TestResolveSpanRangeCrossFileUsesStartOnly(t *testing.T) {
	posA := SourcePosition{Line: 1, Column: 0}
	posB := SourcePosition{Line: 1, Column: 0}
	compiler := &fakeCompiler{
		resolveFn: func(span SpanOffset) (DocToSrcJumpInfo, bool) {
			switch span.Span {
			case 1:
				return DocToSrcJumpInfo{Filepath: "a.typ", Start: &posA, End: &posA}, true
			case 2:
				return DocToSrcJumpInfo{Filepath: "b.typ", Start: &posB, End: &posB}, true
			}
			return DocToSrcJumpInfo{}, false
		},
	}
	sup, _ := newTestSupervisor(compiler)

	result, ok := sup.resolveSpanRange(SpanRange{Start: SpanOffset{Span: 1}, End: SpanOffset{Span: 2}})
	require.True(t, ok)
	require.Equal(t, "a.typ", result.Filepath)
}

func TestResolveSpanRangeNeitherEndpointResolvesFails(t *testing.T) {
	compiler := &fakeCompiler{}
	sup, _ := newTestSupervisor(compiler)

	_, ok := sup.resolveSpanRange(SpanRange{Start: SpanOffset{Span: 1}, End: SpanOffset{Span: 2}})
	require.False(t, ok)
}
