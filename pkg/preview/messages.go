package preview

// CompilerRequestKind discriminates the Compiler Queue request surface
// (§4.1 table).
type CompilerRequestKind int

const (
	ReqSyncMemoryFiles CompilerRequestKind = iota
	ReqUpdateMemoryFiles
	ReqRemoveMemoryFiles
	ReqChangeCursorPosition
	ReqSrcToDocJumpResolve
	ReqDocToSrcJumpResolve
)

// CompilerRequest is one message drained from the Compiler Queue by the
// supervisor. Only the fields relevant to Kind are populated.
type CompilerRequest struct {
	Kind CompilerRequestKind

	Files map[string]string // ReqSyncMemoryFiles, ReqUpdateMemoryFiles
	Paths []string          // ReqRemoveMemoryFiles

	Path string // ReqChangeCursorPosition, ReqSrcToDocJumpResolve
	Line uint32
	Col  uint32

	Range SpanRange // ReqDocToSrcJumpResolve
}

// RenderTriggerKind discriminates Render Broadcast messages (§3).
type RenderTriggerKind int

const (
	RenderFullLatest RenderTriggerKind = iota
	RenderIncremental
	RenderResolveSpan
)

// RenderTrigger is one Render Broadcast message.
type RenderTrigger struct {
	Kind RenderTriggerKind
	Path []SpanPathSegment // RenderResolveSpan only
}

// IsFullRender reports whether this trigger alone would force a full
// render, mirroring the original actor's RenderActorRequest::is_full_render.
func (t RenderTrigger) IsFullRender() bool {
	return t.Kind == RenderFullLatest
}

// ViewerEventKind discriminates Viewer Broadcast messages (§3).
type ViewerEventKind int

const (
	ViewerSrcToDocJump ViewerEventKind = iota
	ViewerCursorPosition
	ViewerViewportPosition
)

// ViewerEvent is one Viewer Broadcast message.
type ViewerEvent struct {
	Kind ViewerEventKind
	Pos  DocumentPosition
}

// token returns the data-plane wire token for this event's frame (§6).
func (e ViewerEvent) token() string {
	switch e.Kind {
	case ViewerSrcToDocJump:
		return "jump"
	case ViewerViewportPosition:
		return "viewport"
	case ViewerCursorPosition:
		return "cursor"
	default:
		return "unknown"
	}
}

// EditorEventKind discriminates Editor Queue messages (§3).
type EditorEventKind int

const (
	EditorDocToSrcJump EditorEventKind = iota
	EditorCompileStatus
	EditorOutline
)

// EditorEvent is one Editor Queue message.
type EditorEvent struct {
	Kind    EditorEventKind
	Jump    DocToSrcJumpInfo // EditorDocToSrcJump
	Status  CompileStatus    // EditorCompileStatus
	Outline Outline          // EditorOutline
}

// CompileStatus mirrors the Compiling -> {Success, Error} lifecycle (§4.1).
type CompileStatus int

const (
	Compiling CompileStatus = iota
	CompileSuccess
	CompileError
)

func (s CompileStatus) String() string {
	switch s {
	case Compiling:
		return "Compiling"
	case CompileSuccess:
		return "CompileSuccess"
	case CompileError:
		return "CompileError"
	default:
		return "Unknown"
	}
}
