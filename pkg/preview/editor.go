package preview

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EditorActor owns the singleton editor control-plane connection (§4.5).
// Unlike a Webview Actor, losing this connection ends the session:
// onDisconnect is invoked exactly once, and the caller is expected to
// wire it to shut the whole process down (invariant §3.6).
type EditorActor struct {
	conn *websocket.Conn

	inbox           *Queue[EditorEvent]
	supervisorQueue *Queue[CompilerRequest]
	viewerBroadcast *Broadcast[ViewerEvent]

	onDisconnect func()

	mu     sync.Mutex
	closed bool

	log *slog.Logger
}

// NewEditorActor constructs the Editor Actor. onDisconnect is called at
// most once, when the editor socket is lost for any reason.
func NewEditorActor(
	conn *websocket.Conn,
	inbox *Queue[EditorEvent],
	supervisorQueue *Queue[CompilerRequest],
	viewerBroadcast *Broadcast[ViewerEvent],
	onDisconnect func(),
	log *slog.Logger,
) *EditorActor {
	return &EditorActor{
		conn:            conn,
		inbox:           inbox,
		supervisorQueue: supervisorQueue,
		viewerBroadcast: viewerBroadcast,
		onDisconnect:    onDisconnect,
		log:             log.With("actor", "editor"),
	}
}

type wireEditorScrollTo struct {
	Event    string          `json:"event"`
	Filepath string          `json:"filepath"`
	Start    *SourcePosition `json:"start,omitempty"`
	End      *SourcePosition `json:"end,omitempty"`
}

type wireCompileStatus struct {
	Event  string `json:"event"`
	Status string `json:"status"`
}

type wireOutline struct {
	Event string        `json:"event"`
	Items []OutlineItem `json:"items"`
}

type wireSync struct {
	Event string `json:"event"`
}

type wireIncoming struct {
	Event     string            `json:"event"`
	Filepath  string            `json:"filepath"`
	Line      uint32            `json:"line"`
	Character uint32            `json:"character"`
	Position  *DocumentPosition `json:"position"`
	Span      string            `json:"span"`
	Files     json.RawMessage   `json:"files"`
}

// Run sends the startup sync announcement, then drives both directions
// until the connection is lost.
func (a *EditorActor) Run(ctx context.Context) {
	defer a.disconnect()

	a.writeJSON(wireSync{Event: "syncEditorChanges"})

	incoming := make(chan []byte)
	outbox := make(chan EditorEvent)
	stop := make(chan struct{})
	defer close(stop)

	go a.readPump(incoming, stop)
	go a.pumpInbox(outbox, stop)

	for {
		select {
		case <-ctx.Done():
			return

		case payload, ok := <-incoming:
			if !ok {
				return
			}
			a.handleIncoming(payload)

		case event, ok := <-outbox:
			if !ok {
				return
			}
			a.sendEvent(event)
		}
	}
}

// pumpInbox forwards Editor Queue events into outbox so Run can select
// over it alongside incoming wire frames.
func (a *EditorActor) pumpInbox(outbox chan<- EditorEvent, stop <-chan struct{}) {
	defer close(outbox)
	for {
		event, ok := a.inbox.Recv()
		if !ok {
			return
		}
		select {
		case outbox <- event:
		case <-stop:
			return
		}
	}
}

func (a *EditorActor) readPump(incoming chan<- []byte, stop <-chan struct{}) {
	defer close(incoming)
	for {
		_, payload, err := a.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case incoming <- payload:
		case <-stop:
			return
		}
	}
}

func (a *EditorActor) sendEvent(event EditorEvent) {
	switch event.Kind {
	case EditorDocToSrcJump:
		a.writeJSON(wireEditorScrollTo{
			Event:    "editorScrollTo",
			Filepath: event.Jump.Filepath,
			Start:    event.Jump.Start,
			End:      event.Jump.End,
		})
	case EditorCompileStatus:
		a.writeJSON(wireCompileStatus{Event: "compileStatus", Status: event.Status.String()})
	case EditorOutline:
		a.writeJSON(wireOutline{Event: "outline", Items: event.Outline.Items})
	}
}

// handleIncoming decodes one control frame. Parse failures and unknown
// events are logged and dropped; the connection stays open (§4.5, §7.1).
func (a *EditorActor) handleIncoming(payload []byte) {
	var msg wireIncoming
	if err := json.Unmarshal(payload, &msg); err != nil {
		a.log.Warn("malformed editor frame", "error", err)
		return
	}

	switch msg.Event {
	case "changeCursorPosition":
		a.supervisorQueue.Send(CompilerRequest{
			Kind: ReqChangeCursorPosition,
			Path: msg.Filepath,
			Line: msg.Line,
			Col:  msg.Character,
		})

	case "panelScrollTo":
		a.supervisorQueue.Send(CompilerRequest{
			Kind: ReqSrcToDocJumpResolve,
			Path: msg.Filepath,
			Line: msg.Line,
			Col:  msg.Character,
		})

	case "panelScrollByPosition":
		if msg.Position == nil {
			a.log.Warn("panelScrollByPosition missing position")
			return
		}
		a.viewerBroadcast.Publish(ViewerEvent{Kind: ViewerViewportPosition, Pos: *msg.Position})

	case "sourceScrollBySpan":
		raw, err := hex.DecodeString(msg.Span)
		if err != nil || len(raw) == 0 {
			a.log.Warn("malformed sourceScrollBySpan", "span", msg.Span)
			return
		}
		var span uint64
		for _, b := range raw {
			span = span<<8 | uint64(b)
		}
		offset := SpanOffset{Span: span}
		a.supervisorQueue.Send(CompilerRequest{Kind: ReqDocToSrcJumpResolve, Range: SpanRange{Start: offset, End: offset}})

	case "syncMemoryFiles":
		var files map[string]string
		if err := json.Unmarshal(msg.Files, &files); err != nil {
			a.log.Warn("malformed syncMemoryFiles", "error", err)
			return
		}
		a.supervisorQueue.Send(CompilerRequest{Kind: ReqSyncMemoryFiles, Files: files})

	case "updateMemoryFiles":
		var files map[string]string
		if err := json.Unmarshal(msg.Files, &files); err != nil {
			a.log.Warn("malformed updateMemoryFiles", "error", err)
			return
		}
		a.supervisorQueue.Send(CompilerRequest{Kind: ReqUpdateMemoryFiles, Files: files})

	case "removeMemoryFiles":
		var paths []string
		if err := json.Unmarshal(msg.Files, &paths); err != nil {
			a.log.Warn("malformed removeMemoryFiles", "error", err)
			return
		}
		a.supervisorQueue.Send(CompilerRequest{Kind: ReqRemoveMemoryFiles, Paths: paths})

	default:
		a.log.Warn("unrecognized editor event", "event", msg.Event)
	}
}

func (a *EditorActor) writeJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		a.log.Error("failed to encode editor frame", "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := a.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		a.log.Debug("editor write failed", "error", err)
	}
}

func (a *EditorActor) disconnect() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.conn.Close()
	if a.onDisconnect != nil {
		a.onDisconnect()
	}
}
