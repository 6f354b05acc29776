package preview

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeTimeout bounds how long a single viewer frame write may take
// before the connection is considered dead.
const writeTimeout = 10 * time.Second

// WebviewActor owns one viewer websocket connection (§4.4). Per
// gorilla/websocket's single-writer-single-reader rule, its readPump
// goroutine is the only caller of conn.ReadMessage and its Run loop the
// only caller of conn.WriteMessage; the mutex below guards writes
// against a concurrent close, mirroring the teacher's Session.mu write
// guard.
type WebviewActor struct {
	ID   uuid.UUID
	conn *websocket.Conn

	viewerEvents    *Subscriber[ViewerEvent]
	renderOut       *Queue[[]byte]
	renderBroadcast *Broadcast[RenderTrigger]
	viewerBroadcast *Broadcast[ViewerEvent]
	requests        *Queue[CompilerRequest]

	partialRendering bool

	mu     sync.Mutex
	closed bool
	stop   chan struct{}

	log *slog.Logger
}

// NewWebviewActor constructs a Webview Actor for a newly accepted viewer
// connection.
func NewWebviewActor(
	conn *websocket.Conn,
	viewerEvents *Subscriber[ViewerEvent],
	renderOut *Queue[[]byte],
	renderBroadcast *Broadcast[RenderTrigger],
	viewerBroadcast *Broadcast[ViewerEvent],
	requests *Queue[CompilerRequest],
	partialRendering bool,
	log *slog.Logger,
) *WebviewActor {
	id := uuid.New()
	return &WebviewActor{
		ID:               id,
		conn:             conn,
		viewerEvents:     viewerEvents,
		renderOut:        renderOut,
		renderBroadcast:  renderBroadcast,
		viewerBroadcast:  viewerBroadcast,
		requests:         requests,
		partialRendering: partialRendering,
		stop:             make(chan struct{}),
		log:              log.With("actor", "webview", "viewer", id),
	}
}

// Run drives the four-way select loop until the connection closes, the
// context is cancelled, or a protocol error forces a close (§4.4 step 4).
// Closing always cascades: callers are expected to also tear down this
// viewer's paired Render and Outline Render actors once Run returns.
func (a *WebviewActor) Run(ctx context.Context) {
	defer a.close()

	incoming := make(chan []byte)
	viewerCh := make(chan ViewerEvent)
	renderCh := make(chan []byte)

	go a.readPump(incoming)
	go a.pumpViewerEvents(viewerCh)
	go a.pumpRenderOut(renderCh)

	if a.partialRendering {
		if !a.writeBinary([]byte("partial-rendering,true")) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-a.stop:
			return

		case ev, ok := <-viewerCh:
			if !ok {
				return
			}
			if !a.writeBinary([]byte(viewerFrame(ev))) {
				return
			}

		case payload, ok := <-renderCh:
			if !ok {
				return
			}
			if !a.writeBinary(payload) {
				return
			}

		case frame, ok := <-incoming:
			if !ok {
				return
			}
			if !a.handleFrame(frame) {
				return
			}
		}
	}
}

func (a *WebviewActor) readPump(incoming chan<- []byte) {
	defer close(incoming)
	for {
		_, payload, err := a.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case incoming <- payload:
		case <-a.stop:
			return
		}
	}
}

func (a *WebviewActor) pumpViewerEvents(out chan<- ViewerEvent) {
	defer close(out)
	for {
		received := a.viewerEvents.Recv()
		if received.Closed {
			return
		}
		if received.Lagged {
			continue
		}
		select {
		case out <- received.Value:
		case <-a.stop:
			return
		}
	}
}

func (a *WebviewActor) pumpRenderOut(out chan<- []byte) {
	defer close(out)
	for {
		payload, ok := a.renderOut.Recv()
		if !ok {
			return
		}
		select {
		case out <- payload:
		case <-a.stop:
			return
		}
	}
}

func viewerFrame(ev ViewerEvent) string {
	return fmt.Sprintf("%s,%d %g %g", ev.token(), ev.Pos.PageNo, ev.Pos.X, ev.Pos.Y)
}

// handleFrame parses one client->server text frame (§6). It returns
// false when the connection should be closed, which happens only for an
// unrecognized frame (§4.4 step 3's "anything else"); EOF is handled by
// Run when the read pump closes its channel.
func (a *WebviewActor) handleFrame(payload []byte) bool {
	text := string(payload)

	switch {
	case text == "current":
		a.renderBroadcast.Publish(RenderTrigger{Kind: RenderFullLatest})
		return true

	case strings.HasPrefix(text, "srclocation "):
		return a.handleSrcLocation(strings.TrimPrefix(text, "srclocation "))

	case strings.HasPrefix(text, "outline-sync,"):
		return a.handleOutlineSync(strings.TrimPrefix(text, "outline-sync,"))

	case strings.HasPrefix(text, "srcpath "):
		return a.handleSrcPath(strings.TrimPrefix(text, "srcpath "))

	default:
		a.log.Warn("unrecognized viewer frame", "frame", text)
		a.writeBinary([]byte("error,unrecognized frame"))
		return false
	}
}

func (a *WebviewActor) handleSrcLocation(hexID string) bool {
	raw, err := hex.DecodeString(strings.TrimSpace(hexID))
	if err != nil || len(raw) == 0 {
		a.log.Info("malformed srclocation frame", "value", hexID)
		return true
	}
	var span uint64
	for _, b := range raw {
		span = span<<8 | uint64(b)
	}
	offset := SpanOffset{Span: span}
	a.requests.Send(CompilerRequest{Kind: ReqDocToSrcJumpResolve, Range: SpanRange{Start: offset, End: offset}})
	return true
}

func (a *WebviewActor) handleOutlineSync(args string) bool {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		a.log.Info("malformed outline-sync frame", "value", args)
		return true
	}
	page, err1 := strconv.ParseUint(fields[0], 10, 32)
	x, err2 := strconv.ParseFloat(fields[1], 32)
	y, err3 := strconv.ParseFloat(fields[2], 32)
	if err1 != nil || err2 != nil || err3 != nil {
		a.log.Info("malformed outline-sync frame", "value", args)
		return true
	}
	a.viewerBroadcast.Publish(ViewerEvent{
		Kind: ViewerViewportPosition,
		Pos:  DocumentPosition{PageNo: uint32(page), X: float32(x), Y: float32(y)},
	})
	return true
}

func (a *WebviewActor) handleSrcPath(rawJSON string) bool {
	var triples [][3]json.RawMessage
	if err := json.Unmarshal([]byte(rawJSON), &triples); err != nil {
		a.log.Info("malformed srcpath frame", "error", err)
		return true
	}

	path := make([]SpanPathSegment, 0, len(triples))
	for _, t := range triples {
		var major, minor uint32
		var kind string
		if err := json.Unmarshal(t[0], &major); err != nil {
			a.log.Info("malformed srcpath element", "error", err)
			return true
		}
		if err := json.Unmarshal(t[1], &minor); err != nil {
			a.log.Info("malformed srcpath element", "error", err)
			return true
		}
		if err := json.Unmarshal(t[2], &kind); err != nil {
			a.log.Info("malformed srcpath element", "error", err)
			return true
		}
		path = append(path, SpanPathSegment{Major: major, Minor: minor, Kind: kind})
	}

	a.renderBroadcast.Publish(RenderTrigger{Kind: RenderResolveSpan, Path: path})
	return true
}

func (a *WebviewActor) writeBinary(payload []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := a.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		a.log.Debug("viewer write failed", "error", err)
		return false
	}
	return true
}

func (a *WebviewActor) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stop)
	a.viewerEvents.Close()
	a.conn.Close()
}
