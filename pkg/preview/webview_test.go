package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// newWebviewTestPair spins up a real websocket server/client pair via
// httptest, since WebviewActor is written directly against
// *websocket.Conn rather than an interface.
func newWebviewTestPair(t *testing.T) (serverConn *websocket.Conn, clientConn *websocket.Conn, cleanup func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	select {
	case serverConn = <-connCh:
	case <-time.After(time.Second):
		t.Fatal("server never accepted websocket connection")
	}

	cleanup = func() {
		client.Close()
		srv.Close()
	}
	return serverConn, client, cleanup
}

func TestWebviewActorSendsPartialRenderingFrameOnStartup(t *testing.T) {
	serverConn, client, cleanup := newWebviewTestPair(t)
	defer cleanup()

	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	renderOut := NewQueue[[]byte]()
	requests := NewQueue[CompilerRequest]()

	actor := NewWebviewActor(serverConn, viewerBroadcast.Subscribe(), renderOut, renderBroadcast, viewerBroadcast, requests, true, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	_, payload, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "partial-rendering,true", string(payload))
}

func TestWebviewActorForwardsRenderPayloadToClient(t *testing.T) {
	serverConn, client, cleanup := newWebviewTestPair(t)
	defer cleanup()

	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	renderOut := NewQueue[[]byte]()
	requests := NewQueue[CompilerRequest]()

	actor := NewWebviewActor(serverConn, viewerBroadcast.Subscribe(), renderOut, renderBroadcast, viewerBroadcast, requests, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	renderOut.Send([]byte("delta-payload"))

	_, payload, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "delta-payload", string(payload))
}

func TestWebviewActorForwardsViewerBroadcastAsJumpFrame(t *testing.T) {
	serverConn, client, cleanup := newWebviewTestPair(t)
	defer cleanup()

	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	renderOut := NewQueue[[]byte]()
	requests := NewQueue[CompilerRequest]()

	actor := NewWebviewActor(serverConn, viewerBroadcast.Subscribe(), renderOut, renderBroadcast, viewerBroadcast, requests, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	viewerBroadcast.Publish(ViewerEvent{Kind: ViewerSrcToDocJump, Pos: DocumentPosition{PageNo: 2, X: 1.5, Y: 2.5}})

	_, payload, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "jump,2 1.5 2.5", string(payload))
}

func TestWebviewActorCurrentFrameTriggersFullRender(t *testing.T) {
	serverConn, client, cleanup := newWebviewTestPair(t)
	defer cleanup()

	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	triggers := renderBroadcast.Subscribe()
	renderOut := NewQueue[[]byte]()
	requests := NewQueue[CompilerRequest]()

	actor := NewWebviewActor(serverConn, viewerBroadcast.Subscribe(), renderOut, renderBroadcast, viewerBroadcast, requests, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("current")))

	received := triggers.Recv()
	require.Equal(t, RenderFullLatest, received.Value.Kind)
}

func TestWebviewActorOutlineSyncPublishesViewportPosition(t *testing.T) {
	serverConn, client, cleanup := newWebviewTestPair(t)
	defer cleanup()

	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	renderOut := NewQueue[[]byte]()
	requests := NewQueue[CompilerRequest]()

	// This actor's own subscription would also receive its own publish;
	// use an independent subscriber to observe the broadcast.
	observer := viewerBroadcast.Subscribe()

	actor := NewWebviewActor(serverConn, viewerBroadcast.Subscribe(), renderOut, renderBroadcast, viewerBroadcast, requests, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("outline-sync,3 10.5 20.5")))

	received := observer.Recv()
	require.Equal(t, ViewerViewportPosition, received.Value.Kind)
	require.Equal(t, uint32(3), received.Value.Pos.PageNo)
}

func TestWebviewActorSrcLocationForwardsResolveRequest(t *testing.T) {
	serverConn, client, cleanup := newWebviewTestPair(t)
	defer cleanup()

	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	renderOut := NewQueue[[]byte]()
	requests := NewQueue[CompilerRequest]()

	actor := NewWebviewActor(serverConn, viewerBroadcast.Subscribe(), renderOut, renderBroadcast, viewerBroadcast, requests, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("srclocation ff")))

	req, ok := requests.Recv()
	require.True(t, ok)
	require.Equal(t, ReqDocToSrcJumpResolve, req.Kind)
	require.Equal(t, uint64(0xff), req.Range.Start.Span)
}

func TestWebviewActorSrcPathPublishesResolveSpanTrigger(t *testing.T) {
	serverConn, client, cleanup := newWebviewTestPair(t)
	defer cleanup()

	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	triggers := renderBroadcast.Subscribe()
	renderOut := NewQueue[[]byte]()
	requests := NewQueue[CompilerRequest]()

	actor := NewWebviewActor(serverConn, viewerBroadcast.Subscribe(), renderOut, renderBroadcast, viewerBroadcast, requests, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`srcpath [[1,2,"rect"]]`)))

	received := triggers.Recv()
	require.Equal(t, RenderResolveSpan, received.Value.Kind)
	require.Len(t, received.Value.Path, 1)
	require.Equal(t, "rect", received.Value.Path[0].Kind)
}

func TestWebviewActorUnrecognizedFrameClosesConnection(t *testing.T) {
	serverConn, client, cleanup := newWebviewTestPair(t)
	defer cleanup()

	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	renderOut := NewQueue[[]byte]()
	requests := NewQueue[CompilerRequest]()

	actor := NewWebviewActor(serverConn, viewerBroadcast.Subscribe(), renderOut, renderBroadcast, viewerBroadcast, requests, false, testLogger())
	done := make(chan struct{})
	go func() {
		actor.Run(context.Background())
		close(done)
	}()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("garbage")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Webview Actor never exited on an unrecognized frame")
	}
}

func TestWebviewActorExitsWhenContextCancelled(t *testing.T) {
	serverConn, _, cleanup := newWebviewTestPair(t)
	defer cleanup()

	viewerBroadcast := NewBroadcast[ViewerEvent](8)
	renderBroadcast := NewBroadcast[RenderTrigger](8)
	renderOut := NewQueue[[]byte]()
	requests := NewQueue[CompilerRequest]()

	actor := NewWebviewActor(serverConn, viewerBroadcast.Subscribe(), renderOut, renderBroadcast, viewerBroadcast, requests, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		actor.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Webview Actor never exited after context cancellation")
	}
}
