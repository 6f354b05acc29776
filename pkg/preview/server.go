package preview

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vito/previewd/internal/dashboard"
	"github.com/vito/previewd/internal/telemetry"
)

// viewerBufferCap and renderBufferCap are the Viewer/Render Broadcast
// capacities from §5's channel topology table.
const (
	viewerBufferCap = 32
	renderBufferCap = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SessionFactory produces the per-viewer RenderSession used by a newly
// accepted data-plane connection; it is supplied by the engine adapter
// that also implements Compiler.
type SessionFactory func() RenderSession

// Server is the top-level process: one Compiler Supervisor, one Editor
// Actor, and a dynamic set of per-viewer actor triples, wired together
// over http.Server listeners for the data-plane and control-plane
// websockets (§6).
type Server struct {
	cfg      Config
	compiler Compiler
	sessions SessionFactory

	cell            *DocumentCell
	renderBroadcast *Broadcast[RenderTrigger]
	viewerBroadcast *Broadcast[ViewerEvent]
	editorQueue     *Queue[EditorEvent]
	supervisor      *Supervisor

	metrics *telemetry.Metrics
	log     *slog.Logger

	statusFeed  *dashboard.Feed
	viewerCount atomic.Int64

	mu          sync.Mutex
	editorConn  bool
	dataServer  *http.Server
	ctrlServer  *http.Server
	viewerWG    sync.WaitGroup
	cancelAll   context.CancelFunc
}

// SetStatusFeed attaches the operator dashboard's status sink. Called
// once, before Run, only when the dashboard is enabled; nil is a valid
// no-op default.
func (s *Server) SetStatusFeed(feed *dashboard.Feed) {
	s.statusFeed = feed
	s.supervisor.SetStatusFeed(feed)
}

func (s *Server) pushStatus(lastEvent string) {
	if s.statusFeed == nil {
		return
	}
	s.statusFeed.Push(dashboard.Status{
		ConnectedViewers: int(s.viewerCount.Load()),
		LastEvent:        lastEvent,
		UpdatedAt:        time.Now(),
	})
}

// NewServer wires every shared channel and the Supervisor, but does not
// yet listen on any socket; call Run to start serving.
func NewServer(cfg Config, compiler Compiler, sessions SessionFactory, metrics *telemetry.Metrics, log *slog.Logger) *Server {
	cell := NewDocumentCell()
	renderBroadcast := NewBroadcast[RenderTrigger](renderBufferCap)
	viewerBroadcast := NewBroadcast[ViewerEvent](viewerBufferCap)
	editorQueue := NewQueue[EditorEvent]()

	supervisor := NewSupervisor(compiler, cell, renderBroadcast, viewerBroadcast, editorQueue, metrics, log)

	return &Server{
		cfg:             cfg,
		compiler:        compiler,
		sessions:        sessions,
		cell:            cell,
		renderBroadcast: renderBroadcast,
		viewerBroadcast: viewerBroadcast,
		editorQueue:     editorQueue,
		supervisor:      supervisor,
		metrics:         metrics,
		log:             log,
	}
}

// Run starts both listeners and the supervisor, blocking until ctx is
// cancelled or a fatal error occurs (the editor socket closing, per
// invariant §3.6, or a listener failing to bind).
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelAll = cancel
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)

	// Supervisor.Run blocks on the Compiler Queue, which has no context
	// parameter of its own (queue.go), so cancellation is delivered by
	// closing the queue directly — the same pattern used for per-viewer
	// subscriptions below.
	go func() {
		<-ctx.Done()
		s.supervisor.Queue().Close()
	}()
	eg.Go(func() error {
		s.supervisor.Run(ctx)
		return nil
	})

	dataMux := http.NewServeMux()
	dataMux.HandleFunc("/", s.handleViewerConn)
	s.dataServer = &http.Server{Addr: s.cfg.DataPlaneHost, Handler: dataMux}

	ctrlMux := http.NewServeMux()
	ctrlMux.HandleFunc("/", s.handleEditorConn)
	s.ctrlServer = &http.Server{Addr: s.cfg.ControlPlaneHost, Handler: ctrlMux}

	eg.Go(func() error {
		s.log.Info("data-plane listening", "addr", s.cfg.DataPlaneHost)
		if err := s.dataServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("data-plane listener: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		s.log.Info("control-plane listening", "addr", s.cfg.ControlPlaneHost)
		if err := s.ctrlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("control-plane listener: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		_ = s.dataServer.Close()
		_ = s.ctrlServer.Close()
		return nil
	})

	return eg.Wait()
}

func (s *Server) handleViewerConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("viewer upgrade failed", "error", err)
		return
	}

	s.viewerWG.Add(1)
	if s.metrics != nil {
		s.metrics.ViewerCount.Add(r.Context(), 1)
	}
	s.viewerCount.Add(1)
	s.pushStatus("viewer connected")

	// The handler blocks for the viewer's lifetime: r.Context() is
	// cancelled as soon as ServeHTTP returns.
	defer s.viewerWG.Done()
	defer func() {
		if s.metrics != nil {
			s.metrics.ViewerCount.Add(context.Background(), -1)
		}
		s.viewerCount.Add(-1)
		s.pushStatus("viewer disconnected")
	}()
	s.runViewer(r.Context(), conn)
}

// runViewer spins up the per-viewer Render, Outline Render, and Webview
// actor triple and runs them until the connection drops (invariant
// §3.5: tearing one viewer down never affects another, or the
// supervisor).
func (s *Server) runViewer(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := s.sessions()

	renderOut := NewQueue[[]byte]()
	renderTriggers := s.renderBroadcast.Subscribe()
	outlineTriggers := s.renderBroadcast.Subscribe()
	viewerEvents := s.viewerBroadcast.Subscribe()

	renderActor := NewRenderActor(session, s.cell, renderTriggers, renderOut, s.supervisor.Queue(), s.metrics, s.log)
	outlineActor := NewOutlineRenderActor(s.cell, outlineTriggers, s.editorQueue, s.log)
	webviewActor := NewWebviewActor(
		conn,
		viewerEvents,
		renderOut,
		s.renderBroadcast,
		s.viewerBroadcast,
		s.supervisor.Queue(),
		s.cfg.PartialRendering,
		s.log,
	)

	// Subscriber.Recv has no context parameter, so cancellation is
	// delivered by closing the subscriptions directly; each actor's own
	// deferred Close is then a harmless no-op second call.
	go func() {
		<-ctx.Done()
		renderTriggers.Close()
		outlineTriggers.Close()
		viewerEvents.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); renderActor.Run(ctx) }()
	go func() { defer wg.Done(); outlineActor.Run(ctx) }()
	go func() {
		defer wg.Done()
		webviewActor.Run(ctx)
		cancel()
	}()
	wg.Wait()
}

func (s *Server) handleEditorConn(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.editorConn {
		s.mu.Unlock()
		http.Error(w, "editor already connected", http.StatusConflict)
		return
	}
	s.editorConn = true
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("editor upgrade failed", "error", err)
		return
	}

	editorActor := NewEditorActor(
		conn,
		s.editorQueue,
		s.supervisor.Queue(),
		s.viewerBroadcast,
		func() {
			s.log.Error("editor connection lost, shutting down")
			if s.cancelAll != nil {
				s.cancelAll()
			}
		},
		s.log,
	)
	editorActor.Run(r.Context())
}

// Wait blocks until every currently-connected viewer's actor triple has
// exited.
func (s *Server) Wait() {
	s.viewerWG.Wait()
}
