package preview

import (
	"context"
	"log/slog"
	"time"

	"github.com/vito/previewd/internal/telemetry"
)

// evictBudget bounds how many cached incremental entries a render session
// is asked to keep per cycle (§4.2 step 7).
const evictBudget = 30

// RenderActor turns Document Cell updates into wire-sized payloads for
// one viewer, coalescing bursts of trigger events into a single render
// per cycle (§4.2).
type RenderActor struct {
	session  RenderSession
	cell     *DocumentCell
	triggers *Subscriber[RenderTrigger]
	out      *Queue[[]byte]
	requests *Queue[CompilerRequest]
	metrics  *telemetry.Metrics
	log      *slog.Logger
}

// NewRenderActor constructs a Render Actor. out is the bytes queue its
// paired Webview Actor reads from; requests is the Compiler Queue, used
// to forward resolved ResolveSpan probes. metrics may be nil, in which
// case no render duration is recorded.
func NewRenderActor(
	session RenderSession,
	cell *DocumentCell,
	triggers *Subscriber[RenderTrigger],
	out *Queue[[]byte],
	requests *Queue[CompilerRequest],
	metrics *telemetry.Metrics,
	log *slog.Logger,
) *RenderActor {
	return &RenderActor{
		session:  session,
		cell:     cell,
		triggers: triggers,
		out:      out,
		requests: requests,
		metrics:  metrics,
		log:      log.With("actor", "render"),
	}
}

// Run executes the blocking-receive/drain/render loop until the trigger
// broadcast closes or the output queue is closed by its consumer. out is
// dedicated to this actor's paired Webview Actor, so it is closed here
// on exit to unblock that actor's read of it (§3.5's per-viewer teardown).
func (a *RenderActor) Run(ctx context.Context) {
	defer a.out.Close()
	defer a.triggers.Close()

	for {
		first := a.triggers.Recv()
		if first.Closed {
			return
		}

		fullRender := first.Lagged
		var paths [][]SpanPathSegment
		if !first.Lagged && first.Value.IsFullRender() {
			fullRender = true
		}
		if !first.Lagged && first.Value.Kind == RenderResolveSpan {
			paths = append(paths, first.Value.Path)
		}

		drain := true
		for drain {
			received, ok := a.triggers.TryRecv()
			if !ok {
				break
			}
			if received.Closed {
				return
			}
			if received.Lagged {
				fullRender = true
				continue
			}
			if received.Value.IsFullRender() {
				fullRender = true
			}
			if received.Value.Kind == RenderResolveSpan {
				paths = append(paths, received.Value.Path)
			}
		}

		doc, _ := a.cell.Snapshot()
		if doc == nil {
			continue
		}

		for _, path := range paths {
			span, ok := a.session.SourceSpan(path)
			if !ok {
				continue
			}
			a.requests.Send(CompilerRequest{Kind: ReqDocToSrcJumpResolve, Range: span})
		}

		packStart := time.Now()
		var payload []byte
		if fullRender {
			if current, ok := a.session.PackCurrent(); ok {
				payload = current
			} else {
				payload = a.session.PackDelta(doc)
			}
		} else {
			payload = a.session.PackDelta(doc)
		}
		if a.metrics != nil {
			a.metrics.RenderDuration.Record(ctx, time.Since(packStart).Seconds())
		}

		a.session.Evict(evictBudget)

		if !a.out.Send(payload) {
			return
		}
	}
}
