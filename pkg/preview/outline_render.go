package preview

import (
	"context"
	"log/slog"
)

// OutlineRenderActor shares the Render Actor's coalescing shape but
// produces an Outline tree rather than a wire payload (§4.3). Every
// trigger, regardless of kind, is treated as "maybe re-extract the
// outline" — payload details are ignored.
type OutlineRenderActor struct {
	cell     *DocumentCell
	triggers *Subscriber[RenderTrigger]
	editor   *Queue[EditorEvent]
	log      *slog.Logger
}

// NewOutlineRenderActor constructs an Outline Render Actor.
func NewOutlineRenderActor(
	cell *DocumentCell,
	triggers *Subscriber[RenderTrigger],
	editor *Queue[EditorEvent],
	log *slog.Logger,
) *OutlineRenderActor {
	return &OutlineRenderActor{
		cell:     cell,
		triggers: triggers,
		editor:   editor,
		log:      log.With("actor", "outline-render"),
	}
}

// Run executes the blocking-receive/drain/extract loop until the trigger
// broadcast closes or the editor queue is closed.
func (a *OutlineRenderActor) Run(ctx context.Context) {
	defer a.triggers.Close()

	for {
		first := a.triggers.Recv()
		if first.Closed {
			return
		}

		for {
			received, ok := a.triggers.TryRecv()
			if !ok {
				break
			}
			if received.Closed {
				return
			}
		}

		doc, _ := a.cell.Snapshot()
		if doc == nil {
			continue
		}

		outline := extractOutline(doc.Introspector())
		if !a.editor.Send(EditorEvent{Kind: EditorOutline, Outline: outline}) {
			return
		}
	}
}
