package preview

import (
	"strings"

	"github.com/clipperhouse/uax29/v2/graphemes"
)

// Outline is the hierarchical heading list sent to the editor (§3, §4.3).
type Outline struct {
	Items []OutlineItem `json:"items"`
}

// OutlineItem is one node in the outline tree.
type OutlineItem struct {
	Title    string            `json:"title"`
	SpanHex  string            `json:"span,omitempty"`
	Position *DocumentPosition `json:"position,omitempty"`
	Children []OutlineItem     `json:"children"`
}

// maxTitleGraphemes bounds the display width of an outline entry; titles
// longer than this are truncated on a grapheme-cluster boundary so a
// combining mark or emoji sequence is never split mid-cluster.
const maxTitleGraphemes = 80

// headingNode is the internal bookkeeping node used while walking
// headings into a bookmark tree, mirroring the original's HeadingNode.
type headingNode struct {
	heading  Heading
	children []*headingNode
}

// extractOutline walks introspector's headings in document order and
// builds the bookmark tree per §4.3's skipped-ancestor depth rule. This
// is the Go port of src/actor/outline.rs::get_outline (original_source):
// a heading marked Bookmarked is attached as deep as possible without
// exceeding either its own nesting level or the level of the shallowest
// still-unresolved skipped ancestor; a skipped (non-bookmarked) heading
// is never added to the tree but still lowers the attach ceiling for
// whatever bookmarked heading comes next.
func extractOutline(introspector Introspector) Outline {
	var tree []*headingNode
	var lastSkippedLevel *int

	for _, h := range introspector.Headings() {
		node := &headingNode{heading: h}

		if h.Bookmarked {
			children := &tree
			for len(*children) > 0 {
				last := (*children)[len(*children)-1]
				skipFloor := true
				if lastSkippedLevel != nil {
					skipFloor = last.heading.Level < *lastSkippedLevel
				}
				if skipFloor && last.heading.Level < h.Level {
					children = &last.children
					continue
				}
				break
			}
			lastSkippedLevel = nil
			*children = append(*children, node)
		} else if lastSkippedLevel == nil || h.Level < *lastSkippedLevel {
			level := h.Level
			lastSkippedLevel = &level
		}
	}

	items := make([]OutlineItem, 0, len(tree))
	for _, n := range tree {
		items = append(items, outlineItem(n, introspector))
	}
	return Outline{Items: items}
}

func outlineItem(n *headingNode, introspector Introspector) OutlineItem {
	pos := introspector.Position(n.heading)
	children := make([]OutlineItem, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, outlineItem(c, introspector))
	}
	return OutlineItem{
		Title:    truncateTitle(n.heading.Title),
		SpanHex:  n.heading.SpanHex,
		Position: &pos,
		Children: children,
	}
}

// truncateTitle clips title to maxTitleGraphemes grapheme clusters,
// appending an ellipsis when it had to cut.
func truncateTitle(title string) string {
	segs := graphemes.FromString(title)
	var b strings.Builder
	count := 0
	for segs.Next() {
		if count == maxTitleGraphemes {
			b.WriteString("…")
			return b.String()
		}
		b.WriteString(segs.Value())
		count++
	}
	return b.String()
}
