package graph

import "time"

// zoomResetManhattan is the click-distance threshold below which a single
// click counts as a zoom-reset gesture rather than a brush selection (spec
// §4.5 "Zoom").
const zoomResetManhattan = 5

// ZoomState tracks the graph window's current explicit zoom range, if any.
// A nil range means "unzoomed" (full requested window).
type ZoomState struct {
	Start *time.Time
	End   *time.Time
}

// BrushSelect applies an explicit x-range from a brush-selection gesture.
func (z *ZoomState) BrushSelect(start, end time.Time) {
	s, e := start, end
	z.Start, z.End = &s, &e
}

// Reset clears any explicit zoom range, reverting to the default window.
func (z *ZoomState) Reset() {
	z.Start, z.End = nil, nil
}

// ClickKind classifies a pointer-down/up pair for zoom purposes.
type ClickKind int

const (
	ClickDrag ClickKind = iota
	ClickReset
)

// ClassifyClick decides whether a click sequence is a reset gesture: either
// a double-click, or a single click whose down/up positions are within
// zoomResetManhattan pixels of each other (manhattan distance).
func ClassifyClick(isDoubleClick bool, downX, downY, upX, upY int) ClickKind {
	if isDoubleClick {
		return ClickReset
	}
	dx := downX - upX
	if dx < 0 {
		dx = -dx
	}
	dy := downY - upY
	if dy < 0 {
		dy = -dy
	}
	if dx+dy < zoomResetManhattan {
		return ClickReset
	}
	return ClickDrag
}
