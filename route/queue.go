package route

import (
	"github.com/ironsheep/p2term/message"
	"github.com/ironsheep/p2term/reset"
)

// Item is the unit of work carried on the extractor-to-router queue.
// A boundary marker travels through the exact same queue as regular
// messages instead of a side channel — per spec.md's "reset as a
// marker, not a flag" design note — so cross-window ordering around a
// reset falls out of plain FIFO delivery.
type Item struct {
	Slot     message.SlotID
	Boundary *reset.Boundary // non-nil means Slot is unused; this item is a boundary marker
}

// IsBoundary reports whether this item is a reset boundary marker
// rather than a classified message.
func (i Item) IsBoundary() bool { return i.Boundary != nil }
