// Package metrics holds the engine's observable-metrics surface
// (spec.md §6): counters and gauges readable in constant time from any
// goroutine, and a periodic CSV snapshot writer modeled on the
// teacher's SnmpLogger.
package metrics

import (
	"strconv"
	"sync/atomic"
)

// Snapshot is a point-in-time copy of every observable metric.
type Snapshot struct {
	BytesIn           uint64
	MessagesOut       uint64
	RingFillPercent   uint64 // 0..100
	RingHighWater     uint64
	PoolInUsePercent  uint64 // 0..100
	PoolHighWater     uint64
	OverflowCount     uint64
	DrainTimeoutCount uint64
	DTRResetCount     uint64
	RTSResetCount     uint64
	MissingDestCount  uint64
	QueueFullCount    uint64
	HandlerFailCount  uint64
	SyncLostCount     uint64
	LineBudgetExceeds uint64
}

// Registry holds the engine's live atomic counters and gauges. All
// fields are accessed with sync/atomic; there is no lock, matching
// the teacher's DefaultSnmp package-level counters.
type Registry struct {
	bytesIn           uint64
	messagesOut       uint64
	ringFillPercent   uint64
	ringHighWater     uint64
	poolInUsePercent  uint64
	poolHighWater     uint64
	overflowCount     uint64
	drainTimeoutCount uint64
	dtrResetCount     uint64
	rtsResetCount     uint64
	missingDestCount  uint64
	queueFullCount    uint64
	handlerFailCount  uint64
	syncLostCount     uint64
	lineBudgetExceeds uint64
}

// New builds an empty Registry.
func New() *Registry { return &Registry{} }

func (r *Registry) AddBytesIn(n uint64)     { atomic.AddUint64(&r.bytesIn, n) }
func (r *Registry) IncMessagesOut()         { atomic.AddUint64(&r.messagesOut, 1) }
func (r *Registry) IncOverflow()            { atomic.AddUint64(&r.overflowCount, 1) }
func (r *Registry) IncDrainTimeout()        { atomic.AddUint64(&r.drainTimeoutCount, 1) }
func (r *Registry) IncMissingDest()         { atomic.AddUint64(&r.missingDestCount, 1) }
func (r *Registry) IncQueueFull()           { atomic.AddUint64(&r.queueFullCount, 1) }
func (r *Registry) IncHandlerFail()         { atomic.AddUint64(&r.handlerFailCount, 1) }
func (r *Registry) IncSyncLost()            { atomic.AddUint64(&r.syncLostCount, 1) }
func (r *Registry) IncLineBudgetExceeded()  { atomic.AddUint64(&r.lineBudgetExceeds, 1) }

func (r *Registry) IncReset(isRTS bool) {
	if isRTS {
		atomic.AddUint64(&r.rtsResetCount, 1)
	} else {
		atomic.AddUint64(&r.dtrResetCount, 1)
	}
}

// SetRingFill records the ring's current fill percentage and bumps
// its high-water mark if exceeded.
func (r *Registry) SetRingFill(percent uint64) {
	atomic.StoreUint64(&r.ringFillPercent, percent)
	bumpHighWater(&r.ringHighWater, percent)
}

// SetPoolInUse records the pool's current in-use percentage and bumps
// its high-water mark if exceeded.
func (r *Registry) SetPoolInUse(percent uint64) {
	atomic.StoreUint64(&r.poolInUsePercent, percent)
	bumpHighWater(&r.poolHighWater, percent)
}

func bumpHighWater(slot *uint64, v uint64) {
	for {
		cur := atomic.LoadUint64(slot)
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(slot, cur, v) {
			return
		}
	}
}

// Snapshot reads every counter and gauge in one pass. Individual
// fields may be torn relative to each other (no global lock, same
// trade-off the teacher's DefaultSnmp.ToSlice() makes) but each field
// itself is never torn.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		BytesIn:           atomic.LoadUint64(&r.bytesIn),
		MessagesOut:       atomic.LoadUint64(&r.messagesOut),
		RingFillPercent:   atomic.LoadUint64(&r.ringFillPercent),
		RingHighWater:     atomic.LoadUint64(&r.ringHighWater),
		PoolInUsePercent:  atomic.LoadUint64(&r.poolInUsePercent),
		PoolHighWater:     atomic.LoadUint64(&r.poolHighWater),
		OverflowCount:     atomic.LoadUint64(&r.overflowCount),
		DrainTimeoutCount: atomic.LoadUint64(&r.drainTimeoutCount),
		DTRResetCount:     atomic.LoadUint64(&r.dtrResetCount),
		RTSResetCount:     atomic.LoadUint64(&r.rtsResetCount),
		MissingDestCount:  atomic.LoadUint64(&r.missingDestCount),
		QueueFullCount:    atomic.LoadUint64(&r.queueFullCount),
		HandlerFailCount:  atomic.LoadUint64(&r.handlerFailCount),
		SyncLostCount:     atomic.LoadUint64(&r.syncLostCount),
		LineBudgetExceeds: atomic.LoadUint64(&r.lineBudgetExceeds),
	}
}

// Header returns the Snapshot's CSV column names in field order,
// mirroring the teacher's kcp.DefaultSnmp.Header() contract.
func Header() []string {
	return []string{
		"BytesIn", "MessagesOut", "RingFillPercent", "RingHighWater",
		"PoolInUsePercent", "PoolHighWater", "OverflowCount",
		"DrainTimeoutCount", "DTRResetCount", "RTSResetCount",
		"MissingDestCount", "QueueFullCount", "HandlerFailCount",
		"SyncLostCount", "LineBudgetExceeds",
	}
}

// ToSlice formats s in the same field order as Header, mirroring the
// teacher's kcp.DefaultSnmp.ToSlice() contract.
func (s Snapshot) ToSlice() []string {
	vals := []uint64{
		s.BytesIn, s.MessagesOut, s.RingFillPercent, s.RingHighWater,
		s.PoolInUsePercent, s.PoolHighWater, s.OverflowCount,
		s.DrainTimeoutCount, s.DTRResetCount, s.RTSResetCount,
		s.MissingDestCount, s.QueueFullCount, s.HandlerFailCount,
		s.SyncLostCount, s.LineBudgetExceeds,
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = strconv.FormatUint(v, 10)
	}
	return out
}
