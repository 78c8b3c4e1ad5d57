// Package finishtime implements the packet-by-packet GPS finish-time
// recurrence from spec.md §4.2: a pure function over one user's packets,
// sorted by arrival time, with no knowledge of the store or the scheduler's
// lock.
package finishtime

import (
	"math"
	"sort"
	"time"

	"github.com/btnmasher/fairshare/internal/store"
)

// LengthOf resolves the playable length of a packet: video_length if
// Remote, else the referenced Song's length.
type LengthOf func(p *store.Packet) time.Duration

// Recompute assigns FinishTime to every packet in packets, in place, per
// the recurrence:
//
//	last := −∞
//	for each packet p in arrival order:
//	    base := max(last, p.arrival_time)
//	    p.finish_time := base + length(p) / weight(p)
//	    last := p.finish_time
//
// packets must all belong to the same user; Recompute sorts a copy of the
// slice by ArrivalTime and writes FinishTime back onto the original
// pointers, so callers may pass packets in any order.
func Recompute(packets []*store.Packet, length LengthOf) {
	if len(packets) == 0 {
		return
	}

	ordered := make([]*store.Packet, len(packets))
	copy(ordered, packets)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ArrivalTime != ordered[j].ArrivalTime {
			return ordered[i].ArrivalTime < ordered[j].ArrivalTime
		}
		return ordered[i].ID < ordered[j].ID
	})

	last := math.Inf(-1)
	for _, p := range ordered {
		base := last
		if p.ArrivalTime > base {
			base = p.ArrivalTime
		}
		weight := float64(p.Weight())
		p.FinishTime = base + length(p).Seconds()/weight
		last = p.FinishTime
	}
}

// Less orders two packets by the global play-order tie-break chain from
// spec.md §4.2: finish time, then arrival time, then packet id.
func Less(a, b *store.Packet) bool {
	if a.FinishTime != b.FinishTime {
		return a.FinishTime < b.FinishTime
	}
	if a.ArrivalTime != b.ArrivalTime {
		return a.ArrivalTime < b.ArrivalTime
	}
	return a.ID < b.ID
}

// SortByFinishTime orders packets in place per Less.
func SortByFinishTime(packets []*store.Packet) {
	sort.SliceStable(packets, func(i, j int) bool {
		return Less(packets[i], packets[j])
	})
}
