package finishtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/btnmasher/fairshare/internal/store"
)

func lengthSeconds(seconds float64) LengthOf {
	return func(p *store.Packet) time.Duration {
		return time.Duration(seconds * float64(time.Second))
	}
}

func songLength(p *store.Packet) time.Duration {
	return p.VideoLength
}

func TestRecomputeUnitLengthsFIFO(t *testing.T) {
	// S1 shape for a single user: three packets, unit weight, length 10.
	a := &store.Packet{ID: "a", ArrivalTime: 0, VideoLength: 10 * time.Second}
	b := &store.Packet{ID: "b", ArrivalTime: 0, VideoLength: 10 * time.Second}
	c := &store.Packet{ID: "c", ArrivalTime: 10, VideoLength: 10 * time.Second}

	Recompute([]*store.Packet{c, a, b}, songLength)

	assert.Equal(t, 10.0, a.FinishTime)
	assert.Equal(t, 20.0, b.FinishTime, "FIFO within user")
	assert.Equal(t, 30.0, c.FinishTime)
}

func TestRecomputeVotesAccelerate(t *testing.T) {
	// S2: vote(u1,A); vote(u1,C) length 10 each; then two extra votes on A.
	a := &store.Packet{ID: "a", ArrivalTime: 0, VideoLength: 10 * time.Second,
		Votes: map[string]struct{}{"u3": {}, "u4": {}}}
	c := &store.Packet{ID: "c", ArrivalTime: 0, VideoLength: 10 * time.Second}

	Recompute([]*store.Packet{a, c}, songLength)

	wantA := 10.0 / 3.0
	assert.InDelta(t, wantA, a.FinishTime, 1e-9)
	assert.InDelta(t, wantA+10, c.FinishTime, 1e-9)
}

func TestRecomputeLaterArrivalCanExceedPriorFinish(t *testing.T) {
	a := &store.Packet{ID: "a", ArrivalTime: 0, VideoLength: 5 * time.Second}
	b := &store.Packet{ID: "b", ArrivalTime: 100, VideoLength: 5 * time.Second}

	Recompute([]*store.Packet{a, b}, songLength)

	assert.Equal(t, 5.0, a.FinishTime)
	assert.Equal(t, 105.0, b.FinishTime, "base = max(last, arrival) = arrival")
}

func TestLessOrdersByFinishThenArrivalThenID(t *testing.T) {
	a := &store.Packet{ID: "a", FinishTime: 10, ArrivalTime: 0}
	b := &store.Packet{ID: "b", FinishTime: 10, ArrivalTime: 0}
	c := &store.Packet{ID: "c", FinishTime: 5, ArrivalTime: 0}

	packets := []*store.Packet{a, b, c}
	SortByFinishTime(packets)

	assert.Equal(t, []string{"c", "a", "b"}, []string{packets[0].ID, packets[1].ID, packets[2].ID})
}
