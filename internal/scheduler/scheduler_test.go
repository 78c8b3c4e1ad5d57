package scheduler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btnmasher/fairshare/internal/fetcher"
	"github.com/btnmasher/fairshare/internal/player"
	"github.com/btnmasher/fairshare/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlayer struct {
	mu      sync.Mutex
	current *player.NowPlaying
	plays   []player.Item
	stops   int
}

func (f *fakePlayer) Play(_ context.Context, item player.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = &player.NowPlaying{Kind: item.Kind, ID: item.SongID, URL: item.VideoURL}
	f.plays = append(f.plays, item)
	return nil
}

func (f *fakePlayer) Stop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = nil
	f.stops++
	return nil
}

func (f *fakePlayer) HasEnded(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current == nil, nil
}

func (f *fakePlayer) NowPlaying(_ context.Context) (*player.NowPlaying, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Recognize(rawURL string) bool {
	return strings.Contains(rawURL, "video.example")
}

func (fakeFetcher) Fetch(_ context.Context, rawURL string) (fetcher.Metadata, error) {
	return fetcher.Metadata{Title: "remote: " + rawURL, Length: 30 * time.Second}, nil
}

func newTestScheduler(t *testing.T, songs ...*store.Song) (*Scheduler, *store.Memory, *fakePlayer) {
	t.Helper()
	s := store.NewMemory()
	s.SeedSongs(songs...)
	pl := &fakePlayer{}
	sched, err := New(context.Background(), "p1", s, pl, fakeFetcher{}, 0, -1, testLogger())
	require.NoError(t, err)
	return sched, s, pl
}

func songOf(id string, length time.Duration) *store.Song {
	return &store.Song{ID: id, Path: id, Length: length}
}

func findEntry(entries []QueueEntry, songID string) (QueueEntry, bool) {
	for _, e := range entries {
		if e.SongID == songID {
			return e, true
		}
	}
	return QueueEntry{}, false
}

// S1 — round-robin fairness, two users, unit lengths.
func TestS1RoundRobinFairness(t *testing.T) {
	sched, _, _ := newTestScheduler(t, songOf("A", 10*time.Second), songOf("B", 10*time.Second),
		songOf("C", 10*time.Second), songOf("D", 10*time.Second))
	ctx := context.Background()

	_, err := sched.Vote(ctx, "u1", "A", "")
	require.NoError(t, err)
	_, err = sched.Vote(ctx, "u2", "B", "")
	require.NoError(t, err)
	_, err = sched.Vote(ctx, "u1", "C", "")
	require.NoError(t, err)
	entries, err := sched.Vote(ctx, "u2", "D", "")
	require.NoError(t, err)

	a, _ := findEntry(entries, "A")
	b, _ := findEntry(entries, "B")
	c, _ := findEntry(entries, "C")
	d, _ := findEntry(entries, "D")

	assert.Equal(t, 10.0, a.FinishTime)
	assert.Equal(t, 10.0, b.FinishTime)
	assert.Equal(t, 20.0, c.FinishTime)
	assert.Equal(t, 20.0, d.FinishTime)

	order := []string{entries[0].SongID, entries[1].SongID, entries[2].SongID, entries[3].SongID}
	wantFirstTwo := map[string]bool{"A": true, "B": true}
	assert.True(t, wantFirstTwo[order[0]] && wantFirstTwo[order[1]] && order[0] != order[1],
		"expected A and B first (either order), got %v", order)
	wantLastTwo := map[string]bool{"C": true, "D": true}
	assert.True(t, wantLastTwo[order[2]] && wantLastTwo[order[3]] && order[2] != order[3],
		"expected C and D last (either order), got %v", order)
}

// S2 — votes accelerate a user's later packets via the max(last, arrival) chain.
func TestS2VotesAccelerate(t *testing.T) {
	sched, _, _ := newTestScheduler(t, songOf("A", 10*time.Second), songOf("B", 10*time.Second), songOf("C", 10*time.Second))
	ctx := context.Background()

	mustVote(t, sched, "u1", "A", "")
	mustVote(t, sched, "u1", "C", "")
	mustVote(t, sched, "u2", "B", "")

	_, err := sched.Vote(ctx, "u4", "A", "")
	require.NoError(t, err)
	_, err = sched.Vote(ctx, "u3", "A", "")
	require.NoError(t, err)
	entries := mustQueue(t, sched)

	a, _ := findEntry(entries, "A")
	c, _ := findEntry(entries, "C")
	b, _ := findEntry(entries, "B")

	wantA := 10.0 / 3.0
	assert.InDelta(t, wantA, a.FinishTime, 1e-9)
	assert.InDelta(t, wantA+10, c.FinishTime, 1e-9)
	assert.Equal(t, 10.0, b.FinishTime, "untouched")
	assert.Equal(t, 3, a.NumVotes, "owner + 2")
}

// S3 — skip jumps V forward to the removed packet's finish time.
func TestS3SkipAdjustsVirtualTime(t *testing.T) {
	sched, _, pl := newTestScheduler(t, songOf("A", 60*time.Second))
	ctx := context.Background()

	mustVote(t, sched, "u1", "A", "")
	_, err := sched.Advance(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, pl.current)
	assert.Equal(t, "A", pl.current.ID)

	entries, err := sched.Remove(ctx, "A", "", true)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 60.0, sched.Clock.Now())
	assert.Equal(t, 1, pl.stops, "expected exactly one Stop() call")
}

// S5 — a duplicate vote by the same user is rejected and the queue is unchanged.
func TestS5DuplicateVoteRejected(t *testing.T) {
	sched, _, _ := newTestScheduler(t, songOf("A", 10*time.Second))
	ctx := context.Background()

	before := mustVote(t, sched, "u1", "A", "")
	_, err := sched.Vote(ctx, "u1", "A", "")
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	after := mustQueue(t, sched)
	assert.Len(t, before, 1)
	assert.Len(t, after, 1)
}

// S6 — an unrecognized remote host is rejected and inserts no packet.
func TestS6UnsupportedRemoteRejected(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	before := sched.Clock.Now()
	_, err := sched.Vote(ctx, "u1", "", "http://example.com/x")
	assert.ErrorIs(t, err, ErrUnsupportedSource)
	entries := mustQueue(t, sched)
	assert.Empty(t, entries, "expected no packet inserted")
	assert.Equal(t, before, sched.Clock.Now())
}

// Invariant 1: empty() ↔ active_sessions == 0 ↔ no packets exist.
func TestInvariantEmptyMatchesActiveSessions(t *testing.T) {
	sched, st, _ := newTestScheduler(t, songOf("A", 10*time.Second))
	ctx := context.Background()

	assert.True(t, sched.Empty(), "expected Empty() on a fresh scheduler")
	mustVote(t, sched, "u1", "A", "")
	assert.False(t, sched.Empty(), "expected not Empty() after a vote")
	packets, _ := st.ListPackets(ctx, "p1")
	assert.NotEmpty(t, packets, "expected a packet to exist")
	_, err := sched.Remove(ctx, "A", "", false)
	require.NoError(t, err)
	assert.True(t, sched.Empty(), "expected Empty() after removing the only packet")
}

// Invariant 5 / Law: vote(u,x); remove(x) restores the store to its
// pre-vote state (modulo V).
func TestLawVoteThenRemoveIsIdentity(t *testing.T) {
	sched, st, _ := newTestScheduler(t, songOf("A", 10*time.Second))
	ctx := context.Background()

	mustVote(t, sched, "u1", "A", "")
	_, err := sched.Remove(ctx, "A", "", false)
	require.NoError(t, err)
	packets, err := st.ListPackets(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, packets, "expected no packets after vote;remove")
	assert.True(t, sched.Empty(), "expected Empty() after vote;remove")
}

// Law: advance on an empty queue with a non-empty library enqueues a
// random Local song rather than being a no-op.
func TestLawAdvanceOnEmptyQueuePicksRandom(t *testing.T) {
	sched, _, pl := newTestScheduler(t, songOf("A", 10*time.Second))
	ctx := context.Background()

	played, err := sched.Advance(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, played, "expected advance to pick a song from a non-empty library")
	assert.Equal(t, RandomUser, played.User)
	assert.NotNil(t, pl.current, "expected player to be playing")
}

// Law: advance on an empty queue with an empty library is a no-op.
func TestLawAdvanceOnEmptyLibraryIsNoop(t *testing.T) {
	sched, _, pl := newTestScheduler(t)
	ctx := context.Background()

	played, err := sched.Advance(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, played)
	assert.Nil(t, pl.current, "expected player untouched")
}

// Invariant 6 variant: advance correctly transitions playback across two
// packets in finish-time order, removing the previously-playing packet on
// the following advance call.
func TestAdvanceSequencesMultiplePackets(t *testing.T) {
	sched, st, pl := newTestScheduler(t, songOf("A", 10*time.Second), songOf("B", 10*time.Second))
	ctx := context.Background()

	mustVote(t, sched, "u1", "A", "")
	mustVote(t, sched, "u2", "B", "")

	played, err := sched.Advance(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, played)
	first := played.ID

	packets, _ := st.ListPackets(ctx, "p1")
	assert.Len(t, packets, 2, "expected both packets still present after playing the first")

	played, err = sched.Advance(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, played)
	assert.NotEqual(t, first, played.ID, "expected the second advance to move to the other packet")
	assert.Equal(t, 1, pl.stops, "expected exactly one Stop() call (for the first packet)")

	packets, _ = st.ListPackets(ctx, "p1")
	assert.Len(t, packets, 1, "expected the first packet removed")
}

func mustVote(t *testing.T, sched *Scheduler, user, songID, videoURL string) []QueueEntry {
	t.Helper()
	entries, err := sched.Vote(context.Background(), user, songID, videoURL)
	require.NoError(t, err, "vote(%s, %s, %s)", user, songID, videoURL)
	return entries
}

func mustQueue(t *testing.T, sched *Scheduler) []QueueEntry {
	t.Helper()
	entries, err := sched.Queue(context.Background(), "")
	require.NoError(t, err)
	return entries
}
