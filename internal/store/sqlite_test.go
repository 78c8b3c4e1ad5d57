package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertPacketDuplicateSongReturnsConflict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first := &Packet{ID: "p1", PlayerName: "dj", Kind: KindLocal, SongID: "song1", User: "alice", ArrivalTime: 0, FinishTime: 1}
	require.NoError(t, s.InsertPacket(ctx, first))

	second := &Packet{ID: "p2", PlayerName: "dj", Kind: KindLocal, SongID: "song1", User: "bob", ArrivalTime: 0, FinishTime: 1}
	err := s.InsertPacket(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrStoreFailure, "a duplicate vote should not also satisfy ErrStoreFailure")
}

func TestInsertPacketDuplicateVideoReturnsConflict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first := &Packet{ID: "p1", PlayerName: "dj", Kind: KindRemote, VideoURL: "https://example.com/v1", User: "alice", ArrivalTime: 0, FinishTime: 1}
	require.NoError(t, s.InsertPacket(ctx, first))

	second := &Packet{ID: "p2", PlayerName: "dj", Kind: KindRemote, VideoURL: "https://example.com/v1", User: "bob", ArrivalTime: 0, FinishTime: 1}
	err := s.InsertPacket(ctx, second)
	assert.ErrorIs(t, err, ErrConflict)
}

// TestInsertPacketNonConstraintFailureIsStoreFailure ensures a generic
// driver error (not a uniqueness violation) is reported as ErrStoreFailure,
// not misclassified as a duplicate vote.
func TestInsertPacketNonConstraintFailureIsStoreFailure(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Close())

	err := s.InsertPacket(ctx, &Packet{ID: "p1", PlayerName: "dj", Kind: KindLocal, SongID: "song1", User: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.NotErrorIs(t, err, ErrConflict, "a closed-db error should not also satisfy ErrConflict")
}

func TestFindPacketRoundTripsVotesAndFields(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	p := &Packet{ID: "p1", PlayerName: "dj", Kind: KindLocal, SongID: "song1", User: "alice", ArrivalTime: 1.5, FinishTime: 3.5}
	require.NoError(t, s.InsertPacket(ctx, p))
	_, err := s.AppendVote(ctx, "p1", "bob")
	require.NoError(t, err)

	got, ok, err := s.FindPacket(ctx, "dj", Key{SongID: "song1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, 1.5, got.ArrivalTime)
	assert.Equal(t, 3.5, got.FinishTime)
	assert.True(t, got.HasVote("bob"))
}

func TestDeletePacketRemovesVotes(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	p := &Packet{ID: "p1", PlayerName: "dj", Kind: KindLocal, SongID: "song1", User: "alice"}
	require.NoError(t, s.InsertPacket(ctx, p))
	_, err := s.AppendVote(ctx, "p1", "bob")
	require.NoError(t, err)
	require.NoError(t, s.DeletePacket(ctx, "p1"))

	_, ok, err := s.FindPacket(ctx, "dj", Key{SongID: "song1"})
	require.NoError(t, err)
	assert.False(t, ok)

	var votes int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE packet_id = ?`, "p1").Scan(&votes))
	assert.Equal(t, 0, votes, "expected the packet's votes to be deleted with it")
}

func TestCountDistinctUsersAndMaxArrivalTime(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for _, pk := range []*Packet{
		{ID: "p1", PlayerName: "dj", Kind: KindLocal, SongID: "s1", User: "alice", ArrivalTime: 1},
		{ID: "p2", PlayerName: "dj", Kind: KindLocal, SongID: "s2", User: "alice", ArrivalTime: 2},
		{ID: "p3", PlayerName: "dj", Kind: KindLocal, SongID: "s3", User: "bob", ArrivalTime: 3},
	} {
		require.NoError(t, s.InsertPacket(ctx, pk))
	}

	n, err := s.CountDistinctUsers(ctx, "dj")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	max, ok, err := s.MaxArrivalTime(ctx, "dj")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, max)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := s.WithTx(ctx, func(tx Store) error {
		if err := tx.InsertPacket(ctx, &Packet{ID: "p1", PlayerName: "dj", Kind: KindLocal, SongID: "s1", User: "alice"}); err != nil {
			return err
		}
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	_, ok, err := s.FindPacket(ctx, "dj", Key{SongID: "s1"})
	require.NoError(t, err)
	assert.False(t, ok, "expected the insert to have been rolled back")
}

func TestSongByIDAndRandomSong(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `INSERT INTO songs (id, path, length_ns) VALUES (?, ?, ?)`, "s1", "/music/a.mp3", int64(1_000_000_000))
	require.NoError(t, err)

	song, ok, err := s.SongByID(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/music/a.mp3", song.Path)

	random, ok, err := s.RandomSong(ctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", random.ID)

	_, ok, err = s.RandomSong(ctx, map[string]struct{}{"/music/a.mp3": {}})
	require.NoError(t, err)
	assert.False(t, ok)
}
