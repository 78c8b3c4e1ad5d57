// Package store defines the PacketStore contract consumed by the
// scheduler: transactional CRUD over packets and votes, plus the song
// library and play-history ledger. Two implementations are provided:
// Memory (in-process, used by tests and small demos) and SQLite
// (modernc.org/sqlite, used by the service binary).
package store

import (
	"context"
	"errors"
	"time"
)

// Kind discriminates a Packet's payload, the Local|Remote tagged variant
// called for in spec.md's re-architecture notes.
type Kind int8

const (
	KindLocal Kind = iota
	KindRemote
)

func (k Kind) String() string {
	if k == KindRemote {
		return "remote"
	}
	return "local"
}

// Packet is one enqueued item for one owning user.
type Packet struct {
	ID          string
	PlayerName  string
	Kind        Kind
	SongID      string // set when Kind == KindLocal
	VideoURL    string // set when Kind == KindRemote
	VideoTitle  string
	VideoLength time.Duration
	User        string
	ArrivalTime float64
	FinishTime  float64
	Votes       map[string]struct{} // additional voters, owner excluded
}

// Weight is 1 (the owner's implicit vote) plus any additional votes.
func (p *Packet) Weight() int {
	return 1 + len(p.Votes)
}

// HasVote reports whether user has an implicit or explicit vote on p.
func (p *Packet) HasVote(user string) bool {
	if user == p.User {
		return true
	}
	_, ok := p.Votes[user]
	return ok
}

// Key identifies a Packet by the discriminated field that was supplied to
// vote/remove: exactly one of SongID or VideoURL is non-empty.
type Key struct {
	SongID   string
	VideoURL string
}

// Song is an external record for a locally available track.
type Song struct {
	ID     string
	Path   string
	Length time.Duration
}

// PlayHistoryEntry records one completed local playback.
type PlayHistoryEntry struct {
	SongID     string
	User       string
	PlayerName string
	PlayedAt   time.Time
}

// Sentinel errors surfaced by Store implementations. The scheduler maps
// these onto its own typed error taxonomy at the operation boundary.
var (
	ErrNotFound     = errors.New("store: not found")
	ErrAlreadyVoted = errors.New("store: already voted")
	ErrStoreFailure = errors.New("store: transient failure")
	ErrConflict     = errors.New("store: uniqueness conflict")
)

// Store is the PacketStore contract from spec.md §6.
type Store interface {
	// WithTx runs fn with a Store bound to a single transaction; on any
	// error returned by fn, the transaction is rolled back and the error
	// is returned as-is (or wrapped in ErrStoreFailure for driver errors).
	WithTx(ctx context.Context, fn func(tx Store) error) error

	FindPacket(ctx context.Context, player string, key Key) (*Packet, bool, error)
	InsertPacket(ctx context.Context, p *Packet) error
	DeletePacket(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, player string) error
	ListPackets(ctx context.Context, player string) ([]*Packet, error)
	ListPacketsOfUser(ctx context.Context, player, user string) ([]*Packet, error)
	SetFinishTime(ctx context.Context, packetID string, t float64) error
	// AppendVote returns (true, nil) if the vote was recorded, or
	// (false, nil) if (packetID, user) already had a vote (including the
	// implicit owner vote).
	AppendVote(ctx context.Context, packetID, user string) (bool, error)
	CountDistinctUsers(ctx context.Context, player string) (int, error)
	// MaxArrivalTime returns the highest ArrivalTime among player's
	// packets, and false if the player has none.
	MaxArrivalTime(ctx context.Context, player string) (float64, bool, error)

	SongByID(ctx context.Context, id string) (*Song, bool, error)
	SongPaths(ctx context.Context) ([]string, error)
	// RandomSong returns a uniformly random song whose Path is not in
	// exclude, or (nil, false, nil) if none qualify.
	RandomSong(ctx context.Context, exclude map[string]struct{}) (*Song, bool, error)
	AppendHistory(ctx context.Context, entry PlayHistoryEntry) error
}
