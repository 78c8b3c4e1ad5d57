package store

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/btnmasher/safemap"
)

// Memory is an in-process Store, used by tests and small single-node
// demos. It enforces the same uniqueness constraints the SQLite
// implementation enforces via UNIQUE indexes: one packet per
// (player, song_id), one per (player, video_url), and one vote per
// (packet, user).
type Memory struct {
	mu      sync.Mutex
	packets safemap.SafeMap[string, *Packet]
	songs   safemap.SafeMap[string, *Song]
	history []PlayHistoryEntry
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		packets: safemap.NewMutexMap[string, *Packet](),
		songs:   safemap.NewMutexMap[string, *Song](),
	}
}

// SeedSongs loads the library's catalog. Intended for test setup and demo
// wiring; a production deployment would instead back Song lookups with a
// library scanner writing into the same table the SQLite Store reads.
func (m *Memory) SeedSongs(songs ...*Song) {
	for _, s := range songs {
		m.songs.Set(s.ID, s)
	}
}

// WithTx runs fn under the store's single mutex, emulating a transaction:
// Memory has no rollback, so fn's mutations are visible immediately and
// persist even if fn returns an error. No other WithTx call can interleave
// while fn runs; the top-level methods do not take this mutex, so calls
// made outside WithTx are not excluded.
func (m *Memory) WithTx(_ context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *Memory) FindPacket(_ context.Context, player string, key Key) (*Packet, bool, error) {
	var found *Packet
	for p := range m.packets.Values() {
		if p.PlayerName != player {
			continue
		}
		switch {
		case key.SongID != "" && p.Kind == KindLocal && p.SongID == key.SongID:
			found = p
		case key.VideoURL != "" && p.Kind == KindRemote && p.VideoURL == key.VideoURL:
			found = p
		}
		if found != nil {
			break
		}
	}
	return found, found != nil, nil
}

func (m *Memory) InsertPacket(_ context.Context, p *Packet) error {
	if p.Kind == KindLocal {
		if _, ok, _ := m.FindPacket(nil, p.PlayerName, Key{SongID: p.SongID}); ok {
			return fmt.Errorf("%w: packet already exists for song %q", ErrConflict, p.SongID)
		}
	} else {
		if _, ok, _ := m.FindPacket(nil, p.PlayerName, Key{VideoURL: p.VideoURL}); ok {
			return fmt.Errorf("%w: packet already exists for url %q", ErrConflict, p.VideoURL)
		}
	}
	if p.Votes == nil {
		p.Votes = make(map[string]struct{})
	}
	m.packets.Set(p.ID, p)
	return nil
}

func (m *Memory) DeletePacket(_ context.Context, id string) error {
	m.packets.Delete(id)
	return nil
}

func (m *Memory) DeleteAll(_ context.Context, player string) error {
	for id, p := range m.packets.All() {
		if p.PlayerName == player {
			m.packets.Delete(id)
		}
	}
	return nil
}

func (m *Memory) ListPackets(_ context.Context, player string) ([]*Packet, error) {
	var out []*Packet
	for p := range m.packets.Values() {
		if p.PlayerName == player {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ListPacketsOfUser(_ context.Context, player, user string) ([]*Packet, error) {
	var out []*Packet
	for p := range m.packets.Values() {
		if p.PlayerName == player && p.User == user {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) SetFinishTime(_ context.Context, packetID string, t float64) error {
	p, ok := m.packets.Get(packetID)
	if !ok {
		return fmt.Errorf("%w: packet %q", ErrNotFound, packetID)
	}
	p.FinishTime = t
	return nil
}

func (m *Memory) AppendVote(_ context.Context, packetID, user string) (bool, error) {
	p, ok := m.packets.Get(packetID)
	if !ok {
		return false, fmt.Errorf("%w: packet %q", ErrNotFound, packetID)
	}
	if p.HasVote(user) {
		return false, nil
	}
	if p.Votes == nil {
		p.Votes = make(map[string]struct{})
	}
	p.Votes[user] = struct{}{}
	return true, nil
}

func (m *Memory) CountDistinctUsers(_ context.Context, player string) (int, error) {
	seen := make(map[string]struct{})
	for p := range m.packets.Values() {
		if p.PlayerName == player {
			seen[p.User] = struct{}{}
		}
	}
	return len(seen), nil
}

func (m *Memory) MaxArrivalTime(_ context.Context, player string) (float64, bool, error) {
	var max float64
	var any bool
	for p := range m.packets.Values() {
		if p.PlayerName != player {
			continue
		}
		if !any || p.ArrivalTime > max {
			max = p.ArrivalTime
			any = true
		}
	}
	return max, any, nil
}

func (m *Memory) SongByID(_ context.Context, id string) (*Song, bool, error) {
	s, ok := m.songs.Get(id)
	return s, ok, nil
}

func (m *Memory) SongPaths(_ context.Context) ([]string, error) {
	var out []string
	for s := range m.songs.Values() {
		out = append(out, s.Path)
	}
	return out, nil
}

func (m *Memory) RandomSong(_ context.Context, exclude map[string]struct{}) (*Song, bool, error) {
	var candidates []*Song
	for s := range m.songs.Values() {
		if _, excluded := exclude[s.Path]; !excluded {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	return candidates[rand.Intn(len(candidates))], true, nil
}

func (m *Memory) AppendHistory(_ context.Context, entry PlayHistoryEntry) error {
	m.history = append(m.history, entry)
	return nil
}

// History returns the recorded play-history entries, oldest first. Test
// helper; not part of the Store interface.
func (m *Memory) History() []PlayHistoryEntry {
	out := make([]PlayHistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}
