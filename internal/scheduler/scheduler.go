// Package scheduler is the fair-share queuing core from spec.md §4.3: it
// orchestrates vote, remove, clear, advance and queue rendering, owning the
// virtual clock, the discard pile and the active-session count behind a
// single exclusive lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/btnmasher/fairshare/internal/clock"
	"github.com/btnmasher/fairshare/internal/discardpile"
	"github.com/btnmasher/fairshare/internal/fetcher"
	"github.com/btnmasher/fairshare/internal/finishtime"
	"github.com/btnmasher/fairshare/internal/player"
	"github.com/btnmasher/fairshare/internal/randomselector"
	"github.com/btnmasher/fairshare/internal/shared"
	"github.com/btnmasher/fairshare/internal/store"
)

// RandomUser is the reserved pseudo-user identifier synthesized by Advance
// when it falls back to a random Local pick on an empty queue.
const RandomUser = "RANDOM"

// Scheduler orchestrates one player's queue. All exported operations and
// the Ticker's Advance call run under the embedded lock, which also
// encloses the PacketStore transaction for that operation — the
// serialization spec.md §5 requires between finish-time recomputation and
// the mutation that triggered it.
type Scheduler struct {
	sync.Mutex

	PlayerName string
	Store      store.Store
	Player     player.Player
	Fetcher    fetcher.RemoteFetcher
	Clock      *clock.Clock

	pile     *discardpile.DiscardPile
	selector *randomselector.Selector

	activeSessions int
	nextSeq        uint64
	fetchGroup     singleflight.Group
	log            *slog.Logger
}

// newPacketID returns an id that sorts in creation order: packets created
// at the same virtual time (no ticker advance between votes) must still
// recompute in submission order, and the global tie-break rule in
// spec.md §4.2 ("then packet id") only does useful work if ids are
// monotonic. Only called with the lock held.
func (s *Scheduler) newPacketID() string {
	s.nextSeq++
	return fmt.Sprintf("%020d-%s", s.nextSeq, shared.GenerateID(8))
}

// New constructs a Scheduler for playerName, initializing the virtual
// clock from the store's existing packets (spec.md §4.1) and the
// active-session count from its current distinct users.
func New(
	ctx context.Context,
	playerName string,
	st store.Store,
	pl player.Player,
	fe fetcher.RemoteFetcher,
	dontRepeatFor float64,
	maxDontRepeatFor int,
	log *slog.Logger,
) (*Scheduler, error) {
	maxArrival, ok, err := st.MaxArrivalTime(ctx, playerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	v := 0.0
	if ok {
		v = maxArrival
	}

	n, err := st.CountDistinctUsers(ctx, playerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	pile := discardpile.New()

	return &Scheduler{
		PlayerName:     playerName,
		Store:          st,
		Player:         pl,
		Fetcher:        fe,
		Clock:          clock.New(v),
		pile:           pile,
		selector:       randomselector.New(pile, dontRepeatFor, maxDontRepeatFor),
		activeSessions: n,
		log:            log.With("component", "scheduler", "player", playerName),
	}, nil
}

// QueueEntry is one rendered row of Queue's result.
type QueueEntry struct {
	ID          string
	Kind        store.Kind
	SongID      string
	VideoURL    string
	Title       string
	Length      time.Duration
	User        string
	ArrivalTime float64
	FinishTime  float64
	NumVotes    int
	HasVoted    bool
}

// NowPlayingView is what Advance returns: the item it just handed the
// player, or nil if there was nothing to play.
type NowPlayingView struct {
	Kind   store.Kind
	ID     string
	URL    string
	Title  string
	Length time.Duration
	User   string
}

// Vote implements spec.md §4.3.1.
func (s *Scheduler) Vote(ctx context.Context, user, songID, videoURL string) ([]QueueEntry, error) {
	if (songID == "") == (videoURL == "") {
		return nil, ErrInvalidArgument
	}

	// Resolve remote metadata before taking the lock, per spec.md §5's
	// suspension-point guidance, unless a packet already exists for this
	// URL (the vote path never needs metadata).
	var meta fetcher.Metadata
	haveMeta := false
	if videoURL != "" {
		_, exists, err := s.Store.FindPacket(ctx, s.PlayerName, store.Key{VideoURL: videoURL})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		if !exists {
			m, err := s.resolveRemote(ctx, videoURL)
			if err != nil {
				return nil, err
			}
			meta, haveMeta = m, true
		}
	}

	s.Lock()
	defer s.Unlock()

	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		key := store.Key{SongID: songID, VideoURL: videoURL}
		existing, ok, err := tx.FindPacket(ctx, s.PlayerName, key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}

		if ok {
			if user == existing.User {
				return ErrAlreadyVoted
			}
			added, err := tx.AppendVote(ctx, existing.ID, user)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailure, err)
			}
			if !added {
				return ErrAlreadyVoted
			}
			return s.recomputeUser(ctx, tx, existing.User)
		}

		p := &store.Packet{
			ID:          s.newPacketID(),
			PlayerName:  s.PlayerName,
			User:        user,
			ArrivalTime: s.Clock.Now(),
			Votes:       make(map[string]struct{}),
		}

		if videoURL != "" {
			if !haveMeta {
				// The packet our pre-check found was removed by another
				// caller before we took the lock, so no metadata was
				// fetched; resolve it now, under the lock.
				m, err := s.resolveRemote(ctx, videoURL)
				if err != nil {
					return err
				}
				meta = m
			}
			p.Kind = store.KindRemote
			p.VideoURL = videoURL
			p.VideoTitle = meta.Title
			p.VideoLength = meta.Length
		} else {
			if _, ok, err := tx.SongByID(ctx, songID); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailure, err)
			} else if !ok {
				return ErrNotFound
			}
			p.Kind = store.KindLocal
			p.SongID = songID
		}

		if err := tx.InsertPacket(ctx, p); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrAlreadyVoted
			}
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		s.log.Debug("Enqueued packet", packetLog(p))

		if err := s.recomputeUser(ctx, tx, user); err != nil {
			return err
		}
		return s.refreshActiveSessions(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	return s.queueLocked(ctx, user)
}

// Remove implements spec.md §4.3.2.
func (s *Scheduler) Remove(ctx context.Context, songID, videoURL string, skip bool) ([]QueueEntry, error) {
	if (songID == "") == (videoURL == "") {
		return nil, ErrInvalidArgument
	}

	s.Lock()
	defer s.Unlock()

	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		key := store.Key{SongID: songID, VideoURL: videoURL}
		p, ok, err := tx.FindPacket(ctx, s.PlayerName, key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		if !ok {
			return ErrNotFound
		}

		np, err := s.Player.NowPlaying(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		if np != nil && matchesPacket(np, p) {
			if err := s.Player.Stop(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailure, err)
			}
			if skip {
				s.Clock.Jump(p.FinishTime)
			}
		}

		if err := tx.DeletePacket(ctx, p.ID); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		return s.refreshActiveSessions(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	return s.queueLocked(ctx, "")
}

// Clear implements spec.md §4.3.3.
func (s *Scheduler) Clear(ctx context.Context) ([]QueueEntry, error) {
	s.Lock()
	defer s.Unlock()

	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		if err := s.Player.Stop(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		if err := tx.DeleteAll(ctx, s.PlayerName); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		return s.refreshActiveSessions(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	return s.queueLocked(ctx, "")
}

// Advance implements spec.md §4.3.4.
func (s *Scheduler) Advance(ctx context.Context, skip bool) (*NowPlayingView, error) {
	s.Lock()
	defer s.Unlock()

	var played *NowPlayingView

	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		packets, err := tx.ListPackets(ctx, s.PlayerName)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}

		if len(packets) == 0 {
			song, ok, err := s.selector.Select(ctx, tx)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailure, err)
			}
			if !ok {
				return nil
			}

			p := &store.Packet{
				ID:          s.newPacketID(),
				PlayerName:  s.PlayerName,
				Kind:        store.KindLocal,
				SongID:      song.ID,
				User:        RandomUser,
				ArrivalTime: s.Clock.Now(),
				Votes:       make(map[string]struct{}),
			}
			if err := tx.InsertPacket(ctx, p); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailure, err)
			}
			if err := s.recomputeUser(ctx, tx, RandomUser); err != nil {
				return err
			}
			if err := s.refreshActiveSessions(ctx, tx); err != nil {
				return err
			}
			packets = []*store.Packet{p}
		}

		np, err := s.Player.NowPlaying(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		if np != nil {
			for _, p := range packets {
				if !matchesPacket(np, p) {
					continue
				}
				if err := s.Player.Stop(ctx); err != nil {
					return fmt.Errorf("%w: %v", ErrStoreFailure, err)
				}
				if skip {
					s.Clock.Jump(p.FinishTime)
				}
				if err := tx.DeletePacket(ctx, p.ID); err != nil {
					return fmt.Errorf("%w: %v", ErrStoreFailure, err)
				}
				if err := s.refreshActiveSessions(ctx, tx); err != nil {
					return err
				}
				packets = withoutPacket(packets, p.ID)
				break
			}
		}

		if len(packets) == 0 {
			return nil
		}

		finishtime.SortByFinishTime(packets)
		next := packets[0]

		item := player.Item{
			Kind:     next.Kind,
			SongID:   next.SongID,
			VideoURL: next.VideoURL,
			Title:    next.VideoTitle,
			Duration: next.VideoLength,
		}

		if next.Kind == store.KindLocal {
			song, ok, err := tx.SongByID(ctx, next.SongID)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailure, err)
			}
			if !ok {
				return fmt.Errorf("%w: song %q", ErrNotFound, next.SongID)
			}
			item.Path = song.Path
			item.Duration = song.Length
			item.Title = song.Path
		}

		if err := s.Player.Play(ctx, item); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		s.log.Info("Advanced to next packet", packetLog(next))

		if next.Kind == store.KindLocal {
			paths, err := tx.SongPaths(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailure, err)
			}
			s.selector.Record(item.Path, len(paths))
			if err := tx.AppendHistory(ctx, store.PlayHistoryEntry{
				SongID:     next.SongID,
				User:       next.User,
				PlayerName: s.PlayerName,
				PlayedAt:   time.Now(),
			}); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailure, err)
			}
		}

		played = &NowPlayingView{
			Kind:   next.Kind,
			ID:     next.SongID,
			URL:    next.VideoURL,
			Title:  item.Title,
			Length: item.Duration,
			User:   next.User,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return played, nil
}

// Queue implements spec.md §4.3.5. viewer may be empty, in which case
// HasVoted is always false on the returned entries.
func (s *Scheduler) Queue(ctx context.Context, viewer string) ([]QueueEntry, error) {
	s.Lock()
	defer s.Unlock()
	return s.queueLocked(ctx, viewer)
}

// NumQueued implements spec.md §4.3.6.
func (s *Scheduler) NumQueued(ctx context.Context) (int, error) {
	s.Lock()
	defer s.Unlock()

	packets, err := s.Store.ListPackets(ctx, s.PlayerName)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return len(packets), nil
}

// Empty implements spec.md §4.3.6 via the invariant
// empty() ↔ active_sessions == 0, maintained by every mutating operation.
func (s *Scheduler) Empty() bool {
	s.Lock()
	defer s.Unlock()
	return s.activeSessions == 0
}

// ActiveSessions returns the current count of distinct users with at
// least one queued packet, used by the Ticker to normalize virtual-time
// advancement per spec.md §4.6.
func (s *Scheduler) ActiveSessions() int {
	s.Lock()
	defer s.Unlock()
	return s.activeSessions
}

// resolveRemote fetches metadata for videoURL, run before the scheduler's
// lock is held (spec.md §5). Concurrent votes racing on the same not-yet-
// queued URL share one outbound fetch via the singleflight group instead of
// each hitting the remote source independently.
func (s *Scheduler) resolveRemote(ctx context.Context, videoURL string) (fetcher.Metadata, error) {
	if !s.Fetcher.Recognize(videoURL) {
		return fetcher.Metadata{}, ErrUnsupportedSource
	}
	v, err, _ := s.fetchGroup.Do(videoURL, func() (any, error) {
		return s.Fetcher.Fetch(ctx, videoURL)
	})
	if err != nil {
		return fetcher.Metadata{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	return v.(fetcher.Metadata), nil
}

// recomputeUser re-derives finish times for one user's packets and
// persists them, per spec.md §4.2's scoped-recompute rule.
func (s *Scheduler) recomputeUser(ctx context.Context, tx store.Store, user string) error {
	packets, err := tx.ListPacketsOfUser(ctx, s.PlayerName, user)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	finishtime.Recompute(packets, s.lengthResolver(ctx, tx))
	for _, p := range packets {
		if err := tx.SetFinishTime(ctx, p.ID, p.FinishTime); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
	}
	return nil
}

func (s *Scheduler) refreshActiveSessions(ctx context.Context, tx store.Store) error {
	n, err := tx.CountDistinctUsers(ctx, s.PlayerName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	s.activeSessions = n
	return nil
}

// lengthResolver builds a finishtime.LengthOf bound to tx, caching Song
// lookups across the packets of a single recompute call.
func (s *Scheduler) lengthResolver(ctx context.Context, tx store.Store) finishtime.LengthOf {
	cache := make(map[string]time.Duration)
	return func(p *store.Packet) time.Duration {
		if p.Kind == store.KindRemote {
			return p.VideoLength
		}
		if d, ok := cache[p.SongID]; ok {
			return d
		}
		song, ok, err := tx.SongByID(ctx, p.SongID)
		if err != nil || !ok {
			return 0
		}
		cache[p.SongID] = song.Length
		return song.Length
	}
}

func (s *Scheduler) queueLocked(ctx context.Context, viewer string) ([]QueueEntry, error) {
	packets, err := s.Store.ListPackets(ctx, s.PlayerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	finishtime.SortByFinishTime(packets)

	entries := make([]QueueEntry, len(packets))
	for i, p := range packets {
		entries[i] = QueueEntry{
			ID:          p.ID,
			Kind:        p.Kind,
			SongID:      p.SongID,
			VideoURL:    p.VideoURL,
			Title:       p.VideoTitle,
			Length:      p.VideoLength,
			User:        p.User,
			ArrivalTime: p.ArrivalTime,
			FinishTime:  p.FinishTime,
			NumVotes:    p.Weight(),
			HasVoted:    viewer != "" && p.HasVote(viewer),
		}
	}

	np, err := s.Player.NowPlaying(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if np != nil {
		for i, e := range entries {
			if !matchesEntry(np, e) {
				continue
			}
			if i == 0 {
				break
			}
			rotated := make([]QueueEntry, 0, len(entries))
			rotated = append(rotated, e)
			rotated = append(rotated, entries[:i]...)
			rotated = append(rotated, entries[i+1:]...)
			entries = rotated
			break
		}
	}
	return entries, nil
}

func matchesPacket(np *player.NowPlaying, p *store.Packet) bool {
	if np.Kind != p.Kind {
		return false
	}
	if p.Kind == store.KindLocal {
		return np.ID == p.SongID
	}
	return np.URL == p.VideoURL
}

func matchesEntry(np *player.NowPlaying, e QueueEntry) bool {
	if np.Kind != e.Kind {
		return false
	}
	if e.Kind == store.KindLocal {
		return np.ID == e.SongID
	}
	return np.URL == e.VideoURL
}

func withoutPacket(packets []*store.Packet, id string) []*store.Packet {
	out := packets[:0:0]
	for _, p := range packets {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
