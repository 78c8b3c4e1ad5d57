// Package randomselector implements the non-repeating random fallback from
// spec.md §4.4: consulted by the scheduler's advance operation whenever the
// queue is empty and a Local song is needed to keep the player busy.
package randomselector

import (
	"context"
	"math"

	"github.com/btnmasher/fairshare/internal/discardpile"
	"github.com/btnmasher/fairshare/internal/store"
)

// Selector draws Local songs from a Store while avoiding near-term repeats
// tracked in a DiscardPile. It holds no Store reference of its own: the
// caller supplies one per call so selection can run inside the scheduler's
// enclosing transaction.
type Selector struct {
	pile             *discardpile.DiscardPile
	dontRepeatFor    float64 // clamped to [0,1] at construction
	maxDontRepeatFor int     // <0 means unbounded
}

// New returns a Selector. dontRepeatFor is clamped to [0,1] here, resolving
// spec.md §9's open question in favor of the spec's stated clamp (the
// reference source left it unclamped). maxDontRepeatFor < 0 means no cap.
func New(pile *discardpile.DiscardPile, dontRepeatFor float64, maxDontRepeatFor int) *Selector {
	if dontRepeatFor < 0 {
		dontRepeatFor = 0
	} else if dontRepeatFor > 1 {
		dontRepeatFor = 1
	}
	return &Selector{
		pile:             pile,
		dontRepeatFor:    dontRepeatFor,
		maxDontRepeatFor: maxDontRepeatFor,
	}
}

// capacity computes M = min(MaxDontRepeatFor, floor(DontRepeatFor * librarySize)).
func (sel *Selector) capacity(librarySize int) int {
	if sel.dontRepeatFor == 0 {
		return 0
	}
	m := int(math.Floor(sel.dontRepeatFor * float64(librarySize)))
	if sel.maxDontRepeatFor >= 0 && sel.maxDontRepeatFor < m {
		m = sel.maxDontRepeatFor
	}
	if m < 0 {
		m = 0
	}
	return m
}

// Select draws one Local song per spec.md §4.4, or (nil, false, nil) if the
// library is empty or every candidate is currently suppressed by the
// DiscardPile. The caller (the scheduler, under its lock) is responsible
// for appending the chosen path to the pile and trimming it after play.
func (sel *Selector) Select(ctx context.Context, s store.Store) (*store.Song, bool, error) {
	paths, err := s.SongPaths(ctx)
	if err != nil {
		return nil, false, err
	}

	valid := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		valid[p] = struct{}{}
	}
	sel.pile.PurgeMissing(valid)

	m := sel.capacity(len(paths))
	if m == 0 {
		sel.pile.Clear()
		return s.RandomSong(ctx, nil)
	}

	exclude := make(map[string]struct{}, sel.pile.Len())
	for _, p := range sel.pile.Paths() {
		exclude[p] = struct{}{}
	}
	return s.RandomSong(ctx, exclude)
}

// Record appends path to the pile after a successful play and trims it to
// the current capacity given librarySize.
func (sel *Selector) Record(path string, librarySize int) {
	sel.pile.Append(path)
	sel.pile.TrimTo(sel.capacity(librarySize))
}
