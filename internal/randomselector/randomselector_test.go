package randomselector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btnmasher/fairshare/internal/discardpile"
	"github.com/btnmasher/fairshare/internal/store"
)

func TestCapacityComputation(t *testing.T) {
	sel := New(discardpile.New(), 0.75, -1)
	assert.Equal(t, 3, sel.capacity(4))
}

func TestCapacityRespectsHardCap(t *testing.T) {
	sel := New(discardpile.New(), 0.75, 1)
	assert.Equal(t, 1, sel.capacity(4), "hard cap")
}

func TestDontRepeatForClampedToUnitInterval(t *testing.T) {
	sel := New(discardpile.New(), 5.0, -1)
	assert.Equal(t, 1.0, sel.dontRepeatFor, "clamped to 1")
}

func TestZeroDontRepeatForDisablesPile(t *testing.T) {
	s := store.NewMemory()
	s.SeedSongs(&store.Song{ID: "a", Path: "a.mp3"})
	pile := discardpile.New()
	sel := New(pile, 0, -1)

	_, ok, err := sel.Select(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, ok)

	sel.Record("a.mp3", 1)
	assert.Equal(t, 0, pile.Len(), "a zero DontRepeatFor should keep nothing in the discard pile")
}

// TestS4RandomFallbackRepeatPrevention mirrors spec.md scenario S4: library
// {A,B,C,D}, DONT_REPEAT_FOR=0.75 so M=3. A cannot be picked again until
// three other distinct picks have pushed it out of the pile.
func TestS4RandomFallbackRepeatPrevention(t *testing.T) {
	s := store.NewMemory()
	s.SeedSongs(
		&store.Song{ID: "A", Path: "A"},
		&store.Song{ID: "B", Path: "B"},
		&store.Song{ID: "C", Path: "C"},
		&store.Song{ID: "D", Path: "D"},
	)
	pile := discardpile.New()
	sel := New(pile, 0.75, -1)

	ctx := context.Background()
	picks := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		song, ok, err := sel.Select(ctx, s)
		require.NoError(t, err, "pick %d", i)
		require.True(t, ok, "pick %d", i)
		assert.False(t, pile.Contains(song.Path), "pick %d: %q was still in the discard pile", i, song.Path)
		sel.Record(song.Path, 4)
		picks = append(picks, song.Path)
	}

	seen := map[string]int{}
	for _, p := range picks {
		seen[p]++
	}
	assert.Len(t, seen, 4, "expected 4 distinct picks with M=3 excluding the pile, got %v", picks)

	assert.Equal(t, 3, pile.Len())
	assert.False(t, pile.Contains(picks[0]), "first pick %q should have been evicted after 3 subsequent picks", picks[0])
}
