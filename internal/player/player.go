// Package player defines the opaque playback device the scheduler drives:
// it plays one item at a time and reports when that item has ended.
package player

import (
	"context"
	"time"

	"github.com/btnmasher/fairshare/internal/store"
)

// Item is the tagged Local|Remote playable handed to Play, matching
// spec.md §9's PlayItem = Local{song_id} | Remote{url,title,length}.
type Item struct {
	Kind     store.Kind
	SongID   string
	Path     string
	VideoURL string
	Title    string
	Duration time.Duration
}

// NowPlaying identifies the item currently on the device, matched by
// (kind, key) per spec.md §9's Open Question resolution — never by
// object identity.
type NowPlaying struct {
	Kind store.Kind
	ID   string // SongID, when Kind == KindLocal
	URL  string // VideoURL, when Kind == KindRemote
}

// Player is the external device the scheduler hands items to.
type Player interface {
	Play(ctx context.Context, item Item) error
	Stop(ctx context.Context) error
	HasEnded(ctx context.Context) (bool, error)
	NowPlaying(ctx context.Context) (*NowPlaying, error)
}
