package scheduler

import "errors"

// Error kinds surfaced to callers, from spec.md §7. All are recoverable at
// the caller boundary; the scheduler never retries them.
var (
	// ErrInvalidArgument: neither or both of song_id/video_url supplied.
	ErrInvalidArgument = errors.New("scheduler: invalid argument")
	// ErrUnsupportedSource: remote URL not on a recognized provider.
	ErrUnsupportedSource = errors.New("scheduler: unsupported source")
	// ErrLookupFailed: remote metadata fetch failed.
	ErrLookupFailed = errors.New("scheduler: lookup failed")
	// ErrNotFound: song_id does not exist, or removal target absent.
	ErrNotFound = errors.New("scheduler: not found")
	// ErrAlreadyVoted: user already has a vote (owner or additional) on
	// this packet.
	ErrAlreadyVoted = errors.New("scheduler: already voted")
	// ErrStoreFailure wraps a transient persistence-layer error. Errors
	// returned by the Player (Play, Stop, NowPlaying) are wrapped in it too.
	ErrStoreFailure = errors.New("scheduler: store failure")
)
