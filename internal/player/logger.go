package player

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Logger is a reference Player that does not touch real playback hardware:
// it logs transitions and reports "ended" once the submitted item's
// Duration has elapsed. It stands in for the real device the same way
// spec.md §1 treats the media player as an external collaborator —
// useful for demos and for exercising the Ticker without a real device.
type Logger struct {
	mu      sync.Mutex
	log     *slog.Logger
	current *NowPlaying
	endsAt  time.Time
	stopped bool
}

// NewLogger returns a Logger-backed Player.
func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log.With("service", "player")}
}

func (l *Logger) Play(_ context.Context, item Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	np := &NowPlaying{Kind: item.Kind, ID: item.SongID, URL: item.VideoURL}
	l.current = np
	l.endsAt = time.Now().Add(item.Duration)
	l.stopped = false

	l.log.Info("Now playing",
		slog.String("kind", item.Kind.String()),
		slog.String("title", item.Title),
		slog.Duration("duration", item.Duration))
	return nil
}

func (l *Logger) Stop(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		l.log.Debug("Stopping playback")
	}
	l.current = nil
	l.stopped = true
	return nil
}

func (l *Logger) HasEnded(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil || l.stopped {
		return true, nil
	}
	return !time.Now().Before(l.endsAt), nil
}

func (l *Logger) NowPlaying(_ context.Context) (*NowPlaying, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		return nil, nil
	}
	np := *l.current
	return &np, nil
}
