package service

import (
	"encoding/json"
	"log/slog"

	"github.com/btnmasher/safemap"

	"github.com/btnmasher/fairshare/internal/scheduler"
	"github.com/btnmasher/fairshare/internal/sse"
)

// PlayerHub pairs one Scheduler with the set of SSE clients watching its
// queue, mirroring the teacher's Lobby/Broadcast relationship but scoped
// to a player_name rather than a lobby id.
type PlayerHub struct {
	Name      string
	Scheduler *scheduler.Scheduler
	clients   safemap.SafeMap[string, *sse.Client]
	log       *slog.Logger
}

// Broadcast marshals payload and fans it out to every connected client,
// the same json.Marshal-then-Broadcast shape the teacher's
// PickNextVideo uses for video_update events.
func (h *PlayerHub) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("Failed to marshal broadcast payload", "error", err)
		return
	}
	h.log.Debug("Broadcasting", sse.EventEntry(event, string(data)))
	for c := range h.clients.Values() {
		c.Send(event, string(data))
	}
}

func (h *PlayerHub) addClient(c *sse.Client) {
	h.clients.Set(c.ID, c)
}

func (h *PlayerHub) removeClient(id string) {
	h.clients.Delete(id)
}

// Manager is the registry of PlayerHubs, one per configured player_name.
// A deployment typically registers a single hub, but the scheduler's data
// model scopes everything by player_name, so nothing prevents serving
// several independent queues from one process.
type Manager struct {
	hubs safemap.SafeMap[string, *PlayerHub]
	log  *slog.Logger
}

// NewManager returns an empty Manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		hubs: safemap.NewMutexMap[string, *PlayerHub](),
		log:  log.With("service", "manager"),
	}
}

// Register creates and stores a PlayerHub for sched.PlayerName.
func (m *Manager) Register(sched *scheduler.Scheduler) *PlayerHub {
	hub := &PlayerHub{
		Name:      sched.PlayerName,
		Scheduler: sched,
		clients:   safemap.NewMutexMap[string, *sse.Client](),
		log:       m.log.With("player", sched.PlayerName),
	}
	m.hubs.Set(sched.PlayerName, hub)
	return hub
}

// Get looks up a PlayerHub by name.
func (m *Manager) Get(name string) (*PlayerHub, bool) {
	return m.hubs.Get(name)
}
