package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/btnmasher/fairshare/internal/scheduler"
	"github.com/btnmasher/fairshare/internal/sse"
)

type queueEntryView struct {
	ID            string  `json:"id"`
	Kind          string  `json:"kind"`
	SongID        string  `json:"song_id,omitempty"`
	VideoURL      string  `json:"video_url,omitempty"`
	Title         string  `json:"title,omitempty"`
	LengthSeconds float64 `json:"length_seconds"`
	User          string  `json:"user"`
	ArrivalTime   float64 `json:"arrival_time"`
	FinishTime    float64 `json:"finish_time"`
	NumVotes      int     `json:"num_votes"`
	HasVoted      bool    `json:"has_voted"`
}

func renderQueue(entries []scheduler.QueueEntry) []queueEntryView {
	out := make([]queueEntryView, len(entries))
	for i, e := range entries {
		out[i] = queueEntryView{
			ID:            e.ID,
			Kind:          e.Kind.String(),
			SongID:        e.SongID,
			VideoURL:      e.VideoURL,
			Title:         e.Title,
			LengthSeconds: e.Length.Seconds(),
			User:          e.User,
			ArrivalTime:   e.ArrivalTime,
			FinishTime:    e.FinishTime,
			NumVotes:      e.NumVotes,
			HasVoted:      e.HasVoted,
		}
	}
	return out
}

func hubFromRequest(w http.ResponseWriter, r *http.Request) (*PlayerHub, bool) {
	name := chi.URLParam(r, "name")
	hub, ok := mustGetManager(r).Get(name)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown player %q", name), http.StatusNotFound)
		return nil, false
	}
	return hub, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSchedulerError maps the typed error taxonomy from spec.md §7 onto
// HTTP status codes.
func writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, scheduler.ErrUnsupportedSource):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, scheduler.ErrLookupFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, scheduler.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, scheduler.ErrAlreadyVoted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func HandleQueue(w http.ResponseWriter, r *http.Request) {
	hub, ok := hubFromRequest(w, r)
	if !ok {
		return
	}
	viewer := r.URL.Query().Get("user")
	entries, err := hub.Scheduler.Queue(r.Context(), viewer)
	if err != nil {
		mustGetLogger(r).Error("Queue failed", "error", err)
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderQueue(entries))
}

type voteRequest struct {
	User     string `json:"user"`
	SongID   string `json:"song_id"`
	VideoURL string `json:"video_url"`
}

func HandleVote(w http.ResponseWriter, r *http.Request) {
	hub, ok := hubFromRequest(w, r)
	if !ok {
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	entries, err := hub.Scheduler.Vote(r.Context(), req.User, req.SongID, req.VideoURL)
	if err != nil {
		mustGetLogger(r).Warn("Vote rejected", "error", err, "user", req.User)
		writeSchedulerError(w, err)
		return
	}

	rendered := renderQueue(entries)
	hub.Broadcast("queue_updated", rendered)
	writeJSON(w, http.StatusOK, rendered)
}

type removeRequest struct {
	SongID   string `json:"song_id"`
	VideoURL string `json:"video_url"`
	Skip     bool   `json:"skip"`
}

func HandleRemove(w http.ResponseWriter, r *http.Request) {
	hub, ok := hubFromRequest(w, r)
	if !ok {
		return
	}

	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entries, err := hub.Scheduler.Remove(r.Context(), req.SongID, req.VideoURL, req.Skip)
	if err != nil {
		mustGetLogger(r).Warn("Remove rejected", "error", err)
		writeSchedulerError(w, err)
		return
	}

	rendered := renderQueue(entries)
	hub.Broadcast("queue_updated", rendered)
	writeJSON(w, http.StatusOK, rendered)
}

func HandleClear(w http.ResponseWriter, r *http.Request) {
	hub, ok := hubFromRequest(w, r)
	if !ok {
		return
	}

	entries, err := hub.Scheduler.Clear(r.Context())
	if err != nil {
		mustGetLogger(r).Error("Clear failed", "error", err)
		writeSchedulerError(w, err)
		return
	}

	rendered := renderQueue(entries)
	hub.Broadcast("queue_updated", rendered)
	writeJSON(w, http.StatusOK, rendered)
}

// HandleSSE streams queue_updated events to one subscriber, adapted from
// the teacher's event-source handler: same ResponseController flush
// pattern and keep-alive ticker, registered against a PlayerHub instead
// of a Lobby.
func HandleSSE(w http.ResponseWriter, r *http.Request) {
	log := mustGetLogger(r).With("service", "event-source")

	hub, ok := hubFromRequest(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Type")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	clientID := uuid.NewString()
	client := &sse.Client{
		ID:      clientID,
		Writer:  w,
		Flusher: rc,
		Context: ctx,
		Cancel:  cancel,
		Log:     log.With("clientID", clientID),
	}

	hub.addClient(client)
	defer hub.removeClient(clientID)

	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Error("Flush error", "error", err)
		return
	}

	entries, err := hub.Scheduler.Queue(r.Context(), "")
	if err == nil {
		if data, err := json.Marshal(renderQueue(entries)); err == nil {
			client.Send("queue_updated", string(data))
		}
	}

	log.Info("SSE connection started", "player", hub.Name)

	heartbeat := time.NewTicker(60 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-heartbeat.C:
			fmt.Fprintf(w, ": ping %d\n\n", t.Unix())
			if err := rc.Flush(); err != nil {
				log.Error("Flush error", "error", err)
				return
			}
		}
	}
}
