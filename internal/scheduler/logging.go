package scheduler

import (
	"log/slog"

	"github.com/btnmasher/fairshare/internal/store"
)

func packetLog(p *store.Packet) slog.Attr {
	return slog.Group("packet",
		slog.String("id", p.ID),
		slog.String("kind", p.Kind.String()),
		slog.String("user", p.User),
		slog.Float64("arrival", p.ArrivalTime),
		slog.Float64("finish", p.FinishTime),
		slog.Int("weight", p.Weight()),
	)
}
