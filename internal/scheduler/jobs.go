package scheduler

import (
	"context"
	"log/slog"
)

// Sweeper reclaims expired entries. *kvstore.MemoryStore satisfies it.
type Sweeper interface {
	Sweep() int
}

// SweepJob drops expired entries from an in-process store.
func SweepJob(store Sweeper) func(context.Context) {
	return func(context.Context) {
		if n := store.Sweep(); n > 0 {
			slog.Info("expired store entries swept", "removed", n)
		}
	}
}

// StatsJob logs one snapshot per named source.
func StatsJob(sources map[string]func() any) func(context.Context) {
	return func(context.Context) {
		for name, snapshot := range sources {
			slog.Info("stats snapshot", "source", name, "stats", snapshot())
		}
	}
}
