// Package commander loads the commander profile and memory that every chat
// turn is composed from.
package commander

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/katana-portal/internal/domain"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

// Loader never fails upward: profile errors fall back to the built-in
// profile and memory errors yield no entries.
type Loader struct {
	profiles domain.ProfileSource
	memory   domain.MemoryStore
	owner    domain.AgentID
}

func NewLoader(profiles domain.ProfileSource, memory domain.MemoryStore, owner domain.AgentID) *Loader {
	if owner == "" {
		owner = domain.AgentKimi
	}
	return &Loader{profiles: profiles, memory: memory, owner: owner}
}

// LoadProfile fetches the profile fresh on every call.
func (l *Loader) LoadProfile(ctx context.Context) domain.CommanderProfile {
	log := observability.LoggerFromContext(ctx)
	if l.profiles == nil {
		return domain.FallbackProfile()
	}

	p, err := l.profiles.FetchProfile(ctx)
	if err != nil || p == nil {
		log.Warn("commander profile unavailable, using fallback", "error", err)
		return domain.FallbackProfile()
	}
	return *p
}

func (l *Loader) LoadMemory(ctx context.Context) []domain.MemoryEntry {
	if l.memory == nil {
		return []domain.MemoryEntry{}
	}

	entries, err := l.memory.ListMemory(ctx, l.owner)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("memory unavailable, continuing without it", "error", err)
		return []domain.MemoryEntry{}
	}

	out := make([]domain.MemoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	return out
}

// Context is the joined result of a parallel load.
type Context struct {
	Profile domain.CommanderProfile
	Memory  []domain.MemoryEntry
	Elapsed time.Duration
}

// Load runs LoadProfile and LoadMemory concurrently and waits for both.
func (l *Loader) Load(ctx context.Context) Context {
	start := time.Now()
	var out Context

	// Neither branch returns an error; errgroup is only the join.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.Profile = l.LoadProfile(gctx)
		return nil
	})
	g.Go(func() error {
		out.Memory = l.LoadMemory(gctx)
		return nil
	})
	_ = g.Wait()

	out.Elapsed = time.Since(start)
	return out
}
