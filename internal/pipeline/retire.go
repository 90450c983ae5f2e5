package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// RetireOutcome records one best-effort stop of a prior release container.
type RetireOutcome struct {
	ID   string
	Name string
	Err  error
}

// RetireOld stops release containers of the same application created
// before the newly started container. Stops are best-effort: a stale
// container left running is a degraded state, not a fatal error, and
// one failure does not prevent the others from being stopped.
//
// There is no health-check gate beyond the port confirmation done at
// deploy time; retirement happens immediately after it.
func (p *Pipeline) RetireOld(ctx context.Context, app, newID string) []RetireOutcome {
	newInfo, err := p.rt.ContainerInspect(ctx, newID)
	if err != nil {
		slog.Warn("Failed to inspect new release container, skipping retirement.", "app", app, "err", err)
		return nil
	}

	containers, err := p.rt.ContainerList(ctx, map[string]string{LabelApp: app})
	if err != nil {
		slog.Warn("Failed to list release containers, skipping retirement.", "app", app, "err", err)
		return nil
	}

	var prior []ContainerSummary
	for _, c := range containers {
		if c.ID == newID {
			continue
		}
		if !c.Created.Before(newInfo.Created) {
			continue
		}
		prior = append(prior, c)
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].Created.Before(prior[j].Created) })

	out := make([]RetireOutcome, 0, len(prior))
	for _, c := range prior {
		outcome := RetireOutcome{ID: c.ID, Name: c.Name}
		if err := p.rt.ContainerStop(ctx, c.ID); err != nil {
			outcome.Err = fmt.Errorf("stop container %s: %w", c.ID, err)
		}
		out = append(out, outcome)
	}
	return out
}
