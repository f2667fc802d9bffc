package moderation

import (
	"context"
	"sync"

	"confessional/api/internal/tag"
)

// Observation is one source of truth's view of the next public id.
type Observation struct {
	Observer string
	Next     int
	// Seeded means the observer had no history and Next is the configured
	// seed rather than an observed value.
	Seeded bool
	Err    error
}

type sequenceObserver struct {
	name    string
	observe func(ctx context.Context, limit int) ([]int, error)
}

func (e *Engine) observers() []sequenceObserver {
	obs := []sequenceObserver{{name: "ledger", observe: e.storedIDs}}
	if e.publishLog != nil {
		obs = append(obs, sequenceObserver{name: "publish log", observe: e.publishLog.PublishedTags})
	}
	if e.publisher != nil {
		obs = append(obs, sequenceObserver{name: "publisher", observe: e.publisher.RecentPublicIDs})
	}
	return obs
}

// storedIDs merges the ledger with live approved documents that have not
// been migrated yet.
func (e *Engine) storedIDs(ctx context.Context, limit int) ([]int, error) {
	ids, err := e.ledger.RecentProcessedPublicIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	live, err := e.documents.RecentApprovedPublicIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	return append(ids, live...), nil
}

// Observe asks every observer concurrently. Each call is capped by the
// observer timeout; a failing observer reports Err and is ignored by
// NextPublicID.
func (e *Engine) Observe(ctx context.Context) []Observation {
	obs := e.observers()
	out := make([]Observation, len(obs))
	var wg sync.WaitGroup
	for i, o := range obs {
		wg.Add(1)
		go func(i int, o sequenceObserver) {
			defer wg.Done()
			octx, cancel := context.WithTimeout(ctx, e.opts.ObserverTimeout)
			defer cancel()
			ids, err := o.observe(octx, e.opts.HistoryWindow)
			out[i] = e.observation(o.name, ids, err)
		}(i, o)
	}
	wg.Wait()
	return out
}

func (e *Engine) observation(name string, ids []int, err error) Observation {
	if err != nil {
		return Observation{Observer: name, Next: e.opts.Seed, Seeded: true, Err: err}
	}
	latest, ok := tag.Latest(ids)
	if !ok {
		return Observation{Observer: name, Next: e.opts.Seed, Seeded: true}
	}
	return Observation{Observer: name, Next: tag.Wrap(latest + 1)}
}

// NextPublicID returns the next id to hand out: the most advanced of the
// observed next values, on the wrap ring. Falls back to the seed only when
// no observer has history.
func (e *Engine) NextPublicID(ctx context.Context) int {
	var candidates []int
	for _, o := range e.Observe(ctx) {
		if o.Err != nil {
			e.logger.WithError(o.Err).WithField("observer", o.Observer).Warn("sequence observer failed")
			continue
		}
		if o.Seeded {
			continue
		}
		candidates = append(candidates, o.Next)
	}
	next, ok := tag.Latest(candidates)
	if !ok {
		next = tag.Wrap(e.opts.Seed)
	}
	e.logger.WithField("public_id", next).Debug("allocated public id")
	return next
}
