package searcher

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/machinarr/machinarr/internal/arr"
)

const gatherConcurrency = 4

type gatherResult struct {
	items []Item
	// wanted holds, per fully fetched instance, the IDs still wanted.
	wanted map[string]map[int64]bool
	errs   []string
}

// gather fetches missing and upgradable items from every instance in
// parallel. Fetches only read; all merging happens under one mutex.
func (s *Searcher) gather(ctx context.Context) *gatherResult {
	res := &gatherResult{wanted: make(map[string]map[int64]bool)}
	failed := make(map[string]bool)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gatherConcurrency)

	for _, svc := range s.services {
		for _, st := range []arr.SearchType{arr.SearchMissing, arr.SearchUpgrade} {
			g.Go(func() error {
				var (
					content []arr.ContentItem
					err     error
				)
				if st == arr.SearchMissing {
					content, err = svc.ListMissing(gctx)
				} else {
					content, err = svc.ListUpgradable(gctx)
				}

				ik := instanceKey(svc.Source(), svc.Name())
				if err != nil {
					s.logger.Warn().Err(err).
						Str("source", string(svc.Source())).
						Str("instance", svc.Name()).
						Str("searchType", string(st)).
						Msg("Failed to fetch wanted items")
					mu.Lock()
					failed[ik] = true
					res.errs = append(res.errs, fmt.Sprintf("%s %s: %v", ik, st, err))
					mu.Unlock()
					return nil
				}

				items := make([]Item, 0, len(content))
				for _, c := range content {
					tier, age := s.classifier.Classify(c.ReleaseDate)
					items = append(items, Item{
						ContentItem: c,
						Source:      svc.Source(),
						Instance:    svc.Name(),
						Tier:        tier,
						AgeDays:     age,
					})
				}

				mu.Lock()
				res.items = append(res.items, items...)
				ids := res.wanted[ik]
				if ids == nil {
					ids = make(map[int64]bool)
					res.wanted[ik] = ids
				}
				for _, it := range items {
					ids[it.ID] = true
				}
				mu.Unlock()
				return nil
			})
		}
	}

	_ = g.Wait()

	for ik := range failed {
		delete(res.wanted, ik)
	}
	return res
}
