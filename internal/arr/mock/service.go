// Package mock provides an in-memory arr.Service for tests and dry runs.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/machinarr/machinarr/internal/arr"
)

// DeleteCall records one DeleteQueueItem invocation.
type DeleteCall struct {
	QueueID int64
	Opts    arr.DeleteOptions
}

// GrabCall records one GrabRelease invocation.
type GrabCall struct {
	GUID      string
	IndexerID int64
}

// Service is a scriptable fake instance. All fields may be set directly
// before use; methods are safe for concurrent use.
type Service struct {
	mu sync.Mutex

	SourceKind   arr.Source
	InstanceName string

	Missing    []arr.ContentItem
	Upgradable []arr.ContentItem
	Items      map[int64]*arr.ContentItem
	Queue      []arr.QueueEntry
	Releases   map[int64][]arr.Release

	// Err, when set, is returned by every call.
	Err error
	// SearchErr, when set, is returned by SearchItems and SearchParent.
	SearchErr error

	ItemSearches   [][]int64
	ParentSearches []int64
	Deletes        []DeleteCall
	Grabs          []GrabCall
	Unmonitored    []int64
}

var _ arr.Service = (*Service)(nil)

// New creates an empty fake.
func New(source arr.Source, name string) *Service {
	return &Service{
		SourceKind:   source,
		InstanceName: name,
		Items:        make(map[int64]*arr.ContentItem),
		Releases:     make(map[int64][]arr.Release),
	}
}

func (s *Service) Source() arr.Source { return s.SourceKind }
func (s *Service) Name() string       { return s.InstanceName }

func (s *Service) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

func (s *Service) ListMissing(context.Context) ([]arr.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]arr.ContentItem(nil), s.Missing...), nil
}

func (s *Service) ListUpgradable(context.Context) ([]arr.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]arr.ContentItem(nil), s.Upgradable...), nil
}

func (s *Service) GetItem(_ context.Context, id int64) (*arr.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	item, ok := s.Items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, arr.ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

// SetHasFile marks an item as acquired or not.
func (s *Service) SetHasFile(id int64, hasFile bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.Items[id]
	if !ok {
		item = &arr.ContentItem{ID: id}
		s.Items[id] = item
	}
	item.HasFile = hasFile
}

func (s *Service) SearchItems(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.SearchErr != nil {
		return s.SearchErr
	}
	s.ItemSearches = append(s.ItemSearches, append([]int64(nil), ids...))
	return nil
}

func (s *Service) SearchParent(_ context.Context, parentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.SearchErr != nil {
		return s.SearchErr
	}
	s.ParentSearches = append(s.ParentSearches, parentID)
	return nil
}

func (s *Service) ListQueue(context.Context) ([]arr.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]arr.QueueEntry(nil), s.Queue...), nil
}

func (s *Service) DeleteQueueItem(_ context.Context, queueID int64, opts arr.DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Deletes = append(s.Deletes, DeleteCall{QueueID: queueID, Opts: opts})
	kept := s.Queue[:0]
	for _, q := range s.Queue {
		if q.ID != queueID {
			kept = append(kept, q)
		}
	}
	s.Queue = kept
	return nil
}

func (s *Service) ListReleases(_ context.Context, itemID int64) ([]arr.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]arr.Release(nil), s.Releases[itemID]...), nil
}

func (s *Service) GrabRelease(_ context.Context, guid string, indexerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Grabs = append(s.Grabs, GrabCall{GUID: guid, IndexerID: indexerID})
	return nil
}

func (s *Service) Unmonitor(_ context.Context, itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Unmonitored = append(s.Unmonitored, itemID)
	return nil
}

// SearchCount returns the number of search commands received.
func (s *Service) SearchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ItemSearches) + len(s.ParentSearches)
}
