// Package community manages the shared-strategy listing and the current
// user's likes on it.
package community

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/botstudio/internal/clientdata"
	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/events"
	"github.com/aristath/botstudio/internal/optimistic"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	moduleName   = "community"
	listingKey   = "all"
	fetchTimeout = 30 * time.Second
)

// Backend is the remote community API
type Backend interface {
	ListCommunity(ctx context.Context) ([]domain.SharedItem, error)
	ToggleLike(ctx context.Context, itemID string) error
	RecordDownload(ctx context.Context, itemID string) error
}

// Cache persists the last fetched listing
type Cache interface {
	Store(ctx context.Context, table, key string, data interface{}, ttl time.Duration) error
	GetIfFresh(ctx context.Context, table, key string, out interface{}) (bool, error)
	Get(ctx context.Context, table, key string, out interface{}) (bool, error)
}

// Actor is the signed-in user as seen by the credential gate
type Actor interface {
	Authenticated() bool
	NotifyExpired()
}

// Listing is a snapshot of the shared items
type Listing struct {
	Items []domain.SharedItem `json:"items"`
	Stale bool                `json:"stale"` // Served from cache after a failed fetch
}

type likeState struct {
	found bool
	liked bool
	count int
}

// Service owns the local copy of the shared-item collection
type Service struct {
	backend Backend
	cache   Cache
	actor   Actor
	events  *events.Manager
	log     zerolog.Logger

	guard *optimistic.Guard[string, likeState]
	group singleflight.Group

	mu     sync.RWMutex
	items  []domain.SharedItem
	loaded bool
	stale  bool
}

// NewService creates a community service. cache may be nil.
func NewService(backend Backend, cache Cache, actor Actor, eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		backend: backend,
		cache:   cache,
		actor:   actor,
		events:  eventManager,
		guard:   optimistic.NewGuard[string, likeState](),
		log:     log.With().Str("component", "community").Logger(),
	}
}

// Refresh fetches the authoritative listing. Concurrent calls share one
// fetch. When the fetch fails the last cached listing is served as stale.
// A caller whose ctx ends stops waiting; the shared fetch carries on for
// the others under its own timeout.
func (s *Service) Refresh(ctx context.Context) (Listing, error) {
	ch := s.group.DoChan(listingKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return Listing{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Listing{}, res.Err
		}
		return res.Val.(Listing), nil
	}
}

func (s *Service) fetch(ctx context.Context) (Listing, error) {
	items, err := s.backend.ListCommunity(ctx)
	if err != nil {
		if domain.IsAuthExpired(err) && s.actor != nil {
			s.actor.NotifyExpired()
		}
		s.log.Warn().Err(err).Msg("Failed to fetch community listing")

		var cached []domain.SharedItem
		if s.cache != nil {
			found, cacheErr := s.cache.Get(ctx, clientdata.TableCommunityListing, listingKey, &cached)
			if cacheErr != nil {
				s.log.Warn().Err(cacheErr).Msg("Failed to read cached community listing")
			}
			if found {
				s.install(cached, true)
				s.events.EmitTyped(moduleName, &events.CommunityRefreshedData{Count: len(cached), Stale: true})
				return Listing{Items: cloneItems(cached), Stale: true}, nil
			}
		}
		return Listing{}, err
	}

	s.install(items, false)
	if s.cache != nil {
		if err := s.cache.Store(ctx, clientdata.TableCommunityListing, listingKey, items, clientdata.TTLCommunityListing); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache community listing")
		}
	}
	s.events.EmitTyped(moduleName, &events.CommunityRefreshedData{Count: len(items)})
	return Listing{Items: cloneItems(items)}, nil
}

func (s *Service) install(items []domain.SharedItem, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = cloneItems(items)
	s.loaded = true
	s.stale = stale
}

// Listing returns the in-memory listing, loading it from the fresh cache or
// the backend when there is none yet or it is stale.
func (s *Service) Listing(ctx context.Context) (Listing, error) {
	s.mu.RLock()
	if s.loaded && !s.stale {
		out := Listing{Items: cloneItems(s.items)}
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	if s.cache != nil {
		var cached []domain.SharedItem
		found, err := s.cache.GetIfFresh(ctx, clientdata.TableCommunityListing, listingKey, &cached)
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to read cached community listing")
		}
		if found {
			s.install(cached, false)
			return Listing{Items: cloneItems(cached)}, nil
		}
	}
	return s.Refresh(ctx)
}

// Items returns a copy of the in-memory listing
func (s *Service) Items() []domain.SharedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.items)
}

// Item returns one item of the in-memory listing
func (s *Service) Item(itemID string) (domain.SharedItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.ID == itemID {
			return it, true
		}
	}
	return domain.SharedItem{}, false
}

// ToggleLike flips the current user's like on an item immediately and then
// confirms it with the backend. A failed call restores exactly the values
// seen before the flip. The returned item reflects the final local state.
func (s *Service) ToggleLike(ctx context.Context, itemID string) (domain.SharedItem, error) {
	if s.actor == nil || !s.actor.Authenticated() {
		return domain.SharedItem{}, domain.ErrUnauthenticated
	}
	if _, ok := s.Item(itemID); !ok {
		return domain.SharedItem{}, &domain.NotFoundError{Op: "toggle-like", Resource: "shared item " + itemID}
	}

	reverted := false
	err := s.guard.Do(ctx, itemID, optimistic.Mutation[likeState]{
		Apply: func() likeState {
			return s.flipLike(itemID)
		},
		Commit: func(ctx context.Context) error {
			return s.backend.ToggleLike(ctx, itemID)
		},
		Revert: func(prev likeState) {
			reverted = s.restoreLike(itemID, prev)
		},
		Confirm: func(ctx context.Context) {
			if _, err := s.Refresh(ctx); err != nil {
				s.log.Warn().Err(err).Str("item_id", itemID).Msg("Failed to refresh after like")
			}
		},
	})

	item, _ := s.Item(itemID)
	if err != nil {
		if domain.IsAuthExpired(err) {
			s.actor.NotifyExpired()
		}
		s.log.Warn().Err(err).Str("item_id", itemID).Bool("reverted", reverted).Msg("Like toggle failed")
		if reverted {
			s.events.EmitTyped(moduleName, &events.LikeRevertedData{
				ItemID: itemID,
				Liked:  item.LikedByCurrentUser,
				Error:  err.Error(),
			})
		}
		return item, err
	}
	return item, nil
}

func (s *Service) flipLike(itemID string) likeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		it := &s.items[i]
		if it.ID != itemID {
			continue
		}
		prev := likeState{found: true, liked: it.LikedByCurrentUser, count: it.LikeCount}
		it.LikedByCurrentUser = !it.LikedByCurrentUser
		if it.LikedByCurrentUser {
			it.LikeCount++
		} else if it.LikeCount > 0 {
			it.LikeCount--
		}
		return prev
	}
	return likeState{}
}

func (s *Service) restoreLike(itemID string, prev likeState) bool {
	if !prev.found {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items[i].LikedByCurrentUser = prev.liked
			s.items[i].LikeCount = prev.count
			return true
		}
	}
	return false
}

// RecordDownload increments the item's download counter remotely and
// refreshes the listing
func (s *Service) RecordDownload(ctx context.Context, itemID string) error {
	if err := s.backend.RecordDownload(ctx, itemID); err != nil {
		if domain.IsAuthExpired(err) && s.actor != nil {
			s.actor.NotifyExpired()
		}
		return err
	}
	if _, err := s.Refresh(ctx); err != nil {
		s.log.Warn().Err(err).Str("item_id", itemID).Msg("Failed to refresh after download")
	}
	return nil
}

func cloneItems(items []domain.SharedItem) []domain.SharedItem {
	if items == nil {
		return []domain.SharedItem{}
	}
	return append([]domain.SharedItem(nil), items...)
}

// RefreshJob refreshes the listing on a schedule
type RefreshJob struct {
	service *Service
	timeout time.Duration
}

// NewRefreshJob creates the scheduled refresh job
func NewRefreshJob(service *Service) *RefreshJob {
	return &RefreshJob{service: service, timeout: 30 * time.Second}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "community_refresh"
}

// Run fetches the listing once
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, err := j.service.Refresh(ctx)
	return err
}
