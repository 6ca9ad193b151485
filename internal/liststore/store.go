// Package liststore fetches, caches and mutates the per-account media lists
// and derives the common view of a pair.
package liststore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/metrics"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/internal/reconcile"
	"github.com/d60-Lab/duowatch/internal/repository"
	"github.com/d60-Lab/duowatch/pkg/logger"
)

// Kind names a list view.
type Kind string

const (
	Mine        Kind = "mine"
	PartnerList Kind = "partnerList"
	Common      Kind = "common"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Mine, PartnerList, Common:
		return Kind(s), nil
	case "partner":
		return PartnerList, nil
	}
	return "", apperr.Invalid(fmt.Errorf("unknown list kind %q", s))
}

// DefaultFreshTTL is how long a fetched list is served without re-reading.
const DefaultFreshTTL = 5 * time.Minute

// AccountReader is the part of the account store the list store needs.
type AccountReader interface {
	Get(ctx context.Context, uid string) (*model.Account, error)
}

// Store implements fetch / add / remove with a cache keyed by (uid, kind).
//
// Every key carries a generation that Invalidate bumps. A load records the
// generation it started under and only writes the cache if it is unchanged,
// so a read racing a mutation can never re-cache pre-mutation data. Cache
// writes and deletes hold only their own key's lock.
type Store struct {
	items    repository.ListRepository
	accounts AccountReader
	cache    Cache
	ttl      time.Duration
	now      func() time.Time

	flight singleflight.Group

	mu   sync.Mutex
	keys map[Key]*keyState
}

// keyState 单个 key 的代数，mu 覆盖该 key 的缓存写入与删除
type keyState struct {
	mu  sync.Mutex
	gen uint64
}

type Option func(*Store)

func WithFreshTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(items repository.ListRepository, accounts AccountReader, cache Cache, opts ...Option) *Store {
	s := &Store{
		items:    items,
		accounts: accounts,
		cache:    cache,
		ttl:      DefaultFreshTTL,
		now:      time.Now,
		keys:     make(map[Key]*keyState),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Fetch returns the requested view for id. PartnerList and Common fail with
// apperr.ErrNoPartner when id is unpaired.
func (s *Store) Fetch(ctx context.Context, id auth.Identity, kind Kind) ([]model.MediaItem, error) {
	switch kind {
	case Mine:
		return s.cached(ctx, Key{UID: id.UID, Kind: Mine}, func(ctx context.Context) ([]model.MediaItem, error) {
			return s.load(ctx, id.UID, model.OwnershipSelf)
		})
	case PartnerList:
		return s.cached(ctx, Key{UID: id.UID, Kind: PartnerList}, func(ctx context.Context) ([]model.MediaItem, error) {
			acct, err := s.accounts.Get(ctx, id.UID)
			if err != nil {
				return nil, err
			}
			if !acct.Paired() {
				return nil, apperr.ErrNoPartner
			}
			return s.load(ctx, *acct.PartnerUID, model.OwnershipPartner)
		})
	case Common:
		partner, err := s.Fetch(ctx, id, PartnerList)
		if err != nil {
			return nil, err
		}
		mine, err := s.Fetch(ctx, id, Mine)
		if err != nil {
			return nil, err
		}
		return reconcile.Common(mine, partner), nil
	default:
		return nil, apperr.Invalid(fmt.Errorf("unknown list kind %q", kind))
	}
}

// Add stores item in id's list. An existing (id, mediaType) is reported as
// apperr.ErrConflict and left untouched.
func (s *Store) Add(ctx context.Context, id auth.Identity, item model.MediaItem) error {
	if item.ID <= 0 || !item.MediaType.Valid() {
		return apperr.Invalid(fmt.Errorf("invalid item %d/%s", item.ID, item.MediaType))
	}
	if err := s.items.Create(ctx, model.NewListItem(id.UID, item, s.now())); err != nil {
		return err
	}
	s.Invalidate(ctx, id.UID, Mine)
	return nil
}

// Remove deletes (mediaID, mediaType) from id's list, apperr.ErrNotFound if
// absent.
func (s *Store) Remove(ctx context.Context, id auth.Identity, mediaID int64, mediaType model.MediaType) error {
	if !mediaType.Valid() {
		return apperr.Invalid(fmt.Errorf("invalid media type %q", mediaType))
	}
	if err := s.items.Delete(ctx, id.UID, mediaType, mediaID); err != nil {
		return err
	}
	s.Invalidate(ctx, id.UID, Mine)
	return nil
}

// Invalidate drops the cached entry for (uid, kind). Common is derived from
// the other two and invalidates both.
func (s *Store) Invalidate(ctx context.Context, uid string, kind Kind) {
	if kind == Common {
		s.Invalidate(ctx, uid, Mine)
		s.Invalidate(ctx, uid, PartnerList)
		return
	}
	key := Key{UID: uid, Kind: kind}
	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.gen++
	s.cache.Delete(context.WithoutCancel(ctx), key)
	metrics.ListCacheInvalidations.WithLabelValues(string(kind)).Inc()
}

type loader func(ctx context.Context) ([]model.MediaItem, error)

func (s *Store) cached(ctx context.Context, key Key, load loader) ([]model.MediaItem, error) {
	if e, ok := s.cache.Get(ctx, key); ok && !IsStale(e, s.now()) {
		metrics.ListCacheHits.WithLabelValues(string(key.Kind)).Inc()
		return clone(e.Items), nil
	}
	metrics.ListCacheMisses.WithLabelValues(string(key.Kind)).Inc()

	gen := s.generation(key)
	// 共享加载不随单个调用方取消，放弃的调用方直接返回
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		items, err := load(shared)
		if err != nil {
			return nil, err
		}
		s.storeIfCurrent(shared, key, gen, items)
		return items, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]model.MediaItem)), nil
	}
}

// state 返回 key 的状态，从不删除，否则代数会被重置
func (s *Store) state(key Key) *keyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.keys[key]
	if !ok {
		st = &keyState{}
		s.keys[key] = st
	}
	return st
}

func (s *Store) generation(key Key) uint64 {
	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen
}

func (s *Store) storeIfCurrent(ctx context.Context, key Key, gen uint64, items []model.MediaItem) {
	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		metrics.ListLoadsDiscarded.WithLabelValues(string(key.Kind)).Inc()
		logger.Debug("list load discarded after invalidation", zap.String("key", key.String()))
		return
	}
	s.cache.Set(ctx, key, &Entry{Items: items, FetchedAt: s.now(), TTL: s.ttl})
}

// load reads both subcollections of uid, movies first.
func (s *Store) load(ctx context.Context, uid string, owner model.Ownership) ([]model.MediaItem, error) {
	out := make([]model.MediaItem, 0)
	for _, mt := range []model.MediaType{model.MediaTypeMovie, model.MediaTypeTV} {
		rows, err := s.items.ListByType(ctx, uid, mt)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r.ToMediaItem(owner))
		}
	}
	return out, nil
}

func clone(items []model.MediaItem) []model.MediaItem {
	out := make([]model.MediaItem, len(items))
	copy(out, items)
	return out
}
